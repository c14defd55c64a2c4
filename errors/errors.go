package errors

import (
	"strconv"

	"github.com/cedrusdb/pgwire/codes"
)

// Error contains all Postgres wire protocol error fields.
// See https://www.postgresql.org/docs/current/static/protocol-error-fields.html
// for a list of all Postgres error fields, most of which are optional and can
// be used to provide auxiliary error information.
type Error struct {
	Code           codes.Code
	Message        string
	Detail         string
	Hint           string
	Severity       Severity
	ConstraintName string
	Source         *Source
}

func (err Error) Error() string {
	return err.Message
}

// Source represents whenever possible the source of a given error.
type Source struct {
	File     string
	Line     int32
	Function string
}

// Flatten returns a flattened error which could be used to construct Postgres
// wire error messages.
func Flatten(err error) Error {
	if err == nil {
		return Error{
			Code:     codes.Internal,
			Message:  "unknown error, an internal process attempted to throw an error",
			Severity: LevelFatal,
		}
	}

	result := Error{
		Code:           GetCode(err),
		Message:        err.Error(),
		Detail:         GetDetail(err),
		Hint:           GetHint(err),
		Severity:       DefaultSeverity(GetSeverity(err)),
		ConstraintName: GetConstraintName(err),
		Source:         GetSource(err),
	}

	return result
}

// errFieldType identifies a single field inside a wire ErrorResponse or
// NoticeResponse payload.
// http://www.postgresql.org/docs/current/static/protocol-error-fields.html
type errFieldType byte

const (
	errFieldSeverity       errFieldType = 'S'
	errFieldSQLState       errFieldType = 'C'
	errFieldMsgPrimary     errFieldType = 'M'
	errFieldDetail         errFieldType = 'D'
	errFieldHint           errFieldType = 'H'
	errFieldSrcFile        errFieldType = 'F'
	errFieldSrcLine        errFieldType = 'L'
	errFieldSrcFunction    errFieldType = 'R'
	errFieldConstraintName errFieldType = 'n'
)

// FromFields is the inverse of Flatten: it turns the raw field map decoded
// from an ErrorResponse or NoticeResponse payload into a structured Error.
// Unknown field types are ignored; the backend is free to send fields this
// driver does not recognize.
func FromFields(fields map[byte]string) Error {
	result := Error{
		Code:     codes.Code(fields[byte(errFieldSQLState)]),
		Message:  fields[byte(errFieldMsgPrimary)],
		Detail:   fields[byte(errFieldDetail)],
		Hint:     fields[byte(errFieldHint)],
		Severity: Severity(fields[byte(errFieldSeverity)]),
	}

	if name, ok := fields[byte(errFieldConstraintName)]; ok {
		result.ConstraintName = name
	}

	file, hasFile := fields[byte(errFieldSrcFile)]
	fn, hasFn := fields[byte(errFieldSrcFunction)]
	line, hasLine := fields[byte(errFieldSrcLine)]
	if hasFile || hasFn || hasLine {
		result.Source = &Source{File: file, Function: fn}
		if n, err := strconv.ParseInt(line, 10, 32); err == nil {
			result.Source.Line = int32(n)
		}
	}

	return result
}
