package buffer

import "math"

//go:generate stringer -type=ErrFieldType

// ErrFieldType identifies a single field inside an ErrorResponse or
// NoticeResponse payload sent by the backend.
type ErrFieldType byte

// http://www.postgresql.org/docs/current/static/protocol-error-fields.html
const (
	ErrFieldSeverity       ErrFieldType = 'S'
	ErrFieldSQLState       ErrFieldType = 'C'
	ErrFieldMsgPrimary     ErrFieldType = 'M'
	ErrFieldDetail         ErrFieldType = 'D'
	ErrFieldHint           ErrFieldType = 'H'
	ErrFieldSrcFile        ErrFieldType = 'F'
	ErrFieldSrcLine        ErrFieldType = 'L'
	ErrFieldSrcFunction    ErrFieldType = 'R'
	ErrFieldConstraintName ErrFieldType = 'n'
)

//go:generate stringer -type=PrepareType

// PrepareType represents a subtype for Describe/Close messages, selecting
// between a named statement and a named portal.
type PrepareType byte

const (
	// PrepareStatement represents a prepared statement.
	PrepareStatement PrepareType = 'S'
	// PreparePortal represents a portal.
	PreparePortal PrepareType = 'P'
)

// MaxPreparedStatementArgs is the maximum number of arguments a prepared
// statement can have when prepared via the Postgres wire protocol. This is not
// documented by Postgres, but is a consequence of the fact that a 16-bit
// integer in the wire format is used to indicate the number of values to bind
// during prepared statement execution.
const MaxPreparedStatementArgs = math.MaxUint16
