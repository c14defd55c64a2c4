package pgwire

import "github.com/lib/pq/oid"

// ColumnDescription describes a single result column as reported by a
// RowDescription message, annotated with the wire format this driver
// requested for it.
// https://www.postgresql.org/docs/current/protocol-message-formats.html
type ColumnDescription struct {
	Name         string
	TableOID     uint32
	ColumnNumber int16
	TypeOID      uint32
	TypeSize     int16
	TypeModifier int32
	Format       FormatCode
}

// Statement is the descriptor returned by Parse and DescribeStatement: the
// prepared statement's name, its declared parameter types, and the columns
// its result set carries (empty for statements that return no rows).
type Statement struct {
	Name           string
	ParameterTypes []uint32
	Columns        []ColumnDescription
}

// FormatCode selects between the text and binary wire encodings of a value.
type FormatCode int16

const (
	// TextFormat is PostgreSQL's default, human-readable encoding.
	TextFormat FormatCode = 0
	// BinaryFormat is the type-specific binary encoding.
	BinaryFormat FormatCode = 1
)

// preferredFormat returns the wire format this driver requests for a column
// of the given type oid when describing a statement. Well-known scalar
// types round-trip losslessly through pgtype's binary codecs, so binary is
// preferred for them; everything else defaults to text, matching a
// conservative policy for oids the registry may not have a binary codec for.
func preferredFormat(typeOID uint32) FormatCode {
	switch oid.Oid(typeOID) {
	case oid.T_bool, oid.T_int2, oid.T_int4, oid.T_int8, oid.T_float4, oid.T_float8,
		oid.T_timestamp, oid.T_timestamptz, oid.T_date, oid.T_uuid, oid.T_bytea:
		return BinaryFormat
	default:
		return TextFormat
	}
}

func annotateColumns(columns []ColumnDescription) []ColumnDescription {
	for i := range columns {
		columns[i].Format = preferredFormat(columns[i].TypeOID)
	}

	return columns
}
