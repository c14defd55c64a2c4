package pgwire

import (
	"encoding/binary"
	"fmt"
	"math"
	"reflect"
	"time"

	"github.com/cedrusdb/pgwire/pkg/buffer"
	"github.com/jackc/pgtype"
)

// postgresEpoch is the zero point ("2000-01-01") both timestamp wire
// formats count from.
var postgresEpoch = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)

// decodeColumns reads a RowDescription body into a slice of
// ColumnDescription, in the order the backend reported them.
// https://www.postgresql.org/docs/current/protocol-message-formats.html
func decodeColumns(reader *buffer.Reader) ([]ColumnDescription, error) {
	count, err := reader.GetUint16()
	if err != nil {
		return nil, err
	}

	columns := make([]ColumnDescription, count)
	for i := range columns {
		name, err := reader.GetString()
		if err != nil {
			return nil, err
		}

		tableOID, err := reader.GetUint32()
		if err != nil {
			return nil, err
		}

		columnNumber, err := reader.GetInt16()
		if err != nil {
			return nil, err
		}

		typeOID, err := reader.GetUint32()
		if err != nil {
			return nil, err
		}

		typeSize, err := reader.GetInt16()
		if err != nil {
			return nil, err
		}

		typeModifier, err := reader.GetInt32()
		if err != nil {
			return nil, err
		}

		format, err := reader.GetInt16()
		if err != nil {
			return nil, err
		}

		columns[i] = ColumnDescription{
			Name:         name,
			TableOID:     tableOID,
			ColumnNumber: columnNumber,
			TypeOID:      typeOID,
			TypeSize:     typeSize,
			TypeModifier: typeModifier,
			Format:       FormatCode(format),
		}
	}

	return columns, nil
}

// decodeParameterTypes reads a ParameterDescription body into an ordered
// list of type oids.
func decodeParameterTypes(reader *buffer.Reader) ([]uint32, error) {
	count, err := reader.GetUint16()
	if err != nil {
		return nil, err
	}

	types := make([]uint32, count)
	for i := range types {
		oid, err := reader.GetUint32()
		if err != nil {
			return nil, err
		}

		types[i] = oid
	}

	return types, nil
}

// decodeRow reads one DataRow body into a slice of native Go values, one
// per column, decoded through the type registry selected for this
// connection. An oid with no registered codec falls through to the raw
// bytes rather than being silently dropped.
func decodeRow(reader *buffer.Reader, columns []ColumnDescription, ci *pgtype.ConnInfo, mode DatetimeMode) ([]any, error) {
	count, err := reader.GetUint16()
	if err != nil {
		return nil, err
	}

	if int(count) != len(columns) {
		return nil, fmt.Errorf("data row carries %d values but %d columns were described", count, len(columns))
	}

	values := make([]any, count)
	for i := range values {
		length, err := reader.GetInt32()
		if err != nil {
			return nil, err
		}

		raw, err := reader.GetBytes(int(length))
		if err != nil {
			return nil, err
		}

		values[i], err = decodeValue(ci, columns[i], raw, length < 0, mode)
		if err != nil {
			return nil, err
		}
	}

	return values, nil
}

func decodeValue(ci *pgtype.ConnInfo, column ColumnDescription, raw []byte, isNull bool, mode DatetimeMode) (any, error) {
	if isNull {
		return nil, nil
	}

	if mode == DatetimeFloat && column.Format == BinaryFormat && isTimestampOID(column.TypeOID) {
		return decodeLegacyTimestamp(raw)
	}

	dt, ok := ci.DataTypeForOID(column.TypeOID)
	if !ok {
		// No codec registered for this oid: return the raw wire bytes
		// rather than dropping the value.
		return raw, nil
	}

	value := reflect.New(reflect.TypeOf(dt.Value).Elem()).Interface().(pgtype.Value)

	var err error
	if column.Format == BinaryFormat {
		decoder, ok := value.(pgtype.BinaryDecoder)
		if !ok {
			return raw, nil
		}

		err = decoder.DecodeBinary(ci, raw)
	} else {
		decoder, ok := value.(pgtype.TextDecoder)
		if !ok {
			return raw, nil
		}

		err = decoder.DecodeText(ci, raw)
	}

	if err != nil {
		return nil, err
	}

	return value.Get(), nil
}

func isTimestampOID(oid uint32) bool {
	return oid == pgtype.TimestampOID || oid == pgtype.TimestamptzOID
}

// decodeLegacyTimestamp decodes a binary timestamp/timestamptz value built
// with integer_datetimes=off: a float64 count of seconds since the Postgres
// epoch, rather than the int64-microseconds format pgtype.Timestamp assumes.
func decodeLegacyTimestamp(raw []byte) (time.Time, error) {
	if len(raw) != 8 {
		return time.Time{}, fmt.Errorf("invalid length for legacy timestamp: %d", len(raw))
	}

	seconds := math.Float64frombits(binary.BigEndian.Uint64(raw))
	whole := math.Trunc(seconds)
	frac := seconds - whole

	return postgresEpoch.Add(time.Duration(whole) * time.Second).Add(time.Duration(frac * float64(time.Second))), nil
}
