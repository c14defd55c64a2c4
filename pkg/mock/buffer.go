package mock

import (
	"bytes"
	"io"
	"testing"

	"github.com/cedrusdb/pgwire/pkg/buffer"
	"github.com/cedrusdb/pgwire/pkg/types"
	"go.uber.org/zap/zaptest"
)

// NewWriter constructs a new PostgreSQL wire protocol writer used to build
// backend (server) messages for feeding into a driver under test.
func NewWriter(t *testing.T, writer io.Writer) *Writer {
	t.Helper()
	return &Writer{buffer.NewWriter(zaptest.NewLogger(t), writer)}
}

// Writer represents a low level backend message writer. This implementation
// is mainly used for mocking/testing purposes, allowing a test to pretend to
// be a Postgres backend.
type Writer struct {
	*buffer.Writer
}

// Start resets the buffer writer and starts a new message tagged with the
// given server message type.
func (w *Writer) Start(t types.ServerMessage) {
	w.Writer.Start(types.ClientMessage(t))
}

// NewReader constructs a new PostgreSQL wire protocol reader using the
// default buffer size, used to inspect the messages a driver under test
// wrote towards the backend.
func NewReader(t *testing.T, reader io.Reader) *Reader {
	t.Helper()
	return &Reader{buffer.NewReader(zaptest.NewLogger(t), reader, buffer.DefaultBufferSize)}
}

// Reader represents a low level client message reader allowing a test to
// inspect messages written by a driver under test.
type Reader struct {
	*buffer.Reader
}

// ReadTypedMsg reads a message from the provided reader, returning its
// client message type code and body length.
func (r *Reader) ReadTypedMsg() (types.ClientMessage, int, error) {
	t, l, err := r.Reader.ReadTypedMsg()
	return types.ClientMessage(t), l, err
}

// Backend buffers a sequence of backend messages in their wire
// representation, ready to be handed to a driver's reader inside a test.
type Backend struct {
	buf *bytes.Buffer
	w   *Writer
}

// NewBackend constructs an empty Backend message sequence builder.
func NewBackend(t *testing.T) *Backend {
	t.Helper()
	buf := &bytes.Buffer{}
	return &Backend{buf: buf, w: NewWriter(t, buf)}
}

// Reader returns a buffer.Reader over the bytes accumulated so far, ready to
// be passed to driver-internal decoding logic under test.
func (b *Backend) Reader(t *testing.T) *buffer.Reader {
	t.Helper()
	return buffer.NewReader(zaptest.NewLogger(t), bytes.NewReader(b.buf.Bytes()), buffer.DefaultBufferSize)
}

// Bytes returns the raw accumulated wire bytes.
func (b *Backend) Bytes() []byte {
	return b.buf.Bytes()
}

func (b *Backend) end(t *testing.T) {
	t.Helper()
	if err := b.w.End(); err != nil {
		t.Fatalf("failed to write mock backend message: %v", err)
	}
}

// AuthenticationOk appends an AuthenticationOk message.
func (b *Backend) AuthenticationOk(t *testing.T) *Backend {
	t.Helper()
	b.w.Start(types.ServerAuth)
	b.w.AddInt32(0)
	b.end(t)
	return b
}

// AuthenticationCleartextPassword appends an AuthenticationCleartextPassword message.
func (b *Backend) AuthenticationCleartextPassword(t *testing.T) *Backend {
	t.Helper()
	b.w.Start(types.ServerAuth)
	b.w.AddInt32(3)
	b.end(t)
	return b
}

// AuthenticationMD5Password appends an AuthenticationMD5Password message
// carrying the given 4-byte salt.
func (b *Backend) AuthenticationMD5Password(t *testing.T, salt [4]byte) *Backend {
	t.Helper()
	b.w.Start(types.ServerAuth)
	b.w.AddInt32(5)
	b.w.AddBytes(salt[:])
	b.end(t)
	return b
}

// AuthenticationUnsupported appends an AuthenticationGSS (unsupported)
// request, used to exercise the driver's rejection path for auth methods it
// does not implement.
func (b *Backend) AuthenticationUnsupported(t *testing.T) *Backend {
	t.Helper()
	b.w.Start(types.ServerAuth)
	b.w.AddInt32(7) // AuthenticationGSS
	b.end(t)
	return b
}

// ParameterStatus appends a ParameterStatus message.
func (b *Backend) ParameterStatus(t *testing.T, name, value string) *Backend {
	t.Helper()
	b.w.Start(types.ServerParameterStatus)
	b.w.AddString(name)
	b.w.AddNullTerminate()
	b.w.AddString(value)
	b.w.AddNullTerminate()
	b.end(t)
	return b
}

// BackendKeyData appends a BackendKeyData message.
func (b *Backend) BackendKeyData(t *testing.T, processID, secretKey int32) *Backend {
	t.Helper()
	b.w.Start(types.ServerBackendKeyData)
	b.w.AddInt32(processID)
	b.w.AddInt32(secretKey)
	b.end(t)
	return b
}

// ReadyForQuery appends a ReadyForQuery message with the given transaction
// status byte ('I' idle, 'T' in transaction, 'E' failed transaction).
func (b *Backend) ReadyForQuery(t *testing.T, status byte) *Backend {
	t.Helper()
	b.w.Start(types.ServerReady)
	b.w.AddByte(status)
	b.end(t)
	return b
}

// ParseComplete appends a ParseComplete message.
func (b *Backend) ParseComplete(t *testing.T) *Backend {
	t.Helper()
	b.w.Start(types.ServerParseComplete)
	b.end(t)
	return b
}

// BindComplete appends a BindComplete message.
func (b *Backend) BindComplete(t *testing.T) *Backend {
	t.Helper()
	b.w.Start(types.ServerBindComplete)
	b.end(t)
	return b
}

// CloseComplete appends a CloseComplete message.
func (b *Backend) CloseComplete(t *testing.T) *Backend {
	t.Helper()
	b.w.Start(types.ServerCloseComplete)
	b.end(t)
	return b
}

// NoData appends a NoData message.
func (b *Backend) NoData(t *testing.T) *Backend {
	t.Helper()
	b.w.Start(types.ServerNoData)
	b.end(t)
	return b
}

// EmptyQueryResponse appends an EmptyQueryResponse message.
func (b *Backend) EmptyQueryResponse(t *testing.T) *Backend {
	t.Helper()
	b.w.Start(types.ServerEmptyQuery)
	b.end(t)
	return b
}

// PortalSuspended appends a PortalSuspended message.
func (b *Backend) PortalSuspended(t *testing.T) *Backend {
	t.Helper()
	b.w.Start(types.ServerPortalSuspended)
	b.end(t)
	return b
}

// MockColumn describes a single RowDescription field for test construction.
type MockColumn struct {
	Name         string
	TableOID     int32
	ColumnNumber int16
	DataTypeOID  int32
	DataTypeSize int16
	TypeModifier int32
	Format       int16
}

// RowDescription appends a RowDescription message describing the given columns.
func (b *Backend) RowDescription(t *testing.T, columns ...MockColumn) *Backend {
	t.Helper()
	b.w.Start(types.ServerRowDescription)
	b.w.AddInt16(int16(len(columns)))
	for _, col := range columns {
		b.w.AddString(col.Name)
		b.w.AddNullTerminate()
		b.w.AddInt32(col.TableOID)
		b.w.AddInt16(col.ColumnNumber)
		b.w.AddInt32(col.DataTypeOID)
		b.w.AddInt16(col.DataTypeSize)
		b.w.AddInt32(col.TypeModifier)
		b.w.AddInt16(col.Format)
	}
	b.end(t)
	return b
}

// DataRow appends a DataRow message. A nil entry in values encodes a SQL NULL.
func (b *Backend) DataRow(t *testing.T, values ...[]byte) *Backend {
	t.Helper()
	b.w.Start(types.ServerDataRow)
	b.w.AddInt16(int16(len(values)))
	for _, v := range values {
		if v == nil {
			b.w.AddInt32(-1)
			continue
		}

		b.w.AddInt32(int32(len(v)))
		b.w.AddBytes(v)
	}
	b.end(t)
	return b
}

// CommandComplete appends a CommandComplete message carrying the given tag.
func (b *Backend) CommandComplete(t *testing.T, tag string) *Backend {
	t.Helper()
	b.w.Start(types.ServerCommandComplete)
	b.w.AddString(tag)
	b.w.AddNullTerminate()
	b.end(t)
	return b
}

// ErrorResponse appends an ErrorResponse message built from the given field map.
func (b *Backend) ErrorResponse(t *testing.T, fields map[byte]string) *Backend {
	t.Helper()
	b.writeFields(types.ServerErrorResponse, fields)
	b.end(t)
	return b
}

// NoticeResponse appends a NoticeResponse message built from the given field map.
func (b *Backend) NoticeResponse(t *testing.T, fields map[byte]string) *Backend {
	t.Helper()
	b.writeFields(types.ServerNoticeResponse, fields)
	b.end(t)
	return b
}

func (b *Backend) writeFields(tag types.ServerMessage, fields map[byte]string) {
	b.w.Start(tag)
	for k, v := range fields {
		b.w.AddByte(k)
		b.w.AddString(v)
		b.w.AddNullTerminate()
	}
	b.w.AddByte(0)
}

// NotificationResponse appends a NotificationResponse message.
func (b *Backend) NotificationResponse(t *testing.T, processID int32, channel, payload string) *Backend {
	t.Helper()
	b.w.Start(types.ServerNotification)
	b.w.AddInt32(processID)
	b.w.AddString(channel)
	b.w.AddNullTerminate()
	b.w.AddString(payload)
	b.w.AddNullTerminate()
	b.end(t)
	return b
}
