package pgwire

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/cedrusdb/pgwire/pkg/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// dial spins up an in-memory net.Pipe transport, runs serve against the
// server half on its own goroutine, and drives the client half through
// handshake. It mirrors the split the teacher draws between NewServer and
// Serve(conn): handshake is the unit under test, Dial's real net.Dialer
// just supplies the transport in production.
func dial(t *testing.T, serve func(t *testing.T, server net.Conn)) *Conn {
	t.Helper()

	client, server := net.Pipe()
	go func() {
		defer server.Close()
		serve(t, server)
	}()

	options := defaultDialOptions()
	options.Database = "testdb"
	options.Logger = zaptest.NewLogger(t)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	conn, err := handshake(ctx, client, "test.invalid:5432", "tester", "secret", options)
	require.NoError(t, err)

	t.Cleanup(func() { conn.Close() })
	return conn
}

func readStartupPacket(t *testing.T, server net.Conn) {
	t.Helper()
	r := mock.NewReader(t, server)
	_, err := r.ReadUntypedMsg()
	require.NoError(t, err)
}

func basicHandshake(t *testing.T, server net.Conn) {
	t.Helper()
	readStartupPacket(t, server)

	b := mock.NewBackend(t).
		AuthenticationOk(t).
		ParameterStatus(t, "server_version", "15.2").
		BackendKeyData(t, 4242, 99).
		ReadyForQuery(t, 'I')

	_, err := server.Write(b.Bytes())
	require.NoError(t, err)
}

func TestDialCompletesHandshake(t *testing.T) {
	conn := dial(t, basicHandshake)

	value, ok := conn.GetParameter("server_version")
	require.True(t, ok)
	require.Equal(t, "15.2", value)
}

// TestSimpleQuerySingleStatement exercises the common single-statement
// SimpleQuery path: RowDescription, two DataRows, CommandComplete, then
// ReadyForQuery delivers the single accumulated Result.
func TestSimpleQuerySingleStatement(t *testing.T) {
	done := make(chan struct{})
	conn := dial(t, func(t *testing.T, server net.Conn) {
		basicHandshake(t, server)

		r := mock.NewReader(t, server)
		_, _, err := r.ReadTypedMsg() // the Query message
		require.NoError(t, err)

		b := mock.NewBackend(t).
			RowDescription(t, mock.MockColumn{Name: "name"}, mock.MockColumn{Name: "age"}).
			DataRow(t, []byte("alice"), []byte("30")).
			DataRow(t, []byte("bob"), nil).
			CommandComplete(t, "SELECT 2").
			ReadyForQuery(t, 'I')

		_, err = server.Write(b.Bytes())
		require.NoError(t, err)
		close(done)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	results, err := conn.SimpleQuery(ctx, "select name, age from people")
	require.NoError(t, err)
	require.Len(t, results, 1)

	result := results[0]
	require.Len(t, result.Rows, 2)
	require.Equal(t, []byte("alice"), result.Rows[0][0])
	require.Nil(t, result.Rows[1][1])

	<-done
}

// TestSyncRequiredCascade drives the extended-query error path: an
// ErrorResponse outside a sync-bounded command marks sync_required and
// fails the request; a subsequent Sync clears the flag.
func TestSyncRequiredCascade(t *testing.T) {
	serverErrored := make(chan struct{})
	conn := dial(t, func(t *testing.T, server net.Conn) {
		basicHandshake(t, server)

		r := mock.NewReader(t, server)
		for i := 0; i < 3; i++ { // Parse, Describe, Flush
			_, _, err := r.ReadTypedMsg()
			require.NoError(t, err)
		}

		b := mock.NewBackend(t).ErrorResponse(t, map[byte]string{
			'S': "ERROR",
			'C': "42601",
			'M': "syntax error",
		})
		_, err := server.Write(b.Bytes())
		require.NoError(t, err)
		close(serverErrored)

		_, _, err = r.ReadTypedMsg() // Sync
		require.NoError(t, err)

		b2 := mock.NewBackend(t).ReadyForQuery(t, 'I')
		_, err = server.Write(b2.Bytes())
		require.NoError(t, err)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := conn.Parse(ctx, "", "not valid sql", nil)
	require.Error(t, err)
	<-serverErrored

	err = conn.Sync(ctx)
	require.NoError(t, err)
}

// TestPortalSuspendedPartialExecute drives the extended-query path through
// Parse/Bind/Execute with a row limit, checking that a PortalSuspended
// reply surfaces as a partial Result carrying the rows seen so far instead
// of being mistaken for a completed command.
func TestPortalSuspendedPartialExecute(t *testing.T) {
	done := make(chan struct{})
	conn := dial(t, func(t *testing.T, server net.Conn) {
		basicHandshake(t, server)

		r := mock.NewReader(t, server)
		for i := 0; i < 3; i++ { // Parse, Describe, Flush
			_, _, err := r.ReadTypedMsg()
			require.NoError(t, err)
		}

		parseReply := mock.NewBackend(t).
			ParseComplete(t).
			RowDescription(t, mock.MockColumn{Name: "n"})
		_, err := server.Write(parseReply.Bytes())
		require.NoError(t, err)

		for i := 0; i < 2; i++ { // Bind, Flush
			_, _, err := r.ReadTypedMsg()
			require.NoError(t, err)
		}

		bindReply := mock.NewBackend(t).BindComplete(t)
		_, err = server.Write(bindReply.Bytes())
		require.NoError(t, err)

		for i := 0; i < 2; i++ { // Execute, Flush
			_, _, err := r.ReadTypedMsg()
			require.NoError(t, err)
		}

		execReply := mock.NewBackend(t).
			DataRow(t, []byte("1")).
			PortalSuspended(t)
		_, err = server.Write(execReply.Bytes())
		require.NoError(t, err)

		close(done)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	stmt, err := conn.Parse(ctx, "", "select n from series", nil)
	require.NoError(t, err)
	require.Len(t, stmt.Columns, 1)

	require.NoError(t, conn.Bind(ctx, stmt, "", nil))

	result, err := conn.Execute(ctx, stmt, "", 1)
	require.NoError(t, err)
	require.True(t, result.Partial)
	require.Len(t, result.Rows, 1)
	require.Equal(t, []byte("1"), result.Rows[0][0])

	<-done
}

// TestFIFOPipelinedStreaming submits two SimpleQueryStream commands back to
// back, without waiting on either's reply, then checks that each stream
// still receives the columns that belong to its own query rather than the
// other's — the queue's FIFO head-of-line correlation is what keeps the
// two in-flight commands from being mixed up.
func TestFIFOPipelinedStreaming(t *testing.T) {
	done := make(chan struct{})
	conn := dial(t, func(t *testing.T, server net.Conn) {
		basicHandshake(t, server)

		r := mock.NewReader(t, server)
		_, _, err := r.ReadTypedMsg() // first Query
		require.NoError(t, err)
		_, _, err = r.ReadTypedMsg() // second Query
		require.NoError(t, err)

		b := mock.NewBackend(t).
			RowDescription(t, mock.MockColumn{Name: "one"}).
			DataRow(t, []byte("1")).
			CommandComplete(t, "SELECT 1").
			ReadyForQuery(t, 'I').
			RowDescription(t, mock.MockColumn{Name: "two"}).
			DataRow(t, []byte("2")).
			CommandComplete(t, "SELECT 1").
			ReadyForQuery(t, 'I')
		_, err = server.Write(b.Bytes())
		require.NoError(t, err)

		close(done)
	})

	ch1 := conn.SimpleQueryStream("select 1 as one", 8)
	ch2 := conn.SimpleQueryStream("select 2 as two", 8)

	var cols1, cols2 []ColumnDescription
	for ev := range ch1 {
		if ev.Kind == StreamColumns {
			cols1 = ev.Columns
		}
	}
	for ev := range ch2 {
		if ev.Kind == StreamColumns {
			cols2 = ev.Columns
		}
	}

	require.Len(t, cols1, 1)
	require.Equal(t, "one", cols1[0].Name)
	require.Len(t, cols2, 1)
	require.Equal(t, "two", cols2[0].Name)

	<-done
}

func TestMD5PasswordRoundTrip(t *testing.T) {
	salt := []byte{0x01, 0x02, 0x03, 0x04}
	got := md5Password("secret", "tester", salt)
	require.Equal(t, 35, len(got))
	require.Equal(t, "md5", got[:3])
}
