package pgwire

import (
	"context"
	"fmt"

	"github.com/cedrusdb/pgwire/pkg/buffer"
	"github.com/cedrusdb/pgwire/pkg/types"
	pgxtype "github.com/jackc/pgx/v5/pgtype"
)

// submit is the dispatcher's single serialization point (§4.1): it applies
// the sync-required gate, then asks the actor to wire-encode and enqueue
// the command. encode runs inside the actor goroutine so the socket write
// and the queue append happen atomically with respect to inbound messages.
func (c *Conn) submit(tag CommandTag, stmt *Statement, sk sink, encode func(*buffer.Writer) error) {
	c.submitNamed(tag, stmt, "", sk, encode)
}

// submitNamed is submit plus a caller-supplied statement name, for Parse and
// DescribeStatement, whose reply needs the name before any Statement exists
// to carry it.
func (c *Conn) submitNamed(tag CommandTag, stmt *Statement, name string, sk sink, encode func(*buffer.Writer) error) {
	ok := c.dispatch(func(conn *Conn) {
		if conn.syncRequired && tag != tagSync {
			sk.deliverError(ErrSyncRequired)
			return
		}

		if err := encode(conn.writer); err != nil {
			sk.deliverError(err)
			return
		}

		if tag == tagSync {
			conn.syncRequired = false
		}

		conn.enqueue(&Request{Tag: tag, Statement: stmt, StatementName: name, sink: sk})
	})

	if !ok {
		sk.deliverError(ErrClosed)
	}
}

// GetParameter returns the value most recently reported for name by
// ParameterStatus, without a round trip to the backend.
func (c *Conn) GetParameter(name string) (string, bool) {
	type result struct {
		value string
		ok    bool
	}

	resultCh := make(chan result, 1)
	ok := c.dispatch(func(conn *Conn) {
		value, has := conn.parameters[name]
		resultCh <- result{value: value, ok: has}
	})

	if !ok {
		return "", false
	}

	r := <-resultCh
	return r.value, r.ok
}

// SimpleQuery runs sql as a `Q`-tagged simple query, which may contain
// multiple statements separated by semicolons. If sql contained more than
// one statement, len(results) is the number of statements.
func (c *Conn) SimpleQuery(ctx context.Context, sql string) ([]Result, error) {
	sk := newMailboxSink()
	c.submit(tagSimpleQuery, nil, sk, func(w *buffer.Writer) error {
		w.Start(types.ClientSimpleQuery)
		w.AddString(sql)
		w.AddNullTerminate()
		return w.End()
	})

	return awaitResults(ctx, sk)
}

// SimpleQueryStream runs sql the same way as SimpleQuery but delivers
// columns, rows, and completion incrementally on the returned channel
// instead of buffering the full result set in memory. The channel is
// closed after a StreamDone event.
func (c *Conn) SimpleQueryStream(sql string, buffered int) <-chan StreamEvent {
	sk := newStreamSink(buffered)
	c.submit(tagSimpleQuery, nil, sk, func(w *buffer.Writer) error {
		w.Start(types.ClientSimpleQuery)
		w.AddString(sql)
		w.AddNullTerminate()
		return w.End()
	})

	return streamChannel(sk)
}

// ExecuteStream executes a bound portal the same way as Execute but
// delivers rows incrementally instead of buffering them.
func (c *Conn) ExecuteStream(stmt *Statement, portal string, maxRows uint32, buffered int) <-chan StreamEvent {
	sk := newStreamSink(buffered)
	c.submit(tagExecute, stmt, sk, func(w *buffer.Writer) error {
		if err := writeExecute(w, portal, maxRows); err != nil {
			return err
		}

		w.Start(types.ClientFlush)
		return w.End()
	})

	return streamChannel(sk)
}

// streamChannel relays a streamSink's events onto an output channel that is
// closed once StreamDone arrives, so callers can simply range over it.
func streamChannel(sk *streamSink) <-chan StreamEvent {
	out := make(chan StreamEvent, cap(sk.ch))
	go func() {
		defer close(out)
		for ev := range sk.ch {
			out <- ev
			if ev.Kind == StreamDone {
				return
			}
		}
	}()

	return out
}

// Parse prepares sql as a named (or anonymous, if name == "") statement
// with the given parameter type oids, then immediately describes it so the
// returned Statement carries its result columns.
func (c *Conn) Parse(ctx context.Context, name, sql string, paramTypes []uint32) (*Statement, error) {
	sk := newMailboxSink()
	c.submitNamed(tagParse, nil, name, sk, func(w *buffer.Writer) error {
		if err := writeParse(w, name, sql, paramTypes); err != nil {
			return err
		}

		if err := writeDescribe(w, types.DescribeStatement, name); err != nil {
			return err
		}

		w.Start(types.ClientFlush)
		return w.End()
	})

	o, err := await(ctx, sk)
	if err != nil {
		return nil, err
	}

	return o.statement, nil
}

func writeParse(w *buffer.Writer, name, sql string, paramTypes []uint32) error {
	w.Start(types.ClientParse)
	w.AddString(name)
	w.AddNullTerminate()
	w.AddString(sql)
	w.AddNullTerminate()
	w.AddInt16(int16(len(paramTypes)))
	for _, oid := range paramTypes {
		w.AddUint32(oid)
	}

	return w.End()
}

func writeDescribe(w *buffer.Writer, kind types.DescribeMessage, name string) error {
	w.Start(types.ClientDescribe)
	w.AddByte(byte(kind))
	w.AddString(name)
	w.AddNullTerminate()
	return w.End()
}

// Bind binds params to stmt under portal (use "" for the unnamed portal).
func (c *Conn) Bind(ctx context.Context, stmt *Statement, portal string, params []any) error {
	sk := newMailboxSink()
	c.submit(tagBind, stmt, sk, func(w *buffer.Writer) error {
		if err := c.writeBind(w, stmt, portal, params); err != nil {
			return err
		}

		w.Start(types.ClientFlush)
		return w.End()
	})

	_, err := await(ctx, sk)
	return err
}

func (c *Conn) writeBind(w *buffer.Writer, stmt *Statement, portal string, params []any) error {
	w.Start(types.ClientBind)
	w.AddString(portal)
	w.AddNullTerminate()
	w.AddString(stmt.Name)
	w.AddNullTerminate()

	// All bound parameters are sent as text; a single format code of zero
	// applies to every value. https://www.postgresql.org/docs/current/protocol-message-formats.html
	w.AddInt16(1)
	w.AddInt16(int16(TextFormat))

	w.AddInt16(int16(len(params)))
	for i, value := range params {
		var oid uint32
		if i < len(stmt.ParameterTypes) {
			oid = stmt.ParameterTypes[i]
		}

		encoded, isNull, err := c.encodeParamText(oid, value)
		if err != nil {
			return err
		}

		if isNull {
			w.AddInt32(-1)
			continue
		}

		w.AddInt32(int32(len(encoded)))
		w.AddBytes(encoded)
	}

	formats := resultFormats(stmt.Columns)
	w.AddInt16(int16(len(formats)))
	for _, f := range formats {
		w.AddInt16(int16(f))
	}

	return w.End()
}

func resultFormats(columns []ColumnDescription) []FormatCode {
	formats := make([]FormatCode, len(columns))
	for i, col := range columns {
		formats[i] = col.Format
	}

	return formats
}

func (c *Conn) encodeParamText(oid uint32, value any) (_ []byte, isNull bool, _ error) {
	if value == nil {
		return nil, true, nil
	}

	if s, ok := value.(string); ok {
		return []byte(s), false, nil
	}

	if oid != 0 {
		encoded, err := c.typeMap.Encode(oid, pgxtype.TextFormatCode, value, nil)
		if err == nil {
			return encoded, false, nil
		}
	}

	return []byte(fmt.Sprint(value)), false, nil
}

// Execute runs the named portal ("" for the unnamed portal), asking the
// backend to stop after maxRows rows (0 means unlimited).
func (c *Conn) Execute(ctx context.Context, stmt *Statement, portal string, maxRows uint32) (Result, error) {
	sk := newMailboxSink()
	c.submit(tagExecute, stmt, sk, func(w *buffer.Writer) error {
		if err := writeExecute(w, portal, maxRows); err != nil {
			return err
		}

		w.Start(types.ClientFlush)
		return w.End()
	})

	o, err := await(ctx, sk)
	if err != nil {
		return Result{}, err
	}

	return o.result, nil
}

func writeExecute(w *buffer.Writer, portal string, maxRows uint32) error {
	w.Start(types.ClientExecute)
	w.AddString(portal)
	w.AddNullTerminate()
	w.AddUint32(maxRows)
	return w.End()
}

// DescribeStatement describes a previously-parsed statement, resolving
// Open Question 2: the result is ok(statement) or ok(statement-with-no-
// columns) rather than a raw driver handle.
func (c *Conn) DescribeStatement(ctx context.Context, name string) (*Statement, error) {
	sk := newMailboxSink()
	c.submitNamed(tagDescribeStatement, nil, name, sk, func(w *buffer.Writer) error {
		if err := writeDescribe(w, types.DescribeStatement, name); err != nil {
			return err
		}

		w.Start(types.ClientFlush)
		return w.End()
	})

	o, err := await(ctx, sk)
	if err != nil {
		return nil, err
	}

	return o.statement, nil
}

// DescribePortal describes a bound portal, resolving to ok(columns) or
// ok([]) per Open Question 2.
func (c *Conn) DescribePortal(ctx context.Context, name string) ([]ColumnDescription, error) {
	sk := newMailboxSink()
	c.submit(tagDescribePortal, nil, sk, func(w *buffer.Writer) error {
		if err := writeDescribe(w, types.DescribePortal, name); err != nil {
			return err
		}

		w.Start(types.ClientFlush)
		return w.End()
	})

	o, err := await(ctx, sk)
	if err != nil {
		return nil, err
	}

	return o.result.Columns, nil
}

// CloseStatement closes a named prepared statement.
func (c *Conn) CloseStatement(ctx context.Context, name string) error {
	return c.closeNamed(ctx, types.DescribeStatement, name)
}

// ClosePortal closes a named portal.
func (c *Conn) ClosePortal(ctx context.Context, name string) error {
	return c.closeNamed(ctx, types.DescribePortal, name)
}

func (c *Conn) closeNamed(ctx context.Context, kind types.DescribeMessage, name string) error {
	sk := newMailboxSink()
	c.submit(tagClose, nil, sk, func(w *buffer.Writer) error {
		w.Start(types.ClientClose)
		w.AddByte(byte(kind))
		w.AddString(name)
		w.AddNullTerminate()
		if err := w.End(); err != nil {
			return err
		}

		w.Start(types.ClientFlush)
		return w.End()
	})

	_, err := await(ctx, sk)
	return err
}

// Sync issues a Sync message, closing the current extended-query group and
// clearing sync_required if it was set.
func (c *Conn) Sync(ctx context.Context) error {
	sk := newMailboxSink()
	c.submit(tagSync, nil, sk, func(w *buffer.Writer) error {
		w.Start(types.ClientSync)
		return w.End()
	})

	_, err := await(ctx, sk)
	return err
}

// EQuery is the extended-query convenience path: it parses an anonymous
// statement in one round trip, then binds params to it, executes, closes,
// and syncs in a second, returning the query's single result.
func (c *Conn) EQuery(ctx context.Context, sql string, params []any) (Result, error) {
	stmt, err := c.Parse(ctx, "", sql, nil)
	if err != nil {
		return Result{}, err
	}

	sk := newMailboxSink()
	c.submit(tagExtendedQuery, stmt, sk, func(w *buffer.Writer) error {
		if err := c.writeBind(w, stmt, "", params); err != nil {
			return err
		}

		if err := writeExecute(w, "", 0); err != nil {
			return err
		}

		w.Start(types.ClientClose)
		w.AddByte(byte(types.DescribeStatement))
		w.AddString(stmt.Name)
		w.AddNullTerminate()
		if err := w.End(); err != nil {
			return err
		}

		w.Start(types.ClientSync)
		return w.End()
	})

	o, err := await(ctx, sk)
	if err != nil {
		return Result{}, err
	}

	return o.result, nil
}

// Close flushes the connection's queue with ErrClosed, sends Terminate, and
// closes the socket. Close is idempotent.
func (c *Conn) Close() error {
	c.dispatch(func(conn *Conn) {
		conn.writer.Start(types.ClientTerminate)
		conn.writer.End() //nolint:errcheck
		conn.drainQueue(ErrClosed)
		conn.shutdown()
	})

	<-c.done
	return nil
}

// await blocks for a request's single terminal outcome.
func await(ctx context.Context, sk *mailboxSink) (outcome, error) {
	select {
	case o := <-sk.ch:
		return o, o.err
	case <-ctx.Done():
		return outcome{}, ctx.Err()
	}
}

func awaitResults(ctx context.Context, sk *mailboxSink) ([]Result, error) {
	o, err := await(ctx, sk)
	if err != nil {
		return nil, err
	}

	if o.results != nil {
		return o.results, nil
	}

	return []Result{o.result}, nil
}
