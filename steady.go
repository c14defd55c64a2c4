package pgwire

import (
	"strconv"
	"strings"

	"github.com/cedrusdb/pgwire/pkg/buffer"
	"github.com/cedrusdb/pgwire/pkg/types"
	pgerr "github.com/cedrusdb/pgwire/errors"
	"go.uber.org/zap"
)

// onMessage is the steady-state `on_message` dispatcher for §4.5: the
// head-of-queue request's tag determines how each event is consumed.
func (c *Conn) onMessage(tag types.ServerMessage, reader *buffer.Reader) {
	switch tag {
	case types.ServerParseComplete:
		// no-op: the reply is driven by the ParameterDescription/
		// RowDescription/NoData that follows.
	case types.ServerParameterDescription:
		c.onParameterDescription(reader)
	case types.ServerRowDescription:
		c.onRowDescription(reader)
	case types.ServerNoData:
		c.onNoData()
	case types.ServerBindComplete:
		c.onBindComplete()
	case types.ServerCloseComplete:
		c.onCloseComplete()
	case types.ServerDataRow:
		c.onDataRow(reader)
	case types.ServerPortalSuspended:
		c.onPortalSuspended()
	case types.ServerCommandComplete:
		c.onCommandComplete(reader)
	case types.ServerEmptyQuery:
		c.onEmptyQuery()
	case types.ServerReady:
		c.onReadyForQuery(reader)
	case types.ServerErrorResponse:
		c.onErrorResponse(reader)
	case types.ServerNoticeResponse:
		c.onNoticeResponse(reader)
	case types.ServerParameterStatus:
		c.onParameterStatus(reader)
	case types.ServerNotification:
		c.onNotification(reader)
	default:
		c.logger.Debug("unhandled message in steady state", zap.String("type", tag.String()))
	}
}

func (c *Conn) onParameterDescription(reader *buffer.Reader) {
	oids, err := decodeParameterTypes(reader)
	if err != nil {
		c.logger.Error("failed to decode parameter description", zap.Error(err))
		return
	}

	c.acc.currentTypes = oids

	if req := c.head(); req != nil {
		req.sink.deliverTypes(oids)
	}
}

func (c *Conn) onRowDescription(reader *buffer.Reader) {
	columns, err := decodeColumns(reader)
	if err != nil {
		c.logger.Error("failed to decode row description", zap.Error(err))
		return
	}

	req := c.head()
	if req == nil {
		return
	}

	switch req.Tag {
	case tagParse, tagDescribeStatement:
		columns = annotateColumns(columns)
		c.acc.currentColumns = columns
		stmt := &Statement{Name: req.StatementName, ParameterTypes: c.acc.currentTypes, Columns: columns}
		c.popHead()
		req.sink.deliverStatement(stmt)
	case tagDescribePortal:
		c.popHead()
		req.sink.deliverResult(Result{Columns: columns})
	default:
		// squery: columns describe the statement currently streaming.
		c.acc.currentColumns = columns
		req.sink.deliverColumns(columns)
	}
}

func (c *Conn) onNoData() {
	req := c.head()
	if req == nil {
		return
	}

	switch req.Tag {
	case tagParse, tagDescribeStatement:
		stmt := &Statement{Name: req.StatementName, ParameterTypes: c.acc.currentTypes, Columns: nil}
		c.popHead()
		req.sink.deliverStatement(stmt)
	case tagDescribePortal:
		c.popHead()
		req.sink.deliverResult(Result{Columns: []ColumnDescription{}})
	}
}

func (c *Conn) onBindComplete() {
	req := c.head()
	if req == nil {
		return
	}

	if req.Tag == tagBind {
		c.popHead()
		req.sink.deliverResult(Result{})
	}
	// equery: no-op, the reply is driven by the Execute/CommandComplete/
	// ReadyForQuery that follows.
}

func (c *Conn) onCloseComplete() {
	req := c.head()
	if req == nil {
		return
	}

	if req.Tag == tagClose {
		c.popHead()
		req.sink.deliverResult(Result{})
	}
	// equery: no-op.
}

func (c *Conn) onDataRow(reader *buffer.Reader) {
	req := c.head()
	println("DEBUG onDataRow head nil?", req == nil)
	if req == nil {
		return
	}

	columns := c.columnsFor(req)

	row, err := decodeRow(reader, columns, c.typeInfo, c.datetimeMode)
	println("DEBUG decodeRow err?", err != nil, "columns", len(columns))
	if err != nil {
		println("DEBUG decodeRow err msg", err.Error())
		c.logger.Error("failed to decode data row", zap.Error(err))
		return
	}

	req.sink.deliverRow(row)
	if _, streaming := req.sink.(*streamSink); !streaming {
		c.acc.appendRow(row)
	}
}

// columnsFor resolves §4.5's DataRow column-resolution rule: equery/execute
// use the request's statement columns, squery uses the most recently
// described columns.
func (c *Conn) columnsFor(req *Request) []ColumnDescription {
	if (req.Tag == tagExtendedQuery || req.Tag == tagExecute) && req.Statement != nil {
		return req.Statement.Columns
	}

	return c.acc.currentColumns
}

func (c *Conn) onPortalSuspended() {
	rows := c.acc.currentRows
	req := c.popHead()
	println("DEBUG onPortalSuspended head nil?", req == nil, "rows", len(c.acc.currentRows))
	if req == nil {
		return
	}

	req.sink.deliverPartial(rows)
}

func (c *Conn) onCommandComplete(reader *buffer.Reader) {
	tag, err := reader.GetString()
	if err != nil {
		c.logger.Error("failed to decode command complete", zap.Error(err))
		return
	}

	req := c.head()
	if req == nil {
		return
	}

	_, count, hasCount := parseCommandTag(tag)
	rows := c.acc.currentRows
	columns := c.columnsFor(req)

	switch req.Tag {
	case tagExecute:
		c.popHead()
		var res Result
		if hasCount {
			res = Result{HasCount: true, Count: count}
			if len(rows) > 0 {
				res.Rows = rows
			}
		} else {
			res = Result{Rows: rows}
		}
		req.sink.deliverResult(res)
	case tagSimpleQuery, tagExtendedQuery:
		var res Result
		switch {
		case hasCount && len(rows) == 0:
			res = Result{HasCount: true, Count: count}
		case hasCount && len(rows) > 0:
			res = Result{HasCount: true, Count: count, Columns: columns, Rows: rows}
		default:
			res = Result{Columns: columns, Rows: rows}
		}
		c.acc.appendCompleted(res)
		c.acc.resetRows()
	}
}

func (c *Conn) onEmptyQuery() {
	req := c.head()
	if req == nil {
		return
	}

	switch req.Tag {
	case tagExecute:
		c.popHead()
		req.sink.deliverResult(Result{Columns: []ColumnDescription{}, Rows: [][]any{}})
	case tagSimpleQuery, tagExtendedQuery:
		c.acc.appendCompleted(Result{Columns: []ColumnDescription{}, Rows: [][]any{}})
	}
}

func (c *Conn) onReadyForQuery(reader *buffer.Reader) {
	status, err := reader.GetByte()
	if err != nil {
		c.logger.Error("failed to decode ready for query", zap.Error(err))
		return
	}

	c.txStatus = types.TransactionStatus(status)

	req := c.head()
	if req == nil {
		return
	}

	req.resultsSnapshot = c.acc.completedResults
	c.popHead()

	switch req.Tag {
	case tagSimpleQuery:
		if len(req.resultsSnapshot) == 1 {
			req.sink.deliverResult(req.resultsSnapshot[0])
		} else {
			req.sink.deliverResults(req.resultsSnapshot)
		}
	case tagExtendedQuery:
		if len(req.resultsSnapshot) > 0 {
			req.sink.deliverResult(req.resultsSnapshot[0])
		} else {
			req.sink.deliverDone()
		}
	case tagSync:
		req.sink.deliverDone()
	default:
		req.sink.deliverDone()
	}
}

func (c *Conn) onErrorResponse(reader *buffer.Reader) {
	fields, err := decodeFields(reader)
	if err != nil {
		c.logger.Error("failed to decode error response", zap.Error(err))
		return
	}

	desc := errFromFields(fields)

	req := c.head()
	if req == nil {
		return
	}

	switch req.Tag {
	case tagSimpleQuery, tagExtendedQuery:
		// Appended to completed_results; the subsequent ReadyForQuery
		// delivers the list (snapshotted onto the request in onReadyForQuery).
		c.acc.appendCompleted(Result{Err: desc})
	default:
		c.popHead()
		req.sink.deliverError(desc)
		c.syncRequiredCascade()
	}
}

// syncRequiredCascade implements §4.5's recovery rule: pop every remaining
// request up to and including the first sync, failing each with
// ErrSyncRequired. If no sync is queued, block all further non-sync
// commands until one arrives.
func (c *Conn) syncRequiredCascade() {
	for len(c.queue) > 0 {
		req := c.popHead()
		isSync := req.Tag == tagSync
		req.sink.deliverError(ErrSyncRequired)

		if isSync {
			return
		}
	}

	c.syncRequired = true
}

func (c *Conn) onNoticeResponse(reader *buffer.Reader) {
	fields, err := decodeFields(reader)
	if err != nil {
		c.logger.Error("failed to decode notice response", zap.Error(err))
		return
	}

	if c.async != nil {
		c.async.Deliver(AsyncEvent{Kind: AsyncNotice, Fields: fields})
	}
}

func (c *Conn) onParameterStatus(reader *buffer.Reader) {
	name, value, err := decodeParameterStatus(reader)
	if err != nil {
		c.logger.Error("failed to decode parameter status", zap.Error(err))
		return
	}

	c.parameters[name] = value
}

func (c *Conn) onNotification(reader *buffer.Reader) {
	pid, err := reader.GetInt32()
	if err != nil {
		c.logger.Error("failed to decode notification", zap.Error(err))
		return
	}

	channel, err := reader.GetString()
	if err != nil {
		c.logger.Error("failed to decode notification", zap.Error(err))
		return
	}

	payload, err := reader.GetString()
	if err != nil {
		c.logger.Error("failed to decode notification", zap.Error(err))
		return
	}

	if c.async != nil {
		c.async.Deliver(AsyncEvent{Kind: AsyncNotification, ProcessID: pid, Channel: channel, Payload: payload})
	}
}

// parseCommandTag splits a CommandComplete tag into its verb and, when
// present, trailing row count. "INSERT oid rows" carries two trailing
// numbers; every other verb carries at most one.
func parseCommandTag(tag string) (verb string, count uint64, hasCount bool) {
	fields := strings.Fields(tag)
	if len(fields) == 0 {
		return "", 0, false
	}

	verb = fields[0]
	last := fields[len(fields)-1]

	n, err := strconv.ParseUint(last, 10, 64)
	if err != nil || len(fields) == 1 {
		return verb, 0, false
	}

	return verb, n, true
}

func errFromFields(fields map[byte]string) error {
	desc := pgerr.FromFields(fields)
	return desc
}
