package pgwire

// CommandTag identifies the kind of command a queued Request represents.
// The head-of-queue request's tag selects how the steady-state handler
// interprets each inbound message.
type CommandTag int

const (
	tagConnect CommandTag = iota
	tagSimpleQuery
	tagExtendedQuery // equery: bind+execute+close+sync folded into one request after its own Parse, ending at ReadyForQuery
	tagParse
	tagBind
	tagExecute
	tagDescribeStatement
	tagDescribePortal
	tagClose
	tagSync
)

func (t CommandTag) String() string {
	switch t {
	case tagConnect:
		return "connect"
	case tagSimpleQuery:
		return "squery"
	case tagExtendedQuery:
		return "equery"
	case tagParse:
		return "parse"
	case tagBind:
		return "bind"
	case tagExecute:
		return "execute"
	case tagDescribeStatement:
		return "describe_statement"
	case tagDescribePortal:
		return "describe_portal"
	case tagClose:
		return "close"
	case tagSync:
		return "sync"
	default:
		return "unknown"
	}
}

// Request is one enqueued user command awaiting its backend reply. The
// queue is FIFO: inbound messages always correlate to the request at index
// 0 until that request terminates.
type Request struct {
	Tag CommandTag

	// Statement carries the column/parameter metadata needed to decode
	// subsequent messages for execute/equery requests.
	Statement *Statement

	// StatementName is the name passed to Parse/DescribeStatement, carried
	// here because it is only known at submit time, before any reply names
	// the accumulator can hang it on exists.
	StatementName string

	sink sink

	// resultsSnapshot holds the accumulator's completed_results list,
	// captured at ReadyForQuery time just before the accumulator resets.
	resultsSnapshot []Result
}

// outcome is the terminal value handed from the actor to a mailbox sink's
// caller. Exactly one field group is populated, depending on which deliver*
// method produced it.
type outcome struct {
	err       error
	result    Result
	results   []Result
	statement *Statement
	connected bool
	ok        bool
}

// sink abstracts the two reply-delivery strategies a Request can carry: a
// one-shot mailbox or an incremental stream. §9 models this as a tagged
// variant; Go expresses it as an interface with two concrete
// implementations below.
type sink interface {
	deliverColumns(cols []ColumnDescription)
	deliverTypes(oids []uint32)
	deliverRow(row []any)
	deliverResult(res Result)
	deliverResults(res []Result)
	deliverStatement(stmt *Statement)
	deliverPartial(rows [][]any)
	deliverDone()
	deliverError(err error)
	deliverConnected()
}

// mailboxSink delivers exactly one terminal outcome to a buffered channel.
type mailboxSink struct {
	ch chan outcome
}

func newMailboxSink() *mailboxSink {
	return &mailboxSink{ch: make(chan outcome, 1)}
}

func (m *mailboxSink) deliverColumns(cols []ColumnDescription) {}
func (m *mailboxSink) deliverTypes(oids []uint32)              {}
func (m *mailboxSink) deliverRow(row []any)                    {}

func (m *mailboxSink) deliverResult(res Result) {
	m.ch <- outcome{result: res}
}

func (m *mailboxSink) deliverResults(res []Result) {
	m.ch <- outcome{results: res}
}

func (m *mailboxSink) deliverStatement(stmt *Statement) {
	m.ch <- outcome{statement: stmt}
}

func (m *mailboxSink) deliverPartial(rows [][]any) {
	m.ch <- outcome{result: Result{Partial: true, Rows: rows}}
}

func (m *mailboxSink) deliverDone() {
	m.ch <- outcome{ok: true}
}

func (m *mailboxSink) deliverError(err error) {
	m.ch <- outcome{err: err}
}

func (m *mailboxSink) deliverConnected() {
	m.ch <- outcome{connected: true}
}

// streamSink forwards every event as it happens to a buffered channel and
// never retains rows on the caller's behalf.
type streamSink struct {
	ch chan StreamEvent
}

func newStreamSink(buffer int) *streamSink {
	return &streamSink{ch: make(chan StreamEvent, buffer)}
}

func (s *streamSink) deliverColumns(cols []ColumnDescription) {
	s.ch <- StreamEvent{Kind: StreamColumns, Columns: cols}
}

func (s *streamSink) deliverTypes(oids []uint32) {
	s.ch <- StreamEvent{Kind: StreamTypes, Types: oids}
}

func (s *streamSink) deliverRow(row []any) {
	s.ch <- StreamEvent{Kind: StreamData, Row: row}
}

func (s *streamSink) deliverResult(res Result) {
	s.ch <- StreamEvent{Kind: StreamComplete, Count: res.Count, HasCount: res.HasCount}
	s.deliverDone()
}

func (s *streamSink) deliverResults(res []Result) {
	for _, r := range res {
		s.ch <- StreamEvent{Kind: StreamComplete, Count: r.Count, HasCount: r.HasCount, Err: r.Err}
	}
	s.deliverDone()
}

func (s *streamSink) deliverStatement(stmt *Statement) {
	s.ch <- StreamEvent{Kind: StreamColumns, Columns: stmt.Columns}
	s.deliverDone()
}

// deliverPartial resolves Open Question 3: for a streaming sink the rows of
// a suspended portal were already forwarded one-by-one via deliverRow, so
// the terminal partial event carries none.
func (s *streamSink) deliverPartial(rows [][]any) {
	s.ch <- StreamEvent{Kind: StreamPartial}
}

func (s *streamSink) deliverDone() {
	s.ch <- StreamEvent{Kind: StreamDone}
}

func (s *streamSink) deliverError(err error) {
	s.ch <- StreamEvent{Kind: StreamError, Err: err}
	s.deliverDone()
}

func (s *streamSink) deliverConnected() {
	s.deliverDone()
}
