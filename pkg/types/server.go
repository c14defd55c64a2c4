package types

// TransactionStatus indicates the backend's transaction status as reported
// with every ReadyForQuery message. Possible values are 'I' if idle (not in
// a transaction block), 'T' if in a transaction block, or 'E' if in a failed
// transaction block (queries will be rejected until the block is ended with
// COMMIT/ROLLBACK or, inside the extended protocol, a Sync).
type TransactionStatus byte

const (
	TransactionIdle    TransactionStatus = 'I'
	TransactionInBlock TransactionStatus = 'T'
	TransactionFailed  TransactionStatus = 'E'
)

func (s TransactionStatus) String() string {
	switch s {
	case TransactionIdle:
		return "idle"
	case TransactionInBlock:
		return "in-transaction"
	case TransactionFailed:
		return "failed-transaction"
	default:
		return "unknown"
	}
}
