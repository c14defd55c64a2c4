package pgwire

import (
	"context"
	"fmt"
)

// rollbackError wraps a body error with the fact that the transaction was
// rolled back, so callers can distinguish "the body failed" from "the body
// failed and the rollback itself also failed".
type rollbackError struct {
	reason   error
	rollback error
}

func (e *rollbackError) Error() string {
	if e.rollback != nil {
		return fmt.Sprintf("transaction rolled back: %v (rollback also failed: %v)", e.reason, e.rollback)
	}

	return fmt.Sprintf("transaction rolled back: %v", e.reason)
}

func (e *rollbackError) Unwrap() error {
	return e.reason
}

// WithTransaction runs body inside a BEGIN/COMMIT block issued as simple
// queries, rolling back if body returns an error. The rollback error, if
// any, wraps body's error rather than replacing it.
func WithTransaction(ctx context.Context, conn *Conn, body func(ctx context.Context) error) error {
	if _, err := conn.SimpleQuery(ctx, "BEGIN"); err != nil {
		return err
	}

	if err := body(ctx); err != nil {
		_, rollbackErr := conn.SimpleQuery(ctx, "ROLLBACK")
		return &rollbackError{reason: err, rollback: rollbackErr}
	}

	_, err := conn.SimpleQuery(ctx, "COMMIT")
	return err
}
