// Package pgwire implements a client-side driver for the PostgreSQL
// frontend/backend wire protocol, version 3. A Conn is a single actor
// goroutine that owns one connection's socket, request queue, and
// accumulator; every exported method hands a command to that goroutine and
// waits for its reply, so a *Conn is safe for concurrent use by multiple
// callers.
//
// Dial performs the SSL negotiation, authentication, and parameter
// exchange phases of the handshake and blocks until the backend reports
// ReadyForQuery. SimpleQuery issues simple-query-protocol statements.
// Parse, Bind, Execute, DescribeStatement, DescribePortal, CloseStatement,
// ClosePortal, and Sync drive the extended query protocol directly; EQuery
// folds the common parse-bind-execute-close-sync sequence into one call.
package pgwire
