package pgwire

import (
	"errors"
	"fmt"

	"github.com/cedrusdb/pgwire/codes"
	pgerr "github.com/cedrusdb/pgwire/errors"
)

// ErrSyncRequired is returned to every command but Sync while the
// connection's sync_required flag is set, per §4.1's sync-required gate.
var ErrSyncRequired = pgerr.WithSeverity(pgerr.WithCode(errors.New("sync required: a previous extended-query error must be cleared with Sync"), codes.ProtocolViolation), pgerr.LevelError)

// ErrClosed is returned to any request still queued, or issued, after Close
// flushed the connection.
var ErrClosed = pgerr.WithSeverity(pgerr.WithCode(errors.New("connection closed"), codes.ConnectionDoesNotExist), pgerr.LevelFatal)

// ErrSockClosed is delivered to every queued request when the transport is
// closed or fails outside an explicit Close.
var ErrSockClosed = pgerr.WithSeverity(pgerr.WithCode(errors.New("connection reset by peer"), codes.ConnectionFailure), pgerr.LevelFatal)

// ErrSSLNotAvailable is returned by Dial when SSLRequire was requested but
// the backend declined the TLS upgrade.
var ErrSSLNotAvailable = pgerr.WithSeverity(pgerr.WithCode(errors.New("ssl required but not available"), codes.SQLclientUnableToEstablishSQLconnection), pgerr.LevelFatal)

// errUnsupportedAuthMethod builds the error returned by Dial when the backend
// requests an authentication method this driver does not implement.
func errUnsupportedAuthMethod(name string) error {
	err := fmt.Errorf("unsupported authentication method: %s", name)
	return pgerr.WithSeverity(pgerr.WithCode(err, codes.SQLclientUnableToEstablishSQLconnection), pgerr.LevelFatal)
}

// errFromAuthFailure classifies an ErrorResponse seen during the auth phase
// per §4.3: SQLSTATE 28000 and 28P01 get their own sentinel-flavored errors,
// anything else is surfaced with its raw code intact.
func errFromAuthFailure(fields map[byte]string) error {
	desc := pgerr.FromFields(fields)

	switch desc.Code {
	case codes.InvalidAuthorizationSpecification:
		return decorateAuthErr(errors.New("invalid authorization specification"), codes.InvalidAuthorizationSpecification, desc)
	case codes.InvalidPassword:
		return decorateAuthErr(errors.New("invalid password"), codes.InvalidPassword, desc)
	default:
		return desc
	}
}

// decorateAuthErr carries the backend's Detail/Hint/Source fields onto the
// sentinel-flavored replacement error, so callers inspecting err through
// errors.GetDetail/GetHint/GetSource still see what the backend reported.
func decorateAuthErr(err error, code codes.Code, desc pgerr.Error) error {
	err = pgerr.WithSeverity(pgerr.WithCode(err, code), pgerr.LevelFatal)
	if desc.Detail != "" {
		err = pgerr.WithDetail(err, desc.Detail)
	}
	if desc.Hint != "" {
		err = pgerr.WithHint(err, desc.Hint)
	}
	if desc.Source != nil {
		err = pgerr.WithSource(err, desc.Source.File, desc.Source.Line, desc.Source.Function)
	}
	return err
}
