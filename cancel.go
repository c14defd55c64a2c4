package pgwire

import (
	"context"
	"net"

	"github.com/cedrusdb/pgwire/pkg/buffer"
	"go.uber.org/zap"
)

const cancelRequestCode = 80877102

// Cancel opens a fresh TCP connection to the same peer conn is dialed to
// and sends a CancelRequest carrying the backend process id and secret key
// reported during the handshake. It never touches conn's own socket or
// request queue; the backend may ignore the request entirely, which is not
// reported back to the caller.
func Cancel(ctx context.Context, conn *Conn) error {
	addr, timeout, pid, secret := conn.backendInfo()

	dialer := net.Dialer{Timeout: timeout}
	sideConn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	defer sideConn.Close()

	w := buffer.NewWriter(zap.NewNop(), sideConn)
	w.StartUntyped()
	w.AddInt32(cancelRequestCode)
	w.AddInt32(pid)
	w.AddInt32(secret)
	return w.End()
}
