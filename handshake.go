package pgwire

import (
	"crypto/tls"
	"net"

	"github.com/cedrusdb/pgwire/pkg/buffer"
	"github.com/cedrusdb/pgwire/pkg/types"
	"go.uber.org/zap"
)

// sslAccepted and sslRejected are the single-byte replies the backend sends
// to an SSLRequest.
const (
	sslAccepted = 'S'
	sslRejected = 'N'
)

// negotiateSSL performs the opportunistic TLS upgrade described in §4.8,
// returning the (possibly wrapped) connection the rest of the handshake
// should use. It runs before any buffer.Reader/buffer.Writer exists, since
// a TLS upgrade replaces the underlying net.Conn entirely.
func negotiateSSL(conn net.Conn, mode SSLMode, tlsConfig *tls.Config) (net.Conn, error) {
	if mode == SSLDisable {
		return conn, nil
	}

	writer := buffer.NewWriter(zap.NewNop(), conn)
	writer.StartUntyped()
	writer.AddInt32(int32(types.VersionSSLRequest))
	if err := writer.End(); err != nil {
		return conn, err
	}

	response := make([]byte, 1)
	if _, err := conn.Read(response); err != nil {
		return conn, err
	}

	switch response[0] {
	case sslAccepted:
		if tlsConfig == nil {
			tlsConfig = &tls.Config{}
		}

		upgraded := tls.Client(conn, tlsConfig)
		if err := upgraded.Handshake(); err != nil {
			return conn, err
		}

		return upgraded, nil
	case sslRejected:
		if mode == SSLRequire {
			return conn, ErrSSLNotAvailable
		}

		return conn, nil
	default:
		return conn, ErrSSLNotAvailable
	}
}

// writeStartupPacket writes the connect frame per §4.1: version, then
// username/database/extra parameters as null-terminated key/value pairs,
// terminated by an empty key.
func writeStartupPacket(writer *buffer.Writer, username, database string, extra map[string]string) error {
	writer.StartUntyped()
	writer.AddInt32(int32(types.Version30))

	writer.AddString("user")
	writer.AddNullTerminate()
	writer.AddString(username)
	writer.AddNullTerminate()

	if database != "" {
		writer.AddString("database")
		writer.AddNullTerminate()
		writer.AddString(database)
		writer.AddNullTerminate()
	}

	for key, value := range extra {
		writer.AddString(key)
		writer.AddNullTerminate()
		writer.AddString(value)
		writer.AddNullTerminate()
	}

	writer.AddNullTerminate()
	return writer.End()
}
