package pgwire

import (
	"time"

	"go.uber.org/zap"
)

// SSLMode selects how a connection attempts to negotiate TLS with the backend.
type SSLMode int

const (
	// SSLDisable never attempts a TLS upgrade.
	SSLDisable SSLMode = iota
	// SSLPrefer attempts a TLS upgrade but falls back to a plain connection
	// if the backend declines.
	SSLPrefer
	// SSLRequire fails the connection attempt if the backend declines TLS.
	SSLRequire
)

// DialOptions carries every setting `Dial` recognizes. Call `Option` functions
// to build one up, or construct it directly.
type DialOptions struct {
	Port       int
	Timeout    time.Duration
	Database   string
	SSLMode    SSLMode
	Async      AsyncSink
	Parameters map[string]string
	Logger     *zap.Logger

	// BufferedMsgSize overrides the default read buffer size; 0 selects
	// buffer.DefaultBufferSize.
	BufferedMsgSize int
}

// OptionFn configures a DialOptions instance. Use the constructors below to
// build a Dial options list, mirroring the functional-options pattern used
// throughout this driver's server-side ancestor.
type OptionFn func(*DialOptions)

// WithPort overrides the default Postgres port (5432).
func WithPort(port int) OptionFn {
	return func(opts *DialOptions) {
		opts.Port = port
	}
}

// WithTimeout bounds the time spent establishing the TCP connection, both
// for Dial and for Cancel's side channel. The handshake after it is bounded
// only by Dial's context.
func WithTimeout(timeout time.Duration) OptionFn {
	return func(opts *DialOptions) {
		opts.Timeout = timeout
	}
}

// WithDatabase selects the database named in the startup packet.
func WithDatabase(database string) OptionFn {
	return func(opts *DialOptions) {
		opts.Database = database
	}
}

// WithSSL selects the TLS negotiation behavior.
func WithSSL(mode SSLMode) OptionFn {
	return func(opts *DialOptions) {
		opts.SSLMode = mode
	}
}

// WithAsync registers a sink that receives Notice and Notification events
// outside the request/reply queue. ParameterStatus changes are not delivered
// to it; they only update the values GetParameter returns.
func WithAsync(sink AsyncSink) OptionFn {
	return func(opts *DialOptions) {
		opts.Async = sink
	}
}

// WithStartupParameter adds an additional key/value pair to the startup
// packet beyond `user`/`database`, e.g. `application_name`.
func WithStartupParameter(key, value string) OptionFn {
	return func(opts *DialOptions) {
		if opts.Parameters == nil {
			opts.Parameters = map[string]string{}
		}

		opts.Parameters[key] = value
	}
}

// WithLogger attaches a structured logger observing handshake, dispatch, and
// steady-state driver activity.
func WithLogger(logger *zap.Logger) OptionFn {
	return func(opts *DialOptions) {
		opts.Logger = logger
	}
}

// WithBufferedMsgSize overrides the read buffer's maximum message size.
func WithBufferedMsgSize(size int) OptionFn {
	return func(opts *DialOptions) {
		opts.BufferedMsgSize = size
	}
}

func defaultDialOptions() DialOptions {
	return DialOptions{
		Port:    5432,
		Timeout: 5 * time.Second,
		SSLMode: SSLPrefer,
		Logger:  zap.NewNop(),
	}
}
