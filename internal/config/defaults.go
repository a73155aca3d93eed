package config

import "time"

// Default values for optional configuration fields.
const (
	EnvironmentProduction = "production"

	DefaultEnvironment    = EnvironmentProduction
	DefaultHTTPTimeout    = 30 * time.Second
	DefaultRequestTimeout = 50 * time.Second
	DefaultBackoffInitial = 100 * time.Millisecond
	DefaultBackoffMax     = 30 * time.Second
	DefaultWriteTimeout   = 5 * time.Second
	DefaultPingInterval   = 30 * time.Second
	DefaultPingTimeout    = 60 * time.Second
	DefaultMaxListeners   = 100
	DefaultSocketBuffer   = 1000
	DefaultDBPort         = 5432
	DefaultDBSSLMode      = "prefer"
	DefaultMaxConns       = 4
	DefaultMinConns       = 1
	DefaultBatchSize      = 500
	DefaultFlushInterval  = 1 * time.Second
	DefaultBufferSize     = 10000
	DefaultLogLevel       = "info"
	DefaultHealthPort     = 8080
)

// DefaultFallbackTypes are the account operations sent over HTTP rather
// than the persistent connection.
var DefaultFallbackTypes = []string{
	"person:ChangePassword",
	"person:ChangePin",
	"person:SetSecurityAnswers",
}

func (c *Config) applyDefaults() {
	if c.Instance.Environment == "" {
		c.Instance.Environment = DefaultEnvironment
	}

	// Platform defaults
	if c.Platform.FallbackTypes == nil {
		c.Platform.FallbackTypes = append([]string(nil), DefaultFallbackTypes...)
	}
	if c.Platform.HTTPTimeout == 0 {
		c.Platform.HTTPTimeout = DefaultHTTPTimeout
	}

	// Connection defaults
	if c.Connection.RequestTimeout == 0 {
		c.Connection.RequestTimeout = DefaultRequestTimeout
	}
	if c.Connection.BackoffInitial == 0 {
		c.Connection.BackoffInitial = DefaultBackoffInitial
	}
	if c.Connection.BackoffMax == 0 {
		c.Connection.BackoffMax = DefaultBackoffMax
	}
	if c.Connection.WriteTimeout == 0 {
		c.Connection.WriteTimeout = DefaultWriteTimeout
	}
	if c.Connection.PingInterval == 0 {
		c.Connection.PingInterval = DefaultPingInterval
	}
	if c.Connection.PingTimeout == 0 {
		c.Connection.PingTimeout = DefaultPingTimeout
	}
	if c.Connection.MaxListeners == 0 {
		c.Connection.MaxListeners = DefaultMaxListeners
	}
	if c.Connection.BufferSize == 0 {
		c.Connection.BufferSize = DefaultSocketBuffer
	}

	// Recorder defaults
	applyDBDefaults(&c.Recorder.Database)
	if c.Recorder.BatchSize == 0 {
		c.Recorder.BatchSize = DefaultBatchSize
	}
	if c.Recorder.FlushInterval == 0 {
		c.Recorder.FlushInterval = DefaultFlushInterval
	}
	if c.Recorder.BufferSize == 0 {
		c.Recorder.BufferSize = DefaultBufferSize
	}

	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
	if c.Health.Port == 0 {
		c.Health.Port = DefaultHealthPort
	}
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}
