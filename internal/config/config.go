package config

import "time"

// Config is the root configuration for a hubwatch instance.
type Config struct {
	Instance   InstanceConfig   `yaml:"instance"`
	Platform   PlatformConfig   `yaml:"platform"`
	Connection ConnectionConfig `yaml:"connection"`
	Recorder   RecorderConfig   `yaml:"recorder"`
	Log        LogConfig        `yaml:"log"`
	Health     HealthConfig     `yaml:"health"`
}

// InstanceConfig identifies this process.
type InstanceConfig struct {
	ID          string `yaml:"id"`
	Environment string `yaml:"environment"` // frame tracing is on outside "production"
}

// PlatformConfig holds the platform endpoints and credentials.
type PlatformConfig struct {
	WSURL         string        `yaml:"ws_url"`
	HTTPURL       string        `yaml:"http_url"` // fallback transport base URL
	SessionToken  string        `yaml:"session_token"`
	FallbackTypes []string      `yaml:"fallback_types"` // message types sent over HTTP
	HTTPTimeout   time.Duration `yaml:"http_timeout"`
	MaxRetries    int           `yaml:"max_retries"`
}

// ConnectionConfig holds persistent connection settings.
type ConnectionConfig struct {
	RequestTimeout time.Duration `yaml:"request_timeout"`
	BackoffInitial time.Duration `yaml:"backoff_initial"`
	BackoffMax     time.Duration `yaml:"backoff_max"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	PingInterval   time.Duration `yaml:"ping_interval"`
	PingTimeout    time.Duration `yaml:"ping_timeout"`
	MaxListeners   int           `yaml:"max_listeners"`
	BufferSize     int           `yaml:"buffer_size"`
}

// RecorderConfig holds the event recorder settings.
type RecorderConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Database      DBConfig      `yaml:"database"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	BufferSize    int           `yaml:"buffer_size"`
}

// DBConfig holds a single database connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `yaml:"level"`
}

// HealthConfig holds the health endpoint settings.
type HealthConfig struct {
	Port int `yaml:"port"`
}

// IsProduction reports whether the instance runs in production.
func (c *Config) IsProduction() bool {
	return c.Instance.Environment == EnvironmentProduction
}
