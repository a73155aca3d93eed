package database

import (
	"fmt"
	"net"
	"net/url"
	"strconv"

	"github.com/rickgao/hubconn/internal/config"
)

// connectTimeout bounds each new connection, in seconds.
const connectTimeout = 10

// BuildConnString builds a PostgreSQL connection string from config.
func BuildConnString(cfg config.DBConfig) string {
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = config.DefaultDBSSLMode
	}

	// url.UserPassword escapes special characters in the credentials
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(cfg.User, cfg.Password),
		Host:     net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Path:     "/" + cfg.Name,
		RawQuery: fmt.Sprintf("sslmode=%s&connect_timeout=%d", sslMode, connectTimeout),
	}
	return u.String()
}
