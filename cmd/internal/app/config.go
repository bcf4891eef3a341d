package app

import "time"

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	HTTPAddr  string
	LogLevel  string
	LogFormat string

	ReadHeaderTimeout time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int

	DatabaseURL string
	DBMaxConns  int32
	DBMinConns  int32

	// If true:
	// - /readyz returns 503 unless DB is configured and reachable.
	ReadinessRequireDB bool

	// Cookie carrying the bearer credential; must match the name used by the
	// issuing collaborator and by the WebSocket gateway.
	AuthCookieName string
}

// LoadConfig loads Config from environment variables with defaults.
//
// ReadTimeout and WriteTimeout are deliberately absent: the server hosts
// long-lived WebSocket sessions, and either would sever them mid-flight.
func LoadConfig() Config {
	return Config{
		HTTPAddr:  EnvString("BEACON_HTTP_ADDR", "0.0.0.0:8080"),
		LogLevel:  EnvString("BEACON_LOG_LEVEL", "info"),
		LogFormat: EnvString("BEACON_LOG_FORMAT", "json"),

		ReadHeaderTimeout: EnvDuration("BEACON_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		IdleTimeout:       EnvDuration("BEACON_HTTP_IDLE_TIMEOUT", 60*time.Second),

		MaxHeaderBytes: EnvInt("BEACON_HTTP_MAX_HEADER_BYTES", 1<<20),

		DatabaseURL: EnvString("BEACON_DATABASE_URL", ""),
		DBMaxConns:  EnvInt32("BEACON_DB_MAX_CONNS", 10),
		DBMinConns:  EnvInt32("BEACON_DB_MIN_CONNS", 0),

		ReadinessRequireDB: EnvBool("BEACON_READINESS_REQUIRE_DB", false),

		AuthCookieName: EnvString("BEACON_WS_AUTH_COOKIE", "access_token"),
	}
}
