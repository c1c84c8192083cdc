package app

import "time"

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	HTTPAddr  string
	LogLevel  string
	LogPretty bool

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int

	DatabaseURL      string
	DBSchema         string
	DBMaxConns       int32
	DBMinConns       int32
	DBConnectTimeout time.Duration
	DBMaxConnIdle    time.Duration

	// If true:
	// - /readyz returns 503 unless DB is configured and reachable.
	ReadinessRequireDB bool

	CORSAllowedOrigins   []string
	CORSAllowCredentials bool
	CORSMaxAgeSeconds    int
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	return Config{
		HTTPAddr:  EnvString("COURIER_HTTP_ADDR", "0.0.0.0:8080"),
		LogLevel:  EnvString("COURIER_LOG_LEVEL", "info"),
		LogPretty: EnvBool("COURIER_LOG_PRETTY", false),

		ReadHeaderTimeout: EnvDuration("COURIER_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("COURIER_HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      EnvDuration("COURIER_HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:       EnvDuration("COURIER_HTTP_IDLE_TIMEOUT", 60*time.Second),

		MaxHeaderBytes: EnvInt("COURIER_HTTP_MAX_HEADER_BYTES", 1<<20),

		DatabaseURL:      EnvString("COURIER_DATABASE_URL", EnvString("DATABASE_URL", "")),
		DBSchema:         EnvString("COURIER_DB_SCHEMA", "courier"),
		DBMaxConns:       EnvInt32("COURIER_DB_MAX_CONNS", 10),
		DBMinConns:       EnvInt32("COURIER_DB_MIN_CONNS", 0),
		DBConnectTimeout: EnvDuration("COURIER_DB_CONNECT_TIMEOUT", 5*time.Second),
		DBMaxConnIdle:    EnvDuration("COURIER_DB_MAX_CONN_IDLE", 30*time.Second),

		ReadinessRequireDB: EnvBool("COURIER_READINESS_REQUIRE_DB", false),

		CORSAllowedOrigins:   EnvStringSlice("COURIER_CORS_ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
		CORSAllowCredentials: EnvBool("COURIER_CORS_ALLOW_CREDENTIALS", true),
		CORSMaxAgeSeconds:    EnvInt("COURIER_CORS_MAX_AGE_SECONDS", 300),
	}
}
