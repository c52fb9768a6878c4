package config

import "time"

// Database connection pool settings
const (
	DBMaxOpenConns    = 25
	DBMaxIdleConns    = 5
	DBConnMaxLifetime = 5 * time.Minute
)

// HTTP server timeouts. The request timeout must outlive a pairing wait.
const (
	ServerRequestTimeout  = 90 * time.Second
	ServerReadTimeout     = 15 * time.Second
	ServerIdleTimeout     = 120 * time.Second
	ServerShutdownTimeout = 30 * time.Second
)

// Database ping timeout for health checks
const DBPingTimeout = 5 * time.Second

// Upper bound for PAIRING_TIMEOUT so HTTP pairing calls fit ServerRequestTimeout.
const MaxPairingTimeout = 60 * time.Second

// Bus publish/connect timeouts
const (
	BusConnectTimeout = 15 * time.Second
	BusPublishTimeout = 10 * time.Second
)

// Presenter session cache size
const SessionCacheSize = 10000
