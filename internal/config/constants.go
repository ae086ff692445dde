package config

import "time"

// Database connection pool settings
const (
	DBMaxOpenConns    = 25
	DBMaxIdleConns    = 5
	DBConnMaxLifetime = 5 * time.Minute
)

// HTTP server timeouts
const (
	ServerRequestTimeout  = 60 * time.Second
	ServerReadTimeout     = 15 * time.Second
	ServerIdleTimeout     = 120 * time.Second
	ServerShutdownTimeout = 30 * time.Second
)

// Database ping timeout for health checks
const DBPingTimeout = 5 * time.Second

// Sweep run deadline
const SweepRunTimeout = 30 * time.Second

// Request body limits
const (
	MaxClaimBodyBytes = 1 << 10
	MaxStateBodyBytes = 256 << 10
)

// Timeout for publishing a state event or history point after a write
const SideEffectTimeout = 2 * time.Second
