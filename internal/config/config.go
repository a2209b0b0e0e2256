// Package config handles configuration for the offline substrate, including
// defaults, JSON overlay, and command-line flags.
package config

import "time"

// Conflict resolution strategy names accepted in config.
const (
	StrategyServerWins = "server_wins"
	StrategyClientWins = "client_wins"
	StrategyMerge      = "merge"
)

// Config holds runtime settings for the substrate.
//
// Fields:
//   - DataDir: directory holding the local SQLite database (or the KV
//     containers in fallback mode).
//   - RemoteBaseURL: base URL of the remote authority's REST API.
//   - ListenAddr: bind address for the local gateway HTTP endpoint.
//   - SecretKey: HMAC secret for signing session tokens (HS256). Do not use
//     the default outside development.
//   - TokenValidity: session token lifetime.
//   - OnlineCheckInterval: how often the prober checks remote reachability.
//   - ProbeTimeout / RequestTimeout: bounds on remote calls so a hung remote
//     never stalls the local application.
//   - SyncInterval: periodic queue drain interval.
//   - SyncMaxAttempts: retry budget per queue entry before it is marked failed.
//   - SyncFanout: max records drained concurrently.
//   - ConflictStrategy: server_wins (default), client_wins, or merge.
//   - PreferLocal: answer locally even when the remote is reachable.
type Config struct {
	DataDir             string
	RemoteBaseURL       string
	ListenAddr          string
	SecretKey           string
	TokenValidity       time.Duration
	OnlineCheckInterval time.Duration
	ProbeTimeout        time.Duration
	RequestTimeout      time.Duration
	SyncInterval        time.Duration
	SyncMaxAttempts     int
	SyncFanout          int
	ConflictStrategy    string
	PreferLocal         bool
}

// LoadDefaults populates c with sensible development defaults.
// NOTE: These values are insecure for production and should be overridden.
func (c *Config) LoadDefaults() {
	c.DataDir = "./data"
	c.RemoteBaseURL = "http://127.0.0.1:8080"
	c.ListenAddr = "127.0.0.1:8790"
	c.SecretKey = "secretKey"
	c.TokenValidity = 30 * time.Minute
	c.OnlineCheckInterval = 3 * time.Second
	c.ProbeTimeout = 2 * time.Second
	c.RequestTimeout = 5 * time.Second
	c.SyncInterval = 30 * time.Second
	c.SyncMaxAttempts = 5
	c.SyncFanout = 4
	c.ConflictStrategy = StrategyServerWins
	c.PreferLocal = false
}

// LoadConfig constructs a Config, applies defaults, then overlays values from
// JSON (if present) and command-line flags (if present). Later sources take
// precedence over earlier ones.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg)
	parseFlags(cfg)
	return cfg
}
