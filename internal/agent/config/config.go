// Package config holds runtime settings for the offline agent. Values
// are layered: struct defaults, then a JSON file (-c/-config), then
// environment variables, then command-line flags. Later sources win.
package config

import "time"

// Config holds runtime settings for the darasa offline agent.
//
// Fields:
//   - ListenAddr: host:port the local gateway listens on.
//   - PlatformBaseURL: base URL of the school platform API.
//   - APIPort: port that marks explicit API traffic for classification.
//   - DataDir: directory for the durable-store databases and the vault.
//   - CacheVersion: cache generation name; bumping it invalidates every
//     cache partition of earlier generations on activation.
//   - ReconcileInterval: how often queued results are uploaded.
//   - RequestTimeout / UploadTimeout: fetch ceilings; uploads get the
//     extended one.
type Config struct {
	ListenAddr        string
	PlatformBaseURL   string
	APIPort           string
	DataDir           string
	CacheVersion      string
	ReconcileInterval time.Duration
	RequestTimeout    time.Duration
	UploadTimeout     time.Duration
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.ListenAddr = "127.0.0.1:9400"
	c.PlatformBaseURL = "http://127.0.0.1:5000"
	c.APIPort = "5000"
	c.DataDir = "darasa-data"
	c.CacheVersion = "v1.0.0"
	c.ReconcileInterval = time.Minute
	c.RequestTimeout = 30 * time.Second
	c.UploadTimeout = 5 * time.Minute
}

// LoadConfig constructs a Config, applies defaults, then overlays values
// from JSON (if present), environment variables and command-line flags.
// Later sources take precedence over earlier ones.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg)
	parseEnv(cfg)
	parseFlags(cfg)
	return cfg
}
