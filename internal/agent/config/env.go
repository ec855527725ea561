package config

import (
	"os"
	"time"
)

// parseEnv overlays cfg with DARASA_* environment variables. Unset or
// unparsable variables leave the current value in place.
func parseEnv(cfg *Config) {
	if v := os.Getenv("DARASA_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("DARASA_PLATFORM_BASE_URL"); v != "" {
		cfg.PlatformBaseURL = v
	}
	if v := os.Getenv("DARASA_API_PORT"); v != "" {
		cfg.APIPort = v
	}
	if v := os.Getenv("DARASA_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("DARASA_CACHE_VERSION"); v != "" {
		cfg.CacheVersion = v
	}
	if v := os.Getenv("DARASA_RECONCILE_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.ReconcileInterval = d
		}
	}
	if v := os.Getenv("DARASA_REQUEST_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.RequestTimeout = d
		}
	}
	if v := os.Getenv("DARASA_UPLOAD_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.UploadTimeout = d
		}
	}
}
