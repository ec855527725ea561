package config

import (
	"encoding/json"
	"os"

	"github.com/darasa-app/darasa/internal/flagx"
	"github.com/darasa-app/darasa/internal/timex"
)

// JsonConfig is a DTO used exclusively for JSON unmarshalling. It relies
// on timex.Duration so intervals can be written either as strings like
// "90s" or as integer nanoseconds.
type JsonConfig struct {
	ListenAddr        string         `json:"listen_addr"`
	PlatformBaseURL   string         `json:"platform_base_url"`
	APIPort           string         `json:"api_port"`
	DataDir           string         `json:"data_dir"`
	CacheVersion      string         `json:"cache_version"`
	ReconcileInterval timex.Duration `json:"reconcile_interval"`
	RequestTimeout    timex.Duration `json:"request_timeout"`
	UploadTimeout     timex.Duration `json:"upload_timeout"`
}

// parseJson overlays cfg with values from the JSON file named by the
// -c/-config flags. With no flag, nothing is loaded. Read or parse
// errors panic; the agent must not start against a broken config file.
func parseJson(cfg *Config) {
	jsonConfigFile := flagx.JsonConfigFlags()
	if jsonConfigFile == "" {
		return
	}

	var jc JsonConfig

	data, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}
	if err := json.Unmarshal(data, &jc); err != nil {
		panic(err)
	}

	if jc.ListenAddr != "" {
		cfg.ListenAddr = jc.ListenAddr
	}
	if jc.PlatformBaseURL != "" {
		cfg.PlatformBaseURL = jc.PlatformBaseURL
	}
	if jc.APIPort != "" {
		cfg.APIPort = jc.APIPort
	}
	if jc.DataDir != "" {
		cfg.DataDir = jc.DataDir
	}
	if jc.CacheVersion != "" {
		cfg.CacheVersion = jc.CacheVersion
	}
	if jc.ReconcileInterval.Duration > 0 {
		cfg.ReconcileInterval = jc.ReconcileInterval.Duration
	}
	if jc.RequestTimeout.Duration > 0 {
		cfg.RequestTimeout = jc.RequestTimeout.Duration
	}
	if jc.UploadTimeout.Duration > 0 {
		cfg.UploadTimeout = jc.UploadTimeout.Duration
	}
}
