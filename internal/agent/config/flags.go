package config

import (
	"flag"
	"os"

	"github.com/darasa-app/darasa/internal/flagx"
)

// parseFlags overlays cfg with command-line flags. Only the flags owned
// by this stage are parsed; -c/-config is handled by parseJson.
func parseFlags(cfg *Config) {
	allowed := []string{"-a", "-b", "-p", "-d", "-v", "-i", "-rt", "-ut"}
	args := flagx.FilterArgs(os.Args[1:], allowed)

	fs := flag.NewFlagSet("agent", flag.ContinueOnError)

	listenAddr := fs.String("a", "", "address the local gateway listens on")
	baseURL := fs.String("b", "", "base URL of the school platform API")
	apiPort := fs.String("p", "", "port marking explicit API traffic")
	dataDir := fs.String("d", "", "directory for databases and the vault")
	cacheVersion := fs.String("v", "", "cache generation name")
	interval := fs.Duration("i", 0, "reconciliation interval")
	requestTimeout := fs.Duration("rt", 0, "request timeout")
	uploadTimeout := fs.Duration("ut", 0, "upload timeout")

	_ = fs.Parse(args)

	if *listenAddr != "" {
		cfg.ListenAddr = *listenAddr
	}
	if *baseURL != "" {
		cfg.PlatformBaseURL = *baseURL
	}
	if *apiPort != "" {
		cfg.APIPort = *apiPort
	}
	if *dataDir != "" {
		cfg.DataDir = *dataDir
	}
	if *cacheVersion != "" {
		cfg.CacheVersion = *cacheVersion
	}
	if *interval > 0 {
		cfg.ReconcileInterval = *interval
	}
	if *requestTimeout > 0 {
		cfg.RequestTimeout = *requestTimeout
	}
	if *uploadTimeout > 0 {
		cfg.UploadTimeout = *uploadTimeout
	}
}
