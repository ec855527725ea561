// Package agent wires the offline layer together and exposes it as a
// local HTTP gateway. Pages talk to the gateway instead of the platform
// directly; the gateway serves from cache or network per request class,
// grades assessments locally and reconciles queued results upstream.
package agent

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"github.com/darasa-app/darasa/internal/agent/config"
	"github.com/darasa-app/darasa/internal/grading"
	"github.com/darasa-app/darasa/internal/logging"
	"github.com/darasa-app/darasa/internal/platform"
	"github.com/darasa-app/darasa/internal/reconcile"
	"github.com/darasa-app/darasa/internal/router"
	"github.com/darasa-app/darasa/internal/store"
	"github.com/darasa-app/darasa/internal/store/migrations"
	"github.com/darasa-app/darasa/internal/vault"
)

// SnapshotPartition holds downloaded quiz snapshots. It survives cache
// version bumps.
const SnapshotPartition = "quizzes"

const snapshotSchemaVersion = 1

// Options configures an Agent.
type Options struct {
	Config *config.Config
	// Transport performs real network calls. Defaults to
	// http.DefaultTransport.
	Transport http.RoundTripper
	Log       logging.Logger
}

// Agent owns the durable stores, the request router, the grading engine
// and the reconciler, and serves them over a local HTTP listener.
type Agent struct {
	cfg       *config.Config
	base      *url.URL
	transport http.RoundTripper
	log       logging.Logger

	authConn   *store.Conn
	assessConn *store.Conn
	mediaConn  *store.Conn
	stores     router.Stores

	vault      *vault.Vault
	snapshots  *grading.Snapshots
	results    *grading.SQLiteResults
	engine     *grading.Engine
	downloads  *router.Downloads
	reconciler *reconcile.Reconciler
	hub        *Hub

	live    atomic.Pointer[router.Router]
	pending atomic.Pointer[router.Router]
}

// New builds an Agent. Nothing touches disk or network until Run (or
// init in tests).
func New(opts Options) (*Agent, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if opts.Transport == nil {
		opts.Transport = http.DefaultTransport
	}
	if opts.Log == nil {
		opts.Log = logging.NewNopLogger()
	}

	if err := os.MkdirAll(opts.Config.DataDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}

	base, err := url.Parse(opts.Config.PlatformBaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid platform base URL: %w", err)
	}

	v, err := vault.New(opts.Config.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open credential vault: %w", err)
	}

	a := &Agent{
		cfg:       opts.Config,
		base:      base,
		transport: opts.Transport,
		log:       opts.Log,
		vault:     v,
		hub:       NewHub(),
	}

	dir := opts.Config.DataDir
	a.authConn = store.NewConn(filepath.Join(dir, "authcache.db"), migrations.AuthCache(), opts.Log)
	a.assessConn = store.NewConn(filepath.Join(dir, "assessments.db"), migrations.Assessments(), opts.Log)
	a.mediaConn = store.NewConn(filepath.Join(dir, "media.db"), migrations.Media(), opts.Log)

	a.stores = router.Stores{
		Auth:        store.New(a.authConn, opts.Log),
		Assessments: store.New(a.assessConn, opts.Log),
		Media:       store.New(a.mediaConn, opts.Log),
	}

	a.results = grading.NewSQLiteResults(a.assessConn)
	a.engine = grading.NewEngine(a.results, opts.Log)

	client := platform.NewHTTPClient(opts.Config.PlatformBaseURL, opts.Transport,
		opts.Config.RequestTimeout, opts.Config.UploadTimeout)
	a.reconciler = reconcile.New(a.results, client, v, opts.Config.ReconcileInterval, opts.Log)

	return a, nil
}

// protectedPartitions are never garbage-collected on activation.
func protectedPartitions() []string {
	return []string{router.VideoBlobPartition, router.VideoMetaPartition, SnapshotPartition}
}

// newRouter builds an inactive router for a cache version.
func (a *Agent) newRouter(version string) *router.Router {
	return router.New(a.stores, router.Options{
		Version:        version,
		APIPort:        a.cfg.APIPort,
		Transport:      a.transport,
		RequestTimeout: a.cfg.RequestTimeout,
		UploadTimeout:  a.cfg.UploadTimeout,
		Protected:      protectedPartitions(),
		Log:            a.log,
	})
}

// init opens the long-lived partitions and activates the initial router.
func (a *Agent) init(ctx context.Context) error {
	blobs, err := a.stores.Media.Open(ctx, router.VideoBlobPartition, snapshotSchemaVersion, nil)
	if err != nil {
		return fmt.Errorf("failed to open video partition: %w", err)
	}
	meta, err := a.stores.Media.Open(ctx, router.VideoMetaPartition, snapshotSchemaVersion, nil)
	if err != nil {
		return fmt.Errorf("failed to open video metadata partition: %w", err)
	}
	a.downloads = router.NewDownloads(blobs, meta, a.transport, a.log)

	snaps, err := a.stores.Assessments.Open(ctx, SnapshotPartition, snapshotSchemaVersion, nil)
	if err != nil {
		return fmt.Errorf("failed to open snapshot partition: %w", err)
	}
	a.snapshots = grading.NewSnapshots(snaps)

	rt := a.newRouter(a.cfg.CacheVersion)
	if err := rt.Activate(ctx); err != nil {
		return fmt.Errorf("failed to activate router: %w", err)
	}
	a.live.Store(rt)

	return nil
}

// handler builds the gateway mux. Agent endpoints live under /-/ so they
// can never shadow a platform path.
func (a *Agent) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /-/control", a.handleControl)
	mux.HandleFunc("POST /-/grade", a.handleGrade)
	mux.HandleFunc("GET /-/events", a.handleEvents)
	mux.HandleFunc("GET /-/status", a.handleStatus)
	mux.HandleFunc("GET /-/videos", a.handleVideos)
	mux.HandleFunc("/", a.handleGateway)
	return mux
}

// Run serves the gateway until ctx is cancelled, reconciling queued
// results in the background.
func (a *Agent) Run(ctx context.Context) error {
	if err := a.init(ctx); err != nil {
		return err
	}
	defer a.Close()

	go a.reconciler.Run(ctx)

	srv := &http.Server{
		Addr:    a.cfg.ListenAddr,
		Handler: a.handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.Info(ctx, "gateway listening", "addr", a.cfg.ListenAddr, "version", a.cfg.CacheVersion)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down gateway: %w", err)
	}
	a.log.Info(ctx, "gateway stopped")
	return nil
}

// Close releases routers and database handles.
func (a *Agent) Close() {
	if rt := a.pending.Swap(nil); rt != nil {
		_ = rt.Close()
	}
	if rt := a.live.Swap(nil); rt != nil {
		_ = rt.Close()
	}
	_ = a.authConn.Reset()
	_ = a.assessConn.Reset()
	_ = a.mediaConn.Reset()
}
