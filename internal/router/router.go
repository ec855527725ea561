package router

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/darasa-app/darasa/internal/logging"
	"github.com/darasa-app/darasa/internal/store"
)

// partitionSchemaVersion is the logical schema of cache entries inside a
// partition. Cache invalidation across releases happens through the
// partition *name* (which embeds the cache version), not this number.
const partitionSchemaVersion = 1

// Stores groups the three independent durable-store databases. Requests
// are cached in the database owning their content tier so a version
// bump in one tier never migrates the others.
type Stores struct {
	Auth        *store.Store
	Assessments *store.Store
	Media       *store.Store
}

func (s Stores) forClass(c Class) *store.Store {
	switch c {
	case ClassAuthEndpoint:
		return s.Auth
	case ClassAssessmentEndpoint:
		return s.Assessments
	default:
		return s.Media
	}
}

// Options configures a Router.
type Options struct {
	// Version names this cache generation, e.g. "v2.0.1". Partition
	// names embed it; activation deletes partitions from other versions.
	Version string
	// APIPort marks explicit API-port traffic as generic API.
	APIPort string
	// Transport performs real network fetches. Defaults to
	// http.DefaultTransport.
	Transport http.RoundTripper
	// RequestTimeout bounds ordinary fetches; UploadTimeout is the
	// extended ceiling for request-body-bearing calls.
	RequestTimeout time.Duration
	UploadTimeout  time.Duration
	// Protected partitions are never garbage-collected on activation
	// (downloaded videos, quiz snapshots).
	Protected []string

	Log logging.Logger
}

// Router applies one caching strategy per request class. Build one with
// New, call Activate before use, and route every outbound request
// through Do.
type Router struct {
	version   string
	apiPort   string
	transport http.RoundTripper
	reqTO     time.Duration
	upTO      time.Duration
	protected map[string]bool
	stores    Stores
	parts     map[Class]*store.Partition
	log       logging.Logger
}

// New builds an inactive Router. No partitions are opened until Activate.
func New(stores Stores, opts Options) *Router {
	if opts.Transport == nil {
		opts.Transport = http.DefaultTransport
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 30 * time.Second
	}
	if opts.UploadTimeout <= 0 {
		opts.UploadTimeout = 5 * time.Minute
	}
	if opts.Log == nil {
		opts.Log = logging.NewNopLogger()
	}

	protected := make(map[string]bool, len(opts.Protected))
	for _, name := range opts.Protected {
		protected[name] = true
	}

	return &Router{
		version:   opts.Version,
		apiPort:   opts.APIPort,
		transport: opts.Transport,
		reqTO:     opts.RequestTimeout,
		upTO:      opts.UploadTimeout,
		protected: protected,
		stores:    stores,
		log:       opts.Log,
	}
}

// Version returns the cache generation this router serves.
func (rt *Router) Version() string { return rt.version }

// PartitionName is the on-disk name of a class partition for a version.
func PartitionName(c Class, version string) string {
	return string(c) + "-" + version
}

// Activate opens this version's partitions and garbage-collects every
// cache partition from other versions (forward-only GC). After Activate
// returns, callers must route all traffic through this router instance;
// the agent swaps the live router atomically so no stale instance keeps
// serving old partition names.
func (rt *Router) Activate(ctx context.Context) error {
	parts := make(map[Class]*store.Partition, len(Classes))
	for _, c := range Classes {
		p, err := rt.stores.forClass(c).Open(ctx, PartitionName(c, rt.version), partitionSchemaVersion, nil)
		if err != nil {
			return fmt.Errorf("failed to open partition for %s: %w", c, err)
		}
		parts[c] = p
	}
	rt.parts = parts

	allowed := make(map[string]bool, len(Classes))
	for _, c := range Classes {
		allowed[PartitionName(c, rt.version)] = true
	}

	for _, s := range []*store.Store{rt.stores.Auth, rt.stores.Assessments, rt.stores.Media} {
		names, err := s.ListPartitions(ctx)
		if err != nil {
			return fmt.Errorf("failed to list partitions: %w", err)
		}
		for _, name := range names {
			if allowed[name] || rt.protected[name] {
				continue
			}
			if !rt.isCachePartition(name) {
				continue
			}
			if err := s.DeletePartition(ctx, name); err != nil {
				return fmt.Errorf("failed to delete stale partition %s: %w", name, err)
			}
			rt.log.Info(ctx, "deleted stale cache partition", "partition", name)
		}
	}

	rt.log.Info(ctx, "router activated", "version", rt.version)
	return nil
}

// isCachePartition reports whether a partition name belongs to some
// router generation. Non-cache partitions (snapshots, downloads) are
// left alone even when not explicitly protected.
func (rt *Router) isCachePartition(name string) bool {
	for _, c := range Classes {
		if strings.HasPrefix(name, string(c)+"-") {
			return true
		}
	}
	return false
}

// Close releases the partition handles.
func (rt *Router) Close() error {
	for _, p := range rt.parts {
		_ = p.Close()
	}
	rt.parts = nil
	return nil
}

// Do routes one request through its class strategy. The returned
// response is always non-nil on a nil error; strategy exhaustion yields
// a structured unavailable response rather than an error.
func (rt *Router) Do(req *http.Request) (*http.Response, error) {
	if rt.parts == nil {
		return nil, fmt.Errorf("router is not activated")
	}

	class := Classify(req, rt.apiPort)
	part := rt.parts[class]
	rt.log.Debug(req.Context(), "routing request",
		"method", req.Method, "path", req.URL.Path, "class", string(class))

	switch StrategyFor(class) {
	case CacheFirst:
		return rt.cacheFirst(req, part)
	case AuthFirst:
		return rt.authFirst(req, part)
	case AssessmentFirst:
		return rt.assessmentFirst(req, part)
	default:
		return rt.networkFirst(req, part)
	}
}

// largeUploadBytes is the request-body size from which the extended
// upload ceiling applies. Small JSON posts (logins, report submissions)
// stay on the ordinary request timeout.
const largeUploadBytes = 1 << 20

// isLargeUpload reports whether a request body is big, or of unknown
// length, and therefore deserves the extended upload timeout.
func isLargeUpload(req *http.Request) bool {
	if req.Body == nil || req.Method == http.MethodGet || req.Method == http.MethodHead {
		return false
	}
	return req.ContentLength < 0 || req.ContentLength >= largeUploadBytes
}

// fetch performs the real network call with the size-appropriate
// timeout and drains the body so the response can be both cached and
// replayed to the caller.
func (rt *Router) fetch(req *http.Request) (*http.Response, []byte, error) {
	timeout := rt.reqTO
	if isLargeUpload(req) {
		timeout = rt.upTO
	}

	ctx, cancel := context.WithTimeout(req.Context(), timeout)
	defer cancel()

	resp, err := rt.transport.RoundTrip(req.WithContext(ctx))
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, err
	}
	resp.Body = io.NopCloser(bytes.NewReader(body))
	return resp, body, nil
}

// writeThrough caches the response body under key. Failures are logged
// and swallowed: a cache write must never break the live response.
func (rt *Router) writeThrough(req *http.Request, part *store.Partition, key string, resp *http.Response, body []byte) {
	payload, err := newEntry(resp, body).encode()
	if err == nil {
		err = part.Put(req.Context(), key, payload)
	}
	if err != nil {
		rt.log.Warn(req.Context(), "cache write-through failed",
			"partition", part.Name(), "key", key, "error", err)
	}
}

// replay rebuilds a live response whose body has already been drained.
func replay(resp *http.Response, body []byte) *http.Response {
	resp.Body = io.NopCloser(bytes.NewReader(body))
	resp.ContentLength = int64(len(body))
	return resp
}
