package router

import (
	"encoding/json"
	"net/http"

	"github.com/darasa-app/darasa/internal/store"
)

// fetchFailed reports whether the network attempt counts as failed for
// the fallback decision. A transport error and a non-200 status are
// treated alike: both activate the strategy's fallback chain, so a
// server error is never surfaced over a usable cached entry.
func fetchFailed(resp *http.Response, err error) bool {
	return err != nil || resp.StatusCode != http.StatusOK
}

// cached loads and decodes the entry for key. An undecodable record is
// dropped so the next attempt refetches.
func (rt *Router) cached(req *http.Request, part *store.Partition, key string) (entry, bool) {
	rec, err := part.Get(req.Context(), key)
	if err != nil {
		return entry{}, false
	}
	e, err := decodeEntry(rec.Payload)
	if err != nil {
		_ = part.Delete(req.Context(), key)
		return entry{}, false
	}
	return e, true
}

// cacheFirst serves warm entries without touching the network. A miss
// fetches and write-throughs on 200 before returning; a failed fetch
// with no cache yields the structured unavailable response.
func (rt *Router) cacheFirst(req *http.Request, part *store.Partition) (*http.Response, error) {
	key := requestKey(req)

	if e, ok := rt.cached(req, part, key); ok {
		return e.response(req), nil
	}

	resp, body, err := rt.fetch(req)
	if fetchFailed(resp, err) {
		rt.log.Debug(req.Context(), "cache-first fetch failed", "key", key,
			"status", fetchStatus(resp), "error", err)
		return rt.unavailable(req), nil
	}
	rt.writeThrough(req, part, key, resp, body)
	return replay(resp, body), nil
}

// networkFirst fetches and overwrites the cache entry before the
// response is returned; a failed fetch falls back to the cache, then to
// the structured unavailable response.
func (rt *Router) networkFirst(req *http.Request, part *store.Partition) (*http.Response, error) {
	key := requestKey(req)

	resp, body, err := rt.fetch(req)
	if !fetchFailed(resp, err) {
		rt.writeThrough(req, part, key, resp, body)
		return replay(resp, body), nil
	}
	rt.log.Debug(req.Context(), "network-first fetch failed, trying cache", "key", key,
		"status", fetchStatus(resp), "error", err)

	if e, ok := rt.cached(req, part, key); ok {
		return e.response(req), nil
	}
	return rt.unavailable(req), nil
}

// authFirst caches only successful POST logins (body reports success),
// keyed by path so the most recent successful auth response wins. On a
// failed fetch it replays that response with an injected offline
// marker, or returns a structured offline denial when nothing is
// cached.
func (rt *Router) authFirst(req *http.Request, part *store.Partition) (*http.Response, error) {
	key := req.URL.Path

	resp, body, err := rt.fetch(req)
	if !fetchFailed(resp, err) {
		if req.Method == http.MethodPost && bodyReportsSuccess(body) {
			rt.writeThrough(req, part, key, resp, body)
		}
		return replay(resp, body), nil
	}
	rt.log.Debug(req.Context(), "auth fetch failed, trying cached login", "key", key,
		"status", fetchStatus(resp), "error", err)

	if e, ok := rt.cached(req, part, key); ok {
		e.Body = injectOfflineMarker(e.Body)
		return e.response(req), nil
	}
	return rt.offlineDenial(req, "You are offline and no previous login is available on this device."), nil
}

// assessmentFirst caches every 200 regardless of method; its offline
// denial tells the user to pre-download the assessment.
func (rt *Router) assessmentFirst(req *http.Request, part *store.Partition) (*http.Response, error) {
	key := requestKey(req)

	resp, body, err := rt.fetch(req)
	if !fetchFailed(resp, err) {
		rt.writeThrough(req, part, key, resp, body)
		return replay(resp, body), nil
	}
	rt.log.Debug(req.Context(), "assessment fetch failed, trying cache", "key", key,
		"status", fetchStatus(resp), "error", err)

	if e, ok := rt.cached(req, part, key); ok {
		e.Body = injectOfflineMarker(e.Body)
		return e.response(req), nil
	}
	return rt.offlineDenial(req, "This assessment has not been downloaded. Connect to the internet and download it before going offline."), nil
}

// fetchStatus is a log-friendly status for a possibly-nil response.
func fetchStatus(resp *http.Response) int {
	if resp == nil {
		return 0
	}
	return resp.StatusCode
}

// bodyReportsSuccess checks the explicit success flag in an auth
// response body.
func bodyReportsSuccess(body []byte) bool {
	var payload struct {
		Success bool `json:"success"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return false
	}
	return payload.Success
}

// injectOfflineMarker sets "offline": true on a cached JSON body so the
// UI can tell a replayed response from a live one. Non-JSON bodies are
// returned unchanged.
func injectOfflineMarker(body []byte) []byte {
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		return body
	}
	payload["offline"] = true
	marked, err := json.Marshal(payload)
	if err != nil {
		return body
	}
	return marked
}
