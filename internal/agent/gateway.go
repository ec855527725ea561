package agent

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
)

// hopByHopHeaders are stripped when proxying in either direction.
var hopByHopHeaders = []string{
	"Connection", "Keep-Alive", "Proxy-Authenticate", "Proxy-Authorization",
	"Te", "Trailer", "Transfer-Encoding", "Upgrade",
}

// handleGateway proxies every non-agent request to the platform through
// the live router, so each request gets its class strategy and the page
// never sees a raw network failure.
func (a *Agent) handleGateway(w http.ResponseWriter, r *http.Request) {
	rt := a.live.Load()
	if rt == nil {
		http.Error(w, "agent is not ready", http.StatusServiceUnavailable)
		return
	}

	target := *a.base
	target.Path = r.URL.Path
	target.RawQuery = r.URL.RawQuery

	out, err := http.NewRequestWithContext(r.Context(), r.Method, target.String(), r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	out.Header = r.Header.Clone()
	for _, h := range hopByHopHeaders {
		out.Header.Del(h)
	}
	out.ContentLength = r.ContentLength

	resp, err := rt.Do(out)
	if err != nil {
		a.log.Error(r.Context(), "gateway request failed",
			"method", r.Method, "path", r.URL.Path, "error", err)
		http.Error(w, "gateway error", http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	header := w.Header()
	for k, vv := range resp.Header {
		for _, v := range vv {
			header.Add(k, v)
		}
	}
	for _, h := range hopByHopHeaders {
		header.Del(h)
	}
	w.WriteHeader(resp.StatusCode)
	_, _ = io.Copy(w, resp.Body)
}

// statusResponse is the body of GET /-/status.
type statusResponse struct {
	Version        string `json:"version"`
	PendingVersion string `json:"pendingVersion,omitempty"`
	QueuedResults  int    `json:"queuedResults"`
	CachedVideos   int    `json:"cachedVideos"`
	VideoBytes     int64  `json:"videoBytes"`
	Degraded       bool   `json:"degraded"`
	HasCredentials bool   `json:"hasCredentials"`
}

func (a *Agent) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	st := statusResponse{HasCredentials: a.vault.Exists()}

	if rt := a.live.Load(); rt != nil {
		st.Version = rt.Version()
	}
	if rt := a.pending.Load(); rt != nil {
		st.PendingVersion = rt.Version()
	}

	if unsynced, err := a.results.ListUnsynced(ctx); err == nil {
		st.QueuedResults = len(unsynced)
	}
	if videos, err := a.downloads.List(ctx); err == nil {
		st.CachedVideos = len(videos)
	}
	if size, err := a.downloads.TotalSize(ctx); err == nil {
		st.VideoBytes = size
	}
	st.Degraded = a.authConn.Degraded() || a.assessConn.Degraded() || a.mediaConn.Degraded()

	writeJSON(w, http.StatusOK, st)
}

// handleEvents streams hub events as server-sent events until the page
// disconnects.
func (a *Agent) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	ch, cancel := a.hub.Subscribe()
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev := <-ch:
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
		}
	}
}

// handleVideos lists downloaded videos, or serves one blob when the url
// query parameter is present.
func (a *Agent) handleVideos(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if u := r.URL.Query().Get("url"); u != "" {
		video, blob, err := a.downloads.Get(ctx, u)
		if err != nil {
			http.Error(w, "video not found", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "video/mp4")
		w.Header().Set("Content-Length", strconv.Itoa(len(blob)))
		w.Header().Set("X-Darasa-Video-Title", video.Title)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(blob)
		return
	}

	videos, err := a.downloads.List(ctx)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"videos": videos})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"success": false, "message": msg})
}
