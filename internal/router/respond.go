package router

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const offlineHTML = `<!doctype html>
<html><head><title>Offline</title></head>
<body><h1>You are offline</h1>
<p>This page is not available offline. Reconnect and try again.</p>
</body></html>`

// unavailable is the terminal fallback for cache-first and network-first
// strategies: a structured 503 payload, HTML for document-like requests
// and JSON for everything else. It is returned to the caller as a
// response, never raised as an error.
func (rt *Router) unavailable(req *http.Request) *http.Response {
	if wantsHTML(req) {
		return synthesize(req, http.StatusServiceUnavailable,
			"text/html; charset=utf-8", []byte(offlineHTML))
	}

	body, _ := json.Marshal(map[string]any{
		"success": false,
		"offline": true,
		"message": "Content is not available offline.",
	})
	return synthesize(req, http.StatusServiceUnavailable, "application/json", body)
}

// offlineDenial is the structured denial for auth and assessment
// strategies when no cached response exists.
func (rt *Router) offlineDenial(req *http.Request, message string) *http.Response {
	body, _ := json.Marshal(map[string]any{
		"success": false,
		"offline": true,
		"message": message,
	})
	return synthesize(req, http.StatusServiceUnavailable, "application/json", body)
}

func wantsHTML(req *http.Request) bool {
	if strings.EqualFold(req.Header.Get("Sec-Fetch-Dest"), "document") {
		return true
	}
	return strings.Contains(req.Header.Get("Accept"), "text/html")
}

func synthesize(req *http.Request, status int, contentType string, body []byte) *http.Response {
	header := http.Header{}
	header.Set("Content-Type", contentType)
	header.Set("X-Darasa-Offline", "true")

	return &http.Response{
		StatusCode:    status,
		Status:        fmt.Sprintf("%d %s", status, http.StatusText(status)),
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(body)),
		ContentLength: int64(len(body)),
		Request:       req,
	}
}
