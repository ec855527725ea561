package router

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// entry is the cached shape of one network response. Entries never
// expire on their own: they are overwritten by network-first refreshes
// and dropped wholesale when a version bump garbage-collects their
// partition.
type entry struct {
	Status     int         `json:"status"`
	Header     http.Header `json:"header"`
	Body       []byte      `json:"body"`
	CapturedAt time.Time   `json:"capturedAt"`
}

func newEntry(resp *http.Response, body []byte) entry {
	return entry{
		Status:     resp.StatusCode,
		Header:     resp.Header.Clone(),
		Body:       body,
		CapturedAt: time.Now().UTC(),
	}
}

func (e entry) encode() ([]byte, error) {
	return json.Marshal(e)
}

func decodeEntry(payload []byte) (entry, error) {
	var e entry
	if err := json.Unmarshal(payload, &e); err != nil {
		return entry{}, fmt.Errorf("failed to decode cache entry: %w", err)
	}
	return e, nil
}

// response synthesizes an *http.Response for the cached entry.
func (e entry) response(req *http.Request) *http.Response {
	header := e.Header.Clone()
	if header == nil {
		header = http.Header{}
	}
	header.Set("X-Darasa-Cache", "hit")

	return &http.Response{
		StatusCode:    e.Status,
		Status:        fmt.Sprintf("%d %s", e.Status, http.StatusText(e.Status)),
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(e.Body)),
		ContentLength: int64(len(e.Body)),
		Request:       req,
	}
}

// requestKey identifies a cache slot: method plus path and query.
func requestKey(req *http.Request) string {
	key := req.Method + " " + req.URL.Path
	if req.URL.RawQuery != "" {
		key += "?" + req.URL.RawQuery
	}
	return key
}
