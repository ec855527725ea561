package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/darasa-app/darasa/internal/common"
	"github.com/darasa-app/darasa/internal/grading"
)

// Control message types. These mirror the messages pages post to the
// agent to drive updates, downloads and sync.
const (
	MsgSkipWaiting   = "SKIP_WAITING"
	MsgPrepareUpdate = "PREPARE_UPDATE"
	MsgCacheVideo    = "CACHE_VIDEO"
	MsgCacheQuiz     = "CACHE_QUIZ"
	MsgSyncNow       = "SYNC_NOW"
)

type controlMessage struct {
	Type    string `json:"type"`
	Version string `json:"version,omitempty"`
	URL     string `json:"url,omitempty"`
	Title   string `json:"title,omitempty"`
}

// handleControl dispatches one control message.
func (a *Agent) handleControl(w http.ResponseWriter, r *http.Request) {
	var msg controlMessage
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		writeError(w, http.StatusBadRequest, "invalid control message")
		return
	}

	switch msg.Type {
	case MsgPrepareUpdate:
		a.prepareUpdate(w, r, msg)
	case MsgSkipWaiting:
		a.skipWaiting(w, r)
	case MsgCacheVideo:
		a.cacheVideo(w, r, msg)
	case MsgCacheQuiz:
		a.cacheQuiz(w, r, msg)
	case MsgSyncNow:
		a.syncNow(w, r)
	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown control message %q", msg.Type))
	}
}

// prepareUpdate builds an inactive router for a new cache version. The
// old caches keep serving until SKIP_WAITING activates it.
func (a *Agent) prepareUpdate(w http.ResponseWriter, r *http.Request, msg controlMessage) {
	if msg.Version == "" {
		writeError(w, http.StatusBadRequest, "version is required")
		return
	}
	if live := a.live.Load(); live != nil && live.Version() == msg.Version {
		writeError(w, http.StatusConflict, "version is already active")
		return
	}

	if old := a.pending.Swap(a.newRouter(msg.Version)); old != nil {
		_ = old.Close()
	}
	a.log.Info(r.Context(), "update prepared", "version", msg.Version)
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "pendingVersion": msg.Version})
}

// skipWaiting activates the pending router, swaps it live and deletes
// stale cache partitions from the previous version.
func (a *Agent) skipWaiting(w http.ResponseWriter, r *http.Request) {
	next := a.pending.Swap(nil)
	if next == nil {
		writeError(w, http.StatusConflict, "no update is pending")
		return
	}

	if err := next.Activate(r.Context()); err != nil {
		a.pending.Store(next)
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("activation failed: %v", err))
		return
	}

	if old := a.live.Swap(next); old != nil {
		_ = old.Close()
	}
	a.hub.Broadcast(Event{Type: EventActivated, Payload: map[string]string{"version": next.Version()}})
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "version": next.Version()})
}

// cacheVideo starts a background download and reports progress over the
// event stream. The control call returns immediately.
func (a *Agent) cacheVideo(w http.ResponseWriter, r *http.Request, msg controlMessage) {
	if msg.URL == "" {
		writeError(w, http.StatusBadRequest, "url is required")
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), a.cfg.UploadTimeout)
		defer cancel()

		progress := func(received, total int64) {
			a.hub.Broadcast(Event{Type: EventDownloadProgress, Payload: map[string]any{
				"url": msg.URL, "received": received, "total": total,
			}})
		}

		video, err := a.downloads.Download(ctx, msg.URL, msg.Title, progress)
		if err != nil {
			a.log.Error(ctx, "video download failed", "url", msg.URL, "error", err)
			a.hub.Broadcast(Event{Type: EventVideoCacheFailed, Payload: map[string]string{
				"url": msg.URL, "error": err.Error(),
			}})
			return
		}
		a.hub.Broadcast(Event{Type: EventVideoCached, Payload: video})
	}()

	writeJSON(w, http.StatusAccepted, map[string]any{"success": true})
}

// cacheQuiz fetches a quiz through the live router and stores a
// normalized snapshot for offline grading.
func (a *Agent) cacheQuiz(w http.ResponseWriter, r *http.Request, msg controlMessage) {
	if msg.URL == "" {
		writeError(w, http.StatusBadRequest, "url is required")
		return
	}
	rt := a.live.Load()
	if rt == nil {
		writeError(w, http.StatusServiceUnavailable, "agent is not ready")
		return
	}

	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, msg.URL, nil)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid quiz url")
		return
	}

	resp, err := rt.Do(req)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil || resp.StatusCode != http.StatusOK {
		writeError(w, http.StatusBadGateway, "quiz fetch failed")
		return
	}

	quiz, err := a.snapshots.Ingest(r.Context(), unwrapData(body))
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	a.hub.Broadcast(Event{Type: EventQuizCached, Payload: map[string]string{
		"quizId": quiz.ID, "title": quiz.Title,
	}})
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true, "quizId": quiz.ID, "questions": len(quiz.Questions),
	})
}

// syncNow runs one reconciliation pass immediately.
func (a *Agent) syncNow(w http.ResponseWriter, r *http.Request) {
	if err := a.reconciler.ReconcileOnce(r.Context()); err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, common.ErrUnauthorized) {
			status = http.StatusUnauthorized
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// unwrapData peels the platform's {success, data} envelope when present,
// so both enveloped and bare quiz payloads ingest.
func unwrapData(body []byte) []byte {
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && len(envelope.Data) > 0 {
		return envelope.Data
	}
	return body
}

// gradeRequest is the body of POST /-/grade.
type gradeRequest struct {
	QuizID    string            `json:"quizId"`
	UserID    string            `json:"userId"`
	StartedAt int64             `json:"startedAt,omitempty"` // unix seconds
	Answers   map[string]string `json:"answers"`
}

// handleGrade grades a submission against a downloaded quiz snapshot and
// queues the result for upload.
func (a *Agent) handleGrade(w http.ResponseWriter, r *http.Request) {
	var req gradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid grade request")
		return
	}
	if req.QuizID == "" || req.UserID == "" {
		writeError(w, http.StatusBadRequest, "quizId and userId are required")
		return
	}

	quiz, err := a.snapshots.Get(r.Context(), req.QuizID)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			writeError(w, http.StatusNotFound, "quiz has not been downloaded")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	sub := grading.Submission{UserID: req.UserID, Answers: req.Answers}
	if req.StartedAt > 0 {
		sub.StartedAt = time.Unix(req.StartedAt, 0)
	}

	result, err := a.engine.Grade(r.Context(), quiz, sub)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": result})
}
