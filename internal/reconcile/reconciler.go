// Package reconcile uploads locally graded, still-unsynced quiz results
// to the platform and flips their synced flag on explicit server
// acknowledgment. Results are never deleted after sync; they stay as
// local history.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/darasa-app/darasa/internal/common"
	"github.com/darasa-app/darasa/internal/grading"
	"github.com/darasa-app/darasa/internal/logging"
	"github.com/darasa-app/darasa/internal/platform"
	"github.com/darasa-app/darasa/internal/vault"
)

const (
	defaultInterval = time.Minute
	uploadRetries   = 3
	retryBase       = 500 * time.Millisecond
)

// Reconciler drains the unsynced-results queue. Passes are serialized:
// a tick that fires while a pass is still running is skipped, so no
// result is ever uploaded twice concurrently.
type Reconciler struct {
	results  grading.Results
	client   platform.Client
	vault    *vault.Vault
	interval time.Duration
	log      logging.Logger

	passMu sync.Mutex

	tokenMu sync.Mutex
	token   string
}

// New builds a Reconciler. interval <= 0 selects the default.
func New(results grading.Results, client platform.Client, v *vault.Vault, interval time.Duration, log logging.Logger) *Reconciler {
	if interval <= 0 {
		interval = defaultInterval
	}
	if log == nil {
		log = logging.NewNopLogger()
	}
	return &Reconciler{results: results, client: client, vault: v, interval: interval, log: log}
}

// Run reconciles on a fixed interval until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.ReconcileOnce(ctx); err != nil {
				r.log.Warn(ctx, "reconciliation pass failed", "error", err)
			}
		}
	}
}

// ReconcileOnce uploads every unsynced result. Per-record upload
// failures are logged and left queued for the next pass; the pass only
// fails outright when it cannot authenticate at all.
func (r *Reconciler) ReconcileOnce(ctx context.Context) error {
	if !r.passMu.TryLock() {
		return nil // a pass is already running
	}
	defer r.passMu.Unlock()

	unsynced, err := r.results.ListUnsynced(ctx)
	if err != nil {
		return fmt.Errorf("failed to list unsynced results: %w", err)
	}
	if len(unsynced) == 0 {
		return nil
	}

	token, err := r.ensureToken(ctx)
	if err != nil {
		return err
	}

	var uploaded int
	for _, res := range unsynced {
		if err := r.upload(ctx, token, res); err != nil {
			if errors.Is(err, common.ErrUnauthorized) {
				// Token went stale mid-pass: re-login once and retry
				// this record before giving up on the pass.
				r.invalidateToken()
				token, err = r.ensureToken(ctx)
				if err != nil {
					return err
				}
				err = r.upload(ctx, token, res)
			}
			if err != nil {
				r.log.Warn(ctx, "result upload failed, leaving queued",
					"result", res.ID, "quiz", res.QuizID, "error", err)
				continue
			}
		}
		if err := r.results.MarkSynced(ctx, res.ID); err != nil {
			return fmt.Errorf("failed to mark result %d synced: %w", res.ID, err)
		}
		uploaded++
	}

	r.log.Info(ctx, "reconciliation pass complete",
		"uploaded", uploaded, "remaining", len(unsynced)-uploaded)
	return nil
}

// upload submits one result with bounded exponential backoff. Transport
// failures are retried; an explicit server rejection is not.
func (r *Reconciler) upload(ctx context.Context, token string, res *grading.Result) error {
	backoff := retry.WithMaxRetries(uploadRetries, retry.NewExponential(retryBase))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		_, err := r.client.SubmitResult(ctx, token, res)
		if err == nil {
			return nil
		}
		if errors.Is(err, common.ErrUnauthorized) {
			return err // handled by the caller, retrying is pointless
		}
		return retry.RetryableError(err)
	})
}

// ensureToken returns a usable access token, logging in with the vault
// credentials when the cached token is absent or expired.
func (r *Reconciler) ensureToken(ctx context.Context) (string, error) {
	r.tokenMu.Lock()
	defer r.tokenMu.Unlock()

	if !platform.TokenExpired(r.token) {
		return r.token, nil
	}

	creds, err := r.vault.Load()
	if err != nil {
		return "", fmt.Errorf("failed to load credentials: %w", err)
	}
	if creds == nil {
		return "", fmt.Errorf("%w: no saved credentials, cannot reconcile", common.ErrUnauthorized)
	}

	token, err := r.client.Login(ctx, creds.Identity, creds.Secret)
	if err != nil {
		return "", fmt.Errorf("reconciliation login failed: %w", err)
	}
	r.token = token
	return token, nil
}

func (r *Reconciler) invalidateToken() {
	r.tokenMu.Lock()
	r.token = ""
	r.tokenMu.Unlock()
}
