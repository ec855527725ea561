// Package common defines shared constants and sentinel errors used across
// the offline agent. Callers should use errors.Is to match these values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrNotFound = errors.New("not found")

	// Store-level errors. ErrStoreUnavailable means the local database
	// could not be opened or written (quota, disabled storage, corrupt
	// file); callers degrade to the in-memory fallback instead of
	// failing. ErrSchemaConflict means a partition was opened with a
	// version older than what is already persisted; the caller must
	// retry with the current schema version.
	ErrStoreUnavailable = errors.New("store unavailable")
	ErrSchemaConflict   = errors.New("schema version conflict")

	// Network-layer errors. ErrFetchFailed covers transport errors and
	// non-200 responses; it triggers the strategy's fallback path.
	// ErrNoCachedFallback means the strategy exhausted every option and
	// the caller receives a structured unavailable payload instead.
	ErrFetchFailed      = errors.New("fetch failed")
	ErrNoCachedFallback = errors.New("no cached fallback")

	// Vault errors.
	ErrCredentialExpired = errors.New("credential expired")

	// Platform API errors.
	ErrUnauthorized = errors.New("unauthorized")
	ErrTokenExpired = errors.New("token expired")
)
