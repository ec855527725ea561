// Package vault persists a single obfuscated credential pair for offline
// login. It lives on a cheaper tier than the durable store: one small
// JSON file, no transactions, no schema versioning.
//
// Known limitation: the obfuscation key is fixed and baked into the
// binary. The vault protects against casual inspection of the file, not
// against a hostile client.
package vault

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/darasa-app/darasa/internal/common"
)

const fileName = "vault.json"

// Credentials is the decoded credential record.
type Credentials struct {
	Identity string
	Secret   string
	SavedAt  time.Time
}

// record is the on-disk shape; identity and secret are obfuscated.
type record struct {
	Identity string `json:"identity"`
	Secret   string `json:"secret"`
	SavedAt  int64  `json:"saved_at"`
}

// Vault stores at most one credential record under dir.
type Vault struct {
	path string
	now  func() time.Time
}

// New returns a Vault rooted at dir, creating dir if needed.
func New(dir string) (*Vault, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("mkdir %s: %w", dir, err)
	}
	return &Vault{path: filepath.Join(dir, fileName), now: time.Now}, nil
}

// Save obfuscates both fields, stamps the current time and overwrites
// any previously saved record.
func (v *Vault) Save(identity, secret string) error {
	encIdentity, err := encode(identity)
	if err != nil {
		return fmt.Errorf("failed to encode identity: %w", err)
	}
	encSecret, err := encode(secret)
	if err != nil {
		return fmt.Errorf("failed to encode secret: %w", err)
	}

	data, err := json.Marshal(record{
		Identity: encIdentity,
		Secret:   encSecret,
		SavedAt:  v.now().Unix(),
	})
	if err != nil {
		return err
	}

	if err := os.WriteFile(v.path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write vault: %w", err)
	}
	return nil
}

// Load returns the saved credentials, or nil if none are saved. A record
// older than the retention window is purged first and nil is returned,
// so callers simply see a logged-out state.
func (v *Vault) Load() (*Credentials, error) {
	data, err := os.ReadFile(v.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read vault: %w", err)
	}

	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to parse vault: %w", err)
	}

	savedAt := time.Unix(rec.SavedAt, 0)
	if v.now().Sub(savedAt) > common.CredentialRetention {
		if err := v.Clear(); err != nil {
			return nil, err
		}
		return nil, nil
	}

	identity, err := decode(rec.Identity)
	if err != nil {
		return nil, err
	}
	secret, err := decode(rec.Secret)
	if err != nil {
		return nil, err
	}

	return &Credentials{Identity: identity, Secret: secret, SavedAt: savedAt.UTC()}, nil
}

// Clear removes the record unconditionally. Clearing an empty vault is
// not an error.
func (v *Vault) Clear() error {
	if err := os.Remove(v.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to clear vault: %w", err)
	}
	return nil
}

// Exists reports whether a record is present, without decoding it. It
// does not check retention; an expired record still reports true until
// the next Load purges it.
func (v *Vault) Exists() bool {
	_, err := os.Stat(v.path)
	return err == nil
}
