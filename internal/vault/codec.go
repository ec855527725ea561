package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"sync"

	"golang.org/x/crypto/argon2"
)

// The vault key is derived from a baked-in phrase with a fixed salt.
// This is deliberate: the vault deters casual inspection of the stored
// credential file, nothing more. Anyone with the binary can recover the
// key, so this must never be treated as a security boundary.
const (
	obfuscationPhrase = "darasa-offline-credential-vault"
	obfuscationSalt   = "darasa-fixed-salt-v1"
)

var (
	keyOnce sync.Once
	key     []byte
)

func obfuscationKey() []byte {
	keyOnce.Do(func() {
		key = argon2.IDKey([]byte(obfuscationPhrase), []byte(obfuscationSalt), 1, 64*1024, 4, 32)
	})
	return key
}

// encode obfuscates s with AES-GCM under the fixed vault key and returns
// base64(nonce || ciphertext). decode is its exact inverse, so
// decode(encode(s)) == s for every string including "" and unicode.
func encode(s string) (string, error) {
	block, err := aes.NewCipher(obfuscationKey())
	if err != nil {
		return "", err
	}
	aesgcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, aesgcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}

	sealed := aesgcm.Seal(nonce, nonce, []byte(s), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

func decode(s string) (string, error) {
	sealed, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return "", fmt.Errorf("malformed vault value: %w", err)
	}

	block, err := aes.NewCipher(obfuscationKey())
	if err != nil {
		return "", err
	}
	aesgcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}

	if len(sealed) < aesgcm.NonceSize() {
		return "", fmt.Errorf("malformed vault value: too short")
	}
	nonce, ciphertext := sealed[:aesgcm.NonceSize()], sealed[aesgcm.NonceSize():]

	plain, err := aesgcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("failed to decode vault value: %w", err)
	}
	return string(plain), nil
}
