// Package securekeys is the boundary to the key-management collaborator. The
// actor layer only ever asks for the active key of a firm and uses the
// encrypt/decrypt/hash primitives; rotation and custody live elsewhere.
package securekeys

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
)

// Key is an active symmetric key handle for one firm.
type Key struct {
	ID       string
	Material []byte
}

// Provider resolves the active encryption key for a firm.
type Provider interface {
	ActiveKey(ctx context.Context, firmID string) (Key, error)
}

// Seal encrypts plaintext with AES-256-GCM and returns base64(nonce||ct).
func Seal(key []byte, plaintext string) (string, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("securekeys: cipher init: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("securekeys: gcm init: %w", err)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("securekeys: nonce: %w", err)
	}
	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Open decrypts a value produced by Seal.
func Open(key []byte, encoded string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("securekeys: decode ciphertext: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("securekeys: cipher init: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("securekeys: gcm init: %w", err)
	}
	if len(raw) < gcm.NonceSize() {
		return "", errors.New("securekeys: ciphertext too short")
	}
	plaintext, err := gcm.Open(nil, raw[:gcm.NonceSize()], raw[gcm.NonceSize():], nil)
	if err != nil {
		return "", fmt.Errorf("securekeys: decrypt: %w", err)
	}
	return string(plaintext), nil
}

// MAC computes the hex HMAC-SHA256 of data under key.
func MAC(key []byte, data []byte) string {
	mac := hmac.New(sha256.New, key)
	mac.Write(data)
	return hex.EncodeToString(mac.Sum(nil))
}

// MACEqual compares two MAC values in constant time.
func MACEqual(a, b string) bool {
	return hmac.Equal([]byte(a), []byte(b))
}

// LocalProvider derives per-firm keys from a static master secret. Meant for
// development and tests; production uses the KMS provider.
type LocalProvider struct {
	master []byte
}

// NewLocalProvider creates a provider from a hex- or raw-encoded master key.
func NewLocalProvider(master string) (*LocalProvider, error) {
	if master == "" {
		return nil, errors.New("securekeys: master key required")
	}
	if decoded, err := hex.DecodeString(master); err == nil && len(decoded) == 32 {
		return &LocalProvider{master: decoded}, nil
	}
	sum := sha256.Sum256([]byte(master))
	return &LocalProvider{master: sum[:]}, nil
}

var _ Provider = (*LocalProvider)(nil)

func (p *LocalProvider) ActiveKey(_ context.Context, firmID string) (Key, error) {
	if firmID == "" {
		return Key{}, errors.New("securekeys: firm id required")
	}
	mac := hmac.New(sha256.New, p.master)
	mac.Write([]byte("firm-key:" + firmID))
	return Key{ID: "local-" + firmID, Material: mac.Sum(nil)}, nil
}
