// Package relay loads the uplink target roster (spec.md §6 "Relay
// config") and encrypts/decrypts their bearer tokens at rest with
// ChaCha20-Poly1305, keyed by a per-machine key file. Grounded on the
// pack's golang.org/x/crypto dependency (pulled in transitively by
// therealtimex-entire-cli's go-git/ssh stack; promoted here to a direct
// import since the codec calls it directly).
package relay

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/crypto/chacha20poly1305"
)

const keyEnvVar = "OBSERVATORY_RELAY_KEY"

// Codec encrypts/decrypts uplink tokens at rest (spec.md §6).
type Codec struct {
	aead cipher.AEAD
}

// NewCodec loads the 32-byte key from the OBSERVATORY_RELAY_KEY env var if
// set, else from keyPath, creating a fresh random key file (mode 0600) if
// neither exists.
func NewCodec(keyPath string) (*Codec, error) {
	key, err := loadOrCreateKey(keyPath)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("relay: init aead: %w", err)
	}
	return &Codec{aead: aead}, nil
}

func loadOrCreateKey(keyPath string) ([]byte, error) {
	if hexKey := os.Getenv(keyEnvVar); hexKey != "" {
		key, err := hex.DecodeString(hexKey)
		if err != nil || len(key) != chacha20poly1305.KeySize {
			return nil, fmt.Errorf("relay: %s must be a %d-byte hex string", keyEnvVar, chacha20poly1305.KeySize)
		}
		return key, nil
	}

	data, err := os.ReadFile(keyPath)
	if err == nil {
		key, decErr := hex.DecodeString(string(data))
		if decErr == nil && len(key) == chacha20poly1305.KeySize {
			return key, nil
		}
	}

	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("relay: generate key: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(keyPath), 0o700); err != nil {
		return nil, fmt.Errorf("relay: key dir: %w", err)
	}
	if err := os.WriteFile(keyPath, []byte(hex.EncodeToString(key)), 0o600); err != nil {
		return nil, fmt.Errorf("relay: write key: %w", err)
	}
	return key, nil
}

// Encrypt returns a base64 ciphertext suitable for storage in relay.json's
// tokenEnc/refreshTokenEnc fields.
func (c *Codec) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("relay: nonce: %w", err)
	}
	sealed := c.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt.
func (c *Codec) Decrypt(ciphertext string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("relay: decode: %w", err)
	}
	n := c.aead.NonceSize()
	if len(raw) < n {
		return "", fmt.Errorf("relay: ciphertext too short")
	}
	nonce, sealed := raw[:n], raw[n:]
	plain, err := c.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("relay: decrypt: %w", err)
	}
	return string(plain), nil
}
