// Package security derives per-plugin AES-GCM keys from a shared system
// context secret and uses them to encrypt/decrypt a provider's stored
// secrets JSON blob for provider construction.
package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/crypto/hkdf"
)

// SystemContext holds the raw shared secret bytes read from
// Config.SystemContextPath and derives per-plugin AES-GCM contexts from it.
type SystemContext struct {
	raw []byte
}

// LoadSystemContext reads the system context secret from path.
func LoadSystemContext(path string) (*SystemContext, error) {
	if path == "" {
		return nil, fmt.Errorf("system context path is not set")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading system context file: %w", err)
	}
	return &SystemContext{raw: []byte(strings.TrimSpace(string(data)))}, nil
}

// derive runs HKDF-SHA256(salt=∅, info=fileHash, ikm=raw) and returns a
// 32-byte AES-GCM cipher keyed on the result.
func (s *SystemContext) derive(fileHash []byte) (cipher.AEAD, error) {
	kdf := hkdf.New(sha256.New, s.raw, nil, fileHash)

	key := make([]byte, 32)
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("deriving key: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("creating AES cipher: %w", err)
	}

	return cipher.NewGCM(block)
}

// Encrypt encrypts data under the key derived from fileHash, returning a
// fresh random nonce and the ciphertext.
func (s *SystemContext) Encrypt(fileHash, data []byte) (nonce, ciphertext []byte, err error) {
	aead, err := s.derive(fileHash)
	if err != nil {
		return nil, nil, err
	}

	nonce = make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, nil, fmt.Errorf("generating nonce: %w", err)
	}

	ciphertext = aead.Seal(nil, nonce, data, nil)
	return nonce, ciphertext, nil
}

// Derived decrypts nonce+ciphertext under the key derived from fileHash and
// returns a DerivedContext over the resulting secrets JSON.
func (s *SystemContext) Derived(fileHash, nonce, ciphertext []byte) (*DerivedContext, error) {
	aead, err := s.derive(fileHash)
	if err != nil {
		return nil, err
	}

	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("decrypting secrets: %w", err)
	}

	var secrets map[string]string
	if err := json.Unmarshal(plaintext, &secrets); err != nil {
		return nil, fmt.Errorf("parsing decrypted secrets JSON: %w", err)
	}

	return &DerivedContext{secrets: secrets}, nil
}

// DerivedContext exposes the decrypted secrets JSON blob for one plugin
// instance. Constructed once per load by provider.Loader.Load, before the
// provider's constructor runs, and kept by the provider instance it is
// passed to.
type DerivedContext struct {
	secrets map[string]string
}

// Get returns the secret stored under key.
func (d *DerivedContext) Get(key string) (string, error) {
	v, ok := d.secrets[key]
	if !ok {
		return "", fmt.Errorf("key %q not found in derived context", key)
	}
	return v, nil
}
