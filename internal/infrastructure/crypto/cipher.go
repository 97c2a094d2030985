// Package crypto provides authenticated encryption for marketplace credentials at rest.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"golang.org/x/crypto/hkdf"

	"github.com/marketsync/backend/internal/domain/integration"
)

// versionPrefix marks the ciphertext format so keys and algorithms can rotate later
const versionPrefix = "v1:"

const keySize = 32

var (
	ErrEmptyMasterSecret = errors.New("crypto: master secret is required")
	ErrUnknownVersion    = errors.New("crypto: unknown ciphertext version")
)

// TokenCipher encrypts credentials with AES-256-GCM.
// With per-marketplace keys enabled every marketplace gets its own key derived with HKDF-SHA256
// (the marketplace is the HKDF info) and the marketplace is bound as associated data, so a
// ciphertext copied to another marketplace's row fails to open.
type TokenCipher struct {
	master         []byte
	perMarketplace bool

	mu    sync.RWMutex
	aeads map[integration.Marketplace]cipher.AEAD
}

// NewTokenCipher creates a cipher from the master secret
func NewTokenCipher(masterSecret string, perMarketplaceKeys bool) (*TokenCipher, error) {
	if masterSecret == "" {
		return nil, ErrEmptyMasterSecret
	}
	return &TokenCipher{
		master:         []byte(masterSecret),
		perMarketplace: perMarketplaceKeys,
		aeads:          make(map[integration.Marketplace]cipher.AEAD),
	}, nil
}

// Encrypt seals plaintext for the marketplace and returns "v1:" + base64(nonce||ciphertext||tag)
func (c *TokenCipher) Encrypt(m integration.Marketplace, plaintext string) (string, error) {
	aead, err := c.aead(m)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("crypto: failed to generate nonce: %w", err)
	}

	sealed := aead.Seal(nonce, nonce, []byte(plaintext), c.scope(m))
	return versionPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a value produced by Encrypt.
// Tampered, truncated or foreign ciphertexts return integration.ErrCiphertextCorrupted.
func (c *TokenCipher) Decrypt(m integration.Marketplace, value string) (string, error) {
	if !strings.HasPrefix(value, versionPrefix) {
		return "", fmt.Errorf("%w: %w", integration.ErrCiphertextCorrupted, ErrUnknownVersion)
	}

	aead, err := c.aead(m)
	if err != nil {
		return "", err
	}

	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(value, versionPrefix))
	if err != nil {
		return "", fmt.Errorf("%w: %v", integration.ErrCiphertextCorrupted, err)
	}
	if len(raw) < aead.NonceSize()+aead.Overhead() {
		return "", integration.ErrCiphertextCorrupted
	}

	nonce, sealed := raw[:aead.NonceSize()], raw[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, sealed, c.scope(m))
	if err != nil {
		return "", integration.ErrCiphertextCorrupted
	}
	return string(plaintext), nil
}

func (c *TokenCipher) aead(m integration.Marketplace) (cipher.AEAD, error) {
	if !m.IsValid() {
		return nil, integration.ErrUnknownMarketplace
	}

	scope := c.scope(m)
	c.mu.RLock()
	aead, ok := c.aeads[m]
	c.mu.RUnlock()
	if ok {
		return aead, nil
	}

	key := make([]byte, keySize)
	kdf := hkdf.New(sha256.New, c.master, nil, scope)
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("crypto: key derivation failed: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err = cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.aeads[m] = aead
	c.mu.Unlock()
	return aead, nil
}

// scope is both the HKDF info and the GCM associated data; empty when keys are shared
func (c *TokenCipher) scope(m integration.Marketplace) []byte {
	if !c.perMarketplace {
		return nil
	}
	return []byte(m)
}
