package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
)

// KeySize is the AES-256 key length in bytes.
const KeySize = 32

// ErrDecrypt is returned when a sealed value is malformed or fails authentication.
var ErrDecrypt = errors.New("failed to decrypt")

// Encryptor seals and opens opaque values using AES-256-GCM.
// Output format is base64url (unpadded) of [nonce][ciphertext+tag], which is
// safe to place in query strings and form bodies.
type Encryptor struct {
	aead cipher.AEAD
}

// NewEncryptor creates a new encryptor.
// The key must be exactly 32 bytes for AES-256.
func NewEncryptor(key []byte) (*Encryptor, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("encryption key must be exactly %d bytes for AES-256, got %d", KeySize, len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	return &Encryptor{aead: gcm}, nil
}

// Seal encrypts plaintext and returns the encoded ciphertext.
func (e *Encryptor) Seal(plaintext []byte) (string, error) {
	nonce := make([]byte, e.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	// Seal appends to the nonce slice, producing [nonce][ciphertext]
	sealed := e.aead.Seal(nonce, nonce, plaintext, nil)
	return base64.RawURLEncoding.EncodeToString(sealed), nil
}

// Open decodes and decrypts a value produced by Seal.
// Every failure wraps ErrDecrypt so callers can treat them uniformly.
func (e *Encryptor) Open(encoded string) ([]byte, error) {
	sealed, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid encoding", ErrDecrypt)
	}

	nonceSize := e.aead.NonceSize()
	if len(sealed) < nonceSize+e.aead.Overhead() {
		return nil, fmt.Errorf("%w: ciphertext too short", ErrDecrypt)
	}

	nonce, ciphertext := sealed[:nonceSize], sealed[nonceSize:]
	plaintext, err := e.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecrypt, err)
	}

	return plaintext, nil
}

// DeriveKey derives a stable AES-256 key from an operator supplied secret.
// The same secret always yields the same key, so tokens survive restarts.
func DeriveKey(secret string) []byte {
	sum := sha256.Sum256([]byte(secret))
	return sum[:]
}

// GenerateKey generates a new random 32-byte encryption key for AES-256
func GenerateKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	return key, nil
}

// GenerateSecret returns a random secret suitable for GALAXY_MCP_SESSION_SECRET.
func GenerateSecret() (string, error) {
	key, err := GenerateKey()
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(key), nil
}
