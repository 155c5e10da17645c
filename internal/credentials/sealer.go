package credentials

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const sealerContext = "ridesync-credential-sealing"

var (
	// ErrSealingKeyMissing indicates no master key was configured.
	ErrSealingKeyMissing = errors.New("credential encryption key not configured")
	// ErrUnsealFailed indicates the ciphertext could not be authenticated.
	ErrUnsealFailed = errors.New("credential unseal failed")
)

// Sealer encrypts token material with AES-GCM under a key derived by HKDF-SHA256.
// The credential key is bound as associated data so ciphertext cannot be moved between rows.
type Sealer struct {
	aead cipher.AEAD
}

// NewSealer derives the sealing key from a base64-encoded master key of at least 32 bytes.
func NewSealer(masterKey string) (*Sealer, error) {
	if masterKey == "" {
		return nil, ErrSealingKeyMissing
	}
	raw, err := base64.StdEncoding.DecodeString(masterKey)
	if err != nil {
		return nil, fmt.Errorf("decode credential encryption key: %w", err)
	}
	if len(raw) < 32 {
		return nil, errors.New("credential encryption key must be at least 32 bytes")
	}
	return newSealer(raw)
}

// NewEphemeralSealer seals with a random process-local key. Sealed values do not survive a restart,
// so it only suits the in-memory storage driver and tests.
func NewEphemeralSealer() (*Sealer, error) {
	raw := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, raw); err != nil {
		return nil, fmt.Errorf("generate ephemeral key: %w", err)
	}
	return newSealer(raw)
}

func newSealer(master []byte) (*Sealer, error) {
	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, master, nil, []byte(sealerContext)), key); err != nil {
		return nil, fmt.Errorf("derive sealing key: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &Sealer{aead: aead}, nil
}

// Seal encrypts plaintext bound to binding. Empty input stays empty.
func (s *Sealer) Seal(plaintext, binding string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	out := s.aead.Seal(nonce, nonce, []byte(plaintext), []byte(binding))
	return base64.StdEncoding.EncodeToString(out), nil
}

// Open reverses Seal. It fails if the ciphertext was produced for another binding.
func (s *Sealer) Open(ciphertext, binding string) (string, error) {
	if ciphertext == "" {
		return "", nil
	}
	data, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnsealFailed, err)
	}
	n := s.aead.NonceSize()
	if len(data) < n+s.aead.Overhead() {
		return "", fmt.Errorf("%w: ciphertext too short", ErrUnsealFailed)
	}
	plain, err := s.aead.Open(nil, data[:n], data[n:], []byte(binding))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnsealFailed, err)
	}
	return string(plain), nil
}
