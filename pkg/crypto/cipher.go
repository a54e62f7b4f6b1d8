package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"io"

	"golang.org/x/crypto/hkdf"
)

const keyInfo = "deploywatch token sealing v1"

// ErrEmptyKey is returned when a Sealer is built without key material.
var ErrEmptyKey = errors.New("crypto: empty key")

// Sealer encrypts credential tokens at rest with AES-GCM.
type Sealer struct {
	aead cipher.AEAD
}

// NewSealer derives a 32 byte key from secret with HKDF-SHA256.
func NewSealer(secret string) (*Sealer, error) {
	if secret == "" {
		return nil, ErrEmptyKey
	}
	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), nil, []byte(keyInfo)), key); err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &Sealer{aead: gcm}, nil
}

// Seal encrypts plaintext, prefixing the random nonce.
func (s *Sealer) Seal(plaintext string) ([]byte, error) {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return s.aead.Seal(nonce, nonce, []byte(plaintext), nil), nil
}

// Open reverses Seal.
func (s *Sealer) Open(payload []byte) (string, error) {
	nonceSize := s.aead.NonceSize()
	if len(payload) < nonceSize {
		return "", io.ErrUnexpectedEOF
	}
	plain, err := s.aead.Open(nil, payload[:nonceSize], payload[nonceSize:], nil)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}
