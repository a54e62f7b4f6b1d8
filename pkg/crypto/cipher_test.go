package crypto

import (
	"bytes"
	"errors"
	"testing"
)

func TestSealerRoundTrip(t *testing.T) {
	s, err := NewSealer("key")
	if err != nil {
		t.Fatalf("new sealer: %v", err)
	}
	first, err := s.Seal("vercel-token")
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	second, err := s.Seal("vercel-token")
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	if bytes.Equal(first, second) {
		t.Fatalf("expected random nonces to produce different ciphertexts")
	}
	plain, err := s.Open(first)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if plain != "vercel-token" {
		t.Fatalf("unexpected plaintext %q", plain)
	}
}

func TestSealerRejectsTamperingAndShortInput(t *testing.T) {
	s, _ := NewSealer("key")
	other, _ := NewSealer("other")
	payload, _ := s.Seal("secret")
	if _, err := other.Open(payload); err == nil {
		t.Fatalf("expected open with wrong key to fail")
	}
	if _, err := s.Open([]byte{1, 2}); err == nil {
		t.Fatalf("expected short payload to fail")
	}
	if _, err := NewSealer(""); !errors.Is(err, ErrEmptyKey) {
		t.Fatalf("expected ErrEmptyKey, got %v", err)
	}
}
