package jwt

import (
	"testing"
	"time"
)

func TestGenerateAndParseRoundTrip(t *testing.T) {
	token, err := GenerateToken("ops@example.com", "hooks", "secret", time.Hour)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	claims, err := Parse(token, "secret")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.Subject != "ops@example.com" || claims.Scope != "hooks" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestParseRejectsWrongSecretAndExpiry(t *testing.T) {
	token, err := GenerateToken("ops", "", "secret", time.Hour)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if _, err := Parse(token, "other"); err == nil {
		t.Fatalf("expected signature failure")
	}
	if _, err := GenerateToken("ops", "", "secret", 0); err == nil {
		t.Fatalf("expected ttl validation error")
	}
	if _, err := GenerateToken(" ", "", "secret", time.Hour); err == nil {
		t.Fatalf("expected subject validation error")
	}
}
