package auth

import (
	"testing"
	"time"
)

func TestGenerateAndValidate(t *testing.T) {
	t.Setenv("LEADSIGN_AUTH_SECRET", "test-secret")
	ResetSecretForTests()

	token, err := GenerateToken("user-1", "agent@example.com", time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	claims, err := ParseAndValidate(token)
	if err != nil {
		t.Fatalf("ParseAndValidate: %v", err)
	}
	if claims.Subject != "user-1" {
		t.Fatalf("subject = %q, want user-1", claims.Subject)
	}
	if claims.Email != "agent@example.com" {
		t.Fatalf("email = %q", claims.Email)
	}
}

func TestParseRejectsGarbage(t *testing.T) {
	t.Setenv("LEADSIGN_AUTH_SECRET", "test-secret")
	ResetSecretForTests()

	if _, err := ParseAndValidate("not-a-token"); err != ErrInvalidToken {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
	if _, err := ParseAndValidate(""); err != ErrInvalidToken {
		t.Fatalf("expected ErrInvalidToken for empty input, got %v", err)
	}
}

func TestExpiredTokenRejected(t *testing.T) {
	t.Setenv("LEADSIGN_AUTH_SECRET", "test-secret")
	ResetSecretForTests()

	if _, err := GenerateToken("user-1", "", -time.Minute); err == nil {
		t.Fatal("expected error for non-positive ttl")
	}
}

func TestMissingSecret(t *testing.T) {
	t.Setenv("LEADSIGN_AUTH_SECRET", "")
	ResetSecretForTests()
	t.Cleanup(ResetSecretForTests)

	if _, err := GenerateToken("user-1", "", time.Minute); err == nil {
		t.Fatal("expected error when secret is not configured")
	}
	if Configured() {
		t.Fatal("Configured should be false without a secret")
	}
}
