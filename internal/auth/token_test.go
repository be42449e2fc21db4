package auth

import (
	"testing"

	"github.com/golang-jwt/jwt/v5"
)

func signToken(t *testing.T, claims jwt.Claims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func TestUserIDFromTokenCustomClaim(t *testing.T) {
	token := signToken(t, Claims{UserID: "user-42"})

	id, err := UserIDFromToken(token)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if id != "user-42" {
		t.Fatalf("unexpected user id: %s", id)
	}
}

func TestUserIDFromTokenSubjectFallback(t *testing.T) {
	token := signToken(t, jwt.RegisteredClaims{Subject: "user-7"})

	id, err := UserIDFromToken(token)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if id != "user-7" {
		t.Fatalf("unexpected user id: %s", id)
	}
}

func TestUserIDFromTokenErrors(t *testing.T) {
	if _, err := UserIDFromToken(""); err == nil {
		t.Fatalf("expected error for empty token")
	}
	if _, err := UserIDFromToken("not.a.jwt"); err == nil {
		t.Fatalf("expected error for malformed token")
	}
	if _, err := UserIDFromToken(signToken(t, Claims{})); err == nil {
		t.Fatalf("expected error for token without user id")
	}
}
