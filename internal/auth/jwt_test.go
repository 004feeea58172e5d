package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestGenerateAndVerify(t *testing.T) {
	m := NewManager("test-secret", time.Minute)

	token, err := m.GenerateToken("ci-pipeline", RoleOps)

	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	claims, err := m.VerifyToken(token)

	if err != nil {
		t.Fatalf("VerifyToken: %v", err)
	}

	if claims.Subject != "ci-pipeline" {
		t.Errorf("subject = %q, want ci-pipeline", claims.Subject)
	}
	if claims.Role != RoleOps {
		t.Errorf("role = %q, want %q", claims.Role, RoleOps)
	}
	if claims.JTI == "" {
		t.Errorf("jti missing")
	}
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	mint := NewManager("secret-a", time.Minute)
	verify := NewManager("secret-b", time.Minute)

	token, err := mint.GenerateToken("someone", RoleAdmin)

	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	if _, err := verify.VerifyToken(token); err == nil {
		t.Fatalf("expected verification failure for foreign secret")
	}
}

func TestVerifyRejectsExpired(t *testing.T) {
	m := NewManager("test-secret", -time.Minute)

	token, err := m.GenerateToken("someone", RoleOps)

	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	if _, err := m.VerifyToken(token); err == nil {
		t.Fatalf("expected verification failure for expired token")
	}
}

func TestVerifyRejectsWrongAlgorithm(t *testing.T) {
	m := NewManager("test-secret", time.Minute)

	// token signed with none must never pass, even with a matching payload
	unsigned := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{
		Role:      RoleOps,
		TokenType: "access",
	})

	raw, err := unsigned.SignedString(jwt.UnsafeAllowNoneSignatureType)

	if err != nil {
		t.Fatalf("signing with none: %v", err)
	}

	if _, err := m.VerifyToken(raw); err == nil {
		t.Fatalf("expected verification failure for alg=none token")
	}
}
