package auth

import (
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestTokens_MintVerifyRoundTrip(t *testing.T) {
	tk := NewTokens("test-secret", "cartmesh", time.Hour)

	token, err := tk.Mint("user-42", "ada@example.com")
	if err != nil {
		t.Fatalf("mint: %v", err)
	}

	claims, err := tk.Verify(token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.Subject != "user-42" {
		t.Fatalf("expected subject user-42, got %q", claims.Subject)
	}
	if claims.Email != "ada@example.com" {
		t.Fatalf("expected email claim, got %q", claims.Email)
	}
	if claims.Issuer != "cartmesh" {
		t.Fatalf("expected issuer cartmesh, got %q", claims.Issuer)
	}
}

func TestTokens_RejectsTamperedSignature(t *testing.T) {
	tk := NewTokens("test-secret", "cartmesh", time.Hour)

	token, err := tk.Mint("user-42", "")
	if err != nil {
		t.Fatalf("mint: %v", err)
	}

	// Flip a byte in the signature segment.
	parts := strings.Split(token, ".")
	sig := []byte(parts[2])
	if sig[0] == 'A' {
		sig[0] = 'B'
	} else {
		sig[0] = 'A'
	}
	tampered := parts[0] + "." + parts[1] + "." + string(sig)

	if _, err := tk.Verify(tampered); !errors.Is(err, ErrBadSignature) {
		t.Fatalf("expected ErrBadSignature, got %v", err)
	}
}

func TestTokens_RejectsWrongSecret(t *testing.T) {
	minter := NewTokens("secret-a", "cartmesh", time.Hour)
	verifier := NewTokens("secret-b", "cartmesh", time.Hour)

	token, _ := minter.Mint("user-42", "")
	if _, err := verifier.Verify(token); !errors.Is(err, ErrBadSignature) {
		t.Fatalf("expected ErrBadSignature across secrets, got %v", err)
	}
}

func TestTokens_RejectsExpired(t *testing.T) {
	tk := NewTokens("test-secret", "cartmesh", time.Minute)

	base := time.Now()
	tk.now = func() time.Time { return base }
	token, _ := tk.Mint("user-42", "")

	tk.now = func() time.Time { return base.Add(2 * time.Minute) }
	if _, err := tk.Verify(token); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
}

func TestTokens_RejectsForeignIssuer(t *testing.T) {
	minter := NewTokens("test-secret", "somewhere-else", time.Hour)
	verifier := NewTokens("test-secret", "cartmesh", time.Hour)

	token, _ := minter.Mint("user-42", "")
	if _, err := verifier.Verify(token); !errors.Is(err, ErrBadIssuer) {
		t.Fatalf("expected ErrBadIssuer, got %v", err)
	}
}

func TestTokens_RejectsGarbage(t *testing.T) {
	tk := NewTokens("test-secret", "cartmesh", time.Hour)

	for _, token := range []string{"", "not-a-token", "a.b", "a.b.c.d"} {
		if _, err := tk.Verify(token); !errors.Is(err, ErrMalformedToken) {
			t.Fatalf("expected ErrMalformedToken for %q, got %v", token, err)
		}
	}
}

func TestPassword_HashAndCheck(t *testing.T) {
	hash, salt, err := HashPassword("hunter2")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}

	if !CheckPassword("hunter2", salt, hash) {
		t.Fatal("correct password rejected")
	}
	if CheckPassword("hunter3", salt, hash) {
		t.Fatal("wrong password accepted")
	}

	// Salts must differ between derivations.
	_, salt2, _ := HashPassword("hunter2")
	if salt == salt2 {
		t.Fatal("expected a fresh salt per hash")
	}
}

func TestBearerToken(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	if _, ok := BearerToken(r); ok {
		t.Fatal("expected no token without header")
	}

	r.Header.Set("Authorization", "Basic abc")
	if _, ok := BearerToken(r); ok {
		t.Fatal("expected no token for non-bearer scheme")
	}

	r.Header.Set("Authorization", "Bearer tok-123")
	token, ok := BearerToken(r)
	if !ok || token != "tok-123" {
		t.Fatalf("expected tok-123, got %q ok=%v", token, ok)
	}
}
