// Package auth implements the signed-token service: HS256 token minting and
// verification plus password hashing. Tokens are opaque to every component
// except the issuing user service and the verifying boundaries.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strings"
	"time"
)

type tokenError string

func (e tokenError) Error() string { return string(e) }

const (
	ErrMalformedToken = tokenError("malformed token")
	ErrBadSignature   = tokenError("invalid token signature")
	ErrTokenExpired   = tokenError("token expired")
	ErrBadIssuer      = tokenError("invalid token issuer")
)

// Claims is the payload carried inside a minted token.
type Claims struct {
	Subject  string `json:"sub"`
	Email    string `json:"email,omitempty"`
	Issuer   string `json:"iss"`
	IssuedAt int64  `json:"iat"`
	Expires  int64  `json:"exp"`
}

// Tokens mints and verifies HS256 bearer tokens with a shared secret.
type Tokens struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time // for testing
}

// NewTokens creates a token service. The secret is shared by every verifying
// boundary via configuration.
func NewTokens(secret, issuer string, ttl time.Duration) *Tokens {
	return &Tokens{
		secret: []byte(secret),
		issuer: issuer,
		ttl:    ttl,
		now:    time.Now,
	}
}

// Mint issues a signed token for the given subject.
func (t *Tokens) Mint(subject, email string) (string, error) {
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"HS256","typ":"JWT"}`))

	now := t.now()
	claims := Claims{
		Subject:  subject,
		Email:    email,
		Issuer:   t.issuer,
		IssuedAt: now.Unix(),
		Expires:  now.Add(t.ttl).Unix(),
	}
	payloadJSON, err := json.Marshal(claims)
	if err != nil {
		return "", err
	}
	payload := base64.RawURLEncoding.EncodeToString(payloadJSON)

	signingInput := header + "." + payload
	return signingInput + "." + t.sign(signingInput), nil
}

// Verify checks a token's structure, signature, expiry, and issuer, and
// returns its claims.
func (t *Tokens) Verify(token string) (Claims, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return Claims{}, ErrMalformedToken
	}

	signingInput := parts[0] + "." + parts[1]
	if !hmac.Equal([]byte(t.sign(signingInput)), []byte(parts[2])) {
		return Claims{}, ErrBadSignature
	}

	payloadJSON, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return Claims{}, ErrMalformedToken
	}

	var claims Claims
	if err := json.Unmarshal(payloadJSON, &claims); err != nil {
		return Claims{}, ErrMalformedToken
	}

	if claims.Expires > 0 && t.now().Unix() > claims.Expires {
		return Claims{}, ErrTokenExpired
	}
	if t.issuer != "" && claims.Issuer != t.issuer {
		return Claims{}, ErrBadIssuer
	}

	return claims, nil
}

func (t *Tokens) sign(input string) string {
	mac := hmac.New(sha256.New, t.secret)
	mac.Write([]byte(input))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

// BearerToken extracts the bearer token from a request's Authorization
// header. The second return is false when the header is absent or not a
// bearer scheme.
func BearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	if h == "" || !strings.HasPrefix(h, "Bearer ") {
		return "", false
	}
	return strings.TrimPrefix(h, "Bearer "), true
}
