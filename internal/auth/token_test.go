// ABOUTME: Unit tests for claim token issue and verification
// ABOUTME: Tests valid tokens, tampered tokens, expiry and weak secrets

package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var tokenTestSecret = []byte("token-test-secret-that-is-32byte")

func newTestVerifier(t *testing.T) *JWTVerifier {
	t.Helper()
	v, err := NewJWTVerifier(tokenTestSecret)
	if err != nil {
		t.Fatalf("NewJWTVerifier() error = %v", err)
	}
	return v
}

func TestNewJWTVerifier_WeakSecret(t *testing.T) {
	_, err := NewJWTVerifier([]byte("short"))
	if !errors.Is(err, ErrWeakSecret) {
		t.Fatalf("NewJWTVerifier() error = %v, want ErrWeakSecret", err)
	}
}

func TestJWTVerifier_RoundTrip(t *testing.T) {
	v := newTestVerifier(t)

	in := &Claims{
		UserID:    "user-123",
		Email:     "a@example.com",
		Role:      "member",
		Admin:     true,
		GrantID:   "grant-9",
		SessionID: "sess-1",
	}
	token, err := v.Issue(in, 15*time.Minute)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	got, err := v.Verify(token)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}

	if got.UserID != "user-123" || got.Email != "a@example.com" || got.Role != "member" {
		t.Errorf("Verify() identity = %+v", got)
	}
	if !got.Admin || got.GrantID != "grant-9" {
		t.Errorf("Verify() admin = %v gid = %q, want true grant-9", got.Admin, got.GrantID)
	}
	if got.SessionID != "sess-1" {
		t.Errorf("Verify() sid = %q, want sess-1", got.SessionID)
	}
	if !got.ExpiresAt.Equal(in.ExpiresAt) {
		t.Errorf("ExpiresAt = %v, want %v", got.ExpiresAt, in.ExpiresAt)
	}
}

func TestJWTVerifier_NonAdminOmitsGrant(t *testing.T) {
	v := newTestVerifier(t)

	token, err := v.Issue(&Claims{UserID: "u"}, time.Minute)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	got, err := v.Verify(token)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if got.Admin || got.GrantID != "" {
		t.Errorf("got admin=%v gid=%q, want false and empty", got.Admin, got.GrantID)
	}
}

func TestJWTVerifier_IssueRequiresSubject(t *testing.T) {
	v := newTestVerifier(t)
	_, err := v.Issue(&Claims{}, time.Minute)
	if !errors.Is(err, ErrMissingClaim) {
		t.Fatalf("Issue() error = %v, want ErrMissingClaim", err)
	}
}

func TestJWTVerifier_Expired(t *testing.T) {
	v := newTestVerifier(t)
	past := time.Now().Add(-time.Hour)
	v.now = func() time.Time { return past }

	token, err := v.Issue(&Claims{UserID: "u"}, time.Minute)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	v.now = time.Now
	_, err = v.Verify(token)
	if !errors.Is(err, ErrExpiredToken) {
		t.Fatalf("Verify() error = %v, want ErrExpiredToken", err)
	}
}

func TestJWTVerifier_InvalidToken(t *testing.T) {
	v := newTestVerifier(t)

	other, err := NewJWTVerifier([]byte("a-completely-different-secret-32"))
	if err != nil {
		t.Fatalf("NewJWTVerifier() error = %v", err)
	}
	forged, _ := other.Issue(&Claims{UserID: "u", Admin: true}, time.Hour)

	noExp := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "u"})
	noExpToken, _ := noExp.SignedString(tokenTestSecret)

	noneAlg := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"sub": "u", "exp": time.Now().Add(time.Hour).Unix()})
	noneToken, _ := noneAlg.SignedString(jwt.UnsafeAllowNoneSignatureType)

	tests := []struct {
		name  string
		token string
	}{
		{"empty token", ""},
		{"garbage token", "not-a-jwt-token"},
		{"malformed JWT", "header.payload.signature"},
		{"wrong secret", forged},
		{"missing exp", noExpToken},
		{"alg none", noneToken},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Verify(tt.token)
			if !errors.Is(err, ErrInvalidToken) {
				t.Errorf("Verify() error = %v, want ErrInvalidToken", err)
			}
		})
	}
}

func TestJWTVerifier_MissingSubject(t *testing.T) {
	v := newTestVerifier(t)

	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	s, err := tok.SignedString(tokenTestSecret)
	if err != nil {
		t.Fatalf("SignedString() error = %v", err)
	}

	_, err = v.Verify(s)
	if !errors.Is(err, ErrMissingClaim) {
		t.Errorf("Verify() error = %v, want ErrMissingClaim", err)
	}
}
