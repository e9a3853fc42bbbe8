// ABOUTME: Short-lived HS256 claim tokens describing the resolved session
// ABOUTME: The browser may read them but cannot forge or extend them

package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// MinSecretLength is the minimum HMAC secret length accepted by NewJWTVerifier.
const MinSecretLength = 32

// Token errors
var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
	ErrMissingClaim = errors.New("missing required claim")
	ErrWeakSecret   = fmt.Errorf("jwt secret must be at least %d bytes", MinSecretLength)
)

// Claims is the server's statement about who a session belongs to and
// whether it is an administrator right now.
type Claims struct {
	UserID    string
	Email     string
	Role      string
	Admin     bool
	GrantID   string // set when Admin comes from a time-boxed grant
	SessionID string // the browser session the claim was issued from
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// TokenVerifier defines the interface for claim token verification
type TokenVerifier interface {
	Verify(tokenString string) (*Claims, error)
}

// JWTVerifier issues and verifies HS256 signed claim tokens
type JWTVerifier struct {
	secret []byte
	now    func() time.Time
}

// NewJWTVerifier creates a new JWT verifier with the given secret
func NewJWTVerifier(secret []byte) (*JWTVerifier, error) {
	if len(secret) < MinSecretLength {
		return nil, ErrWeakSecret
	}
	return &JWTVerifier{secret: secret, now: time.Now}, nil
}

// Issue signs claims valid for ttl. IssuedAt/ExpiresAt on c are overwritten.
func (v *JWTVerifier) Issue(c *Claims, ttl time.Duration) (string, error) {
	if c.UserID == "" {
		return "", fmt.Errorf("%w: sub", ErrMissingClaim)
	}

	now := v.now()
	c.IssuedAt = now.Truncate(time.Second)
	c.ExpiresAt = now.Add(ttl).Truncate(time.Second)

	mc := jwt.MapClaims{
		"sub":   c.UserID,
		"email": c.Email,
		"role":  c.Role,
		"adm":   c.Admin,
		"iat":   c.IssuedAt.Unix(),
		"exp":   c.ExpiresAt.Unix(),
	}
	if c.GrantID != "" {
		mc["gid"] = c.GrantID
	}
	if c.SessionID != "" {
		mc["sid"] = c.SessionID
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, mc)
	return token.SignedString(v.secret)
}

// Verify validates the token signature and expiry and returns its claims.
func (v *JWTVerifier) Verify(tokenString string) (*Claims, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		// Validate the signing method is HS256
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	}, jwt.WithTimeFunc(v.now), jwt.WithExpirationRequired())

	if err != nil {
		// Check if it's specifically an expiration error
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if !token.Valid {
		return nil, ErrInvalidToken
	}

	mc, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrInvalidToken
	}

	sub, ok := mc["sub"].(string)
	if !ok || sub == "" {
		return nil, fmt.Errorf("%w: sub", ErrMissingClaim)
	}

	c := &Claims{UserID: sub}
	c.Email, _ = mc["email"].(string)
	c.Role, _ = mc["role"].(string)
	c.Admin, _ = mc["adm"].(bool)
	c.GrantID, _ = mc["gid"].(string)
	c.SessionID, _ = mc["sid"].(string)

	if exp, err := mc.GetExpirationTime(); err == nil && exp != nil {
		c.ExpiresAt = exp.Time
	}
	if iat, err := mc.GetIssuedAt(); err == nil && iat != nil {
		c.IssuedAt = iat.Time
	}

	return c, nil
}
