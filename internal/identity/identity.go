// Package identity issues and verifies anonymous participant identities.
// There are no accounts: each browser tab signs in anonymously and holds
// an opaque uid for as long as its token lives.
package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"ritual/api/internal/util"
)

var (
	ErrInvalidToken = errors.New("invalid identity token")
	ErrExpiredToken = errors.New("expired identity token")
)

// Identity is an anonymous signed-in participant.
type Identity struct {
	UID   string `json:"uid"`
	Token string `json:"token"`
}

// Provider signs and verifies identity tokens with an HMAC secret.
type Provider struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

const issuer = "ritual"

// NewProvider builds a provider. ttl bounds how long an identity remains
// valid; expired tabs sign in again.
func NewProvider(secret string, ttl time.Duration) *Provider {
	return &Provider{secret: []byte(secret), ttl: ttl, now: time.Now}
}

type claims struct {
	jwt.RegisteredClaims
}

// SignInAnonymously mints a fresh uid and its signed token. This must
// complete before any session operation is attempted; a failure here is
// terminal for the caller's connection.
func (p *Provider) SignInAnonymously(ctx context.Context) (Identity, error) {
	if err := ctx.Err(); err != nil {
		return Identity{}, fmt.Errorf("sign in: %w", err)
	}
	uid := util.NewID("anon")
	now := p.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   uid,
			ID:        util.NewID(""),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(p.ttl)),
		},
	})
	signed, err := token.SignedString(p.secret)
	if err != nil {
		return Identity{}, fmt.Errorf("sign token: %w", err)
	}
	return Identity{UID: uid, Token: signed}, nil
}

// Verify checks a token and returns its uid.
func (p *Provider) Verify(token string) (string, error) {
	parsed, err := jwt.ParseWithClaims(token, &claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return p.secret, nil
	}, jwt.WithIssuer(issuer), jwt.WithTimeFunc(p.now))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrExpiredToken
		}
		return "", ErrInvalidToken
	}
	c, ok := parsed.Claims.(*claims)
	if !ok || !parsed.Valid || c.Subject == "" {
		return "", ErrInvalidToken
	}
	return c.Subject, nil
}
