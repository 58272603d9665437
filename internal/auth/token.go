// Package auth mints and verifies guest identity tokens.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/dkeye/huddle/internal/domain"
	"github.com/golang-jwt/jwt/v5"
)

const DefaultTokenTTL = 7 * 24 * time.Hour

var ErrInvalidToken = errors.New("invalid identity token")

type Claims struct {
	UserID string `json:"uid"`
	Name   string `json:"name"`
	jwt.RegisteredClaims
}

func (c *Claims) User() domain.User {
	return domain.User{ID: c.UserID, DisplayName: c.Name}
}

type Issuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewIssuer(secret string, ttl time.Duration) (*Issuer, error) {
	if secret == "" {
		return nil, errors.New("auth: secret must be provided")
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &Issuer{secret: []byte(secret), ttl: ttl, now: time.Now}, nil
}

// Issue signs a token for u.
func (i *Issuer) Issue(u domain.User) (string, error) {
	if u.ID == "" {
		return "", errors.New("auth: user id is required")
	}
	now := i.now()
	claims := &Claims{
		UserID: u.ID,
		Name:   u.DisplayName,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("auth: sign token: %w", err)
	}
	return signed, nil
}

// IssueGuest creates a fresh identity for displayName and signs it.
func (i *Issuer) IssueGuest(displayName string) (domain.User, string, error) {
	u, err := domain.NewUser(displayName)
	if err != nil {
		return domain.User{}, "", err
	}
	tok, err := i.Issue(u)
	if err != nil {
		return domain.User{}, "", err
	}
	return u, tok, nil
}

func (i *Issuer) Parse(token string) (domain.User, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(i.now),
	)
	var claims Claims
	if _, err := parser.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return i.secret, nil
	}); err != nil {
		return domain.User{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.UserID == "" {
		return domain.User{}, fmt.Errorf("%w: missing uid", ErrInvalidToken)
	}
	return claims.User(), nil
}

// TokenIdentity reads the identity a client holds without verifying the
// signature; only the server can do that.
type TokenIdentity struct {
	user  domain.User
	token string
}

func NewTokenIdentity(token string) (*TokenIdentity, error) {
	var claims Claims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.UserID == "" {
		return nil, fmt.Errorf("%w: missing uid", ErrInvalidToken)
	}
	return &TokenIdentity{user: claims.User(), token: token}, nil
}

func (t *TokenIdentity) CurrentUser() domain.User { return t.user }
func (t *TokenIdentity) Token() string            { return t.token }
