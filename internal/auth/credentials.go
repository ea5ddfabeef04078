// Package auth supplies the bearer tokens the editor attaches to backend
// requests and checks the token callers present to the editor host.
package auth

import (
	"context"
	"crypto/hmac"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/golang/glog"
	gojwt "github.com/golang-jwt/jwt/v5"
)

var ErrNoToken = errors.New("no token available")

// Source produces a fresh bearer token.
type Source interface {
	Token(ctx context.Context) (string, error)
}

// Static always returns the same token. The empty Static sends requests
// without credentials.
type Static string

func (s Static) Token(context.Context) (string, error) {
	return strings.TrimSpace(string(s)), nil
}

// FileSource reads the token from a file on every call, so an external
// process can rotate it in place.
type FileSource struct {
	Path string
}

func (f FileSource) Token(context.Context) (string, error) {
	raw, err := os.ReadFile(f.Path)
	if err != nil {
		return "", fmt.Errorf("read token file: %w", err)
	}
	token := strings.TrimSpace(string(raw))
	if token == "" {
		return "", fmt.Errorf("%w: %s is empty", ErrNoToken, f.Path)
	}
	return token, nil
}

// Cached remembers the token from its source until shortly before the JWT
// expires. Tokens that are not JWTs, or carry no exp claim, are kept for
// FallbackTTL.
type Cached struct {
	source      Source
	skew        time.Duration
	fallbackTTL time.Duration
	now         func() time.Time

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

func NewCached(source Source, skew, fallbackTTL time.Duration) *Cached {
	return &Cached{
		source:      source,
		skew:        skew,
		fallbackTTL: fallbackTTL,
		now:         time.Now,
	}
}

func (c *Cached) Token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if c.token != "" && now.Add(c.skew).Before(c.expiresAt) {
		return c.token, nil
	}

	token, err := c.source.Token(ctx)
	if err != nil {
		return "", err
	}
	expiresAt, ok := Expiry(token)
	if !ok {
		expiresAt = now.Add(c.fallbackTTL)
	}
	if !now.Add(c.skew).Before(expiresAt) {
		glog.Warningf("auth: token from source expires at %s, inside the refresh window", expiresAt.Format(time.RFC3339))
	}
	c.token = token
	c.expiresAt = expiresAt
	return token, nil
}

// Invalidate drops the cached token so the next call goes to the source.
func (c *Cached) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = ""
	c.expiresAt = time.Time{}
}

// Expiry reads the exp claim of a JWT without verifying its signature. The
// backend verifies; the editor only needs to know when to ask again.
func Expiry(token string) (time.Time, bool) {
	claims := gojwt.MapClaims{}
	if _, _, err := gojwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}

// BearerMatches compares a presented token against the expected one in
// constant time. An empty expected token accepts everything.
func BearerMatches(expected, presented string) bool {
	if expected == "" {
		return true
	}
	return hmac.Equal([]byte(expected), []byte(presented))
}
