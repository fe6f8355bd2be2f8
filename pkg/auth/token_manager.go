// Package auth keeps the Nanit token pair fresh. A TokenManager owns the
// current access/refresh tokens, refreshes them through the REST client when
// they near expiry, and notifies subscribers so new pairs can be persisted.
package auth

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/ethan/nanit-relay/pkg/metrics"
	"github.com/ethan/nanit-relay/pkg/rest"
)

const (
	// minTTL is the remaining lifetime below which a token is treated as
	// already expired, so in-flight requests do not race the real expiry.
	minTTL = 60 * time.Second

	// assumedTTL is used when the access token carries no readable expiry.
	assumedTTL = time.Hour
)

// Refresher is the slice of the REST client the manager needs.
type Refresher interface {
	RefreshTokens(ctx context.Context, tokens rest.TokenPair) (rest.TokenPair, error)
}

// TokenManager serializes token refresh. Under contention exactly one refresh
// hits the cloud; the other callers block and reuse its result.
type TokenManager struct {
	client Refresher
	logger *slog.Logger

	mu        sync.Mutex
	tokens    rest.TokenPair
	expiresAt time.Time
	nextSub   int
	subs      map[int]func(rest.TokenPair)
}

// NewTokenManager builds a manager around an initial token pair.
func NewTokenManager(client Refresher, tokens rest.TokenPair, log *slog.Logger) *TokenManager {
	m := &TokenManager{
		client: client,
		logger: log.With("component", "auth"),
		subs:   make(map[int]func(rest.TokenPair)),
	}
	m.setLocked(tokens)
	return m
}

// AccessToken returns a token valid for at least minTTL, refreshing first if
// needed.
func (m *TokenManager) AccessToken(ctx context.Context) (string, error) {
	m.mu.Lock()
	if m.validLocked(time.Now()) {
		tok := m.tokens.AccessToken
		m.mu.Unlock()
		return tok, nil
	}

	tokens, subs, err := m.refreshLocked(ctx)
	m.mu.Unlock()
	if err != nil {
		return "", err
	}
	notify(subs, tokens, m.logger)
	return tokens.AccessToken, nil
}

// Refresh forces a refresh regardless of the current token's lifetime.
func (m *TokenManager) Refresh(ctx context.Context) error {
	m.mu.Lock()
	tokens, subs, err := m.refreshLocked(ctx)
	m.mu.Unlock()
	if err != nil {
		return err
	}
	notify(subs, tokens, m.logger)
	return nil
}

// Tokens returns the current token pair.
func (m *TokenManager) Tokens() rest.TokenPair {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tokens
}

// SetTokens replaces the token pair, for restoring a persisted session.
// Subscribers are not notified; the pair came from the caller.
func (m *TokenManager) SetTokens(tokens rest.TokenPair) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setLocked(tokens)
}

// OnTokensRefreshed registers a callback invoked after every successful
// refresh. The returned function unsubscribes it.
func (m *TokenManager) OnTokensRefreshed(fn func(rest.TokenPair)) func() {
	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = fn
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.subs, id)
		m.mu.Unlock()
	}
}

func (m *TokenManager) validLocked(now time.Time) bool {
	return m.tokens.AccessToken != "" && now.Before(m.expiresAt.Add(-minTTL))
}

// refreshLocked runs with m.mu held and returns the subscriber snapshot so
// callbacks run outside the lock.
func (m *TokenManager) refreshLocked(ctx context.Context) (rest.TokenPair, []func(rest.TokenPair), error) {
	fresh, err := m.client.RefreshTokens(ctx, m.tokens)
	if err != nil {
		metrics.TokenRefreshes.WithLabelValues("error").Inc()
		var authErr *rest.AuthError
		if errors.As(err, &authErr) {
			return rest.TokenPair{}, nil, err
		}
		// Anything else still means the session could not be kept alive.
		return rest.TokenPair{}, nil, &rest.AuthError{Reason: "token refresh failed", Err: err}
	}
	metrics.TokenRefreshes.WithLabelValues("success").Inc()

	m.setLocked(fresh)
	m.logger.Debug("token pair refreshed", "expires_at", m.expiresAt)

	subs := make([]func(rest.TokenPair), 0, len(m.subs))
	for _, fn := range m.subs {
		subs = append(subs, fn)
	}
	return fresh, subs, nil
}

func (m *TokenManager) setLocked(tokens rest.TokenPair) {
	m.tokens = tokens
	m.expiresAt = tokenExpiry(tokens.AccessToken, time.Now())
}

func notify(subs []func(rest.TokenPair), tokens rest.TokenPair, log *slog.Logger) {
	for _, fn := range subs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Error("token refresh subscriber panicked", "panic", r)
				}
			}()
			fn(tokens)
		}()
	}
}

// tokenExpiry reads the exp claim when the access token is a JWT; Nanit's
// tokens usually are. Opaque tokens get the assumed lifetime.
func tokenExpiry(accessToken string, now time.Time) time.Time {
	if accessToken != "" {
		parser := jwt.NewParser()
		tok, _, err := parser.ParseUnverified(accessToken, jwt.MapClaims{})
		if err == nil {
			if exp, err := tok.Claims.GetExpirationTime(); err == nil && exp != nil {
				return exp.Time
			}
		}
	}
	return now.Add(assumedTTL)
}
