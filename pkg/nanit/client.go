// Package nanit ties the pieces together: one Client owns the REST session,
// keeps the token pair fresh, and hands out camera controllers.
package nanit

import (
	"context"
	"log/slog"
	"net/http"
	"sync"

	"github.com/ethan/nanit-relay/pkg/auth"
	"github.com/ethan/nanit-relay/pkg/camera"
	"github.com/ethan/nanit-relay/pkg/rest"
	"github.com/ethan/nanit-relay/pkg/state"
)

// Client is the entry point for one Nanit account session.
type Client struct {
	rest   *rest.Client
	logger *slog.Logger

	mu      sync.Mutex
	tokens  *auth.TokenManager
	cameras map[string]*camera.Controller
}

// NewClient builds a session client. The HTTP client is caller-owned: Close
// never touches it, so it can be shared with other subsystems.
func NewClient(httpClient *http.Client, log *slog.Logger) *Client {
	return &Client{
		rest:    rest.NewClient(httpClient, log),
		logger:  log.With("component", "nanit"),
		cameras: make(map[string]*camera.Controller),
	}
}

// REST exposes the underlying cloud client for callers that need the raw
// endpoints.
func (c *Client) REST() *rest.Client { return c.rest }

// Login authenticates with email and password. Two-factor accounts fail with
// *rest.MFARequiredError; finish with VerifyMFA.
func (c *Client) Login(ctx context.Context, email, password string) error {
	tokens, err := c.rest.Login(ctx, email, password)
	if err != nil {
		return err
	}
	c.install(tokens)
	return nil
}

// VerifyMFA completes a two-factor login.
func (c *Client) VerifyMFA(ctx context.Context, email, password, mfaToken, code string) error {
	tokens, err := c.rest.VerifyMFA(ctx, email, password, mfaToken, code)
	if err != nil {
		return err
	}
	c.install(tokens)
	return nil
}

// RestoreTokens resumes a persisted session without logging in.
func (c *Client) RestoreTokens(tokens rest.TokenPair) {
	c.install(tokens)
}

func (c *Client) install(tokens rest.TokenPair) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tokens != nil {
		c.tokens.SetTokens(tokens)
		return
	}
	c.tokens = auth.NewTokenManager(c.rest, tokens, c.logger)
}

// Authenticated reports whether a session is established.
func (c *Client) Authenticated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tokens != nil
}

// Tokens returns the current token pair, or the zero pair before login.
func (c *Client) Tokens() rest.TokenPair {
	c.mu.Lock()
	tm := c.tokens
	c.mu.Unlock()
	if tm == nil {
		return rest.TokenPair{}
	}
	return tm.Tokens()
}

// OnTokensRefreshed registers a persistence callback on the token manager.
// Registering before login is an error.
func (c *Client) OnTokensRefreshed(fn func(rest.TokenPair)) (func(), error) {
	tm, err := c.tokenManager()
	if err != nil {
		return nil, err
	}
	return tm.OnTokensRefreshed(fn), nil
}

func (c *Client) tokenManager() (*auth.TokenManager, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tokens == nil {
		return nil, &rest.AuthError{Reason: "not authenticated"}
	}
	return c.tokens, nil
}

// GetBabies lists the account's baby profiles.
func (c *Client) GetBabies(ctx context.Context) ([]state.Baby, error) {
	tm, err := c.tokenManager()
	if err != nil {
		return nil, err
	}
	token, err := tm.AccessToken(ctx)
	if err != nil {
		return nil, err
	}
	return c.rest.GetBabies(ctx, token)
}

// GetEvents returns the latest cloud notifications for a baby.
func (c *Client) GetEvents(ctx context.Context, babyUID string, limit int) ([]state.CloudEvent, error) {
	tm, err := c.tokenManager()
	if err != nil {
		return nil, err
	}
	token, err := tm.AccessToken(ctx)
	if err != nil {
		return nil, err
	}
	return c.rest.GetEvents(ctx, token, babyUID, limit)
}

// GetSnapshot returns the latest cloud snapshot for a baby as JPEG bytes,
// or nil when no snapshot is available.
func (c *Client) GetSnapshot(ctx context.Context, babyUID string) []byte {
	tm, err := c.tokenManager()
	if err != nil {
		return nil
	}
	token, err := tm.AccessToken(ctx)
	if err != nil {
		return nil
	}
	return c.rest.GetSnapshot(ctx, token, babyUID)
}

// Camera returns the controller for a camera, building it on first use.
// Controllers are cached by camera UID and stopped by Close.
func (c *Client) Camera(cfg camera.Config) (*camera.Controller, error) {
	tm, err := c.tokenManager()
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if ctrl, ok := c.cameras[cfg.CameraUID]; ok {
		return ctrl, nil
	}
	ctrl := camera.New(cfg, tm, c.logger)
	c.cameras[cfg.CameraUID] = ctrl
	return ctrl, nil
}

// Close stops every camera controller. The HTTP client passed to NewClient
// stays open.
func (c *Client) Close() {
	c.mu.Lock()
	cameras := make([]*camera.Controller, 0, len(c.cameras))
	for _, ctrl := range c.cameras {
		cameras = append(cameras, ctrl)
	}
	c.cameras = make(map[string]*camera.Controller)
	c.mu.Unlock()

	for _, ctrl := range cameras {
		ctrl.Stop()
	}
	c.logger.Info("client closed")
}
