// Package rest is the client for the Nanit cloud REST API. It handles login
// (including multi-factor accounts), token refresh, and the per-baby read
// endpoints. The WebSocket channel lives in pkg/transport; this package only
// ever speaks HTTPS.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/ethan/nanit-relay/pkg/state"
)

const (
	// DefaultBaseURL is the production Nanit cloud endpoint.
	DefaultBaseURL = "https://api.nanit.com"

	apiVersion = "1"

	// userAgent matches the iOS app build the cloud expects. Other agents get
	// degraded or rejected responses.
	userAgent = "Nanit/767 CFNetwork/1498.700.2 Darwin/23.6.0"

	// statusMFARequired is the non-standard status the cloud uses when a login
	// needs a second factor.
	statusMFARequired = 482
)

// TokenPair is an access/refresh token pair issued by the cloud.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// Client talks to the Nanit cloud. All methods are safe for concurrent use.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *slog.Logger
}

// NewClient builds a cloud client on the given HTTP client. The HTTP client is
// caller-owned and never closed by this package.
func NewClient(httpClient *http.Client, log *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		baseURL: DefaultBaseURL,
		http:    httpClient,
		logger:  log.With("component", "rest"),
	}
}

// SetBaseURL overrides the cloud endpoint, used by tests.
func (c *Client) SetBaseURL(u string) { c.baseURL = u }

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	MFAToken string `json:"mfa_token,omitempty"`
	MFACode  string `json:"mfa_code,omitempty"`
}

type loginResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	MFAToken     string `json:"mfa_token"`
}

// Login authenticates with email and password. Accounts with two-factor auth
// enabled fail with *MFARequiredError; complete the login with VerifyMFA.
func (c *Client) Login(ctx context.Context, email, password string) (TokenPair, error) {
	return c.login(ctx, loginRequest{Email: email, Password: password})
}

// VerifyMFA completes a two-factor login using the token carried by the
// MFARequiredError from Login and the code delivered to the user.
func (c *Client) VerifyMFA(ctx context.Context, email, password, mfaToken, code string) (TokenPair, error) {
	return c.login(ctx, loginRequest{
		Email:    email,
		Password: password,
		MFAToken: mfaToken,
		MFACode:  code,
	})
}

func (c *Client) login(ctx context.Context, req loginRequest) (TokenPair, error) {
	body, status, err := c.post(ctx, "/login", "", req)
	if err != nil {
		return TokenPair{}, err
	}

	var resp loginResponse
	// The MFA challenge is detected from the body, not the status code: the
	// cloud has changed the status it uses for it before.
	if jsonErr := json.Unmarshal(body, &resp); jsonErr == nil && resp.MFAToken != "" {
		c.logger.Debug("login requires second factor")
		return TokenPair{}, &MFARequiredError{MFAToken: resp.MFAToken}
	}

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return TokenPair{}, &AuthError{Reason: "invalid credentials"}
	case status == statusMFARequired:
		// Challenge status without an mfa_token in the body.
		return TokenPair{}, &AuthError{Reason: "mfa challenge without token"}
	case status < 200 || status >= 300:
		return TokenPair{}, &ConnectionError{Op: "login", StatusCode: status}
	}

	if resp.AccessToken == "" || resp.RefreshToken == "" {
		return TokenPair{}, &ConnectionError{Op: "login", Err: fmt.Errorf("response missing tokens")}
	}
	c.logger.Info("login succeeded")
	return TokenPair{AccessToken: resp.AccessToken, RefreshToken: resp.RefreshToken}, nil
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// RefreshTokens exchanges a refresh token for a new token pair.
func (c *Client) RefreshTokens(ctx context.Context, tokens TokenPair) (TokenPair, error) {
	body, status, err := c.post(ctx, "/tokens/refresh", tokens.AccessToken, refreshRequest{
		RefreshToken: tokens.RefreshToken,
	})
	if err != nil {
		return TokenPair{}, err
	}

	switch {
	case status == http.StatusNotFound:
		return TokenPair{}, &AuthError{Reason: "refresh token expired"}
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return TokenPair{}, &AuthError{Reason: "refresh token rejected"}
	case status < 200 || status >= 300:
		return TokenPair{}, &ConnectionError{Op: "refresh tokens", StatusCode: status}
	}

	var resp loginResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return TokenPair{}, &ConnectionError{Op: "refresh tokens", Err: err}
	}
	if resp.AccessToken == "" || resp.RefreshToken == "" {
		return TokenPair{}, &ConnectionError{Op: "refresh tokens", Err: fmt.Errorf("response missing tokens")}
	}
	c.logger.Debug("tokens refreshed")
	return TokenPair{AccessToken: resp.AccessToken, RefreshToken: resp.RefreshToken}, nil
}

type babiesResponse struct {
	Babies []struct {
		UID    string `json:"uid"`
		Name   string `json:"name"`
		Camera struct {
			UID string `json:"uid"`
		} `json:"camera"`
	} `json:"babies"`
}

// GetBabies lists the baby profiles and their paired camera UIDs.
func (c *Client) GetBabies(ctx context.Context, accessToken string) ([]state.Baby, error) {
	body, err := c.get(ctx, "/babies", accessToken, "get babies")
	if err != nil {
		return nil, err
	}

	var resp babiesResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &ConnectionError{Op: "get babies", Err: err}
	}

	babies := make([]state.Baby, 0, len(resp.Babies))
	for _, b := range resp.Babies {
		babies = append(babies, state.Baby{
			UID:       b.UID,
			Name:      b.Name,
			CameraUID: b.Camera.UID,
		})
	}
	return babies, nil
}

type messagesResponse struct {
	Messages []struct {
		Type    string  `json:"type"`
		Time    float64 `json:"time"`
		BabyUID string  `json:"baby_uid"`
	} `json:"messages"`
}

// GetEvents returns the most recent motion/sound notifications for a baby,
// newest first, up to limit entries.
func (c *Client) GetEvents(ctx context.Context, accessToken, babyUID string, limit int) ([]state.CloudEvent, error) {
	path := "/babies/" + babyUID + "/messages?limit=" + strconv.Itoa(limit)
	body, err := c.get(ctx, path, accessToken, "get events")
	if err != nil {
		return nil, err
	}

	var resp messagesResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &ConnectionError{Op: "get events", Err: err}
	}

	events := make([]state.CloudEvent, 0, len(resp.Messages))
	for _, m := range resp.Messages {
		uid := m.BabyUID
		if uid == "" {
			uid = babyUID
		}
		events = append(events, state.CloudEvent{
			EventType: m.Type,
			Timestamp: m.Time,
			BabyUID:   uid,
		})
	}
	return events, nil
}

// GetSnapshot returns the latest cloud snapshot for a baby as JPEG bytes.
// The endpoint is best-effort: any failure yields nil, never an error.
func (c *Client) GetSnapshot(ctx context.Context, accessToken, babyUID string) []byte {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/babies/"+babyUID+"/snapshot", nil)
	if err != nil {
		c.logger.Debug("snapshot request failed", "baby_uid", babyUID, "error", err)
		return nil
	}
	c.setHeaders(req, accessToken)

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Debug("snapshot request failed", "baby_uid", babyUID, "error", err)
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.logger.Debug("snapshot unavailable", "baby_uid", babyUID, "status", resp.StatusCode)
		return nil
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		c.logger.Debug("snapshot read failed", "baby_uid", babyUID, "error", err)
		return nil
	}
	return body
}

func (c *Client) setHeaders(req *http.Request, accessToken string) {
	req.Header.Set("nanit-api-version", apiVersion)
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "application/json")
	if accessToken != "" {
		// The REST API takes the bare token; Bearer is only used on the
		// cloud WebSocket handshake.
		req.Header.Set("Authorization", accessToken)
	}
}

func (c *Client) post(ctx context.Context, path, accessToken string, payload any) ([]byte, int, error) {
	buf, err := json.Marshal(payload)
	if err != nil {
		return nil, 0, &ConnectionError{Op: "post " + path, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(buf))
	if err != nil {
		return nil, 0, &ConnectionError{Op: "post " + path, Err: err}
	}
	c.setHeaders(req, accessToken)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, &ConnectionError{Op: "post " + path, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, &ConnectionError{Op: "post " + path, Err: err}
	}
	return body, resp.StatusCode, nil
}

func (c *Client) get(ctx context.Context, path, accessToken, op string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, &ConnectionError{Op: op, Err: err}
	}
	c.setHeaders(req, accessToken)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &ConnectionError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, &AuthError{Reason: "access token rejected"}
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, &ConnectionError{Op: op, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &ConnectionError{Op: op, Err: err}
	}
	return body, nil
}
