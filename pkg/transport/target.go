package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
)

const (
	// DefaultCloudHost serves the cloud relay WebSocket.
	DefaultCloudHost = "api.nanit.com"

	// LocalPort is the WebSocket port on the camera itself.
	LocalPort = "442"
)

// Target describes one WebSocket endpoint to dial.
type Target struct {
	URL       string
	Header    http.Header
	TLSConfig *tls.Config
}

// TargetFunc produces the target for each dial attempt, so credentials are
// re-read on every reconnect.
type TargetFunc func(ctx context.Context) (Target, error)

// CloudTargetFunc targets the cloud relay for a camera. The access token is
// fetched per attempt; the cloud handshake is the one place Nanit uses a
// Bearer scheme.
func CloudTargetFunc(host, cameraUID string, accessToken func(ctx context.Context) (string, error)) TargetFunc {
	return func(ctx context.Context) (Target, error) {
		token, err := accessToken(ctx)
		if err != nil {
			return Target{}, fmt.Errorf("cloud target: %w", err)
		}
		h := http.Header{}
		h.Set("Authorization", "Bearer "+token)
		return Target{
			URL:    fmt.Sprintf("wss://%s/focus/cameras/%s/user_connect", host, cameraUID),
			Header: h,
		}, nil
	}
}

// LocalTargetFunc targets the camera directly on the LAN. The camera presents
// a self-signed certificate, so verification is disabled, and authenticates
// with the account's uc_token under a bare "token" scheme.
func LocalTargetFunc(ip, ucToken string) TargetFunc {
	addr := ip
	if !strings.Contains(addr, ":") {
		addr = net.JoinHostPort(addr, LocalPort)
	}
	return func(ctx context.Context) (Target, error) {
		h := http.Header{}
		h.Set("Authorization", "token "+ucToken)
		return Target{
			URL:       fmt.Sprintf("wss://%s/", addr),
			Header:    h,
			TLSConfig: &tls.Config{InsecureSkipVerify: true},
		}, nil
	}
}

// Probe dials a target once and hangs up, to test reachability. The caller
// bounds the attempt through ctx.
func Probe(ctx context.Context, target TargetFunc) error {
	t, err := target(ctx)
	if err != nil {
		return &Error{Op: "probe", Err: err}
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: handshakeTimeout,
		TLSClientConfig:  t.TLSConfig,
		Proxy:            http.ProxyFromEnvironment,
	}
	ws, resp, err := dialer.DialContext(ctx, t.URL, t.Header)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		return &Error{Op: "probe", Err: err}
	}
	ws.Close()
	return nil
}
