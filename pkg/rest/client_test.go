package rest

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := NewClient(srv.Client(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	c.SetBaseURL(srv.URL)
	return c
}

func TestLoginSuccess(t *testing.T) {
	var gotHeaders http.Header
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/login", r.URL.Path)
		gotHeaders = r.Header.Clone()
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"access_token":"acc1","refresh_token":"ref1"}`))
	}))

	tokens, err := c.Login(context.Background(), "a@b.c", "pw")
	require.NoError(t, err)
	assert.Equal(t, TokenPair{AccessToken: "acc1", RefreshToken: "ref1"}, tokens)

	assert.Equal(t, "1", gotHeaders.Get("nanit-api-version"))
	assert.Equal(t, "Nanit/767 CFNetwork/1498.700.2 Darwin/23.6.0", gotHeaders.Get("User-Agent"))
	assert.Empty(t, gotHeaders.Get("Authorization"))
}

func TestLoginInvalidCredentials(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":"unauthorized"}`))
	}))

	_, err := c.Login(context.Background(), "a@b.c", "wrong")
	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
}

func TestLoginMFARequired(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(482)
		w.Write([]byte(`{"mfa_token":"mfatok"}`))
	}))

	_, err := c.Login(context.Background(), "a@b.c", "pw")
	var mfaErr *MFARequiredError
	require.ErrorAs(t, err, &mfaErr)
	assert.Equal(t, "mfatok", mfaErr.MFAToken)
}

func TestLoginMFATokenBeatsStatusCode(t *testing.T) {
	// The mfa_token in the body wins even when the status is not 482.
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"mfa_token":"mfatok2"}`))
	}))

	_, err := c.Login(context.Background(), "a@b.c", "pw")
	var mfaErr *MFARequiredError
	require.ErrorAs(t, err, &mfaErr)
	assert.Equal(t, "mfatok2", mfaErr.MFAToken)
}

func TestVerifyMFA(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		require.NoError(t, jsonDecode(r, &body))
		assert.Equal(t, "mfatok", body["mfa_token"])
		assert.Equal(t, "123456", body["mfa_code"])
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"access_token":"acc2","refresh_token":"ref2"}`))
	}))

	tokens, err := c.VerifyMFA(context.Background(), "a@b.c", "pw", "mfatok", "123456")
	require.NoError(t, err)
	assert.Equal(t, "acc2", tokens.AccessToken)
}

func TestRefreshTokens(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		wantAuth   bool
		wantTokens TokenPair
	}{
		{
			name:       "success",
			status:     http.StatusOK,
			body:       `{"access_token":"acc3","refresh_token":"ref3"}`,
			wantTokens: TokenPair{AccessToken: "acc3", RefreshToken: "ref3"},
		},
		{
			name:     "expired refresh token",
			status:   http.StatusNotFound,
			body:     `{}`,
			wantAuth: true,
		},
		{
			name:     "rejected refresh token",
			status:   http.StatusUnauthorized,
			body:     `{}`,
			wantAuth: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				require.Equal(t, "/tokens/refresh", r.URL.Path)
				assert.Equal(t, "oldacc", r.Header.Get("Authorization"))
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))

			got, err := c.RefreshTokens(context.Background(), TokenPair{AccessToken: "oldacc", RefreshToken: "oldref"})
			if tt.wantAuth {
				var authErr *AuthError
				require.ErrorAs(t, err, &authErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantTokens, got)
		})
	}
}

func TestGetBabies(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/babies", r.URL.Path)
		assert.Equal(t, "acc", r.Header.Get("Authorization"))
		w.Write([]byte(`{"babies":[
			{"uid":"baby1","name":"Ada","camera":{"uid":"cam1"}},
			{"uid":"baby2","name":"Max","camera":{"uid":"cam2"}}
		]}`))
	}))

	babies, err := c.GetBabies(context.Background(), "acc")
	require.NoError(t, err)
	require.Len(t, babies, 2)
	assert.Equal(t, "baby1", babies[0].UID)
	assert.Equal(t, "Ada", babies[0].Name)
	assert.Equal(t, "cam1", babies[0].CameraUID)
}

func TestGetBabiesExpiredToken(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))

	_, err := c.GetBabies(context.Background(), "stale")
	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
}

func TestGetEvents(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/babies/baby1/messages", r.URL.Path)
		require.Equal(t, "5", r.URL.Query().Get("limit"))
		w.Write([]byte(`{"messages":[
			{"type":"MOTION","time":1700000100.5,"baby_uid":"baby1"},
			{"type":"SOUND","time":1700000000}
		]}`))
	}))

	events, err := c.GetEvents(context.Background(), "acc", "baby1", 5)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "MOTION", events[0].EventType)
	assert.Equal(t, 1700000100.5, events[0].Timestamp)
	assert.Equal(t, "baby1", events[1].BabyUID) // filled in when absent
}

func TestGetSnapshot(t *testing.T) {
	// The endpoint answers with the raw image, not JSON.
	jpeg := append([]byte{0xFF, 0xD8, 0xFF, 0xE0}, []byte("frame-data")...)

	tests := []struct {
		name   string
		status int
		body   []byte
		want   []byte
	}{
		{name: "available", status: 200, body: jpeg, want: jpeg},
		{name: "not found", status: 404, body: nil, want: nil},
		{name: "server error", status: 500, body: []byte(`{"error":"oops"}`), want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				require.Equal(t, "/babies/baby1/snapshot", r.URL.Path)
				assert.Equal(t, "acc", r.Header.Get("Authorization"))
				w.WriteHeader(tt.status)
				w.Write(tt.body)
			}))

			got := c.GetSnapshot(context.Background(), "acc", "baby1")
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestGetSnapshotUnreachable(t *testing.T) {
	c := NewClient(http.DefaultClient, slog.New(slog.NewTextHandler(io.Discard, nil)))
	c.SetBaseURL("http://127.0.0.1:1")

	assert.Nil(t, c.GetSnapshot(context.Background(), "acc", "baby1"))
}

func jsonDecode(r *http.Request, out any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(out)
}
