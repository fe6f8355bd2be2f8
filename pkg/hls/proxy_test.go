package hls

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeFFmpeg writes a stand-in binary that ignores its arguments and sleeps
// until signalled.
func fakeFFmpeg(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ffmpeg")
	script := "#!/bin/sh\ntrap 'exit 0' INT TERM\nwhile true; do sleep 1; done\n"
	require.NoError(t, os.WriteFile(path, []byte(script), 0755))
	return path
}

func newTestProxy(t *testing.T) *Proxy {
	t.Helper()
	return New(Config{
		Dir:        filepath.Join(t.TempDir(), "segments"),
		FFmpegPath: fakeFFmpeg(t),
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestStartStop(t *testing.T) {
	p := newTestProxy(t)
	assert.False(t, p.Running())

	require.NoError(t, p.Start("rtmps://media-secured.nanit.com/nanit/baby1.tok"))
	assert.True(t, p.Running())

	st := p.Status()
	assert.True(t, st.Running)
	require.NotNil(t, st.StartedAt)
	assert.Equal(t, "/hls/index.m3u8", st.Playlist)

	require.NoError(t, p.Stop())
	require.Eventually(t, func() bool { return !p.Running() }, 2*time.Second, 10*time.Millisecond)
	assert.False(t, p.Status().Running)
}

func TestDoubleStart(t *testing.T) {
	p := newTestProxy(t)
	require.NoError(t, p.Start("rtmps://example/stream"))
	defer p.Stop()

	err := p.Start("rtmps://example/stream")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already running")
}

func TestStopIdle(t *testing.T) {
	p := newTestProxy(t)
	require.NoError(t, p.Stop())
}

func TestCrashClearsState(t *testing.T) {
	p := newTestProxy(t)
	// A binary that exits immediately looks like an ffmpeg crash.
	p.cfg.FFmpegPath = "/bin/true"

	require.NoError(t, p.Start("rtmps://example/stream"))
	require.Eventually(t, func() bool { return !p.Running() }, 2*time.Second, 10*time.Millisecond)

	// A new Start works after the crash.
	p.cfg.FFmpegPath = fakeFFmpeg(t)
	require.NoError(t, p.Start("rtmps://example/stream"))
	p.Stop()
}
