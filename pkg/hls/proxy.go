// Package hls turns the camera's RTMPS push into an HLS rolling playlist by
// supervising an ffmpeg child process. Segments land in a local directory and
// are served by the daemon API.
package hls

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"
	"time"
)

const (
	playlistName = "index.m3u8"

	// stopDeadline bounds how long a terminating ffmpeg gets before SIGKILL.
	stopDeadline = 5 * time.Second
)

// Config mirrors config.HLSConfig.
type Config struct {
	Dir            string
	FFmpegPath     string
	SegmentSeconds int
	PlaylistLength int
}

// Status describes the proxy for the API.
type Status struct {
	Running   bool       `json:"running"`
	StartedAt *time.Time `json:"started_at,omitempty"`
	Playlist  string     `json:"playlist,omitempty"`
}

// Proxy supervises one ffmpeg process. Start/Stop are safe for concurrent
// use; at most one transcode runs at a time.
type Proxy struct {
	cfg    Config
	logger *slog.Logger

	mu        sync.Mutex
	cmd       *exec.Cmd
	cancel    context.CancelFunc
	startedAt time.Time
	done      chan struct{}
}

// New builds a proxy. Nothing runs until Start.
func New(cfg Config, log *slog.Logger) *Proxy {
	if cfg.FFmpegPath == "" {
		cfg.FFmpegPath = "ffmpeg"
	}
	if cfg.SegmentSeconds <= 0 {
		cfg.SegmentSeconds = 2
	}
	if cfg.PlaylistLength <= 0 {
		cfg.PlaylistLength = 6
	}
	return &Proxy{
		cfg:    cfg,
		logger: log.With("component", "hls"),
	}
}

// Start launches ffmpeg against the given RTMPS URL. Starting while a
// transcode is already running is an error; Stop first.
func (p *Proxy) Start(streamURL string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cmd != nil {
		return fmt.Errorf("hls: already running")
	}
	if err := os.MkdirAll(p.cfg.Dir, 0755); err != nil {
		return fmt.Errorf("hls: create segment dir: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(ctx, p.cfg.FFmpegPath,
		"-hide_banner",
		"-loglevel", "warning",
		"-rtmp_live", "live",
		"-i", streamURL,
		"-c", "copy",
		"-f", "hls",
		"-hls_time", strconv.Itoa(p.cfg.SegmentSeconds),
		"-hls_list_size", strconv.Itoa(p.cfg.PlaylistLength),
		"-hls_flags", "delete_segments+append_list",
		filepath.Join(p.cfg.Dir, playlistName),
	)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		cancel()
		return fmt.Errorf("hls: start ffmpeg: %w", err)
	}

	p.cmd = cmd
	p.cancel = cancel
	p.startedAt = time.Now()
	p.done = make(chan struct{})
	p.logger.Info("ffmpeg started", "pid", cmd.Process.Pid)

	go p.wait(cmd, p.done)
	return nil
}

// wait reaps the process and clears the running state once it exits, whether
// stopped by us or crashed on its own.
func (p *Proxy) wait(cmd *exec.Cmd, done chan struct{}) {
	err := cmd.Wait()
	close(done)

	p.mu.Lock()
	if p.cmd == cmd {
		p.cmd = nil
		p.cancel = nil
	}
	p.mu.Unlock()

	if err != nil {
		p.logger.Warn("ffmpeg exited", "err", err)
	} else {
		p.logger.Info("ffmpeg exited")
	}
}

// Stop terminates ffmpeg, escalating to SIGKILL after the deadline. Stopping
// an idle proxy is a no-op.
func (p *Proxy) Stop() error {
	p.mu.Lock()
	cmd := p.cmd
	cancel := p.cancel
	done := p.done
	p.mu.Unlock()

	if cmd == nil {
		return nil
	}

	if err := cmd.Process.Signal(os.Interrupt); err != nil {
		cancel()
	}
	select {
	case <-done:
	case <-time.After(stopDeadline):
		p.logger.Warn("ffmpeg did not exit in time, killing")
		cancel()
		<-done
	}
	return nil
}

// Running reports whether ffmpeg is up.
func (p *Proxy) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cmd != nil
}

// Status returns the proxy state for the API.
func (p *Proxy) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()

	st := Status{Running: p.cmd != nil}
	if p.cmd != nil {
		started := p.startedAt
		st.StartedAt = &started
		st.Playlist = "/hls/" + playlistName
	}
	return st
}

// Handler serves the playlist and segments out of the segment directory.
func (p *Proxy) Handler() http.Handler {
	return http.FileServer(http.Dir(p.cfg.Dir))
}
