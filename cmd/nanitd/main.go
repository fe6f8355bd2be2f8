// nanitd keeps a persistent connection to a Nanit camera and exposes its
// state and controls over a local HTTP API.
//
// The daemon starts the API first and waits for a token pair, either from the
// session file or from POST /api/auth/token (see cmd/nanit-login). Once
// authenticated it discovers the account's babies, starts the camera
// controller, and opens the API's ready gate.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethan/nanit-relay/pkg/api"
	"github.com/ethan/nanit-relay/pkg/camera"
	"github.com/ethan/nanit-relay/pkg/config"
	"github.com/ethan/nanit-relay/pkg/hls"
	"github.com/ethan/nanit-relay/pkg/logger"
	"github.com/ethan/nanit-relay/pkg/nanit"
	"github.com/ethan/nanit-relay/pkg/rest"
	"github.com/ethan/nanit-relay/pkg/state"
	"github.com/ethan/nanit-relay/pkg/transport"
)

func main() {
	fs := flag.NewFlagSet("nanitd", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to YAML config file")
	logFlags := logger.RegisterFlags(fs)
	fs.Parse(os.Args[1:])

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	// Command-line flags win over the config file for logging.
	explicit := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { explicit[f.Name] = true })
	if !explicit["log-level"] && !explicit["l"] {
		logFlags.LogLevel = cfg.Log.Level
	}
	if !explicit["log-format"] {
		logFlags.LogFormat = cfg.Log.Format
	}
	if !explicit["log-file"] && !explicit["o"] {
		logFlags.LogFile = cfg.Log.File
	}

	logCfg, err := logFlags.ToConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging setup: %v\n", err)
		os.Exit(1)
	}
	log, err := logger.New(logCfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging setup: %v\n", err)
		os.Exit(1)
	}
	defer log.Close()
	logger.SetDefault(log)

	log.Info("starting nanitd", "logging", logFlags.String())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	client := nanit.NewClient(&http.Client{Timeout: 30 * time.Second}, log.Logger)
	if cfg.Cloud.Host != transport.DefaultCloudHost {
		client.REST().SetBaseURL("https://" + cfg.Cloud.Host)
	}

	var hlsProxy *hls.Proxy
	if cfg.HLS.Enabled {
		hlsProxy = hls.New(hls.Config{
			Dir:            cfg.HLS.Dir,
			FFmpegPath:     cfg.HLS.FFmpegPath,
			SegmentSeconds: cfg.HLS.SegmentSeconds,
			PlaylistLength: cfg.HLS.PlaylistLength,
		}, log.Logger)
	}

	server := api.NewServer(api.Config{
		Listen:      cfg.API.Listen,
		RateLimit:   cfg.API.RateLimit,
		Burst:       cfg.API.Burst,
		EventsLimit: cfg.Cloud.EventsLimit,
	}, client, hlsProxy, log.Logger)

	// Tokens arrive either from the session file or over the API.
	tokensCh := make(chan rest.TokenPair, 1)
	server.SetTokenHandler(func(ctx context.Context, tokens rest.TokenPair) error {
		select {
		case tokensCh <- tokens:
			return nil
		default:
			return fmt.Errorf("token provisioning already in progress")
		}
	})

	if err := server.Start(ctx); err != nil {
		log.Error("failed to start HTTP server", "error", err)
		os.Exit(1)
	}
	defer func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer stopCancel()
		if err := server.Stop(stopCtx); err != nil {
			log.Error("failed to stop HTTP server", "error", err)
		}
	}()

	if tokens, err := loadSession(cfg.SessionFile); err == nil {
		log.Info("session file loaded", "path", cfg.SessionFile)
		tokensCh <- tokens
	} else if !errors.Is(err, os.ErrNotExist) {
		log.Warn("failed to load session file", "path", cfg.SessionFile, "error", err)
	}

	if err := run(ctx, cfg, client, server, hlsProxy, tokensCh, log); err != nil {
		log.Error("daemon failed", "error", err)
		client.Close()
		os.Exit(1)
	}

	client.Close()
	if hlsProxy != nil {
		hlsProxy.Stop()
	}
	log.Info("graceful shutdown complete")
}

// run waits for a usable token pair, then brings up the camera.
func run(ctx context.Context, cfg *config.Config, client *nanit.Client, server *api.Server, hlsProxy *hls.Proxy, tokensCh <-chan rest.TokenPair, log *logger.Logger) error {
	babies, err := authenticate(ctx, cfg, client, tokensCh, log)
	if err != nil {
		return err
	}

	// Once authenticated, re-provisioned tokens replace the session directly.
	server.SetTokenHandler(func(ctx context.Context, tokens rest.TokenPair) error {
		client.RestoreTokens(tokens)
		return saveSession(cfg.SessionFile, tokens)
	})

	// Persist refreshed tokens so restarts skip re-provisioning.
	if _, err := client.OnTokensRefreshed(func(tokens rest.TokenPair) {
		if err := saveSession(cfg.SessionFile, tokens); err != nil {
			log.Warn("failed to persist session", "path", cfg.SessionFile, "error", err)
		}
	}); err != nil {
		return err
	}
	if err := saveSession(cfg.SessionFile, client.Tokens()); err != nil {
		log.Warn("failed to persist session", "path", cfg.SessionFile, "error", err)
	}

	baby, err := pickBaby(babies)
	if err != nil {
		return err
	}
	log.Info("camera selected", "baby_uid", baby.UID, "baby_name", baby.Name, "camera_uid", baby.CameraUID)

	cam, err := client.Camera(camera.Config{
		BabyUID:     baby.UID,
		CameraUID:   baby.CameraUID,
		LocalIP:     cfg.Camera.LocalIP,
		UCToken:     cfg.Camera.UCToken,
		PreferLocal: cfg.Camera.PreferLocal,
		CloudHost:   cfg.Cloud.Host,
	})
	if err != nil {
		return err
	}
	if err := cam.Start(ctx); err != nil {
		return fmt.Errorf("start camera: %w", err)
	}

	server.SetCamera(cam)
	log.Info("daemon ready", "api", cfg.API.Listen, "hls_enabled", hlsProxy != nil)

	<-ctx.Done()
	return nil
}

// authenticate blocks until a token pair from the session file or the API
// passes a cloud round-trip. Bad tokens are logged and the wait continues.
func authenticate(ctx context.Context, cfg *config.Config, client *nanit.Client, tokensCh <-chan rest.TokenPair, log *logger.Logger) ([]state.Baby, error) {
	log.Info("waiting for tokens", "session_file", cfg.SessionFile, "provision", "POST /api/auth/token")
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case tokens := <-tokensCh:
			client.RestoreTokens(tokens)
			babies, err := client.GetBabies(ctx)
			if err != nil {
				log.Error("token validation failed", "error", err)
				continue
			}
			return babies, nil
		}
	}
}

// pickBaby selects the first baby profile that has a paired camera.
func pickBaby(babies []state.Baby) (state.Baby, error) {
	for _, b := range babies {
		if b.CameraUID != "" {
			return b, nil
		}
	}
	return state.Baby{}, fmt.Errorf("no baby profile with a paired camera found")
}

func loadSession(path string) (rest.TokenPair, error) {
	var tokens rest.TokenPair
	data, err := os.ReadFile(path)
	if err != nil {
		return tokens, err
	}
	if err := json.Unmarshal(data, &tokens); err != nil {
		return tokens, fmt.Errorf("parse session file %s: %w", path, err)
	}
	if tokens.AccessToken == "" || tokens.RefreshToken == "" {
		return tokens, fmt.Errorf("session file %s is missing tokens", path)
	}
	return tokens, nil
}

func saveSession(path string, tokens rest.TokenPair) error {
	data, err := json.MarshalIndent(tokens, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}
