package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/ethan/nanit-relay/pkg/config"
	"github.com/ethan/nanit-relay/pkg/nanit"
	"github.com/ethan/nanit-relay/pkg/rest"
	"github.com/ethan/nanit-relay/pkg/transport"
)

// Verification tool for a nanitd deployment: checks the session file, the
// cloud REST API, the cloud WebSocket endpoint, and the LAN path to the
// camera before the daemon is started.

func main() {
	fs := flag.NewFlagSet("nanit-verify", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to YAML config file")
	fs.Parse(os.Args[1:])

	fmt.Println("nanitd - Connection Verification")
	fmt.Println(strings.Repeat("=", 51))

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Printf("✗ Failed to load config: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("\nLoaded configuration:")
	fmt.Printf("  Cloud host: %s\n", cfg.Cloud.Host)
	fmt.Printf("  Session file: %s\n", cfg.SessionFile)
	if cfg.Camera.LocalIP != "" {
		fmt.Printf("  Camera LAN address: %s (prefer_local=%v)\n", cfg.Camera.LocalIP, cfg.Camera.PreferLocal)
	} else {
		fmt.Println("  Camera LAN address: not configured (cloud only)")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	tokens, err := loadTokens(cfg.SessionFile)
	if err != nil {
		fmt.Printf("\n✗ Session file check failed: %v\n", err)
		fmt.Println("  Run nanit-login to obtain a token pair first")
		os.Exit(1)
	}
	fmt.Println("\n✓ Session file loaded")

	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	client := nanit.NewClient(&http.Client{Timeout: 15 * time.Second}, log)
	if cfg.Cloud.Host != transport.DefaultCloudHost {
		client.REST().SetBaseURL("https://" + cfg.Cloud.Host)
	}
	client.RestoreTokens(tokens)

	baby, err := verifyCloud(ctx, cfg, client)
	if err != nil {
		fmt.Printf("\n✗ Cloud verification failed: %v\n", err)
		os.Exit(1)
	}

	if err := verifyCameraPaths(ctx, cfg, client, baby.cameraUID); err != nil {
		fmt.Printf("\n✗ Camera verification failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("\n" + strings.Repeat("=", 51))
	fmt.Println("✓ All connections verified successfully!")
	fmt.Println("  Ready to start nanitd")
}

type babyResult struct {
	uid       string
	cameraUID string
}

func verifyCloud(ctx context.Context, cfg *config.Config, client *nanit.Client) (babyResult, error) {
	fmt.Println("\n=== Verifying Cloud REST API ===")

	babies, err := client.GetBabies(ctx)
	if err != nil {
		return babyResult{}, fmt.Errorf("list babies: %w", err)
	}
	fmt.Printf("✓ Found %d baby profile(s)\n", len(babies))

	var picked babyResult
	for i, b := range babies {
		fmt.Printf("  [%d] %s\n", i+1, b.Name)
		fmt.Printf("      Baby UID: %s\n", b.UID)
		if b.CameraUID != "" {
			fmt.Printf("      Camera UID: %s\n", b.CameraUID)
			if picked.cameraUID == "" {
				picked = babyResult{uid: b.UID, cameraUID: b.CameraUID}
			}
		} else {
			fmt.Println("      Camera UID: none paired")
		}
	}
	if picked.cameraUID == "" {
		return babyResult{}, fmt.Errorf("no baby profile with a paired camera")
	}

	events, err := client.GetEvents(ctx, picked.uid, 1)
	if err != nil {
		return babyResult{}, fmt.Errorf("list events: %w", err)
	}
	if len(events) > 0 {
		fmt.Printf("✓ Latest cloud event: %s\n", events[0].EventType)
	} else {
		fmt.Println("✓ Event feed reachable (no events yet)")
	}
	return picked, nil
}

func verifyCameraPaths(ctx context.Context, cfg *config.Config, client *nanit.Client, cameraUID string) error {
	fmt.Println("\n=== Verifying Camera WebSocket Paths ===")

	token := client.Tokens().AccessToken
	cloudTarget := transport.CloudTargetFunc(cfg.Cloud.Host, cameraUID,
		func(ctx context.Context) (string, error) { return token, nil })
	if err := probe(ctx, cloudTarget); err != nil {
		return fmt.Errorf("cloud websocket: %w", err)
	}
	fmt.Printf("✓ Cloud WebSocket reachable (wss://%s)\n", cfg.Cloud.Host)

	if cfg.Camera.LocalIP == "" {
		fmt.Println("  LAN path skipped: camera.local_ip not configured")
		return nil
	}
	localTarget := transport.LocalTargetFunc(cfg.Camera.LocalIP, cfg.Camera.UCToken)
	if err := probe(ctx, localTarget); err != nil {
		if cfg.Camera.PreferLocal {
			return fmt.Errorf("local websocket %s: %w", cfg.Camera.LocalIP, err)
		}
		fmt.Printf("  LAN path unreachable (%v), daemon will use cloud\n", err)
		return nil
	}
	fmt.Printf("✓ Local WebSocket reachable (wss://%s:442)\n", cfg.Camera.LocalIP)
	return nil
}

func probe(ctx context.Context, target transport.TargetFunc) error {
	probeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return transport.Probe(probeCtx, target)
}

func loadTokens(path string) (rest.TokenPair, error) {
	var tokens rest.TokenPair
	data, err := os.ReadFile(path)
	if err != nil {
		return tokens, err
	}
	if err := json.Unmarshal(data, &tokens); err != nil {
		return tokens, fmt.Errorf("parse %s: %w", path, err)
	}
	if tokens.AccessToken == "" || tokens.RefreshToken == "" {
		return tokens, fmt.Errorf("%s is missing tokens", path)
	}
	return tokens, nil
}
