package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/ethan/nanit-relay/pkg/config"
	"github.com/ethan/nanit-relay/pkg/protocol"
	"github.com/ethan/nanit-relay/pkg/rest"
	"github.com/ethan/nanit-relay/pkg/state"
	"github.com/ethan/nanit-relay/pkg/transport"
)

// Diagnostic tool to analyze the camera WebSocket frame flow. It connects one
// transport, sends a sensor snapshot request, and counts what comes back, to
// identify where a silent connection breaks: the dial, the handshake, the
// protobuf framing, or the camera's push stream.

type diagnostics struct {
	framesIn   atomic.Uint64
	keepalives atomic.Uint64
	responses  atomic.Uint64
	pushes     atomic.Uint64
	decodeErrs atomic.Uint64

	reconnects  atomic.Uint64
	lastFrameAt atomic.Value // time.Time
}

func main() {
	fs := flag.NewFlagSet("nanit-diagnose", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to YAML config file")
	cameraUID := fs.String("camera", "", "Camera UID (required for the cloud path)")
	useLocal := fs.Bool("local", false, "Dial the camera's LAN endpoint instead of the cloud relay")
	duration := fs.Duration("duration", 60*time.Second, "How long to observe the connection")
	fs.Parse(os.Args[1:])

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))

	logger.Info("=== Nanit WebSocket Frame Flow Diagnostic ===")

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *duration)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		cancel()
	}()

	target, kind, err := buildTarget(cfg, *cameraUID, *useLocal)
	if err != nil {
		logger.Error("failed to build target", "error", err)
		os.Exit(1)
	}
	logger.Info("dialing", "transport", kind)

	diag := &diagnostics{}
	diag.lastFrameAt.Store(time.Time{})

	conn := transport.New(kind, target, logger)
	conn.OnMessage(func(data []byte) {
		diag.framesIn.Add(1)
		diag.lastFrameAt.Store(time.Now())

		msg, err := protocol.DecodeMessage(data)
		if err != nil {
			diag.decodeErrs.Add(1)
			logger.Warn("undecodable frame", "size", len(data), "error", err)
			return
		}
		switch msg.Type {
		case protocol.MessageKeepalive:
			diag.keepalives.Add(1)
		case protocol.MessageResponse:
			diag.responses.Add(1)
			if resp := protocol.ExtractResponse(msg); resp != nil {
				logger.Info("response frame",
					"request_id", resp.RequestID,
					"request_type", resp.RequestType.String(),
					"status_code", resp.StatusCode)
			}
		case protocol.MessageRequest:
			diag.pushes.Add(1)
			if req := protocol.ExtractRequest(msg); req != nil {
				logger.Info("push frame", "request_type", req.Type.String(), "request_id", req.ID)
			}
		}
	})
	conn.OnConnectionChange(func(change transport.ConnectionChange) {
		if change.State == state.StateReconnecting {
			diag.reconnects.Add(1)
		}
		logger.Info("connection change",
			"state", change.State,
			"transport", change.Transport,
			"attempts", change.Attempts,
			"error", change.Err)
	})

	start := time.Now()
	if err := conn.Connect(ctx); err != nil {
		logger.Error("dial failed", "error", err)
		os.Exit(1)
	}
	defer conn.Close()

	// One explicit request so response routing shows up even on a quiet
	// camera.
	frame := protocol.BuildRequest(&protocol.Request{
		ID:            1,
		Type:          protocol.RequestGetSensorData,
		GetSensorData: &protocol.GetSensorData{All: true},
	})
	if err := conn.Send(frame); err != nil {
		logger.Warn("failed to send sensor request", "error", err)
	}

	statsTicker := time.NewTicker(10 * time.Second)
	defer statsTicker.Stop()
	for {
		select {
		case <-ctx.Done():
			report(diag, time.Since(start))
			return
		case <-statsTicker.C:
			logger.Info("frame statistics",
				"frames_in", diag.framesIn.Load(),
				"keepalives", diag.keepalives.Load(),
				"responses", diag.responses.Load(),
				"pushes", diag.pushes.Load(),
				"decode_errors", diag.decodeErrs.Load(),
				"reconnects", diag.reconnects.Load(),
				"connected", conn.Connected())
		}
	}
}

func buildTarget(cfg *config.Config, cameraUID string, useLocal bool) (transport.TargetFunc, state.TransportKind, error) {
	if useLocal {
		if cfg.Camera.LocalIP == "" {
			return nil, state.TransportNone, fmt.Errorf("-local requires camera.local_ip in the config")
		}
		return transport.LocalTargetFunc(cfg.Camera.LocalIP, cfg.Camera.UCToken), state.TransportLocal, nil
	}

	if cameraUID == "" {
		return nil, state.TransportNone, fmt.Errorf("-camera is required for the cloud path")
	}
	data, err := os.ReadFile(cfg.SessionFile)
	if err != nil {
		return nil, state.TransportNone, fmt.Errorf("read session file: %w", err)
	}
	var tokens rest.TokenPair
	if err := json.Unmarshal(data, &tokens); err != nil {
		return nil, state.TransportNone, fmt.Errorf("parse session file: %w", err)
	}
	target := transport.CloudTargetFunc(cfg.Cloud.Host, cameraUID,
		func(ctx context.Context) (string, error) { return tokens.AccessToken, nil })
	return target, state.TransportCloud, nil
}

func report(diag *diagnostics, elapsed time.Duration) {
	fmt.Println("\n=== Diagnostic Summary ===")
	fmt.Printf("Observed for:   %s\n", elapsed.Round(time.Second))
	fmt.Printf("Frames in:      %d\n", diag.framesIn.Load())
	fmt.Printf("  keepalives:   %d\n", diag.keepalives.Load())
	fmt.Printf("  responses:    %d\n", diag.responses.Load())
	fmt.Printf("  pushes:       %d\n", diag.pushes.Load())
	fmt.Printf("  undecodable:  %d\n", diag.decodeErrs.Load())
	fmt.Printf("Reconnects:     %d\n", diag.reconnects.Load())

	last := diag.lastFrameAt.Load().(time.Time)
	switch {
	case diag.framesIn.Load() == 0:
		fmt.Println("\nNo frames received: the handshake succeeded but the camera is silent.")
		fmt.Println("Check the access token (cloud) or uc_token (local).")
	case diag.responses.Load() == 0:
		fmt.Println("\nFrames flow but no responses: requests are not being answered.")
	default:
		fmt.Printf("\nLast frame at %s. Frame flow looks healthy.\n", last.Format(time.RFC3339))
	}
}
