// Package config loads the daemon configuration from an optional YAML file
// with NANIT_* environment overrides on top.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds all daemon configuration.
type Config struct {
	API         APIConfig    `yaml:"api"`
	Cloud       CloudConfig  `yaml:"cloud"`
	Camera      CameraConfig `yaml:"camera"`
	HLS         HLSConfig    `yaml:"hls"`
	Log         LogConfig    `yaml:"log"`
	SessionFile string       `yaml:"session_file"`
}

// APIConfig configures the daemon HTTP API.
type APIConfig struct {
	Listen    string  `yaml:"listen"`
	RateLimit float64 `yaml:"rate_limit"` // requests per second per server
	Burst     int     `yaml:"burst"`
}

// CloudConfig configures the Nanit cloud endpoints.
type CloudConfig struct {
	Host        string `yaml:"host"`
	EventsLimit int    `yaml:"events_limit"`
}

// CameraConfig configures the LAN path to the camera. UCToken authenticates
// the direct WebSocket on port 442.
type CameraConfig struct {
	LocalIP     string `yaml:"local_ip"`
	UCToken     string `yaml:"uc_token"`
	PreferLocal bool   `yaml:"prefer_local"`
}

// HLSConfig configures the ffmpeg RTMPS-to-HLS proxy.
type HLSConfig struct {
	Enabled        bool   `yaml:"enabled"`
	Dir            string `yaml:"dir"`
	FFmpegPath     string `yaml:"ffmpeg_path"`
	SegmentSeconds int    `yaml:"segment_seconds"`
	PlaylistLength int    `yaml:"playlist_length"`
}

// LogConfig mirrors the logger flags for file-based setups.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		API: APIConfig{
			Listen:    ":8787",
			RateLimit: 20,
			Burst:     40,
		},
		Cloud: CloudConfig{
			Host:        "api.nanit.com",
			EventsLimit: 20,
		},
		HLS: HLSConfig{
			Dir:            "/tmp/nanit-hls",
			FFmpegPath:     "ffmpeg",
			SegmentSeconds: 2,
			PlaylistLength: 6,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		SessionFile: "session.json",
	}
}

// Load builds the configuration: defaults, then the YAML file if given, then
// environment overrides, then validation.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	setString(&c.API.Listen, "NANIT_API_LISTEN")
	setFloat(&c.API.RateLimit, "NANIT_API_RATE_LIMIT")
	setInt(&c.API.Burst, "NANIT_API_BURST")
	setString(&c.Cloud.Host, "NANIT_CLOUD_HOST")
	setInt(&c.Cloud.EventsLimit, "NANIT_EVENTS_LIMIT")
	setString(&c.Camera.LocalIP, "NANIT_LOCAL_IP")
	setString(&c.Camera.UCToken, "NANIT_UC_TOKEN")
	setBool(&c.Camera.PreferLocal, "NANIT_PREFER_LOCAL")
	setBool(&c.HLS.Enabled, "NANIT_HLS_ENABLED")
	setString(&c.HLS.Dir, "NANIT_HLS_DIR")
	setString(&c.HLS.FFmpegPath, "NANIT_FFMPEG")
	setString(&c.Log.Level, "NANIT_LOG_LEVEL")
	setString(&c.Log.Format, "NANIT_LOG_FORMAT")
	setString(&c.Log.File, "NANIT_LOG_FILE")
	setString(&c.SessionFile, "NANIT_SESSION_FILE")
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.API.Listen == "" {
		return fmt.Errorf("missing api.listen")
	}
	if c.API.RateLimit <= 0 {
		return fmt.Errorf("api.rate_limit must be positive")
	}
	if c.API.Burst <= 0 {
		return fmt.Errorf("api.burst must be positive")
	}
	if c.Cloud.Host == "" {
		return fmt.Errorf("missing cloud.host")
	}
	if c.Cloud.EventsLimit <= 0 {
		return fmt.Errorf("cloud.events_limit must be positive")
	}
	if c.Camera.PreferLocal && c.Camera.LocalIP == "" {
		return fmt.Errorf("camera.prefer_local requires camera.local_ip")
	}
	if c.HLS.Enabled {
		if c.HLS.Dir == "" {
			return fmt.Errorf("hls.enabled requires hls.dir")
		}
		if c.HLS.FFmpegPath == "" {
			return fmt.Errorf("hls.enabled requires hls.ffmpeg_path")
		}
	}
	return nil
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			*dst = n
		}
	}
}

func setFloat(dst *float64, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			*dst = b
		}
	}
}
