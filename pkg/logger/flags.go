package logger

import (
	"flag"
	"fmt"
	"strings"
)

// Flags holds all logging-related command-line flags
type Flags struct {
	LogLevel    string
	LogFormat   string
	LogFile     string
	DebugWS     bool
	DebugProto  bool
	DebugCamera bool
	DebugREST   bool
	DebugAll    bool
}

// RegisterFlags registers logging flags with the given FlagSet
func RegisterFlags(fs *flag.FlagSet) *Flags {
	f := &Flags{}

	fs.StringVar(&f.LogLevel, "log-level", "info",
		"Log level: debug, info, warn, error")
	fs.StringVar(&f.LogLevel, "l", "info",
		"Log level (shorthand)")

	fs.StringVar(&f.LogFormat, "log-format", "text",
		"Log output format: text, json")

	fs.StringVar(&f.LogFile, "log-file", "",
		"Log output file path (default: stdout)")
	fs.StringVar(&f.LogFile, "o", "",
		"Log output file path (shorthand)")

	// Debug category flags
	fs.BoolVar(&f.DebugWS, "debug-ws", false,
		"Enable WebSocket transport debugging (dials, reconnects, heartbeats)")
	fs.BoolVar(&f.DebugProto, "debug-proto", false,
		"Enable protocol envelope debugging (frames, request ids, raw bytes)")
	fs.BoolVar(&f.DebugCamera, "debug-camera", false,
		"Enable camera controller debugging (priming, pushes, promotion)")
	fs.BoolVar(&f.DebugREST, "debug-rest", false,
		"Enable cloud REST API debugging")
	fs.BoolVar(&f.DebugAll, "debug-all", false,
		"Enable all debug categories")

	return f
}

// ToConfig converts Flags to a logger Config
func (f *Flags) ToConfig() (*Config, error) {
	cfg := NewConfig()

	// Parse log level
	level, err := ParseLevel(f.LogLevel)
	if err != nil {
		return nil, err
	}
	cfg.Level = level

	// Parse format
	format, err := ParseFormat(f.LogFormat)
	if err != nil {
		return nil, err
	}
	cfg.Format = format

	// Set output file
	cfg.OutputFile = f.LogFile

	// Enable debug categories
	if f.DebugAll {
		cfg.EnableCategory(DebugAll)
		// Force debug level when any debug category is enabled
		cfg.Level = LevelDebug
	} else {
		if f.DebugWS {
			cfg.EnableCategory(DebugWS)
			cfg.Level = LevelDebug
		}
		if f.DebugProto {
			cfg.EnableCategory(DebugProto)
			cfg.Level = LevelDebug
		}
		if f.DebugCamera {
			cfg.EnableCategory(DebugCamera)
			cfg.Level = LevelDebug
		}
		if f.DebugREST {
			cfg.EnableCategory(DebugREST)
			cfg.Level = LevelDebug
		}
	}

	return cfg, nil
}

// String returns a string representation of enabled flags
func (f *Flags) String() string {
	var parts []string

	parts = append(parts, fmt.Sprintf("level=%s", f.LogLevel))
	parts = append(parts, fmt.Sprintf("format=%s", f.LogFormat))

	if f.LogFile != "" {
		parts = append(parts, fmt.Sprintf("output=%s", f.LogFile))
	} else {
		parts = append(parts, "output=stdout")
	}

	var debugCategories []string
	if f.DebugAll {
		debugCategories = append(debugCategories, "all")
	} else {
		if f.DebugWS {
			debugCategories = append(debugCategories, "ws")
		}
		if f.DebugProto {
			debugCategories = append(debugCategories, "proto")
		}
		if f.DebugCamera {
			debugCategories = append(debugCategories, "camera")
		}
		if f.DebugREST {
			debugCategories = append(debugCategories, "rest")
		}
	}

	if len(debugCategories) > 0 {
		parts = append(parts, fmt.Sprintf("debug=[%s]", strings.Join(debugCategories, ",")))
	}

	return strings.Join(parts, " ")
}
