package logger_test

import (
	"fmt"
	"os"

	"github.com/ethan/nanit-relay/pkg/logger"
)

// Example showing basic logger usage
func ExampleLogger_basic() {
	// Create logger with default config
	cfg := logger.NewConfig()
	cfg.Level = logger.LevelInfo
	cfg.Format = logger.FormatText

	log, err := logger.New(cfg)
	if err != nil {
		panic(err)
	}
	defer log.Close()

	// Basic logging
	log.Info("daemon started", "version", "1.0.0")
	log.Warn("falling back to cloud transport", "camera_uid", "cam1")
	log.Error("login failed", "error", "invalid credentials")
}

// Example showing debug category usage
func ExampleLogger_categories() {
	cfg := logger.NewConfig()
	cfg.Level = logger.LevelDebug
	cfg.EnableCategory(logger.DebugWS)
	cfg.EnableCategory(logger.DebugProto)

	log, err := logger.New(cfg)
	if err != nil {
		panic(err)
	}
	defer log.Close()

	// Transport debugging (only logged if DebugWS enabled)
	log.DebugWS("reconnecting", "attempt", 2, "delay", "3s")

	// Protocol debugging (only logged if DebugProto enabled)
	log.DebugProto("request sent", "id", 7, "type", "GET_SENSOR_DATA")
	log.DebugFrame("in", []byte{0x08, 0x02, 0x1a, 0x04})
}

// Example showing command-line flags integration
func ExampleFlags() {
	// In main.go:
	// import (
	//     "flag"
	//     "github.com/ethan/nanit-relay/pkg/logger"
	// )
	//
	// fs := flag.NewFlagSet("nanitd", flag.ExitOnError)
	// logFlags := logger.RegisterFlags(fs)
	// fs.Parse(os.Args[1:])
	//
	// logConfig, _ := logFlags.ToConfig()
	// log, _ := logger.New(logConfig)
	// defer log.Close()

	fmt.Println("See cmd/nanitd/main.go for complete example")
}

// Example showing JSON format output
func ExampleLogger_json() {
	cfg := logger.NewConfig()
	cfg.Level = logger.LevelInfo
	cfg.Format = logger.FormatJSON
	cfg.OutputFile = "app.json"

	log, err := logger.New(cfg)
	if err != nil {
		panic(err)
	}
	defer log.Close()
	defer os.Remove("app.json") // Cleanup

	log.Info("camera connected",
		"camera_uid", "cam1",
		"transport", "local",
		"duration_ms", 250)

	// Output will be in JSON format:
	// {"time":"...","level":"INFO","msg":"camera connected","camera_uid":"cam1","transport":"local","duration_ms":250}
}

// Example showing conditional debug logging
func ExampleLogger_conditional() {
	cfg := logger.NewConfig()
	cfg.EnableCategory(logger.DebugProto)

	log, err := logger.New(cfg)
	if err != nil {
		panic(err)
	}
	defer log.Close()

	// This will only execute if DebugProto is enabled
	// No performance overhead if disabled
	frame := make([]byte, 1024)
	log.DebugFrame("out", frame) // Only logs first 64 bytes

	// Category methods automatically check if enabled
	// No manual check needed - zero cost if disabled
	log.DebugWS("keepalive sent", "transport", "cloud")
}
