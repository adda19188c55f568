// Package cmd provides the assistant's CLI commands.
//
// Commands:
//   - serve: HTTP server streaming chat turns over SSE
//   - version: build information
//
// Signal handling and graceful shutdown are implemented via context
// cancellation.
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"

	"github.com/vadf/assistant/internal/log"
)

// Version information (injected at build time via ldflags).
var (
	AppVersion = "development"
	BuildTime  = "unknown"
	GitCommit  = "unknown"
)

// Execute is the main entry point for the assistant CLI.
func Execute() error {
	// A local .env is a development convenience; absence is fine.
	_ = godotenv.Load()

	level := slog.LevelInfo
	if os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	logger := log.New(log.Config{Level: level, JSON: os.Getenv("LOG_FORMAT") == "json"})
	slog.SetDefault(logger)

	if len(os.Args) < 2 {
		runHelp()
		return nil
	}

	switch os.Args[1] {
	case "serve":
		return runServe(logger)
	case "version", "--version", "-v":
		runVersion()
		return nil
	case "help", "--help", "-h":
		runHelp()
		return nil
	default:
		return fmt.Errorf("unknown command: %s", os.Args[1])
	}
}

// runHelp displays the help message.
func runHelp() {
	fmt.Println("vadf-assistant - conversational shop assistant")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  vadf-assistant serve [addr]   Start the HTTP server (default: 127.0.0.1:3400)")
	fmt.Println("  vadf-assistant version        Show version information")
	fmt.Println("  vadf-assistant help           Show this help")
	fmt.Println()
	fmt.Println("Environment Variables:")
	fmt.Println("  GEMINI_API_KEY     Required: Gemini API key")
	fmt.Println("  SHOP_URL           Required: merchant public URL")
	fmt.Println("  OAUTH_CLIENT_ID    Required: customer-account OAuth client")
	fmt.Println("  OAUTH_REDIRECT_URI Required: OAuth callback URL")
	fmt.Println("  DEBUG              Optional: enable debug logging")
	fmt.Println("  LOG_FORMAT         Optional: set to json for JSON logs")
}
