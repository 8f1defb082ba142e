// Package cmd provides the hiraku CLI commands.
//
// Commands:
//   - serve:HTTP API server with SSE streaming
//   - migrate: apply pending database migrations and exit
//   - version: show version information
//
// All commands handle SIGINT/SIGTERM via context cancellation.
package cmd

import (
	"fmt"
	"os"
)

// Execute is the main entry point for the hiraku CLI.
func Execute() error {
	if len(os.Args) < 2 {
		runHelp()
		return nil
	}

	switch os.Args[1] {
	case "serve":
		return runServe()
	case "migrate":
		return runMigrate()
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
	fmt.Println("Hiraku - Retrieval-augmented chat over your documents")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  hiraku serve [addr]   Start HTTP API server (default: 127.0.0.1:8080)")
	fmt.Println("  hiraku migrate        Apply database migrations and exit")
	fmt.Println("  hiraku --version      Show version information")
	fmt.Println("  hiraku --help         Show this help")
	fmt.Println()
	fmt.Println("Environment Variables:")
	fmt.Println("  DATABASE_URL          Optional: PostgreSQL connection URL")
	fmt.Println("  HIRAKU_OLLAMA_HOST    Optional: Ollama base URL (default: http://localhost:11434)")
	fmt.Println("  HIRAKU_MODEL_NAME     Optional: chat model (default: phi3)")
	fmt.Println("  HIRAKU_JWT_SECRET     Optional: token signing secret (generated if unset)")
	fmt.Println("  DEBUG                 Optional: enable debug logging")
}
