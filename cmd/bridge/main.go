package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "bridge",
	Short: "QHP bridge - bidirectional protocol bridge between MCP endpoints",
	Long: `The QHP bridge terminates two model-context-protocol endpoints: an
external tool-style endpoint and an internal seven-dimensional contextual
endpoint. It negotiates protocol versions, translates every message in both
directions, preserves delivery across transient disconnects via durable
per-peer queues, and enforces authentication, rate limiting, and admission
control at the boundary.`,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	// Disable default completion command
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	// Note: Commands are registered in their respective files
	// - run.go: runCmd
	// - version.go: versionCmd
}
