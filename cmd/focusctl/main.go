// Package main implements focusctl, the operator CLI for a focusd server.
package main

import (
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	// serverURL is the base URL of the focusd HTTP server
	serverURL string
	// apiToken is sent as a bearer token on every request
	apiToken  string
	// timeout bounds each request
	timeout   time.Duration
	// version information
	version = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "focusctl",
	Short: "CLI for focusd server operations",
	Long: `focusctl is a command-line interface for a focusd server.
It lists templates, manages sessions and shows a live view of a session clock.`,
	Version:      version,
	SilenceUsage:  true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", envOr("FOCUSD_URL", "http://localhost:9090"), "focusd server URL")
	rootCmd.PersistentFlags().StringVar(&apiToken, "token", os.Getenv("FOCUSD_API_TOKEN"), "API token (env FOCUSD_API_TOKEN)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Second, "request timeout")
	rootCmd.AddCommand(healthCmd, templatesCmd, sessionsCmd, watchCmd)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func apiClient() *client {
	return newClient(serverURL, apiToken, timeout)
}
