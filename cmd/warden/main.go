// Command warden runs the tool execution sandbox and dispatch engine.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "warden",
	Short: "Warden: policy-gated tool execution for AI agents.",
	Long: `Warden resolves tools from a catalog, binds and validates their arguments,
and runs them in-process, in an isolated worker, or not at all, depending on
the active sandbox policy. Denied invocations can be queued for approval.`,
	RunE:          runServe, // Default to serve mode.
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	_ = godotenv.Load()

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config file (YAML or JSON, or WARDEN_CONFIG env)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error (or WARDEN_LOG_LEVEL env)")
	rootCmd.AddCommand(serveCmd, invokeCmd, sandboxExecCmd, catalogCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}
