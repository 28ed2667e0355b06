// Command orchestratord runs the orchestration core: the durable Job/Step
// state machine, the crash-safe step scheduler, the CodeAct agent loop,
// and the job-control HTTP ingress.
//
// Configuration is loaded from a YAML file (optional) with environment
// variable overrides. See internal/config for details.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath string
	version    = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "orchestratord",
	Short:   "Multi-agent code-repair orchestration core",
	Version: version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config.yaml (defaults to ~/.config/orchestrator/config.yaml)")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
}
