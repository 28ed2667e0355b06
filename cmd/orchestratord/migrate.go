package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/orchestrator/internal/config"
	"github.com/fyrsmithlabs/orchestrator/internal/store"
)

// migrateCmd applies the durable store's schema. Migration tooling proper
// is out of scope per spec.md's Non-goals — this runs the store's own
// idempotent CREATE TABLE IF NOT EXISTS bootstrap, safe to run repeatedly
// against an already-current database.
var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the durable store's schema if it does not already exist",
	RunE:  runMigrate,
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("opening store at %s: %w", cfg.Store.Path, err)
	}
	defer st.Close()

	fmt.Fprintf(cmd.OutOrStdout(), "schema up to date at %s\n", cfg.Store.Path)
	return nil
}
