package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/jkaninda/warden/internal/catalog"
	"github.com/jkaninda/warden/internal/config"
)

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Manage the tool catalog",
}

var catalogImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import tools from a YAML or JSON seed file",
	Long: `Validate a seed file against the catalog seed schema and upsert every tool
it declares. Tools are matched by ID; a seed without IDs creates new tools.`,
	Args: cobra.ExactArgs(1),
	RunE: runCatalogImport,
}

func init() {
	catalogCmd.AddCommand(catalogImportCmd)
}

func runCatalogImport(_ *cobra.Command, args []string) error {
	logger := newLogger()

	seed, err := catalog.LoadSeed(args[0])
	if err != nil {
		return err
	}

	cfg, err := config.Load(resolvedConfigPath())
	if err != nil {
		return err
	}
	store, err := initStore(cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing storage: %w", err)
	}
	defer func() { _ = store.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if err := store.Migrate(ctx); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	n, err := catalog.Import(ctx, store.Tools(), seed)
	if err != nil {
		return err
	}
	logger.Info("catalog imported", slog.String("file", args[0]), slog.Int("tools", n))

	for _, t := range seed {
		state := color.GreenString("active")
		if !t.IsActive {
			state = color.YellowString("inactive")
		}
		fmt.Printf("%s  %-24s %-40s %s\n", t.ID, t.Name, t.ClassPath, state)
	}
	return nil
}
