package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"statfiler/internal/logging"
	"statfiler/internal/selectors"
	"statfiler/internal/store"
)

// selectorsCmd groups selector map commands
var selectorsCmd = &cobra.Command{
	Use:   "selectors",
	Short: "Selector map commands",
}

var selectorsValidateCmd = &cobra.Command{
	Use:   "validate [path]",
	Short: "Validate a selector map before deploying it",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runSelectorsValidate,
}

// migrateCmd creates the store schema
var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the store schema",
	RunE:  runMigrate,
}

func runSelectorsValidate(cmd *cobra.Command, args []string) error {
	path := cfg.Selectors.Path
	if len(args) == 1 {
		path = args[0]
	}
	m, err := selectors.Load(path)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: version %s, %d fields OK\n", path, m.Version, len(m.Fields))
	if !m.Has(selectors.FieldProfessionalFlag) {
		fmt.Fprintf(cmd.OutOrStdout(), "warning: no %s locator; professional entities cannot be filed\n", selectors.FieldProfessionalFlag)
	}
	return nil
}

func runMigrate(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	st, err := store.Open(ctx, cfg.Store, logs.For(logging.CategoryStore))
	if err != nil {
		return fmt.Errorf("migrate %s: %w", cfg.Store.Driver, err)
	}
	if err := st.Close(); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Schema ready (%s)\n", cfg.Store.Driver)
	return nil
}
