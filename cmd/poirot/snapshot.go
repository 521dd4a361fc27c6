package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/poirot-research/poirot/pkg/poirot"
)

var exportCmd = &cobra.Command{
	Use:   "export <file>",
	Short: "Write a compressed snapshot of every relation to a file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		svc, err := poirot.OpenConfig(cmd.Context(), cfg, log)
		if err != nil {
			return err
		}
		defer svc.Close()

		f, err := os.Create(args[0])
		if err != nil {
			return err
		}
		stats, err := svc.Export(cmd.Context(), f)
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			_ = os.Remove(args[0])
			return fmt.Errorf("export failed: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Exported %d rows from %s to %s\n", stats.Total(), svc, args[0])
		return nil
	},
}

var importCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Load a snapshot into the store, replacing rows with the same key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()

		svc, err := poirot.OpenConfig(cmd.Context(), cfg, log)
		if err != nil {
			return err
		}
		defer svc.Close()

		stats, err := svc.Import(cmd.Context(), f)
		if err != nil {
			return fmt.Errorf("import failed after %d rows: %w", stats.Total(), err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Imported %d rows from %s into %s\n", stats.Total(), args[0], svc)
		return nil
	},
}
