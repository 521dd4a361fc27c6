package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/poirot-research/poirot/internal/buildinfo"
	"github.com/poirot-research/poirot/internal/config"
	"github.com/poirot-research/poirot/internal/logging"
	"github.com/poirot-research/poirot/pkg/poirot"
)

var (
	cfgFile  string
	engine   string
	dbPath   string
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:           "poirot",
	Short:         "Knowledge store for academic resources",
	Long:          `A typed property graph of papers, authors, institutions and topics with a 768-dimensional L2 vector index.`,
	Version:       buildinfo.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create or verify a store and print its description",
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

		fmt.Fprintln(cmd.OutOrStdout(), svc.String())
		return nil
	},
}

// loadConfig reads the config file and environment, then applies the
// persistent flags the user set explicitly.
func loadConfig(cmd *cobra.Command) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, err
	}
	flags := cmd.Flags()
	if flags.Changed("engine") {
		cfg.Engine = engine
	}
	if flags.Changed("path") {
		cfg.Path = dbPath
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}
	log, err := logging.FromStrings(cmd.ErrOrStderr(), cfg.Log.Format, cfg.Log.Level)
	if err != nil {
		return nil, nil, err
	}
	return cfg, log, nil
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "YAML config file")
	rootCmd.PersistentFlags().StringVarP(&engine, "engine", "e", "mem", "Storage engine: mem, sqlite or rocksdb")
	rootCmd.PersistentFlags().StringVarP(&dbPath, "path", "p", "", "Database file (sqlite) or directory (rocksdb)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level: debug, info, warn or error")

	rootCmd.AddCommand(initCmd, queryCmd, serveCmd, exportCmd, importCmd)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "poirot:", err)
		os.Exit(1)
	}
}
