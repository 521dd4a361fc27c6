package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/poirot-research/poirot/internal/store"
	"github.com/poirot-research/poirot/pkg/poirot"
)

var (
	mutable     bool
	queryParams []string
)

var queryCmd = &cobra.Command{
	Use:   "query <script>",
	Short: "Run a script and print the rows of its last result set as JSON",
	Long: `Run one or more semicolon-separated statements in a single transaction.
The script is read-only unless --mutable is given. Pass "-" to read the
script from standard input.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		script := args[0]
		if script == "-" {
			b, err := io.ReadAll(cmd.InOrStdin())
			if err != nil {
				return fmt.Errorf("failed to read script: %w", err)
			}
			script = string(b)
		}
		params := make(store.Params, 0, len(queryParams))
		for _, p := range queryParams {
			params = append(params, parseParam(p))
		}
		mode := store.Immutable
		if mutable {
			mode = store.Mutable
		}

		cfg, log, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		svc, err := poirot.OpenConfig(cmd.Context(), cfg, log)
		if err != nil {
			return err
		}
		defer svc.Close()

		rs, err := svc.Execute(cmd.Context(), script, params, mode)
		if err != nil {
			return err
		}
		rs.ReadableBlobs()
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(rs)
	},
}

// parseParam binds integers and floats as numbers, null as NULL and
// anything else as text. Quote a value ('42') to force text.
func parseParam(s string) any {
	if len(s) >= 2 && s[0] == '\'' && s[len(s)-1] == '\'' {
		return s[1 : len(s)-1]
	}
	if strings.EqualFold(s, "null") {
		return nil
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}

func init() {
	queryCmd.Flags().BoolVarP(&mutable, "mutable", "m", false, "Allow the script to write")
	queryCmd.Flags().StringArrayVar(&queryParams, "param", nil, "Positional parameter, repeatable")
}
