package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newSearchCmd(flags *globalFlags) *cobra.Command {
	var (
		scope   string
		asJSON  bool
		preview int
	)

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search an indexed workspace",
		Long: `Run a semantic search against the workspace index. The workspace must
have been indexed with "codeindex index" first.

Examples:
  codeindex search "parse the config file"
  codeindex search --path internal/auth "token refresh"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.TrimSpace(strings.Join(args, " "))
			if query == "" {
				return errors.New("query cannot be empty")
			}
			workspace, err := flags.resolveWorkspace(nil)
			if err != nil {
				return err
			}
			m, err := flags.newManager(workspace)
			if err != nil {
				return err
			}
			defer func() { _ = m.Close() }()

			ctx := cmd.Context()
			if _, err := m.Initialize(ctx); err != nil {
				return fmt.Errorf("initialize: %w", err)
			}
			// A fresh process starts in Standby; an incremental run brings
			// the index up to date and enables queries.
			if _, err := m.StartIndexing(ctx); err != nil {
				return fmt.Errorf("refresh index: %w", err)
			}
			m.StopWatcher()

			results, err := m.SearchIndex(ctx, query, strings.Trim(scope, "/"))
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(results)
			}
			if len(results) == 0 {
				fmt.Fprintln(out, "No results")
				return nil
			}
			for i, r := range results {
				if r.Payload == nil {
					continue
				}
				fmt.Fprintf(out, "%2d. %s:%d-%d  (score %.3f)\n", i+1,
					r.Payload.FilePath, r.Payload.StartLine, r.Payload.EndLine, r.Score)
				if preview > 0 {
					fmt.Fprintln(out, indent(firstLines(r.Payload.CodeChunk, preview), "      "))
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&scope, "path", "p", "", "limit results to a directory of the workspace")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print results as JSON")
	cmd.Flags().IntVar(&preview, "preview", 3, "lines of code to show per result")
	return cmd
}

func firstLines(s string, n int) string {
	lines := strings.SplitN(s, "\n", n+1)
	if len(lines) > n {
		lines = lines[:n]
	}
	return strings.Join(lines, "\n")
}

func indent(s, prefix string) string {
	return prefix + strings.ReplaceAll(s, "\n", "\n"+prefix)
}
