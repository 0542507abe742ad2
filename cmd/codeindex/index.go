package main

import (
	"fmt"
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/dshills/codeindex/pkg/types"
)

func newIndexCmd(flags *globalFlags) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "index [path]",
		Short: "Index a workspace for semantic search",
		Long: `Index the files of a workspace. Unchanged files are skipped using the
hash cache; --force deletes the index and cache first.

Examples:
  codeindex index .                 # Index current directory
  codeindex index --force ~/src/app # Full rebuild`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace, err := flags.resolveWorkspace(args)
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
			if !m.Config().IsFeatureEnabled() || !m.Config().IsConfigured() {
				return fmt.Errorf("code indexing is disabled or not configured: %s", m.Status().Message)
			}
			if force {
				if err := m.ClearIndexData(ctx); err != nil {
					return fmt.Errorf("clear index: %w", err)
				}
			}

			var (
				barMu sync.Mutex
				bar   *progressbar.ProgressBar
			)
			unsubscribe := m.State().Subscribe(func(st types.IndexStatus) {
				if st.State != types.StateIndexing || st.TotalItems == 0 {
					return
				}
				barMu.Lock()
				defer barMu.Unlock()
				if bar == nil {
					bar = progressbar.NewOptions(st.TotalItems,
						progressbar.OptionSetWriter(cmd.ErrOrStderr()),
						progressbar.OptionSetWidth(40),
						progressbar.OptionShowCount(),
						progressbar.OptionSetDescription("Indexing"),
						progressbar.OptionOnCompletion(func() {
							fmt.Fprintln(cmd.ErrOrStderr())
						}),
					)
				}
				_ = bar.Set(st.ProcessedItems)
			})
			defer unsubscribe()

			fmt.Fprintf(cmd.OutOrStdout(), "Scanning %s...\n", workspace)
			start := time.Now()
			stats, err := m.StartIndexing(ctx)
			if err != nil {
				return fmt.Errorf("indexing failed: %w", err)
			}
			m.StopWatcher()

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "\nIndexing complete in %s:\n", time.Since(start).Round(time.Millisecond))
			fmt.Fprintf(out, "  Files scanned:  %d\n", stats.Files)
			fmt.Fprintf(out, "  Files indexed:  %d\n", stats.Indexed)
			fmt.Fprintf(out, "  Files skipped:  %d (unchanged)\n", stats.Skipped)
			fmt.Fprintf(out, "  Files removed:  %d\n", stats.Removed)
			fmt.Fprintf(out, "  Blocks written: %d\n", stats.Blocks)
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "delete the existing index and cache first")
	return cmd
}
