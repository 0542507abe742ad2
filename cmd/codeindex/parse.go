package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/dshills/codeindex/internal/parser"
	"github.com/dshills/codeindex/pkg/types"
)

func newParseCmd(_ *globalFlags) *cobra.Command {
	var entriesOnly bool

	cmd := &cobra.Command{
		Use:   "parse [file]",
		Short: "Parse a multi-file diff payload",
		Long: `Parse a tool payload of <file> blocks and print the result as JSON.
Reads standard input when no file is given.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				data []byte
				err  error
			)
			if len(args) > 0 {
				data, err = os.ReadFile(args[0])
			} else {
				data, err = io.ReadAll(cmd.InOrStdin())
			}
			if err != nil {
				return fmt.Errorf("read payload: %w", err)
			}

			p := parser.New(parser.WithLogger(slog.Default()))
			tree, err := p.Parse(string(data), "file.diff.content")
			if err != nil {
				return err
			}

			var out any = tree
			if entriesOnly {
				entries, err := types.FileEntries(tree)
				if err != nil {
					return err
				}
				out = entries
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}

	cmd.Flags().BoolVar(&entriesOnly, "entries", false, "print typed file entries instead of the raw tree")
	return cmd
}
