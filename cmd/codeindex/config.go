package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/dshills/codeindex/internal/config"
)

func newConfigCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage codeindex settings",
	}

	var overwrite bool
	initCmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write default settings to codeindex.yaml",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target := flags.configFile
			if target == "" {
				workspace, err := flags.resolveWorkspace(args)
				if err != nil {
					return err
				}
				target = filepath.Join(workspace, config.DefaultConfigName+".yaml")
			}
			if err := config.WriteDefaults(target, overwrite); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", target)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&overwrite, "force", false, "overwrite an existing settings file")

	cmd.AddCommand(initCmd)
	return cmd
}
