package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/dshills/codeindex/internal/config"
	"github.com/dshills/codeindex/internal/manager"
	"github.com/dshills/codeindex/internal/telemetry"
)

// globalFlags are shared by every subcommand
type globalFlags struct {
	configFile string
	workspace  string
	storageDir string
	verbose    bool
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}

	root := &cobra.Command{
		Use:   "codeindex",
		Short: "Semantic code search over a local workspace",
		Long: `codeindex splits source files into blocks, embeds them and stores the
vectors so a workspace can be searched with natural language.

Example usage:
  codeindex index .                          # Index the current directory
  codeindex search "where are tokens issued" # Query the index
  codeindex serve                            # Serve MCP tools on stdio`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// stdout is reserved for the MCP protocol
			level := slog.LevelInfo
			if flags.verbose {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
			return nil
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&flags.configFile, "config", "", "settings file (default is codeindex.yaml in the workspace)")
	pf.StringVarP(&flags.workspace, "dir", "d", "", "workspace root (default is the current directory)")
	pf.StringVar(&flags.storageDir, "storage-dir", "", "directory for cache files and local vector stores")
	pf.BoolVarP(&flags.verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(
		newServeCmd(flags),
		newIndexCmd(flags),
		newSearchCmd(flags),
		newParseCmd(flags),
		newConfigCmd(flags),
		newVersionCmd(),
	)
	return root
}

// resolveWorkspace returns the absolute workspace root. An explicit
// argument wins over --dir.
func (f *globalFlags) resolveWorkspace(args []string) (string, error) {
	path := f.workspace
	if len(args) > 0 {
		path = args[0]
	}
	if path == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("failed to get working directory: %w", err)
		}
		path = wd
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("invalid path: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("path does not exist: %w", err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("path is not a directory: %s", abs)
	}
	return abs, nil
}

// resolveStorageDir returns the storage directory, defaulting to the user
// cache dir so local stores never land inside the indexed tree
func (f *globalFlags) resolveStorageDir() (string, error) {
	dir := f.storageDir
	if dir == "" {
		if env := os.Getenv(config.EnvPrefix + "_STORAGE_DIR"); env != "" {
			dir = env
		} else {
			base, err := os.UserCacheDir()
			if err != nil {
				return "", fmt.Errorf("resolve cache dir: %w", err)
			}
			dir = filepath.Join(base, "codeindex")
		}
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create storage dir: %w", err)
	}
	return dir, nil
}

// newManager builds the index manager of a workspace from the settings
// file, CODEINDEX_* variables and defaults
func (f *globalFlags) newManager(workspace string) (*manager.Manager, error) {
	storageDir, err := f.resolveStorageDir()
	if err != nil {
		return nil, err
	}

	logger := slog.Default()
	store := config.NewViperStore(f.configFile, workspace)
	cfg := config.NewManager(store, config.EnvSecrets{}, logger)
	sink := telemetry.NewLogSink(logger)

	factory := &manager.DefaultFactory{
		WorkspacePath: workspace,
		StorageDir:    storageDir,
		HTTPClient:    &http.Client{Timeout: 2 * time.Minute},
		Sink:          sink,
		Logger:        logger,
	}
	return manager.New(workspace, storageDir, cfg,
		manager.WithFactory(factory),
		manager.WithTelemetry(sink),
		manager.WithLogger(logger),
	), nil
}
