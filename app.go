package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/phobologic/codeindex/internal/config"
	"github.com/phobologic/codeindex/internal/index"
	"github.com/phobologic/codeindex/internal/logging"
)

// app carries the global flags and the resources commands share.
type app struct {
	stdout, stderr io.Writer

	root       string
	configPath string
	logLevel   string

	cfg *config.Config
	log zerolog.Logger
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	a := &app{stdout: stdout, stderr: stderr}

	cmd := &cobra.Command{
		Use:   "codeindex",
		Short: "Structural code index and repository maps",
		Long: `codeindex parses a source tree with tree-sitter, builds a weighted
file dependency graph, ranks files and symbols by PageRank and renders
a compact repository map that fits a token budget.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.SetVersionTemplate("codeindex {{.Version}}\n")

	pf := cmd.PersistentFlags()
	pf.StringVar(&a.root, "root", ".", "project root")
	pf.StringVar(&a.configPath, "config", "", "config file (default <root>/.codeindex.yaml)")
	pf.StringVar(&a.logLevel, "log-level", "", "log level: debug, info, warn, error (overrides config)")

	cmd.AddCommand(
		newBuildCmd(a),
		newUpdateCmd(a),
		newMapCmd(a),
		newLookupCmd(a),
		newDepsCmd(a),
		newTopCmd(a),
		newWatchCmd(a),
		newInitCmd(a),
		newVersionCmd(a),
	)
	return cmd
}

// load resolves the root and reads configuration. It is idempotent.
func (a *app) load() error {
	if a.cfg != nil {
		return nil
	}
	root, err := filepath.Abs(a.root)
	if err != nil {
		return fmt.Errorf("resolving root: %w", err)
	}
	info, err := os.Stat(root)
	if err != nil {
		return fmt.Errorf("root path: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s: not a directory", root)
	}
	a.root = root

	cfg, err := config.Load(root, a.configPath)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format, a.stderr)
	if err != nil {
		return err
	}
	a.cfg, a.log = cfg, logger
	return nil
}

func (a *app) openEngine(ctx context.Context, reg prometheus.Registerer) (*index.Engine, error) {
	if err := a.load(); err != nil {
		return nil, err
	}
	return index.Open(ctx, a.root, a.cfg, a.log, reg)
}

// ensureBuilt runs a full build when nothing has been indexed yet.
func (a *app) ensureBuilt(ctx context.Context, eng *index.Engine) error {
	if eng.State() != index.StateEmpty {
		return nil
	}
	a.log.Info().Str("root", a.root).Msg("no index yet, building")
	_, err := eng.Build(ctx, index.BuildOptions{Root: a.root})
	return err
}

func (a *app) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(a.stdout, format, args...)
}
