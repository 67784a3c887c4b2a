package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/phobologic/codeindex/internal/index"
)

func newBuildCmd(a *app) *cobra.Command {
	var ignore []string

	cmd := &cobra.Command{
		Use:   "build [root]",
		Short: "Index the whole project",
		Long: `Discover, parse and rank every source file under the root. Unchanged
files are served from the fingerprint cache. Per-file failures are
reported but never stop the build.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				a.root = args[0]
			}
			eng, err := a.openEngine(cmd.Context(), nil)
			if err != nil {
				return err
			}
			defer eng.Close()

			res, err := eng.Build(cmd.Context(), index.BuildOptions{Root: a.root, Ignore: ignore})
			if err != nil {
				return err
			}
			st := res.State
			a.printf("indexed %d files, %d symbols, %d edges in %s\n",
				st.TotalFiles, st.TotalSymbols, len(st.Edges), res.Duration.Round(time.Millisecond))
			a.printf("parsed %d, cached %d, parse errors %d, failed %d, unsupported %d\n",
				res.Parsed, res.CacheHits, res.ParseErrors, len(res.Failures), st.Unsupported)
			for _, f := range res.Failures {
				a.printf("  %s: %v\n", f.Path, f.Err)
			}
			if res.Partial {
				a.printf("partial: %d files not processed before the deadline\n", res.Pending)
			}
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&ignore, "ignore", nil, "extra ignore patterns (doublestar)")
	return cmd
}
