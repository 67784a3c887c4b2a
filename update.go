package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/phobologic/codeindex/internal/index"
)

func newUpdateCmd(a *app) *cobra.Command {
	var opts index.UpdateOptions

	cmd := &cobra.Command{
		Use:   "update <path>...",
		Short: "Re-index changed, added or removed files",
		Long: `Apply file changes to an existing index, e.g. from a post-commit hook:

  git diff --name-only HEAD~1 | xargs codeindex update`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := a.openEngine(cmd.Context(), nil)
			if err != nil {
				return err
			}
			defer eng.Close()
			if err := a.ensureBuilt(cmd.Context(), eng); err != nil {
				return err
			}

			res, err := eng.Update(cmd.Context(), args, opts)
			if err != nil {
				return err
			}
			a.printf("updated %d, deleted %d, ignored %d in %s\n",
				len(res.Changed), len(res.Deleted), len(res.Ignored), res.Duration.Round(time.Millisecond))
			for _, f := range res.Failures {
				a.printf("  %s: %v\n", f.Path, f.Err)
			}
			if res.Stale {
				a.printf("scores are stale; run build or update --rescore\n")
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&opts.RescoreBudget, "rescore-budget", 0, "skip rescoring when the last scoring run took longer")
	cmd.Flags().BoolVar(&opts.Rescore, "rescore", false, "always rescore")
	return cmd
}
