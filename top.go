package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newTopCmd(a *app) *cobra.Command {
	var (
		fraction     float64
		excludeTests bool
	)

	cmd := &cobra.Command{
		Use:   "top",
		Short: "List the most important files",
		Long: `Print files by descending importance, limited to the top --fraction of
the project. This is the list an embedding layer would index first.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := a.openEngine(cmd.Context(), nil)
			if err != nil {
				return err
			}
			defer eng.Close()
			if err := a.ensureBuilt(cmd.Context(), eng); err != nil {
				return err
			}

			tw := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
			for _, f := range eng.RankedFiles(fraction, excludeTests) {
				_, _ = fmt.Fprintf(tw, "%.4f\t%s\t%s\t%d symbols\n", f.Score, f.Path, f.Language, f.Symbols)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().Float64Var(&fraction, "fraction", 0.2, "fraction of files to list, in (0, 1]")
	cmd.Flags().BoolVar(&excludeTests, "exclude-tests", false, "leave out test files")
	return cmd
}
