package main

import (
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
)

func newDepsCmd(a *app) *cobra.Command {
	var reverse bool

	cmd := &cobra.Command{
		Use:   "deps <file>",
		Short: "List the files a file depends on",
		Long: `List the files whose definitions <file> references. With --reverse,
list the files that reference definitions in <file>.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := a.openEngine(cmd.Context(), nil)
			if err != nil {
				return err
			}
			defer eng.Close()
			if err := a.ensureBuilt(cmd.Context(), eng); err != nil {
				return err
			}

			path := args[0]
			if filepath.IsAbs(path) {
				if rel, err := filepath.Rel(a.root, path); err == nil && !strings.HasPrefix(rel, "..") {
					path = rel
				}
			}
			path = filepath.ToSlash(filepath.Clean(path))

			list := eng.Dependencies(path)
			if reverse {
				list = eng.Dependents(path)
			}
			for _, p := range list {
				a.printf("%s\n", p)
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&reverse, "reverse", "r", false, "list dependents instead")
	return cmd
}
