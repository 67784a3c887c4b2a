package main

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/phobologic/codeindex/internal/store"
)

func newLookupCmd(a *app) *cobra.Command {
	var exact bool

	cmd := &cobra.Command{
		Use:   "lookup <name>",
		Short: "Find where a symbol is defined",
		Long: `Search the persisted symbol table for definitions. Matching is a
case-insensitive substring unless --exact is given. Reads the index
database directly; run build first.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.load(); err != nil {
				return err
			}
			db, err := store.Open(filepath.Join(a.cfg.DataPath(a.root), "index.db"), a.log)
			if err != nil {
				return err
			}
			defer db.Close()

			if _, err := db.IndexedAt(cmd.Context()); errors.Is(err, store.ErrNoState) {
				return errors.New("no index found; run codeindex build first")
			} else if err != nil {
				return err
			}
			tags, err := db.LookupSymbol(cmd.Context(), args[0], exact)
			if err != nil {
				return err
			}
			if len(tags) == 0 {
				return fmt.Errorf("no definitions match %q", args[0])
			}
			for _, t := range tags {
				sig := t.Signature
				if sig == "" {
					sig = string(t.NodeType) + " " + t.QualifiedName()
				}
				a.printf("%s:%d\t%s\t%s\n", t.File, t.Line, t.QualifiedName(), sig)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&exact, "exact", false, "match the name exactly")
	return cmd
}
