package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/phobologic/codeindex/internal/index"
	"github.com/phobologic/codeindex/internal/render"
)

func newMapCmd(a *app) *cobra.Command {
	var (
		tokens   int
		seeds    []string
		format   string
		symbol   string
		file     string
		maxFiles int
	)

	cmd := &cobra.Command{
		Use:   "map",
		Short: "Render the repository map within a token budget",
		Long: `Render the highest ranked definitions that fit in --tokens. Builds the
index first if there is none.

Examples:
  codeindex map --tokens 2048
  codeindex map --seed internal/api/server.go=2 --format toon
  codeindex map --symbol Handler`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			seedWeights, err := parseSeeds(seeds)
			if err != nil {
				return err
			}
			f, err := render.ParseFormat(format)
			if err != nil {
				return err
			}

			eng, err := a.openEngine(cmd.Context(), nil)
			if err != nil {
				return err
			}
			defer eng.Close()
			if err := a.ensureBuilt(cmd.Context(), eng); err != nil {
				return err
			}

			if !cmd.Flags().Changed("tokens") {
				tokens = a.cfg.Render.TokenBudget
			}
			res, err := eng.RenderMap(cmd.Context(), index.MapRequest{
				Budget:   tokens,
				Seeds:    seedWeights,
				Format:   f,
				Symbol:   symbol,
				File:     file,
				MaxFiles: maxFiles,
			})
			if err != nil {
				return err
			}
			switch res.Status {
			case render.StatusBudgetTooSmall:
				return res.Err()
			case render.StatusEmpty:
				return errors.New("no symbols to render")
			}
			_, err = fmt.Fprint(a.stdout, res.Text)
			return err
		},
	}
	fl := cmd.Flags()
	fl.IntVarP(&tokens, "tokens", "t", 0, "token budget (default from config)")
	fl.StringArrayVar(&seeds, "seed", nil, "bias ranking toward a file: path[=weight], repeatable")
	fl.StringVar(&format, "format", "", "output format: tree or toon (default from config)")
	fl.StringVar(&symbol, "symbol", "", "focus on definitions whose name contains this")
	fl.StringVar(&file, "file", "", "focus on files whose path contains this")
	fl.IntVar(&maxFiles, "max-files", 0, "render at most this many of the highest ranked files (0 = no limit)")
	return cmd
}

// parseSeeds reads path[=weight] pairs. A missing weight means 1.
func parseSeeds(raw []string) (map[string]float64, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	seeds := make(map[string]float64, len(raw))
	for _, s := range raw {
		path, weight, found := strings.Cut(s, "=")
		w := 1.0
		if found {
			v, err := strconv.ParseFloat(weight, 64)
			if err != nil || v <= 0 {
				return nil, fmt.Errorf("invalid seed %q: weight must be a positive number", s)
			}
			w = v
		}
		if path == "" {
			return nil, fmt.Errorf("invalid seed %q: empty path", s)
		}
		seeds[path] += w
	}
	return seeds, nil
}
