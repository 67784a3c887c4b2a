package main

import (
	"context"
	"errors"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/phobologic/codeindex/internal/index"
	"github.com/phobologic/codeindex/internal/watch"
)

func newWatchCmd(a *app) *cobra.Command {
	var metricsAddr string

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Keep the index current as files change",
		Long: `Watch the project tree and apply batched incremental updates after
each quiet period (watch.debounce) or immediately after a git commit or
checkout. Runs until interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			reg := prometheus.NewRegistry()
			eng, err := a.openEngine(ctx, reg)
			if err != nil {
				return err
			}
			defer eng.Close()
			if err := a.ensureBuilt(ctx, eng); err != nil {
				return err
			}

			if metricsAddr != "" {
				srv := &http.Server{
					Addr:              metricsAddr,
					Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
					ReadHeaderTimeout: 5 * time.Second,
				}
				go func() {
					if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						a.log.Error().Err(err).Str("addr", metricsAddr).Msg("metrics server")
					}
				}()
				defer func() {
					shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
					defer cancel()
					_ = srv.Shutdown(shutdownCtx)
				}()
			}

			patterns := append([]string(nil), a.cfg.Ignore...)
			if rel, err := filepath.Rel(a.root, a.cfg.DataPath(a.root)); err == nil && !strings.HasPrefix(rel, "..") {
				patterns = append(patterns, filepath.ToSlash(rel)+"/**")
			}
			w, err := watch.New(watch.Options{
				Root:     a.root,
				Patterns: patterns,
				Debounce: a.cfg.Watch.Debounce,
				Logger:   a.log,
				Update: func(ctx context.Context, paths []string) error {
					_, err := eng.Update(ctx, paths, index.UpdateOptions{})
					return err
				},
			})
			if err != nil {
				return err
			}
			a.log.Info().Str("root", a.root).Dur("debounce", a.cfg.Watch.Debounce).Msg("watching")
			return w.Run(ctx)
		},
	}
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve prometheus metrics on this address, e.g. :9464")
	return cmd
}
