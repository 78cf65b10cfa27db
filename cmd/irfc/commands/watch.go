package commands

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/civa-shell/irfc/pkg/watch"
)

func newWatchCommand(settingsFile *string, version string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch <config_dir> <out>",
		Short: "Recompile whenever a configuration source changes",
		Long: `Compiles once, then watches the configuration directory and recompiles
after every change. A failed build leaves the previous IRF in place and
watching continues. Stop with Ctrl+C.`,
		Example: `  # Recompile on every save
  irfc watch ~/.config/civa ~/.cache/civa/civa.irf

  # Serve Prometheus metrics while watching
  irfc watch ~/.config/civa ~/.cache/civa/civa.irf --metrics-listen 127.0.0.1:9464`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd, *settingsFile, version)
			if err != nil {
				return err
			}
			defer a.close()

			ctx := cmd.Context()
			dir, out := args[0], args[1]
			logger := a.tel.Logger.NewComponentLogger("watch")

			if addr := a.settings.Metrics.Listen; addr != "" {
				stop := serveMetrics(addr, a.tel.Metrics.Handler(), func(err error) {
					logger.WithError(err).Error("Metrics server failed")
				})
				defer stop()
				logger.WithField("addr", addr).Info("Serving metrics")
			}

			if err := a.compile(ctx, dir, out); err != nil && !errors.Is(err, ErrFailed) {
				return err
			}

			w, err := watch.New(watch.Config{
				Dir:        dir,
				Extensions: a.compiler.Extensions(),
				Debounce:   a.settings.Watch.Debounce,
				Logger:     logger.Zerolog(),
				OnChange: func(ctx context.Context, changed []string) error {
					logger.WithField("changed", strings.Join(changed, ",")).Info("Recompiling")
					err := a.compile(ctx, dir, out)
					if errors.Is(err, ErrFailed) {
						// Diagnostics were printed; keep watching.
						return nil
					}
					return err
				},
			})
			if err != nil {
				return err
			}
			return w.Run(ctx)
		},
	}

	cmd.Flags().Duration("debounce", watch.DefaultDebounce, "quiet period before a rebuild")
	cmd.Flags().String("metrics-listen", "", "serve Prometheus metrics on this address")

	return cmd
}

// serveMetrics serves h on addr until the returned stop function is called.
func serveMetrics(addr string, h http.Handler, onError func(error)) (stop func()) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", h)
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			onError(err)
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}
