package commands

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/civa-shell/irfc/pkg/compiler"
	"github.com/civa-shell/irfc/pkg/diag"
	"github.com/civa-shell/irfc/pkg/policy"
	"github.com/civa-shell/irfc/pkg/schema"
	"github.com/civa-shell/irfc/pkg/settings"
	"github.com/civa-shell/irfc/pkg/stores"
	"github.com/civa-shell/irfc/pkg/telemetry"
)

// app holds everything a command needs to run the compiler.
type app struct {
	settings *settings.Settings
	tel      *telemetry.Telemetry
	schema   *schema.Schema
	history  *stores.SQLiteStore
	compiler *compiler.Compiler
	printer  *diag.Printer
}

// loadSettings resolves the settings of cmd.
func loadSettings(cmd *cobra.Command, settingsFile string) (*settings.Settings, string, error) {
	return settings.Load(settings.LoadOptions{
		File:  settingsFile,
		Flags: cmd.Flags(),
	})
}

// loadSchema returns the configured schema, printing load diagnostics.
func loadSchema(s *settings.Settings, printer *diag.Printer) (*schema.Schema, error) {
	if s.Schema == "" {
		return schema.Default(), nil
	}
	sch, err := schema.Load(s.Schema)
	if err != nil {
		printer.Print(diag.FromError(diag.StageSchema, err))
		return nil, ErrFailed
	}
	return sch, nil
}

// newApp resolves settings and builds the compiler for cmd.
func newApp(cmd *cobra.Command, settingsFile, version string) (*app, error) {
	s, resolved, err := loadSettings(cmd, settingsFile)
	if err != nil {
		return nil, err
	}

	tcfg := s.Telemetry(version)
	tcfg.Logging.Writer = cmd.ErrOrStderr()
	tel, err := telemetry.NewTelemetry(tcfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	if resolved != "" {
		tel.Logger.WithField("file", resolved).Debug("Loaded settings")
	}

	a := &app{
		settings: s,
		tel:      tel,
		printer:  diag.NewPrinter(cmd.ErrOrStderr()),
	}
	ctx := cmd.Context()

	if a.schema, err = loadSchema(s, a.printer); err != nil {
		a.close()
		return nil, err
	}

	opts := []compiler.Option{
		compiler.WithWorkers(s.Workers),
		compiler.WithEvalTimeout(s.EvalTimeout),
		compiler.WithSchema(a.schema),
		compiler.WithTelemetry(tel),
		compiler.WithWriteRetries(s.WriteRetries, 100*time.Millisecond),
	}
	if len(s.Extensions) > 0 {
		opts = append(opts, compiler.WithExtensions(s.Extensions...))
	}

	if s.Policies {
		engine, err := policy.NewEngine(tel.Logger.NewComponentLogger("policy").Zerolog())
		if err != nil {
			a.close()
			return nil, fmt.Errorf("failed to create policy engine: %w", err)
		}
		if s.PolicyDir != "" {
			if err := engine.LoadPolicies(ctx, []string{s.PolicyDir}); err != nil {
				a.close()
				return nil, err
			}
		}
		for _, name := range s.DisabledPolicies {
			if err := engine.DisablePolicy(name); err != nil {
				a.close()
				return nil, fmt.Errorf("failed to disable policy: %w", err)
			}
		}
		opts = append(opts, compiler.WithPolicies(engine))
	}

	if s.History != "" {
		if err := a.openHistory(ctx); err != nil {
			a.close()
			return nil, err
		}
		opts = append(opts, compiler.WithHistory(a.history))
	}

	a.compiler = compiler.New(opts...)
	return a, nil
}

// openHistory opens and migrates the build history database.
func (a *app) openHistory(ctx context.Context) error {
	store, err := stores.NewSQLiteStore(stores.Config{Path: a.settings.History})
	if err != nil {
		return err
	}
	if err := store.Init(ctx); err != nil {
		return fmt.Errorf("failed to open build history: %w", err)
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return fmt.Errorf("failed to migrate build history: %w", err)
	}
	a.history = store
	return nil
}

// close flushes telemetry and closes the history database.
func (a *app) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := a.tel.Shutdown(ctx); err != nil {
		a.tel.Logger.WithError(err).Warn("Telemetry shutdown failed")
	}
	if a.history != nil {
		if err := a.history.Close(); err != nil {
			a.tel.Logger.WithError(err).Warn("Closing build history failed")
		}
	}
}

// compile runs the full pipeline and prints its diagnostics.
func (a *app) compile(ctx context.Context, dir, out string) error {
	res, err := a.compiler.Compile(ctx, dir, out)
	return a.finish(res, err, func() {
		a.printer.Success("wrote %s (%d sources, %d bytes, fingerprint %s)", out, len(res.Sources), res.Size, res.Fingerprint)
	})
}

// finish prints the diagnostics of res and maps a failed run to ErrFailed.
func (a *app) finish(res *compiler.Result, err error, onSuccess func()) error {
	if res != nil {
		a.printer.Print(res.Diagnostics)
		a.printer.Summary(res.Diagnostics)
	}
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return ErrFailed
	}
	if onSuccess != nil {
		onSuccess()
	}
	return nil
}
