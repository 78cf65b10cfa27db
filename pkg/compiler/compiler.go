// Package compiler runs the irfc pipeline: locate, evaluate, merge, validate
// and serialize. No stage runs past a failing predecessor and the IRF is
// only written when every stage succeeded.
package compiler

import (
	"context"
	"errors"
	"math"
	"os"
	"runtime"
	"time"

	"github.com/google/uuid"

	"github.com/civa-shell/irfc/pkg/diag"
	"github.com/civa-shell/irfc/pkg/evaluator"
	"github.com/civa-shell/irfc/pkg/graph"
	"github.com/civa-shell/irfc/pkg/irf"
	"github.com/civa-shell/irfc/pkg/locator"
	"github.com/civa-shell/irfc/pkg/merger"
	"github.com/civa-shell/irfc/pkg/policy"
	"github.com/civa-shell/irfc/pkg/schema"
	"github.com/civa-shell/irfc/pkg/stores"
	"github.com/civa-shell/irfc/pkg/telemetry"
	"github.com/civa-shell/irfc/pkg/validator"
	"github.com/civa-shell/irfc/pkg/value"
)

// History records finished builds.
type History interface {
	RecordBuild(ctx context.Context, b *stores.Build) error
}

// Result describes one compiler run. It is returned even when the run
// failed, so callers can print the diagnostics gathered so far.
type Result struct {
	BuildID   string
	ConfigDir string
	OutPath   string

	// Sources lists the located sources in precedence order.
	Sources []locator.Source

	// Root is the canonical tree; nil when a stage before validation failed.
	Root *value.Table

	// Provenance attributes Root paths to sources.
	Provenance *merger.Provenance

	// Refs is the reference dependency graph of the merged tree.
	Refs *graph.Graph

	// Diagnostics holds every warning and error of the run, in stage order.
	Diagnostics []diag.Diagnostic

	// Fingerprint is the hex fingerprint of the written IRF.
	Fingerprint string

	// Size is the size of the written IRF in bytes.
	Size int64

	StartedAt time.Time
	Duration  time.Duration
}

// Errors returns the error diagnostics of the run.
func (r *Result) Errors() int { return diag.Count(r.Diagnostics, diag.SeverityError) }

// Warnings returns the warning diagnostics of the run.
func (r *Result) Warnings() int { return diag.Count(r.Diagnostics, diag.SeverityWarning) }

// Compiler turns a configuration directory into an IRF.
type Compiler struct {
	workers    int
	extensions []string
	registry   *evaluator.Registry
	timeout    time.Duration
	schema     *schema.Schema
	policies   *policy.Engine
	history    History
	tel        *telemetry.Telemetry

	writeRetries int
	retryBase    time.Duration

	evaluator *evaluator.Evaluator
}

// Option configures a Compiler.
type Option func(*Compiler)

// WithWorkers bounds the number of sources evaluated concurrently.
func WithWorkers(n int) Option {
	return func(c *Compiler) {
		if n > 0 {
			c.workers = n
		}
	}
}

// WithRegistry sets the evaluator frontends. The recognized extensions
// default to the registry's.
func WithRegistry(r *evaluator.Registry) Option {
	return func(c *Compiler) {
		c.registry = r
	}
}

// WithExtensions restricts the recognized extensions.
func WithExtensions(exts ...string) Option {
	return func(c *Compiler) {
		c.extensions = exts
	}
}

// WithEvalTimeout bounds the evaluation of a single source.
func WithEvalTimeout(d time.Duration) Option {
	return func(c *Compiler) {
		c.timeout = d
	}
}

// WithSchema sets the schema to validate against.
func WithSchema(s *schema.Schema) Option {
	return func(c *Compiler) {
		c.schema = s
	}
}

// WithPolicies enables policy checks during validation.
func WithPolicies(e *policy.Engine) Option {
	return func(c *Compiler) {
		c.policies = e
	}
}

// WithHistory records every run.
func WithHistory(h History) Option {
	return func(c *Compiler) {
		c.history = h
	}
}

// WithTelemetry sets the logger, tracer and metrics.
func WithTelemetry(t *telemetry.Telemetry) Option {
	return func(c *Compiler) {
		c.tel = t
	}
}

// WithWriteRetries sets how often a transient output failure is retried and
// the base delay of the exponential backoff.
func WithWriteRetries(n int, base time.Duration) Option {
	return func(c *Compiler) {
		c.writeRetries = n
		c.retryBase = base
	}
}

// New creates a compiler.
func New(opts ...Option) *Compiler {
	c := &Compiler{
		workers:      runtime.NumCPU(),
		timeout:      30 * time.Second,
		writeRetries: 3,
		retryBase:    100 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.tel == nil {
		c.tel = telemetry.Nop()
	}
	if c.registry == nil {
		c.registry = evaluator.DefaultRegistry()
	}
	if len(c.extensions) == 0 {
		c.extensions = c.registry.Extensions()
	}
	if c.schema == nil {
		c.schema = schema.Default()
	}
	c.evaluator = evaluator.New(
		evaluator.WithRegistry(c.registry),
		evaluator.WithTimeout(c.timeout),
		evaluator.WithLogger(c.tel.Logger.NewComponentLogger("evaluator").Zerolog()),
	)
	return c
}

// Schema returns the schema the compiler validates against.
func (c *Compiler) Schema() *schema.Schema {
	return c.schema
}

// Extensions returns the recognized source extensions.
func (c *Compiler) Extensions() []string {
	return c.extensions
}

// Build runs every stage except serialization.
func (c *Compiler) Build(ctx context.Context, dir string) (*Result, error) {
	return c.run(ctx, dir, "")
}

// Compile runs the full pipeline and atomically writes the IRF to out.
func (c *Compiler) Compile(ctx context.Context, dir, out string) (*Result, error) {
	return c.run(ctx, dir, out)
}

func (c *Compiler) run(ctx context.Context, dir, out string) (*Result, error) {
	res := &Result{
		BuildID:   uuid.New().String(),
		ConfigDir: dir,
		OutPath:   out,
		StartedAt: time.Now(),
	}

	logger := c.tel.Logger.NewComponentLogger("compiler").WithBuildID(res.BuildID)
	ctx = logger.WithContext(c.tel.WithContext(ctx))
	ctx, span := c.tel.Tracer.StartBuild(ctx, res.BuildID, dir)

	logger.WithField("config_dir", dir).Debug("Build started")

	err := c.pipeline(ctx, res)
	res.Duration = time.Since(res.StartedAt)

	span.SetAttributes(
		telemetry.AttrSources.Int(len(res.Sources)),
		telemetry.AttrErrors.Int(res.Errors()),
		telemetry.AttrWarnings.Int(res.Warnings()),
	)
	if res.Fingerprint != "" {
		span.SetAttributes(telemetry.AttrFingerprint.String(res.Fingerprint))
	}
	if err != nil {
		telemetry.RecordError(span, err)
	} else {
		telemetry.RecordSuccess(span)
	}
	span.End()

	status := buildStatus(err)
	c.tel.Metrics.RecordBuild(string(status), res.Duration)
	c.record(ctx, res, status, err)

	if err != nil {
		logger.WithError(err).Debug("Build failed")
	} else {
		logger.WithField("fingerprint", res.Fingerprint).
			WithField("duration", res.Duration.String()).
			Info("Build succeeded")
	}
	return res, err
}

func (c *Compiler) pipeline(ctx context.Context, res *Result) error {
	// Locate
	st := c.tel.StartStage(ctx, diag.StageLocate)
	located, err := locator.Locate(res.ConfigDir, locator.WithExtensions(c.extensions...))
	if err != nil {
		return c.fail(st, res, diag.StageLocate, err, nil)
	}
	res.Sources = located.Sources
	c.report(res, diag.StageLocate, diag.FromWarnings(diag.StageLocate, located.Warnings))
	st.Logger.WithField("sources", len(located.Sources)).Debug("Located sources")
	st.End(nil)

	// Evaluate
	st = c.tel.StartStage(ctx, diag.StageEvaluate)
	trees, ds, err := c.evaluateAll(st.Ctx, located.Sources)
	if err != nil {
		return c.fail(st, res, diag.StageEvaluate, err, ds)
	}
	st.End(nil)

	// Merge
	st = c.tel.StartStage(ctx, diag.StageMerge)
	merged, err := merger.Merge(st.Ctx, trees)
	if err != nil {
		return c.fail(st, res, diag.StageMerge, err, nil)
	}
	res.Root = merged.Root
	res.Provenance = merged.Provenance
	res.Refs = merged.Refs
	st.End(nil)

	// Validate
	st = c.tel.StartStage(ctx, diag.StageValidate)
	opts := []validator.Option{
		validator.WithProvenance(merged.Provenance),
		validator.WithLogger(st.Logger.Zerolog()),
	}
	if c.policies != nil {
		opts = append(opts, validator.WithPolicies(c.policies))
	}
	report, err := validator.Validate(st.Ctx, merged.Root, c.schema, opts...)
	if err != nil {
		return c.fail(st, res, diag.StageValidate, err, nil)
	}
	c.report(res, diag.StageValidate, diag.FromFindings(diag.StageValidate, diag.SeverityWarning, report.Warnings))
	if !report.OK() {
		return c.fail(st, res, diag.StageValidate, report.Err(), nil)
	}
	st.End(nil)

	if res.OutPath == "" {
		return nil
	}

	// Write
	st = c.tel.StartStage(ctx, diag.StageWrite)
	fingerprint, err := c.write(st.Ctx, st.Logger, res.OutPath, merged.Root)
	if err != nil {
		return c.fail(st, res, diag.StageWrite, err, nil)
	}
	res.Fingerprint = fingerprint
	if info, statErr := os.Stat(res.OutPath); statErr == nil {
		res.Size = info.Size()
		c.tel.Metrics.SetIRFSize(int(res.Size))
	}
	st.End(nil)

	return nil
}

// write writes the IRF, retrying transient failures with exponential
// backoff.
func (c *Compiler) write(ctx context.Context, logger *telemetry.Logger, out string, root *value.Table) (string, error) {
	for attempt := 0; ; attempt++ {
		fingerprint, err := irf.WriteFile(out, root)
		if err == nil {
			return fingerprint, nil
		}
		if classify(err) != ErrorClassTransient || attempt >= c.writeRetries {
			return "", err
		}

		delay := c.calculateBackoff(attempt)
		logger.WithError(err).
			WithField("attempt", attempt+1).
			WithField("delay", delay.String()).
			Warn("Writing IRF failed, retrying")

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}

// calculateBackoff returns base * 2^attempt, capped at five seconds.
func (c *Compiler) calculateBackoff(attempt int) time.Duration {
	delay := c.retryBase * time.Duration(math.Pow(2, float64(attempt)))
	if delay > 5*time.Second {
		delay = 5 * time.Second
	}
	return delay
}

// fail ends st with err and converts err into a StageError. Cancellation is
// returned as is.
func (c *Compiler) fail(st *telemetry.Stage, res *Result, stage string, err error, ds []diag.Diagnostic) error {
	st.End(err)
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if ds == nil {
		ds = diag.FromError(stage, err)
	}
	c.report(res, stage, ds)
	return newStageError(stage, err, ds)
}

func (c *Compiler) report(res *Result, stage string, ds []diag.Diagnostic) {
	if len(ds) == 0 {
		return
	}
	res.Diagnostics = append(res.Diagnostics, ds...)
	c.tel.Metrics.RecordDiagnostics(stage, string(diag.SeverityError), diag.Count(ds, diag.SeverityError))
	c.tel.Metrics.RecordDiagnostics(stage, string(diag.SeverityWarning), diag.Count(ds, diag.SeverityWarning))
}

func buildStatus(err error) stores.BuildStatus {
	switch {
	case err == nil:
		return stores.BuildStatusSucceeded
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return stores.BuildStatusCancelled
	default:
		return stores.BuildStatusFailed
	}
}

// record stores the run in the history. Failures are logged, never
// returned.
func (c *Compiler) record(ctx context.Context, res *Result, status stores.BuildStatus, err error) {
	if c.history == nil {
		return
	}

	b := &stores.Build{
		ID:           res.BuildID,
		ConfigDir:    res.ConfigDir,
		OutPath:      res.OutPath,
		Status:       status,
		Stage:        StageOf(err),
		Fingerprint:  res.Fingerprint,
		SourceCount:  len(res.Sources),
		ErrorCount:   res.Errors(),
		WarningCount: res.Warnings(),
		StartedAt:    res.StartedAt,
		CompletedAt:  res.StartedAt.Add(res.Duration),
	}
	if err != nil {
		msg := err.Error()
		b.Error = &msg
	}

	// Recording must outlive a cancelled build.
	recCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if recErr := c.history.RecordBuild(recCtx, b); recErr != nil {
		telemetry.FromContext(ctx).WithError(recErr).Warn("Recording build history failed")
	}
}
