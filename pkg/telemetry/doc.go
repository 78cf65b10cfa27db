// Package telemetry provides the observability of irfc: structured logging
// with zerolog, OpenTelemetry spans per pipeline stage and Prometheus
// metrics.
//
// # Usage
//
//	cfg := telemetry.DefaultConfig()
//	cfg.Logging.Level = "debug"
//	cfg.Metrics.Textfile = "/var/lib/node_exporter/irfc.prom"
//
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
// # Logging
//
// Loggers are derived per component and per build:
//
//	logger := tel.Logger.NewComponentLogger("compiler").WithBuildID(id)
//	logger.Info("Build started")
//
// Diagnostics produced by the pipeline are not log lines; they are rendered
// separately.
//
// # Tracing
//
// Each build gets a root span and each stage a child span:
//
//	stage := tel.StartStage(ctx, "merge")
//	res, err := merger.Merge(stage.Ctx, trees)
//	stage.End(err)
//
// Exporters: none (default), stdout, otlp.
//
// # Metrics
//
// Metrics live in a private registry:
//
//	irfc_builds_total{outcome}
//	irfc_build_duration_seconds{outcome}
//	irfc_stage_duration_seconds{stage}
//	irfc_sources_evaluated_total{format,outcome}
//	irfc_diagnostics_total{stage,severity}
//	irfc_irf_size_bytes
//
// A one-shot compile writes them to a textfile for the node_exporter
// textfile collector; watch mode can also serve them over HTTP.
package telemetry
