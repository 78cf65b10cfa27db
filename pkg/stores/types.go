package stores

import (
	"context"
	"time"
)

// BuildStatus is the outcome of a recorded build.
type BuildStatus string

const (
	BuildStatusSucceeded BuildStatus = "succeeded"
	BuildStatusFailed    BuildStatus = "failed"
	BuildStatusCancelled BuildStatus = "cancelled"
)

// Build is one recorded compiler run.
type Build struct {
	ID           string      `json:"id"`
	ConfigDir    string      `json:"config_dir"`
	OutPath      string      `json:"out_path,omitempty"` // empty for check runs
	Status       BuildStatus `json:"status"`
	Stage        string      `json:"stage,omitempty"` // failing stage
	Fingerprint  string      `json:"fingerprint,omitempty"`
	SourceCount  int         `json:"source_count"`
	ErrorCount   int         `json:"error_count"`
	WarningCount int         `json:"warning_count"`
	StartedAt    time.Time   `json:"started_at"`
	CompletedAt  time.Time   `json:"completed_at"`
	Error        *string     `json:"error,omitempty"`
}

// Duration returns how long the build took.
func (b *Build) Duration() time.Duration {
	return b.CompletedAt.Sub(b.StartedAt)
}

// Store defines the persistence operations for build history.
type Store interface {
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	RecordBuild(ctx context.Context, b *Build) error
	GetBuild(ctx context.Context, id string) (*Build, error)
	ListBuilds(ctx context.Context, limit int) ([]*Build, error)
	LastSuccessful(ctx context.Context, configDir string) (*Build, error)
	PruneBuilds(ctx context.Context, keep int) (int64, error)

	HealthCheck(ctx context.Context) error
}
