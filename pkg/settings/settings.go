// Package settings loads the compiler's own settings. Values come, in
// increasing precedence, from defaults, an optional settings file,
// CIVA_IRFC_* environment variables and command-line flags.
package settings

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/civa-shell/irfc/pkg/telemetry"
)

const (
	// EnvPrefix prefixes every environment variable, e.g. CIVA_IRFC_WORKERS.
	EnvPrefix = "CIVA_IRFC"

	// FileName is the settings file name without extension.
	FileName = "irfc"
)

// Settings configures one irfc process.
type Settings struct {
	Workers     int           `mapstructure:"workers" validate:"min=1,max=256"`
	EvalTimeout time.Duration `mapstructure:"eval_timeout" validate:"min=0"`
	Extensions  []string      `mapstructure:"extensions" validate:"dive,startswith=."`

	// Schema is a schema file; empty selects the built-in civa schema.
	Schema string `mapstructure:"schema"`

	// PolicyDir holds additional Rego policies.
	PolicyDir string `mapstructure:"policy_dir"`

	// Policies enables policy checks.
	Policies bool `mapstructure:"policies"`

	// DisabledPolicies names built-in or loaded policies to skip.
	DisabledPolicies []string `mapstructure:"disabled_policies"`

	// History is the SQLite build history; empty disables recording.
	History string `mapstructure:"history"`

	WriteRetries int `mapstructure:"write_retries" validate:"min=0,max=10"`

	Log     LogSettings     `mapstructure:"log"`
	Tracing TracingSettings `mapstructure:"tracing"`
	Metrics MetricsSettings `mapstructure:"metrics"`
	Watch   WatchSettings   `mapstructure:"watch"`
}

// LogSettings configures logging.
type LogSettings struct {
	Level  string `mapstructure:"level" validate:"oneof=trace debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=console json"`
}

// TracingSettings configures span export.
type TracingSettings struct {
	Exporter     string  `mapstructure:"exporter" validate:"oneof=none stdout otlp"`
	Endpoint     string  `mapstructure:"endpoint" validate:"required_if=Exporter otlp"`
	Insecure     bool    `mapstructure:"insecure"`
	SamplingRate float64 `mapstructure:"sampling_rate" validate:"min=0,max=1"`
}

// MetricsSettings configures metrics export.
type MetricsSettings struct {
	Enabled  bool   `mapstructure:"enabled"`
	Textfile string `mapstructure:"textfile"`
	Listen   string `mapstructure:"listen" validate:"omitempty,hostname_port"`
}

// WatchSettings configures watch mode.
type WatchSettings struct {
	Debounce time.Duration `mapstructure:"debounce" validate:"min=0"`
}

// Default returns the settings used when nothing is configured.
func Default() *Settings {
	return &Settings{
		Workers:      runtime.NumCPU(),
		EvalTimeout:  30 * time.Second,
		Policies:     true,
		WriteRetries: 3,
		Log: LogSettings{
			Level:  "info",
			Format: "console",
		},
		Tracing: TracingSettings{
			Exporter:     "none",
			Insecure:     true,
			SamplingRate: 1.0,
		},
		Metrics: MetricsSettings{
			Enabled: true,
		},
		Watch: WatchSettings{
			Debounce: 200 * time.Millisecond,
		},
	}
}

// flagKeys maps command-line flag names to settings keys.
var flagKeys = map[string]string{
	"workers":          "workers",
	"eval-timeout":     "eval_timeout",
	"extensions":       "extensions",
	"schema":           "schema",
	"policy-dir":       "policy_dir",
	"policies":         "policies",
	"disable-policy":   "disabled_policies",
	"history":          "history",
	"log-level":        "log.level",
	"log-format":       "log.format",
	"trace-exporter":   "tracing.exporter",
	"trace-endpoint":   "tracing.endpoint",
	"metrics-textfile": "metrics.textfile",
	"metrics-listen":   "metrics.listen",
	"debounce":         "watch.debounce",
}

// LoadOptions controls where settings are read from.
type LoadOptions struct {
	// File is an explicit settings file. It must exist.
	File string

	// SearchPaths are searched for irfc.{toml,yaml,yml,json} when File is
	// empty. Nil uses DefaultSearchPaths.
	SearchPaths []string

	// Flags are bound over every other source. Only flags the user set
	// take precedence.
	Flags *pflag.FlagSet
}

// DefaultSearchPaths returns the civa configuration directory.
func DefaultSearchPaths() []string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil
		}
		dir = filepath.Join(home, ".config")
	}
	return []string{filepath.Join(dir, "civa")}
}

// Load resolves the settings and returns them with the path of the settings
// file used, if any.
func Load(opts LoadOptions) (*Settings, string, error) {
	v := viper.New()

	setDefaults(v, Default())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if opts.Flags != nil {
		for name, key := range flagKeys {
			if f := opts.Flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, "", fmt.Errorf("failed to bind flag %s: %w", name, err)
				}
			}
		}
	}

	resolved := ""
	if opts.File != "" {
		v.SetConfigFile(opts.File)
		if err := v.ReadInConfig(); err != nil {
			return nil, "", fmt.Errorf("failed to read settings file %s: %w", opts.File, err)
		}
		resolved = opts.File
	} else {
		paths := opts.SearchPaths
		if paths == nil {
			paths = DefaultSearchPaths()
		}
		v.SetConfigName(FileName)
		for _, p := range paths {
			v.AddConfigPath(p)
		}
		if len(paths) > 0 {
			err := v.ReadInConfig()
			var notFound viper.ConfigFileNotFoundError
			switch {
			case err == nil:
				resolved = v.ConfigFileUsed()
			case errors.As(err, &notFound):
				// No settings file; defaults apply.
			default:
				return nil, "", fmt.Errorf("failed to read settings file: %w", err)
			}
		}
	}

	s := &Settings{}
	if err := v.Unmarshal(s); err != nil {
		return nil, "", fmt.Errorf("failed to parse settings: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, "", err
	}

	return s, resolved, nil
}

func setDefaults(v *viper.Viper, d *Settings) {
	v.SetDefault("workers", d.Workers)
	v.SetDefault("eval_timeout", d.EvalTimeout)
	v.SetDefault("extensions", append([]string{}, d.Extensions...))
	v.SetDefault("schema", d.Schema)
	v.SetDefault("policy_dir", d.PolicyDir)
	v.SetDefault("policies", d.Policies)
	v.SetDefault("disabled_policies", append([]string{}, d.DisabledPolicies...))
	v.SetDefault("history", d.History)
	v.SetDefault("write_retries", d.WriteRetries)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("tracing.exporter", d.Tracing.Exporter)
	v.SetDefault("tracing.endpoint", d.Tracing.Endpoint)
	v.SetDefault("tracing.insecure", d.Tracing.Insecure)
	v.SetDefault("tracing.sampling_rate", d.Tracing.SamplingRate)
	v.SetDefault("metrics.enabled", d.Metrics.Enabled)
	v.SetDefault("metrics.textfile", d.Metrics.Textfile)
	v.SetDefault("metrics.listen", d.Metrics.Listen)
	v.SetDefault("watch.debounce", d.Watch.Debounce)
}

var validate = validator.New()

// Validate checks the settings against their constraints.
func (s *Settings) Validate() error {
	if err := validate.Struct(s); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s: failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value()))
			}
			return fmt.Errorf("invalid settings: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid settings: %w", err)
	}
	return nil
}

// Telemetry derives the telemetry configuration.
func (s *Settings) Telemetry(version string) *telemetry.Config {
	cfg := telemetry.DefaultConfig()
	cfg.ServiceVersion = version
	cfg.Logging.Level = s.Log.Level
	cfg.Logging.Format = s.Log.Format
	cfg.Tracing.Exporter = s.Tracing.Exporter
	cfg.Tracing.Endpoint = s.Tracing.Endpoint
	cfg.Tracing.Insecure = s.Tracing.Insecure
	cfg.Tracing.SamplingRate = s.Tracing.SamplingRate
	cfg.Metrics.Enabled = s.Metrics.Enabled
	cfg.Metrics.Textfile = s.Metrics.Textfile
	cfg.Metrics.ListenAddress = s.Metrics.Listen
	return cfg
}
