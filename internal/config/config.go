// Package config loads the curio CLI configuration.
//
// Each section maps onto the constructor configuration of one core
// package, so the CLI passes sections through unchanged:
//
//	cfg, err := config.Load("")
//	buf, err := experience.NewBuffer(cfg.Buffer, provider, logger.Component("experience"))
//
// Values are layered: built-in defaults, then the YAML file, then CURIO_*
// environment variables.
package config

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/fyrsmithlabs/curio/internal/archive"
	"github.com/fyrsmithlabs/curio/internal/attribution"
	"github.com/fyrsmithlabs/curio/internal/curiosity"
	"github.com/fyrsmithlabs/curio/internal/embeddings"
	"github.com/fyrsmithlabs/curio/internal/experience"
	"github.com/fyrsmithlabs/curio/internal/logging"
	"github.com/fyrsmithlabs/curio/internal/policy"
	"github.com/fyrsmithlabs/curio/internal/telemetry"
)

var validate = validator.New()

// Config is the complete CLI configuration.
type Config struct {
	Buffer      experience.Config         `koanf:"buffer"`
	Policy      policy.Config             `koanf:"policy"`
	Reward      attribution.ShaperConfig  `koanf:"reward"`
	Attribution AttributionConfig         `koanf:"attribution"`
	Trainer     TrainerConfig             `koanf:"trainer"`
	Question    curiosity.QuestionConfig  `koanf:"question"`
	Domains     []curiosity.DomainSpec    `koanf:"domains" validate:"dive"`
	Embeddings  embeddings.ProviderConfig `koanf:"embeddings"`
	Archive     ArchiveConfig             `koanf:"archive"`
	Metrics     MetricsConfig             `koanf:"metrics"`
	Logging     logging.Config            `koanf:"logging"`
	Telemetry   telemetry.Config          `koanf:"telemetry"`
}

// PracticeDomains returns the configured domains, or the built-in catalogue
// when none are set.
func (c *Config) PracticeDomains() []curiosity.DomainSpec {
	if len(c.Domains) == 0 {
		return curiosity.DefaultDomains()
	}
	return c.Domains
}

// AttributionConfig groups the engine and its contribution ledger.
type AttributionConfig struct {
	Engine  attribution.EngineConfig  `koanf:"engine"`
	Tracker attribution.TrackerConfig `koanf:"tracker"`
}

// TrainerConfig holds trainer options and the defaults for an epoch
// request issued by the CLI.
type TrainerConfig struct {
	AgentType   string  `koanf:"agent_type" validate:"required"`
	Tasks       int     `koanf:"tasks" validate:"gte=0"`
	Epochs      int     `koanf:"epochs" validate:"gte=1"`
	Budget      float64 `koanf:"budget" validate:"gte=0"`
	CostPerTask float64 `koanf:"cost_per_task" validate:"gt=0"`
	Concurrency int     `koanf:"concurrency" validate:"gte=1"`

	// SuccessThreshold is the quality a task needs to count as a success.
	// Zero uses the buffer's admission quality.
	SuccessThreshold float64 `koanf:"success_threshold" validate:"gte=0,lte=100"`

	CoverageIncrease float64 `koanf:"coverage_increase" validate:"gte=0"`

	// RateLimit caps executor calls per second; zero is unlimited.
	RateLimit float64 `koanf:"rate_limit" validate:"gte=0"`
	RateBurst int     `koanf:"rate_burst" validate:"gte=1"`

	// TaskTimeout bounds each executor call; zero disables it.
	TaskTimeout Duration `koanf:"task_timeout"`
}

// ArchiveConfig enables the durable experience archive.
type ArchiveConfig struct {
	Enabled bool           `koanf:"enabled"`
	Chromem archive.Config `koanf:"chromem"`
}

// MetricsConfig controls the Prometheus endpoint served while the CLI runs.
type MetricsConfig struct {
	// Addr is the listen address for /metrics; empty disables it.
	Addr string `koanf:"addr" validate:"omitempty,hostname_port"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Buffer: experience.DefaultConfig(),
		Policy: policy.DefaultConfig(),
		Reward: attribution.DefaultShaperConfig(),
		Attribution: AttributionConfig{
			Engine:  attribution.DefaultEngineConfig(),
			Tracker: attribution.DefaultTrackerConfig(),
		},
		Trainer: TrainerConfig{
			AgentType:        "generalist",
			Tasks:            10,
			Epochs:           1,
			Budget:           10,
			CostPerTask:      1,
			Concurrency:      4,
			CoverageIncrease: 5,
			RateBurst:        1,
		},
		Question:   curiosity.DefaultQuestionConfig(),
		Embeddings: embeddings.ProviderConfig{Provider: embeddings.ProviderHash, Dimension: embeddings.DefaultHashDimension},
		Archive: ArchiveConfig{
			Chromem: archive.Config{
				Path:       "~/.local/share/curio/archive",
				Compress:   true,
				Collection: "experiences",
			},
		},
		Logging:   *logging.NewDefaultConfig(),
		Telemetry: *telemetry.NewDefaultConfig(),
	}
}

// Validate checks every section.
func (c *Config) Validate() error {
	var errs []error
	if err := validate.Struct(c); err != nil {
		errs = append(errs, err)
	}
	if c.Archive.Enabled && c.Archive.Chromem.Collection == "" {
		errs = append(errs, errors.New("archive.chromem.collection is required when the archive is enabled"))
	}
	if err := c.Logging.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("logging: %w", err))
	}
	if err := c.Telemetry.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("telemetry: %w", err))
	}
	return errors.Join(errs...)
}
