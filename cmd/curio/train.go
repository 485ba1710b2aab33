package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/curio/internal/archive"
	"github.com/fyrsmithlabs/curio/internal/config"
	"github.com/fyrsmithlabs/curio/internal/curiosity"
	"github.com/fyrsmithlabs/curio/internal/embeddings"
	"github.com/fyrsmithlabs/curio/internal/experience"
	curiohttp "github.com/fyrsmithlabs/curio/internal/http"
	"github.com/fyrsmithlabs/curio/internal/logging"
	"github.com/fyrsmithlabs/curio/internal/policy"
)

const curiosityScope = "github.com/fyrsmithlabs/curio/internal/curiosity"

type trainFlags struct {
	epochs    int
	tasks     int
	budget    float64
	cost      float64
	agentType string
	quality   float64
	spread    float64
	seed      int64
	decide    int
	format    string
}

// decisionSummary is one reuse decision replayed after training.
type decisionSummary struct {
	Action       policy.Action `json:"action" yaml:"action"`
	Reason       policy.Reason `json:"reason" yaml:"reason"`
	Query        string        `json:"query" yaml:"query"`
	ExperienceID string        `json:"experience_id,omitempty" yaml:"experience_id,omitempty"`
	Similarity   float64       `json:"similarity" yaml:"similarity"`
	Success      bool          `json:"success" yaml:"success"`
	Cost         float64       `json:"cost" yaml:"cost"`
}

type trainingReport struct {
	AgentType string                      `json:"agent_type" yaml:"agent_type"`
	Epochs    []curiosity.TrainingMetrics `json:"epochs" yaml:"epochs"`
	Buffer    experience.Stats            `json:"buffer" yaml:"buffer"`
	Frontier  map[string]float64          `json:"frontier" yaml:"frontier"`
	Decisions []decisionSummary           `json:"decisions,omitempty" yaml:"decisions,omitempty"`
	Policy    *policy.Stats               `json:"policy,omitempty" yaml:"policy,omitempty"`
}

func newTrainCmd(a *app) *cobra.Command {
	f := &trainFlags{}
	cmd := &cobra.Command{
		Use:   "train",
		Short: "Run curiosity-driven practice epochs",
		Long: `train generates practice tasks across the configured domains, runs them
through a simulated agent, and keeps the high-quality results in the
experience buffer. With --decide it then replays tasks through the hybrid
reuse policy and reports exploit/explore decisions and cost savings.

Unset flags fall back to the trainer section of the configuration.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runTrain(cmd, f)
		},
	}

	fs := cmd.Flags()
	fs.IntVar(&f.epochs, "epochs", 0, "number of epochs (default trainer.epochs)")
	fs.IntVar(&f.tasks, "tasks", 0, "tasks generated per epoch (default trainer.tasks)")
	fs.Float64Var(&f.budget, "budget", 0, "total budget across epochs (default trainer.budget)")
	fs.Float64Var(&f.cost, "cost", 0, "cost per executed task (default trainer.cost_per_task)")
	fs.StringVar(&f.agentType, "agent-type", "", "agent type recorded on experiences (default trainer.agent_type)")
	fs.Float64Var(&f.quality, "quality", 85, "mean quality of the simulated agent")
	fs.Float64Var(&f.spread, "spread", 10, "quality spread of the simulated agent")
	fs.Int64Var(&f.seed, "seed", 0, "random seed; 0 picks one from the clock")
	fs.IntVar(&f.decide, "decide", 0, "replay this many practiced tasks through the reuse policy")
	fs.StringVarP(&f.format, "format", "o", formatTable, "output format: table, json or yaml")
	return cmd
}

// trainerSettings merges explicitly set flags over the configured trainer
// section.
func trainerSettings(cmd *cobra.Command, cfg config.TrainerConfig, f *trainFlags) (config.TrainerConfig, error) {
	fs := cmd.Flags()
	if fs.Changed("epochs") {
		cfg.Epochs = f.epochs
	}
	if fs.Changed("tasks") {
		cfg.Tasks = f.tasks
	}
	if fs.Changed("budget") {
		cfg.Budget = f.budget
	}
	if fs.Changed("cost") {
		cfg.CostPerTask = f.cost
	}
	if fs.Changed("agent-type") {
		cfg.AgentType = f.agentType
	}

	switch {
	case cfg.Epochs < 1:
		return cfg, fmt.Errorf("epochs must be at least 1, got %d", cfg.Epochs)
	case cfg.Tasks < 0:
		return cfg, fmt.Errorf("tasks cannot be negative, got %d", cfg.Tasks)
	case cfg.Budget < 0:
		return cfg, fmt.Errorf("budget cannot be negative, got %v", cfg.Budget)
	case cfg.CostPerTask <= 0:
		return cfg, fmt.Errorf("cost must be positive, got %v", cfg.CostPerTask)
	case cfg.AgentType == "":
		return cfg, curiosity.ErrEmptyAgentType
	}
	return cfg, nil
}

func (a *app) runTrain(cmd *cobra.Command, f *trainFlags) error {
	if err := validFormat(f.format); err != nil {
		return err
	}
	if f.decide < 0 {
		return fmt.Errorf("decide cannot be negative, got %d", f.decide)
	}
	tc, err := trainerSettings(cmd, a.cfg.Trainer, f)
	if err != nil {
		return err
	}

	seed := f.seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	questionCfg := a.cfg.Question
	if questionCfg.Seed == 0 {
		questionCfg.Seed = seed
	}
	policyCfg := a.cfg.Policy
	if policyCfg.Seed == 0 {
		policyCfg.Seed = seed
	}

	ctx := logging.WithAgentID(cmd.Context(), tc.AgentType)

	provider, err := embeddings.NewProvider(a.cfg.Embeddings, a.logger.Component("embeddings"))
	if err != nil {
		return fmt.Errorf("creating embeddings provider: %w", err)
	}
	defer provider.Close()

	buf, err := experience.NewBuffer(a.cfg.Buffer, provider, a.logger.Component("experience"))
	if err != nil {
		return err
	}

	engine, err := curiosity.NewQuestionEngine(a.cfg.PracticeDomains(),
		curiosity.WithQuestionConfig(questionCfg),
		curiosity.WithEmbedder(provider),
		curiosity.WithQuestionLogger(a.logger.Component("curiosity")))
	if err != nil {
		return err
	}

	status := &trainStatus{buffer: buf, engine: engine, agentType: tc.AgentType, epochs: tc.Epochs}
	if a.cfg.Metrics.Addr != "" {
		reg, err := newMetricsRegistry(buf, tc.AgentType)
		if err != nil {
			return err
		}
		srv, err := curiohttp.NewServer(a.logger.Component("http"), &curiohttp.Config{Addr: a.cfg.Metrics.Addr},
			curiohttp.WithGatherer(reg),
			curiohttp.WithHealth(telemetryHealth(a.tel)),
			curiohttp.WithStatus(status.snapshot))
		if err != nil {
			return err
		}
		if err := srv.Start(); err != nil {
			return err
		}
		defer func() {
			if err := srv.Shutdown(context.Background()); err != nil {
				a.logger.Warn(ctx, "http server shutdown failed", zap.Error(err))
			}
		}()
	}

	exec, err := newSimulatedExecutor(f.quality, f.spread, seed)
	if err != nil {
		return err
	}

	opts := []curiosity.TrainerOption{
		curiosity.WithConcurrency(tc.Concurrency),
		curiosity.WithCoverageIncrease(tc.CoverageIncrease),
		curiosity.WithTaskTimeout(tc.TaskTimeout.Duration()),
		curiosity.WithTracer(a.tel.Tracer(curiosityScope)),
	}
	if tc.SuccessThreshold > 0 {
		opts = append(opts, curiosity.WithSuccessThreshold(tc.SuccessThreshold))
	}
	if tc.RateLimit > 0 {
		opts = append(opts, curiosity.WithRateLimiter(rate.NewLimiter(rate.Limit(tc.RateLimit), tc.RateBurst)))
	}
	if a.cfg.Archive.Enabled {
		arch, err := archive.NewChromemArchive(a.cfg.Archive.Chromem, provider, a.logger.Component("archive"))
		if err != nil {
			return err
		}
		opts = append(opts, curiosity.WithArchiver(arch))
	}

	trainer, err := curiosity.NewTrainer(buf, exec, a.logger.Component("curiosity"), opts...)
	if err != nil {
		return err
	}

	report := &trainingReport{AgentType: tc.AgentType}
	var practiced []string
	remaining := tc.Budget
	for epoch := 1; epoch <= tc.Epochs; epoch++ {
		epochCtx := logging.WithEpoch(ctx, epoch)
		status.startEpoch(epoch)
		m, session, err := trainer.TrainEpoch(epochCtx, curiosity.EpochRequest{
			NumTasks:        tc.Tasks,
			AgentType:       tc.AgentType,
			BudgetRemaining: remaining,
			CostPerTask:     tc.CostPerTask,
		}, engine)
		if err != nil {
			return fmt.Errorf("epoch %d: %w", epoch, err)
		}
		epochCtx = logging.WithSessionID(epochCtx, m.SessionID)

		remaining -= m.TotalCostIncurred
		report.Epochs = append(report.Epochs, *m)
		status.finishEpoch(*m)
		for _, r := range session.Results {
			practiced = append(practiced, r.Task.Description)
		}
		a.logger.Info(epochCtx, "epoch complete",
			zap.Int("executed", m.TasksExecuted),
			zap.Int("stored", m.HighQualityExperiencesStored),
			zap.Float64("avg_quality", m.AvgQualityScore),
			zap.Float64("budget_remaining", remaining))

		if m.BudgetExhausted && remaining < tc.CostPerTask {
			a.logger.Info(epochCtx, "budget exhausted, stopping early",
				zap.Int("epochs_run", epoch),
				zap.Int("epochs_requested", tc.Epochs))
			break
		}
	}

	status.finish()

	if f.decide > 0 {
		p, err := policy.New(policyCfg, buf, a.logger.Component("policy"))
		if err != nil {
			return err
		}
		if len(practiced) > f.decide {
			practiced = practiced[:f.decide]
		}
		threshold := tc.SuccessThreshold
		if threshold == 0 {
			threshold = a.cfg.Buffer.MinQuality
		}
		report.Decisions, err = replayDecisions(ctx, p, exec, practiced, threshold)
		if err != nil {
			return err
		}
		stats := p.Stats()
		report.Policy = &stats
	}

	report.Buffer = buf.GetBufferStats()
	report.Frontier = engine.Frontier()

	if f.format == formatTable {
		_, err := fmt.Fprint(a.out, renderTrainingReport(report))
		return err
	}
	return encode(a.out, f.format, report)
}

// replayDecisions asks p about each query, acts on the decision and feeds
// the outcome and cost back. Exploit decisions reuse the stored
// experience; explore decisions run the executor again.
func replayDecisions(ctx context.Context, p *policy.HybridPolicy, exec curiosity.Executor, queries []string, threshold float64) ([]decisionSummary, error) {
	out := make([]decisionSummary, 0, len(queries))
	for _, q := range queries {
		d, err := p.Decide(ctx, q)
		if err != nil {
			return out, err
		}

		s := decisionSummary{Action: d.Action, Reason: d.Reason, Query: q, ExperienceID: d.ExperienceID()}
		if d.Match != nil {
			s.Similarity = d.Match.Similarity
		}

		switch d.Action {
		case policy.ActionExploit:
			s.Success = d.Match.Metadata.QualityScore >= threshold
		default:
			res, err := exec.Execute(ctx, q)
			if err != nil && !errors.Is(err, context.DeadlineExceeded) {
				return out, err
			}
			s.Success = err == nil && res.QualityScore >= threshold
		}

		s.Cost = p.EstimatedCost(d)
		p.RecordOutcome(d, s.Success)
		if err := p.RecordCost(d, s.Cost); err != nil {
			return out, err
		}
		out = append(out, s)
	}
	return out, nil
}
