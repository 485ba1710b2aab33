package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/fyrsmithlabs/curio/internal/attribution"
	"github.com/fyrsmithlabs/curio/internal/logging"
)

const maxTaskFileSize = 1 << 20

type attributeFlags struct {
	taskID   string
	reward   float64
	strategy string
	agents   []string
	deltas   []string
	file     string
	window   int
	format   string
}

// taskSpec is one attribution request. Exactly one of Scores and Deltas is
// set.
type taskSpec struct {
	ID       string             `yaml:"id"`
	Reward   *float64           `yaml:"reward"`
	Strategy string             `yaml:"strategy"`
	Scores   map[string]float64 `yaml:"scores"`
	Deltas   []deltaSpec        `yaml:"deltas"`
}

// deltaSpec is one agent's quality change. Omitted effort and impact count
// as 1; an explicit 0 is kept.
type deltaSpec struct {
	Agent  string   `yaml:"agent"`
	Before float64  `yaml:"before"`
	After  float64  `yaml:"after"`
	Effort *float64 `yaml:"effort"`
	Impact *float64 `yaml:"impact"`
}

func (d deltaSpec) delta() attribution.Delta {
	return attribution.Delta{
		AgentID:          d.Agent,
		QualityBefore:    d.Before,
		QualityAfter:     d.After,
		EffortRatio:      orOne(d.Effort),
		ImpactMultiplier: orOne(d.Impact),
	}
}

func orOne(v *float64) float64 {
	if v == nil {
		return 1
	}
	return *v
}

type taskFile struct {
	Tasks []taskSpec `yaml:"tasks"`
}

type attributionResult struct {
	Reports []attribution.Report    `json:"reports" yaml:"reports"`
	Ranking []attribution.AgentRank `json:"ranking" yaml:"ranking"`
}

func newAttributeCmd(a *app) *cobra.Command {
	f := &attributeFlags{}
	cmd := &cobra.Command{
		Use:   "attribute",
		Short: "Split a shared reward among contributing agents",
		Long: `attribute estimates each agent's Shapley value for a jointly produced
outcome and divides the reward in proportion.

Agents are given either as raw contribution scores in [0, 1]:

  curio attribute --reward 100 --agent planner=0.8 --agent coder=0.6

or as quality deltas (agent:before:after[:effort[:impact]]) that are
normalized by the contribution tracker first:

  curio attribute --delta planner:40:70 --delta coder:70:90:0.5:1.5

--file reads many tasks from YAML and prints a ranking across them:

  tasks:
    - id: review-1
      reward: 100
      scores: {planner: 0.8, coder: 0.6}
    - id: review-2
      deltas:
        - {agent: coder, before: 50, after: 90}`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runAttribute(cmd, f)
		},
	}

	fs := cmd.Flags()
	fs.StringVar(&f.taskID, "task-id", "", "task identifier (default: generated)")
	fs.Float64Var(&f.reward, "reward", 0, "total reward to split (default reward.base_reward)")
	fs.StringVar(&f.strategy, "strategy", "", "reward strategy: linear, exponential or sigmoid (default attribution.engine.strategy)")
	fs.StringArrayVar(&f.agents, "agent", nil, "agent contribution score as name=score; repeatable")
	fs.StringArrayVar(&f.deltas, "delta", nil, "agent quality delta as name:before:after[:effort[:impact]]; repeatable")
	fs.StringVarP(&f.file, "file", "f", "", "YAML file of tasks to attribute")
	fs.IntVar(&f.window, "window", 0, "rank agents over this many most recent tasks; 0 uses all")
	fs.StringVarP(&f.format, "format", "o", formatTable, "output format: table, json or yaml")
	cmd.MarkFlagsMutuallyExclusive("file", "agent")
	cmd.MarkFlagsMutuallyExclusive("file", "delta")
	cmd.MarkFlagsMutuallyExclusive("agent", "delta")
	return cmd
}

func (a *app) runAttribute(cmd *cobra.Command, f *attributeFlags) error {
	if err := validFormat(f.format); err != nil {
		return err
	}

	tasks, err := a.attributionTasks(cmd, f)
	if err != nil {
		return err
	}

	shaper, err := attribution.NewShaper(a.cfg.Reward, a.logger.Component("attribution"))
	if err != nil {
		return err
	}
	tracker, err := attribution.NewTracker(a.cfg.Attribution.Tracker, a.logger.Component("attribution"))
	if err != nil {
		return err
	}
	engine, err := attribution.NewEngine(a.cfg.Attribution.Engine, shaper, a.logger.Component("attribution"),
		attribution.WithTracker(tracker))
	if err != nil {
		return err
	}

	res := &attributionResult{}
	for _, t := range tasks {
		ctx := logging.WithTaskID(cmd.Context(), t.ID)

		var strategy attribution.Strategy
		if t.Strategy != "" {
			if strategy, err = attribution.ParseStrategy(t.Strategy); err != nil {
				return fmt.Errorf("task %s: %w", t.ID, err)
			}
		}
		reward := a.cfg.Reward.BaseReward
		if t.Reward != nil {
			reward = *t.Reward
		}

		var report *attribution.Report
		if len(t.Deltas) > 0 {
			deltas := make([]attribution.Delta, len(t.Deltas))
			for i, d := range t.Deltas {
				deltas[i] = d.delta()
			}
			report, err = engine.AttributeFromDeltas(ctx, t.ID, deltas, reward, strategy)
		} else {
			report, err = engine.AttributeMultiAgentTask(ctx, t.ID, t.Scores, reward, strategy)
		}
		if err != nil {
			return fmt.Errorf("task %s: %w", t.ID, err)
		}
		a.logger.Info(ctx, "task attributed",
			zap.Int("agents", len(report.ShapleyValues)),
			zap.Float64("reward", report.TotalReward),
			zap.Duration("took", report.ComputationTime))
		res.Reports = append(res.Reports, *report)
	}
	res.Ranking = engine.GetAgentRanking(f.window)

	if f.format == formatTable {
		_, err := fmt.Fprint(a.out, renderAttribution(res))
		return err
	}
	return encode(a.out, f.format, res)
}

// attributionTasks builds the task list from --file or from the inline
// flags.
func (a *app) attributionTasks(cmd *cobra.Command, f *attributeFlags) ([]taskSpec, error) {
	if f.file != "" {
		tasks, err := readTaskFile(f.file)
		if err != nil {
			return nil, err
		}
		for i := range tasks {
			if tasks[i].ID == "" {
				tasks[i].ID = uuid.NewString()
			}
			if len(tasks[i].Scores) > 0 && len(tasks[i].Deltas) > 0 {
				return nil, fmt.Errorf("task %s: set scores or deltas, not both", tasks[i].ID)
			}
		}
		return tasks, nil
	}

	t := taskSpec{ID: f.taskID, Strategy: f.strategy}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if cmd.Flags().Changed("reward") {
		t.Reward = &f.reward
	}

	switch {
	case len(f.agents) > 0:
		scores, err := parseScores(f.agents)
		if err != nil {
			return nil, err
		}
		t.Scores = scores
	case len(f.deltas) > 0:
		deltas, err := parseDeltas(f.deltas)
		if err != nil {
			return nil, err
		}
		t.Deltas = deltas
	default:
		return nil, errors.New("no agents given: use --agent, --delta or --file")
	}
	return []taskSpec{t}, nil
}

func readTaskFile(path string) ([]taskSpec, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening task file: %w", err)
	}
	defer fh.Close()

	content, err := io.ReadAll(io.LimitReader(fh, maxTaskFileSize+1))
	if err != nil {
		return nil, fmt.Errorf("reading task file: %w", err)
	}
	if len(content) > maxTaskFileSize {
		return nil, fmt.Errorf("task file too large (max %d bytes)", maxTaskFileSize)
	}

	var tf taskFile
	if err := yaml.Unmarshal(content, &tf); err != nil {
		return nil, fmt.Errorf("parsing task file %s: %w", path, err)
	}
	if len(tf.Tasks) == 0 {
		return nil, fmt.Errorf("task file %s has no tasks", path)
	}
	return tf.Tasks, nil
}

// parseScores parses name=score pairs. Repeated names are rejected.
func parseScores(pairs []string) (map[string]float64, error) {
	scores := make(map[string]float64, len(pairs))
	for _, p := range pairs {
		name, raw, ok := strings.Cut(p, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid --agent %q: want name=score", p)
		}
		score, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid --agent %q: %w", p, err)
		}
		if _, dup := scores[name]; dup {
			return nil, fmt.Errorf("agent %q given more than once", name)
		}
		scores[name] = score
	}
	return scores, nil
}

// parseDeltas parses name:before:after[:effort[:impact]] entries. Omitted
// effort and impact stay nil.
func parseDeltas(entries []string) ([]deltaSpec, error) {
	out := make([]deltaSpec, 0, len(entries))
	for _, e := range entries {
		parts := strings.Split(e, ":")
		if len(parts) < 3 || len(parts) > 5 || strings.TrimSpace(parts[0]) == "" {
			return nil, fmt.Errorf("invalid --delta %q: want name:before:after[:effort[:impact]]", e)
		}
		nums := make([]*float64, 4)
		for i, raw := range parts[1:] {
			v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
			if err != nil {
				return nil, fmt.Errorf("invalid --delta %q: %w", e, err)
			}
			nums[i] = &v
		}
		out = append(out, deltaSpec{
			Agent:  strings.TrimSpace(parts[0]),
			Before: *nums[0],
			After:  *nums[1],
			Effort: nums[2],
			Impact: nums[3],
		})
	}
	return out, nil
}
