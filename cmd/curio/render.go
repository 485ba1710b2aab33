package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"gopkg.in/yaml.v3"

	"github.com/fyrsmithlabs/curio/internal/archive"
	"github.com/fyrsmithlabs/curio/internal/attribution"
	"github.com/fyrsmithlabs/curio/internal/curiosity"
	"github.com/fyrsmithlabs/curio/internal/experience"
	"github.com/fyrsmithlabs/curio/internal/policy"
)

// Output formats accepted by --format.
const (
	formatTable = "table"
	formatJSON  = "json"
	formatYAML  = "yaml"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("51"))

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("45"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245"))

	goodStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("46"))

	badStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196"))

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Padding(0, 1)

	cellStyle = lipgloss.NewStyle().
			Padding(0, 1)
)

func validFormat(f string) error {
	switch f {
	case formatTable, formatJSON, formatYAML:
		return nil
	}
	return fmt.Errorf("unknown format %q (want table, json or yaml)", f)
}

// encode writes v as JSON or YAML.
func encode(w io.Writer, format string, v interface{}) error {
	switch format {
	case formatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case formatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	}
	return fmt.Errorf("cannot encode as %q", format)
}

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(dimStyle).
		Headers(headers...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
}

func f2(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}

func f4(v float64) string {
	return strconv.FormatFloat(v, 'f', 4, 64)
}

func kv(label, value string) string {
	return labelStyle.Render(label+":") + " " + value
}

func truncate(s string, n int) string {
	if len([]rune(s)) <= n {
		return s
	}
	return string([]rune(s)[:n-1]) + "…"
}

func renderEpochs(epochs []curiosity.TrainingMetrics) string {
	t := newTable("epoch", "executed", "ok", "failed", "avg quality", "delta", "stored", "cost", "budget")
	for i, m := range epochs {
		budget := goodStyle.Render("ok")
		if m.BudgetExhausted {
			budget = badStyle.Render("exhausted")
		}
		t.Row(
			strconv.Itoa(i+1),
			strconv.Itoa(m.TasksExecuted),
			strconv.Itoa(m.TasksSucceeded),
			strconv.Itoa(m.TasksFailed),
			f2(m.AvgQualityScore),
			fmt.Sprintf("%+.2f", m.ImprovementDelta),
			strconv.Itoa(m.HighQualityExperiencesStored),
			f2(m.TotalCostIncurred),
			budget,
		)
	}
	return t.String()
}

func renderBufferStats(s experience.Stats) string {
	lines := []string{
		kv("experiences", fmt.Sprintf("%d / %d (%.0f%%)", s.Size, s.MaxSize, s.CapacityUtilization*100)),
		kv("admitted", strconv.FormatInt(s.TotalStored, 10)),
		kv("rejected", fmt.Sprintf("%d low quality, %d capacity", s.RejectedLowQuality, s.RejectedCapacity)),
		kv("quality", fmt.Sprintf("avg %s, min %s, max %s", f2(s.AvgQuality), f2(s.MinQualityStored), f2(s.MaxQualityStored))),
	}
	return strings.Join(lines, "\n")
}

func renderFrontier(frontier map[string]float64) string {
	domains := make([]string, 0, len(frontier))
	for d := range frontier {
		domains = append(domains, d)
	}
	sort.Strings(domains)

	t := newTable("domain", "coverage")
	for _, d := range domains {
		t.Row(d, f2(frontier[d]))
	}
	return t.String()
}

func renderDecisions(decisions []decisionSummary, stats policy.Stats) string {
	t := newTable("action", "reason", "similarity", "query")
	for _, d := range decisions {
		action := dimStyle.Render(string(d.Action))
		if d.Action == policy.ActionExploit {
			action = goodStyle.Render(string(d.Action))
		}
		t.Row(action, string(d.Reason), f4(d.Similarity), truncate(d.Query, 48))
	}
	summary := kv("hit rate", f2(stats.HitRate)) + "  " +
		kv("cost", f2(stats.TotalCost)) + "  " +
		kv("savings", f2(stats.CostSavings))
	return t.String() + "\n" + summary
}

func renderTrainingReport(r *trainingReport) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("curio practice: "+r.AgentType) + "\n")
	b.WriteString(renderEpochs(r.Epochs) + "\n\n")
	b.WriteString(titleStyle.Render("experience buffer") + "\n")
	b.WriteString(renderBufferStats(r.Buffer) + "\n\n")
	b.WriteString(titleStyle.Render("exploration frontier") + "\n")
	b.WriteString(renderFrontier(r.Frontier) + "\n")
	if r.Policy != nil {
		b.WriteString("\n" + titleStyle.Render("reuse decisions") + "\n")
		b.WriteString(renderDecisions(r.Decisions, *r.Policy) + "\n")
	}
	return b.String()
}

func renderReport(r attribution.Report) string {
	agents := make([]string, 0, len(r.ShapleyValues))
	for a := range r.ShapleyValues {
		agents = append(agents, a)
	}
	sort.Strings(agents)

	t := newTable("agent", "shapley", "reward")
	for _, a := range agents {
		t.Row(a, f4(r.ShapleyValues[a]), f2(r.Rewards[a]))
	}
	return titleStyle.Render("attribution: "+r.TaskID) + "\n" +
		t.String() + "\n" +
		kv("strategy", string(r.Strategy)) + "  " +
		kv("total", f2(r.TotalReward)) + "  " +
		kv("samples", strconv.Itoa(r.Iterations)) + "  " +
		kv("took", r.ComputationTime.String()) + "\n"
}

func renderAttribution(res *attributionResult) string {
	var b strings.Builder
	for i, r := range res.Reports {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(renderReport(r))
	}
	if len(res.Ranking) > 0 {
		t := newTable("rank", "agent", "total reward", "avg shapley", "tasks")
		for i, rank := range res.Ranking {
			t.Row(strconv.Itoa(i+1), rank.AgentID, f2(rank.TotalReward), f4(rank.AvgShapley), strconv.Itoa(rank.TaskCount))
		}
		b.WriteString("\n" + titleStyle.Render("ranking") + "\n" + t.String() + "\n")
	}
	return b.String()
}

func renderRecords(records []archive.Record) string {
	if len(records) == 0 {
		return dimStyle.Render("no archived experiences") + "\n"
	}
	t := newTable("similarity", "quality", "agent", "reuses", "description")
	for _, r := range records {
		t.Row(f4(r.Similarity), f2(r.QualityScore), r.AgentID, strconv.Itoa(r.ReuseCount), truncate(r.Description, 56))
	}
	return t.String() + "\n"
}
