package commands

import (
	"strings"
	"testing"
	"time"

	"github.com/marcus/taskpilot/internal/config"
	"github.com/marcus/taskpilot/internal/personality"
	"github.com/marcus/taskpilot/internal/selector"
	"github.com/marcus/taskpilot/internal/state"
	"github.com/marcus/taskpilot/internal/tasks"
)

func evaluation(t tasks.TaskType, final float64) selector.Evaluation {
	def, _ := tasks.BuiltinDefinition(t)
	return selector.Evaluation{
		Candidate:      tasks.Candidate{Definition: def, Metadata: tasks.DefaultMetadata(def)},
		BaseScore:      final,
		ModulatedScore: final,
		Multiplier:     1,
		FinalScore:     final,
		Confidence:     1,
		Recommendation: selector.RecommendProceed,
	}
}

func TestBuildPreviewResultAccepted(t *testing.T) {
	ranked := []selector.Evaluation{
		evaluation(tasks.TaskMarketResearch, 0.8),
		evaluation(tasks.TaskPatternLearning, 0.5),
	}
	v := selector.Verdict{
		Outcome:   selector.StageAccepted,
		Threshold: 0.4,
		Ranked:    ranked,
		Selected:  &ranked[0],
	}

	r := buildPreviewResult("alpha", 10*time.Minute, v, map[tasks.TaskType]bool{tasks.TaskPatternLearning: true})
	if r.Selected != string(tasks.TaskMarketResearch) || r.Outcome != string(selector.StageAccepted) {
		t.Errorf("result = %+v", r)
	}
	if len(r.Candidates) != 2 || !r.Candidates[1].Unbound || r.Candidates[0].Unbound {
		t.Errorf("candidates = %+v", r.Candidates)
	}
	if r.Candidates[0].Category != "market-intelligence" {
		t.Errorf("category = %q", r.Candidates[0].Category)
	}

	out := renderPreviewText(r, personality.Profile{DisplayName: "Alpha", RiskProfile: personality.Balanced, TimeHorizon: personality.MediumTerm})
	for _, want := range []string{"Taskpilot Preview", "alpha", "BALANCED", "market-research", "pattern-learning*", "ACCEPTED", "no command configured"} {
		if !strings.Contains(out, want) {
			t.Errorf("preview output missing %q:\n%s", want, out)
		}
	}
}

func TestBuildPreviewResultCooldown(t *testing.T) {
	ranked := []selector.Evaluation{evaluation(tasks.TaskOpportunityScan, 0.9)}
	v := selector.Verdict{
		Outcome:           selector.StageRejected,
		RejectedAt:        selector.StageCooldownCheck,
		Reason:            selector.ReasonCooldown,
		Threshold:         0.4,
		Ranked:            ranked,
		Selected:          &ranked[0],
		Cooldown:          10 * time.Minute,
		CooldownRemaining: 4*time.Minute + 300*time.Millisecond,
	}

	r := buildPreviewResult("alpha", time.Minute, v, nil)
	if r.Cooldown != "4m0s" {
		t.Errorf("Cooldown = %q, want 4m0s", r.Cooldown)
	}

	out := renderPreviewText(r, personality.Profile{RiskProfile: personality.Conservative})
	for _, want := range []string{"NO_ACTION", string(selector.StageCooldownCheck), selector.ReasonCooldown, "4m0s"} {
		if !strings.Contains(out, want) {
			t.Errorf("preview output missing %q:\n%s", want, out)
		}
	}
}

func TestRenderPreviewNoCandidates(t *testing.T) {
	v := selector.Verdict{Outcome: selector.StageRejected, Reason: selector.ReasonNoCandidates}
	out := renderPreviewText(buildPreviewResult("alpha", time.Minute, v, nil), personality.Profile{})
	if !strings.Contains(out, "no candidates available") || !strings.Contains(out, selector.ReasonNoCandidates) {
		t.Errorf("unexpected output:\n%s", out)
	}
}

func TestPickAgent(t *testing.T) {
	cfg := config.Default()
	if _, err := pickAgent(cfg, ""); err == nil {
		t.Error("expected error with no agents")
	}

	cfg.Agents = []config.AgentConfig{{ID: "alpha"}, {ID: "beta"}}
	tests := []struct {
		id      string
		want    string
		wantErr bool
	}{
		{"", "alpha", false},
		{"beta", "beta", false},
		{"gamma", "", true},
	}
	for _, tt := range tests {
		got, err := pickAgent(cfg, tt.id)
		if tt.wantErr {
			if err == nil {
				t.Errorf("pickAgent(%q): want error", tt.id)
			}
			continue
		}
		if err != nil || got.ID != tt.want {
			t.Errorf("pickAgent(%q) = %q, %v", tt.id, got.ID, err)
		}
	}
}

func TestRenderAgentStatus(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	a := state.AgentRecord{
		ID: "alpha", Name: "Alpha", RiskProfile: "BALANCED", TimeHorizon: "SHORT_TERM",
		Interval: 7*time.Minute + 30*time.Second, RegisteredAt: now.Add(-time.Hour),
	}
	history := map[tasks.TaskType]selector.TaskHistoryEntry{
		tasks.TaskOpportunityScan: {Executions: 4, Successes: 3, TotalPerformance: 2.8, AvgPerformance: 0.7, LastExecuted: now.Add(-4 * time.Minute)},
		tasks.TaskMarketResearch:  {Executions: 1, Successes: 1, TotalPerformance: 0.9, AvgPerformance: 0.9, LastExecuted: now.Add(-2 * time.Hour)},
	}
	cooldowns := config.SelectionConfig{Cooldowns: map[string]time.Duration{
		string(tasks.TaskOpportunityScan): 10 * time.Minute,
		string(tasks.TaskMarketResearch):  30 * time.Minute,
	}}

	out := renderAgentStatus(a, history, 2, cooldowns, now)
	for _, want := range []string{"alpha (Alpha)", "BALANCED / SHORT_TERM", "7m 30s", "Skipped:   2", "75%", "6m 0s", "ready"} {
		if !strings.Contains(out, want) {
			t.Errorf("status output missing %q:\n%s", want, out)
		}
	}
	if strings.Index(out, string(tasks.TaskMarketResearch)) > strings.Index(out, string(tasks.TaskOpportunityScan)) {
		t.Error("task rows not sorted by type")
	}
}

func TestRenderAgentStatusEmptyHistory(t *testing.T) {
	out := renderAgentStatus(state.AgentRecord{ID: "alpha"}, nil, 0, config.SelectionConfig{}, time.Now())
	if !strings.Contains(out, "No tasks executed yet.") || strings.Contains(out, "Skipped") {
		t.Errorf("unexpected output:\n%s", out)
	}
}

func TestFormatDecision(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		d    selector.Decision
		want []string
	}{
		{
			selector.Decision{AgentID: "alpha", Timestamp: ts, Kind: selector.KindExecuteTask, TaskType: "market-research", ProjectedPerformance: 0.8, ActualPerformance: 0.9, Confidence: 1, Duration: 3 * time.Second},
			[]string{"EXECUTED", "market-research", "projected=0.800", "actual=0.900", "in 3s"},
		},
		{
			selector.Decision{AgentID: "alpha", Timestamp: ts, Kind: selector.KindTaskFailed, TaskType: "gas-optimization", ActualPerformance: selector.FailedPerformance, Error: "exit 1"},
			[]string{"FAILED", "gas-optimization", "actual=0.100", "error=exit 1"},
		},
		{
			selector.Decision{AgentID: "beta", Timestamp: ts, Kind: selector.KindNoAction, Reason: selector.ReasonBelowThreshold, TaskType: "pattern-learning"},
			[]string{"NO_ACTION", selector.ReasonBelowThreshold, "(top: pattern-learning)"},
		},
	}
	for _, tt := range tests {
		got := formatDecision(tt.d)
		for _, want := range tt.want {
			if !strings.Contains(got, want) {
				t.Errorf("formatDecision(%s) = %q, missing %q", tt.d.Kind, got, want)
			}
		}
	}
}

func TestRenderAgent(t *testing.T) {
	cfg := config.Default()
	ac := config.AgentConfig{
		ID:   "alpha",
		Name: "Alpha",
		Personality: config.PersonalityConfig{
			RiskProfile:      "conservative",
			TimeHorizon:      "long-term",
			StrategicWeights: map[string]float64{"intelligence": 1.5, "execution_speed": 0.8},
		},
	}

	out, err := renderAgent(cfg, ac)
	if err != nil {
		t.Fatalf("renderAgent: %v", err)
	}
	for _, want := range []string{"alpha", "Alpha", "CONSERVATIVE (threshold 0.60)", "LONG_TERM", "execution_speed=0.80 intelligence=1.50"} {
		if !strings.Contains(out, want) {
			t.Errorf("agent output missing %q:\n%s", want, out)
		}
	}

	ac.Personality.RiskProfile = "reckless"
	if _, err := renderAgent(cfg, ac); err == nil {
		t.Error("expected error for unknown risk profile")
	}
}
