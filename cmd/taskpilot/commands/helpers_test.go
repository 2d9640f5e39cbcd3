package commands

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/marcus/taskpilot/internal/config"
	"github.com/marcus/taskpilot/internal/tasks"
)

type stubRunner struct {
	stdout string
	calls  int
}

func (r *stubRunner) Run(context.Context, string, []string, string) (string, string, int, error) {
	r.calls++
	return r.stdout, "", 0, nil
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.DBPath = filepath.Join(t.TempDir(), "taskpilot.db")
	cfg.Tasks.Commands = map[string]config.CommandConfig{}
	return cfg
}

func candidateTypes(cs []tasks.Candidate) map[tasks.TaskType]bool {
	out := make(map[tasks.TaskType]bool, len(cs))
	for _, c := range cs {
		out[c.Definition.Type] = true
	}
	return out
}

func TestBuildCatalogBindsCommands(t *testing.T) {
	cfg := testConfig(t)
	cfg.Tasks.Commands[string(tasks.TaskMarketResearch)] = config.CommandConfig{Command: "research"}
	cfg.Tasks.Commands[string(tasks.TaskOpportunityScan)] = config.CommandConfig{Command: "scan"}
	cfg.Tasks.Disabled = []string{string(tasks.TaskOpportunityScan)}

	catalog, err := buildCatalog(cfg, &stubRunner{stdout: `{"success":true}`})
	if err != nil {
		t.Fatalf("buildCatalog: %v", err)
	}
	if catalog.Len() != len(tasks.Builtins()) {
		t.Errorf("Len = %d, want %d", catalog.Len(), len(tasks.Builtins()))
	}

	got := candidateTypes(catalog.Candidates(context.Background()))
	if len(got) != 1 || !got[tasks.TaskMarketResearch] {
		t.Errorf("candidates = %v, want only %s", got, tasks.TaskMarketResearch)
	}
}

func TestBuildCatalogRejectsUnknownCommand(t *testing.T) {
	cfg := testConfig(t)
	cfg.Tasks.Commands["no-such-task"] = config.CommandConfig{Command: "x"}

	if _, err := buildCatalog(cfg, &stubRunner{}); err == nil {
		t.Fatal("expected error for command bound to unknown task type")
	}
}

func TestBindPlaceholders(t *testing.T) {
	cfg := testConfig(t)
	cfg.Tasks.Commands[string(tasks.TaskPatternLearning)] = config.CommandConfig{Command: "learn"}

	catalog, err := buildCatalog(cfg, &stubRunner{stdout: `{"success":true}`})
	if err != nil {
		t.Fatalf("buildCatalog: %v", err)
	}
	bound := bindPlaceholders(catalog, cfg)
	if len(bound) != len(tasks.Builtins())-1 {
		t.Errorf("placeholders = %d, want %d", len(bound), len(tasks.Builtins())-1)
	}
	for _, tt := range bound {
		if tt == tasks.TaskPatternLearning {
			t.Errorf("configured task %s got a placeholder", tt)
		}
	}

	if got := catalog.Candidates(context.Background()); len(got) != len(tasks.Builtins()) {
		t.Errorf("candidates = %d, want every builtin", len(got))
	}

	r, err := catalog.Load(tasks.TaskStrategyBacktest)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, err := r.Run(context.Background()); !errors.Is(err, errUnboundTask) {
		t.Errorf("Run err = %v, want errUnboundTask", err)
	}
}

func TestRegisterAgentsRecordsJournal(t *testing.T) {
	cfg := testConfig(t)
	cfg.Tasks.Commands[string(tasks.TaskMarketResearch)] = config.CommandConfig{Command: "research"}
	cfg.Agents = []config.AgentConfig{
		{ID: "alpha", Name: "Alpha", Personality: config.PersonalityConfig{RiskProfile: "high-reward-aggressive", TimeHorizon: "short-term"}},
		{ID: "beta", Personality: config.PersonalityConfig{RiskProfile: "conservative"}},
	}

	runner := &stubRunner{stdout: `{"success":true,"value":0.9}`}
	catalog, err := buildCatalog(cfg, runner)
	if err != nil {
		t.Fatalf("buildCatalog: %v", err)
	}
	database, journal, err := openJournal(cfg)
	if err != nil {
		t.Fatalf("openJournal: %v", err)
	}
	defer func() { _ = database.Close() }()

	ctx := context.Background()
	engine := buildEngine(cfg, catalog, journal, nil)
	if err := registerAgents(ctx, cfg, engine, journal); err != nil {
		t.Fatalf("registerAgents: %v", err)
	}

	agents, err := journal.Agents(ctx)
	if err != nil {
		t.Fatalf("Agents: %v", err)
	}
	if len(agents) != 2 {
		t.Fatalf("journal agents = %d, want 2", len(agents))
	}
	if agents[0].ID != "alpha" || agents[0].Name != "Alpha" {
		t.Errorf("agents[0] = %+v", agents[0])
	}
	_, want, err := agentProfile(cfg, cfg.Agents[0])
	if err != nil {
		t.Fatalf("agentProfile: %v", err)
	}
	if agents[0].Interval != want {
		t.Errorf("interval = %v, want %v", agents[0].Interval, want)
	}

	if _, err := engine.RunCycle(ctx, "alpha"); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	decisions, err := journal.RecentDecisions(ctx, "alpha", 10)
	if err != nil {
		t.Fatalf("RecentDecisions: %v", err)
	}
	if len(decisions) != 1 {
		t.Errorf("journal decisions = %d, want 1", len(decisions))
	}
}

func TestRegisterAgentsStopsOnBadPersonality(t *testing.T) {
	cfg := testConfig(t)
	cfg.Agents = []config.AgentConfig{
		{ID: "alpha", Personality: config.PersonalityConfig{RiskProfile: "reckless"}},
	}
	catalog, err := buildCatalog(cfg, &stubRunner{})
	if err != nil {
		t.Fatalf("buildCatalog: %v", err)
	}

	engine := buildEngine(cfg, catalog, nil, nil)
	if err := registerAgents(context.Background(), cfg, engine, nil); err == nil {
		t.Fatal("expected error for unknown risk profile")
	}
	if n := len(engine.Agents()); n != 0 {
		t.Errorf("agents registered = %d, want 0", n)
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{250 * time.Millisecond, "250ms"},
		{42 * time.Second, "42s"},
		{3*time.Minute + 5*time.Second, "3m 5s"},
		{2*time.Hour + 15*time.Minute, "2h 15m"},
	}
	for _, tt := range tests {
		if got := formatDuration(tt.d); got != tt.want {
			t.Errorf("formatDuration(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}

func TestFormatAgo(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	if got := formatAgo(time.Time{}, now); got != "never" {
		t.Errorf("zero = %q", got)
	}
	if got := formatAgo(now.Add(-90*time.Second), now); got != "1m 30s ago" {
		t.Errorf("past = %q", got)
	}
	if got := formatAgo(now.Add(10*time.Second), now); got != "in 10s" {
		t.Errorf("future = %q", got)
	}
}
