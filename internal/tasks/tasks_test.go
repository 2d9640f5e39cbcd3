package tasks

import (
	"testing"
	"time"
)

func TestCategoryString(t *testing.T) {
	tests := []struct {
		cat  Category
		want string
	}{
		{CategoryLearningIntelligence, "learning-intelligence"},
		{CategoryCompetitionAnalysis, "competition-analysis"},
		{CategoryPerformanceOptimization, "performance-optimization"},
		{CategoryMarketIntelligence, "market-intelligence"},
		{CategoryMaintenance, "maintenance"},
		{Category(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.cat.String(); got != tt.want {
			t.Errorf("Category(%d).String() = %q, want %q", tt.cat, got, tt.want)
		}
	}
}

func TestParsePriority(t *testing.T) {
	tests := []struct {
		in      string
		want    Priority
		wantErr bool
	}{
		{"low", PriorityLow, false},
		{"Medium", PriorityMedium, false},
		{" HIGH ", PriorityHigh, false},
		{"critical", PriorityCritical, false},
		{"urgent", PriorityLow, true},
	}
	for _, tt := range tests {
		got, err := ParsePriority(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParsePriority(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && got != tt.want {
			t.Errorf("ParsePriority(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestParseRiskLevel(t *testing.T) {
	for _, r := range []RiskLevel{RiskLow, RiskMedium, RiskHigh} {
		got, err := ParseRiskLevel(r.String())
		if err != nil || got != r {
			t.Errorf("ParseRiskLevel(%q) = %v, %v", r.String(), got, err)
		}
	}
	if _, err := ParseRiskLevel("extreme"); err == nil {
		t.Error("ParseRiskLevel(extreme) should fail")
	}
}

func TestDefaultMetadata(t *testing.T) {
	def, err := BuiltinDefinition(TaskCompetitorAnalysis)
	if err != nil {
		t.Fatal(err)
	}
	md := DefaultMetadata(def)
	if md.Priority != def.DefaultPriority || md.Risk != def.Risk {
		t.Errorf("metadata %+v does not mirror definition %+v", md, def)
	}
	if md.ValueScore != 0.5 {
		t.Errorf("ValueScore = %v, want 0.5", md.ValueScore)
	}
	if md.EstimatedDuration != "20-30 minutes" {
		t.Errorf("EstimatedDuration = %q", md.EstimatedDuration)
	}
}

func TestBuiltinsHaveCooldowns(t *testing.T) {
	cooldowns := DefaultCooldowns()
	seen := make(map[TaskType]bool)
	for _, def := range Builtins() {
		if seen[def.Type] {
			t.Errorf("duplicate builtin %s", def.Type)
		}
		seen[def.Type] = true
		if cooldowns[def.Type] <= 0 {
			t.Errorf("builtin %s has no cooldown", def.Type)
		}
	}
	if len(cooldowns) != len(seen) {
		t.Errorf("cooldown table has %d entries, builtins %d", len(cooldowns), len(seen))
	}
}

func TestDefaultCooldownsIsCopy(t *testing.T) {
	c := DefaultCooldowns()
	c[TaskMarketResearch] = time.Second
	if DefaultCooldowns()[TaskMarketResearch] != 30*time.Minute {
		t.Error("DefaultCooldowns leaked internal table")
	}
}

func TestBuiltinDefinitionUnknown(t *testing.T) {
	if _, err := BuiltinDefinition("unknown-task"); err == nil {
		t.Error("expected error for unknown task")
	}
}
