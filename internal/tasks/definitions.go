package tasks

import (
	"fmt"
	"time"
)

// Built-in task types.
const (
	TaskMarketResearch     TaskType = "market-research"
	TaskCompetitorAnalysis TaskType = "competitor-analysis"
	TaskPerformanceTuning  TaskType = "performance-tuning"
	TaskGasOptimization    TaskType = "gas-optimization"
	TaskPatternLearning    TaskType = "pattern-learning"
	TaskOpportunityScan    TaskType = "opportunity-scan"
	TaskStrategyBacktest   TaskType = "strategy-backtest"
)

// DefaultCooldown applies to task types missing from the cooldown table.
const DefaultCooldown = 15 * time.Minute

var builtins = []Definition{
	{
		Type:              TaskMarketResearch,
		Name:              "Market Research",
		Category:          CategoryMarketIntelligence,
		DefaultPriority:   PriorityHigh,
		EstimatedDuration: "15-20 minutes",
		Risk:              RiskMedium,
	},
	{
		Type:              TaskCompetitorAnalysis,
		Name:              "Competitor Analysis",
		Category:          CategoryCompetitionAnalysis,
		DefaultPriority:   PriorityMedium,
		EstimatedDuration: "20-30 minutes",
		Risk:              RiskLow,
	},
	{
		Type:              TaskPerformanceTuning,
		Name:              "Performance Tuning",
		Category:          CategoryPerformanceOptimization,
		DefaultPriority:   PriorityHigh,
		EstimatedDuration: "10-15 minutes",
		Risk:              RiskMedium,
	},
	{
		Type:              TaskGasOptimization,
		Name:              "Gas Optimization",
		Category:          CategoryPerformanceOptimization,
		DefaultPriority:   PriorityMedium,
		EstimatedDuration: "5-10 minutes",
		Risk:              RiskLow,
	},
	{
		Type:              TaskPatternLearning,
		Name:              "Pattern Learning",
		Category:          CategoryLearningIntelligence,
		DefaultPriority:   PriorityMedium,
		EstimatedDuration: "30-45 minutes",
		Risk:              RiskLow,
	},
	{
		Type:              TaskOpportunityScan,
		Name:              "Opportunity Scan",
		Category:          CategoryMarketIntelligence,
		DefaultPriority:   PriorityCritical,
		EstimatedDuration: "5 minutes",
		Risk:              RiskHigh,
	},
	{
		Type:              TaskStrategyBacktest,
		Name:              "Strategy Backtest",
		Category:          CategoryLearningIntelligence,
		DefaultPriority:   PriorityLow,
		EstimatedDuration: "long",
		Risk:              RiskHigh,
	},
}

var builtinCooldowns = map[TaskType]time.Duration{
	TaskMarketResearch:     30 * time.Minute,
	TaskCompetitorAnalysis: 45 * time.Minute,
	TaskPerformanceTuning:  20 * time.Minute,
	TaskGasOptimization:    20 * time.Minute,
	TaskPatternLearning:    time.Hour,
	TaskOpportunityScan:    10 * time.Minute,
	TaskStrategyBacktest:   2 * time.Hour,
}

// Builtins returns a copy of the built-in definitions in catalog order.
func Builtins() []Definition {
	out := make([]Definition, len(builtins))
	copy(out, builtins)
	return out
}

// BuiltinDefinition looks up a built-in definition by type.
func BuiltinDefinition(t TaskType) (Definition, error) {
	for _, def := range builtins {
		if def.Type == t {
			return def, nil
		}
	}
	return Definition{}, fmt.Errorf("unknown task type: %s", t)
}

// DefaultCooldowns returns the built-in per-type cooldown table.
func DefaultCooldowns() map[TaskType]time.Duration {
	out := make(map[TaskType]time.Duration, len(builtinCooldowns))
	for k, v := range builtinCooldowns {
		out[k] = v
	}
	return out
}
