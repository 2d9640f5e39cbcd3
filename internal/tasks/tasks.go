// Package tasks defines the candidate task catalog: task descriptors,
// evaluation-time metadata, and the runnable contract the engine executes.
package tasks

import (
	"context"
	"fmt"
	"strings"
)

// TaskType is the stable identifier of a kind of background task.
type TaskType string

// Category groups tasks for strategic weighting.
type Category int

const (
	CategoryLearningIntelligence Category = iota
	CategoryCompetitionAnalysis
	CategoryPerformanceOptimization
	CategoryMarketIntelligence
	CategoryMaintenance
)

var categoryNames = map[Category]string{
	CategoryLearningIntelligence:    "learning-intelligence",
	CategoryCompetitionAnalysis:     "competition-analysis",
	CategoryPerformanceOptimization: "performance-optimization",
	CategoryMarketIntelligence:      "market-intelligence",
	CategoryMaintenance:             "maintenance",
}

func (c Category) String() string {
	if s, ok := categoryNames[c]; ok {
		return s
	}
	return "unknown"
}

// Priority is the urgency tier of a task.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityMedium
	PriorityHigh
	PriorityCritical
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityMedium:
		return "medium"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// ParsePriority parses a priority name.
func ParsePriority(s string) (Priority, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low":
		return PriorityLow, nil
	case "medium":
		return PriorityMedium, nil
	case "high":
		return PriorityHigh, nil
	case "critical":
		return PriorityCritical, nil
	default:
		return PriorityLow, fmt.Errorf("unknown priority %q", s)
	}
}

// RiskLevel is the downside risk of running a task.
type RiskLevel int

const (
	RiskLow RiskLevel = iota
	RiskMedium
	RiskHigh
)

func (r RiskLevel) String() string {
	switch r {
	case RiskLow:
		return "low"
	case RiskMedium:
		return "medium"
	case RiskHigh:
		return "high"
	default:
		return "unknown"
	}
}

// ParseRiskLevel parses a risk level name.
func ParseRiskLevel(s string) (RiskLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low":
		return RiskLow, nil
	case "medium":
		return RiskMedium, nil
	case "high":
		return RiskHigh, nil
	default:
		return RiskLow, fmt.Errorf("unknown risk level %q", s)
	}
}

// Definition describes a catalog task. Definitions are immutable.
type Definition struct {
	Type              TaskType
	Name              string
	Category          Category
	DefaultPriority   Priority
	EstimatedDuration string // free-form hint, e.g. "20-30 minutes" or "long"
	Risk              RiskLevel
}

// Metadata is the evaluation-time description of a task.
type Metadata struct {
	Priority          Priority
	EstimatedDuration string
	ValueScore        float64 // [0,1]
	Risk              RiskLevel
}

// DefaultMetadata derives metadata purely from the definition.
func DefaultMetadata(def Definition) Metadata {
	return Metadata{
		Priority:          def.DefaultPriority,
		EstimatedDuration: def.EstimatedDuration,
		ValueScore:        0.5,
		Risk:              def.Risk,
	}
}

// Result is what a task run reports back.
type Result struct {
	Success         bool               `json:"success"`
	Insights        []string           `json:"insights,omitempty"`
	Value           *float64           `json:"value,omitempty"`
	LearningMetrics map[string]float64 `json:"learning_metrics,omitempty"`
}

// Runnable is a loaded task implementation.
type Runnable interface {
	Run(ctx context.Context) (*Result, error)
}

// MetadataProvider is implemented by runnables that can describe themselves.
type MetadataProvider interface {
	Metadata(ctx context.Context) (Metadata, error)
}

// Factory produces a fresh Runnable for one evaluation or execution.
type Factory func() (Runnable, error)

// Outcome is what learning collaborators are told after a task runs.
type Outcome struct {
	TaskType TaskType
	Success  bool
	Value    float64
	Insights []string
}

// OutcomeRecorder is implemented by collaborators that learn from outcomes.
type OutcomeRecorder interface {
	RecordOutcome(ctx context.Context, agentID string, o Outcome) error
}
