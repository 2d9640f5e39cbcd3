package personality

import (
	"fmt"
	"strings"

	"github.com/marcus/taskpilot/internal/tasks"
)

// Subject is the slice of a candidate the modulator looks at.
type Subject struct {
	Category          tasks.Category
	Risk              tasks.RiskLevel
	EstimatedDuration string
}

var categoryWeights = map[tasks.Category][]string{
	tasks.CategoryLearningIntelligence:    {WeightIntelligence},
	tasks.CategoryCompetitionAnalysis:     {WeightCompetitiveAdvantage, WeightCompetitionBeating},
	tasks.CategoryPerformanceOptimization: {WeightExecutionSpeed, WeightGasOptimization},
	tasks.CategoryMarketIntelligence:      {WeightPatternRecognition, WeightOpportunitySize},
}

// Modulate returns the multiplier the profile applies to a base score and
// one reason per rule that fired. Rules compose by multiplication.
func Modulate(p Profile, s Subject) (float64, []string) {
	mult := 1.0
	var reasons []string

	if names, ok := categoryWeights[s.Category]; ok {
		w := 1.0
		for _, n := range names {
			w *= p.Weight(n)
		}
		if w != 1.0 {
			mult *= w
			reasons = append(reasons, fmt.Sprintf("%s weight %.2f (%s)", s.Category, w, strings.Join(names, "×")))
		}
	}

	switch p.RiskProfile {
	case Conservative:
		switch s.Risk {
		case tasks.RiskHigh:
			mult *= 0.3
			reasons = append(reasons, "conservative profile avoids high risk ×0.30")
		case tasks.RiskLow:
			mult *= 1.2
			reasons = append(reasons, "conservative profile prefers low risk ×1.20")
		}
	case HighRewardAggressive:
		switch s.Risk {
		case tasks.RiskHigh:
			mult *= 1.8
			reasons = append(reasons, "aggressive profile seeks high risk ×1.80")
		case tasks.RiskLow:
			mult *= 0.7
			reasons = append(reasons, "aggressive profile discounts low risk ×0.70")
		}
	}

	if p.TimeHorizon == ImmediateExecution && isLongRunning(s.EstimatedDuration) {
		mult *= 0.4
		reasons = append(reasons, "immediate horizon penalizes long task ×0.40")
	}

	if p.LearningStyle == TechnicalOptimization && s.Category == tasks.CategoryPerformanceOptimization {
		mult *= 1.3
		reasons = append(reasons, "technical learning synergy ×1.30")
	}

	return mult, reasons
}

func isLongRunning(hint string) bool {
	h := strings.ToLower(hint)
	return strings.Contains(h, "30") || strings.Contains(h, "long")
}
