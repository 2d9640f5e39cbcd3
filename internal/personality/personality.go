// Package personality derives an agent's fixed decision-making profile from
// configuration and applies it to candidate scores.
package personality

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/marcus/taskpilot/internal/config"
)

// RiskProfile is the agent's tolerance for risky tasks.
type RiskProfile string

const (
	Conservative         RiskProfile = "CONSERVATIVE"
	Balanced             RiskProfile = "BALANCED"
	CalculatedAggressive RiskProfile = "CALCULATED_AGGRESSIVE"
	HighRewardAggressive RiskProfile = "HIGH_REWARD_AGGRESSIVE"
)

// TimeHorizon is how far ahead the agent plans.
type TimeHorizon string

const (
	ImmediateExecution TimeHorizon = "IMMEDIATE_EXECUTION"
	ShortTerm          TimeHorizon = "SHORT_TERM"
	MediumTerm         TimeHorizon = "MEDIUM_TERM"
	LongTerm           TimeHorizon = "LONG_TERM"
)

// LearningStyle is how the agent prefers to improve.
type LearningStyle string

const (
	TechnicalOptimization LearningStyle = "TECHNICAL_OPTIMIZATION"
	PatternRecognition    LearningStyle = "PATTERN_RECOGNITION"
	Analytical            LearningStyle = "ANALYTICAL"
	Experimental          LearningStyle = "EXPERIMENTAL"
)

// Parse errors.
var (
	ErrUnknownRiskProfile   = errors.New("unknown risk profile")
	ErrUnknownTimeHorizon   = errors.New("unknown time horizon")
	ErrUnknownLearningStyle = errors.New("unknown learning style")
	ErrInvalidWeight        = errors.New("strategic weights must be positive")
)

// Strategic weight names.
const (
	WeightIntelligence         = "intelligence"
	WeightCompetitiveAdvantage = "competitive_advantage"
	WeightCompetitionBeating   = "competition_beating"
	WeightExecutionSpeed       = "execution_speed"
	WeightGasOptimization      = "gas_optimization"
	WeightPatternRecognition   = "pattern_recognition"
	WeightOpportunitySize      = "opportunity_size"
)

// Profile is an agent's immutable personality.
type Profile struct {
	DisplayName         string
	RiskProfile         RiskProfile
	TimeHorizon         TimeHorizon
	LearningStyle       LearningStyle
	CompetitionApproach string
	StrategicWeights    map[string]float64
}

// Weight returns a strategic weight, defaulting to 1.0 when unset.
func (p Profile) Weight(name string) float64 {
	if w, ok := p.StrategicWeights[name]; ok {
		return w
	}
	return 1.0
}

// Derive builds a profile from agent configuration. Empty fields take the
// neutral defaults: BALANCED, MEDIUM_TERM, ANALYTICAL.
func Derive(agent config.AgentConfig) (Profile, error) {
	pc := agent.Personality

	risk, err := ParseRiskProfile(pc.RiskProfile)
	if err != nil {
		return Profile{}, err
	}
	horizon, err := ParseTimeHorizon(pc.TimeHorizon)
	if err != nil {
		return Profile{}, err
	}
	style, err := ParseLearningStyle(pc.LearningStyle)
	if err != nil {
		return Profile{}, err
	}

	weights := make(map[string]float64, len(pc.StrategicWeights))
	for name, w := range pc.StrategicWeights {
		if w <= 0 {
			return Profile{}, fmt.Errorf("%w: %s=%v", ErrInvalidWeight, name, w)
		}
		weights[strings.ToLower(name)] = w
	}

	name := agent.Name
	if name == "" {
		name = agent.ID
	}

	return Profile{
		DisplayName:         name,
		RiskProfile:         risk,
		TimeHorizon:         horizon,
		LearningStyle:       style,
		CompetitionApproach: normalize(pc.CompetitionApproach),
		StrategicWeights:    weights,
	}, nil
}

// ParseRiskProfile accepts any case and '-' or ' ' separators.
func ParseRiskProfile(s string) (RiskProfile, error) {
	switch r := RiskProfile(normalize(s)); r {
	case "":
		return Balanced, nil
	case Conservative, Balanced, CalculatedAggressive, HighRewardAggressive:
		return r, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownRiskProfile, s)
	}
}

// ParseTimeHorizon accepts any case and '-' or ' ' separators.
func ParseTimeHorizon(s string) (TimeHorizon, error) {
	switch h := TimeHorizon(normalize(s)); h {
	case "":
		return MediumTerm, nil
	case ImmediateExecution, ShortTerm, MediumTerm, LongTerm:
		return h, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownTimeHorizon, s)
	}
}

// ParseLearningStyle accepts any case and '-' or ' ' separators.
func ParseLearningStyle(s string) (LearningStyle, error) {
	switch l := LearningStyle(normalize(s)); l {
	case "":
		return Analytical, nil
	case TechnicalOptimization, PatternRecognition, Analytical, Experimental:
		return l, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownLearningStyle, s)
	}
}

func normalize(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	return strings.NewReplacer("-", "_", " ", "_").Replace(s)
}

// Acceptance thresholds by risk profile.
const (
	ThresholdConservative = 0.6
	ThresholdHighReward   = 0.25
	ThresholdDefault      = 0.4
)

// Threshold returns the minimum final score a candidate needs to be accepted.
func (p Profile) Threshold() float64 {
	switch p.RiskProfile {
	case Conservative:
		return ThresholdConservative
	case HighRewardAggressive:
		return ThresholdHighReward
	default:
		return ThresholdDefault
	}
}

var riskIntervalFactor = map[RiskProfile]float64{
	Conservative:         1.5,
	Balanced:             1.0,
	CalculatedAggressive: 0.8,
	HighRewardAggressive: 0.6,
}

var horizonIntervalFactor = map[TimeHorizon]float64{
	ImmediateExecution: 0.5,
	ShortTerm:          0.75,
	MediumTerm:         1.0,
	LongTerm:           1.5,
}

// Interval derives the agent's selection-cycle interval: base scaled by the
// risk and horizon factors, never below floor.
func (p Profile) Interval(base, floor time.Duration) time.Duration {
	rf, ok := riskIntervalFactor[p.RiskProfile]
	if !ok {
		rf = 1.0
	}
	hf, ok := horizonIntervalFactor[p.TimeHorizon]
	if !ok {
		hf = 1.0
	}

	d := time.Duration(float64(base) * rf * hf).Round(time.Second)
	if d < floor {
		d = floor
	}
	if d < time.Second {
		d = time.Second
	}
	return d
}
