package compute

import (
	"github.com/machineguard/machineguard/pkg/types"
)

// Default penalty table.
const (
	DefaultAnomalyPenalty  = 20
	DefaultMediumPenalty   = 5
	DefaultHighPenalty     = 15
	DefaultCriticalPenalty = 30
)

// Default band thresholds (inclusive lower bounds).
const (
	ThresholdGood = 80
	ThresholdFair = 60
	ThresholdPoor = 40
)

// Recommendation templates, one per band.
const (
	RecommendGood     = "Equipment operating normally"
	RecommendFair     = "Monitor closely, no immediate action needed"
	RecommendPoor     = "Anomalies detected, schedule maintenance"
	RecommendCritical = "Immediate action required"
)

// Penalties is the score deduction table.
type Penalties struct {
	// Anomaly is deducted once per anomaly record.
	Anomaly int
	// Risk is deducted once per prediction, by its risk.
	Risk map[types.Risk]int
}

// Bands holds the inclusive lower score bound of each non-critical band.
type Bands struct {
	Good int
	Fair int
	Poor int
}

// Scorer computes scores with a configurable penalty table and bands.
type Scorer struct {
	Penalties Penalties
	Bands     Bands
}

// DefaultScorer returns a Scorer with the stock penalties and bands.
func DefaultScorer() Scorer {
	return Scorer{
		Penalties: Penalties{
			Anomaly: DefaultAnomalyPenalty,
			Risk: map[types.Risk]int{
				types.RiskMedium:   DefaultMediumPenalty,
				types.RiskHigh:     DefaultHighPenalty,
				types.RiskCritical: DefaultCriticalPenalty,
			},
		},
		Bands: Bands{Good: ThresholdGood, Fair: ThresholdFair, Poor: ThresholdPoor},
	}
}

// Input holds what a reading contributed to its score.
type Input struct {
	Anomalies int
	Risks     []types.Risk
}

// Output is the result of a score calculation.
type Output struct {
	Score          int
	Band           types.Band
	Recommendation string
}

// Compute scores in with the default Scorer.
func Compute(in Input) Output {
	return DefaultScorer().Compute(in)
}

// Compute calculates the health score, band and recommendation.
// Unknown risks contribute no penalty.
func (s Scorer) Compute(in Input) Output {
	score := 100 - s.Penalties.Anomaly*in.Anomalies
	for _, r := range in.Risks {
		score -= s.Penalties.Risk[r]
	}
	score = clamp(score, 0, 100)

	band := s.bandFromScore(score)
	return Output{
		Score:          score,
		Band:           band,
		Recommendation: Recommendation(band),
	}
}

// bandFromScore maps a numeric score to a band.
func (s Scorer) bandFromScore(score int) types.Band {
	switch {
	case score >= s.Bands.Good:
		return types.BandGood
	case score >= s.Bands.Fair:
		return types.BandFair
	case score >= s.Bands.Poor:
		return types.BandPoor
	default:
		return types.BandCritical
	}
}

// Recommendation returns the fixed recommendation text for b.
func Recommendation(b types.Band) string {
	switch b {
	case types.BandGood:
		return RecommendGood
	case types.BandFair:
		return RecommendFair
	case types.BandPoor:
		return RecommendPoor
	default:
		return RecommendCritical
	}
}

// clamp restricts v to [lo, hi].
func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
