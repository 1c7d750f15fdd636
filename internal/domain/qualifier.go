package domain

// QualifierConfig defines a lead qualification rule.
type QualifierConfig struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Version     string `json:"version"`

	// CEL expression evaluated over lead fields
	Expression string `json:"expression"`

	// Outcome bands for score-to-signal mapping
	Bands []ScoreBand `json:"bands"`

	// Rule weight in the aggregate qualification score
	Weight float64 `json:"weight"`

	// Whether rule is active
	Enabled bool `json:"enabled"`
}

// ScoreBand maps a score range to a signal.
type ScoreBand struct {
	LowerLimit *float64 `json:"lowerLimit,omitempty"`
	UpperLimit *float64 `json:"upperLimit,omitempty"`
	Signal     string   `json:"signal"` // e.g., ".match", ".miss"
	Reason     string   `json:"reason"`
}

// QualifierResult is the output of a single qualifier evaluation.
type QualifierResult struct {
	QualifierID string  `json:"qualifierId"`
	Signal      string  `json:"signal"`
	Score       float64 `json:"score"`
	Reason      string  `json:"reason"`
	Weight      float64 `json:"weight"`
}

// Predefined qualifier signals
const (
	SignalMatch = ".match"
	SignalMiss  = ".miss"
	SignalError = ".err"
)

// Qualification tiers produced by the aggregate score.
const (
	TierHot  = "hot"
	TierWarm = "warm"
	TierCold = "cold"
)
