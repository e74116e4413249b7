package wrapped

import (
	"fmt"
	"math"

	"github.com/go-playground/validator/v10"
)

// Weights are the fixed mixing factors for the four score
// components. They must sum to 1.
type Weights struct {
	Interaction float64 `json:"interaction" validate:"gte=0,lte=1"`
	Speed       float64 `json:"speed" validate:"gte=0,lte=1"`
	Continuity  float64 `json:"continuity" validate:"gte=0,lte=1"`
	Coverage    float64 `json:"coverage" validate:"gte=0,lte=1"`
}

// Eligibility is the minimum activity a conversation must show
// in a month before it can compete for that month's award.
type Eligibility struct {
	MinTotalMessages int `json:"minTotalMessages" validate:"gte=1"`
	MinInteraction   int `json:"minInteraction" validate:"gte=0"`
	MinReplyCount    int `json:"minReplyCount" validate:"gte=0"`
	MinActiveDays    int `json:"minActiveDays" validate:"gte=1"`
}

// Settings holds the scoring policy constants. The defaults are
// the product policy; Validate guards against a config layer
// feeding the engine nonsense.
type Settings struct {
	Weights       Weights     `json:"weights"`
	TauSeconds    float64     `json:"tauSeconds" validate:"gt=0"`
	GapCapSeconds int64       `json:"gapCapSeconds" validate:"gt=0"`
	Eligibility   Eligibility `json:"eligibility"`
}

// DefaultSettings returns the fixed policy used in production.
func DefaultSettings() Settings {
	return Settings{
		Weights: Weights{
			Interaction: 0.40,
			Speed:       0.30,
			Continuity:  0.20,
			Coverage:    0.10,
		},
		TauSeconds:    30 * 60,
		GapCapSeconds: 6 * 60 * 60,
		Eligibility: Eligibility{
			MinTotalMessages: 8,
			MinInteraction:   3,
			MinReplyCount:    1,
			MinActiveDays:    2,
		},
	}
}

var validate = validator.New()

// Validate checks field ranges and that the weights sum to 1.
func (s Settings) Validate() error {
	if err := validate.Struct(s); err != nil {
		return fmt.Errorf("validating settings: %w", err)
	}
	sum := s.Weights.Interaction + s.Weights.Speed +
		s.Weights.Continuity + s.Weights.Coverage
	if math.Abs(sum-1.0) > 1e-9 {
		return fmt.Errorf("weights sum to %v, want 1", sum)
	}
	return nil
}
