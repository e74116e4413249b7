package wrapped

import "math"

// Breakdown is the per-component score for one aggregate. All
// values live in [0, 1].
type Breakdown struct {
	Interaction float64 `json:"interactionScore"`
	Speed       float64 `json:"speedScore"`
	Continuity  float64 `json:"continuityScore"`
	Coverage    float64 `json:"coverageScore"`
	Final       float64 `json:"finalScore"`
}

// valid reports whether every component is a finite number.
// A non-finite score excludes the aggregate from ranking rather
// than failing the month.
func (b Breakdown) valid() bool {
	for _, v := range []float64{
		b.Interaction, b.Speed, b.Continuity, b.Coverage, b.Final,
	} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// score normalizes one aggregate against the month's maxima.
//
// Interaction uses log scaling for diminishing returns on raw
// volume. Speed is reciprocal decay in the capped average reply
// gap; an aggregate with zero replies gets avg 0 and therefore
// the maximal speed score of 1. That quirk is inherited policy:
// eligibility requires at least one reply, so it cannot decide a
// winner, but it does show up in raw breakdowns.
func score(s *MonthStats, maxInteraction, maxActiveDays int, set Settings) Breakdown {
	maxI := max(1, maxInteraction)
	maxD := max(1, maxActiveDays)
	tau := math.Max(1, set.TauSeconds)

	var b Breakdown
	b.Interaction = math.Log1p(float64(s.Interaction())) /
		math.Log1p(float64(maxI))
	b.Speed = 1.0 / (1.0 + s.AvgReplySecondsCapped()/tau)
	b.Continuity = float64(s.ActiveDays()) / float64(maxD)
	b.Coverage = float64(s.TimeBuckets()) / 4.0
	b.Final = set.Weights.Interaction*b.Interaction +
		set.Weights.Speed*b.Speed +
		set.Weights.Continuity*b.Continuity +
		set.Weights.Coverage*b.Coverage
	return b
}
