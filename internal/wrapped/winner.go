package wrapped

import "sort"

// scoredStats pairs an aggregate with its computed breakdown for
// ranking.
type scoredStats struct {
	stats *MonthStats
	score Breakdown
}

// eligible filters a month's pool down to aggregates that clear
// the minimum-activity thresholds.
func eligible(aggs []*MonthStats, e Eligibility) []*MonthStats {
	var out []*MonthStats
	for _, a := range aggs {
		if a.Total() < e.MinTotalMessages {
			continue
		}
		if a.Interaction() < e.MinInteraction {
			continue
		}
		if a.Replies < e.MinReplyCount {
			continue
		}
		if a.ActiveDays() < e.MinActiveDays {
			continue
		}
		out = append(out, a)
	}
	return out
}

// pickWinner scores every eligible aggregate for one month and
// returns the top-ranked one. The ranking tuple
// (-final, -interaction, avgCappedGap, -activeDays, conversationID)
// is a total order given unique conversation IDs, so ties are
// deterministic. Returns nil when nothing is eligible.
func pickWinner(aggs []*MonthStats, set Settings) *scoredStats {
	el := eligible(aggs, set.Eligibility)
	if len(el) == 0 {
		return nil
	}

	maxInteraction := 0
	maxActiveDays := 0
	for _, a := range el {
		maxInteraction = max(maxInteraction, a.Interaction())
		maxActiveDays = max(maxActiveDays, a.ActiveDays())
	}

	scored := make([]scoredStats, 0, len(el))
	for _, a := range el {
		b := score(a, maxInteraction, maxActiveDays, set)
		if !b.valid() {
			// Fail-soft: a bad score drops the aggregate,
			// never the month.
			continue
		}
		scored = append(scored, scoredStats{stats: a, score: b})
	}
	if len(scored) == 0 {
		return nil
	}

	sort.Slice(scored, func(i, j int) bool {
		a, b := scored[i], scored[j]
		if a.score.Final != b.score.Final {
			return a.score.Final > b.score.Final
		}
		if a.stats.Interaction() != b.stats.Interaction() {
			return a.stats.Interaction() > b.stats.Interaction()
		}
		ga, gb := a.stats.AvgReplySecondsCapped(), b.stats.AvgReplySecondsCapped()
		if ga != gb {
			return ga < gb
		}
		if a.stats.ActiveDays() != b.stats.ActiveDays() {
			return a.stats.ActiveDays() > b.stats.ActiveDays()
		}
		return a.stats.ConversationID < b.stats.ConversationID
	})
	return &scored[0]
}
