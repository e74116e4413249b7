package wrapped

import (
	"math"
	"sort"
)

// Winner identifies the best-friend conversation for one month.
type Winner struct {
	ConversationID string    `json:"conversationId"`
	Score          float64   `json:"score"`
	Score100       float64   `json:"score100"`
	Breakdown      Breakdown `json:"scoreBreakdown"`
}

// RawStats exposes the winning aggregate's underlying counters.
type RawStats struct {
	IncomingMessages      int     `json:"incomingMessages"`
	OutgoingMessages      int     `json:"outgoingMessages"`
	TotalMessages         int     `json:"totalMessages"`
	Interaction           int     `json:"interaction"`
	ReplyCount            int     `json:"replyCount"`
	AvgReplySeconds       float64 `json:"avgReplySeconds"`
	AvgReplySecondsCapped float64 `json:"avgReplySecondsCapped"`
	ActiveDays            int     `json:"activeDays"`
	TimeBucketsCount      int     `json:"timeBucketsCount"`
}

// ReasonInsufficientData marks a month with no eligible
// conversation.
const ReasonInsufficientData = "insufficient_data"

// MonthResult is one month's decision. Winner, Raw, and Reason
// are mutually exclusive with each other being nil/empty.
type MonthResult struct {
	Month  int       `json:"month"`
	Winner *Winner   `json:"winner"`
	Raw    *RawStats `json:"raw"`
	Reason string    `json:"reason,omitempty"`
}

// Champion is the conversation with the most monthly wins.
type Champion struct {
	ConversationID string `json:"conversationId"`
	MonthsWon      int    `json:"monthsWon"`
}

// YearSummary rolls the twelve decisions up.
type YearSummary struct {
	MonthsWithWinner int       `json:"monthsWithWinner"`
	TopChampion      *Champion `json:"topChampion"`
	FilledMonths     []int     `json:"filledMonths"`
}

// ReportSettings echoes the policy the report was computed with,
// plus index usage for diagnostics.
type ReportSettings struct {
	Weights       Weights     `json:"weights"`
	TauSeconds    float64     `json:"tauSeconds"`
	GapCapSeconds int64       `json:"gapCapSeconds"`
	Eligibility   Eligibility `json:"eligibility"`
	UsedIndex     bool        `json:"usedIndex"`
	IndexStatus   any         `json:"indexStatus"`
}

// Report is the full year result.
type Report struct {
	Year     int            `json:"year"`
	Months   []MonthResult  `json:"months"`
	Summary  YearSummary    `json:"summary"`
	Settings ReportSettings `json:"settings"`
}

// Compose selects the twelve month winners from an aggregated
// pool and assembles the year report.
func Compose(year int, pool MonthPool, set Settings, usedIndex bool, indexStatus any) Report {
	months := make([]MonthResult, 0, 12)
	winCounts := make(map[string]int)
	filled := []int{} // always a list in JSON, even when empty

	for m := 1; m <= 12; m++ {
		w := pickWinner(pool[m], set)
		if w == nil {
			months = append(months, MonthResult{
				Month:  m,
				Reason: ReasonInsufficientData,
			})
			continue
		}

		s := w.stats
		months = append(months, MonthResult{
			Month: m,
			Winner: &Winner{
				ConversationID: s.ConversationID,
				Score:          w.score.Final,
				Score100:       round1(w.score.Final * 100),
				Breakdown:      w.score,
			},
			Raw: &RawStats{
				IncomingMessages:      s.Incoming,
				OutgoingMessages:      s.Outgoing,
				TotalMessages:         s.Total(),
				Interaction:           s.Interaction(),
				ReplyCount:            s.Replies,
				AvgReplySeconds:       s.AvgReplySeconds(),
				AvgReplySecondsCapped: s.AvgReplySecondsCapped(),
				ActiveDays:            s.ActiveDays(),
				TimeBucketsCount:      s.TimeBuckets(),
			},
		})
		winCounts[s.ConversationID]++
		filled = append(filled, m)
	}

	var champion *Champion
	if len(winCounts) > 0 {
		ids := make([]string, 0, len(winCounts))
		for id := range winCounts {
			ids = append(ids, id)
		}
		// Most wins first; lexicographic ID breaks ties.
		sort.Slice(ids, func(i, j int) bool {
			if winCounts[ids[i]] != winCounts[ids[j]] {
				return winCounts[ids[i]] > winCounts[ids[j]]
			}
			return ids[i] < ids[j]
		})
		champion = &Champion{
			ConversationID: ids[0],
			MonthsWon:      winCounts[ids[0]],
		}
	}

	return Report{
		Year:   year,
		Months: months,
		Summary: YearSummary{
			MonthsWithWinner: len(filled),
			TopChampion:      champion,
			FilledMonths:     filled,
		},
		Settings: ReportSettings{
			Weights:       set.Weights,
			TauSeconds:    set.TauSeconds,
			GapCapSeconds: set.GapCapSeconds,
			Eligibility:   set.Eligibility,
			UsedIndex:     usedIndex,
			IndexStatus:   indexStatus,
		},
	}
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
