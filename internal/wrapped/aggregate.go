package wrapped

import (
	"math/bits"
	"sort"
	"time"
)

// MonthStats accumulates one conversation's activity within one
// calendar month. Day-of-month presence and time-of-day coverage
// are both bitmasks so a stats record stays copy-cheap.
type MonthStats struct {
	ConversationID      string
	Month               int
	Incoming            int
	Outgoing            int
	Replies             int
	SumGapSeconds       int64
	SumGapCappedSeconds int64

	dayMask    uint32 // bits 1..31, day of month
	bucketMask uint8  // 4 bits, one per 6-hour window
}

// Total is the combined message count for the month.
func (s *MonthStats) Total() int { return s.Incoming + s.Outgoing }

// Interaction is the bidirectional floor: min(incoming, outgoing).
func (s *MonthStats) Interaction() int {
	return min(s.Incoming, s.Outgoing)
}

// ActiveDays counts distinct days of the month with activity.
func (s *MonthStats) ActiveDays() int {
	return bits.OnesCount32(s.dayMask)
}

// TimeBuckets counts how many of the four 6-hour day windows saw
// at least one message.
func (s *MonthStats) TimeBuckets() int {
	return bits.OnesCount8(s.bucketMask & 0xF)
}

// AvgReplySeconds is the mean incoming-to-outgoing reply gap.
// Zero when there were no replies.
func (s *MonthStats) AvgReplySeconds() float64 {
	if s.Replies <= 0 {
		return 0
	}
	return float64(s.SumGapSeconds) / float64(s.Replies)
}

// AvgReplySecondsCapped is the mean reply gap with each gap
// clamped at the configured cap, bounding the influence of rare
// very late replies.
func (s *MonthStats) AvgReplySecondsCapped() float64 {
	if s.Replies <= 0 {
		return 0
	}
	return float64(s.SumGapCappedSeconds) / float64(s.Replies)
}

// observe records day-of-month and time-bucket presence.
func (s *MonthStats) observe(day, hour int) {
	if day >= 1 && day <= 31 {
		s.dayMask |= 1 << uint(day)
	}
	bucket := hour / 6
	if bucket < 0 {
		bucket = 0
	}
	if bucket > 3 {
		bucket = 3
	}
	s.bucketMask |= 1 << uint(bucket)
}

// MonthPool holds the flushed per-month aggregates for one
// aggregation pass. Index 1..12; index 0 is unused.
type MonthPool [13][]*MonthStats

// Aggregate runs the single forward pass over events, producing
// one MonthStats per (conversation, month) pair with any
// activity. selfID identifies the account owner's messages;
// loc is the timezone used to derive month/day/hour (nil means
// the process-local zone, matching how timestamps were written).
//
// The pass requires events grouped by conversation and ordered
// by (timestamp, sortSeq, localID) within each group. Rather
// than trust the caller, the slice is sorted here: an unsorted
// input would silently split conversations into undercounted
// fragments, which is far worse than the cost of a re-sort over
// already-ordered data.
func Aggregate(events []Event, selfID string, gapCapSeconds int64, loc *time.Location) MonthPool {
	if loc == nil {
		loc = time.Local
	}

	sort.Slice(events, func(i, j int) bool {
		a, b := events[i], events[j]
		if a.ConversationID != b.ConversationID {
			return a.ConversationID < b.ConversationID
		}
		if a.Timestamp != b.Timestamp {
			return a.Timestamp < b.Timestamp
		}
		if a.SortSeq != b.SortSeq {
			return a.SortSeq < b.SortSeq
		}
		return a.LocalID < b.LocalID
	})

	var pool MonthPool

	// Conversation-scoped state, reset at each boundary.
	currentConv := ""
	inProgress := make(map[int]*MonthStats)
	var pendingOtherTS int64
	havePending := false

	flush := func() {
		for m, agg := range inProgress {
			if m >= 1 && m <= 12 && agg.Total() > 0 {
				pool[m] = append(pool[m], agg)
			}
		}
		inProgress = make(map[int]*MonthStats)
		havePending = false
	}

	for _, ev := range events {
		// Malformed rows are skipped, never fatal.
		if ev.ConversationID == "" || ev.Timestamp <= 0 {
			continue
		}

		if ev.ConversationID != currentConv {
			flush()
			currentConv = ev.ConversationID
		}

		t := time.Unix(ev.Timestamp, 0).In(loc)
		month := int(t.Month())

		agg := inProgress[month]
		if agg == nil {
			agg = &MonthStats{
				ConversationID: ev.ConversationID,
				Month:          month,
			}
			inProgress[month] = agg
		}
		agg.observe(t.Day(), t.Hour())

		if ev.SenderID == selfID {
			agg.Outgoing++
			// Only the first outgoing message after a pending
			// incoming one earns a reply credit.
			if havePending && ev.Timestamp >= pendingOtherTS {
				gap := ev.Timestamp - pendingOtherTS
				agg.Replies++
				agg.SumGapSeconds += gap
				agg.SumGapCappedSeconds += min(gap, gapCapSeconds)
				havePending = false
			}
		} else {
			agg.Incoming++
			// Only the most recent un-replied incoming message
			// is tracked.
			pendingOtherTS = ev.Timestamp
			havePending = true
		}
	}
	flush()

	return pool
}
