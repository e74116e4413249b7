package wrapped

import "context"

// Event is one message drawn from the chat index. Events are
// transient: they feed exactly one aggregation pass and are
// never retained afterwards.
type Event struct {
	ConversationID string
	SenderID       string
	Timestamp      int64 // epoch seconds
	SortSeq        int64
	LocalID        int64
}

// EventSource supplies the year-scoped event stream. The index
// package implements it; tests substitute slices.
type EventSource interface {
	// EventsForYear returns all message events for the account's
	// target year, with broadcast conversations and system-notice
	// messages already excluded.
	EventsForYear(ctx context.Context, year int) ([]Event, error)
}
