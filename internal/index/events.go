package index

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/mxie/chatwrapped/internal/wrapped"
)

// tsExpr normalizes create_time values that were written in
// milliseconds down to epoch seconds.
const tsExpr = `CASE WHEN create_time > 1000000000000
	THEN create_time / 1000 ELSE create_time END`

// yearRange returns the [start, next) epoch-second bounds of a
// calendar year in loc.
func yearRange(year int, loc *time.Location) (int64, int64) {
	start := time.Date(year, time.January, 1, 0, 0, 0, 0, loc)
	return start.Unix(), start.AddDate(1, 0, 0).Unix()
}

// EventsForYear returns the year's message events ordered by
// (conversation, timestamp, sort sequence, local id), with
// broadcast-sourced rows, chatroom conversations, and the
// system-notice message type excluded. Individual malformed rows
// are skipped rather than failing the query.
func (ix *Index) EventsForYear(ctx context.Context, year int) ([]wrapped.Event, error) {
	loc := ix.Loc
	if loc == nil {
		loc = time.Local
	}
	start, end := yearRange(year, loc)

	query := `SELECT conversation_id, sender_id, ` + tsExpr + ` AS ts,
			sort_seq, local_id
		FROM messages
		WHERE ` + tsExpr + ` >= ? AND ` + tsExpr + ` < ?
			AND source_stem NOT LIKE 'biz_%'
			AND local_type != 10000
			AND conversation_id NOT LIKE '%@chatroom'
		ORDER BY conversation_id ASC, ts ASC, sort_seq ASC, local_id ASC`

	rows, err := ix.reader.QueryContext(ctx, query, start, end)
	if err != nil {
		return nil, fmt.Errorf("querying year events: %w", err)
	}
	defer rows.Close()

	var events []wrapped.Event
	for rows.Next() {
		var conv, sender sql.NullString
		var ts, sortSeq, localID sql.NullInt64
		if err := rows.Scan(&conv, &sender, &ts, &sortSeq, &localID); err != nil {
			continue // malformed row, skip
		}
		if conv.String == "" || ts.Int64 <= 0 {
			continue
		}
		events = append(events, wrapped.Event{
			ConversationID: conv.String,
			SenderID:       sender.String,
			Timestamp:      ts.Int64,
			SortSeq:        sortSeq.Int64,
			LocalID:        localID.Int64,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating year events: %w", err)
	}
	return events, nil
}
