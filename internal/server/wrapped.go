package server

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/mxie/chatwrapped/internal/contact"
	"github.com/mxie/chatwrapped/internal/wrapped"
)

// Year bounds accepted by the report endpoints.
const (
	minYear = 2000
	maxYear = 2100
)

// cardKind identifies this card in the wrapped deck.
const cardKind = "chat/monthly_best_friends_wall"

// winnerView is a month winner enriched with contact info.
type winnerView struct {
	wrapped.Winner
	DisplayName string `json:"displayName"`
	MaskedName  string `json:"maskedName"`
	AvatarURL   string `json:"avatarUrl"`
}

// monthView mirrors wrapped.MonthResult with the enriched winner.
type monthView struct {
	Month  int               `json:"month"`
	Winner *winnerView       `json:"winner"`
	Raw    *wrapped.RawStats `json:"raw"`
	Reason string            `json:"reason,omitempty"`
}

// championView is the year champion enriched with contact info.
type championView struct {
	wrapped.Champion
	DisplayName string `json:"displayName"`
	MaskedName  string `json:"maskedName"`
}

type summaryView struct {
	MonthsWithWinner int           `json:"monthsWithWinner"`
	TopChampion      *championView `json:"topChampion"`
	FilledMonths     []int         `json:"filledMonths"`
}

type reportView struct {
	Year     int                    `json:"year"`
	Months   []monthView            `json:"months"`
	Summary  summaryView            `json:"summary"`
	Settings wrapped.ReportSettings `json:"settings"`
}

// card is the envelope the frontend deck renders.
type card struct {
	ID        int        `json:"id"`
	Title     string     `json:"title"`
	Scope     string     `json:"scope"`
	Category  string     `json:"category"`
	Status    string     `json:"status"`
	Kind      string     `json:"kind"`
	Narrative string     `json:"narrative"`
	Data      reportView `json:"data"`
}

// parseAccount validates the account query parameter. Account
// ids are directory names, so anything path-like is rejected.
func parseAccount(r *http.Request) (string, error) {
	account := strings.TrimSpace(r.URL.Query().Get("account"))
	if account == "" {
		return "", fmt.Errorf("missing account parameter")
	}
	if strings.ContainsAny(account, "/\\") || account == "." || account == ".." {
		return "", fmt.Errorf("invalid account %q", account)
	}
	return account, nil
}

func parseYear(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("year")
	year, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid year %q", raw)
	}
	if year < minYear || year > maxYear {
		return 0, fmt.Errorf("year %d out of range [%d, %d]", year, minYear, maxYear)
	}
	return year, nil
}

// handleBestFriends computes the monthly best friends wall for
// one account and year. Index problems degrade to an empty
// report with the index status attached; they never 500.
func (s *Server) handleBestFriends(w http.ResponseWriter, r *http.Request) {
	account, err := parseAccount(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	year, err := parseYear(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var pool wrapped.MonthPool
	usedIndex := false

	if ix, ok := s.mgr.OpenForQuery(account); ok {
		events, qerr := ix.EventsForYear(r.Context(), year)
		ix.Close()
		if qerr != nil {
			if isCanceled(qerr) {
				return
			}
		} else {
			usedIndex = true
			pool = wrapped.Aggregate(
				events, account, s.set.GapCapSeconds, s.cfg.Location(),
			)
		}
	}

	var indexStatus any
	if !usedIndex {
		st := s.mgr.Gate(account)
		indexStatus = st
	}

	report := wrapped.Compose(year, pool, s.set, usedIndex, indexStatus)
	writeJSON(w, http.StatusOK, s.buildCard(account, report))
}

// buildCard enriches a report with contact names and wraps it in
// the deck envelope.
func (s *Server) buildCard(account string, report wrapped.Report) card {
	var ids []string
	seen := make(map[string]bool)
	for _, m := range report.Months {
		if m.Winner != nil && !seen[m.Winner.ConversationID] {
			seen[m.Winner.ConversationID] = true
			ids = append(ids, m.Winner.ConversationID)
		}
	}
	contacts := contact.Load(s.mgr.AccountDir(account), ids)

	displayFor := func(id string) string {
		if row, ok := contacts[id]; ok {
			return row.DisplayName(id)
		}
		return id
	}

	view := reportView{
		Year:     report.Year,
		Settings: report.Settings,
		Summary: summaryView{
			MonthsWithWinner: report.Summary.MonthsWithWinner,
			FilledMonths:     report.Summary.FilledMonths,
		},
	}
	for _, m := range report.Months {
		mv := monthView{Month: m.Month, Raw: m.Raw, Reason: m.Reason}
		if m.Winner != nil {
			display := displayFor(m.Winner.ConversationID)
			mv.Winner = &winnerView{
				Winner:      *m.Winner,
				DisplayName: display,
				MaskedName:  contact.MaskName(display),
				AvatarURL:   contact.AvatarURL(account, m.Winner.ConversationID),
			}
		}
		view.Months = append(view.Months, mv)
	}
	if ch := report.Summary.TopChampion; ch != nil {
		display := displayFor(ch.ConversationID)
		view.Summary.TopChampion = &championView{
			Champion:    *ch,
			DisplayName: display,
			MaskedName:  contact.MaskName(display),
		}
	}

	return card{
		ID:        4,
		Title:     "The friends who filled your year",
		Scope:     "global",
		Category:  "B",
		Status:    "ok",
		Kind:      cardKind,
		Narrative: narrative(view),
		Data:      view,
	}
}

// narrative summarizes the year in one sentence.
func narrative(view reportView) string {
	switch {
	case view.Summary.MonthsWithWinner <= 0:
		return "Not enough chat activity this year to crown monthly " +
			"best friends (or the message index is still building)."
	case view.Summary.TopChampion != nil && view.Summary.TopChampion.DisplayName != "":
		ch := view.Summary.TopChampion
		return fmt.Sprintf(
			"%s took best friend honors in %d month(s); the two of "+
				"you kept a steady rhythm all year.",
			ch.DisplayName, ch.MonthsWon,
		)
	default:
		return fmt.Sprintf(
			"%d month(s) of the year had a clear best friend.",
			view.Summary.MonthsWithWinner,
		)
	}
}
