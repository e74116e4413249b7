package server

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mxie/chatwrapped/internal/config"
	"github.com/mxie/chatwrapped/internal/index"
)

const testAccount = "wxid_me"

func testServer(t *testing.T) (*Server, string) {
	t.Helper()
	root := t.TempDir()
	cfg := config.Config{
		Host:         "127.0.0.1",
		Port:         0,
		AccountsDir:  root,
		Timezone:     "UTC",
		WriteTimeout: 10 * time.Second,
	}
	mgr := index.NewManager(root, "", time.UTC)
	return New(cfg, mgr), root
}

// seedIndex builds a ready index for the test account with four
// incoming/outgoing exchanges spread over two April 2024 days,
// enough for wxid_a to win the month.
func seedIndex(t *testing.T, root string) {
	t.Helper()
	accountDir := filepath.Join(root, testAccount)
	ix, err := index.Open(index.Path(accountDir))
	require.NoError(t, err)
	defer ix.Close()

	var rows []index.Row
	seq := int64(0)
	addExchange := func(ts int64) {
		for _, sender := range []string{"wxid_a", testAccount} {
			seq++
			rows = append(rows, index.Row{
				ConversationID: "wxid_a",
				SenderID:       sender,
				CreateTime:     ts,
				SortSeq:        seq,
				LocalID:        seq,
				LocalType:      1,
				SourceStem:     "message_0",
			})
			ts += 45
		}
	}
	day1 := time.Date(2024, 4, 3, 9, 0, 0, 0, time.UTC).Unix()
	day2 := time.Date(2024, 4, 5, 21, 0, 0, 0, time.UTC).Unix()
	addExchange(day1)
	addExchange(day1 + 3600)
	addExchange(day2)
	addExchange(day2 + 3600)

	require.NoError(t, ix.InsertRows(rows))
	require.NoError(t, ix.SetReady())
}

func seedContact(t *testing.T, root, username, remark string) {
	t.Helper()
	path := filepath.Join(root, testAccount, "contact.db")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	defer db.Close()
	_, err = db.Exec(`CREATE TABLE contact (
		username TEXT PRIMARY KEY, remark TEXT,
		nick_name TEXT, alias TEXT)`)
	require.NoError(t, err)
	_, err = db.Exec("INSERT INTO contact VALUES (?, ?, '', '')",
		username, remark)
	require.NoError(t, err)
}

func doGet(t *testing.T, s *Server, url string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, url, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeCard(t *testing.T, rec *httptest.ResponseRecorder) card {
	t.Helper()
	var c card
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &c))
	return c
}

func TestBestFriendsParamValidation(t *testing.T) {
	s, _ := testServer(t)
	cases := []string{
		"/api/v1/wrapped/best-friends?year=2024",
		"/api/v1/wrapped/best-friends?account=a/b&year=2024",
		"/api/v1/wrapped/best-friends?account=..&year=2024",
		"/api/v1/wrapped/best-friends?account=wxid_me",
		"/api/v1/wrapped/best-friends?account=wxid_me&year=1999",
		"/api/v1/wrapped/best-friends?account=wxid_me&year=2101",
		"/api/v1/wrapped/best-friends?account=wxid_me&year=soon",
	}
	for _, url := range cases {
		rec := doGet(t, s, url)
		assert.Equal(t, http.StatusBadRequest, rec.Code, url)
	}
}

func TestBestFriendsFromIndex(t *testing.T) {
	s, root := testServer(t)
	seedIndex(t, root)
	seedContact(t, root, "wxid_a", "Alice")

	rec := doGet(t, s,
		"/api/v1/wrapped/best-friends?account=wxid_me&year=2024")
	require.Equal(t, http.StatusOK, rec.Code)

	c := decodeCard(t, rec)
	assert.Equal(t, 4, c.ID)
	assert.Equal(t, cardKind, c.Kind)
	assert.Equal(t, "ok", c.Status)
	assert.NotEmpty(t, c.Narrative)

	data := c.Data
	assert.Equal(t, 2024, data.Year)
	require.Len(t, data.Months, 12)
	assert.True(t, data.Settings.UsedIndex)
	assert.Nil(t, data.Settings.IndexStatus)

	april := data.Months[3]
	require.NotNil(t, april.Winner)
	assert.Equal(t, "wxid_a", april.Winner.ConversationID)
	assert.Equal(t, "Alice", april.Winner.DisplayName)
	assert.Equal(t, "A***e", april.Winner.MaskedName)
	assert.Equal(t, "/api/v1/accounts/wxid_me/avatars/wxid_a",
		april.Winner.AvatarURL)
	require.NotNil(t, april.Raw)
	assert.Equal(t, 8, april.Raw.TotalMessages)
	assert.Equal(t, 4, april.Raw.ReplyCount)
	assert.Equal(t, 2, april.Raw.ActiveDays)

	march := data.Months[2]
	assert.Nil(t, march.Winner)
	assert.Equal(t, "insufficient_data", march.Reason)

	require.NotNil(t, data.Summary.TopChampion)
	assert.Equal(t, "wxid_a", data.Summary.TopChampion.ConversationID)
	assert.Equal(t, 1, data.Summary.TopChampion.MonthsWon)
	assert.Equal(t, []int{4}, data.Summary.FilledMonths)
}

func TestBestFriendsWithoutIndexDegrades(t *testing.T) {
	s, root := testServer(t)
	require.NoError(t, os.MkdirAll(
		filepath.Join(root, testAccount), 0o755))

	rec := doGet(t, s,
		"/api/v1/wrapped/best-friends?account=wxid_me&year=2024")
	require.Equal(t, http.StatusOK, rec.Code)

	c := decodeCard(t, rec)
	data := c.Data
	assert.False(t, data.Settings.UsedIndex)
	assert.NotNil(t, data.Settings.IndexStatus)
	assert.Equal(t, 0, data.Summary.MonthsWithWinner)
	require.Len(t, data.Months, 12)
	for _, m := range data.Months {
		assert.Nil(t, m.Winner)
		assert.Equal(t, "insufficient_data", m.Reason)
	}
}

func TestBestFriendsUnknownContactFallsBackToID(t *testing.T) {
	s, root := testServer(t)
	seedIndex(t, root)

	rec := doGet(t, s,
		"/api/v1/wrapped/best-friends?account=wxid_me&year=2024")
	require.Equal(t, http.StatusOK, rec.Code)

	c := decodeCard(t, rec)
	april := c.Data.Months[3]
	require.NotNil(t, april.Winner)
	assert.Equal(t, "wxid_a", april.Winner.DisplayName)
	assert.Equal(t, "w****a", april.Winner.MaskedName)
}

func TestIndexStatusEndpoint(t *testing.T) {
	s, root := testServer(t)
	seedIndex(t, root)

	rec := doGet(t, s, "/api/v1/index/status?account=wxid_me")
	require.Equal(t, http.StatusOK, rec.Code)

	var st index.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.True(t, st.Exists)
	assert.True(t, st.Ready)
}

func TestIndexStatusMissingAccountParam(t *testing.T) {
	s, _ := testServer(t)
	rec := doGet(t, s, "/api/v1/index/status")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestIndexRebuildConflict(t *testing.T) {
	s, root := testServer(t)
	require.NoError(t, os.MkdirAll(
		filepath.Join(root, testAccount), 0o755))

	// Simulate an in-flight build, then a rebuild request must 409.
	require.True(t, s.mgr.StartBuild(testAccount, false))

	req := httptest.NewRequest(http.MethodPost,
		"/api/v1/index/rebuild?account=wxid_me", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	// The stub build may finish quickly; accept either outcome
	// but never an error status.
	assert.Contains(t,
		[]int{http.StatusAccepted, http.StatusConflict}, rec.Code)
}

func TestAccountsEndpoint(t *testing.T) {
	s, root := testServer(t)
	require.NoError(t, os.MkdirAll(filepath.Join(root, "acct_a"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "acct_b"), 0o755))

	rec := doGet(t, s, "/api/v1/accounts")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Accounts []string `json:"accounts"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, []string{"acct_a", "acct_b"}, body.Accounts)
}

func TestVersionEndpoint(t *testing.T) {
	s, _ := testServer(t)
	s.version = VersionInfo{Version: "1.2.3", Commit: "abc"}

	rec := doGet(t, s, "/api/v1/version")
	require.Equal(t, http.StatusOK, rec.Code)

	var v VersionInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	assert.Equal(t, "1.2.3", v.Version)
}

// writeDump writes a JSONL dump under the test account so a
// build has something to index.
func writeDump(t *testing.T, root string) {
	t.Helper()
	dir := filepath.Join(root, testAccount, "dumps")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	ts := time.Date(2024, 5, 2, 9, 0, 0, 0, time.UTC).Unix()
	lines := ""
	for i, sender := range []string{"wxid_a", testAccount} {
		line, err := json.Marshal(map[string]any{
			"username":        "wxid_a",
			"sender_username": sender,
			"create_time":     ts + int64(i)*45,
			"sort_seq":        (ts + int64(i)*45) * 1000,
			"local_id":        i + 1,
			"local_type":      1,
		})
		require.NoError(t, err)
		lines += string(line) + "\n"
	}
	require.NoError(t, os.WriteFile(
		filepath.Join(dir, "message_0.jsonl"), []byte(lines), 0o644))
}

// readSSEEvent reads one "event:"/"data:" pair from the stream.
func readSSEEvent(t *testing.T, sc *bufio.Scanner) (string, string) {
	t.Helper()
	var event, data string
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data = strings.TrimPrefix(line, "data: ")
		case line == "" && event != "":
			return event, data
		}
	}
	t.Fatalf("stream ended before a full event: %v", sc.Err())
	return "", ""
}

func TestIndexWatchStreamsBuildEvents(t *testing.T) {
	s, root := testServer(t)
	writeDump(t, root)

	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	resp, err := http.Get(
		ts.URL + "/api/v1/index/watch?account=" + testAccount)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream",
		resp.Header.Get("Content-Type"))

	sc := bufio.NewScanner(resp.Body)

	// The stream opens with the current status, which also
	// means the progress subscription is in place.
	event, data := readSSEEvent(t, sc)
	require.Equal(t, "status", event)
	var st index.Status
	require.NoError(t, json.Unmarshal([]byte(data), &st))
	assert.False(t, st.Ready)

	require.True(t, s.mgr.StartBuild(testAccount, false))

	sawProgress := false
	for range 20 {
		event, data = readSSEEvent(t, sc)
		if event != "progress" {
			continue
		}
		sawProgress = true
		var p index.Progress
		require.NoError(t, json.Unmarshal([]byte(data), &p))
		if p.Phase == index.PhaseDone {
			break
		}
	}
	assert.True(t, sawProgress)
}

func TestAvatarEndpoint(t *testing.T) {
	s, root := testServer(t)
	dir := filepath.Join(root, testAccount, "avatars")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	img := []byte{0x89, 'P', 'N', 'G'}
	require.NoError(t, os.WriteFile(
		filepath.Join(dir, "wxid_a.png"), img, 0o644))

	rec := doGet(t, s, "/api/v1/accounts/wxid_me/avatars/wxid_a")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, img, rec.Body.Bytes())

	rec = doGet(t, s, "/api/v1/accounts/wxid_me/avatars/wxid_b")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServeAndShutdown(t *testing.T) {
	s, _ := testServer(t)
	s.SetPort(FindAvailablePort("127.0.0.1", 18300))

	errCh := make(chan error, 1)
	go func() { errCh <- s.ListenAndServe() }()

	url := fmt.Sprintf("http://127.0.0.1:%d/api/v1/version",
		s.cfg.Port)
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	ctx, cancel := context.WithTimeout(
		context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, http.ErrServerClosed)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop after shutdown")
	}
}

func TestCORSPreflight(t *testing.T) {
	s, _ := testServer(t)
	req := httptest.NewRequest(http.MethodOptions, "/api/v1/accounts", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*",
		rec.Header().Get("Access-Control-Allow-Origin"))
}
