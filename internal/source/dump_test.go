package source

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeDumpFile(t *testing.T, accountDir, name, content string) string {
	t.Helper()
	dir := filepath.Join(accountDir, DumpDirName)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDiscoverSortsAndFilters(t *testing.T) {
	dir := t.TempDir()
	writeDumpFile(t, dir, "message_1.jsonl", "")
	writeDumpFile(t, dir, "message_0.jsonl", "")
	writeDumpFile(t, dir, "biz_message_0.jsonl", "")
	writeDumpFile(t, dir, "notes.txt", "")
	require.NoError(t, os.MkdirAll(
		filepath.Join(dir, DumpDirName, "nested.jsonl"), 0o755))

	dumps := Discover(dir)
	require.Len(t, dumps, 3)
	assert.Equal(t, "biz_message_0", dumps[0].Stem)
	assert.Equal(t, "message_0", dumps[1].Stem)
	assert.Equal(t, "message_1", dumps[2].Stem)
}

func TestDiscoverMissingDirIsEmpty(t *testing.T) {
	assert.Nil(t, Discover(t.TempDir()))
}

func TestParseDump(t *testing.T) {
	dir := t.TempDir()
	path := writeDumpFile(t, dir, "message_0.jsonl", strings.Join([]string{
		`{"username":"wxid_a","sender_username":"wxid_me","create_time":1717240000,"sort_seq":1717240000000,"local_id":7,"local_type":1}`,
		`{"username":"wxid_a","sender_username":"wxid_a","create_time":1717240060}`,
		``,
		`not json`,
		`{"sender_username":"wxid_a","create_time":1717240120}`,
		`{"username":"wxid_a","create_time":0}`,
		`{"username":"wxid_b","create_time":1717240180,"local_type":10000}`,
	}, "\n"))

	msgs, err := ParseDump(path)
	require.NoError(t, err)
	require.Len(t, msgs, 3)

	assert.Equal(t, Message{
		ConversationID: "wxid_a",
		SenderID:       "wxid_me",
		CreateTime:     1717240000,
		SortSeq:        1717240000000,
		LocalID:        7,
		LocalType:      1,
	}, msgs[0])

	// A missing local_type defaults to the plain text type.
	assert.Equal(t, int64(1), msgs[1].LocalType)
	assert.Equal(t, "", msgs[1].SenderID)

	// Non-text types are kept; the query layer filters them.
	assert.Equal(t, int64(10000), msgs[2].LocalType)
}

func TestParseDumpSkipsOversizedLines(t *testing.T) {
	dir := t.TempDir()
	huge := `{"username":"wxid_big","create_time":1717240000,"pad":"` +
		strings.Repeat("x", maxLineLen) + `"}`
	path := writeDumpFile(t, dir, "message_0.jsonl",
		huge+"\n"+`{"username":"wxid_a","create_time":1717240060}`+"\n")

	msgs, err := ParseDump(path)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "wxid_a", msgs[0].ConversationID)
}

func TestParseDumpMissingFile(t *testing.T) {
	_, err := ParseDump(filepath.Join(t.TempDir(), "absent.jsonl"))
	assert.Error(t, err)
}

func TestLineReaderDropsAndCountsCorruptLines(t *testing.T) {
	input := strings.Join([]string{
		"first",
		strings.Repeat("x", 40),
		"",
		strings.Repeat("y", 40),
		"last",
	}, "\n")
	lr := newLineReader(strings.NewReader(input), 16)

	var lines []string
	for {
		line, ok := lr.next()
		if !ok {
			break
		}
		lines = append(lines, line)
	}
	assert.Equal(t, []string{"first", "last"}, lines)
	assert.Equal(t, 2, lr.skipped())
}
