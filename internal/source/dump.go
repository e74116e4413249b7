// Package source reads decrypted message dumps: the JSONL files
// an external decrypt step produces from the account's chat
// databases. The index builder consumes them.
package source

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/tidwall/gjson"
)

// DumpDirName is the per-account subdirectory the decrypt step
// writes its JSONL output into.
const DumpDirName = "dumps"

// maxLineLen guards against a corrupt dump line ballooning the
// read buffer.
const maxLineLen = 1 << 20

// Dump is one discovered message dump file. Stem is the source
// database stem (e.g. "message_0", "biz_message_1"), which the
// scoring query uses to exclude broadcast-class sources.
type Dump struct {
	Path string
	Stem string
}

// Message is one parsed dump line.
type Message struct {
	ConversationID string
	SenderID       string
	CreateTime     int64
	SortSeq        int64
	LocalID        int64
	LocalType      int64
}

// Discover lists the account's dump files sorted by name.
// A missing dump directory is not an error; it just means the
// decrypt step has not run yet.
func Discover(accountDir string) []Dump {
	dir := filepath.Join(accountDir, DumpDirName)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}

	var dumps []Dump
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		stem, ok := strings.CutSuffix(name, ".jsonl")
		if !ok {
			continue
		}
		dumps = append(dumps, Dump{
			Path: filepath.Join(dir, name),
			Stem: stem,
		})
	}
	sort.Slice(dumps, func(i, j int) bool {
		return dumps[i].Path < dumps[j].Path
	})
	return dumps
}

// ParseDump reads one dump file and returns its valid messages.
// Lines that are not valid JSON, lack a conversation id, or
// carry a non-positive timestamp are skipped individually.
func ParseDump(path string) ([]Message, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening dump %s: %w", path, err)
	}
	defer f.Close()

	var msgs []Message
	lr := newLineReader(f, maxLineLen)
	for {
		line, ok := lr.next()
		if !ok {
			break
		}
		if !gjson.Valid(line) {
			continue
		}
		m := Message{
			ConversationID: gjson.Get(line, "username").Str,
			SenderID:       gjson.Get(line, "sender_username").Str,
			CreateTime:     gjson.Get(line, "create_time").Int(),
			SortSeq:        gjson.Get(line, "sort_seq").Int(),
			LocalID:        gjson.Get(line, "local_id").Int(),
			LocalType:      gjson.Get(line, "local_type").Int(),
		}
		if m.ConversationID == "" || m.CreateTime <= 0 {
			continue
		}
		if m.LocalType == 0 {
			m.LocalType = 1
		}
		msgs = append(msgs, m)
	}
	if n := lr.skipped(); n > 0 {
		log.Printf("dump %s: dropped %d corrupt oversized line(s)", path, n)
	}
	return msgs, nil
}
