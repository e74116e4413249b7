package index

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/mxie/chatwrapped/internal/source"
)

// Progress describes how far an index build has advanced.
type Progress struct {
	Phase     Phase  `json:"phase"`
	Dumps     int    `json:"dumps"`
	DumpsDone int    `json:"dumpsDone"`
	Rows      int64  `json:"rows"`
	Current   string `json:"current,omitempty"`
}

// Phase is a coarse build stage for progress reporting.
type Phase string

const (
	PhaseStarting   Phase = "starting"
	PhaseDecrypting Phase = "decrypting"
	PhaseIndexing   Phase = "indexing"
	PhaseDone       Phase = "done"
	PhaseError      Phase = "error"
)

// insertBatchSize bounds rows per transaction during a build.
const insertBatchSize = 2000

// buildTimeout bounds a whole build including decryption.
const buildTimeout = 30 * time.Minute

// runBuild executes one index build to completion and records
// the terminal state. It runs on its own goroutine.
func (m *Manager) runBuild(account string, rebuild bool) {
	ctx, cancel := context.WithTimeout(context.Background(), buildTimeout)
	defer cancel()

	start := time.Now()
	err := m.build(ctx, account, rebuild)
	if err == nil {
		log.Printf("index build for %s finished in %s", account, time.Since(start).Round(time.Millisecond))
	}
	m.finishBuild(account, err)
}

func (m *Manager) build(ctx context.Context, account string, rebuild bool) error {
	dir := m.AccountDir(account)
	if _, err := os.Stat(dir); err != nil {
		return fmt.Errorf("account dir: %w", err)
	}

	if m.decryptCmd != "" {
		m.publish(account, Progress{Phase: PhaseDecrypting})
		if err := source.RunDecrypt(ctx, m.decryptCmd, dir); err != nil {
			return fmt.Errorf("decrypt: %w", err)
		}
	}

	dumps := source.Discover(dir)
	if len(dumps) == 0 {
		return fmt.Errorf("no dumps found in %s", dir)
	}

	ix, err := Open(Path(dir))
	if err != nil {
		return fmt.Errorf("open index: %w", err)
	}
	defer ix.Close()

	if rebuild {
		if err := ix.Reset(); err != nil {
			return fmt.Errorf("reset index: %w", err)
		}
	}

	p := Progress{Phase: PhaseIndexing, Dumps: len(dumps)}
	m.publish(account, p)

	for _, d := range dumps {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		p.Current = d.Stem
		m.publish(account, p)

		msgs, err := source.ParseDump(d.Path)
		if err != nil {
			// A single unreadable dump does not fail the
			// build; the rest of the data still indexes.
			log.Printf("skipping dump %s: %v", d.Path, err)
			p.DumpsDone++
			continue
		}

		rows := make([]Row, 0, insertBatchSize)
		flush := func() error {
			if len(rows) == 0 {
				return nil
			}
			if err := ix.InsertRows(rows); err != nil {
				return err
			}
			p.Rows += int64(len(rows))
			m.publish(account, p)
			rows = rows[:0]
			return nil
		}
		for _, msg := range msgs {
			rows = append(rows, Row{
				ConversationID: msg.ConversationID,
				SenderID:       msg.SenderID,
				CreateTime:     msg.CreateTime,
				SortSeq:        msg.SortSeq,
				LocalID:        msg.LocalID,
				LocalType:      msg.LocalType,
				SourceStem:     d.Stem,
			})
			if len(rows) >= insertBatchSize {
				if err := flush(); err != nil {
					return fmt.Errorf("insert rows from %s: %w", d.Stem, err)
				}
			}
		}
		if err := flush(); err != nil {
			return fmt.Errorf("insert rows from %s: %w", d.Stem, err)
		}
		p.DumpsDone++
		m.publish(account, p)
	}

	if err := ix.SetReady(); err != nil {
		return fmt.Errorf("mark ready: %w", err)
	}
	p.Current = ""
	m.publish(account, p)
	return nil
}
