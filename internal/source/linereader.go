package source

import (
	"bufio"
	"io"
)

const initialBufSize = 64 * 1024

// lineReader walks a dump file line by line. Dumps are
// machine-written JSONL, so a line longer than maxLen means the
// decrypt step produced a corrupt record; such lines are counted
// and dropped so one bad record cannot abort a whole dump.
type lineReader struct {
	r       *bufio.Reader
	maxLen  int
	buf     []byte
	dropped int
}

func newLineReader(r io.Reader, maxLen int) *lineReader {
	return &lineReader{
		r:      bufio.NewReaderSize(r, initialBufSize),
		maxLen: maxLen,
		buf:    make([]byte, 0, initialBufSize),
	}
}

// skipped reports how many oversized lines were dropped so far.
func (lr *lineReader) skipped() int {
	return lr.dropped
}

// next returns the next line that fits within maxLen, without
// its trailing newline. Blank lines are passed over; oversized
// lines are dropped and counted. ok is false at end of input.
func (lr *lineReader) next() (line string, ok bool) {
	lr.buf = lr.buf[:0]
	tooLong := false

	for {
		chunk, isPrefix, err := lr.r.ReadLine()
		if err != nil {
			return "", false
		}

		if !tooLong {
			lr.buf = append(lr.buf, chunk...)
			if len(lr.buf) > lr.maxLen {
				tooLong = true
			}
		}
		if isPrefix {
			continue
		}

		// Reached the end of a physical line.
		switch {
		case tooLong:
			lr.dropped++
			lr.buf = lr.buf[:0]
			tooLong = false
		case len(lr.buf) == 0:
			// blank line
		default:
			return string(lr.buf), true
		}
	}
}
