package core

import "pkt.systems/poiconsole/schema"

const defaultMaxLines = 1000

// transcript stores the most recent display lines of a session.
type transcript struct {
	lines    []schema.DisplayLine
	maxLines int
	total    int
}

func newTranscript(maxLines int) *transcript {
	if maxLines <= 0 {
		maxLines = defaultMaxLines
	}
	return &transcript{maxLines: maxLines}
}

// Append adds lines, trimming the oldest past the limit.
func (t *transcript) Append(lines ...schema.DisplayLine) {
	if len(lines) == 0 {
		return
	}
	t.lines = append(t.lines, lines...)
	t.total += len(lines)
	if len(t.lines) > t.maxLines {
		trim := len(t.lines) - t.maxLines
		t.lines = append([]schema.DisplayLine(nil), t.lines[trim:]...)
	}
}

// Tail returns up to limit of the newest lines, oldest first. limit <= 0
// returns everything retained.
func (t *transcript) Tail(limit int) []schema.DisplayLine {
	total := len(t.lines)
	if limit <= 0 || limit > total {
		limit = total
	}
	out := make([]schema.DisplayLine, limit)
	copy(out, t.lines[total-limit:])
	return out
}

// Total reports how many lines were ever appended, including trimmed ones.
func (t *transcript) Total() int {
	return t.total
}
