package core

import (
	"testing"

	"pkt.systems/poiconsole/schema"
)

func TestTranscriptRespectsMaxLines(t *testing.T) {
	tr := newTranscript(3)
	tr.Append(lines("one", "two", "three", "four", "five")...)
	got := tr.Tail(10)
	if len(got) != 3 {
		t.Fatalf("expected 3 lines, got %d", len(got))
	}
	if got[0].Text != "three" || got[2].Text != "five" {
		t.Fatalf("unexpected lines: %+v", got)
	}
	if tr.Total() != 5 {
		t.Fatalf("expected total 5, got %d", tr.Total())
	}
}

func TestTranscriptTailLimit(t *testing.T) {
	tr := newTranscript(10)
	tr.Append(lines("one", "two", "three")...)
	got := tr.Tail(2)
	if len(got) != 2 || got[0].Text != "two" || got[1].Text != "three" {
		t.Fatalf("unexpected tail: %+v", got)
	}
	if all := tr.Tail(0); len(all) != 3 {
		t.Fatalf("expected all lines for limit 0, got %d", len(all))
	}
	got[0].Text = "mutated"
	if tr.Tail(2)[0].Text != "two" {
		t.Fatalf("expected tail to be a copy")
	}
}

func TestTranscriptDefaultLimit(t *testing.T) {
	tr := newTranscript(0)
	if tr.maxLines != defaultMaxLines {
		t.Fatalf("expected default max lines %d, got %d", defaultMaxLines, tr.maxLines)
	}
	if got := tr.Tail(5); len(got) != 0 {
		t.Fatalf("expected empty tail, got %+v", got)
	}
}

func TestCommandRingCollapsesDuplicatesAndBlank(t *testing.T) {
	r := newCommandRing(2)
	if got := r.list(); len(got) != 0 {
		t.Fatalf("expected empty ring, got %+v", got)
	}
	if !r.record("list") {
		t.Fatalf("expected first record")
	}
	if r.record("list") {
		t.Fatalf("expected duplicate to be ignored")
	}
	if r.record("   ") {
		t.Fatalf("expected blank to be ignored")
	}
	r.record("save-all")
	r.record("stop")
	got := r.list()
	if len(got) != 2 || got[0] != "save-all" || got[1] != "stop" {
		t.Fatalf("unexpected entries: %+v", got)
	}
	r.record("list")
	got = r.list()
	if len(got) != 2 || got[0] != "stop" || got[1] != "list" {
		t.Fatalf("unexpected entries after wrap: %+v", got)
	}
}

func lines(texts ...string) []schema.DisplayLine {
	out := make([]schema.DisplayLine, 0, len(texts))
	for _, text := range texts {
		out = append(out, schema.DisplayLine{Category: "bds", Text: text})
	}
	return out
}
