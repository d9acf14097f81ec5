package core

import "strings"

const defaultHistoryMax = 200

// commandRing holds the most recent commands in a fixed ring. A command equal
// to the newest entry, or one that is only whitespace, is not recorded.
type commandRing struct {
	slots []string
	head  int // next write position
	size  int
}

func newCommandRing(capacity int) *commandRing {
	if capacity <= 0 {
		capacity = defaultHistoryMax
	}
	return &commandRing{slots: make([]string, capacity)}
}

// record stores cmd and reports whether it was kept.
func (r *commandRing) record(cmd string) bool {
	if strings.TrimSpace(cmd) == "" {
		return false
	}
	if last, ok := r.newest(); ok && last == cmd {
		return false
	}
	r.slots[r.head] = cmd
	r.head = (r.head + 1) % len(r.slots)
	if r.size < len(r.slots) {
		r.size++
	}
	return true
}

// seed records cmds oldest first, as if they had been sent in order.
func (r *commandRing) seed(cmds []string) {
	for _, cmd := range cmds {
		r.record(cmd)
	}
}

func (r *commandRing) newest() (string, bool) {
	if r.size == 0 {
		return "", false
	}
	return r.slots[(r.head-1+len(r.slots))%len(r.slots)], true
}

// list returns a copy, oldest first.
func (r *commandRing) list() []string {
	out := make([]string, 0, r.size)
	start := (r.head - r.size + len(r.slots)) % len(r.slots)
	for i := 0; i < r.size; i++ {
		out = append(out, r.slots[(start+i)%len(r.slots)])
	}
	return out
}
