package console

import "testing"

func TestParse(t *testing.T) {
	tests := []struct {
		input string
		ok    bool
		name  string
		args  []string
	}{
		{input: "list", ok: false},
		{input: "say /hello", ok: false},
		{input: "/connect abc", ok: true, name: "connect", args: []string{"abc"}},
		{input: "  /LOG   20 ", ok: true, name: "log", args: []string{"20"}},
		{input: "/", ok: true, name: ""},
	}
	for _, tc := range tests {
		cmd, ok := Parse(tc.input)
		if ok != tc.ok {
			t.Fatalf("Parse(%q) ok = %v, want %v", tc.input, ok, tc.ok)
		}
		if !ok {
			continue
		}
		if cmd.Name != tc.name {
			t.Fatalf("Parse(%q) name = %q, want %q", tc.input, cmd.Name, tc.name)
		}
		if len(cmd.Args) != len(tc.args) {
			t.Fatalf("Parse(%q) args = %v, want %v", tc.input, cmd.Args, tc.args)
		}
		for i := range tc.args {
			if cmd.Arg(i) != tc.args[i] {
				t.Fatalf("Parse(%q) arg %d = %q, want %q", tc.input, i, cmd.Arg(i), tc.args[i])
			}
		}
	}
	if got := (Command{}).Arg(3); got != "" {
		t.Fatalf("expected empty arg, got %q", got)
	}
}
