package chat

import (
	"reflect"
	"testing"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		input string
		n     int
		ok    bool
		want  command
	}{
		{input: "/help", ok: true, want: command{Name: "help"}},
		{input: "/REACT abc123 🔥", n: 2, ok: true, want: command{Name: "react", Args: []string{"abc123", "🔥"}}},
		{input: "/edit abc123 new body text ", n: 1, ok: true, want: command{Name: "edit", Args: []string{"abc123"}, Rest: "new body text"}},
		{input: "/search foo  bar", n: 0, ok: true, want: command{Name: "search", Rest: "foo  bar"}},
		{input: "/retry", n: 1, ok: true, want: command{Name: "retry"}},
		{input: "hello /help", ok: false},
		{input: "//not a command", ok: false},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, ok := parseCommand(tt.input, tt.n)
			if ok != tt.ok {
				t.Fatalf("parseCommand(%q) ok = %v, want %v", tt.input, ok, tt.ok)
			}
			if ok && !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("parseCommand(%q) = %+v, want %+v", tt.input, got, tt.want)
			}
		})
	}
}

func TestTruncateNotification(t *testing.T) {
	tests := []struct {
		input  string
		maxLen int
		want   string
	}{
		{"short", 10, "short"},
		{"collapse   the\n\nwhitespace", 100, "collapse the whitespace"},
		{"0123456789abc", 10, "012345678…"},
		{"héllo wörld", 6, "héllo…"},
	}
	for _, tt := range tests {
		if got := truncateNotification(tt.input, tt.maxLen); got != tt.want {
			t.Errorf("truncateNotification(%q, %d) = %q, want %q", tt.input, tt.maxLen, got, tt.want)
		}
	}
}
