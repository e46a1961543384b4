package core

import (
	"testing"

	"github.com/adamavenir/huddle/internal/types"
)

func TestExtractMentions(t *testing.T) {
	body := "hey @Alice and @bob. email test@test.com @all @alice again"
	mentions := ExtractMentions(body)

	want := []string{"alice", "bob", "all"}
	if len(mentions) != len(want) {
		t.Fatalf("expected %v, got %v", want, mentions)
	}
	for i := range want {
		if mentions[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, mentions)
		}
	}
}

func TestShouldNotify(t *testing.T) {
	cases := []struct {
		name string
		msg  types.Message
		want bool
	}{
		{name: "mention", msg: types.Message{Author: "bob", Body: "ping @alice"}, want: true},
		{name: "all", msg: types.Message{Author: "bob", Body: "@everyone lunch"}, want: true},
		{name: "reply", msg: types.Message{Author: "bob", Body: "yes", ReplyPreview: &types.ReplyPreview{Author: "alice"}}, want: true},
		{name: "own message", msg: types.Message{Author: "alice", Body: "@alice note to self"}, want: false},
		{name: "deleted", msg: types.Message{Author: "bob", Body: "@alice", Deleted: true}, want: false},
		{name: "unrelated", msg: types.Message{Author: "bob", Body: "hello"}, want: false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ShouldNotify(tc.msg, "alice"); got != tc.want {
				t.Fatalf("ShouldNotify = %v, want %v", got, tc.want)
			}
		})
	}
}
