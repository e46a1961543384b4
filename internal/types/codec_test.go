package types

import (
	"encoding/json"
	"testing"
	"time"
)

func TestMessageDecodesLegacyFields(t *testing.T) {
	raw := `{
		"id": "msg-abc12345",
		"user": "alice",
		"txt": "hello there",
		"replyId": "msg-parent01",
		"reply": "original text",
		"file": "https://example.test/media/cat.png",
		"isImg": true,
		"createdAt": {"seconds": 1700000000, "nanoseconds": 0},
		"reactions": {"👍": ["bob", "carol"], "🔥": ["bob"]}
	}`

	var msg Message
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if msg.Author != "alice" {
		t.Fatalf("expected author alice, got %q", msg.Author)
	}
	if msg.Body != "hello there" {
		t.Fatalf("expected legacy txt body, got %q", msg.Body)
	}
	if msg.ParentID != "msg-parent01" {
		t.Fatalf("expected parent from replyId, got %q", msg.ParentID)
	}
	if msg.ReplyPreview == nil || msg.ReplyPreview.Body != "original text" {
		t.Fatalf("expected reply preview from legacy reply, got %+v", msg.ReplyPreview)
	}
	if msg.Attachment == nil || msg.Attachment.Kind != AttachmentImage || msg.Attachment.URL == "" {
		t.Fatalf("expected legacy image attachment, got %+v", msg.Attachment)
	}
	if !msg.CreatedAt.Equal(time.Unix(1700000000, 0)) {
		t.Fatalf("unexpected createdAt %v", msg.CreatedAt)
	}
	if msg.Reactions["bob"] != "🔥" || msg.Reactions["carol"] != "👍" {
		t.Fatalf("unexpected reactions %v", msg.Reactions)
	}
}

func TestMessageRoundTripDropsClientStatus(t *testing.T) {
	edited := time.UnixMilli(1700000005000)
	msg := Message{
		ID:        "msg-abc12345",
		ClientID:  "tmp-1",
		Author:    "alice",
		Body:      "hi",
		CreatedAt: time.UnixMilli(1700000000000),
		Edited:    true,
		EditedAt:  &edited,
		Reactions: map[string]string{"bob": "👍"},
		Status:    StatusPending,
	}
	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded Message
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.Status != StatusConfirmed {
		t.Fatalf("status must not survive serialization, got %s", decoded.Status)
	}
	if decoded.ClientID != "tmp-1" || decoded.Reactions["bob"] != "👍" {
		t.Fatalf("unexpected decoded message %+v", decoded)
	}
	if decoded.EditedAt == nil || !decoded.EditedAt.Equal(edited) {
		t.Fatalf("unexpected editedAt %v", decoded.EditedAt)
	}
}

func TestMessageInlineThumbnailWinsOverURL(t *testing.T) {
	raw := `{"id":"m1","attachment":{"kind":"image","url":"https://x","thumbnail":"data:image/jpeg;base64,AAA="}}`
	var msg Message
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if msg.Attachment.URL != "" || !msg.Attachment.Inline() {
		t.Fatalf("expected inline-only attachment, got %+v", msg.Attachment)
	}
}

func TestMalformedReactionsDegrade(t *testing.T) {
	raw := `{"id":"m1","body":"x","reactions":42,"createdAt":"garbage"}`
	var msg Message
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if msg.Reactions != nil {
		t.Fatalf("expected nil reactions, got %v", msg.Reactions)
	}
	if !msg.CreatedAt.IsZero() {
		t.Fatalf("expected zero createdAt, got %v", msg.CreatedAt)
	}
}

func TestPatchApplyTo(t *testing.T) {
	msg := Message{
		ID:         "m1",
		ParentID:   "p1",
		Body:       "foo",
		Attachment: &Attachment{Kind: AttachmentFile, URL: "u"},
		Reactions:  map[string]string{"alice": "👍", "bob": "🔥"},
	}
	body := "foo bar"
	deleted := true
	Patch{
		Body:            &body,
		ClearAttachment: true,
		Deleted:         &deleted,
		SetReactions:    map[string]string{"carol": "🎉"},
		UnsetReactions:  []string{"alice"},
		AddSeenBy:       "dave",
	}.ApplyTo(&msg)

	if msg.Body != "foo bar" || msg.Attachment != nil || !msg.Deleted {
		t.Fatalf("unexpected message after patch: %+v", msg)
	}
	if _, ok := msg.Reactions["alice"]; ok {
		t.Fatalf("alice reaction should be removed: %v", msg.Reactions)
	}
	if msg.Reactions["carol"] != "🎉" || msg.Reactions["bob"] != "🔥" {
		t.Fatalf("unexpected reactions: %v", msg.Reactions)
	}
	if msg.ParentID != "p1" {
		t.Fatalf("parent must be immutable, got %q", msg.ParentID)
	}

	Patch{AddSeenBy: "dave"}.ApplyTo(&msg)
	if len(msg.SeenBy) != 1 {
		t.Fatalf("seenBy must be a set, got %v", msg.SeenBy)
	}
}

func TestMalformedOptionalFieldsDegrade(t *testing.T) {
	cases := []struct {
		name  string
		raw   string
		check func(t *testing.T, msg Message)
	}{
		{
			name: "legacy editedAt",
			raw:  `{"id":"m1","body":"x","edited":true,"editedAt":{"seconds":1700000005,"nanoseconds":0}}`,
			check: func(t *testing.T, msg Message) {
				if msg.EditedAt == nil || !msg.EditedAt.Equal(time.Unix(1700000005, 0)) {
					t.Fatalf("unexpected editedAt %v", msg.EditedAt)
				}
			},
		},
		{
			name: "seenBy string",
			raw:  `{"id":"m1","body":"x","seenBy":"bob"}`,
			check: func(t *testing.T, msg Message) {
				if msg.SeenBy != nil || msg.Body != "x" {
					t.Fatalf("unexpected message %+v", msg)
				}
			},
		},
		{
			name: "seenBy mixed",
			raw:  `{"id":"m1","seenBy":["bob",3,null,"carol"]}`,
			check: func(t *testing.T, msg Message) {
				if len(msg.SeenBy) != 2 || msg.SeenBy[0] != "bob" || msg.SeenBy[1] != "carol" {
					t.Fatalf("unexpected seenBy %v", msg.SeenBy)
				}
			},
		},
		{
			name: "attachment string",
			raw:  `{"id":"m1","body":"x","attachment":"cat.png"}`,
			check: func(t *testing.T, msg Message) {
				if msg.Attachment != nil {
					t.Fatalf("expected no attachment, got %+v", msg.Attachment)
				}
			},
		},
		{
			name: "attachment bad size",
			raw:  `{"id":"m1","attachment":{"kind":"image","url":"https://x","size":"big"}}`,
			check: func(t *testing.T, msg Message) {
				if msg.Attachment == nil || msg.Attachment.URL != "https://x" || msg.Attachment.Size != 0 {
					t.Fatalf("unexpected attachment %+v", msg.Attachment)
				}
			},
		},
		{
			name: "color number and author bool",
			raw:  `{"id":"m1","body":"x","color":7,"author":true,"user":"alice"}`,
			check: func(t *testing.T, msg Message) {
				if msg.Color != "" || msg.Author != "alice" {
					t.Fatalf("unexpected message %+v", msg)
				}
			},
		},
		{
			name: "replyPreview string",
			raw:  `{"id":"m1","parentId":"p1","replyPreview":"quoted"}`,
			check: func(t *testing.T, msg Message) {
				if msg.ReplyPreview == nil || msg.ReplyPreview.Body != "quoted" || msg.ParentID != "p1" {
					t.Fatalf("unexpected reply %+v", msg)
				}
			},
		},
		{
			name: "flags of the wrong type",
			raw:  `{"id":"m1","body":"x","deleted":"yes","pinned":1}`,
			check: func(t *testing.T, msg Message) {
				if msg.Deleted || msg.Pinned || msg.Body != "x" {
					t.Fatalf("unexpected message %+v", msg)
				}
			},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var msg Message
			if err := json.Unmarshal([]byte(tc.raw), &msg); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			tc.check(t, msg)
		})
	}
}

func TestNonObjectRecordFails(t *testing.T) {
	var msg Message
	if err := json.Unmarshal([]byte(`"hello"`), &msg); err == nil {
		t.Fatal("expected an error for a non-object record")
	}
}
