package models

import (
	"strings"
	"testing"
)

func TestNewMessageTrimsContent(t *testing.T) {
	msg := NewMessage("  hello there \n", SenderUser, true)

	if msg.Content != "hello there" {
		t.Errorf("Content = %q, want %q", msg.Content, "hello there")
	}
	if msg.Sender != SenderUser {
		t.Errorf("Sender = %q, want %q", msg.Sender, SenderUser)
	}
	if !msg.IsVoice {
		t.Error("IsVoice should be true")
	}
	if msg.Timestamp.IsZero() {
		t.Error("Timestamp should be set")
	}
}

func TestNewMessageID(t *testing.T) {
	id := NewMessageID()

	if !strings.HasPrefix(id, "msg_") {
		t.Errorf("ID %q should start with msg_", id)
	}
	if parts := strings.Split(id, "_"); len(parts) != 3 {
		t.Errorf("ID %q should have three underscore-separated parts", id)
	}
}

func TestNewMessageIDUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := NewMessageID()
		if seen[id] {
			t.Fatalf("duplicate ID %q", id)
		}
		seen[id] = true
	}
}
