package transcript

import (
	"context"
	"path/filepath"
	"testing"

	"ragchat/internal/models"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open("sqlite3", filepath.Join(t.TempDir(), "transcript.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	if err := s.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return s
}

func TestOpenRejectsEmptyDSN(t *testing.T) {
	if _, err := Open("sqlite3", ""); err == nil {
		t.Fatalf("expected error for empty dsn")
	}
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	if _, err := Open("postgres", "whatever"); err == nil {
		t.Fatalf("expected error for unsupported driver")
	}
}

func TestAppendAndMessagesOrder(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	turns := []struct {
		role    models.Role
		content string
	}{
		{models.RoleUser, "first question"},
		{models.RoleAssistant, "first answer"},
		{models.RoleUser, "second question"},
	}
	for _, turn := range turns {
		if err := s.Append(ctx, "chat-1", turn.role, turn.content); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	got, err := s.Messages(ctx, "chat-1")
	if err != nil {
		t.Fatalf("messages: %v", err)
	}
	if len(got) != len(turns) {
		t.Fatalf("expected %d messages, got %d", len(turns), len(got))
	}
	for i, m := range got {
		if m.Role != turns[i].role || m.Content != turns[i].content {
			t.Fatalf("message %d mismatch: %#v", i, m)
		}
		if m.ChatID != "chat-1" {
			t.Fatalf("message %d has chat id %q", i, m.ChatID)
		}
		if m.ID <= 0 {
			t.Fatalf("message %d missing id", i)
		}
	}
}

func TestMessagesScopedByChatID(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.Append(ctx, "chat-a", models.RoleUser, "for a"); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := s.Append(ctx, "chat-b", models.RoleUser, "for b"); err != nil {
		t.Fatalf("append: %v", err)
	}

	got, err := s.Messages(ctx, "chat-a")
	if err != nil {
		t.Fatalf("messages: %v", err)
	}
	if len(got) != 1 || got[0].Content != "for a" {
		t.Fatalf("expected only chat-a turns, got %#v", got)
	}
}

func TestClear(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.Append(ctx, "chat-1", models.RoleUser, "gone soon"); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := s.Append(ctx, "chat-2", models.RoleUser, "survives"); err != nil {
		t.Fatalf("append: %v", err)
	}

	if err := s.Clear(ctx, "chat-1"); err != nil {
		t.Fatalf("clear: %v", err)
	}
	got, err := s.Messages(ctx, "chat-1")
	if err != nil {
		t.Fatalf("messages: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected empty transcript, got %d", len(got))
	}
	other, err := s.Messages(ctx, "chat-2")
	if err != nil {
		t.Fatalf("messages: %v", err)
	}
	if len(other) != 1 {
		t.Fatalf("clear must not touch other chats, got %d", len(other))
	}
}
