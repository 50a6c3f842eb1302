package client

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"ragchat/internal/compose"
	"ragchat/internal/ingest"
	"ragchat/internal/models"
	"ragchat/internal/stub"
)

func newTestBackend(t *testing.T) *Client {
	t.Helper()
	backend := stub.NewServer(nil)
	srv := httptest.NewServer(backend.Router())
	t.Cleanup(srv.Close)
	return New(srv.URL, nil)
}

func TestDocumentFileAllowed(t *testing.T) {
	cases := []struct {
		name string
		want bool
	}{
		{"notes.txt", true},
		{"README.md", true},
		{"data.JSON", true},
		{"pic.png", false},
		{"archive.tar.gz", false},
		{"noext", false},
	}
	for _, c := range cases {
		if got := DocumentFileAllowed(c.name); got != c.want {
			t.Fatalf("DocumentFileAllowed(%q) = %v, want %v", c.name, got, c.want)
		}
	}
}

func TestSendChatAccepted(t *testing.T) {
	c := newTestBackend(t)
	req, err := compose.Chat(compose.Options{Model: "m"}, "hi", false, &ingest.Content{}, nil)
	if err != nil {
		t.Fatalf("compose: %v", err)
	}
	if err := c.SendChat(context.Background(), "chat-1", req); err != nil {
		t.Fatalf("send chat: %v", err)
	}
}

func TestSendChatRejectsBadBackend(t *testing.T) {
	c := New("http://127.0.0.1:1", nil)
	req, _ := compose.Chat(compose.Options{Model: "m"}, "hi", false, &ingest.Content{}, nil)
	if err := c.SendChat(context.Background(), "chat-1", req); err == nil {
		t.Fatalf("expected transport error")
	}
}

func TestHistoryRoundTrip(t *testing.T) {
	c := newTestBackend(t)
	ctx := context.Background()
	req, _ := compose.Chat(compose.Options{Model: "m"}, "hi there", false, &ingest.Content{}, nil)
	if err := c.SendChat(ctx, "chat-1", req); err != nil {
		t.Fatalf("send chat: %v", err)
	}

	// The assistant turn is recorded when the stubbed stream finishes.
	var history []models.HistoryEntry
	deadline := time.Now().Add(2 * time.Second)
	for {
		var err error
		history, err = c.History(ctx, "chat-1")
		if err != nil {
			t.Fatalf("history: %v", err)
		}
		if len(history) >= 2 || time.Now().After(deadline) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 history entries, got %d", len(history))
	}
	if history[0].Role != models.RoleUser || history[0].Content != "hi there" {
		t.Fatalf("unexpected user entry %#v", history[0])
	}
	if history[1].Role != models.RoleAssistant || history[1].Content != "You said: hi there" {
		t.Fatalf("unexpected assistant entry %#v", history[1])
	}

	if err := c.ClearHistory(ctx, "chat-1"); err != nil {
		t.Fatalf("clear history: %v", err)
	}
	history, err := c.History(ctx, "chat-1")
	if err != nil {
		t.Fatalf("history after clear: %v", err)
	}
	if len(history) != 0 {
		t.Fatalf("expected empty history, got %d entries", len(history))
	}
}

func TestCancelWithoutGeneration(t *testing.T) {
	c := newTestBackend(t)
	if err := c.Cancel(context.Background(), "chat-1"); err == nil {
		t.Fatalf("expected refusal with no generation in progress")
	}
}

func TestAddDocumentAndDuplicate(t *testing.T) {
	c := newTestBackend(t)
	ctx := context.Background()
	meta := map[string]any{"source": "test"}

	id1, err := c.AddDocument(ctx, "chat-1", "first document", meta)
	if err != nil {
		t.Fatalf("add document: %v", err)
	}
	if id1 <= 0 {
		t.Fatalf("expected positive document id, got %d", id1)
	}

	if _, err := c.AddDocument(ctx, "chat-1", "first document", meta); !errors.Is(err, ErrDuplicateDocument) {
		t.Fatalf("expected ErrDuplicateDocument, got %v", err)
	}

	id2, err := c.AddDocument(ctx, "chat-1", "second document", meta)
	if err != nil {
		t.Fatalf("add second document: %v", err)
	}
	if id2 == id1 {
		t.Fatalf("expected distinct ids, both %d", id1)
	}
}

func TestModels(t *testing.T) {
	c := newTestBackend(t)
	list, err := c.Models(context.Background())
	if err != nil {
		t.Fatalf("models: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 models, got %d", len(list))
	}
	if !list[0].SupportsImages {
		t.Fatalf("expected vision model first, got %#v", list[0])
	}
	if !list[1].IsEmbeddingModel {
		t.Fatalf("expected embedding model second, got %#v", list[1])
	}
}

func TestSetupRoundTrip(t *testing.T) {
	c := newTestBackend(t)
	ctx := context.Background()

	// Before any save, settings come back empty but successful.
	setup, err := c.LoadSetup(ctx)
	if err != nil {
		t.Fatalf("load empty setup: %v", err)
	}
	if setup.ChatModel != "" {
		t.Fatalf("expected empty settings, got %#v", setup)
	}

	want := Setup{
		ChatModel:      "llama3.2-vision:latest",
		EmbeddingModel: "nomic-embed-text:latest",
		SystemPrompt:   "be brief",
		GeneratePrompt: "describe the image",
	}
	if err := c.SaveSetup(ctx, want); err != nil {
		t.Fatalf("save setup: %v", err)
	}
	got, err := c.LoadSetup(ctx)
	if err != nil {
		t.Fatalf("load setup: %v", err)
	}
	if *got != want {
		t.Fatalf("expected %#v, got %#v", want, *got)
	}
}
