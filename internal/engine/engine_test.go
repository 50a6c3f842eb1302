package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"ragchat/internal/attach"
	"ragchat/internal/config"
	"ragchat/internal/models"
	"ragchat/internal/session"
	"ragchat/internal/stub"
	"ragchat/internal/transcript"
)

// capture collects notifications and exposes channels for the
// asynchronous ones a test needs to wait on.
type capture struct {
	mu      sync.Mutex
	updates []string

	finals   chan [2]string
	idle     chan struct{}
	failures chan string
}

func newCapture() *capture {
	return &capture{
		finals:   make(chan [2]string, 8),
		idle:     make(chan struct{}, 8),
		failures: make(chan string, 8),
	}
}

func (c *capture) GenerationStateChanged(generating bool) {
	if !generating {
		select {
		case c.idle <- struct{}{}:
		default:
		}
	}
}

func (c *capture) ConnectionStateChanged(session.ConnStatus, string) {}

func (c *capture) AnswerUpdated(buffered string) {
	c.mu.Lock()
	c.updates = append(c.updates, buffered)
	c.mu.Unlock()
}

func (c *capture) AnswerFinalized(raw, rendered string) {
	select {
	case c.finals <- [2]string{raw, rendered}:
	default:
	}
}

func (c *capture) GenerationFailed(message string) {
	select {
	case c.failures <- message:
	default:
	}
}

func (c *capture) waitFinal(t *testing.T) (raw, rendered string) {
	t.Helper()
	select {
	case fin := <-c.finals:
		return fin[0], fin[1]
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for finalized answer")
		return "", ""
	}
}

func (c *capture) waitIdle(t *testing.T) {
	t.Helper()
	select {
	case <-c.idle:
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for idle")
	}
}

func (c *capture) updateLog() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.updates))
	copy(out, c.updates)
	return out
}

func newTestEngine(t *testing.T, opts Options) (*Engine, *capture) {
	t.Helper()
	backend := stub.NewServer(nil)
	srv := httptest.NewServer(backend.Router())
	t.Cleanup(srv.Close)

	if opts.Config == nil {
		opts.Config = &config.Config{
			ServerURL:      srv.URL,
			ChatModel:      "llama3.2-vision:latest",
			EmbeddingModel: "nomic-embed-text:latest",
		}
	} else {
		opts.Config.ServerURL = srv.URL
	}
	if opts.ChatID == "" {
		opts.ChatID = fmt.Sprintf("chat-%d", time.Now().UnixNano())
	}
	rec := newCapture()
	opts.Notifier = rec
	eng := New(opts)
	if err := eng.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(eng.Disconnect)
	return eng, rec
}

func TestSubmitStreamsAndFinalizes(t *testing.T) {
	eng, rec := newTestEngine(t, Options{})
	ctx := context.Background()

	if err := eng.Submit(ctx, "hi"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	raw, rendered := rec.waitFinal(t)
	if raw != "You said: hi" {
		t.Fatalf("expected echoed answer, got %q", raw)
	}
	if rendered != "<p>You said: hi</p>" {
		t.Fatalf("expected rendered paragraph, got %q", rendered)
	}
	rec.waitIdle(t)
	if eng.Generating() {
		t.Fatalf("expected idle after completion")
	}

	// The live buffer grows monotonically: every update is a prefix of
	// the next, and the last matches the finalized text.
	updates := rec.updateLog()
	if len(updates) == 0 {
		t.Fatalf("expected streamed updates")
	}
	for i := 1; i < len(updates); i++ {
		if !strings.HasPrefix(updates[i], updates[i-1]) {
			t.Fatalf("update %d (%q) is not an extension of %q", i, updates[i], updates[i-1])
		}
	}
	if last := updates[len(updates)-1]; last != raw {
		t.Fatalf("expected last update %q to match final %q", last, raw)
	}
}

func TestSubmitInlinesAttachmentAndClearsSet(t *testing.T) {
	eng, rec := newTestEngine(t, Options{})
	ctx := context.Background()

	dir := t.TempDir()
	path := filepath.Join(dir, "notes.txt")
	if err := os.WriteFile(path, []byte("file body"), 0o600); err != nil {
		t.Fatalf("write attachment: %v", err)
	}
	f, err := attach.FromPath(path)
	if err != nil {
		t.Fatalf("stat attachment: %v", err)
	}
	if err := eng.Attachments().Add(f); err != nil {
		t.Fatalf("attach: %v", err)
	}

	if err := eng.Submit(ctx, "summarize"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	raw, _ := rec.waitFinal(t)
	if raw != "You said: summarize\r\nfile body" {
		t.Fatalf("attachment not inlined, got %q", raw)
	}
	if eng.Attachments().Len() != 0 {
		t.Fatalf("expected attachment set cleared after acceptance")
	}
}

func TestSubmitDocModeSendsFragmentsAsDocuments(t *testing.T) {
	bodies := make(chan []byte, 1)
	mux := http.NewServeMux()
	mux.HandleFunc("/chat/", func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		bodies <- b
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"accepted":true}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	cfg := &config.Config{ServerURL: srv.URL, ChatModel: "m"}
	eng := New(Options{Config: cfg, ChatID: "chat-doc"})

	dir := t.TempDir()
	path := filepath.Join(dir, "doc.md")
	if err := os.WriteFile(path, []byte("retrievable body"), 0o600); err != nil {
		t.Fatalf("write attachment: %v", err)
	}
	f, err := attach.FromPath(path)
	if err != nil {
		t.Fatalf("stat attachment: %v", err)
	}
	if err := eng.Attachments().Add(f); err != nil {
		t.Fatalf("attach: %v", err)
	}

	if err := eng.Submit(context.Background(), "doc: what is this"); err != nil {
		t.Fatalf("submit: %v", err)
	}

	var body []byte
	select {
	case body = <-bodies:
	case <-time.After(2 * time.Second):
		t.Fatalf("backend never received the turn")
	}
	var req struct {
		Messages []struct {
			Content string `json:"content"`
		} `json:"messages"`
		Documents []string `json:"doc"`
	}
	if err := json.Unmarshal(body, &req); err != nil {
		t.Fatalf("decode chat body: %v", err)
	}
	if len(req.Documents) != 1 || req.Documents[0] != "retrievable body" {
		t.Fatalf("expected attachment as retrieval document, got %#v", req.Documents)
	}
	if len(req.Messages) != 1 || req.Messages[0].Content != "doc:what is this" {
		t.Fatalf("expected doc-marked content, got %#v", req.Messages)
	}
}

func TestSubmitEmptyRejectedLocally(t *testing.T) {
	eng, _ := newTestEngine(t, Options{})
	if err := eng.Submit(context.Background(), "   "); !errors.Is(err, ErrEmptySubmission) {
		t.Fatalf("expected ErrEmptySubmission, got %v", err)
	}
	if err := eng.Submit(context.Background(), "doc: "); !errors.Is(err, ErrEmptySubmission) {
		t.Fatalf("expected ErrEmptySubmission for bare command, got %v", err)
	}
}

func TestSubmitWhileGeneratingRejected(t *testing.T) {
	// A backend that accepts the turn but never finishes keeps the
	// session generating.
	mux := http.NewServeMux()
	mux.HandleFunc("/chat/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"accepted":true}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	cfg := &config.Config{ServerURL: srv.URL, ChatModel: "m"}
	eng := New(Options{Config: cfg, ChatID: "chat-guard"})
	ctx := context.Background()

	if err := eng.Submit(ctx, "first"); err != nil {
		t.Fatalf("first submit: %v", err)
	}
	if !eng.Generating() {
		t.Fatalf("expected generating after acceptance")
	}
	if err := eng.Submit(ctx, "second"); !errors.Is(err, ErrGenerating) {
		t.Fatalf("expected ErrGenerating, got %v", err)
	}
}

func TestSubmitHTTPFailureLeavesIdle(t *testing.T) {
	cfg := &config.Config{ServerURL: "http://127.0.0.1:1", ChatModel: "m"}
	eng := New(Options{Config: cfg, ChatID: "chat-down"})

	if err := eng.Submit(context.Background(), "hello"); err == nil {
		t.Fatalf("expected transport error")
	}
	if eng.Generating() {
		t.Fatalf("failed submit must not leave the session generating")
	}
}

func TestGenerateOneShot(t *testing.T) {
	eng, rec := newTestEngine(t, Options{})
	if err := eng.Generate(context.Background(), "describe the image"); err != nil {
		t.Fatalf("generate: %v", err)
	}
	raw, _ := rec.waitFinal(t)
	if raw != "You said: describe the image" {
		t.Fatalf("expected echoed generation, got %q", raw)
	}
}

func TestCancelWithNothingRunningReconnects(t *testing.T) {
	eng, _ := newTestEngine(t, Options{})
	if err := eng.Cancel(context.Background()); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if eng.Generating() {
		t.Fatalf("expected idle after cancel")
	}
	// The fresh channel still works.
	if err := eng.Submit(context.Background(), "after cancel"); err != nil {
		t.Fatalf("submit after cancel: %v", err)
	}
}

func TestTranscriptRecordsBothTurns(t *testing.T) {
	store, err := transcript.Open("sqlite3", filepath.Join(t.TempDir(), "transcript.db"))
	if err != nil {
		t.Fatalf("open transcript: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	if err := store.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	eng, rec := newTestEngine(t, Options{Transcript: store, ChatID: "chat-transcript"})
	ctx := context.Background()

	if err := eng.Submit(ctx, "ping"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	rec.waitFinal(t)

	msgs, err := store.Messages(ctx, "chat-transcript")
	if err != nil {
		t.Fatalf("messages: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected user and assistant turns, got %d", len(msgs))
	}
	if msgs[0].Role != models.RoleUser || msgs[0].Content != "ping" {
		t.Fatalf("unexpected user turn %#v", msgs[0])
	}
	if msgs[1].Role != models.RoleAssistant || msgs[1].Content != "You said: ping" {
		t.Fatalf("unexpected assistant turn %#v", msgs[1])
	}
}

func TestHistoryRendersAssistantEntries(t *testing.T) {
	eng, rec := newTestEngine(t, Options{})
	ctx := context.Background()

	if err := eng.Submit(ctx, "hi"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	rec.waitFinal(t)

	entries, err := eng.History(ctx)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Role != models.RoleUser || entries[0].Rendered != "" {
		t.Fatalf("user entry must stay raw: %#v", entries[0])
	}
	if entries[1].Rendered != "<p>You said: hi</p>" {
		t.Fatalf("expected rendered assistant entry, got %q", entries[1].Rendered)
	}

	if err := eng.ClearHistory(ctx); err != nil {
		t.Fatalf("clear history: %v", err)
	}
	entries, err = eng.History(ctx)
	if err != nil {
		t.Fatalf("history after clear: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected empty history, got %d", len(entries))
	}
}

func TestAddDocumentReportsDuplicate(t *testing.T) {
	eng, _ := newTestEngine(t, Options{})
	ctx := context.Background()

	id, err := eng.AddDocument(ctx, "retrievable passage")
	if err != nil {
		t.Fatalf("add document: %v", err)
	}
	if id <= 0 {
		t.Fatalf("expected positive id, got %d", id)
	}
	if _, err := eng.AddDocument(ctx, "retrievable passage"); err == nil {
		t.Fatalf("expected duplicate to be reported")
	}
}

func TestSettingsSyncAndPull(t *testing.T) {
	backend := stub.NewServer(nil)
	srv := httptest.NewServer(backend.Router())
	defer srv.Close()

	pusher := New(Options{Config: &config.Config{
		ServerURL:      srv.URL,
		ChatModel:      "pushed-model",
		EmbeddingModel: "pushed-embed",
		SystemPrompt:   "pushed prompt",
		GeneratePrompt: "pushed generate",
	}, ChatID: "chat-a"})
	if err := pusher.SyncSettings(context.Background()); err != nil {
		t.Fatalf("sync settings: %v", err)
	}

	cfg := &config.Config{ServerURL: srv.URL, ChatModel: "local-model"}
	puller := New(Options{Config: cfg, ChatID: "chat-b"})
	if err := puller.PullSettings(context.Background()); err != nil {
		t.Fatalf("pull settings: %v", err)
	}
	if cfg.ChatModel != "pushed-model" {
		t.Fatalf("expected overlaid chat model, got %q", cfg.ChatModel)
	}
	if cfg.SystemPrompt != "pushed prompt" {
		t.Fatalf("expected overlaid prompt, got %q", cfg.SystemPrompt)
	}
}

func TestModelsCatalog(t *testing.T) {
	eng, _ := newTestEngine(t, Options{})
	list, err := eng.Models(context.Background())
	if err != nil {
		t.Fatalf("models: %v", err)
	}
	if len(list) == 0 {
		t.Fatalf("expected a model catalog")
	}
}
