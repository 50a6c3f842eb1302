// Package engine drives the streaming chat session: it ingests
// attachments, composes and submits requests, consumes the event channel
// and hands finished answers to the formatter.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"ragchat/internal/attach"
	"ragchat/internal/client"
	"ragchat/internal/compose"
	"ragchat/internal/config"
	"ragchat/internal/format"
	"ragchat/internal/ingest"
	"ragchat/internal/models"
	"ragchat/internal/session"
	"ragchat/internal/stream"
	"ragchat/internal/transcript"
)

// ErrEmptySubmission rejects a submit with no text and no attachments
// before any network call.
var ErrEmptySubmission = compose.ErrEmptyRequest

// ErrGenerating rejects a submit while a generation is in flight.
var ErrGenerating = session.ErrGenerating

// Engine owns one generation session and its collaborators.
type Engine struct {
	cfg         *config.Config
	api         *client.Client
	consumer    *stream.Consumer
	sess        *session.Session
	attachments *attach.Set
	transcript  *transcript.Store
	notifier    session.Notifier
	log         *zap.Logger
}

// Options configures engine construction.
type Options struct {
	Config     *config.Config
	ChatID     string
	Notifier   session.Notifier  // may be nil
	Transcript *transcript.Store // may be nil
	Logger     *zap.Logger
}

// New wires an engine for the given chat id.
func New(opts Options) *Engine {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	notifier := opts.Notifier
	if notifier == nil {
		notifier = session.NopNotifier{}
	}
	e := &Engine{
		cfg:         opts.Config,
		api:         client.New(opts.Config.ServerURL, log),
		consumer:    stream.NewConsumer(opts.Config.ServerURL, nil, log),
		attachments: attach.NewSet(),
		transcript:  opts.Transcript,
		notifier:    notifier,
		log:         log,
	}
	e.sess = session.New(opts.ChatID, &recordingNotifier{engine: e}, format.Render, log)
	return e
}

// recordingNotifier forwards session notifications to the user-facing
// notifier and mirrors finalized answers into the local transcript.
type recordingNotifier struct {
	engine *Engine
}

func (r *recordingNotifier) GenerationStateChanged(generating bool) {
	r.engine.notifier.GenerationStateChanged(generating)
}

func (r *recordingNotifier) ConnectionStateChanged(status session.ConnStatus, detail string) {
	r.engine.notifier.ConnectionStateChanged(status, detail)
}

func (r *recordingNotifier) AnswerUpdated(buffered string) {
	r.engine.notifier.AnswerUpdated(buffered)
}

func (r *recordingNotifier) AnswerFinalized(raw, rendered string) {
	e := r.engine
	if e.transcript != nil && raw != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := e.transcript.Append(ctx, e.sess.ChatID(), models.RoleAssistant, raw); err != nil {
			e.log.Warn("record assistant turn", zap.Error(err))
		}
	}
	e.notifier.AnswerFinalized(raw, rendered)
}

func (r *recordingNotifier) GenerationFailed(message string) {
	r.engine.notifier.GenerationFailed(message)
}

// ChatID returns the session identifier.
func (e *Engine) ChatID() string {
	return e.sess.ChatID()
}

// Generating reports whether a generation is in flight.
func (e *Engine) Generating() bool {
	return e.sess.State() == session.Generating
}

// Notifier returns the user-facing notifier the engine forwards to.
func (e *Engine) Notifier() session.Notifier {
	return e.notifier
}

// Attachments exposes the pending-attachment set.
func (e *Engine) Attachments() *attach.Set {
	return e.attachments
}

// Connect opens the event channel for the session. Any previous channel
// is torn down first.
func (e *Engine) Connect(ctx context.Context) error {
	e.notifier.ConnectionStateChanged(session.ConnConnecting, "")
	if err := e.consumer.Connect(ctx, e.sess.ChatID(), e); err != nil {
		e.notifier.ConnectionStateChanged(session.ConnDisconnected, err.Error())
		return err
	}
	e.notifier.ConnectionStateChanged(session.ConnConnected, "")
	return nil
}

// Disconnect tears down the event channel.
func (e *Engine) Disconnect() {
	e.consumer.Close()
	e.notifier.ConnectionStateChanged(session.ConnDisconnected, "")
}

// stream.Handler: events arrive in backend order on one goroutine.

func (e *Engine) StreamStarted()            { e.sess.Start() }
func (e *Engine) Message(content string)    { e.sess.Update(content) }
func (e *Engine) Completed(string)          { e.sess.Complete() }
func (e *Engine) GenerationFailed(m string) { e.sess.Fail(m) }
func (e *Engine) GenerationCancelled()      { e.sess.Cancelled() }

func (e *Engine) Disconnected(err error) {
	detail := ""
	if err != nil {
		detail = err.Error()
	}
	e.sess.Disconnected(detail)
}

func (e *Engine) composeOpts() compose.Options {
	return compose.Options{
		Model:          e.cfg.ChatModel,
		EmbeddingModel: e.cfg.EmbeddingModel,
		SystemPrompt:   e.cfg.SystemPrompt,
	}
}

// prepare runs command parsing and ingestion for a submission.
func (e *Engine) prepare(ctx context.Context, input string) (text string, docMode bool, content *ingest.Content, docs []string, err error) {
	if e.Generating() {
		return "", false, nil, nil, ErrGenerating
	}
	text, docMode = compose.ParseCommand(input)
	files := e.attachments.List()
	if text == "" && len(files) == 0 {
		return "", false, nil, nil, ErrEmptySubmission
	}
	content = ingest.Read(ctx, files, e.log)
	if docMode {
		// One ingestion pass serves both roles: the text fragments are
		// the retrieval documents, already in attachment order.
		docs = content.TextFragments
	}
	return text, docMode, content, docs, nil
}

// accept records the user turn, clears the attachment set and marks the
// session generating. Runs only after the backend accepted the request.
func (e *Engine) accept(input string) error {
	if e.transcript != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := e.transcript.Append(ctx, e.sess.ChatID(), models.RoleUser, input); err != nil {
			e.log.Warn("record user turn", zap.Error(err))
		}
	}
	e.attachments.Clear()
	if err := e.sess.BeginGeneration(); err != nil && !errors.Is(err, ErrGenerating) {
		return err
	}
	// A start event racing ahead of the HTTP response already marked the
	// session generating; that is the same outcome.
	return nil
}

// Submit composes and sends a conversational turn. The session enters
// Generating on HTTP acceptance, not on the first streamed fragment.
func (e *Engine) Submit(ctx context.Context, input string) error {
	text, docMode, content, docs, err := e.prepare(ctx, input)
	if err != nil {
		return err
	}
	req, err := compose.Chat(e.composeOpts(), text, docMode, content, docs)
	if err != nil {
		return err
	}
	if err := e.api.SendChat(ctx, e.sess.ChatID(), req); err != nil {
		// Do not leave the UI in a streaming-looking state.
		e.sess.Cancelled()
		return fmt.Errorf("submit turn: %w", err)
	}
	return e.accept(input)
}

// Generate composes and sends a one-shot generation request.
func (e *Engine) Generate(ctx context.Context, input string) error {
	text, docMode, content, docs, err := e.prepare(ctx, input)
	if err != nil {
		return err
	}
	req, err := compose.Generate(e.composeOpts(), text, docMode, content, docs)
	if err != nil {
		return err
	}
	if err := e.api.SendGenerate(ctx, e.sess.ChatID(), req); err != nil {
		e.sess.Cancelled()
		return fmt.Errorf("submit generation: %w", err)
	}
	return e.accept(input)
}

// Cancel stops the in-flight generation. The server-side cancel is
// best-effort; local teardown and the fresh channel never wait on it.
func (e *Engine) Cancel(ctx context.Context) error {
	if err := e.api.Cancel(ctx, e.sess.ChatID()); err != nil {
		e.log.Warn("server-side cancel failed", zap.Error(err))
	}
	e.consumer.Close()
	e.sess.Cancelled()
	return e.Connect(ctx)
}

// RenderedEntry is a stored turn with assistant content already rendered.
type RenderedEntry struct {
	Role     models.Role
	Content  string
	Rendered string
}

// History fetches the backend conversation history, rendering assistant
// entries through the same finalize formatter used for live answers.
func (e *Engine) History(ctx context.Context) ([]RenderedEntry, error) {
	entries, err := e.api.History(ctx, e.sess.ChatID())
	if err != nil {
		return nil, err
	}
	out := make([]RenderedEntry, 0, len(entries))
	for _, entry := range entries {
		re := RenderedEntry{Role: entry.Role, Content: entry.Content}
		if entry.Role == models.RoleAssistant {
			re.Rendered = format.Render(entry.Content)
		}
		out = append(out, re)
	}
	return out, nil
}

// ClearHistory deletes the backend history and the local transcript.
func (e *Engine) ClearHistory(ctx context.Context) error {
	if err := e.api.ClearHistory(ctx, e.sess.ChatID()); err != nil {
		return err
	}
	if e.transcript != nil {
		if err := e.transcript.Clear(ctx, e.sess.ChatID()); err != nil {
			e.log.Warn("clear local transcript", zap.Error(err))
		}
	}
	return nil
}

// AddDocument uploads one retrieval document for this chat's corpus.
func (e *Engine) AddDocument(ctx context.Context, content string) (int64, error) {
	metadata := map[string]any{
		"source":    "cli_upload",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	id, err := e.api.AddDocument(ctx, e.sess.ChatID(), content, metadata)
	if errors.Is(err, client.ErrDuplicateDocument) {
		return 0, err
	}
	if err != nil {
		return 0, fmt.Errorf("add document: %w", err)
	}
	return id, nil
}

// Models fetches the backend model catalog.
func (e *Engine) Models(ctx context.Context) ([]models.ModelInfo, error) {
	return e.api.Models(ctx)
}

// SyncSettings pushes the local settings to the backend.
func (e *Engine) SyncSettings(ctx context.Context) error {
	return e.api.SaveSetup(ctx, client.Setup{
		ChatModel:      e.cfg.ChatModel,
		EmbeddingModel: e.cfg.EmbeddingModel,
		SystemPrompt:   e.cfg.SystemPrompt,
		GeneratePrompt: e.cfg.GeneratePrompt,
	})
}

// PullSettings overlays server-side settings onto the local config,
// falling back silently when the server has none.
func (e *Engine) PullSettings(ctx context.Context) error {
	setup, err := e.api.LoadSetup(ctx)
	if err != nil {
		return err
	}
	if setup.ChatModel != "" {
		e.cfg.ChatModel = setup.ChatModel
	}
	if setup.EmbeddingModel != "" {
		e.cfg.EmbeddingModel = setup.EmbeddingModel
	}
	if setup.SystemPrompt != "" {
		e.cfg.SystemPrompt = setup.SystemPrompt
	}
	if setup.GeneratePrompt != "" {
		e.cfg.GeneratePrompt = setup.GeneratePrompt
	}
	return nil
}
