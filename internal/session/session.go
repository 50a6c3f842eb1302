// Package session tracks the generation lifecycle for the active chat.
package session

import (
	"errors"
	"sync"

	"go.uber.org/zap"
)

// ErrGenerating is returned when a submission is attempted while a
// generation is already in flight for the session.
var ErrGenerating = errors.New("generation already in progress")

// State is the generation state of the session.
type State int

const (
	Idle State = iota
	Generating
)

func (s State) String() string {
	if s == Generating {
		return "generating"
	}
	return "idle"
}

// ConnStatus mirrors the event-channel connectivity for the UI layer.
type ConnStatus string

const (
	ConnConnecting   ConnStatus = "connecting"
	ConnConnected    ConnStatus = "connected"
	ConnDisconnected ConnStatus = "disconnected"
)

// Notifier receives UI-facing side effects of state transitions. The
// session owns none of the presentation; it only reports.
type Notifier interface {
	// GenerationStateChanged fires on every Idle/Generating transition.
	GenerationStateChanged(generating bool)
	// ConnectionStateChanged reports event-channel connectivity.
	ConnectionStateChanged(status ConnStatus, detail string)
	// AnswerUpdated delivers the full buffered text after each fragment.
	// Streaming text is literal; formatting happens only at finalize.
	AnswerUpdated(buffered string)
	// AnswerFinalized delivers the raw buffer and its rendered form once
	// per answer.
	AnswerFinalized(raw, rendered string)
	// GenerationFailed surfaces a backend-reported generation error.
	GenerationFailed(message string)
}

// NopNotifier discards all notifications.
type NopNotifier struct{}

func (NopNotifier) GenerationStateChanged(bool)               {}
func (NopNotifier) ConnectionStateChanged(ConnStatus, string) {}
func (NopNotifier) AnswerUpdated(string)                      {}
func (NopNotifier) AnswerFinalized(string, string)            {}
func (NopNotifier) GenerationFailed(string)                   {}

// answer is the in-progress streamed reply. At most one exists per
// session; finalizing twice is a no-op.
type answer struct {
	buffered  string
	finalized bool
}

// Session is the generation-lifecycle state machine for one chat id.
// All mutation goes through event application and submission acceptance,
// serialized by the mutex.
type Session struct {
	mu       sync.Mutex
	chatID   string
	state    State
	answer   *answer
	notifier Notifier
	finalize func(string) string
	log      *zap.Logger
}

// New builds a session. finalize renders a completed buffer into
// structured content; it must be pure.
func New(chatID string, notifier Notifier, finalize func(string) string, log *zap.Logger) *Session {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	if finalize == nil {
		finalize = func(s string) string { return s }
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Session{
		chatID:   chatID,
		state:    Idle,
		notifier: notifier,
		finalize: finalize,
		log:      log,
	}
}

// ChatID returns the opaque session identifier.
func (s *Session) ChatID() string {
	return s.chatID
}

// State reports the current generation state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// BufferedText returns the in-flight answer text, if any.
func (s *Session) BufferedText() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.answer == nil {
		return ""
	}
	return s.answer.buffered
}

// BeginGeneration marks the session generating after the submit request
// was accepted. A second submission while generating is rejected here
// rather than left to UI affordances.
func (s *Session) BeginGeneration() error {
	s.mu.Lock()
	if s.state == Generating {
		s.mu.Unlock()
		return ErrGenerating
	}
	s.state = Generating
	s.mu.Unlock()
	s.notifier.GenerationStateChanged(true)
	return nil
}

// Start handles the start event: any in-progress answer is finalized
// first so no partial answer is orphaned, then a fresh buffer begins.
func (s *Session) Start() {
	s.mu.Lock()
	raw, finalized := s.finalizeLocked()
	s.answer = &answer{}
	entered := s.state != Generating
	s.state = Generating
	s.mu.Unlock()
	s.notifyFinalized(raw, finalized)
	if entered {
		s.notifier.GenerationStateChanged(true)
	}
}

// Update handles a message event. The payload carries the entire
// accumulated answer text so far, so the buffer is replaced rather than
// appended to; redelivery of an event is harmless. A message with no
// answer in progress seeds a new one.
func (s *Session) Update(content string) {
	s.mu.Lock()
	if s.answer == nil || s.answer.finalized {
		s.answer = &answer{}
	}
	s.answer.buffered = content
	s.mu.Unlock()
	s.notifier.AnswerUpdated(content)
}

// Complete handles the completion event: finalize and return to idle.
func (s *Session) Complete() {
	s.mu.Lock()
	raw, finalized := s.finalizeLocked()
	left := s.state == Generating
	s.state = Idle
	s.mu.Unlock()
	s.notifyFinalized(raw, finalized)
	if left {
		s.notifier.GenerationStateChanged(false)
	}
}

// Fail handles a backend-reported generation error: best-effort finalize,
// return to idle, surface the message.
func (s *Session) Fail(message string) {
	s.mu.Lock()
	raw, finalized := s.finalizeLocked()
	left := s.state == Generating
	s.state = Idle
	s.mu.Unlock()
	s.notifyFinalized(raw, finalized)
	if left {
		s.notifier.GenerationStateChanged(false)
	}
	s.notifier.GenerationFailed(message)
}

// Cancelled handles both the cancelled event and the local side of an
// explicit cancel. Converges on idle with at most one finalization, so
// the cancel/complete race is harmless.
func (s *Session) Cancelled() {
	s.mu.Lock()
	raw, finalized := s.finalizeLocked()
	left := s.state == Generating
	s.state = Idle
	s.mu.Unlock()
	s.notifyFinalized(raw, finalized)
	if left {
		s.notifier.GenerationStateChanged(false)
	}
}

// Disconnected handles a transport-level channel drop.
func (s *Session) Disconnected(detail string) {
	s.mu.Lock()
	left := s.state == Generating
	s.state = Idle
	s.mu.Unlock()
	if left {
		s.notifier.GenerationStateChanged(false)
	}
	s.notifier.ConnectionStateChanged(ConnDisconnected, detail)
}

// finalizeLocked releases the current answer exactly once and returns
// its text. Callers notify after dropping the lock, so a notifier may
// call back into the session.
func (s *Session) finalizeLocked() (string, bool) {
	if s.answer == nil || s.answer.finalized {
		return "", false
	}
	s.answer.finalized = true
	raw := s.answer.buffered
	s.answer = nil
	return raw, true
}

func (s *Session) notifyFinalized(raw string, finalized bool) {
	if finalized {
		s.notifier.AnswerFinalized(raw, s.finalize(raw))
	}
}
