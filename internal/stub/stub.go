// Package stub is a development and test backend that speaks the wire
// contract the client expects: submission endpoints, the SSE event
// channel, cancel, history, documents, models and settings. It echoes
// canned replies; it is test tooling, not a model server.
package stub

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"ragchat/internal/models"
)

// Reply produces the stubbed answer for a submitted content string.
type Reply func(content string) string

// EchoReply is the default reply: repeat the prompt back.
func EchoReply(content string) string {
	return "You said: " + content
}

type event struct {
	name    string
	payload any
}

type chatState struct {
	history []models.HistoryEntry
	docs    map[string]int64
	cancel  context.CancelFunc
}

// subscriber is one open event channel. done is closed when the
// subscription ends, either by the client going away or by a reconnect
// replacing it; ch itself is never closed, so a generation goroutine
// racing a reconnect cannot panic on a dead channel.
type subscriber struct {
	ch   chan event
	done chan struct{}
}

// Server implements the backend surface in memory.
type Server struct {
	Reply     Reply
	FragmentN int // characters per message event; 0 means whole reply at once

	log *zap.Logger

	mu       sync.Mutex
	chats    map[string]*chatState
	channels map[string]*subscriber
	settings struct {
		set   bool
		setup map[string]string
	}
	nextDocID int64
}

// NewServer builds a stub with the echo reply.
func NewServer(log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{
		Reply:     EchoReply,
		FragmentN: 4,
		log:       log,
		chats:     make(map[string]*chatState),
		channels:  make(map[string]*subscriber),
		nextDocID: 1,
	}
}

// Router returns the gin engine with all routes attached.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.POST("/chat/:chat_id", s.handleChat)
	router.POST("/generate/:chat_id", s.handleGenerate)
	router.GET("/events", s.handleEvents)
	router.POST("/api/cancel/:chat_id", s.handleCancel)
	router.GET("/api/history/:chat_id", s.handleHistory)
	router.DELETE("/api/history/:chat_id", s.handleClearHistory)
	router.POST("/api/documents/:chat_id", s.handleAddDocument)
	router.GET("/api/models", s.handleModels)
	router.POST("/api/setup/save", s.handleSetupSave)
	router.GET("/api/setup/load", s.handleSetupLoad)
	return router
}

func (s *Server) chat(chatID string) *chatState {
	c := s.chats[chatID]
	if c == nil {
		c = &chatState{docs: make(map[string]int64)}
		s.chats[chatID] = c
	}
	return c
}

// push delivers an event to the chat's channel if one is open. The
// send gives up when the subscription ends underneath it, so a
// reconnect cannot strand or crash a running generation.
func (s *Server) push(chatID string, ev event) {
	s.mu.Lock()
	sub := s.channels[chatID]
	s.mu.Unlock()
	if sub == nil {
		return
	}
	select {
	case sub.ch <- ev:
	case <-sub.done:
	case <-time.After(time.Second):
		s.log.Warn("event channel stalled", zap.String("chat_id", chatID))
	}
}

type chatRequest struct {
	Model    string `json:"model"`
	Messages []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
	Stream bool `json:"stream"`
}

type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

func (s *Server) handleChat(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if len(req.Messages) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "messages required"})
		return
	}
	s.startGeneration(c.Param("chat_id"), req.Messages[0].Content, true)
	c.JSON(http.StatusOK, gin.H{"accepted": true})
}

func (s *Server) handleGenerate(c *gin.Context) {
	var req generateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	s.startGeneration(c.Param("chat_id"), req.Prompt, false)
	c.JSON(http.StatusOK, gin.H{"accepted": true})
}

// startGeneration streams the canned reply as start/message.../complete.
func (s *Server) startGeneration(chatID, content string, record bool) {
	ctx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	chat := s.chat(chatID)
	if chat.cancel != nil {
		chat.cancel()
	}
	chat.cancel = cancel
	if record {
		chat.history = append(chat.history, models.HistoryEntry{Role: models.RoleUser, Content: content})
	}
	s.mu.Unlock()

	reply := s.Reply(content)
	go func() {
		defer cancel()
		s.push(chatID, event{name: "start", payload: gin.H{}})
		step := s.FragmentN
		if step <= 0 {
			step = len(reply)
		}
		// Each message event carries the accumulated text so far.
		for i := step; ; i += step {
			if ctx.Err() != nil {
				s.push(chatID, event{name: "cancelled", payload: gin.H{"cancelled": true}})
				return
			}
			if i >= len(reply) {
				s.push(chatID, event{name: "message", payload: gin.H{"content": reply}})
				break
			}
			s.push(chatID, event{name: "message", payload: gin.H{"content": reply[:i]}})
		}
		s.mu.Lock()
		if record {
			s.chat(chatID).history = append(s.chat(chatID).history,
				models.HistoryEntry{Role: models.RoleAssistant, Content: reply})
		}
		s.mu.Unlock()
		s.push(chatID, event{name: "complete", payload: gin.H{"final_content": reply}})
	}()
}

// handleEvents upgrades the request to a server-push stream. Opening a
// new channel for a chat id replaces any existing one.
func (s *Server) handleEvents(c *gin.Context) {
	chatID := c.Query("chat_id")
	if chatID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "chat_id is required"})
		return
	}
	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming not supported"})
		return
	}

	sub := &subscriber{ch: make(chan event, 16), done: make(chan struct{})}
	s.mu.Lock()
	if old, exists := s.channels[chatID]; exists {
		close(old.done)
	}
	s.channels[chatID] = sub
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		if s.channels[chatID] == sub {
			delete(s.channels, chatID)
			close(sub.done)
		}
		s.mu.Unlock()
	}()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case ev := <-sub.ch:
			data, err := json.Marshal(ev.payload)
			if err != nil {
				continue
			}
			if _, err := fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", ev.name, data); err != nil {
				return
			}
			flusher.Flush()
		case <-sub.done:
			return
		case <-c.Request.Context().Done():
			return
		}
	}
}

func (s *Server) handleCancel(c *gin.Context) {
	chatID := c.Param("chat_id")
	s.mu.Lock()
	chat := s.chat(chatID)
	cancel := chat.cancel
	chat.cancel = nil
	s.mu.Unlock()
	if cancel == nil {
		c.JSON(http.StatusOK, gin.H{"success": false, "error": "no generation in progress"})
		return
	}
	cancel()
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *Server) handleHistory(c *gin.Context) {
	s.mu.Lock()
	chat := s.chat(c.Param("chat_id"))
	history := make([]models.HistoryEntry, len(chat.history))
	copy(history, chat.history)
	s.mu.Unlock()
	c.JSON(http.StatusOK, gin.H{"history": history})
}

func (s *Server) handleClearHistory(c *gin.Context) {
	s.mu.Lock()
	s.chat(c.Param("chat_id")).history = nil
	s.mu.Unlock()
	c.JSON(http.StatusOK, gin.H{"message": "history cleared"})
}

func (s *Server) handleAddDocument(c *gin.Context) {
	content := strings.TrimSpace(c.PostForm("content"))
	if content == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "content is required"})
		return
	}
	sum := sha256.Sum256([]byte(content))
	key := hex.EncodeToString(sum[:])

	s.mu.Lock()
	chat := s.chat(c.Param("chat_id"))
	if _, exists := chat.docs[key]; exists {
		s.mu.Unlock()
		c.JSON(http.StatusConflict, gin.H{"code": "DUPLICATE_DOCUMENT", "error": "document already exists"})
		return
	}
	id := s.nextDocID
	s.nextDocID++
	chat.docs[key] = id
	s.mu.Unlock()

	c.JSON(http.StatusOK, gin.H{"id": id})
}

func (s *Server) handleModels(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"models": []models.ModelInfo{
			{Name: "llama3.2-vision:latest", Size: 7816327763, Modified: "2025-01-01T00:00:00Z", SupportsImages: true},
			{Name: "nomic-embed-text:latest", Size: 274302450, Modified: "2025-01-01T00:00:00Z", IsEmbeddingModel: true},
		},
	})
}

func (s *Server) handleSetupSave(c *gin.Context) {
	var setup map[string]string
	if err := c.ShouldBindJSON(&setup); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid request body"})
		return
	}
	s.mu.Lock()
	s.settings.set = true
	s.settings.setup = setup
	s.mu.Unlock()
	c.JSON(http.StatusOK, gin.H{"success": true, "savedSettings": setup})
}

func (s *Server) handleSetupLoad(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.settings.set {
		c.JSON(http.StatusOK, gin.H{"success": true, "settings": gin.H{}})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "settings": s.settings.setup})
}
