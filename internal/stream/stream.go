// Package stream consumes the backend's server-push event channel.
//
// Wire contract: the channel is an SSE stream at GET /events?chat_id={id}
// with named events start, message, complete, error and cancelled, each
// carrying a JSON data payload. A message event's content field carries
// the entire accumulated answer text so far, not a delta; the consumer
// replaces its buffer with it, which makes redelivery harmless. Events
// for a chat id arrive in the order the backend produced them; no
// reordering or deduplication happens here.
package stream

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// Handler receives decoded channel events. Calls are made from a single
// goroutine per connection, in arrival order.
type Handler interface {
	StreamStarted()
	// Message delivers the full accumulated answer text so far.
	Message(content string)
	Completed(finalContent string)
	GenerationFailed(message string)
	GenerationCancelled()
	// Disconnected fires once when the channel drops for any reason other
	// than a local Close. No automatic retry follows; reconnection is an
	// explicit Connect call.
	Disconnected(err error)
}

type messageData struct {
	Content *string `json:"content"`
}

type completeData struct {
	FinalContent string `json:"final_content"`
}

type errorData struct {
	Error string `json:"error"`
}

type cancelledData struct {
	Cancelled bool `json:"cancelled"`
}

// Consumer maintains at most one event channel. Opening a new channel
// first tears down any existing one, so no dangling subscription outlives
// a reconnect.
type Consumer struct {
	baseURL    string
	httpClient *http.Client
	log        *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewConsumer builds a consumer for the backend at baseURL. The client
// must not impose a request timeout; the channel is long-lived.
func NewConsumer(baseURL string, httpClient *http.Client, log *zap.Logger) *Consumer {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Consumer{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		log:        log,
	}
}

// Connect opens the event channel for chatID and dispatches events to h
// until the stream ends or Close is called. It returns once the channel
// is established; consumption continues in the background.
func (c *Consumer) Connect(ctx context.Context, chatID string, h Handler) error {
	c.Close()

	ctx, cancel := context.WithCancel(ctx)
	endpoint := fmt.Sprintf("%s/events?chat_id=%s", c.baseURL, url.QueryEscape(chatID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		cancel()
		return fmt.Errorf("build events request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		cancel()
		return fmt.Errorf("open event channel: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		return fmt.Errorf("event channel refused: status %d", resp.StatusCode)
	}

	done := make(chan struct{})
	c.mu.Lock()
	c.cancel = cancel
	c.done = done
	c.mu.Unlock()

	go func() {
		defer close(done)
		defer resp.Body.Close()
		err := c.consume(resp.Body, h)
		if ctx.Err() != nil {
			// Local teardown; not a transport failure.
			return
		}
		c.log.Warn("event channel dropped", zap.String("chat_id", chatID), zap.Error(err))
		h.Disconnected(err)
	}()
	return nil
}

// consume parses SSE frames and dispatches them until the body ends.
func (c *Consumer) consume(body io.Reader, h Handler) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var event string
	var data strings.Builder
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if data.Len() > 0 || event != "" {
				c.dispatch(event, data.String(), h)
			}
			event = ""
			data.Reset()
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
		// Comment lines and unknown fields are ignored.
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	return io.EOF
}

func (c *Consumer) dispatch(event, data string, h Handler) {
	switch event {
	case "start":
		h.StreamStarted()
	case "message":
		var payload messageData
		if err := json.Unmarshal([]byte(data), &payload); err != nil {
			c.log.Warn("bad message payload", zap.Error(err))
			return
		}
		if payload.Content != nil {
			h.Message(*payload.Content)
		}
	case "complete":
		var payload completeData
		// Finalize regardless of payload shape.
		_ = json.Unmarshal([]byte(data), &payload)
		h.Completed(payload.FinalContent)
	case "error":
		var payload errorData
		if err := json.Unmarshal([]byte(data), &payload); err != nil {
			payload.Error = data
		}
		h.GenerationFailed(payload.Error)
	case "cancelled":
		var payload cancelledData
		if err := json.Unmarshal([]byte(data), &payload); err != nil {
			return
		}
		if payload.Cancelled {
			h.GenerationCancelled()
		}
	default:
		// ack, heartbeats and unnamed events carry nothing we consume.
	}
}

// Close tears down the current channel, if any, and waits for the reader
// goroutine to exit. Safe to call with no channel open.
func (c *Consumer) Close() {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel, c.done = nil, nil
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}
