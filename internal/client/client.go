// Package client wraps the backend's HTTP surface. The streamed answer
// never arrives through these calls; it comes over the event channel.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"ragchat/internal/compose"
	"ragchat/internal/models"
)

// ErrDuplicateDocument is the recognized, non-fatal condition the
// document endpoint reports for already-ingested content.
var ErrDuplicateDocument = errors.New("document already exists")

// DocumentFileAllowed reports whether a file may enter the retrieval
// corpus. Only plain text formats are accepted.
func DocumentFileAllowed(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".txt", ".md", ".json":
		return true
	default:
		return false
	}
}

// Client issues requests against the backend API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	log        *zap.Logger
}

// New builds a client for the backend at baseURL.
func New(baseURL string, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		log:        log,
	}
}

func (c *Client) postJSON(ctx context.Context, path string, payload any) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.httpClient.Do(req)
}

// drainStatusError turns a non-2xx response into an error carrying a
// snippet of the body.
func drainStatusError(resp *http.Response) error {
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return fmt.Errorf("backend returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
}

// SendChat submits a conversational turn. Any 2xx is acceptance; the
// response body is not otherwise interpreted.
func (c *Client) SendChat(ctx context.Context, chatID string, req *compose.ChatRequest) error {
	resp, err := c.postJSON(ctx, "/chat/"+url.PathEscape(chatID), req)
	if err != nil {
		return fmt.Errorf("submit chat: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return drainStatusError(resp)
	}
	return nil
}

// SendGenerate submits a one-shot generation request.
func (c *Client) SendGenerate(ctx context.Context, chatID string, req *compose.GenerateRequest) error {
	resp, err := c.postJSON(ctx, "/generate/"+url.PathEscape(chatID), req)
	if err != nil {
		return fmt.Errorf("submit generate: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return drainStatusError(resp)
	}
	return nil
}

// Cancel asks the backend to stop the in-flight generation. Best-effort:
// callers proceed with local teardown regardless of the outcome.
func (c *Client) Cancel(ctx context.Context, chatID string) error {
	resp, err := c.postJSON(ctx, "/api/cancel/"+url.PathEscape(chatID), struct{}{})
	if err != nil {
		return fmt.Errorf("cancel request: %w", err)
	}
	defer resp.Body.Close()
	var body struct {
		Success bool   `json:"success"`
		Error   string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("decode cancel response: %w", err)
	}
	if !body.Success {
		return fmt.Errorf("cancel refused: %s", body.Error)
	}
	return nil
}

// History fetches the stored conversation for the chat id.
func (c *Client) History(ctx context.Context, chatID string) ([]models.HistoryEntry, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/history/"+url.PathEscape(chatID), nil)
	if err != nil {
		return nil, fmt.Errorf("build history request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch history: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, drainStatusError(resp)
	}
	var body struct {
		History []models.HistoryEntry `json:"history"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode history: %w", err)
	}
	return body.History, nil
}

// ClearHistory deletes the stored conversation for the chat id.
func (c *Client) ClearHistory(ctx context.Context, chatID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+"/api/history/"+url.PathEscape(chatID), nil)
	if err != nil {
		return fmt.Errorf("build clear request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("clear history: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return drainStatusError(resp)
	}
	return nil
}

// AddDocument uploads one retrieval document to the RAG corpus,
// form-encoded with its metadata. A duplicate is reported as
// ErrDuplicateDocument.
func (c *Client) AddDocument(ctx context.Context, chatID, content string, metadata map[string]any) (int64, error) {
	meta, err := json.Marshal(metadata)
	if err != nil {
		return 0, fmt.Errorf("encode metadata: %w", err)
	}
	form := url.Values{
		"content":  {content},
		"metadata": {string(meta)},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/api/documents/"+url.PathEscape(chatID),
		strings.NewReader(form.Encode()))
	if err != nil {
		return 0, fmt.Errorf("build document request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("upload document: %w", err)
	}
	defer resp.Body.Close()
	var body struct {
		ID    int64  `json:"id"`
		Code  string `json:"code"`
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, fmt.Errorf("decode document response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		if body.Code == "DUPLICATE_DOCUMENT" {
			return 0, ErrDuplicateDocument
		}
		if body.Error != "" {
			return 0, fmt.Errorf("add document: %s", body.Error)
		}
		return 0, fmt.Errorf("add document: status %d", resp.StatusCode)
	}
	return body.ID, nil
}

// Models fetches the backend model catalog.
func (c *Client) Models(ctx context.Context) ([]models.ModelInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/models", nil)
	if err != nil {
		return nil, fmt.Errorf("build models request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch models: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, drainStatusError(resp)
	}
	var body struct {
		Success bool               `json:"success"`
		Models  []models.ModelInfo `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode models: %w", err)
	}
	if !body.Success {
		return nil, errors.New("models endpoint reported failure")
	}
	return body.Models, nil
}

// Setup is the settings payload synchronized with the backend.
type Setup struct {
	ChatModel      string `json:"chatModel"`
	EmbeddingModel string `json:"embeddingModel"`
	SystemPrompt   string `json:"systemPrompt"`
	GeneratePrompt string `json:"generatePrompt"`
}

// SaveSetup persists the settings server-side.
func (c *Client) SaveSetup(ctx context.Context, setup Setup) error {
	resp, err := c.postJSON(ctx, "/api/setup/save", setup)
	if err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	defer resp.Body.Close()
	var body struct {
		Success bool   `json:"success"`
		Error   string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("decode save response: %w", err)
	}
	if !body.Success {
		return fmt.Errorf("save settings refused: %s", body.Error)
	}
	return nil
}

// LoadSetup fetches server-side settings. Callers fall back to local
// configuration when the server is unavailable.
func (c *Client) LoadSetup(ctx context.Context) (*Setup, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/setup/load", nil)
	if err != nil {
		return nil, fmt.Errorf("build setup request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, drainStatusError(resp)
	}
	var body struct {
		Success  bool   `json:"success"`
		Settings *Setup `json:"settings"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode setup: %w", err)
	}
	if !body.Success || body.Settings == nil {
		return nil, errors.New("setup endpoint reported failure")
	}
	return body.Settings, nil
}
