// Package identity persists the opaque chat id across runs. The core
// treats the id as an unvalidated routing key; this package only decides
// where it lives.
package identity

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// ErrNotFound reports that no chat id has been stored yet.
var ErrNotFound = errors.New("no chat id stored")

// Store persists a single chat id.
type Store interface {
	Load(ctx context.Context) (string, error)
	Save(ctx context.Context, chatID string) error
	Clear(ctx context.Context) error
}

// GetOrCreate returns the stored chat id, minting and persisting a new
// one when none exists.
func GetOrCreate(ctx context.Context, s Store) (string, error) {
	id, err := s.Load(ctx)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return "", err
	}
	id = uuid.NewString()
	if err := s.Save(ctx, id); err != nil {
		return "", fmt.Errorf("persist chat id: %w", err)
	}
	return id, nil
}

// Reset discards the stored id and mints a fresh one.
func Reset(ctx context.Context, s Store) (string, error) {
	if err := s.Clear(ctx); err != nil {
		return "", err
	}
	return GetOrCreate(ctx, s)
}

// FileStore keeps the chat id in a plain file under the state directory.
type FileStore struct {
	path string
}

// NewFileStore builds a file-backed store at path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (f *FileStore) Load(ctx context.Context) (string, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("read chat id: %w", err)
	}
	id := strings.TrimSpace(string(data))
	if id == "" {
		return "", ErrNotFound
	}
	return id, nil
}

func (f *FileStore) Save(ctx context.Context, chatID string) error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	if err := os.WriteFile(f.path, []byte(chatID+"\n"), 0o600); err != nil {
		return fmt.Errorf("write chat id: %w", err)
	}
	return nil
}

func (f *FileStore) Clear(ctx context.Context) error {
	if err := os.Remove(f.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove chat id: %w", err)
	}
	return nil
}
