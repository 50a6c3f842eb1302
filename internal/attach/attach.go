// Package attach tracks the files queued for the next submission.
package attach

import (
	"errors"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"sync"
)

// ErrDuplicate is returned when a file with the same name and size is
// already attached.
var ErrDuplicate = errors.New("file already attached")

// File is one user-attached file pending submission. Identity is the
// (Name, Size) pair; Path is the opaque handle the ingestor reads from.
type File struct {
	Name     string
	Size     int64
	MimeType string
	Path     string
}

// FromPath stats a file on disk and derives its attachment metadata.
func FromPath(path string) (File, error) {
	info, err := os.Stat(path)
	if err != nil {
		return File{}, fmt.Errorf("stat attachment: %w", err)
	}
	if info.IsDir() {
		return File{}, fmt.Errorf("attachment %s is a directory", path)
	}
	return File{
		Name:     info.Name(),
		Size:     info.Size(),
		MimeType: mime.TypeByExtension(filepath.Ext(path)),
		Path:     path,
	}, nil
}

// Set is the ordered pending-attachment set for the active session.
// Files keep their attachment order; duplicates by (name, size) are
// rejected at attach time.
type Set struct {
	mu    sync.Mutex
	files []File
}

// NewSet returns an empty attachment set.
func NewSet() *Set {
	return &Set{}
}

// Add appends a file, rejecting duplicates by (name, size).
func (s *Set) Add(f File) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.files {
		if existing.Name == f.Name && existing.Size == f.Size {
			return fmt.Errorf("%w: %s", ErrDuplicate, f.Name)
		}
	}
	s.files = append(s.files, f)
	return nil
}

// Remove drops the attached file identified by name and size. Identity
// matches Add's duplicate check, so at most one entry goes.
func (s *Set) Remove(name string, size int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.files[:0]
	for _, f := range s.files {
		if f.Name != name || f.Size != size {
			kept = append(kept, f)
		}
	}
	s.files = kept
}

// Clear empties the set. Called on successful submission and session clear.
func (s *Set) Clear() {
	s.mu.Lock()
	s.files = nil
	s.mu.Unlock()
}

// List returns a copy of the attached files in attachment order.
func (s *Set) List() []File {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]File, len(s.files))
	copy(out, s.files)
	return out
}

// Len reports the number of attached files.
func (s *Set) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.files)
}
