package transcript

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/MrWong99/telebridge/pkg/transport/twilio"
	"github.com/MrWong99/telebridge/pkg/types"
)

// headerRule separates the call header from the transcript lines.
var headerRule = strings.Repeat("=", 60)

// ErrUnknownCall is returned when appending to or ending a call that was
// never begun or has already ended.
var ErrUnknownCall = errors.New("transcript: unknown call")

// FileStore writes one plain-text transcript per call into a directory:
//
//	Call ID: CA123
//	Date: 2026-10-17 14:03:11
//	============================================================
//
//	Agent: Hello! ...
//
//	User: ...
//
// FileStore is safe for concurrent use.
type FileStore struct {
	dir string

	mu    sync.Mutex
	files map[string]*os.File
}

var _ Sink = (*FileStore)(nil)

// NewFileStore creates dir if needed and returns a [FileStore] writing into it.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("transcript: create dir: %w", err)
	}
	return &FileStore{dir: dir, files: make(map[string]*os.File)}, nil
}

// Path returns the file the transcript of callSID is written to.
func (s *FileStore) Path(callSID string) string {
	return filepath.Join(s.dir, "transcription_"+twilio.FileSafe(callSID)+".txt")
}

// Begin implements [Sink]. An existing file for the same call is truncated.
func (s *FileStore) Begin(_ context.Context, call CallInfo) error {
	f, err := os.Create(s.Path(call.CallSID))
	if err != nil {
		return fmt.Errorf("transcript: create file: %w", err)
	}
	header := fmt.Sprintf("Call ID: %s\nDate: %s\n%s\n\n",
		call.CallSID, call.StartedAt.Format("2006-01-02 15:04:05"), headerRule)
	if _, err := f.WriteString(header); err != nil {
		f.Close()
		return fmt.Errorf("transcript: write header: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.files[call.CallSID]; ok {
		old.Close()
	}
	s.files[call.CallSID] = f
	return nil
}

// Append implements [Sink].
func (s *FileStore) Append(_ context.Context, entry types.TranscriptEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.files[entry.CallSID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownCall, entry.CallSID)
	}
	if _, err := fmt.Fprintf(f, "%s: %s\n\n", entry.Speaker, entry.Text); err != nil {
		return fmt.Errorf("transcript: append: %w", err)
	}
	return nil
}

// End implements [Sink].
func (s *FileStore) End(_ context.Context, callSID string) error {
	s.mu.Lock()
	f, ok := s.files[callSID]
	delete(s.files, callSID)
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownCall, callSID)
	}
	return f.Close()
}

// Close closes the files of calls that never ended.
func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var errs []error
	for sid, f := range s.files {
		errs = append(errs, f.Close())
		delete(s.files, sid)
	}
	return errors.Join(errs...)
}
