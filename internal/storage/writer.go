package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/sjawhar/mock-interviewer/internal/transcript"
)

// TranscriptArchive writes each finished call's transcript to
// <dir>/<session id>.md.
type TranscriptArchive struct {
	dir     string
	now     func() time.Time
	onSaved func(ctx context.Context, path string)
	mu      sync.Mutex
}

func NewTranscriptArchive(dir string) *TranscriptArchive {
	return &TranscriptArchive{dir: dir, now: time.Now}
}

// OnSaved registers a hook run after each successful write.
func (a *TranscriptArchive) OnSaved(fn func(ctx context.Context, path string)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onSaved = fn
}

func (a *TranscriptArchive) Save(ctx context.Context, sessionID, title string, utterances []transcript.Utterance) (string, error) {
	name := filepath.Base(strings.TrimSpace(sessionID))
	if name == "" || name == "." || name == string(filepath.Separator) {
		return "", errors.New("archive session id is required")
	}

	a.mu.Lock()
	if err := os.MkdirAll(a.dir, 0o755); err != nil {
		a.mu.Unlock()
		return "", fmt.Errorf("mkdir %s: %w", a.dir, err)
	}

	path := filepath.Join(a.dir, name+".md")
	content := transcript.FormatMarkdown(title, a.now(), utterances)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		a.mu.Unlock()
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	hook := a.onSaved
	a.mu.Unlock()

	if hook != nil {
		hook(ctx, path)
	}
	return path, nil
}

func (a *TranscriptArchive) Path(sessionID string) string {
	return filepath.Join(a.dir, filepath.Base(sessionID)+".md")
}
