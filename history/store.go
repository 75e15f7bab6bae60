// Package history persists what happened in each session as an append-only
// JSON-lines file per session.
package history

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/zhubert/plural-orchestrator/logger"
	"github.com/zhubert/plural-orchestrator/paths"
)

// DefaultMaxEntries is the number of entries Trim keeps when a Recorder has
// no explicit limit.
const DefaultMaxEntries = 10000

const fileExt = ".jsonl"

// Entry roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
	RoleResult    = "result"
	RoleError     = "error"
)

// Entry is one record in a session's history.
type Entry struct {
	ID      string    `json:"id"`
	Time    time.Time `json:"time"`
	Role    string    `json:"role"`
	Content string    `json:"content"`

	ToolName   string  `json:"toolName,omitempty"`
	IsError    bool    `json:"isError,omitempty"`
	CostUSD    float64 `json:"cost,omitempty"`
	DurationMS int64   `json:"durationMs,omitempty"`
}

// Store reads and writes history files under a directory.
type Store struct {
	dir string
	mu  sync.Mutex
	now func() time.Time
}

// NewStore creates a store rooted at dir. The directory is created on the
// first write.
func NewStore(dir string) *Store {
	return &Store{dir: dir, now: time.Now}
}

// DefaultStore returns a store rooted at paths.HistoryDir.
func DefaultStore() (*Store, error) {
	dir, err := paths.HistoryDir()
	if err != nil {
		return nil, err
	}
	return NewStore(dir), nil
}

// Dir returns the store's directory.
func (s *Store) Dir() string { return s.dir }

func (s *Store) path(sessionID string) string {
	return filepath.Join(s.dir, paths.FileName(sessionID)+fileExt)
}

// Append adds entries to the session's history, assigning ids and times to
// entries that lack them.
func (s *Store) Append(sessionID string, entries ...Entry) error {
	if len(entries) == 0 {
		return nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, e := range entries {
		if e.ID == "" {
			e.ID = ulid.Make().String()
		}
		if e.Time.IsZero() {
			e.Time = s.now().UTC()
		}
		if err := enc.Encode(e); err != nil {
			return fmt.Errorf("encode history entry: %w", err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return err
	}
	f, err := os.OpenFile(s.path(sessionID), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	if _, err := f.Write(buf.Bytes()); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Load returns the session's history in append order. A session without
// history yields an empty slice. Lines that fail to decode are skipped.
func (s *Store) Load(sessionID string) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked(sessionID)
}

func (s *Store) loadLocked(sessionID string) ([]Entry, error) {
	f, err := os.Open(s.path(sessionID))
	if errors.Is(err, os.ErrNotExist) {
		return []Entry{}, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	entries := []Entry{}
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(raw, &e); err != nil {
			logger.WithSession(sessionID).Warn("skipping corrupt history line", "line", line, "error", err)
			continue
		}
		entries = append(entries, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read history %s: %w", sessionID, err)
	}
	return entries, nil
}

// Trim rewrites the session's history keeping only the last maxEntries
// entries. It returns the number of entries removed.
func (s *Store) Trim(sessionID string, maxEntries int) (int, error) {
	if maxEntries <= 0 {
		return 0, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.loadLocked(sessionID)
	if err != nil {
		return 0, err
	}
	if len(entries) <= maxEntries {
		return 0, nil
	}
	removed := len(entries) - maxEntries
	entries = entries[removed:]

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, e := range entries {
		if err := enc.Encode(e); err != nil {
			return 0, err
		}
	}

	tmp := s.path(sessionID) + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0644); err != nil {
		return 0, err
	}
	if err := os.Rename(tmp, s.path(sessionID)); err != nil {
		os.Remove(tmp)
		return 0, err
	}
	return removed, nil
}

// Delete removes the session's history. Deleting a missing history is not
// an error.
func (s *Store) Delete(sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.path(sessionID))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// ClearAll deletes every history file and returns how many were removed.
func (s *Store) ClearAll() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	deleted := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), fileExt) {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, entry.Name())); err != nil {
			continue // Best-effort deletion
		}
		deleted++
	}
	return deleted, nil
}

// FormatTranscript renders entries as a plain-text transcript, one block
// per entry separated by blank lines.
func FormatTranscript(entries []Entry) string {
	var sb strings.Builder
	for i, e := range entries {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		switch e.Role {
		case RoleUser:
			sb.WriteString("User:\n")
		case RoleAssistant:
			sb.WriteString("Assistant:\n")
		case RoleTool:
			if e.IsError {
				fmt.Fprintf(&sb, "Tool %s (failed):\n", e.ToolName)
			} else {
				fmt.Fprintf(&sb, "Tool %s:\n", e.ToolName)
			}
		case RoleResult:
			fmt.Fprintf(&sb, "Result (%.1fs, $%.4f):\n", float64(e.DurationMS)/1000, e.CostUSD)
		case RoleError:
			sb.WriteString("Error:\n")
		default:
			sb.WriteString(e.Role + ":\n")
		}
		sb.WriteString(e.Content)
	}
	return sb.String()
}
