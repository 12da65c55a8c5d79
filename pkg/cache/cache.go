package cache

// Package cache persists conversation summaries between runs. The snapshot is
// a fallback only: it is written through on every successful listing and read
// back exclusively when the server cannot be reached before any conversations
// have loaded.

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/stoday/simplechat/pkg/chat"
)

const snapshotFile = "conversations.json"

// snapshot is the on-disk format. Message bodies are never cached.
type snapshot struct {
	SavedAt       time.Time           `json:"saved_at"`
	Conversations []chat.Conversation `json:"conversations"`
}

// Store writes and reads the conversation snapshot under a directory,
// typically ~/.simplechat.
type Store struct {
	dir string
}

func New(dir string) *Store {
	return &Store{dir: dir}
}

// DefaultDir returns ~/.simplechat, falling back to the working directory
// when the home directory cannot be determined.
func DefaultDir() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "."
	}
	return filepath.Join(homeDir, ".simplechat")
}

// Save replaces the snapshot. The write goes through a temp file and a rename
// so a crash mid-write cannot leave a truncated snapshot behind.
func (s *Store) Save(conversations []chat.Conversation) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return errors.Wrap(err, "failed to create cache directory")
	}

	b, err := json.MarshalIndent(snapshot{
		SavedAt:       time.Now().UTC(),
		Conversations: conversations,
	}, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to encode snapshot")
	}

	tmp := filepath.Join(s.dir, snapshotFile+".tmp")
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return errors.Wrap(err, "failed to write snapshot")
	}
	if err := os.Rename(tmp, filepath.Join(s.dir, snapshotFile)); err != nil {
		return errors.Wrap(err, "failed to replace snapshot")
	}

	log.Trace().Str("dir", s.dir).Int("conversations", len(conversations)).Msg("conversation snapshot saved")
	return nil
}

// Load returns the cached conversations, or nil when no snapshot exists.
func (s *Store) Load() ([]chat.Conversation, error) {
	b, err := os.ReadFile(filepath.Join(s.dir, snapshotFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "failed to read snapshot")
	}

	var snap snapshot
	if err := json.Unmarshal(b, &snap); err != nil {
		return nil, errors.Wrap(err, "failed to decode snapshot")
	}
	return snap.Conversations, nil
}
