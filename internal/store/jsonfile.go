package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/stagecast/stagecast/internal/domain"
)

// JSONFileStore keeps all chat history in a single JSON snapshot on disk.
// Intended for development and small single-instance deployments.
type JSONFileStore struct {
	mu    sync.Mutex
	path  string
	rooms map[string][]domain.ChatMessage
}

// NewJSONFileStore loads (or initializes) the snapshot at path.
func NewJSONFileStore(path string) (*JSONFileStore, error) {
	s := &JSONFileStore{
		path:  path,
		rooms: make(map[string][]domain.ChatMessage),
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &s.rooms); err != nil {
			return nil, fmt.Errorf("parse snapshot %s: %w", path, err)
		}
	}
	return s, nil
}

func (s *JSONFileStore) SaveMessage(ctx context.Context, msg *domain.ChatMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.rooms[msg.RoomID] = append(s.rooms[msg.RoomID], *msg)
	return s.flushLocked()
}

func (s *JSONFileStore) Messages(ctx context.Context, roomID string, limit int) ([]domain.ChatMessage, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	msgs := s.rooms[roomID]
	if len(msgs) > limit {
		msgs = msgs[:limit]
	}
	out := make([]domain.ChatMessage, len(msgs))
	copy(out, msgs)
	return out, nil
}

func (s *JSONFileStore) DeleteRoomMessages(ctx context.Context, roomID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.rooms, roomID)
	return s.flushLocked()
}

func (s *JSONFileStore) AddReaction(ctx context.Context, roomID, messageID, userID, emoji string) ([]domain.Reaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msgs := s.rooms[roomID]
	for i := range msgs {
		if msgs[i].ID != messageID {
			continue
		}
		msgs[i].Reactions = toggleReaction(msgs[i].Reactions, userID, emoji)
		if err := s.flushLocked(); err != nil {
			return nil, err
		}
		if msgs[i].Reactions == nil {
			return []domain.Reaction{}, nil
		}
		out := make([]domain.Reaction, len(msgs[i].Reactions))
		copy(out, msgs[i].Reactions)
		return out, nil
	}
	return nil, domain.ErrMessageNotFound
}

func (s *JSONFileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushLocked()
}

// flushLocked writes the snapshot atomically via temp file + rename.
func (s *JSONFileStore) flushLocked() error {
	data, err := json.MarshalIndent(s.rooms, "", "  ")
	if err != nil {
		return err
	}

	tmp := s.path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}
