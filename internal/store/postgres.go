package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stagecast/stagecast/internal/domain"
)

// PostgresStore persists chat history in a flat messages table. Reactions
// live in a JSONB column on the message row so the toggle can run in one
// transaction.
type PostgresStore struct {
	pool *pgxpool.Pool
}

const messagesSchema = `
CREATE TABLE IF NOT EXISTS messages (
	id        TEXT PRIMARY KEY,
	room_id   TEXT NOT NULL,
	user_id   TEXT NOT NULL,
	user_name TEXT NOT NULL,
	body      TEXT NOT NULL,
	ts        BIGINT NOT NULL,
	reactions JSONB NOT NULL DEFAULT '[]'::jsonb
);
CREATE INDEX IF NOT EXISTS idx_messages_room_ts ON messages (room_id, ts);
`

// NewPostgresStore connects to Postgres and ensures the messages schema.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}

	config.MaxConns = 10
	config.MaxConnLifetime = time.Hour
	config.MaxConnIdleTime = 30 * time.Minute
	config.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := pool.Exec(ctx, messagesSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensure messages schema: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) SaveMessage(ctx context.Context, msg *domain.ChatMessage) error {
	reactions := msg.Reactions
	if reactions == nil {
		reactions = []domain.Reaction{}
	}
	data, err := json.Marshal(reactions)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO messages (id, room_id, user_id, user_name, body, ts, reactions)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, msg.ID, msg.RoomID, msg.UserID, msg.UserName, msg.Message, msg.Timestamp, data)
	return err
}

func (s *PostgresStore) Messages(ctx context.Context, roomID string, limit int) ([]domain.ChatMessage, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, room_id, user_id, user_name, body, ts, reactions
		FROM messages
		WHERE room_id = $1
		ORDER BY ts ASC
		LIMIT $2
	`, roomID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.ChatMessage
	for rows.Next() {
		var m domain.ChatMessage
		var reactions []byte
		if err := rows.Scan(&m.ID, &m.RoomID, &m.UserID, &m.UserName, &m.Message, &m.Timestamp, &reactions); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(reactions, &m.Reactions); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *PostgresStore) DeleteRoomMessages(ctx context.Context, roomID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM messages WHERE room_id = $1`, roomID)
	return err
}

// AddReaction toggles the reaction inside a transaction so concurrent
// toggles on the same message serialize on the row lock.
func (s *PostgresStore) AddReaction(ctx context.Context, roomID, messageID, userID, emoji string) ([]domain.Reaction, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	var data []byte
	err = tx.QueryRow(ctx, `
		SELECT reactions FROM messages
		WHERE id = $1 AND room_id = $2
		FOR UPDATE
	`, messageID, roomID).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrMessageNotFound
	}
	if err != nil {
		return nil, err
	}

	var reactions []domain.Reaction
	if err := json.Unmarshal(data, &reactions); err != nil {
		return nil, err
	}
	reactions = toggleReaction(reactions, userID, emoji)
	if reactions == nil {
		reactions = []domain.Reaction{}
	}

	updated, err := json.Marshal(reactions)
	if err != nil {
		return nil, err
	}
	if _, err := tx.Exec(ctx, `UPDATE messages SET reactions = $1 WHERE id = $2`, updated, messageID); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return reactions, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
