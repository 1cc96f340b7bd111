package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS board_states (
	board_id   TEXT PRIMARY KEY,
	doc        JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS chat_messages (
	id       BIGSERIAL PRIMARY KEY,
	board_id TEXT NOT NULL,
	author   TEXT NOT NULL,
	text     TEXT NOT NULL,
	ts       BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS chat_messages_board_idx ON chat_messages (board_id, id);
`

// PostgresStore keeps board documents as JSONB. Partial upserts merge with
// the jsonb || operator inside one statement, so two writers touching
// different fields of the same board never clobber each other.
type PostgresStore struct {
	db *sql.DB
}

// OpenPostgres connects through the pgx driver and applies the schema
func OpenPostgres(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetConnMaxIdleTime(5 * time.Minute)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetMaxIdleConns(5)
	db.SetMaxOpenConns(10)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	if _, err := db.ExecContext(ctx, postgresSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func (s *PostgresStore) IsStoreReady(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return s.db.PingContext(ctx) == nil
}

func (s *PostgresStore) GetBoardState(ctx context.Context, boardID string) (*BoardState, error) {
	var doc []byte
	err := s.db.QueryRowContext(ctx, `select doc from board_states where board_id=$1`, boardID).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrBoardNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query board state: %w", err)
	}
	return decodeBoard(boardID, doc)
}

func (s *PostgresStore) UpsertBoardState(ctx context.Context, boardID string, patch BoardPatch) error {
	initial := NewBoardState(boardID)
	initial.Apply(patch)
	normalize(initial)
	initialJSON, err := json.Marshal(initial)
	if err != nil {
		return fmt.Errorf("marshal board state: %w", err)
	}
	topJSON, err := patch.topLevelJSON()
	if err != nil {
		return fmt.Errorf("marshal board patch: %w", err)
	}
	wipJSON, err := patch.wipJSON()
	if err != nil {
		return fmt.Errorf("marshal wip patch: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		insert into board_states (board_id, doc, updated_at)
		values ($1, $2::jsonb, now())
		on conflict (board_id) do update set
			doc = (board_states.doc || $3::jsonb)
				|| jsonb_build_object('wipLimits', coalesce(board_states.doc->'wipLimits', '{}'::jsonb) || $4::jsonb),
			updated_at = now()`,
		boardID, string(initialJSON), string(topJSON), string(wipJSON))
	if err != nil {
		return fmt.Errorf("upsert board state: %w", err)
	}
	return nil
}

func (s *PostgresStore) SaveChatMessage(ctx context.Context, msg ChatMessage) error {
	_, err := s.db.ExecContext(ctx,
		`insert into chat_messages (board_id, author, text, ts) values ($1, $2, $3, $4)`,
		msg.BoardID, msg.Author, msg.Text, msg.TS)
	if err != nil {
		return fmt.Errorf("insert chat message: %w", err)
	}
	return nil
}

func (s *PostgresStore) ChatHistory(ctx context.Context, boardID string, limit int) ([]ChatMessage, error) {
	rows, err := s.db.QueryContext(ctx, `
		select board_id, author, text, ts from (
			select id, board_id, author, text, ts from chat_messages
			where board_id=$1 order by id desc limit $2
		) recent order by id`, boardID, limit)
	if err != nil {
		return nil, fmt.Errorf("query chat messages: %w", err)
	}
	defer rows.Close()

	out := []ChatMessage{}
	for rows.Next() {
		var m ChatMessage
		if err := rows.Scan(&m.BoardID, &m.Author, &m.Text, &m.TS); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
