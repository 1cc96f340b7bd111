package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// InitDB opens the SQLite database at path and creates the board tables.
// Transactions take the write lock up front so concurrent read-modify-write
// upserts serialize instead of failing with SQLITE_BUSY.
func InitDB(path string) (*sql.DB, error) {
	dsn := fmt.Sprintf("file:%s?_txlock=immediate&_busy_timeout=5000&_foreign_keys=on", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Create board state table (one JSON document per board)
	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS board_states (
		board_id TEXT PRIMARY KEY,
		doc TEXT NOT NULL,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create board_states table: %w", err)
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS chat_messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		board_id TEXT NOT NULL,
		author TEXT NOT NULL,
		text TEXT NOT NULL,
		ts INTEGER NOT NULL
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create chat_messages table: %w", err)
	}

	return db, nil
}

// SQLiteStore keeps board documents as JSON text in SQLite
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// OpenSQLiteStore initializes the schema at path and wraps it in a store
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := InitDB(path)
	if err != nil {
		return nil, err
	}
	return NewSQLiteStore(db), nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) IsStoreReady(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return s.db.PingContext(ctx) == nil
}

// GetBoardState retrieves a board document
func (s *SQLiteStore) GetBoardState(ctx context.Context, boardID string) (*BoardState, error) {
	row := s.db.QueryRowContext(ctx, "SELECT doc FROM board_states WHERE board_id = ?", boardID)

	var doc string
	err := row.Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrBoardNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query board state: %w", err)
	}

	return decodeBoard(boardID, []byte(doc))
}

// UpsertBoardState merges patch into the stored document inside one
// transaction, creating the document when it does not exist yet.
func (s *SQLiteStore) UpsertBoardState(ctx context.Context, boardID string, patch BoardPatch) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	board := NewBoardState(boardID)
	var doc string
	err = tx.QueryRowContext(ctx, "SELECT doc FROM board_states WHERE board_id = ?", boardID).Scan(&doc)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return fmt.Errorf("failed to query board state: %w", err)
	default:
		if board, err = decodeBoard(boardID, []byte(doc)); err != nil {
			return err
		}
	}

	board.Apply(patch)
	normalize(board)
	data, err := json.Marshal(board)
	if err != nil {
		return fmt.Errorf("failed to marshal board state: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO board_states (board_id, doc, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(board_id) DO UPDATE SET
			doc = excluded.doc,
			updated_at = CURRENT_TIMESTAMP
	`, boardID, string(data))
	if err != nil {
		return fmt.Errorf("failed to upsert board state: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *SQLiteStore) SaveChatMessage(ctx context.Context, msg ChatMessage) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO chat_messages (board_id, author, text, ts) VALUES (?, ?, ?, ?)",
		msg.BoardID, msg.Author, msg.Text, msg.TS)
	if err != nil {
		return fmt.Errorf("failed to insert chat message: %w", err)
	}
	return nil
}

// ChatHistory returns the most recent messages for a board, oldest first
func (s *SQLiteStore) ChatHistory(ctx context.Context, boardID string, limit int) ([]ChatMessage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT board_id, author, text, ts FROM (
			SELECT id, board_id, author, text, ts FROM chat_messages
			WHERE board_id = ? ORDER BY id DESC LIMIT ?
		) ORDER BY id ASC`, boardID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query chat messages: %w", err)
	}
	defer rows.Close()

	out := []ChatMessage{}
	for rows.Next() {
		var m ChatMessage
		if err := rows.Scan(&m.BoardID, &m.Author, &m.Text, &m.TS); err != nil {
			return nil, fmt.Errorf("failed to scan chat message: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func decodeBoard(boardID string, doc []byte) (*BoardState, error) {
	board := NewBoardState(boardID)
	if err := json.Unmarshal(doc, board); err != nil {
		return nil, fmt.Errorf("failed to unmarshal board state: %w", err)
	}
	board.BoardID = boardID
	normalize(board)
	return board, nil
}
