package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/CrowderSoup/kanban-sync/database"
	"github.com/google/uuid"
)

// BoardService applies single-entity mutations coming from the HTTP API.
// Mutations run in the board's write queue, behind any socket update for the
// same board that is still being written, so the WIP admission check here is
// authoritative and never reads a board older than what clients were shown.
// Each accepted mutation is persisted and then broadcast as a full
// kanban:update.
type BoardService struct {
	store  database.BoardStore
	syncer *BoardSync
	queue  *detachedWriter
	now    func() time.Time
}

func NewBoardService(store database.BoardStore, syncer *BoardSync, now func() time.Time) *BoardService {
	if now == nil {
		now = time.Now
	}
	queue := newDetachedWriter(0)
	if syncer != nil {
		queue = syncer.writer
	}
	return &BoardService{store: store, syncer: syncer, queue: queue, now: now}
}

// Get returns the stored board, or an empty default board if none exists
func (s *BoardService) Get(ctx context.Context, boardID string) (*database.BoardState, error) {
	board, err := s.store.GetBoardState(ctx, boardID)
	if errors.Is(err, database.ErrBoardNotFound) {
		return database.NewBoardState(boardID), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load board %s: %w", boardID, err)
	}
	return board, nil
}

func (s *BoardService) mutate(ctx context.Context, boardID string, fn func(*database.BoardState) error) (*database.BoardState, error) {
	if boardID == "" {
		return nil, domainError(http.StatusBadRequest, "invalid_board", "boardId is required")
	}

	var board *database.BoardState
	err := s.queue.Do(ctx, boardWriteKey(boardID), func(ctx context.Context) error {
		if !s.store.IsStoreReady(ctx) {
			return asDomainError(errStoreUnavailable)
		}
		b, err := s.Get(ctx, boardID)
		if err != nil {
			return err
		}
		if err := fn(b); err != nil {
			return asDomainError(err)
		}

		b.UpdatedAt = epochMillis(s.now())
		if err := s.store.UpsertBoardState(ctx, boardID, contentPatch(b)); err != nil {
			return fmt.Errorf("failed to save board %s: %w", boardID, err)
		}
		if s.syncer != nil {
			s.syncer.BroadcastBoard(b)
		}
		board = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	return board, nil
}

// contentPatch covers the fields HTTP mutations touch, leaving name and WIP
// limits to whoever owns them.
func contentPatch(b *database.BoardState) database.BoardPatch {
	todo, doing, done, labels := b.Todo, b.Doing, b.Done, b.Labels
	return database.BoardPatch{
		Todo:      &todo,
		Doing:     &doing,
		Done:      &done,
		Labels:    &labels,
		UpdatedAt: b.UpdatedAt,
	}
}

// AddCard creates a card in column, subject to the column's WIP limit
func (s *BoardService) AddCard(ctx context.Context, boardID, column string, card database.Card) (*database.BoardState, error) {
	if card.ID == "" {
		card.ID = uuid.NewString()
	}
	now := epochMillis(s.now())
	if card.CreatedAt == 0 {
		card.CreatedAt = now
	}
	card.UpdatedAt = now
	return s.mutate(ctx, boardID, func(b *database.BoardState) error {
		return b.AddCard(column, card)
	})
}

// MoveCard moves a card into toColumn at toIndex. A move into a column at
// its WIP limit is rejected and nothing is written or broadcast.
func (s *BoardService) MoveCard(ctx context.Context, boardID, cardID, toColumn string, toIndex int) (*database.BoardState, error) {
	return s.mutate(ctx, boardID, func(b *database.BoardState) error {
		return b.MoveCard(cardID, toColumn, toIndex)
	})
}

// CreateLabel adds a label to the board
func (s *BoardService) CreateLabel(ctx context.Context, boardID, name, color string) (database.Label, error) {
	label := database.Label{
		ID:        uuid.NewString(),
		Name:      name,
		Color:     color,
		CreatedAt: epochMillis(s.now()),
	}
	_, err := s.mutate(ctx, boardID, func(b *database.BoardState) error {
		b.Labels = append(b.Labels, label)
		return nil
	})
	return label, err
}

// DeleteLabel removes a label and prunes it from every card of the board
func (s *BoardService) DeleteLabel(ctx context.Context, boardID, labelID string) (*database.BoardState, error) {
	return s.mutate(ctx, boardID, func(b *database.BoardState) error {
		return b.RemoveLabel(labelID)
	})
}
