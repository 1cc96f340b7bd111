package database

import (
	"errors"
	"fmt"
	"slices"
)

var (
	ErrBoardNotFound    = errors.New("board not found")
	ErrCardNotFound     = errors.New("card not found")
	ErrLabelNotFound    = errors.New("label not found")
	ErrInvalidColumn    = errors.New("invalid column")
	ErrDuplicateCard    = errors.New("duplicate card id")
	ErrWIPLimitExceeded = errors.New("wip limit exceeded")
)

// NewBoardState returns an empty board with default WIP limits
func NewBoardState(boardID string) *BoardState {
	return &BoardState{
		BoardID:   boardID,
		Members:   []string{},
		Todo:      []Card{},
		Doing:     []Card{},
		Done:      []Card{},
		WIPLimits: DefaultWIPLimits(),
		Labels:    []Label{},
	}
}

// ValidColumn reports whether name is one of the three board columns
func ValidColumn(name string) bool {
	return slices.Contains(Columns, name)
}

func (b *BoardState) column(name string) (*[]Card, error) {
	switch name {
	case ColumnTodo:
		return &b.Todo, nil
	case ColumnDoing:
		return &b.Doing, nil
	case ColumnDone:
		return &b.Done, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrInvalidColumn, name)
}

// Limit returns the WIP cap for a column. Non-positive stored values fall
// back to the default for that column.
func (b *BoardState) Limit(name string) int {
	defaults := DefaultWIPLimits()
	var limit, fallback int
	switch name {
	case ColumnTodo:
		limit, fallback = b.WIPLimits.Todo, defaults.Todo
	case ColumnDoing:
		limit, fallback = b.WIPLimits.Doing, defaults.Doing
	case ColumnDone:
		limit, fallback = b.WIPLimits.Done, defaults.Done
	}
	if limit <= 0 {
		return fallback
	}
	return limit
}

// CheckWIP is the admission check for adding one card to a column.
func (b *BoardState) CheckWIP(name string) error {
	col, err := b.column(name)
	if err != nil {
		return err
	}
	limit := b.Limit(name)
	if len(*col)+1 > limit {
		return fmt.Errorf("%w: %s holds %d of %d", ErrWIPLimitExceeded, name, len(*col), limit)
	}
	return nil
}

// FindCard returns the column and index holding cardID
func (b *BoardState) FindCard(cardID string) (string, int, bool) {
	for _, name := range Columns {
		col, _ := b.column(name)
		for i, c := range *col {
			if c.ID == cardID {
				return name, i, true
			}
		}
	}
	return "", -1, false
}

// AddCard appends card to a column after the admission check
func (b *BoardState) AddCard(name string, card Card) error {
	col, err := b.column(name)
	if err != nil {
		return err
	}
	if _, _, ok := b.FindCard(card.ID); ok {
		return fmt.Errorf("%w: %s", ErrDuplicateCard, card.ID)
	}
	if err := b.CheckWIP(name); err != nil {
		return err
	}
	*col = append(*col, card)
	return nil
}

// MoveCard removes a card from its column and inserts it into toColumn at
// toIndex (clamped; negative appends). Cross-column moves are admission
// checked first and leave the board untouched on rejection. A move inside
// the same column is a reorder and never changes occupancy.
func (b *BoardState) MoveCard(cardID, toColumn string, toIndex int) error {
	dst, err := b.column(toColumn)
	if err != nil {
		return err
	}
	fromColumn, idx, ok := b.FindCard(cardID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrCardNotFound, cardID)
	}
	if fromColumn != toColumn {
		if err := b.CheckWIP(toColumn); err != nil {
			return err
		}
	}

	src, _ := b.column(fromColumn)
	card := (*src)[idx]
	*src = slices.Delete(*src, idx, idx+1)

	if toIndex < 0 || toIndex > len(*dst) {
		toIndex = len(*dst)
	}
	*dst = slices.Insert(*dst, toIndex, card)
	return nil
}

// RemoveLabel deletes a label and prunes its id from every card
func (b *BoardState) RemoveLabel(labelID string) error {
	idx := slices.IndexFunc(b.Labels, func(l Label) bool { return l.ID == labelID })
	if idx < 0 {
		return fmt.Errorf("%w: %s", ErrLabelNotFound, labelID)
	}
	b.Labels = slices.Delete(b.Labels, idx, idx+1)
	b.PruneLabel(labelID)
	return nil
}

// PruneLabel strips labelID from the label list of every card
func (b *BoardState) PruneLabel(labelID string) {
	for _, name := range Columns {
		col, _ := b.column(name)
		for i := range *col {
			card := &(*col)[i]
			if len(card.Labels) == 0 {
				continue
			}
			card.Labels = slices.DeleteFunc(card.Labels, func(id string) bool { return id == labelID })
		}
	}
}

// Apply merges a partial update into the board. Columns and labels are
// replaced whole; WIP limits merge per column.
func (b *BoardState) Apply(p BoardPatch) {
	if p.Name != nil {
		b.Name = *p.Name
	}
	if p.Todo != nil {
		b.Todo = *p.Todo
	}
	if p.Doing != nil {
		b.Doing = *p.Doing
	}
	if p.Done != nil {
		b.Done = *p.Done
	}
	if p.Labels != nil {
		b.Labels = *p.Labels
	}
	if p.Members != nil {
		b.Members = *p.Members
	}
	if p.Owner != nil {
		b.Owner = *p.Owner
	}
	if p.WIPLimits != nil {
		if p.WIPLimits.Todo != nil {
			b.WIPLimits.Todo = *p.WIPLimits.Todo
		}
		if p.WIPLimits.Doing != nil {
			b.WIPLimits.Doing = *p.WIPLimits.Doing
		}
		if p.WIPLimits.Done != nil {
			b.WIPLimits.Done = *p.WIPLimits.Done
		}
	}
	if p.UpdatedAt != 0 {
		b.UpdatedAt = p.UpdatedAt
	}
}

// Patch returns a patch that rewrites every mutable field of the board
func (b *BoardState) Patch() BoardPatch {
	todo, doing, done := b.Todo, b.Doing, b.Done
	labels, members := b.Labels, b.Members
	name, owner := b.Name, b.Owner
	w := b.WIPLimits
	return BoardPatch{
		Name:      &name,
		Owner:     &owner,
		Members:   &members,
		Todo:      &todo,
		Doing:     &doing,
		Done:      &done,
		Labels:    &labels,
		WIPLimits: &WIPPatch{Todo: &w.Todo, Doing: &w.Doing, Done: &w.Done},
		UpdatedAt: b.UpdatedAt,
	}
}
