package database

import (
	"context"
	"encoding/json"
)

// BoardStore holds the authoritative BoardState documents keyed by board id
type BoardStore interface {
	GetBoardState(ctx context.Context, boardID string) (*BoardState, error)
	// UpsertBoardState creates the board if missing and otherwise merges
	// only the fields present in the patch.
	UpsertBoardState(ctx context.Context, boardID string, patch BoardPatch) error
	IsStoreReady(ctx context.Context) bool
}

// ChatStore persists board chat messages
type ChatStore interface {
	SaveChatMessage(ctx context.Context, msg ChatMessage) error
	// ChatHistory returns up to limit recent messages, oldest first
	ChatHistory(ctx context.Context, boardID string, limit int) ([]ChatMessage, error)
}

// Store is the full persistence collaborator the server is wired with
type Store interface {
	BoardStore
	ChatStore
	Close() error
}

// BoardPatch is a partial BoardState update. Nil fields are left untouched.
type BoardPatch struct {
	Name      *string   `json:"name,omitempty"`
	Owner     *string   `json:"owner,omitempty"`
	Members   *[]string `json:"members,omitempty"`
	Todo      *[]Card   `json:"todo,omitempty"`
	Doing     *[]Card   `json:"doing,omitempty"`
	Done      *[]Card   `json:"done,omitempty"`
	Labels    *[]Label  `json:"labels,omitempty"`
	WIPLimits *WIPPatch `json:"wipLimits,omitempty"`
	UpdatedAt int64     `json:"updatedAt,omitempty"`
}

type WIPPatch struct {
	Todo  *int `json:"todo,omitempty"`
	Doing *int `json:"doing,omitempty"`
	Done  *int `json:"done,omitempty"`
}

// Positive returns a copy holding only the positive caps, or nil if none is
// left.
func (p *WIPPatch) Positive() *WIPPatch {
	if p == nil {
		return nil
	}
	keep := func(v *int) *int {
		if v == nil || *v <= 0 {
			return nil
		}
		n := *v
		return &n
	}
	out := &WIPPatch{Todo: keep(p.Todo), Doing: keep(p.Doing), Done: keep(p.Done)}
	if out.Todo == nil && out.Doing == nil && out.Done == nil {
		return nil
	}
	return out
}

// Empty reports whether the patch carries no field besides the timestamp
func (p BoardPatch) Empty() bool {
	return p.Name == nil && p.Owner == nil && p.Members == nil &&
		p.Todo == nil && p.Doing == nil && p.Done == nil && p.Labels == nil &&
		(p.WIPLimits == nil || (p.WIPLimits.Todo == nil && p.WIPLimits.Doing == nil && p.WIPLimits.Done == nil))
}

// topLevelJSON encodes every present field except wipLimits, which callers
// merge per column.
func (p BoardPatch) topLevelJSON() ([]byte, error) {
	top := p
	top.WIPLimits = nil
	return json.Marshal(top)
}

func (p BoardPatch) wipJSON() ([]byte, error) {
	if p.WIPLimits == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(p.WIPLimits)
}

// normalize replaces nil slices so stored documents always carry arrays
func normalize(b *BoardState) {
	if b.Members == nil {
		b.Members = []string{}
	}
	if b.Todo == nil {
		b.Todo = []Card{}
	}
	if b.Doing == nil {
		b.Doing = []Card{}
	}
	if b.Done == nil {
		b.Done = []Card{}
	}
	if b.Labels == nil {
		b.Labels = []Label{}
	}
}
