package database

// Column names of a board
const (
	ColumnTodo  = "todo"
	ColumnDoing = "doing"
	ColumnDone  = "done"
)

// Columns lists the board columns in display order
var Columns = []string{ColumnTodo, ColumnDoing, ColumnDone}

// Card priorities
const (
	PriorityLow    = "low"
	PriorityMedium = "medium"
	PriorityHigh   = "high"
	PriorityUrgent = "urgent"
)

// BoardState is the authoritative live document for one board
type BoardState struct {
	BoardID   string    `json:"boardId"`
	Name      string    `json:"name,omitempty"`
	Owner     string    `json:"owner,omitempty"`
	Members   []string  `json:"members"`
	Todo      []Card    `json:"todo"`
	Doing     []Card    `json:"doing"`
	Done      []Card    `json:"done"`
	WIPLimits WIPLimits `json:"wipLimits"`
	Labels    []Label   `json:"labels"`
	UpdatedAt int64     `json:"updatedAt"`
}

// WIPLimits caps the number of cards per column
type WIPLimits struct {
	Todo  int `json:"todo"`
	Doing int `json:"doing"`
	Done  int `json:"done"`
}

// DefaultWIPLimits returns the limits a new board starts with
func DefaultWIPLimits() WIPLimits {
	return WIPLimits{Todo: 99, Doing: 3, Done: 99}
}

type Card struct {
	ID          string          `json:"id"`
	Title       string          `json:"title"`
	Description string          `json:"description,omitempty"`
	CreatedAt   int64           `json:"createdAt,omitempty"`
	UpdatedAt   int64           `json:"updatedAt,omitempty"`
	Priority    string          `json:"priority,omitempty"`
	Labels      []string        `json:"labels,omitempty"`
	Assignee    string          `json:"assignee,omitempty"`
	DueDate     *int64          `json:"dueDate,omitempty"`
	Checklist   []ChecklistItem `json:"checklist,omitempty"`
	Metadata    *CardMetadata   `json:"metadata,omitempty"`
}

type ChecklistItem struct {
	ID          string `json:"id"`
	Text        string `json:"text"`
	Completed   bool   `json:"completed"`
	CreatedAt   int64  `json:"createdAt"`
	CompletedAt *int64 `json:"completedAt,omitempty"`
}

// CardMetadata links a card to a git object and its CI state
type CardMetadata struct {
	Type     string `json:"type,omitempty"` // commit, pr or branch
	Ref      string `json:"ref,omitempty"`
	URL      string `json:"url,omitempty"`
	CIStatus string `json:"ciStatus,omitempty"`
}

type Label struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Color     string `json:"color"`
	CreatedAt int64  `json:"createdAt"`
}

// ChatMessage is one persisted board chat line
type ChatMessage struct {
	BoardID string `json:"boardId"`
	Author  string `json:"author"`
	Text    string `json:"text"`
	TS      int64  `json:"ts"`
}
