package bookmark

import (
	"context"
	"time"
)

// Bookmark records where a user left off in a document.
type Bookmark struct {
	ID            string    `json:"id"`
	UserID        string    `json:"user_id"`
	Document      string    `json:"document"`
	SectionRef    string    `json:"section_ref"`
	OffsetPercent float64   `json:"offset_percent"`
	Voice         string    `json:"voice"`
	Speed         float64   `json:"speed"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Store persists and retrieves reading positions. Save upserts the single
// position a user holds per document.
type Store interface {
	Save(ctx context.Context, b Bookmark) error
	Latest(ctx context.Context, userID, document string) (Bookmark, bool, error)
	List(ctx context.Context, userID string, limit int) ([]Bookmark, error)
	Close() error
}
