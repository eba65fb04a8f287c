package grant

import (
	"context"
	"time"
)

// Grant is the system-of-record row for one grant programme. The ID is the
// stable identifier from the source feed and is the reconciliation key.
// Vectors are not stored here; they live in the vector index keyed by ID.
type Grant struct {
	ID                 string     `json:"id"`
	Name               string     `json:"name"`
	Agency             string     `json:"agency"`
	Description        string     `json:"description"`
	FullText           string     `json:"-"`
	MaxFunding         int64      `json:"max_funding"`
	IsOpen             bool       `json:"is_open"`
	Deadline           *string    `json:"deadline"`
	OriginalURL        string     `json:"original_url"`
	ApplicationURL     string     `json:"application_url"`
	KPIs               []string   `json:"kpis"`
	EligibilitySummary []string   `json:"eligibility_summary"`
	NotifiedAt         *time.Time `json:"-"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

type Repository interface {
	List(ctx context.Context) ([]Grant, error)
	GetByIDs(ctx context.Context, ids []string) ([]Grant, error)
	ExistingIDs(ctx context.Context) (map[string]bool, error)
	Upsert(ctx context.Context, g *Grant) error
	UpdateScrapeFields(ctx context.Context, id string, isOpen bool, deadline *string, maxFunding int64) error
	MarkNotified(ctx context.Context, id string) (bool, error)
	Count(ctx context.Context) (total, open int, err error)
}
