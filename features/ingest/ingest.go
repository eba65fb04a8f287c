package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"grantradar/features/grant"
	"grantradar/internal/config"
	"grantradar/internal/middleware"
)

// recencyWindow bounds the slow path: a grant that first appears in the feed
// but was last touched by its agency more than this long ago is not worth an
// extraction run unless the caller forces it.
const recencyWindow = 14 * 24 * time.Hour

// RawGrant is one item of a scrape snapshot, as delivered by the feed client
// or a pushed grant.scraped message.
type RawGrant struct {
	ID             string     `json:"id"`
	Name           string     `json:"name"`
	Agency         string     `json:"agency"`
	IsOpen         bool       `json:"is_open"`
	Deadline       *string    `json:"deadline"`
	MaxFunding     int64      `json:"max_funding"`
	Description    string     `json:"description"`
	FullText       string     `json:"full_text"`
	OriginalURL    string     `json:"original_url"`
	ApplicationURL string     `json:"application_url"`
	UpdatedAt      *time.Time `json:"updated_at"`
}

// Extraction is the LLM-structured form of a raw grant.
type Extraction struct {
	StrategicIntent    string   `json:"strategic_intent"`
	EligibilitySummary []string `json:"eligibility_summary"`
	KPIs               []string `json:"kpis"`
	MaxFunding         int64    `json:"max_funding"`
	FullTextContext    string   `json:"full_text_context"`
}

type ItemFailure struct {
	ID    string `json:"id"`
	Error string `json:"error"`
}

// Report summarises one reconciliation run.
type Report struct {
	Updated     int           `json:"updated"`
	Inserted    int           `json:"inserted"`
	Skipped     int           `json:"skipped"`
	Failed      int           `json:"failed"`
	InsertedIDs []string      `json:"inserted_ids"`
	Failures    []ItemFailure `json:"failures"`
	StartedAt   time.Time     `json:"started_at"`
	FinishedAt  time.Time     `json:"finished_at"`
}

type GrantStore interface {
	ExistingIDs(ctx context.Context) (map[string]bool, error)
	Upsert(ctx context.Context, g *grant.Grant) error
	UpdateScrapeFields(ctx context.Context, id string, isOpen bool, deadline *string, maxFunding int64) error
	MarkNotified(ctx context.Context, id string) (bool, error)
}

type Index interface {
	Put(ctx context.Context, g grant.Grant, vec []float32) error
	SetOpen(ctx context.Context, grantID string, open bool) error
}

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

type Extractor interface {
	Extract(ctx context.Context, raw RawGrant) (Extraction, error)
}

type Publisher interface {
	Publish(topic string, body []byte) error
}

type RunStore interface {
	Save(ctx context.Context, r *Run) error
}

// Service reconciles scrape snapshots against the grant store. Known grants
// take the fast path (status patch, no AI); unknown ones take the slow path
// (extraction, embedding, insert, notification).
type Service struct {
	mu        sync.Mutex
	grants    GrantStore
	index     Index
	embedder  Embedder
	extractor Extractor
	pub       Publisher
	runs      RunStore
}

func NewService(grants GrantStore, index Index, embedder Embedder, extractor Extractor, pub Publisher, runs RunStore) *Service {
	return &Service{
		grants:    grants,
		index:     index,
		embedder:  embedder,
		extractor: extractor,
		pub:       pub,
		runs:      runs,
	}
}

// Reconcile processes one snapshot. The mutex serialises overlapping
// triggers (scheduler, HTTP, consumer); the upsert semantics make a rerun of
// the same snapshot a no-op for rows already written.
func (s *Service) Reconcile(ctx context.Context, snapshot []RawGrant, force bool) (*Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	report := &Report{StartedAt: time.Now(), InsertedIDs: []string{}, Failures: []ItemFailure{}}

	existing, err := s.grants.ExistingIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("load existing grant ids: %w", err)
	}

	slog.InfoContext(ctx, "reconciliation started", "snapshot_size", len(snapshot), "known_grants", len(existing), "force", force)

	for _, raw := range snapshot {
		if raw.ID == "" {
			report.Failed++
			report.Failures = append(report.Failures, ItemFailure{ID: "", Error: "missing identifier"})
			continue
		}

		if existing[raw.ID] {
			if err := s.fastPath(ctx, raw); err != nil {
				report.Failed++
				report.Failures = append(report.Failures, ItemFailure{ID: raw.ID, Error: err.Error()})
				continue
			}
			report.Updated++
			continue
		}

		if !force && raw.UpdatedAt != nil && time.Since(*raw.UpdatedAt) > recencyWindow {
			slog.DebugContext(ctx, "skipping stale new grant", "grant_id", raw.ID, "updated_at", raw.UpdatedAt)
			report.Skipped++
			continue
		}

		if err := s.slowPath(ctx, raw); err != nil {
			report.Failed++
			report.Failures = append(report.Failures, ItemFailure{ID: raw.ID, Error: err.Error()})
			continue
		}
		report.Inserted++
		report.InsertedIDs = append(report.InsertedIDs, raw.ID)
	}

	report.FinishedAt = time.Now()

	if s.runs != nil {
		if err := s.saveRun(ctx, report); err != nil {
			slog.ErrorContext(ctx, "failed to persist run report", "error", err)
		}
	}

	slog.InfoContext(ctx, "reconciliation finished",
		"updated", report.Updated, "inserted", report.Inserted,
		"skipped", report.Skipped, "failed", report.Failed)

	return report, nil
}

// fastPath patches status fields without re-extracting or re-embedding.
func (s *Service) fastPath(ctx context.Context, raw RawGrant) error {
	if err := s.grants.UpdateScrapeFields(ctx, raw.ID, raw.IsOpen, raw.Deadline, raw.MaxFunding); err != nil {
		return fmt.Errorf("update scrape fields: %w", err)
	}
	// The record store is the source of truth; an index patch failure is
	// repaired by the next slow pass over this grant.
	if err := s.index.SetOpen(ctx, raw.ID, raw.IsOpen); err != nil {
		slog.WarnContext(ctx, "failed to patch index open flag", "grant_id", raw.ID, "error", err)
	}
	return nil
}

func (s *Service) slowPath(ctx context.Context, raw RawGrant) error {
	g := grant.Grant{
		ID:             raw.ID,
		Name:           raw.Name,
		Agency:         raw.Agency,
		Description:    raw.Description,
		FullText:       raw.FullText,
		MaxFunding:     raw.MaxFunding,
		IsOpen:         raw.IsOpen,
		Deadline:       raw.Deadline,
		OriginalURL:    raw.OriginalURL,
		ApplicationURL: raw.ApplicationURL,
	}

	if s.extractor != nil {
		ext, err := s.extractor.Extract(ctx, raw)
		if err != nil {
			// Extraction is best-effort; the feed fields still make a
			// searchable record.
			slog.WarnContext(ctx, "extraction failed, using feed fields", "grant_id", raw.ID, "error", err)
		} else {
			if ext.StrategicIntent != "" {
				g.Description = ext.StrategicIntent
			}
			g.EligibilitySummary = ext.EligibilitySummary
			g.KPIs = ext.KPIs
			if ext.MaxFunding > 0 {
				g.MaxFunding = ext.MaxFunding
			}
			if ext.FullTextContext != "" {
				g.FullText = ext.FullTextContext
			}
		}
	}

	embedText := g.FullText
	if embedText == "" {
		embedText = g.Name + " " + g.Description
	}

	vec, err := s.embedder.Embed(ctx, embedText)
	if err != nil {
		return fmt.Errorf("embed grant: %w", err)
	}

	if err := s.grants.Upsert(ctx, &g); err != nil {
		return fmt.Errorf("upsert grant: %w", err)
	}

	if err := s.index.Put(ctx, g, vec); err != nil {
		return fmt.Errorf("index grant: %w", err)
	}

	s.notify(ctx, g)
	return nil
}

// notify publishes grant.new at most once per grant. MarkNotified is the
// gate: a rerun that hits an already-notified grant publishes nothing.
func (s *Service) notify(ctx context.Context, g grant.Grant) {
	if s.pub == nil {
		return
	}

	marked, err := s.grants.MarkNotified(ctx, g.ID)
	if err != nil {
		slog.ErrorContext(ctx, "failed to mark grant notified", "grant_id", g.ID, "error", err)
		return
	}
	if !marked {
		return
	}

	payload, _ := json.Marshal(map[string]interface{}{
		"id":             g.ID,
		"name":           g.Name,
		"agency":         g.Agency,
		"correlation_id": middleware.GetCorrelationID(ctx),
	})
	if err := s.pub.Publish(config.TopicGrantNew, payload); err != nil {
		slog.ErrorContext(ctx, "failed to publish grant.new event", "grant_id", g.ID, "error", err)
	} else {
		slog.InfoContext(ctx, "published grant.new event", "grant_id", g.ID)
	}
}

func (s *Service) saveRun(ctx context.Context, report *Report) error {
	run := &Run{
		Updated:    report.Updated,
		Inserted:   report.Inserted,
		Skipped:    report.Skipped,
		Failed:     report.Failed,
		StartedAt:  report.StartedAt,
		FinishedAt: report.FinishedAt,
	}
	var err error
	run.Detail, err = json.Marshal(map[string]interface{}{
		"inserted_ids": report.InsertedIDs,
		"failures":     report.Failures,
	})
	if err != nil {
		return err
	}
	return s.runs.Save(ctx, run)
}
