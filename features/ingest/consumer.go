package ingest

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"
	"github.com/nsqio/go-nsq"

	"grantradar/internal/middleware"
)

// Reconciler is the part of Service the consumer needs.
type Reconciler interface {
	Reconcile(ctx context.Context, snapshot []RawGrant, force bool) (*Report, error)
}

// ScrapedConsumer processes grant.scraped messages pushed by external
// scrapers. Each message carries a full or partial snapshot.
type ScrapedConsumer struct {
	reconciler Reconciler
}

func NewScrapedConsumer(reconciler Reconciler) *ScrapedConsumer {
	return &ScrapedConsumer{reconciler: reconciler}
}

func (c *ScrapedConsumer) HandleMessage(m *nsq.Message) error {
	if len(m.Body) == 0 {
		return nil
	}

	var payload struct {
		Grants        []RawGrant `json:"grants"`
		Force         bool       `json:"force,omitempty"`
		CorrelationID string     `json:"correlation_id,omitempty"`
	}

	err := json.Unmarshal(m.Body, &payload)

	correlationID := payload.CorrelationID
	if correlationID == "" {
		correlationID = uuid.New().String()
	}

	ctx := context.Background()
	ctx = middleware.WithCorrelationID(ctx, correlationID)

	if err != nil {
		slog.ErrorContext(ctx, "invalid message format", "error", err)
		return nil // Don't retry invalid messages
	}

	if len(payload.Grants) == 0 {
		slog.WarnContext(ctx, "scraped message with no grants, dropping")
		return nil
	}

	slog.InfoContext(ctx, "received scraped snapshot", "grants", len(payload.Grants), "force", payload.Force)

	report, err := c.reconciler.Reconcile(ctx, payload.Grants, payload.Force)
	if err != nil {
		slog.ErrorContext(ctx, "failed to reconcile scraped snapshot", "error", err)
		return err // Durable: retry once the store is back
	}

	if report.Failed > 0 {
		slog.WarnContext(ctx, "scraped snapshot reconciled with failures",
			"updated", report.Updated, "inserted", report.Inserted, "failed", report.Failed)
	}

	return nil
}
