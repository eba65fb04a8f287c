package config

const (
	// TopicGrantNew carries one message per newly ingested grant. The
	// notification service consumes it; publishing is gated on notified_at.
	TopicGrantNew = "grant.new"

	// TopicGrantScraped carries full scrape snapshots pushed by external
	// scrapers. Each message triggers a reconciliation run.
	TopicGrantScraped = "grant.scraped"
)
