package crawler

import (
	"context"
	"encoding/json"
	"time"
)

// Fetcher issues one paginated search request for a task. Failures are
// returned as *FetchError so callers can branch on the classification.
type Fetcher interface {
	FetchPage(ctx context.Context, task CrawlTask, page int) (RawPage, error)
}

// Mapper normalizes one raw record into the canonical entity.
type Mapper interface {
	Map(raw json.RawMessage, task CrawlTask) (JobRecord, error)
}

// JobStore persists a batch of canonical records with upsert semantics.
type JobStore interface {
	UpsertBatch(ctx context.Context, records []JobRecord) (UpsertStats, error)
}

// Clock abstracts time so crawl timestamps are injectable in tests.
type Clock interface {
	Now() time.Time
}
