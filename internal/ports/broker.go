package ports

import (
	"context"

	"github.com/bluesky/suitcase-core/internal/domain"
)

// InsertStats reports how a batch landed: Inserted rows are new, Skipped
// rows already existed under their duplicate-detection key.
type InsertStats struct {
	Inserted int
	Skipped  int
}

func (s InsertStats) Add(o InsertStats) InsertStats {
	return InsertStats{Inserted: s.Inserted + o.Inserted, Skipped: s.Skipped + o.Skipped}
}

// RunStartFilter narrows FindRunStarts. Zero fields match everything.
type RunStartFilter struct {
	ScanHash string
	ScanID   int
	SpecPath string
}

// Broker is the metadata/data store that runs are inserted into and that the
// exporters read back out of. Insertion is idempotent: a document whose
// duplicate-detection key is already present is skipped, never duplicated.
type Broker interface {
	Sink

	InsertDocuments(ctx context.Context, docs []*domain.Document) (InsertStats, error)

	FindRunStarts(ctx context.Context, filter RunStartFilter) ([]domain.RunStart, error)
	// Headers assembles Header values for the given run-start uids,
	// or for every run in the broker when no uids are given.
	Headers(ctx context.Context, uids ...string) ([]domain.Header, error)
	EventsForDescriptor(ctx context.Context, descriptorUID string) ([]domain.Event, error)
}
