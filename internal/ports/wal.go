package ports

import "github.com/bluesky/suitcase-core/internal/domain"

type WALEntryID uint64

// WAL journals parsed documents before they reach the broker, so an ingest
// interrupted mid-file can be replayed without re-parsing.
type WAL interface {
	Append(doc *domain.Document) (WALEntryID, error)
	Iterate(from WALEntryID, fn func(id WALEntryID, doc *domain.Document) error) error
	Commit(upto WALEntryID) error
	TruncateCommitted() error
	Stats() WALStats
}

type WALStats struct {
	OldestUncommitted WALEntryID
	LatestAppended    WALEntryID
	SizeBytes         int64
}
