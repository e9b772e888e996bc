package ports

import "github.com/bluesky/suitcase-core/internal/domain"

type QueuedDocument struct {
	ID  WALEntryID
	Doc *domain.Document
}

type DocumentQueue interface {
	Enqueue(id WALEntryID, doc *domain.Document) bool
	DequeueBatch(max int) []QueuedDocument
	Len() int
}
