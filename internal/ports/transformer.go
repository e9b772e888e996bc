package ports

import "github.com/bluesky/suitcase-core/internal/domain"

// Transformer inspects or rewrites documents between the queue and the sink.
// Returning an error routes the document to the DLQ instead of the broker.
type Transformer interface {
	Transform(*domain.Document) (*domain.Document, error)
}
