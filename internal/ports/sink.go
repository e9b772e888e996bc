package ports

import "github.com/bluesky/suitcase-core/internal/domain"

type Sink interface {
	WriteBatch(docs []*domain.Document) error
	Name() string
}
