package ports

import "github.com/bluesky/suitcase-core/internal/domain"

// Source streams documents from some origin (a specfile on disk, a live
// acquisition system, a replay) into the pipeline. Implementations that
// read a finite input close out when the stream is exhausted.
type Source interface {
	Start(out chan<- *domain.Document) error
	Stop() error
}
