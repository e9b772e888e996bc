package queue

import (
	"sync"

	"github.com/bluesky/suitcase-core/internal/domain"
	"github.com/bluesky/suitcase-core/internal/ports"
)

// MemQueue is a bounded in-memory queue of journaled documents. FIFO order
// is what keeps each run's document stream valid: a descriptor must reach
// the sink before its events.
type MemQueue struct {
	mu   sync.Mutex
	data []ports.QueuedDocument
	cap  int
}

func NewMemQueue(capacity int) *MemQueue {
	return &MemQueue{
		data: make([]ports.QueuedDocument, 0, capacity),
		cap:  capacity,
	}
}

func (q *MemQueue) Enqueue(id ports.WALEntryID, doc *domain.Document) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.data) >= q.cap {
		return false
	}
	q.data = append(q.data, ports.QueuedDocument{ID: id, Doc: doc})
	return true
}

func (q *MemQueue) DequeueBatch(max int) []ports.QueuedDocument {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.data) == 0 {
		return nil
	}
	if max <= 0 || max > len(q.data) {
		max = len(q.data)
	}
	out := make([]ports.QueuedDocument, max)
	copy(out, q.data[:max])
	q.data = append(q.data[:0], q.data[max:]...)
	return out
}

func (q *MemQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.data)
}

var _ ports.DocumentQueue = (*MemQueue)(nil)
