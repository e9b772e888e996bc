package pipeline

import (
	"time"

	"github.com/bluesky/suitcase-core/internal/domain"
	"github.com/bluesky/suitcase-core/internal/ports"
)

// RunSinkPipeline drains the queue in batches, runs documents through the
// transformer, and hands them to the sink. WAL entries are committed only
// after the sink accepted the batch, so a failed write is replayed. The
// stop channel ends the loop once the queue is empty.
func RunSinkPipeline(wal ports.WAL, q ports.DocumentQueue, tr ports.Transformer, sink ports.Sink, pol ports.Policy, obs ports.Observability, stop <-chan struct{}) {
	for {
		batch := q.DequeueBatch(pol.MaxBatchSize)
		if len(batch) == 0 {
			select {
			case <-stop:
				return
			default:
			}
			time.Sleep(pol.IdleSleep)
			continue
		}

		var (
			out   = make([]*domain.Document, 0, len(batch))
			maxID ports.WALEntryID
		)
		for _, item := range batch {
			doc, err := tr.Transform(item.Doc)
			if err != nil {
				obs.RecordDLQ(item.ID, item.Doc, err)
				continue
			}
			out = append(out, doc)
			if item.ID > maxID {
				maxID = item.ID
			}
		}

		if len(out) == 0 {
			_ = wal.Commit(maxID)
			continue
		}

		start := time.Now()
		if err := sink.WriteBatch(out); err != nil {
			obs.LogError("sink_write_failed", err)
			// keep WAL; replays later
			continue
		}
		obs.ObserveLatency("suitcase_sink_write_latency_seconds", time.Since(start).Seconds())
		obs.IncCounter("suitcase_documents_ingested_total", float64(len(out)))

		if err := wal.Commit(maxID); err != nil {
			obs.LogError("wal_commit_failed", err)
		}
	}
}
