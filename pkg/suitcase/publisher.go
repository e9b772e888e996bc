package suitcase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bluesky/suitcase-core/internal/adapters/observability"
	"github.com/bluesky/suitcase-core/internal/adapters/queue"
	"github.com/bluesky/suitcase-core/internal/adapters/wal"
	"github.com/bluesky/suitcase-core/internal/ports"
)

// ErrQueueFull indicates the in-memory queue rejected the document according to policy.
var ErrQueueFull = errors.New("suitcase: queue full")

// ErrWALFull indicates the WAL is at capacity and OnWALFull != "block".
var ErrWALFull = errors.New("suitcase: wal full")

// PublisherConfig configures the WAL-backed publisher used by callers.
type PublisherConfig struct {
	Policy Policy
	WAL    WALConfig
}

// applyDefaults fills in sane thresholds so callers only override what they need.
func (c *PublisherConfig) applyDefaults() {
	if c.Policy.MaxWALSizeBytes == 0 {
		c.Policy.MaxWALSizeBytes = 10 << 30
	}
	if c.Policy.MaxQueueLen == 0 {
		c.Policy.MaxQueueLen = 100_000
	}
	if c.Policy.MaxBatchSize == 0 {
		c.Policy.MaxBatchSize = 5_000
	}
	if c.Policy.IdleSleep == 0 {
		c.Policy.IdleSleep = 5 * time.Millisecond
	}
	if c.Policy.OnQueueFull == "" {
		c.Policy.OnQueueFull = "block"
	}
	if c.Policy.OnWALFull == "" {
		c.Policy.OnWALFull = "block"
	}
	if c.WAL.Dir == "" {
		c.WAL.Dir = "./data/suitcase-wal"
	}
}

func (c *PublisherConfig) validate() error {
	if c.WAL.Dir == "" {
		return fmt.Errorf("wal.dir is required")
	}
	if c.Policy.MaxQueueLen <= 0 {
		return fmt.Errorf("policy.max_queue_len must be > 0")
	}
	if c.Policy.MaxBatchSize <= 0 {
		return fmt.Errorf("policy.max_batch_size must be > 0")
	}
	return nil
}

// DocumentPublisher exposes the WAL→queue→sink pipeline to external producers,
// e.g. a live acquisition loop that emits documents as scans run.
type DocumentPublisher struct {
	policy      Policy
	wal         ports.WAL
	queue       ports.DocumentQueue
	obs         ports.Observability
	transformer ports.Transformer
	sink        DocumentBatchSink

	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
}

// NewDocumentPublisher wires a WAL + bounded queue + sink callback so callers can
// push arbitrary documents while reusing the durability/backpressure policies.
func NewDocumentPublisher(cfg *PublisherConfig, sink DocumentBatchSink) (*DocumentPublisher, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if sink == nil {
		return nil, fmt.Errorf("sink callback is required")
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	walAdapter, err := wal.NewFileWAL(cfg.WAL.Dir)
	if err != nil {
		return nil, err
	}
	q := queue.NewMemQueue(cfg.Policy.MaxQueueLen)
	obs := observability.NewPromObs()

	if err := replayWALIntoQueue(walAdapter, q, cfg.Policy, obs); err != nil {
		return nil, err
	}

	pub := &DocumentPublisher{
		policy:      cfg.Policy,
		wal:         walAdapter,
		queue:       q,
		obs:         obs,
		transformer: &noopTransformer{},
		sink:        sink,
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}

	go pub.runIngest()
	return pub, nil
}

// Publish appends the document to the WAL and enqueues it according to policy.
func (p *DocumentPublisher) Publish(doc *Document) error {
	if doc == nil {
		return fmt.Errorf("document is nil")
	}
	if err := doc.Validate(); err != nil {
		return err
	}

	if !waitForLocalWALCapacity(p.wal, p.policy, p.obs) {
		return ErrWALFull
	}

	id, err := p.wal.Append(doc)
	if err != nil {
		return err
	}

	if !enqueueWithLocalPolicy(p.queue, id, doc, p.policy, p.obs) {
		return ErrQueueFull
	}
	return nil
}

// Close waits for the ingest loop to exit, respecting the provided context.
func (p *DocumentPublisher) Close(ctx context.Context) error {
	p.stopOnce.Do(func() {
		close(p.stopCh)
	})

	select {
	case <-p.doneCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *DocumentPublisher) runIngest() {
	defer close(p.doneCh)
	idle := p.policy.IdleSleep
	if idle <= 0 {
		idle = 5 * time.Millisecond
	}

	for {
		select {
		case <-p.stopCh:
			return
		default:
		}

		batch := p.queue.DequeueBatch(p.policy.MaxBatchSize)
		if len(batch) == 0 {
			time.Sleep(idle)
			continue
		}

		var (
			converted = make([]*Document, 0, len(batch))
			maxID     ports.WALEntryID
		)

		for _, item := range batch {
			doc, err := p.transformer.Transform(item.Doc)
			if err != nil {
				p.obs.RecordDLQ(item.ID, item.Doc, err)
				continue
			}
			converted = append(converted, doc)
			if item.ID > maxID {
				maxID = item.ID
			}
		}

		if len(converted) == 0 {
			_ = p.wal.Commit(maxID)
			continue
		}

		if err := p.sink(converted); err != nil {
			p.obs.LogError("publisher_sink_failed", err)
			time.Sleep(idle)
			continue
		}

		p.obs.IncCounter("suitcase_documents_ingested_total", float64(len(converted)))
		if err := p.wal.Commit(maxID); err != nil {
			p.obs.LogError("wal_commit_failed", err)
		}
	}
}

func waitForLocalWALCapacity(wal ports.WAL, pol ports.Policy, obs ports.Observability) bool {
	if pol.MaxWALSizeBytes <= 0 {
		return true
	}
	sleep := pol.IdleSleep
	if sleep <= 0 {
		sleep = 5 * time.Millisecond
	}

	for {
		stats := wal.Stats()
		if stats.SizeBytes < pol.MaxWALSizeBytes {
			return true
		}

		switch pol.OnWALFull {
		case "block":
			time.Sleep(sleep)
		case "drop":
			obs.LogError("wal_full_drop", fmt.Errorf("size=%d limit=%d", stats.SizeBytes, pol.MaxWALSizeBytes))
			return false
		default:
			obs.LogError("wal_policy_invalid", fmt.Errorf("policy=%s", pol.OnWALFull))
			return false
		}
	}
}

func enqueueWithLocalPolicy(q ports.DocumentQueue, id ports.WALEntryID, doc *Document, pol ports.Policy, obs ports.Observability) bool {
	sleep := pol.IdleSleep
	if sleep <= 0 {
		sleep = 5 * time.Millisecond
	}

	for {
		if ok := q.Enqueue(id, doc); ok {
			return true
		}

		switch pol.OnQueueFull {
		case "block":
			time.Sleep(sleep)
		case "drop", "reject":
			obs.LogError("queue_full_drop", fmt.Errorf("queue length exceeded capacity %d", pol.MaxQueueLen))
			return false
		default:
			obs.LogError("queue_policy_invalid", fmt.Errorf("policy=%s", pol.OnQueueFull))
			return false
		}
	}
}
