package broker

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/bluesky/suitcase-core/internal/domain"
	"github.com/bluesky/suitcase-core/internal/ports"
)

// MemBroker is an in-process broker with the same idempotency guarantees as
// the Postgres one. It backs tests, examples, and embedded use where no
// database is available.
type MemBroker struct {
	mu sync.RWMutex

	starts      map[string]*domain.RunStart       // uid -> start
	startHashes map[string]string                 // scan_hash -> uid
	descriptors map[string]*domain.EventDescriptor // uid -> descriptor
	descKeys    map[string]string                 // run_start|name|scan_hash -> uid
	events      map[string]*domain.Event          // uid -> event
	eventKeys   map[string]string                 // descriptor|seq -> uid
	stops       map[string]*domain.RunStop        // run_start uid -> stop

	// A re-ingested scan arrives with freshly minted uids. When a start or
	// descriptor is skipped as a duplicate, the incoming uid is aliased to
	// the stored one so the links carried by the rest of the stream resolve
	// to the stored rows.
	startAliases map[string]string
	descAliases  map[string]string
}

func NewMemBroker() *MemBroker {
	return &MemBroker{
		starts:      make(map[string]*domain.RunStart),
		startHashes: make(map[string]string),
		descriptors: make(map[string]*domain.EventDescriptor),
		descKeys:    make(map[string]string),
		events:      make(map[string]*domain.Event),
		eventKeys:   make(map[string]string),
		stops:       make(map[string]*domain.RunStop),

		startAliases: make(map[string]string),
		descAliases:  make(map[string]string),
	}
}

func (b *MemBroker) Name() string { return "memory" }

func (b *MemBroker) WriteBatch(docs []*domain.Document) error {
	_, err := b.InsertDocuments(context.Background(), docs)
	return err
}

func (b *MemBroker) InsertDocuments(_ context.Context, docs []*domain.Document) (ports.InsertStats, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var stats ports.InsertStats
	for _, doc := range docs {
		if err := doc.Validate(); err != nil {
			return stats, fmt.Errorf("insert: %w", err)
		}
		var inserted bool
		switch doc.Kind {
		case domain.KindRunStart:
			inserted = b.insertStartLocked(doc.Start)
		case domain.KindDescriptor:
			inserted = b.insertDescriptorLocked(doc.Descriptor)
		case domain.KindEvent:
			inserted = b.insertEventLocked(doc.Event)
		case domain.KindRunStop:
			inserted = b.insertStopLocked(doc.Stop)
		}
		if inserted {
			stats.Inserted++
		} else {
			stats.Skipped++
		}
	}
	return stats, nil
}

func (b *MemBroker) insertStartLocked(s *domain.RunStart) bool {
	if stored, dup := b.startHashes[s.ScanHash]; dup {
		if stored != s.UID {
			b.startAliases[s.UID] = stored
		}
		return false
	}
	cp := *s
	b.starts[s.UID] = &cp
	b.startHashes[s.ScanHash] = s.UID
	return true
}

func (b *MemBroker) insertDescriptorLocked(d *domain.EventDescriptor) bool {
	cp := *d
	if stored, ok := b.startAliases[cp.RunStart]; ok {
		cp.RunStart = stored
	}
	key := cp.RunStart + "|" + cp.Name + "|" + cp.ScanHash
	if stored, dup := b.descKeys[key]; dup {
		if stored != cp.UID {
			b.descAliases[cp.UID] = stored
		}
		return false
	}
	b.descriptors[cp.UID] = &cp
	b.descKeys[key] = cp.UID
	return true
}

func (b *MemBroker) insertEventLocked(e *domain.Event) bool {
	cp := *e
	if stored, ok := b.descAliases[cp.Descriptor]; ok {
		cp.Descriptor = stored
	}
	key := fmt.Sprintf("%s|%d", cp.Descriptor, cp.SeqNum)
	if _, dup := b.eventKeys[key]; dup {
		return false
	}
	b.events[cp.UID] = &cp
	b.eventKeys[key] = cp.UID
	return true
}

func (b *MemBroker) insertStopLocked(s *domain.RunStop) bool {
	cp := *s
	if stored, ok := b.startAliases[cp.RunStart]; ok {
		cp.RunStart = stored
	}
	if _, dup := b.stops[cp.RunStart]; dup {
		return false
	}
	b.stops[cp.RunStart] = &cp
	return true
}

func (b *MemBroker) FindRunStarts(_ context.Context, filter ports.RunStartFilter) ([]domain.RunStart, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []domain.RunStart
	for _, s := range b.starts {
		if filter.ScanHash != "" && s.ScanHash != filter.ScanHash {
			continue
		}
		if filter.ScanID != 0 && s.ScanID != filter.ScanID {
			continue
		}
		if filter.SpecPath != "" && s.SpecPath != filter.SpecPath {
			continue
		}
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })
	return out, nil
}

func (b *MemBroker) Headers(_ context.Context, uids ...string) ([]domain.Header, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if len(uids) == 0 {
		uids = make([]string, 0, len(b.starts))
		for uid := range b.starts {
			uids = append(uids, uid)
		}
		sort.Slice(uids, func(i, j int) bool {
			return b.starts[uids[i]].Time.Before(b.starts[uids[j]].Time)
		})
	}

	headers := make([]domain.Header, 0, len(uids))
	for _, uid := range uids {
		start, ok := b.starts[uid]
		if !ok {
			return nil, fmt.Errorf("no run start with uid %s", uid)
		}
		hdr := domain.Header{Start: *start}
		for _, d := range b.descriptors {
			if d.RunStart == uid {
				hdr.Descriptors = append(hdr.Descriptors, *d)
			}
		}
		sort.Slice(hdr.Descriptors, func(i, j int) bool {
			// baseline first, then by time and name.
			di, dj := hdr.Descriptors[i], hdr.Descriptors[j]
			if (di.Name == "baseline") != (dj.Name == "baseline") {
				return di.Name == "baseline"
			}
			if !di.Time.Equal(dj.Time) {
				return di.Time.Before(dj.Time)
			}
			return di.Name < dj.Name
		})
		if stop, ok := b.stops[uid]; ok {
			cp := *stop
			hdr.Stop = &cp
		}
		headers = append(headers, hdr)
	}
	return headers, nil
}

func (b *MemBroker) EventsForDescriptor(_ context.Context, descriptorUID string) ([]domain.Event, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []domain.Event
	for _, e := range b.events {
		if e.Descriptor == descriptorUID {
			out = append(out, *e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SeqNum < out[j].SeqNum })
	return out, nil
}

var _ ports.Broker = (*MemBroker)(nil)
