package specfile

import (
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/bluesky/suitcase-core/internal/domain"
	"github.com/bluesky/suitcase-core/internal/ports"
)

// Config captures which specfile to ingest and which of its scans.
type Config struct {
	Path string `yaml:"path"`
	// ScanIDs limits ingestion to the listed scan numbers; empty means
	// every scan in the file.
	ScanIDs []int `yaml:"scan_ids"`
}

func (c *Config) ApplyDefaults() {}

func (c *Config) Validate() error {
	if c.Path == "" {
		return errors.New("path is required")
	}
	return nil
}

// Source reads a specfile and emits its scans' document streams into the
// pipeline. The output channel is closed once the file is exhausted, so a
// finite ingest drains cleanly.
type Source struct {
	cfg Config

	mu      sync.Mutex
	started bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

func NewSource(cfg Config) (*Source, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Source{cfg: cfg}, nil
}

func (s *Source) Start(out chan<- *domain.Document) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return fmt.Errorf("specfile source already started")
	}
	s.started = true
	s.stopCh = make(chan struct{})
	s.mu.Unlock()

	sf, err := Open(s.cfg.Path)
	if err != nil {
		return fmt.Errorf("specfile open: %w", err)
	}

	scans, err := s.selectScans(sf)
	if err != nil {
		return err
	}

	s.wg.Add(1)
	go s.emit(scans, out)
	return nil
}

func (s *Source) selectScans(sf *Specfile) ([]*Scan, error) {
	if len(s.cfg.ScanIDs) == 0 {
		return sf.Scans(), nil
	}
	scans := make([]*Scan, 0, len(s.cfg.ScanIDs))
	for _, id := range s.cfg.ScanIDs {
		scan, ok := sf.Scan(id)
		if !ok {
			return nil, fmt.Errorf("specfile %s has no scan %d", sf.Path, id)
		}
		scans = append(scans, scan)
	}
	return scans, nil
}

func (s *Source) emit(scans []*Scan, out chan<- *domain.Document) {
	defer s.wg.Done()
	defer close(out)

	for _, scan := range scans {
		docs, err := ToDocuments(scan)
		if err != nil {
			if errors.Is(err, ErrUnsupportedScan) {
				log.Printf("specfile: skipping scan %d: %v", scan.ScanID, err)
				continue
			}
			log.Printf("specfile: scan %d conversion failed: %v", scan.ScanID, err)
			continue
		}
		for _, doc := range docs {
			select {
			case <-s.stopCh:
				return
			case out <- doc:
			}
		}
	}
}

func (s *Source) Stop() error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	close(s.stopCh)
	s.started = false
	s.mu.Unlock()
	s.wg.Wait()
	return nil
}

var _ ports.Source = (*Source)(nil)
