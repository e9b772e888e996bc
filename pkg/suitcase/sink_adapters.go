package suitcase

import (
	"errors"
	"fmt"
	"sync"

	"github.com/bluesky/suitcase-core/internal/domain"
)

// ErrChannelSinkClosed is returned when a channel sink is written to after being closed.
var ErrChannelSinkClosed = errors.New("suitcase: channel sink closed")

// DocumentBatchSink is invoked with ordered batches dequeued from the pipeline.
type DocumentBatchSink func([]*Document) error

// NewCallbackSink adapts a DocumentBatchSink into a full ports.Sink implementation so callers
// can plug arbitrary functions without defining structs.
func NewCallbackSink(name string, fn DocumentBatchSink) Sink {
	if name == "" {
		name = "callback"
	}
	return &callbackSink{name: name, fn: fn}
}

// NewChannelSink exposes batches via a channel; it returns the sink, the read-only channel,
// and a close function that the caller should invoke during shutdown.
func NewChannelSink(name string, buffer int) (Sink, <-chan []*Document, func()) {
	if name == "" {
		name = "channel"
	}
	if buffer < 0 {
		buffer = 0
	}
	ch := make(chan []*Document, buffer)
	s := &channelSink{
		name:   name,
		ch:     ch,
		closed: make(chan struct{}),
	}
	return s, ch, func() { s.close() }
}

type callbackSink struct {
	name string
	fn   DocumentBatchSink
}

func (s *callbackSink) WriteBatch(docs []*domain.Document) error {
	if s.fn == nil {
		return fmt.Errorf("callback sink %q: nil handler", s.name)
	}
	if len(docs) == 0 {
		return nil
	}
	return s.fn(docs)
}

func (s *callbackSink) Name() string { return s.name }

type channelSink struct {
	name   string
	ch     chan []*Document
	closed chan struct{}
	once   sync.Once
}

func (s *channelSink) WriteBatch(docs []*domain.Document) error {
	select {
	case <-s.closed:
		return ErrChannelSinkClosed
	default:
	}

	if len(docs) == 0 {
		return nil
	}

	batch := make([]*Document, len(docs))
	copy(batch, docs)

	select {
	case <-s.closed:
		return ErrChannelSinkClosed
	case s.ch <- batch:
		return nil
	}
}

func (s *channelSink) Name() string { return s.name }

func (s *channelSink) close() {
	s.once.Do(func() {
		close(s.closed)
		close(s.ch)
	})
}
