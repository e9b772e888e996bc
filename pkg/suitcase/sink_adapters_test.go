package suitcase

import (
	"errors"
	"testing"
	"time"

	"github.com/bluesky/suitcase-core/internal/domain"
)

func eventDocument(uid string, seq int) *Document {
	return &Document{
		Kind: domain.KindEvent,
		Event: &domain.Event{
			UID:        uid,
			Descriptor: "desc-1",
			SeqNum:     seq,
			Time:       time.Unix(int64(seq), 0),
			Data:       map[string]float64{"Detector": 3.14},
		},
	}
}

func TestNewCallbackSink(t *testing.T) {
	var received []*Document
	sink := NewCallbackSink("cb", func(batch []*Document) error {
		received = append(received, batch...)
		return nil
	})

	if sink.Name() != "cb" {
		t.Fatalf("unexpected sink name %q", sink.Name())
	}
	if err := sink.WriteBatch([]*Document{eventDocument("ev-1", 42)}); err != nil {
		t.Fatalf("WriteBatch returned error: %v", err)
	}
	if len(received) != 1 {
		t.Fatalf("expected 1 batch entry, got %d", len(received))
	}
	got := received[0]
	if got.UID() != "ev-1" || got.Event.SeqNum != 42 {
		t.Fatalf("mismatched document payload: %+v", got)
	}
	if got.Event.Data["Detector"] != 3.14 {
		t.Fatalf("expected data to be carried, got %v", got.Event.Data["Detector"])
	}
}

func TestNewCallbackSinkNilHandler(t *testing.T) {
	sink := NewCallbackSink("", nil)
	if sink.Name() != "callback" {
		t.Fatalf("expected default name, got %q", sink.Name())
	}
	if err := sink.WriteBatch([]*Document{eventDocument("ev-1", 0)}); err == nil {
		t.Fatalf("expected error when callback is nil")
	}
}

func TestNewChannelSink(t *testing.T) {
	sink, ch, closeFn := NewChannelSink("chan", 1)
	defer closeFn()

	errCh := make(chan error, 1)
	go func() {
		errCh <- sink.WriteBatch([]*Document{eventDocument("ev-7", 7)})
	}()

	var batch []*Document
	select {
	case batch = <-ch:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for channel batch")
	}

	if err := <-errCh; err != nil {
		t.Fatalf("WriteBatch returned error: %v", err)
	}
	if len(batch) != 1 || batch[0].UID() != "ev-7" {
		t.Fatalf("unexpected batch data: %+v", batch)
	}

	closeFn()
	if err := sink.WriteBatch([]*Document{eventDocument("ev-8", 8)}); !errors.Is(err, ErrChannelSinkClosed) {
		t.Fatalf("expected ErrChannelSinkClosed, got %v", err)
	}
}
