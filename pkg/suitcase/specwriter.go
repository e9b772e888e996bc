package suitcase

import (
	"context"

	"github.com/bluesky/suitcase-core/internal/adapters/specwriter"
	"github.com/bluesky/suitcase-core/internal/domain"
)

// NewSpecWriterSink returns a Sink that renders documents back into specfile
// format, appending one #S block per run to the file at path. Useful for
// feeding document-producing pipelines into legacy tooling.
func NewSpecWriterSink(path string) (Sink, error) {
	return specwriter.NewWriter(path)
}

// WriteSpec reads the runs identified by uids (all runs when none are given)
// out of the broker and appends them to the specfile at path, replaying each
// run's documents in acquisition order.
func WriteSpec(ctx context.Context, b Broker, path string, uids ...string) error {
	headers, err := b.Headers(ctx, uids...)
	if err != nil {
		return err
	}
	w, err := specwriter.NewWriter(path)
	if err != nil {
		return err
	}
	for i := range headers {
		docs, err := headerDocuments(ctx, b, &headers[i])
		if err != nil {
			return err
		}
		if err := w.WriteBatch(docs); err != nil {
			return err
		}
	}
	return nil
}

// headerDocuments flattens a header back into its ordered document stream:
// start, then each descriptor followed by its events, then the stop.
func headerDocuments(ctx context.Context, b Broker, hdr *Header) ([]*Document, error) {
	docs := []*Document{{Kind: domain.KindRunStart, Start: &hdr.Start}}
	for i := range hdr.Descriptors {
		desc := &hdr.Descriptors[i]
		docs = append(docs, &Document{Kind: domain.KindDescriptor, Descriptor: desc})
		events, err := b.EventsForDescriptor(ctx, desc.UID)
		if err != nil {
			return nil, err
		}
		for j := range events {
			docs = append(docs, &Document{Kind: domain.KindEvent, Event: &events[j]})
		}
	}
	if hdr.Stop != nil {
		docs = append(docs, &Document{Kind: domain.KindRunStop, Stop: hdr.Stop})
	}
	return docs, nil
}
