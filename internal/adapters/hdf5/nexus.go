package hdf5

import (
	"context"
	"fmt"
	"log"
	"strings"

	"gonum.org/v1/hdf5"

	"github.com/bluesky/suitcase-core/internal/domain"
	"github.com/bluesky/suitcase-core/internal/ports"
)

// NexusExporter writes the same runs as Exporter but lays the file out as
// NeXus: each run becomes an NXentry group, each event stream an NXdata
// group with signal/axes hints, and point datasets sit directly under the
// stream group. The Go bindings only expose attributes on datasets, so the
// NeXus annotations (NX_class, default, signal, axes) are stored as scalar
// string datasets inside the group they describe.
type NexusExporter struct {
	broker ports.Broker
	opts   Options
}

func NewNexusExporter(b ports.Broker, opts Options) *NexusExporter {
	return &NexusExporter{broker: b, opts: opts}
}

// Export writes the given headers to a NeXus file at path. An existing file
// is truncated.
func (e *NexusExporter) Export(ctx context.Context, headers []domain.Header, path string) error {
	f, err := hdf5.CreateFile(path, hdf5.F_ACC_TRUNC)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()

	for i := range headers {
		if err := ctx.Err(); err != nil {
			return err
		}
		name, err := e.writeEntry(ctx, f, &headers[i])
		if err != nil {
			return fmt.Errorf("export run %s: %w", headers[i].Start.UID, err)
		}
		// The file points at its first entry, the entry at its first
		// data group.
		if i == 0 {
			if err := writeStringDataset(f, "default", name); err != nil {
				return err
			}
		}
	}
	return nil
}

func (e *NexusExporter) writeEntry(ctx context.Context, f *hdf5.File, hdr *domain.Header) (string, error) {
	name := hdr.Start.UID
	if !e.opts.UseUID {
		name = fmt.Sprintf("%s_%d", hdr.Start.BeamlineID, hdr.Start.ScanID)
	}
	group, err := f.CreateGroup(name)
	if err != nil {
		return "", err
	}
	defer group.Close()

	if err := writeStringDataset(group, "NX_class", "NXentry"); err != nil {
		return "", err
	}
	if err := writeMetadata(group, headerMetadata(hdr)); err != nil {
		return "", err
	}
	if len(hdr.Descriptors) == 0 {
		log.Printf("nexus: run %s contains no descriptors, exporting metadata only", hdr.Start.UID)
		return name, nil
	}

	defaultSet := false
	for i := range hdr.Descriptors {
		desc := &hdr.Descriptors[i]
		if e.opts.StreamName != "" && desc.Name != e.opts.StreamName {
			continue
		}
		streamName, err := e.writeStream(ctx, group, hdr, desc)
		if err != nil {
			return "", fmt.Errorf("descriptor %s: %w", desc.UID, err)
		}
		if !defaultSet {
			if err := writeStringDataset(group, "default", streamName); err != nil {
				return "", err
			}
			defaultSet = true
		}
	}
	return name, nil
}

func (e *NexusExporter) writeStream(ctx context.Context, parent *hdf5.Group, hdr *domain.Header, desc *domain.EventDescriptor) (string, error) {
	// A uid can start with a digit, which is not a valid NeXus group
	// name, hence the underscore prefix.
	name := "_" + desc.UID
	if !e.opts.UseUID {
		name = desc.Name
		if name == "" {
			name = "primary"
		}
	}
	group, err := parent.CreateGroup(name)
	if err != nil {
		return "", err
	}
	defer group.Close()

	if err := writeStringDataset(group, "NX_class", "NXdata"); err != nil {
		return "", err
	}
	if err := writeStringDataset(group, "signal", signalKey(hdr, desc)); err != nil {
		return "", err
	}
	if err := writeStringDataset(group, "axes", strings.Join(hdr.Start.Motors, " ")); err != nil {
		return "", err
	}
	if err := writeMetadata(group, descriptorMetadata(desc)); err != nil {
		return "", err
	}

	events, err := e.broker.EventsForDescriptor(ctx, desc.UID)
	if err != nil {
		return "", err
	}

	times := make([]float64, len(events))
	for i, ev := range events {
		times[i] = epochSeconds(ev.Time)
	}
	if err := writeFloatDataset(group, "time", times); err != nil {
		return "", err
	}

	var tsGroup *hdf5.Group
	if e.opts.Timestamps {
		tsGroup, err = group.CreateGroup("timestamps")
		if err != nil {
			return "", err
		}
		defer tsGroup.Close()
		if err := writeStringDataset(tsGroup, "NX_class", "NXcollection"); err != nil {
			return "", err
		}
	}

	for _, key := range sortedKeys(desc.DataKeys) {
		if !e.wantField(key) {
			continue
		}
		values := make([]float64, len(events))
		for i, ev := range events {
			values[i] = ev.Data[key]
		}
		if err := writeKeyDataset(group, key, values, desc.DataKeys[key]); err != nil {
			return "", fmt.Errorf("data key %s: %w", key, err)
		}
		if tsGroup != nil {
			stamps := make([]float64, len(events))
			for i, ev := range events {
				stamps[i] = epochSeconds(ev.Timestamps[key])
			}
			if err := writeFloatDataset(tsGroup, key, stamps); err != nil {
				return "", fmt.Errorf("timestamps for %s: %w", key, err)
			}
		}
	}
	return name, nil
}

func (e *NexusExporter) wantField(key string) bool {
	if e.opts.Fields == nil {
		return true
	}
	for _, f := range e.opts.Fields {
		if f == key {
			return true
		}
	}
	return false
}

// signalKey picks the plotted quantity for a stream: the first data key that
// is neither a scanned motor nor a bookkeeping column.
func signalKey(hdr *domain.Header, desc *domain.EventDescriptor) string {
	motors := make(map[string]bool, len(hdr.Start.Motors))
	for _, m := range hdr.Start.Motors {
		motors[m] = true
	}
	keys := sortedKeys(desc.DataKeys)
	for _, key := range keys {
		if motors[key] || key == "Epoch" || key == "Seconds" {
			continue
		}
		return key
	}
	if len(keys) > 0 {
		return keys[0]
	}
	return ""
}
