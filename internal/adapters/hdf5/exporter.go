// Package hdf5 exports broker runs into HDF5 files whose internal grouping
// mirrors the document structure: one top-level group per run, one subgroup
// per event descriptor, and per-data-key datasets beneath it.
package hdf5

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"time"

	"gonum.org/v1/hdf5"

	"github.com/bluesky/suitcase-core/internal/domain"
	"github.com/bluesky/suitcase-core/internal/ports"
)

// Options tune what ends up in the file.
type Options struct {
	// StreamName restricts export to descriptors with that name
	// (e.g. "primary"); empty exports every stream.
	StreamName string
	// Fields whitelists data keys; nil exports all of them.
	Fields []string
	// Timestamps adds a timestamps/ group next to data/.
	Timestamps bool
	// UseUID names groups by document uid; otherwise by beamline id and
	// scan id for the run group and by stream name for descriptors.
	UseUID bool
}

func DefaultOptions() Options {
	return Options{Timestamps: true, UseUID: true}
}

// Exporter writes headers and their event streams from a broker to disk.
type Exporter struct {
	broker ports.Broker
	opts   Options
}

func NewExporter(b ports.Broker, opts Options) *Exporter {
	return &Exporter{broker: b, opts: opts}
}

// Export writes the given headers to an HDF5 file at path. An existing file
// is truncated. On error the partial file is left in place and the error
// returned.
func (e *Exporter) Export(ctx context.Context, headers []domain.Header, path string) error {
	f, err := hdf5.CreateFile(path, hdf5.F_ACC_TRUNC)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()

	for i := range headers {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := e.writeHeader(ctx, f, &headers[i]); err != nil {
			return fmt.Errorf("export run %s: %w", headers[i].Start.UID, err)
		}
	}
	return nil
}

func (e *Exporter) writeHeader(ctx context.Context, f *hdf5.File, hdr *domain.Header) error {
	name := hdr.Start.UID
	if !e.opts.UseUID {
		name = fmt.Sprintf("%s_%d", hdr.Start.BeamlineID, hdr.Start.ScanID)
	}
	group, err := f.CreateGroup(name)
	if err != nil {
		return err
	}
	defer group.Close()

	if err := writeMetadata(group, headerMetadata(hdr)); err != nil {
		return err
	}
	if len(hdr.Descriptors) == 0 {
		log.Printf("hdf5: run %s contains no descriptors, exporting metadata only", hdr.Start.UID)
		return nil
	}

	for i := range hdr.Descriptors {
		desc := &hdr.Descriptors[i]
		if e.opts.StreamName != "" && desc.Name != e.opts.StreamName {
			continue
		}
		if err := e.writeDescriptor(ctx, group, desc); err != nil {
			return fmt.Errorf("descriptor %s: %w", desc.UID, err)
		}
	}
	return nil
}

func (e *Exporter) writeDescriptor(ctx context.Context, parent *hdf5.Group, desc *domain.EventDescriptor) error {
	name := desc.UID
	if !e.opts.UseUID {
		name = desc.Name
		if name == "" {
			name = "primary"
		}
	}
	group, err := parent.CreateGroup(name)
	if err != nil {
		return err
	}
	defer group.Close()

	if err := writeMetadata(group, descriptorMetadata(desc)); err != nil {
		return err
	}

	events, err := e.broker.EventsForDescriptor(ctx, desc.UID)
	if err != nil {
		return err
	}

	times := make([]float64, len(events))
	for i, ev := range events {
		times[i] = epochSeconds(ev.Time)
	}
	if err := writeFloatDataset(group, "time", times); err != nil {
		return err
	}

	dataGroup, err := group.CreateGroup("data")
	if err != nil {
		return err
	}
	defer dataGroup.Close()

	var tsGroup *hdf5.Group
	if e.opts.Timestamps {
		tsGroup, err = group.CreateGroup("timestamps")
		if err != nil {
			return err
		}
		defer tsGroup.Close()
	}

	for _, key := range sortedKeys(desc.DataKeys) {
		if !e.wantField(key) {
			continue
		}
		values := make([]float64, len(events))
		for i, ev := range events {
			values[i] = ev.Data[key]
		}
		if err := writeKeyDataset(dataGroup, key, values, desc.DataKeys[key]); err != nil {
			return fmt.Errorf("data key %s: %w", key, err)
		}
		if tsGroup != nil {
			stamps := make([]float64, len(events))
			for i, ev := range events {
				stamps[i] = epochSeconds(ev.Timestamps[key])
			}
			if err := writeFloatDataset(tsGroup, key, stamps); err != nil {
				return fmt.Errorf("timestamps for %s: %w", key, err)
			}
		}
	}
	return nil
}

func (e *Exporter) wantField(key string) bool {
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

// headerMetadata flattens the run header into a JSON-friendly map, the way
// the group attributes reflect the document contents.
func headerMetadata(hdr *domain.Header) map[string]any {
	md := map[string]any{"start": hdr.Start}
	if hdr.Stop != nil {
		md["stop"] = hdr.Stop
	}
	return md
}

func descriptorMetadata(desc *domain.EventDescriptor) map[string]any {
	md := map[string]any{
		"uid":       desc.UID,
		"run_start": desc.RunStart,
		"time":      epochSeconds(desc.Time),
		"scan_hash": desc.ScanHash,
	}
	if desc.Name != "" {
		md["name"] = desc.Name
	}
	return md
}

// writeMetadata stores the map as a scalar JSON string dataset named
// "metadata" inside the group.
func writeMetadata(group *hdf5.Group, md map[string]any) error {
	raw, err := json.Marshal(md)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	return writeStringDataset(group, "metadata", string(raw))
}

// datasetParent is the slice of the bindings' CommonFG the dataset writers
// need; both *hdf5.File and *hdf5.Group satisfy it.
type datasetParent interface {
	CreateDataset(name string, dtype *hdf5.Datatype, dspace *hdf5.Dataspace) (*hdf5.Dataset, error)
}

func writeStringDataset(group datasetParent, name, value string) error {
	space, err := hdf5.CreateDataspace(hdf5.S_SCALAR)
	if err != nil {
		return err
	}
	defer space.Close()

	dset, err := group.CreateDataset(name, hdf5.T_GO_STRING, space)
	if err != nil {
		return err
	}
	defer dset.Close()
	return dset.Write(&value)
}

func writeFloatDataset(group *hdf5.Group, name string, values []float64) error {
	space, err := hdf5.CreateSimpleDataspace([]uint{uint(len(values))}, nil)
	if err != nil {
		return err
	}
	defer space.Close()

	dset, err := group.CreateDataset(name, hdf5.T_NATIVE_DOUBLE, space)
	if err != nil {
		return err
	}
	defer dset.Close()
	if len(values) == 0 {
		return nil
	}
	return dset.Write(&values)
}

// writeKeyDataset writes the values for one data key and attaches the key's
// descriptor fields (source, units, ...) as a JSON attribute.
func writeKeyDataset(group *hdf5.Group, name string, values []float64, key domain.DataKey) error {
	space, err := hdf5.CreateSimpleDataspace([]uint{uint(len(values))}, nil)
	if err != nil {
		return err
	}
	defer space.Close()

	dset, err := group.CreateDataset(name, hdf5.T_NATIVE_DOUBLE, space)
	if err != nil {
		return err
	}
	defer dset.Close()
	if len(values) > 0 {
		if err := dset.Write(&values); err != nil {
			return err
		}
	}

	raw, err := json.Marshal(key)
	if err != nil {
		return fmt.Errorf("marshal data key: %w", err)
	}
	attrSpace, err := hdf5.CreateDataspace(hdf5.S_SCALAR)
	if err != nil {
		return err
	}
	defer attrSpace.Close()

	attr, err := dset.CreateAttribute("data_key", hdf5.T_GO_STRING, attrSpace)
	if err != nil {
		return err
	}
	defer attr.Close()
	s := string(raw)
	return attr.Write(&s, hdf5.T_GO_STRING)
}

// ListRuns opens an exported file and returns its top-level group names,
// which are the run identifiers the file was exported with.
func ListRuns(path string) ([]string, error) {
	f, err := hdf5.OpenFile(path, hdf5.F_ACC_RDONLY)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	root, err := f.OpenGroup("/")
	if err != nil {
		return nil, err
	}
	defer root.Close()

	n, err := root.NumObjects()
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, n)
	for i := uint(0); i < n; i++ {
		name, err := root.ObjectNameByIndex(i)
		if err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func sortedKeys(m map[string]domain.DataKey) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func epochSeconds(t time.Time) float64 {
	if t.IsZero() {
		return 0
	}
	return float64(t.UnixNano()) / float64(time.Second)
}
