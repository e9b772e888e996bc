package hdf5

import (
	"context"
	"path/filepath"
	"reflect"
	"sort"
	"testing"

	"gonum.org/v1/hdf5"

	"github.com/bluesky/suitcase-core/internal/domain"
)

func objectNames(t *testing.T, f *hdf5.File, path string) []string {
	t.Helper()
	g, err := f.OpenGroup(path)
	if err != nil {
		t.Fatalf("open group %s: %v", path, err)
	}
	defer g.Close()

	n, err := g.NumObjects()
	if err != nil {
		t.Fatalf("count objects in %s: %v", path, err)
	}
	names := make([]string, 0, n)
	for i := uint(0); i < n; i++ {
		name, err := g.ObjectNameByIndex(i)
		if err != nil {
			t.Fatalf("object %d in %s: %v", i, path, err)
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func TestNexusExportLayout(t *testing.T) {
	b, uids := seedBroker(t)
	ctx := context.Background()

	headers, err := b.Headers(ctx, uids...)
	if err != nil {
		t.Fatalf("headers: %v", err)
	}

	path := filepath.Join(t.TempDir(), "runs.nxs")
	exp := NewNexusExporter(b, DefaultOptions())
	if err := exp.Export(ctx, headers, path); err != nil {
		t.Fatalf("export: %v", err)
	}

	f, err := hdf5.OpenFile(path, hdf5.F_ACC_RDONLY)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer f.Close()

	// One entry per run, plus the file-level default pointer.
	top := objectNames(t, f, "/")
	want := []string{"default", "run-a", "run-b"}
	if !reflect.DeepEqual(top, want) {
		t.Fatalf("top-level objects = %v, want %v", top, want)
	}

	entry := objectNames(t, f, "/run-a")
	wantEntry := []string{"NX_class", "_run-a-primary", "default", "metadata"}
	if !reflect.DeepEqual(entry, wantEntry) {
		t.Fatalf("entry objects = %v, want %v", entry, wantEntry)
	}

	// The stream group holds the point datasets directly, alongside the
	// NXdata annotations.
	stream := objectNames(t, f, "/run-a/_run-a-primary")
	wantStream := []string{
		"Detector", "NX_class", "Seconds", "axes",
		"metadata", "signal", "time", "timestamps",
	}
	if !reflect.DeepEqual(stream, wantStream) {
		t.Fatalf("stream objects = %v, want %v", stream, wantStream)
	}

	ts := objectNames(t, f, "/run-a/_run-a-primary/timestamps")
	wantTS := []string{"Detector", "NX_class", "Seconds"}
	if !reflect.DeepEqual(ts, wantTS) {
		t.Fatalf("timestamp objects = %v, want %v", ts, wantTS)
	}
}

func TestNexusSignalKeySkipsMotorsAndBookkeeping(t *testing.T) {
	hdr := &domain.Header{Start: domain.RunStart{Motors: []string{"tth"}}}
	desc := &domain.EventDescriptor{DataKeys: map[string]domain.DataKey{
		"Epoch":    {DType: "number"},
		"Seconds":  {DType: "number"},
		"tth":      {DType: "number"},
		"Detector": {DType: "number"},
	}}
	if got := signalKey(hdr, desc); got != "Detector" {
		t.Fatalf("signal key = %q, want Detector", got)
	}

	// Nothing but motors and bookkeeping left: fall back to the first key.
	desc.DataKeys = map[string]domain.DataKey{"Seconds": {DType: "number"}, "tth": {DType: "number"}}
	if got := signalKey(hdr, desc); got != "Seconds" {
		t.Fatalf("fallback signal key = %q, want Seconds", got)
	}
}
