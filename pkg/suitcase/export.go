package suitcase

import (
	"context"

	"github.com/bluesky/suitcase-core/internal/adapters/hdf5"
	"github.com/bluesky/suitcase-core/internal/app/config"
)

// DefaultExportOptions returns the standard export settings: every stream,
// every field, timestamps included, groups named by run-start uid.
func DefaultExportOptions() ExportOptions {
	return hdf5.DefaultOptions()
}

// ExportOptionsFromConfig maps the YAML export section onto ExportOptions.
func ExportOptionsFromConfig(ec config.ExportConfig) ExportOptions {
	opts := hdf5.DefaultOptions()
	opts.StreamName = ec.StreamName
	opts.Fields = ec.Fields
	if ec.Timestamps != nil {
		opts.Timestamps = *ec.Timestamps
	}
	if ec.UseUID != nil {
		opts.UseUID = *ec.UseUID
	}
	return opts
}

// Export writes the given headers from the broker into an HDF5 file at path.
// An existing file at path is replaced.
func Export(ctx context.Context, b Broker, headers []Header, path string, opts ExportOptions) error {
	return hdf5.NewExporter(b, opts).Export(ctx, headers, path)
}

// ExportUIDs looks up headers for the given run-start uids (all runs when no
// uids are given) and exports them to path.
func ExportUIDs(ctx context.Context, b Broker, path string, opts ExportOptions, uids ...string) error {
	headers, err := b.Headers(ctx, uids...)
	if err != nil {
		return err
	}
	return Export(ctx, b, headers, path, opts)
}

// ExportNexus writes the given headers into a NeXus-flavoured HDF5 file:
// NXentry per run, NXdata per stream, with signal and axes hints for
// plotting tools.
func ExportNexus(ctx context.Context, b Broker, headers []Header, path string, opts ExportOptions) error {
	return hdf5.NewNexusExporter(b, opts).Export(ctx, headers, path)
}

// ExportNexusUIDs is ExportUIDs for the NeXus layout.
func ExportNexusUIDs(ctx context.Context, b Broker, path string, opts ExportOptions, uids ...string) error {
	headers, err := b.Headers(ctx, uids...)
	if err != nil {
		return err
	}
	return ExportNexus(ctx, b, headers, path, opts)
}

// ListRuns returns the top-level group names of an HDF5 file written by Export.
func ListRuns(path string) ([]string, error) {
	return hdf5.ListRuns(path)
}
