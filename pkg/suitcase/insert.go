package suitcase

import (
	"context"
	"errors"
	"fmt"

	"github.com/bluesky/suitcase-core/internal/adapters/specfile"
)

// InsertSpecfile parses the specfile at path, converts its scans into
// documents, and inserts them into the broker. When scanIDs are given only
// those scans are converted; otherwise every scan in the file is. Scans whose
// command has no document mapping are skipped. Insertion is idempotent, so
// re-running over the same file only reports Skipped counts.
func InsertSpecfile(ctx context.Context, b Broker, path string, scanIDs ...int) (InsertStats, error) {
	var stats InsertStats

	sf, err := specfile.Open(path)
	if err != nil {
		return stats, err
	}

	var scans []*specfile.Scan
	if len(scanIDs) == 0 {
		scans = sf.Scans()
	} else {
		for _, id := range scanIDs {
			scan, ok := sf.Scan(id)
			if !ok {
				return stats, fmt.Errorf("specfile %s: no scan %d", path, id)
			}
			scans = append(scans, scan)
		}
	}

	for _, scan := range scans {
		docs, err := specfile.ToDocuments(scan)
		if err != nil {
			if errors.Is(err, specfile.ErrUnsupportedScan) {
				continue
			}
			return stats, fmt.Errorf("scan %d: %w", scan.ScanID, err)
		}
		s, err := b.InsertDocuments(ctx, docs)
		stats = stats.Add(s)
		if err != nil {
			return stats, fmt.Errorf("scan %d: %w", scan.ScanID, err)
		}
	}
	return stats, nil
}
