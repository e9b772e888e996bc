package wal

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/bluesky/suitcase-core/internal/domain"
	"github.com/bluesky/suitcase-core/internal/ports"
)

func startDoc(uid string) *domain.Document {
	return &domain.Document{Kind: domain.KindRunStart, Start: &domain.RunStart{UID: uid, ScanHash: "h-" + uid}}
}

func TestFileWALAppendIterateAndReplay(t *testing.T) {
	dir := t.TempDir()

	w, err := NewFileWAL(dir)
	if err != nil {
		t.Fatalf("new wal: %v", err)
	}

	d1 := startDoc("run-1")
	d2 := startDoc("run-2")

	id1, err := w.Append(d1)
	if err != nil || id1 == 0 {
		t.Fatalf("append doc 1: %v id=%d", err, id1)
	}
	id2, err := w.Append(d2)
	if err != nil || id2 == 0 {
		t.Fatalf("append doc 2: %v id=%d", err, id2)
	}

	if err := w.writer.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}

	var iterated []string
	if err := w.Iterate(1, func(id ports.WALEntryID, doc *domain.Document) error {
		iterated = append(iterated, doc.UID())
		return nil
	}); err != nil {
		t.Fatalf("iterate: %v", err)
	}
	if len(iterated) != 2 {
		t.Fatalf("expected 2 documents, got %d", len(iterated))
	}
	if iterated[0] != "run-1" || iterated[1] != "run-2" {
		t.Fatalf("unexpected order: %v", iterated)
	}

	if err := w.Commit(id2); err != nil {
		t.Fatalf("commit: %v", err)
	}

	if err := w.file.Close(); err != nil {
		t.Fatalf("close wal: %v", err)
	}

	// Reopen and ensure committed metadata was persisted.
	w2, err := NewFileWAL(dir)
	if err != nil {
		t.Fatalf("reopen wal: %v", err)
	}
	defer w2.file.Close()

	stats := w2.Stats()
	if stats.LatestAppended != id2 {
		t.Fatalf("expected latest appended %d, got %d", id2, stats.LatestAppended)
	}
	if stats.OldestUncommitted != id2+1 {
		t.Fatalf("expected oldest uncommitted %d, got %d", id2+1, stats.OldestUncommitted)
	}

	// Ensure truncation handles partial writes by manually corrupting the log.
	path := filepath.Join(dir, "journal.log")
	if err := appendGarbage(path); err != nil {
		t.Fatalf("append garbage: %v", err)
	}

	if err := w2.file.Close(); err != nil {
		t.Fatalf("close wal2: %v", err)
	}

	if _, err := NewFileWAL(dir); err != nil {
		t.Fatalf("reopen after garbage: %v", err)
	}
}

func TestFileWALTruncateCommitted(t *testing.T) {
	dir := t.TempDir()

	w, err := NewFileWAL(dir)
	if err != nil {
		t.Fatalf("new wal: %v", err)
	}

	var last ports.WALEntryID
	for _, uid := range []string{"a", "b", "c"} {
		last, err = w.Append(startDoc(uid))
		if err != nil {
			t.Fatalf("append %s: %v", uid, err)
		}
	}

	// Commit all but the final entry and compact.
	if err := w.Commit(last - 1); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if err := w.TruncateCommitted(); err != nil {
		t.Fatalf("truncate: %v", err)
	}

	var kept []string
	if err := w.Iterate(1, func(id ports.WALEntryID, doc *domain.Document) error {
		kept = append(kept, doc.UID())
		return nil
	}); err != nil {
		t.Fatalf("iterate after truncate: %v", err)
	}
	if len(kept) != 1 || kept[0] != "c" {
		t.Fatalf("expected only uncommitted entry, got %v", kept)
	}

	stats := w.Stats()
	if stats.SizeBytes == 0 {
		t.Fatalf("expected nonzero size for kept entry")
	}

	// Appends still work after the file swap.
	if _, err := w.Append(startDoc("d")); err != nil {
		t.Fatalf("append after truncate: %v", err)
	}
}

func appendGarbage(path string) error {
	f, err := openAppend(path)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.Write([]byte{0xFF, 0xAA}); err != nil {
		return err
	}
	return nil
}

func openAppend(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o644)
}
