package broker

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/bluesky/suitcase-core/internal/domain"
	"github.com/bluesky/suitcase-core/internal/ports"
)

func startDocument(uid, hash string) *domain.Document {
	return &domain.Document{
		Kind: domain.KindRunStart,
		Start: &domain.RunStart{
			UID:      uid,
			Time:     time.Now(),
			ScanID:   1,
			SpecPath: "/data/lab.spec",
			Owner:    "user",
			PlanName: "dscan",
			Motors:   []string{"tth"},
			ScanHash: hash,
		},
	}
}

func TestPostgresBrokerInsertDocuments(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	b := NewPostgresBroker(db, "suitcase")

	mock.ExpectExec(`(?s)INSERT INTO suitcase_run_starts.*ON CONFLICT \(scan_hash\) DO NOTHING`).
		WithArgs("run-1", sqlmock.AnyArg(), 1, "/data/lab.spec", "user", "dscan",
			sqlmock.AnyArg(), sqlmock.AnyArg(), "", "", "hash-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	stats, err := b.InsertDocuments(context.Background(), []*domain.Document{startDocument("run-1", "hash-1")})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if stats.Inserted != 1 || stats.Skipped != 0 {
		t.Fatalf("unexpected stats %+v", stats)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgresBrokerSkipsDuplicates(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	b := NewPostgresBroker(db, "suitcase")

	// ON CONFLICT DO NOTHING reports zero affected rows for a duplicate;
	// the broker then resolves the stored uid for link remapping.
	mock.ExpectExec(`(?s)INSERT INTO suitcase_run_starts.*DO NOTHING`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT uid FROM suitcase_run_starts WHERE scan_hash = \$1`).
		WithArgs("hash-1").
		WillReturnRows(sqlmock.NewRows([]string{"uid"}).AddRow("run-1"))

	stats, err := b.InsertDocuments(context.Background(), []*domain.Document{startDocument("run-2", "hash-1")})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if stats.Inserted != 0 || stats.Skipped != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgresBrokerRemapsDuplicateStream(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	b := NewPostgresBroker(db, "suitcase")
	now := time.Now()

	// A re-ingested scan arrives with fresh uids; every link below the
	// duplicate start must be rewritten to the stored uids before the
	// conflict keys are applied.
	docs := []*domain.Document{
		startDocument("run-2", "hash-1"),
		{Kind: domain.KindDescriptor, Descriptor: &domain.EventDescriptor{
			UID: "desc-2", RunStart: "run-2", Name: "primary", Time: now, ScanHash: "hash-1",
		}},
		{Kind: domain.KindEvent, Event: &domain.Event{
			UID: "ev-2", Descriptor: "desc-2", SeqNum: 0, Time: now,
			Data: map[string]float64{"Detector": 100},
		}},
		{Kind: domain.KindRunStop, Stop: &domain.RunStop{
			UID: "stop-2", RunStart: "run-2", Time: now,
			ExitStatus: "success", ScanHash: "hash-1",
		}},
	}

	mock.ExpectExec(`(?s)INSERT INTO suitcase_run_starts.*DO NOTHING`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT uid FROM suitcase_run_starts WHERE scan_hash = \$1`).
		WithArgs("hash-1").
		WillReturnRows(sqlmock.NewRows([]string{"uid"}).AddRow("run-1"))

	mock.ExpectExec(`(?s)INSERT INTO suitcase_descriptors.*ON CONFLICT \(run_start, name, scan_hash\) DO NOTHING`).
		WithArgs("desc-2", "run-1", "primary", sqlmock.AnyArg(), sqlmock.AnyArg(), "hash-1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT uid FROM suitcase_descriptors WHERE run_start = \$1 AND name = \$2 AND scan_hash = \$3`).
		WithArgs("run-1", "primary", "hash-1").
		WillReturnRows(sqlmock.NewRows([]string{"uid"}).AddRow("desc-1"))

	mock.ExpectExec(`(?s)INSERT INTO suitcase_events.*ON CONFLICT \(descriptor, seq_num\) DO NOTHING`).
		WithArgs("ev-2", "desc-1", 0, sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	mock.ExpectExec(`(?s)INSERT INTO suitcase_run_stops.*ON CONFLICT \(run_start\) DO NOTHING`).
		WithArgs("stop-2", "run-1", sqlmock.AnyArg(), "success", "", "hash-1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	stats, err := b.InsertDocuments(context.Background(), docs)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if stats.Inserted != 0 || stats.Skipped != len(docs) {
		t.Fatalf("unexpected stats %+v", stats)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgresBrokerInsertEventAndStop(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	b := NewPostgresBroker(db, "suitcase")

	docs := []*domain.Document{
		{Kind: domain.KindEvent, Event: &domain.Event{
			UID: "ev-1", Descriptor: "desc-1", SeqNum: 0, Time: time.Now(),
			Data: map[string]float64{"Detector": 100},
		}},
		{Kind: domain.KindRunStop, Stop: &domain.RunStop{
			UID: "stop-1", RunStart: "run-1", Time: time.Now(),
			ExitStatus: "success", ScanHash: "hash-1",
		}},
	}

	mock.ExpectExec(`(?s)INSERT INTO suitcase_events.*ON CONFLICT \(descriptor, seq_num\) DO NOTHING`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`(?s)INSERT INTO suitcase_run_stops.*ON CONFLICT \(run_start\) DO NOTHING`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	stats, err := b.InsertDocuments(context.Background(), docs)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if stats.Inserted != 2 {
		t.Fatalf("unexpected stats %+v", stats)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgresBrokerRejectsInvalidDocument(t *testing.T) {
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	b := NewPostgresBroker(db, "suitcase")

	docs := []*domain.Document{{Kind: domain.KindRunStart}}
	if _, err := b.InsertDocuments(context.Background(), docs); err == nil {
		t.Fatalf("expected validation error for payloadless document")
	}
}

func TestPostgresBrokerFindRunStarts(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	b := NewPostgresBroker(db, "suitcase")
	now := time.Now()

	cols := []string{"uid", "time", "scan_id", "specpath", "owner", "plan_name",
		"plan_args", "motors", "grp", "beamline_id", "scan_hash"}
	rows := sqlmock.NewRows(cols).
		AddRow("run-1", now, 1, "/data/lab.spec", "user", "dscan",
			[]byte(`{"num":"2"}`), "{tth}", "grp", "bl", "hash-1")

	mock.ExpectQuery(`SELECT .* FROM suitcase_run_starts WHERE scan_hash = \$1 ORDER BY time`).
		WithArgs("hash-1").
		WillReturnRows(rows)

	starts, err := b.FindRunStarts(context.Background(), ports.RunStartFilter{ScanHash: "hash-1"})
	if err != nil {
		t.Fatalf("find run starts: %v", err)
	}
	if len(starts) != 1 || starts[0].UID != "run-1" {
		t.Fatalf("unexpected result %+v", starts)
	}
	if starts[0].PlanArgs["num"] != "2" {
		t.Fatalf("plan args not decoded: %+v", starts[0].PlanArgs)
	}
	if len(starts[0].Motors) != 1 || starts[0].Motors[0] != "tth" {
		t.Fatalf("motors not decoded: %+v", starts[0].Motors)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgresBrokerName(t *testing.T) {
	db, _, _ := sqlmock.New()
	defer db.Close()

	b := NewPostgresBroker(db, "")
	if b.Name() != "postgres" {
		t.Fatalf("expected broker name postgres, got %s", b.Name())
	}
	if b.table("events") != "suitcase_events" {
		t.Fatalf("expected default table prefix, got %s", b.table("events"))
	}
}
