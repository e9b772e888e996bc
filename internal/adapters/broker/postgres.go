// Package broker provides the metadata/data stores that scan documents are
// inserted into: a Postgres-backed broker for deployments and an in-memory
// broker for embedding and tests.
package broker

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/lib/pq"

	"github.com/bluesky/suitcase-core/internal/domain"
	"github.com/bluesky/suitcase-core/internal/ports"
)

// PostgresBroker stores documents in four tables (<prefix>_run_starts,
// _descriptors, _events, _run_stops). Every insert is ON CONFLICT DO
// NOTHING against the document's duplicate-detection key, so re-ingesting
// a scan is a no-op.
type PostgresBroker struct {
	db     *sql.DB
	prefix string

	// A re-ingested scan carries freshly minted uids. When a start or
	// descriptor hits its conflict key, the stored row's uid is looked up
	// and the incoming uid aliased to it, so the links carried by the rest
	// of the stream land on the stored rows.
	mu           sync.Mutex
	startAliases map[string]string
	descAliases  map[string]string
}

func NewPostgresBroker(db *sql.DB, tablePrefix string) *PostgresBroker {
	if tablePrefix == "" {
		tablePrefix = "suitcase"
	}
	return &PostgresBroker{
		db:           db,
		prefix:       tablePrefix,
		startAliases: make(map[string]string),
		descAliases:  make(map[string]string),
	}
}

func (b *PostgresBroker) resolveStart(uid string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if stored, ok := b.startAliases[uid]; ok {
		return stored
	}
	return uid
}

func (b *PostgresBroker) aliasStart(incoming, stored string) {
	if incoming == stored || stored == "" {
		return
	}
	b.mu.Lock()
	b.startAliases[incoming] = stored
	b.mu.Unlock()
}

func (b *PostgresBroker) resolveDescriptor(uid string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if stored, ok := b.descAliases[uid]; ok {
		return stored
	}
	return uid
}

func (b *PostgresBroker) aliasDescriptor(incoming, stored string) {
	if incoming == stored || stored == "" {
		return
	}
	b.mu.Lock()
	b.descAliases[incoming] = stored
	b.mu.Unlock()
}

func (b *PostgresBroker) Name() string { return "postgres" }

func (b *PostgresBroker) table(name string) string {
	return b.prefix + "_" + name
}

// InitSchema creates the broker tables and their duplicate-detection
// indexes if they do not exist yet.
func (b *PostgresBroker) InitSchema(ctx context.Context) error {
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			uid TEXT PRIMARY KEY,
			time TIMESTAMPTZ NOT NULL,
			scan_id BIGINT NOT NULL,
			specpath TEXT NOT NULL,
			owner TEXT NOT NULL,
			plan_name TEXT NOT NULL,
			plan_args JSONB,
			motors TEXT[],
			grp TEXT,
			beamline_id TEXT,
			scan_hash TEXT NOT NULL UNIQUE
		)`, b.table("run_starts")),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			uid TEXT PRIMARY KEY,
			run_start TEXT NOT NULL,
			name TEXT NOT NULL DEFAULT '',
			time TIMESTAMPTZ NOT NULL,
			data_keys JSONB,
			scan_hash TEXT NOT NULL,
			UNIQUE (run_start, name, scan_hash)
		)`, b.table("descriptors")),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			uid TEXT PRIMARY KEY,
			descriptor TEXT NOT NULL,
			seq_num BIGINT NOT NULL,
			time TIMESTAMPTZ NOT NULL,
			data JSONB,
			timestamps JSONB,
			UNIQUE (descriptor, seq_num)
		)`, b.table("events")),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			uid TEXT PRIMARY KEY,
			run_start TEXT NOT NULL UNIQUE,
			time TIMESTAMPTZ NOT NULL,
			exit_status TEXT NOT NULL,
			reason TEXT,
			scan_hash TEXT NOT NULL
		)`, b.table("run_stops")),
	}
	for _, stmt := range stmts {
		if _, err := b.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

func (b *PostgresBroker) WriteBatch(docs []*domain.Document) error {
	_, err := b.InsertDocuments(context.Background(), docs)
	return err
}

func (b *PostgresBroker) InsertDocuments(ctx context.Context, docs []*domain.Document) (ports.InsertStats, error) {
	var stats ports.InsertStats
	if len(docs) == 0 {
		return stats, nil
	}
	for _, doc := range docs {
		if err := doc.Validate(); err != nil {
			return stats, fmt.Errorf("insert: %w", err)
		}
		var (
			inserted bool
			err      error
		)
		switch doc.Kind {
		case domain.KindRunStart:
			inserted, err = b.insertRunStart(ctx, doc.Start)
		case domain.KindDescriptor:
			inserted, err = b.insertDescriptor(ctx, doc.Descriptor)
		case domain.KindEvent:
			inserted, err = b.insertEvent(ctx, doc.Event)
		case domain.KindRunStop:
			inserted, err = b.insertRunStop(ctx, doc.Stop)
		}
		if err != nil {
			return stats, err
		}
		if inserted {
			stats.Inserted++
		} else {
			stats.Skipped++
		}
	}
	return stats, nil
}

func (b *PostgresBroker) insertRunStart(ctx context.Context, s *domain.RunStart) (bool, error) {
	args, err := json.Marshal(s.PlanArgs)
	if err != nil {
		return false, fmt.Errorf("marshal plan_args: %w", err)
	}
	q := fmt.Sprintf(`INSERT INTO %s (uid, time, scan_id, specpath, owner, plan_name, plan_args, motors, grp, beamline_id, scan_hash)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11) ON CONFLICT (scan_hash) DO NOTHING`, b.table("run_starts"))
	res, err := b.db.ExecContext(ctx, q,
		s.UID, s.Time, s.ScanID, s.SpecPath, s.Owner, s.PlanName, args,
		pq.Array(s.Motors), s.Group, s.BeamlineID, s.ScanHash)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n > 0 {
		return true, nil
	}

	var stored string
	lookup := fmt.Sprintf(`SELECT uid FROM %s WHERE scan_hash = $1`, b.table("run_starts"))
	if err := b.db.QueryRowContext(ctx, lookup, s.ScanHash).Scan(&stored); err != nil {
		return false, fmt.Errorf("resolve duplicate run start: %w", err)
	}
	b.aliasStart(s.UID, stored)
	return false, nil
}

func (b *PostgresBroker) insertDescriptor(ctx context.Context, d *domain.EventDescriptor) (bool, error) {
	keys, err := json.Marshal(d.DataKeys)
	if err != nil {
		return false, fmt.Errorf("marshal data_keys: %w", err)
	}
	runStart := b.resolveStart(d.RunStart)
	q := fmt.Sprintf(`INSERT INTO %s (uid, run_start, name, time, data_keys, scan_hash)
		VALUES ($1,$2,$3,$4,$5,$6) ON CONFLICT (run_start, name, scan_hash) DO NOTHING`, b.table("descriptors"))
	res, err := b.db.ExecContext(ctx, q, d.UID, runStart, d.Name, d.Time, keys, d.ScanHash)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n > 0 {
		return true, nil
	}

	var stored string
	lookup := fmt.Sprintf(`SELECT uid FROM %s WHERE run_start = $1 AND name = $2 AND scan_hash = $3`, b.table("descriptors"))
	if err := b.db.QueryRowContext(ctx, lookup, runStart, d.Name, d.ScanHash).Scan(&stored); err != nil {
		return false, fmt.Errorf("resolve duplicate descriptor: %w", err)
	}
	b.aliasDescriptor(d.UID, stored)
	return false, nil
}

func (b *PostgresBroker) insertEvent(ctx context.Context, e *domain.Event) (bool, error) {
	data, err := json.Marshal(e.Data)
	if err != nil {
		return false, fmt.Errorf("marshal data: %w", err)
	}
	timestamps, err := json.Marshal(e.Timestamps)
	if err != nil {
		return false, fmt.Errorf("marshal timestamps: %w", err)
	}
	q := fmt.Sprintf(`INSERT INTO %s (uid, descriptor, seq_num, time, data, timestamps)
		VALUES ($1,$2,$3,$4,$5,$6) ON CONFLICT (descriptor, seq_num) DO NOTHING`, b.table("events"))
	res, err := b.db.ExecContext(ctx, q, e.UID, b.resolveDescriptor(e.Descriptor), e.SeqNum, e.Time, data, timestamps)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (b *PostgresBroker) insertRunStop(ctx context.Context, s *domain.RunStop) (bool, error) {
	q := fmt.Sprintf(`INSERT INTO %s (uid, run_start, time, exit_status, reason, scan_hash)
		VALUES ($1,$2,$3,$4,$5,$6) ON CONFLICT (run_start) DO NOTHING`, b.table("run_stops"))
	res, err := b.db.ExecContext(ctx, q, s.UID, b.resolveStart(s.RunStart), s.Time, s.ExitStatus, s.Reason, s.ScanHash)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (b *PostgresBroker) FindRunStarts(ctx context.Context, filter ports.RunStartFilter) ([]domain.RunStart, error) {
	q := fmt.Sprintf(`SELECT uid, time, scan_id, specpath, owner, plan_name, plan_args, motors, grp, beamline_id, scan_hash FROM %s`, b.table("run_starts"))
	var (
		conds []string
		args  []any
	)
	if filter.ScanHash != "" {
		args = append(args, filter.ScanHash)
		conds = append(conds, fmt.Sprintf("scan_hash = $%d", len(args)))
	}
	if filter.ScanID != 0 {
		args = append(args, filter.ScanID)
		conds = append(conds, fmt.Sprintf("scan_id = $%d", len(args)))
	}
	if filter.SpecPath != "" {
		args = append(args, filter.SpecPath)
		conds = append(conds, fmt.Sprintf("specpath = $%d", len(args)))
	}
	if len(conds) > 0 {
		q += " WHERE " + strings.Join(conds, " AND ")
	}
	q += " ORDER BY time"

	rows, err := b.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.RunStart
	for rows.Next() {
		var (
			s        domain.RunStart
			argsJSON []byte
		)
		if err := rows.Scan(&s.UID, &s.Time, &s.ScanID, &s.SpecPath, &s.Owner,
			&s.PlanName, &argsJSON, pq.Array(&s.Motors), &s.Group, &s.BeamlineID, &s.ScanHash); err != nil {
			return nil, err
		}
		if len(argsJSON) > 0 {
			if err := json.Unmarshal(argsJSON, &s.PlanArgs); err != nil {
				return nil, fmt.Errorf("unmarshal plan_args for %s: %w", s.UID, err)
			}
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (b *PostgresBroker) Headers(ctx context.Context, uids ...string) ([]domain.Header, error) {
	starts, err := b.findStartsByUIDs(ctx, uids)
	if err != nil {
		return nil, err
	}
	headers := make([]domain.Header, 0, len(starts))
	for _, start := range starts {
		descriptors, err := b.descriptorsForRun(ctx, start.UID)
		if err != nil {
			return nil, err
		}
		stop, err := b.stopForRun(ctx, start.UID)
		if err != nil {
			return nil, err
		}
		headers = append(headers, domain.Header{Start: start, Descriptors: descriptors, Stop: stop})
	}
	return headers, nil
}

func (b *PostgresBroker) findStartsByUIDs(ctx context.Context, uids []string) ([]domain.RunStart, error) {
	if len(uids) == 0 {
		return b.FindRunStarts(ctx, ports.RunStartFilter{})
	}
	q := fmt.Sprintf(`SELECT uid, time, scan_id, specpath, owner, plan_name, plan_args, motors, grp, beamline_id, scan_hash
		FROM %s WHERE uid = ANY($1) ORDER BY time`, b.table("run_starts"))
	rows, err := b.db.QueryContext(ctx, q, pq.Array(uids))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.RunStart
	for rows.Next() {
		var (
			s        domain.RunStart
			argsJSON []byte
		)
		if err := rows.Scan(&s.UID, &s.Time, &s.ScanID, &s.SpecPath, &s.Owner,
			&s.PlanName, &argsJSON, pq.Array(&s.Motors), &s.Group, &s.BeamlineID, &s.ScanHash); err != nil {
			return nil, err
		}
		if len(argsJSON) > 0 {
			if err := json.Unmarshal(argsJSON, &s.PlanArgs); err != nil {
				return nil, fmt.Errorf("unmarshal plan_args for %s: %w", s.UID, err)
			}
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (b *PostgresBroker) descriptorsForRun(ctx context.Context, startUID string) ([]domain.EventDescriptor, error) {
	q := fmt.Sprintf(`SELECT uid, run_start, name, time, data_keys, scan_hash FROM %s WHERE run_start = $1 ORDER BY time, name`, b.table("descriptors"))
	rows, err := b.db.QueryContext(ctx, q, startUID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.EventDescriptor
	for rows.Next() {
		var (
			d        domain.EventDescriptor
			keysJSON []byte
		)
		if err := rows.Scan(&d.UID, &d.RunStart, &d.Name, &d.Time, &keysJSON, &d.ScanHash); err != nil {
			return nil, err
		}
		if len(keysJSON) > 0 {
			if err := json.Unmarshal(keysJSON, &d.DataKeys); err != nil {
				return nil, fmt.Errorf("unmarshal data_keys for %s: %w", d.UID, err)
			}
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (b *PostgresBroker) stopForRun(ctx context.Context, startUID string) (*domain.RunStop, error) {
	q := fmt.Sprintf(`SELECT uid, run_start, time, exit_status, reason, scan_hash FROM %s WHERE run_start = $1`, b.table("run_stops"))
	var (
		s      domain.RunStop
		reason sql.NullString
	)
	err := b.db.QueryRowContext(ctx, q, startUID).Scan(&s.UID, &s.RunStart, &s.Time, &s.ExitStatus, &reason, &s.ScanHash)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	s.Reason = reason.String
	return &s, nil
}

func (b *PostgresBroker) EventsForDescriptor(ctx context.Context, descriptorUID string) ([]domain.Event, error) {
	q := fmt.Sprintf(`SELECT uid, descriptor, seq_num, time, data, timestamps FROM %s WHERE descriptor = $1 ORDER BY seq_num`, b.table("events"))
	rows, err := b.db.QueryContext(ctx, q, descriptorUID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Event
	for rows.Next() {
		var (
			e              domain.Event
			dataJSON       []byte
			timestampsJSON []byte
		)
		if err := rows.Scan(&e.UID, &e.Descriptor, &e.SeqNum, &e.Time, &dataJSON, &timestampsJSON); err != nil {
			return nil, err
		}
		if len(dataJSON) > 0 {
			if err := json.Unmarshal(dataJSON, &e.Data); err != nil {
				return nil, fmt.Errorf("unmarshal data for %s: %w", e.UID, err)
			}
		}
		if len(timestampsJSON) > 0 {
			if err := json.Unmarshal(timestampsJSON, &e.Timestamps); err != nil {
				return nil, fmt.Errorf("unmarshal timestamps for %s: %w", e.UID, err)
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

var _ ports.Broker = (*PostgresBroker)(nil)
