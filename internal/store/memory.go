package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// maxPendingDecisions bounds the number of pending decisions kept at once
// (spec.md 4.9/§9): inserting past the ceiling evicts the oldest pending
// entries first, same as a FIFO eviction trigger would.
const maxPendingDecisions = 100

// DecisionStatus is the lifecycle state of a Decision.
type DecisionStatus string

const (
	DecisionPending  DecisionStatus = "pending"
	DecisionApproved DecisionStatus = "approved"
	DecisionRejected DecisionStatus = "rejected"
)

// Decision is an append-only record of a project decision, transitioning
// pending -> approved|rejected.
type Decision struct {
	ID         int64
	Title      string
	Description string
	Status     DecisionStatus
	CommitHash string
	CommitTime time.Time
	CreatedAt  time.Time
	ResolvedAt time.Time
}

// TimelineEvent is an append-only record mirroring a point in repository
// history (tag, merge, branch event) into the store.
type TimelineEvent struct {
	ID          int64
	FromRef     string
	ToRef       string
	EventType   string
	Description string
	CommitHash  string
	CommitTime  time.Time
	CreatedAt   time.Time
}

// Changelog is an append-only summary attached to a tag/release.
type Changelog struct {
	ID         int64
	Tag        string
	Summary    string
	CommitHash string
	CommitTime time.Time
	CreatedAt  time.Time
}

// MemoryExport is the on-disk shape of memory.json (spec.md 6.5).
type MemoryExport struct {
	Version    int             `json:"version"`
	ExportedAt time.Time       `json:"exported_at"`
	Project    string          `json:"project"`
	Timeline   []TimelineEvent `json:"timeline"`
	Changelogs []Changelog     `json:"changelogs"`
	Decisions  []Decision      `json:"decisions"`
}

// AddDecision inserts a new pending decision and, in the same transaction,
// evicts the oldest pending decisions past maxPendingDecisions — the
// application-side equivalent of the Python original's FIFO-eviction
// trigger (see sqlite_vec_backend.py), following the teacher's preference
// for integrity checks performed in Go over SQL triggers.
func (s *SQLiteStore) AddDecision(ctx context.Context, title, description, commitHash string, commitTime time.Time) (*Decision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now()
	res, err := tx.ExecContext(ctx, `
		INSERT INTO decisions (title, description, status, commit_hash, commit_time, created_at)
		VALUES (?, ?, 'pending', ?, ?, ?)
		ON CONFLICT(title) DO UPDATE SET
			description=excluded.description, commit_hash=excluded.commit_hash,
			commit_time=excluded.commit_time, status='pending', resolved_at=NULL`,
		title, description, commitHash, commitTime, now)
	if err != nil {
		return nil, fmt.Errorf("failed to insert decision: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to read decision id: %w", err)
	}

	if err := evictOldestPending(ctx, tx); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}

	return &Decision{
		ID: id, Title: title, Description: description,
		Status: DecisionPending, CommitHash: commitHash, CommitTime: commitTime,
		CreatedAt: now,
	}, nil
}

// evictOldestPending deletes the oldest pending decisions beyond
// maxPendingDecisions, keeping the count within the ceiling.
func evictOldestPending(ctx context.Context, tx *sql.Tx) error {
	var pendingCount int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM decisions WHERE status = 'pending'`).Scan(&pendingCount); err != nil {
		return fmt.Errorf("failed to count pending decisions: %w", err)
	}
	excess := pendingCount - maxPendingDecisions
	if excess <= 0 {
		return nil
	}
	_, err := tx.ExecContext(ctx, `
		DELETE FROM decisions WHERE id IN (
			SELECT id FROM decisions WHERE status = 'pending' ORDER BY id ASC LIMIT ?
		)`, excess)
	if err != nil {
		return fmt.Errorf("failed to evict oldest pending decisions: %w", err)
	}
	return nil
}

// ApproveDecision transitions a pending decision to approved.
func (s *SQLiteStore) ApproveDecision(ctx context.Context, id int64) error {
	return s.resolveDecision(ctx, id, DecisionApproved)
}

// RejectDecision transitions a pending decision to rejected.
func (s *SQLiteStore) RejectDecision(ctx context.Context, id int64) error {
	return s.resolveDecision(ctx, id, DecisionRejected)
}

func (s *SQLiteStore) resolveDecision(ctx context.Context, id int64, status DecisionStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("store is closed")
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE decisions SET status = ?, resolved_at = ? WHERE id = ? AND status = 'pending'`,
		status, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to resolve decision: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("no pending decision with id %d", id)
	}
	return nil
}

// ListPendingDecisions returns pending decisions oldest first.
func (s *SQLiteStore) ListPendingDecisions(ctx context.Context) ([]*Decision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, description, status, commit_hash, commit_time, created_at, resolved_at
		FROM decisions WHERE status = 'pending' ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending decisions: %w", err)
	}
	defer rows.Close()
	return scanDecisions(rows)
}

func scanDecisions(rows *sql.Rows) ([]*Decision, error) {
	var decisions []*Decision
	for rows.Next() {
		var d Decision
		var commitTime, resolvedAt sql.NullTime
		var commitHash, description sql.NullString
		if err := rows.Scan(&d.ID, &d.Title, &description, &d.Status, &commitHash, &commitTime, &d.CreatedAt, &resolvedAt); err != nil {
			return nil, fmt.Errorf("failed to scan decision: %w", err)
		}
		d.Description = description.String
		d.CommitHash = commitHash.String
		d.CommitTime = commitTime.Time
		d.ResolvedAt = resolvedAt.Time
		decisions = append(decisions, &d)
	}
	return decisions, rows.Err()
}

// AddTimelineEvent upserts a timeline event keyed by its natural key
// (from_ref, to_ref, event_type) — spec.md 6.5.
func (s *SQLiteStore) AddTimelineEvent(ctx context.Context, ev *TimelineEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("store is closed")
	}
	now := time.Now()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO timeline_events (from_ref, to_ref, event_type, description, commit_hash, commit_time, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(from_ref, to_ref, event_type) DO UPDATE SET
			description=excluded.description, commit_hash=excluded.commit_hash,
			commit_time=excluded.commit_time`,
		ev.FromRef, ev.ToRef, ev.EventType, ev.Description, ev.CommitHash, ev.CommitTime, now)
	if err != nil {
		return fmt.Errorf("failed to upsert timeline event: %w", err)
	}
	return nil
}

// GetTimelineEvents returns the most recent timeline events, newest first.
// A non-positive limit returns all events.
func (s *SQLiteStore) GetTimelineEvents(ctx context.Context, limit int) ([]*TimelineEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}
	query := `SELECT id, from_ref, to_ref, event_type, description, commit_hash, commit_time, created_at
		FROM timeline_events ORDER BY created_at DESC, id DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query timeline events: %w", err)
	}
	defer rows.Close()

	var events []*TimelineEvent
	for rows.Next() {
		var e TimelineEvent
		var commitTime sql.NullTime
		var commitHash, description sql.NullString
		if err := rows.Scan(&e.ID, &e.FromRef, &e.ToRef, &e.EventType, &description, &commitHash, &commitTime, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan timeline event: %w", err)
		}
		e.Description = description.String
		e.CommitHash = commitHash.String
		e.CommitTime = commitTime.Time
		events = append(events, &e)
	}
	return events, rows.Err()
}

// AddChangelog upserts a changelog entry keyed by its tag.
func (s *SQLiteStore) AddChangelog(ctx context.Context, cl *Changelog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("store is closed")
	}
	now := time.Now()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO changelogs (tag, summary, commit_hash, commit_time, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(tag) DO UPDATE SET
			summary=excluded.summary, commit_hash=excluded.commit_hash, commit_time=excluded.commit_time`,
		cl.Tag, cl.Summary, cl.CommitHash, cl.CommitTime, now)
	if err != nil {
		return fmt.Errorf("failed to upsert changelog: %w", err)
	}
	return nil
}

// GetChangelogs returns changelog entries, newest first. A non-positive
// limit returns all entries.
func (s *SQLiteStore) GetChangelogs(ctx context.Context, limit int) ([]*Changelog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}
	query := `SELECT id, tag, summary, commit_hash, commit_time, created_at
		FROM changelogs ORDER BY created_at DESC, id DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query changelogs: %w", err)
	}
	defer rows.Close()

	var changelogs []*Changelog
	for rows.Next() {
		var c Changelog
		var commitTime sql.NullTime
		var commitHash, summary sql.NullString
		if err := rows.Scan(&c.ID, &c.Tag, &summary, &commitHash, &commitTime, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan changelog: %w", err)
		}
		c.Summary = summary.String
		c.CommitHash = commitHash.String
		c.CommitTime = commitTime.Time
		changelogs = append(changelogs, &c)
	}
	return changelogs, rows.Err()
}

// ExportMemory produces the memory.json payload for the whole store
// (spec.md 6.5).
func (s *SQLiteStore) ExportMemory(ctx context.Context, project string) (*MemoryExport, error) {
	events, err := s.GetTimelineEvents(ctx, 0)
	if err != nil {
		return nil, err
	}
	changelogs, err := s.GetChangelogs(ctx, 0)
	if err != nil {
		return nil, err
	}
	decisions, err := s.allDecisions(ctx)
	if err != nil {
		return nil, err
	}

	export := &MemoryExport{
		Version:    1,
		ExportedAt: time.Now(),
		Project:    project,
	}
	for _, e := range events {
		export.Timeline = append(export.Timeline, *e)
	}
	for _, c := range changelogs {
		export.Changelogs = append(export.Changelogs, *c)
	}
	for _, d := range decisions {
		export.Decisions = append(export.Decisions, *d)
	}
	return export, nil
}

func (s *SQLiteStore) allDecisions(ctx context.Context) ([]*Decision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, description, status, commit_hash, commit_time, created_at, resolved_at
		FROM decisions ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query decisions: %w", err)
	}
	defer rows.Close()
	return scanDecisions(rows)
}

// ImportMemory merges an export into the store, idempotent by natural key:
// timeline events by (from_ref, to_ref, event_type), changelogs by tag,
// decisions by title. Newest commit_time wins on conflict, and an existing
// approved decision is never downgraded to pending/rejected (spec.md 6.5).
func (s *SQLiteStore) ImportMemory(ctx context.Context, export *MemoryExport) error {
	for _, e := range export.Timeline {
		ev := e
		if err := s.importTimelineEvent(ctx, &ev); err != nil {
			return err
		}
	}
	for _, c := range export.Changelogs {
		cl := c
		if err := s.importChangelog(ctx, &cl); err != nil {
			return err
		}
	}
	for _, d := range export.Decisions {
		dec := d
		if err := s.importDecision(ctx, &dec); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) importTimelineEvent(ctx context.Context, e *TimelineEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("store is closed")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO timeline_events (from_ref, to_ref, event_type, description, commit_hash, commit_time, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(from_ref, to_ref, event_type) DO UPDATE SET
			description=excluded.description, commit_hash=excluded.commit_hash,
			commit_time=excluded.commit_time
		WHERE excluded.commit_time > timeline_events.commit_time`,
		e.FromRef, e.ToRef, e.EventType, e.Description, e.CommitHash, e.CommitTime, timeOrNow(e.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to import timeline event: %w", err)
	}
	return nil
}

func (s *SQLiteStore) importChangelog(ctx context.Context, c *Changelog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("store is closed")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO changelogs (tag, summary, commit_hash, commit_time, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(tag) DO UPDATE SET
			summary=excluded.summary, commit_hash=excluded.commit_hash, commit_time=excluded.commit_time
		WHERE excluded.commit_time > changelogs.commit_time`,
		c.Tag, c.Summary, c.CommitHash, c.CommitTime, timeOrNow(c.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to import changelog: %w", err)
	}
	return nil
}

func (s *SQLiteStore) importDecision(ctx context.Context, d *Decision) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("store is closed")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO decisions (title, description, status, commit_hash, commit_time, created_at, resolved_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(title) DO UPDATE SET
			description=excluded.description, commit_hash=excluded.commit_hash,
			commit_time=excluded.commit_time,
			status=CASE WHEN decisions.status = 'approved' THEN decisions.status ELSE excluded.status END,
			resolved_at=CASE WHEN decisions.status = 'approved' THEN decisions.resolved_at ELSE excluded.resolved_at END
		WHERE excluded.commit_time > decisions.commit_time OR decisions.status != 'approved'`,
		d.Title, d.Description, string(d.Status), d.CommitHash, d.CommitTime, timeOrNow(d.CreatedAt), nullableTime(d.ResolvedAt))
	if err != nil {
		return fmt.Errorf("failed to import decision: %w", err)
	}
	return nil
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now()
	}
	return t
}

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
