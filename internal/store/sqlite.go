package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ashureev/guest-coach/internal/domain"
	"github.com/ashureev/guest-coach/internal/shared"
	_ "modernc.org/sqlite"
)

const (
	writeRetries   = 3
	writeBaseDelay = 50 * time.Millisecond
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db      *sql.DB
	stateMu sync.Mutex // serializes session state read-modify-write to avoid SQLITE_BUSY
	now     func() time.Time
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &SQLiteStore{db: db, now: time.Now}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS guests (
		guest_id TEXT PRIMARY KEY,
		created_at INTEGER NOT NULL,
		last_seen_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS sessions (
		session_id TEXT PRIMARY KEY,
		guest_id TEXT NOT NULL REFERENCES guests(guest_id) ON DELETE CASCADE,
		status TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_sessions_one_active ON sessions(guest_id) WHERE status = 'active';

	CREATE TABLE IF NOT EXISTS turns (
		turn_id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL REFERENCES sessions(session_id) ON DELETE CASCADE,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		mode TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_turns_session ON turns(session_id, turn_id);

	CREATE TABLE IF NOT EXISTS session_state (
		session_id TEXT PRIMARY KEY REFERENCES sessions(session_id) ON DELETE CASCADE,
		rolling_summary TEXT NOT NULL DEFAULT '',
		user_facts_json TEXT NOT NULL DEFAULT '[]',
		open_loops_json TEXT NOT NULL DEFAULT '[]',
		pending_clarifier INTEGER NOT NULL DEFAULT 0,
		clarifier_topic TEXT NOT NULL DEFAULT '',
		last_lens TEXT NOT NULL DEFAULT '',
		last_model TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS snapshots (
		snapshot_id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL REFERENCES sessions(session_id) ON DELETE CASCADE,
		purpose TEXT NOT NULL,
		values_json TEXT NOT NULL,
		strengths_json TEXT NOT NULL,
		next_step TEXT NOT NULL,
		model TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_snapshots_session ON snapshots(session_id, created_at);

	CREATE TABLE IF NOT EXISTS analytics_events (
		event_id TEXT PRIMARY KEY,
		guest_id TEXT NOT NULL,
		session_id TEXT NOT NULL,
		name TEXT NOT NULL,
		meta_json TEXT,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_analytics_created ON analytics_events(created_at);
	CREATE INDEX IF NOT EXISTS idx_analytics_guest ON analytics_events(guest_id);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// GetGuest retrieves a guest by ID.
func (s *SQLiteStore) GetGuest(ctx context.Context, guestID string) (*domain.Guest, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT guest_id, created_at, last_seen_at FROM guests WHERE guest_id = ?`, guestID)

	var g domain.Guest
	var createdAt, lastSeen int64
	err := row.Scan(&g.GuestID, &createdAt, &lastSeen)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan guest row: %w", err)
	}
	g.CreatedAt = time.UnixMilli(createdAt)
	g.LastSeenAt = time.UnixMilli(lastSeen)
	return &g, nil
}

// UpsertGuest creates or refreshes a guest record.
func (s *SQLiteStore) UpsertGuest(ctx context.Context, guest *domain.Guest) error {
	query := `
	INSERT INTO guests (guest_id, created_at, last_seen_at)
	VALUES (?, ?, ?)
	ON CONFLICT(guest_id) DO UPDATE SET
		last_seen_at = excluded.last_seen_at`

	err := shared.RetryOnConflict(ctx, writeRetries, writeBaseDelay, func() error {
		_, err := s.db.ExecContext(ctx, query,
			guest.GuestID, guest.CreatedAt.UnixMilli(), guest.LastSeenAt.UnixMilli())
		return err
	})
	if err != nil {
		return fmt.Errorf("upsert guest: %w", err)
	}
	return nil
}

// DeleteGuestData removes the guest, its sessions (cascading to turns, state
// and snapshots) and its analytics events. It returns the number of
// sessions erased.
func (s *SQLiteStore) DeleteGuestData(ctx context.Context, guestID string) (int64, error) {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin erase: %w", err)
	}
	defer rollback(tx)

	res, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE guest_id = ?`, guestID)
	if err != nil {
		return 0, fmt.Errorf("delete guest sessions: %w", err)
	}
	sessions, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("guest sessions rows affected: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM analytics_events WHERE guest_id = ?`, guestID); err != nil {
		return 0, fmt.Errorf("delete guest events: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM guests WHERE guest_id = ?`, guestID); err != nil {
		return 0, fmt.Errorf("delete guest: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit erase: %w", err)
	}
	return sessions, nil
}

// GetOrCreateActiveSession returns the guest's active session.
func (s *SQLiteStore) GetOrCreateActiveSession(ctx context.Context, guestID string) (*domain.Session, error) {
	sess, err := s.activeSession(ctx, guestID)
	if err != nil || sess != nil {
		return sess, err
	}

	now := s.now()
	sess = &domain.Session{
		SessionID: shared.NewID(),
		GuestID:   guestID,
		Status:    domain.SessionActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	err = shared.RetryOnConflict(ctx, writeRetries, writeBaseDelay, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO sessions (session_id, guest_id, status, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT DO NOTHING`,
			sess.SessionID, sess.GuestID, string(sess.Status), now.UnixMilli(), now.UnixMilli())
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}

	// A concurrent request may have won the unique active index; read back.
	return s.activeSession(ctx, guestID)
}

func (s *SQLiteStore) activeSession(ctx context.Context, guestID string) (*domain.Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT session_id, guest_id, status, created_at, updated_at
		FROM sessions WHERE guest_id = ? AND status = 'active'`, guestID)

	var sess domain.Session
	var status string
	var createdAt, updatedAt int64
	err := row.Scan(&sess.SessionID, &sess.GuestID, &status, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan session row: %w", err)
	}
	sess.Status = domain.SessionStatus(status)
	sess.CreatedAt = time.UnixMilli(createdAt)
	sess.UpdatedAt = time.UnixMilli(updatedAt)
	return &sess, nil
}

// ArchiveActiveSession marks the guest's active session archived.
func (s *SQLiteStore) ArchiveActiveSession(ctx context.Context, guestID string) error {
	err := shared.RetryOnConflict(ctx, writeRetries, writeBaseDelay, func() error {
		_, err := s.db.ExecContext(ctx,
			`UPDATE sessions SET status = 'archived', updated_at = ? WHERE guest_id = ? AND status = 'active'`,
			s.now().UnixMilli(), guestID)
		return err
	})
	if err != nil {
		return fmt.Errorf("archive session: %w", err)
	}
	return nil
}

// AppendTurns inserts all turns in one transaction so a request never
// leaves a user message without its reply.
func (s *SQLiteStore) AppendTurns(ctx context.Context, turns ...domain.ConversationTurn) error {
	if len(turns) == 0 {
		return nil
	}
	return shared.RetryOnConflict(ctx, writeRetries, writeBaseDelay, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin append: %w", err)
		}
		defer rollback(tx)

		if err := s.insertTurns(ctx, tx, turns); err != nil {
			return err
		}
		return tx.Commit()
	})
}

// CommitTurn inserts the turns and applies patch to the session state in a
// single transaction. Either both land or neither does.
func (s *SQLiteStore) CommitTurn(ctx context.Context, sessionID string, patch domain.SessionStatePatch, turns ...domain.ConversationTurn) (*domain.SessionState, error) {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()

	var out *domain.SessionState
	err := shared.RetryOnConflict(ctx, writeRetries, writeBaseDelay, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin commit turn: %w", err)
		}
		defer rollback(tx)

		if err := s.insertTurns(ctx, tx, turns); err != nil {
			return err
		}
		st, err := s.applyState(ctx, tx, sessionID, patch)
		if err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit turn: %w", err)
		}
		out = st
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *SQLiteStore) insertTurns(ctx context.Context, q queryer, turns []domain.ConversationTurn) error {
	if len(turns) == 0 {
		return nil
	}
	for _, t := range turns {
		if _, err := q.ExecContext(ctx, `
			INSERT INTO turns (turn_id, session_id, role, content, mode, created_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			t.TurnID, t.SessionID, string(t.Role), t.Content, string(t.Mode), t.CreatedAt.UnixMilli(),
		); err != nil {
			return fmt.Errorf("insert turn: %w", err)
		}
	}
	if _, err := q.ExecContext(ctx, `UPDATE sessions SET updated_at = ? WHERE session_id = ?`,
		s.now().UnixMilli(), turns[0].SessionID); err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	return nil
}

// ListTurns returns the newest limit turns of a session in creation order.
func (s *SQLiteStore) ListTurns(ctx context.Context, sessionID string, limit int) ([]domain.ConversationTurn, error) {
	query := `
		SELECT turn_id, session_id, role, content, mode, created_at FROM (
			SELECT turn_id, session_id, role, content, mode, created_at
			FROM turns WHERE session_id = ?
			ORDER BY turn_id DESC LIMIT ?
		) ORDER BY turn_id ASC`
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}

	rows, err := s.db.QueryContext(ctx, query, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("query turns: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close turn rows", "error", closeErr)
		}
	}()

	var turns []domain.ConversationTurn
	for rows.Next() {
		var t domain.ConversationTurn
		var role, mode string
		var createdAt int64
		if err := rows.Scan(&t.TurnID, &t.SessionID, &role, &t.Content, &mode, &createdAt); err != nil {
			return nil, fmt.Errorf("scan turn row: %w", err)
		}
		t.Role = domain.Role(role)
		t.Mode = domain.TurnMode(mode)
		t.CreatedAt = time.UnixMilli(createdAt)
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate turns: %w", err)
	}
	return turns, nil
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// GetOrCreateSessionState returns the session's state row, inserting an empty one on first access.
func (s *SQLiteStore) GetOrCreateSessionState(ctx context.Context, sessionID string) (*domain.SessionState, error) {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.getOrCreateState(ctx, s.db, sessionID)
}

func (s *SQLiteStore) getOrCreateState(ctx context.Context, q queryer, sessionID string) (*domain.SessionState, error) {
	now := s.now().UnixMilli()
	if _, err := q.ExecContext(ctx, `
		INSERT INTO session_state (session_id, created_at, updated_at)
		VALUES (?, ?, ?) ON CONFLICT(session_id) DO NOTHING`, sessionID, now, now); err != nil {
		return nil, fmt.Errorf("create session state: %w", err)
	}

	row := q.QueryRowContext(ctx, `
		SELECT session_id, rolling_summary, user_facts_json, open_loops_json,
		       pending_clarifier, clarifier_topic, last_lens, last_model, created_at, updated_at
		FROM session_state WHERE session_id = ?`, sessionID)

	var st domain.SessionState
	var factsJSON, loopsJSON string
	var createdAt, updatedAt int64
	if err := row.Scan(&st.SessionID, &st.RollingSummary, &factsJSON, &loopsJSON,
		&st.PendingClarifier, &st.ClarifierTopic, &st.LastLens, &st.LastModel,
		&createdAt, &updatedAt); err != nil {
		return nil, fmt.Errorf("scan session state: %w", err)
	}
	if err := json.Unmarshal([]byte(factsJSON), &st.UserFacts); err != nil {
		return nil, fmt.Errorf("decode user facts: %w", err)
	}
	if err := json.Unmarshal([]byte(loopsJSON), &st.OpenLoops); err != nil {
		return nil, fmt.Errorf("decode open loops: %w", err)
	}
	st.CreatedAt = time.UnixMilli(createdAt)
	st.UpdatedAt = time.UnixMilli(updatedAt)
	return &st, nil
}

// UpdateSessionState applies patch on top of the stored state. Writes are
// last-writer-wins; there is no version check.
func (s *SQLiteStore) UpdateSessionState(ctx context.Context, sessionID string, patch domain.SessionStatePatch) (*domain.SessionState, error) {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()

	var out *domain.SessionState
	err := shared.RetryOnConflict(ctx, writeRetries, writeBaseDelay, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin state update: %w", err)
		}
		defer rollback(tx)

		st, err := s.applyState(ctx, tx, sessionID, patch)
		if err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit session state: %w", err)
		}
		out = st
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *SQLiteStore) applyState(ctx context.Context, q queryer, sessionID string, patch domain.SessionStatePatch) (*domain.SessionState, error) {
	st, err := s.getOrCreateState(ctx, q, sessionID)
	if err != nil {
		return nil, err
	}
	st.Apply(patch)
	st.UpdatedAt = s.now()

	factsJSON, err := json.Marshal(nonNil(st.UserFacts))
	if err != nil {
		return nil, fmt.Errorf("encode user facts: %w", err)
	}
	loopsJSON, err := json.Marshal(nonNil(st.OpenLoops))
	if err != nil {
		return nil, fmt.Errorf("encode open loops: %w", err)
	}

	if _, err := q.ExecContext(ctx, `
		UPDATE session_state SET
			rolling_summary = ?, user_facts_json = ?, open_loops_json = ?,
			pending_clarifier = ?, clarifier_topic = ?, last_lens = ?, last_model = ?,
			updated_at = ?
		WHERE session_id = ?`,
		st.RollingSummary, string(factsJSON), string(loopsJSON),
		st.PendingClarifier, st.ClarifierTopic, st.LastLens, st.LastModel,
		st.UpdatedAt.UnixMilli(), sessionID,
	); err != nil {
		return nil, fmt.Errorf("update session state: %w", err)
	}
	return st, nil
}

// SaveSnapshot stores a purpose snapshot.
func (s *SQLiteStore) SaveSnapshot(ctx context.Context, snap *domain.Snapshot) error {
	valuesJSON, err := json.Marshal(nonNil(snap.Values))
	if err != nil {
		return fmt.Errorf("encode snapshot values: %w", err)
	}
	strengthsJSON, err := json.Marshal(nonNil(snap.Strengths))
	if err != nil {
		return fmt.Errorf("encode snapshot strengths: %w", err)
	}
	err = shared.RetryOnConflict(ctx, writeRetries, writeBaseDelay, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO snapshots (snapshot_id, session_id, purpose, values_json, strengths_json, next_step, model, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			snap.SnapshotID, snap.SessionID, snap.Purpose, string(valuesJSON), string(strengthsJSON),
			snap.NextStep, snap.Model, snap.CreatedAt.UnixMilli())
		return err
	})
	if err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}
	return nil
}

// GetLatestSnapshotForSession returns the newest snapshot or nil.
func (s *SQLiteStore) GetLatestSnapshotForSession(ctx context.Context, sessionID string) (*domain.Snapshot, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT snapshot_id, session_id, purpose, values_json, strengths_json, next_step, model, created_at
		FROM snapshots WHERE session_id = ?
		ORDER BY created_at DESC, snapshot_id DESC LIMIT 1`, sessionID)

	var snap domain.Snapshot
	var valuesJSON, strengthsJSON string
	var createdAt int64
	err := row.Scan(&snap.SnapshotID, &snap.SessionID, &snap.Purpose, &valuesJSON, &strengthsJSON,
		&snap.NextStep, &snap.Model, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan snapshot: %w", err)
	}
	if err := json.Unmarshal([]byte(valuesJSON), &snap.Values); err != nil {
		return nil, fmt.Errorf("decode snapshot values: %w", err)
	}
	if err := json.Unmarshal([]byte(strengthsJSON), &snap.Strengths); err != nil {
		return nil, fmt.Errorf("decode snapshot strengths: %w", err)
	}
	snap.CreatedAt = time.UnixMilli(createdAt)
	return &snap, nil
}

// RecordEvent persists an analytics event.
func (s *SQLiteStore) RecordEvent(ctx context.Context, event *domain.AnalyticsEvent) error {
	var meta any
	if len(event.Meta) > 0 {
		data, err := json.Marshal(event.Meta)
		if err != nil {
			return fmt.Errorf("encode event meta: %w", err)
		}
		meta = string(data)
	}
	err := shared.RetryOnConflict(ctx, writeRetries, writeBaseDelay, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO analytics_events (event_id, guest_id, session_id, name, meta_json, created_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			event.EventID, event.GuestID, event.SessionID, event.Name, meta, event.CreatedAt.UnixMilli())
		return err
	})
	if err != nil {
		return fmt.Errorf("insert analytics event: %w", err)
	}
	return nil
}

// PurgeEventsBefore deletes analytics events created before cutoff.
func (s *SQLiteStore) PurgeEventsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM analytics_events WHERE created_at < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("purge analytics events: %w", err)
	}
	return result.RowsAffected()
}

// CountEvents returns how many analytics events with the given name exist.
func (s *SQLiteStore) CountEvents(ctx context.Context, name string) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM analytics_events WHERE name = ?`, name).Scan(&n); err != nil {
		return 0, fmt.Errorf("count analytics events: %w", err)
	}
	return n, nil
}

func rollback(tx *sql.Tx) {
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		slog.Warn("failed to roll back transaction", "error", err)
	}
}

func nonNil(items []string) []string {
	if items == nil {
		return []string{}
	}
	return items
}
