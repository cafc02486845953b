package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"
	_ "modernc.org/sqlite"

	"github.com/valpere/kosei/internal"
	"github.com/valpere/kosei/internal/orchestrator"
	"github.com/valpere/kosei/internal/policy"
)

// ErrNotFound is returned when a session or allowlist entry does not exist.
var ErrNotFound = errors.New("not found")

type Store struct {
	db *sql.DB
}

func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite serialises writers; one connection avoids SQLITE_BUSY under
	// concurrent segment runs.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate: %w", err)
	}

	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		source TEXT NOT NULL DEFAULT '',
		source_text TEXT NOT NULL,
		final_text TEXT NOT NULL,
		policy_version TEXT NOT NULL,
		settings TEXT NOT NULL DEFAULT '',
		iterations INTEGER NOT NULL,
		exhausted BOOLEAN DEFAULT FALSE,
		elapsed_ms INTEGER,
		usage_count INTEGER DEFAULT 1,
		invalidated BOOLEAN DEFAULT FALSE,
		last_used TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	-- passes keeps every per-pass snapshot so records can be located later
	CREATE TABLE IF NOT EXISTS passes (
		session_id TEXT NOT NULL,
		idx INTEGER NOT NULL,
		text TEXT NOT NULL,
		tokens TEXT NOT NULL,
		masked TEXT NOT NULL,
		output TEXT NOT NULL,
		PRIMARY KEY (session_id, idx),
		FOREIGN KEY (session_id) REFERENCES sessions(id)
	);

	CREATE TABLE IF NOT EXISTS records (
		session_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		pass INTEGER NOT NULL,
		position INTEGER NOT NULL,
		character TEXT NOT NULL,
		kind TEXT NOT NULL,
		policy TEXT NOT NULL,
		score REAL,
		PRIMARY KEY (session_id, seq),
		FOREIGN KEY (session_id) REFERENCES sessions(id)
	);

	CREATE TABLE IF NOT EXISTS warnings (
		session_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		pass INTEGER NOT NULL,
		expected INTEGER NOT NULL,
		found INTEGER NOT NULL,
		literal INTEGER NOT NULL DEFAULT 0,
		unresolved TEXT,
		ignored TEXT,
		PRIMARY KEY (session_id, seq),
		FOREIGN KEY (session_id) REFERENCES sessions(id)
	);

	-- allowlist holds terms (product names, jargon) never to be corrected
	CREATE TABLE IF NOT EXISTS allowlist (
		id TEXT PRIMARY KEY,
		term TEXT NOT NULL UNIQUE,
		note TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_sessions_lookup ON sessions(source_text, policy_version, settings);
	CREATE INDEX IF NOT EXISTS idx_records_session ON records(session_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

func (s *Store) Close() error {
	return s.db.Close()
}

// CacheKey identifies the conditions a session was produced under. A
// cached session is reused only when both fields match.
type CacheKey struct {
	// PolicyVersion is the label policy table version.
	PolicyVersion string
	// Settings fingerprints everything else that changes a run's outcome,
	// such as the pass limit and the allowlist.
	Settings string
}

// SaveSession persists a finished run with its passes, records and
// warnings in one transaction.
func (s *Store) SaveSession(ctx context.Context, req internal.CorrectionRequest, key CacheKey, res *orchestrator.OrchestratorResult) (err error) {
	if req.ID == "" {
		return fmt.Errorf("session id is required")
	}
	if req.Timestamp.IsZero() {
		req.Timestamp = time.Now()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO sessions (id, source, source_text, final_text, policy_version, settings, iterations, exhausted, elapsed_ms, usage_count, invalidated, last_used, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 1, FALSE, ?, ?)`,
		req.ID, req.Source, normalizeText(req.Text), res.FinalText, key.PolicyVersion, key.Settings, res.Iterations, res.Exhausted, res.Elapsed.Milliseconds(), req.Timestamp, req.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to insert session: %w", err)
	}

	for _, p := range res.Passes {
		toks, jerr := json.Marshal(p.Tokens)
		if jerr != nil {
			return jerr
		}
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO passes (session_id, idx, text, tokens, masked, output) VALUES (?, ?, ?, ?, ?, ?)`,
			req.ID, p.Index, p.Text, string(toks), p.Masked, p.Output); err != nil {
			return fmt.Errorf("failed to insert pass %d: %w", p.Index, err)
		}
	}

	for i, r := range res.Errors {
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO records (session_id, seq, pass, position, character, kind, policy, score) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			req.ID, i, r.Pass, r.Position, r.Character, r.Kind, string(r.Policy), r.Score); err != nil {
			return fmt.Errorf("failed to insert record %d: %w", i, err)
		}
	}

	for i, w := range res.Warnings {
		unresolved, _ := json.Marshal(w.Unresolved)
		ignored, _ := json.Marshal(w.Ignored)
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO warnings (session_id, seq, pass, expected, found, literal, unresolved, ignored) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			req.ID, i, w.Pass, w.Expected, w.Found, w.Literal, string(unresolved), string(ignored)); err != nil {
			return fmt.Errorf("failed to insert warning %d: %w", i, err)
		}
	}

	return tx.Commit()
}

// GetCachedSession returns the most recent valid session for text checked
// under the same cache key. Text is compared after NFC normalisation.
func (s *Store) GetCachedSession(ctx context.Context, text string, key CacheKey) (string, *orchestrator.OrchestratorResult, bool, error) {
	var id string
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM sessions WHERE source_text = ? AND policy_version = ? AND settings = ? AND NOT invalidated ORDER BY created_at DESC LIMIT 1`,
		normalizeText(text), key.PolicyVersion, key.Settings).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil, false, nil
	}
	if err != nil {
		return "", nil, false, err
	}

	res, err := s.loadResult(ctx, id)
	if err != nil {
		return "", nil, false, err
	}

	_, err = s.db.ExecContext(ctx,
		`UPDATE sessions SET usage_count = usage_count + 1, last_used = ? WHERE id = ?`,
		time.Now(), id)
	return id, res, true, err
}

// SessionEntry is a row from the sessions table.
type SessionEntry struct {
	ID            string    `json:"id"`
	Source        string    `json:"source"`
	SourceText    string    `json:"source_text"`
	FinalText     string    `json:"final_text"`
	PolicyVersion string    `json:"policy_version"`
	Iterations    int       `json:"iterations"`
	Exhausted     bool      `json:"exhausted"`
	Records       int       `json:"records"`
	UsageCount    int       `json:"usage_count"`
	Invalidated   bool      `json:"invalidated"`
	LastUsed      time.Time `json:"last_used"`
	CreatedAt     time.Time `json:"created_at"`
}

const sessionColumns = `s.id, s.source, s.source_text, s.final_text, s.policy_version, s.iterations, s.exhausted,
	(SELECT COUNT(*) FROM records r WHERE r.session_id = s.id), s.usage_count, s.invalidated, s.last_used, s.created_at`

func scanSession(row interface{ Scan(...any) error }) (SessionEntry, error) {
	var e SessionEntry
	err := row.Scan(&e.ID, &e.Source, &e.SourceText, &e.FinalText, &e.PolicyVersion, &e.Iterations, &e.Exhausted,
		&e.Records, &e.UsageCount, &e.Invalidated, &e.LastUsed, &e.CreatedAt)
	return e, err
}

// ListSessions returns sessions ordered by most recently used. limit <= 0
// returns all of them.
func (s *Store) ListSessions(ctx context.Context, limit int) ([]SessionEntry, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions s ORDER BY s.last_used DESC`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := make([]SessionEntry, 0)
	for rows.Next() {
		e, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, e)
	}

	return results, rows.Err()
}

// GetSession returns one session with its full result.
func (s *Store) GetSession(ctx context.Context, id string) (*SessionEntry, *orchestrator.OrchestratorResult, error) {
	e, err := scanSession(s.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions s WHERE s.id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, nil, err
	}

	res, err := s.loadResult(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return &e, res, nil
}

func (s *Store) loadResult(ctx context.Context, id string) (*orchestrator.OrchestratorResult, error) {
	res := &orchestrator.OrchestratorResult{
		Errors: make([]orchestrator.ErrorRecord, 0),
		Passes: make([]orchestrator.Pass, 0),
	}
	var elapsedMs int64
	err := s.db.QueryRowContext(ctx,
		`SELECT final_text, iterations, exhausted, elapsed_ms FROM sessions WHERE id = ?`, id).
		Scan(&res.FinalText, &res.Iterations, &res.Exhausted, &elapsedMs)
	if err != nil {
		return nil, err
	}
	res.Elapsed = time.Duration(elapsedMs) * time.Millisecond

	prows, err := s.db.QueryContext(ctx,
		`SELECT idx, text, tokens, masked, output FROM passes WHERE session_id = ? ORDER BY idx`, id)
	if err != nil {
		return nil, err
	}
	for prows.Next() {
		var p orchestrator.Pass
		var toks string
		if err := prows.Scan(&p.Index, &p.Text, &toks, &p.Masked, &p.Output); err != nil {
			prows.Close()
			return nil, err
		}
		if err := json.Unmarshal([]byte(toks), &p.Tokens); err != nil {
			prows.Close()
			return nil, fmt.Errorf("corrupt tokens for pass %d: %w", p.Index, err)
		}
		res.Passes = append(res.Passes, p)
	}
	prows.Close()
	if err := prows.Err(); err != nil {
		return nil, err
	}

	rrows, err := s.db.QueryContext(ctx,
		`SELECT pass, position, character, kind, policy, score FROM records WHERE session_id = ? ORDER BY seq`, id)
	if err != nil {
		return nil, err
	}
	for rrows.Next() {
		var r orchestrator.ErrorRecord
		var pol string
		if err := rrows.Scan(&r.Pass, &r.Position, &r.Character, &r.Kind, &pol, &r.Score); err != nil {
			rrows.Close()
			return nil, err
		}
		r.Policy = policy.Policy(pol)
		res.Errors = append(res.Errors, r)
	}
	rrows.Close()
	if err := rrows.Err(); err != nil {
		return nil, err
	}

	wrows, err := s.db.QueryContext(ctx,
		`SELECT pass, expected, found, literal, unresolved, ignored FROM warnings WHERE session_id = ? ORDER BY seq`, id)
	if err != nil {
		return nil, err
	}
	defer wrows.Close()
	for wrows.Next() {
		var w orchestrator.DriftWarning
		var unresolved, ignored string
		if err := wrows.Scan(&w.Pass, &w.Expected, &w.Found, &w.Literal, &unresolved, &ignored); err != nil {
			return nil, err
		}
		_ = json.Unmarshal([]byte(unresolved), &w.Unresolved)
		_ = json.Unmarshal([]byte(ignored), &w.Ignored)
		res.Warnings = append(res.Warnings, w)
	}
	return res, wrows.Err()
}

// SessionStats summarises stored sessions.
type SessionStats struct {
	TotalSessions   int `json:"total_sessions"`
	ActiveSessions  int `json:"active_sessions"`
	InvalidSessions int `json:"invalid_sessions"`
	ExhaustedRuns   int `json:"exhausted_runs"`
	TotalRecords    int `json:"total_records"`
	TotalUsage      int `json:"total_usage"`
}

// Stats returns summary statistics for the session history.
func (s *Store) Stats(ctx context.Context) (*SessionStats, error) {
	stats := &SessionStats{}

	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN NOT invalidated THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN invalidated THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN exhausted THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(usage_count), 0)
		FROM sessions`).Scan(
		&stats.TotalSessions,
		&stats.ActiveSessions,
		&stats.InvalidSessions,
		&stats.ExhaustedRuns,
		&stats.TotalUsage,
	)
	if err != nil {
		return nil, err
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM records`).Scan(&stats.TotalRecords); err != nil {
		return nil, err
	}
	return stats, nil
}

// InvalidateSession excludes a session from cache lookups without deleting it.
func (s *Store) InvalidateSession(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE sessions SET invalidated = TRUE WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return requireAffected(res, "session", id)
}

// DeleteSession permanently removes a session and its child rows.
func (s *Store) DeleteSession(ctx context.Context, id string) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	for _, table := range []string{"passes", "records", "warnings"} {
		if _, err = tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE session_id = ?`, id); err != nil {
			return err
		}
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if err = requireAffected(res, "session", id); err != nil {
		return err
	}
	return tx.Commit()
}

// ClearSessions removes every session and returns how many were deleted.
func (s *Store) ClearSessions(ctx context.Context) (int64, error) {
	for _, table := range []string{"passes", "records", "warnings"} {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM `+table); err != nil {
			return 0, err
		}
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// AllowEntry represents a row in the allowlist table.
type AllowEntry struct {
	ID        string    `json:"id"`
	Term      string    `json:"term"`
	Note      string    `json:"note,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// AddAllowTerm inserts a term, or updates the note of an existing one.
func (s *Store) AddAllowTerm(ctx context.Context, term, note string) (string, error) {
	term = normalizeText(term)
	if term == "" {
		return "", fmt.Errorf("term is empty")
	}
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO allowlist (id, term, note, created_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(term) DO UPDATE SET note = excluded.note`,
		id, term, note, time.Now())
	if err != nil {
		return "", err
	}

	err = s.db.QueryRowContext(ctx, `SELECT id FROM allowlist WHERE term = ?`, term).Scan(&id)
	return id, err
}

// ListAllowTerms returns all allowlist entries ordered by term.
func (s *Store) ListAllowTerms(ctx context.Context) ([]AllowEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, term, COALESCE(note, ''), created_at FROM allowlist ORDER BY term`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]AllowEntry, 0)
	for rows.Next() {
		var e AllowEntry
		if err := rows.Scan(&e.ID, &e.Term, &e.Note, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// AllowSet returns the allowlist as a set, ready to build a token filter.
func (s *Store) AllowSet(ctx context.Context) (map[string]struct{}, error) {
	entries, err := s.ListAllowTerms(ctx)
	if err != nil {
		return nil, err
	}
	set := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		set[e.Term] = struct{}{}
	}
	return set, nil
}

// DeleteAllowTerm removes an allowlist entry by ID or by term.
func (s *Store) DeleteAllowTerm(ctx context.Context, idOrTerm string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM allowlist WHERE id = ? OR term = ?`, idOrTerm, normalizeText(idOrTerm))
	if err != nil {
		return err
	}
	return requireAffected(res, "allowlist entry", idOrTerm)
}

func requireAffected(res sql.Result, what, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", what, id, ErrNotFound)
	}
	return nil
}

// normalizeText trims whitespace and applies Unicode NFC normalization
// for consistent cache key comparison.
func normalizeText(text string) string {
	return norm.NFC.String(strings.TrimSpace(text))
}
