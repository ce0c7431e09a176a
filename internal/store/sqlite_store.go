// SQLite persistence via ncruces/go-sqlite3's database/sql driver.
// The sqlite-vec bindings are registered so the vec0 module is available
// for embedding-based fact dedupe.
package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "github.com/asg017/sqlite-vec-go-bindings/ncruces"
	_ "github.com/ncruces/go-sqlite3/driver"
	"go.uber.org/zap"
)

// ErrStoreCorrupt is returned for all writes after the persistence layer
// reported corruption. The handle declines further writes.
var ErrStoreCorrupt = errors.New("store: database corrupt, writes disabled")

// ErrNotFound is returned by Get operations when no row matches.
var ErrNotFound = errors.New("store: not found")

// SchemaVersion is the current schema version. Migrations are linear and
// idempotent: they only add tables or columns.
const SchemaVersion = 2

// Store is the per-agent SQLite-backed memory store.
// Thread-safe; a single handle is shared by the server, the scheduler,
// and consolidation runs.
type Store struct {
	mu      sync.RWMutex
	db      *sql.DB
	agentID string
	log     *zap.SugaredLogger
	dead    bool

	// onFactWrite hooks run synchronously after any fact insert, update,
	// or retraction. Recall caches register here for invalidation.
	onFactWrite []func()
}

const schemaV1 = `
CREATE TABLE IF NOT EXISTS schema_version (
    version INTEGER PRIMARY KEY,
    applied_at TEXT NOT NULL
);

-- Episodes: "what happened"
CREATE TABLE IF NOT EXISTS episodes (
    id TEXT PRIMARY KEY,
    ts TEXT NOT NULL,
    summary TEXT NOT NULL,
    participants TEXT,
    topic TEXT,
    keywords TEXT,
    emotional_salience REAL DEFAULT 0,
    utility_score REAL DEFAULT 0,
    session_id TEXT,
    message_ids TEXT,
    ttl TEXT DEFAULT '30d',
    access_count INTEGER DEFAULT 0,
    last_accessed TEXT,
    created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_episodes_ts ON episodes(ts);
CREATE INDEX IF NOT EXISTS idx_episodes_session ON episodes(session_id);
CREATE INDEX IF NOT EXISTS idx_episodes_topic ON episodes(topic);

-- Facts: the belief set
CREATE TABLE IF NOT EXISTS facts (
    id TEXT PRIMARY KEY,
    subject TEXT NOT NULL,
    predicate TEXT NOT NULL,
    object TEXT NOT NULL,
    confidence REAL NOT NULL,
    evidence TEXT,
    first_seen TEXT NOT NULL,
    last_confirmed TEXT NOT NULL,
    contradictions TEXT,
    user_affirmed INTEGER DEFAULT 0,
    is_active INTEGER DEFAULT 1,
    retracted_reason TEXT,
    access_count INTEGER DEFAULT 0,
    created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_facts_subject ON facts(subject);
CREATE INDEX IF NOT EXISTS idx_facts_predicate ON facts(predicate);
CREATE INDEX IF NOT EXISTS idx_facts_sp ON facts(subject, predicate);
CREATE INDEX IF NOT EXISTS idx_facts_active ON facts(is_active);

-- Keyword index over (subject, predicate, object), maintained by triggers
CREATE VIRTUAL TABLE IF NOT EXISTS facts_fts USING fts5(
    subject, predicate, object,
    content='facts', content_rowid='rowid'
);

CREATE TRIGGER IF NOT EXISTS facts_fts_ai AFTER INSERT ON facts BEGIN
    INSERT INTO facts_fts(rowid, subject, predicate, object)
    VALUES (new.rowid, new.subject, new.predicate, new.object);
END;

CREATE TRIGGER IF NOT EXISTS facts_fts_ad AFTER DELETE ON facts BEGIN
    INSERT INTO facts_fts(facts_fts, rowid, subject, predicate, object)
    VALUES ('delete', old.rowid, old.subject, old.predicate, old.object);
END;

CREATE TRIGGER IF NOT EXISTS facts_fts_au AFTER UPDATE ON facts BEGIN
    INSERT INTO facts_fts(facts_fts, rowid, subject, predicate, object)
    VALUES ('delete', old.rowid, old.subject, old.predicate, old.object);
    INSERT INTO facts_fts(rowid, subject, predicate, object)
    VALUES (new.rowid, new.subject, new.predicate, new.object);
END;

-- Causal links: cause -> effect edges
CREATE TABLE IF NOT EXISTS causal_links (
    id TEXT PRIMARY KEY,
    cause_type TEXT NOT NULL,
    cause_id TEXT NOT NULL,
    cause_desc TEXT NOT NULL,
    effect_type TEXT NOT NULL,
    effect_id TEXT NOT NULL,
    effect_desc TEXT NOT NULL,
    mechanism TEXT,
    confidence REAL NOT NULL,
    evidence TEXT,
    temporal_delay TEXT,
    causal_strength TEXT NOT NULL,
    created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_causal_effect ON causal_links(effect_id);
CREATE INDEX IF NOT EXISTS idx_causal_cause ON causal_links(cause_id);

-- Procedures: trigger -> action patterns
CREATE TABLE IF NOT EXISTS procedures (
    id TEXT PRIMARY KEY,
    trigger_text TEXT NOT NULL,
    action_text TEXT NOT NULL,
    expected_outcome TEXT,
    examples TEXT,
    times_used INTEGER DEFAULT 0,
    times_succeeded INTEGER DEFAULT 0,
    tags TEXT,
    created_at TEXT NOT NULL
);

-- Memory changes: append-only differential log
CREATE TABLE IF NOT EXISTS memory_changes (
    id TEXT PRIMARY KEY,
    change_type TEXT NOT NULL,
    target_type TEXT NOT NULL,
    target_id TEXT NOT NULL,
    previous_value TEXT,
    new_value TEXT,
    reason TEXT,
    trigger_episode_id TEXT,
    run_id TEXT,
    ts TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_changes_target ON memory_changes(target_id, ts);
CREATE INDEX IF NOT EXISTS idx_changes_ts ON memory_changes(ts);

-- Consolidation runs
CREATE TABLE IF NOT EXISTS consolidation_runs (
    id TEXT PRIMARY KEY,
    processed_from TEXT NOT NULL,
    processed_to TEXT NOT NULL,
    sessions_processed INTEGER DEFAULT 0,
    episodes_created INTEGER DEFAULT 0,
    facts_extracted INTEGER DEFAULT 0,
    causal_links_found INTEGER DEFAULT 0,
    procedures_learned INTEGER DEFAULT 0,
    contradictions_resolved INTEGER DEFAULT 0,
    memories_pruned INTEGER DEFAULT 0,
    duration_ms INTEGER DEFAULT 0,
    status TEXT NOT NULL,
    error TEXT,
    started_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON consolidation_runs(status, processed_to);

-- Per-user secondary entities
CREATE TABLE IF NOT EXISTS preferences (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    category TEXT NOT NULL,
    item TEXT NOT NULL,
    sentiment TEXT NOT NULL,
    strength REAL DEFAULT 0.5,
    source_fact_id TEXT,
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL,
    UNIQUE(user_id, category, item)
);

CREATE TABLE IF NOT EXISTS relationships (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    person TEXT NOT NULL,
    relation TEXT NOT NULL,
    sentiment TEXT DEFAULT 'neutral',
    notes TEXT,
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL,
    UNIQUE(user_id, person)
);

CREATE TABLE IF NOT EXISTS core_memories (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    content TEXT NOT NULL,
    category TEXT,
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS foresights (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    description TEXT NOT NULL,
    confidence REAL DEFAULT 0.5,
    start_time TEXT NOT NULL,
    end_time TEXT,
    duration_days INTEGER DEFAULT 0,
    is_active INTEGER DEFAULT 1,
    source_episode_id TEXT,
    created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_foresights_active ON foresights(user_id, is_active);

CREATE TABLE IF NOT EXISTS user_profiles (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL UNIQUE,
    stable_traits TEXT,
    transient_traits TEXT,
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL
);
`

// migrations maps target version -> statements applied to reach it from
// the previous version. Additive only.
var migrations = map[int][]string{
	2: {
		`ALTER TABLE facts ADD COLUMN embedding BLOB`,
	},
}

// StorePath returns the on-disk location of an agent's store file.
func StorePath(home, agentID string) string {
	return filepath.Join(home, ".clawdbot", "sheep", agentID+".sqlite")
}

// Open opens (creating if needed) the store for an agent under home.
func Open(home, agentID string, log *zap.SugaredLogger) (*Store, error) {
	path := StorePath(home, agentID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("store: create dir: %w", err)
	}
	return OpenDSN("file:"+path, agentID, log)
}

// OpenDSN opens a store with an explicit data source name.
// Use ":memory:" for tests.
func OpenDSN(dsn, agentID string, log *zap.SugaredLogger) (*Store, error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open database: %w", err)
	}
	// The handle is guarded by Store.mu; a single connection keeps the
	// in-memory DSN coherent as well.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, agentID: agentID, log: log}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// migrate applies the base schema and any pending linear migrations.
func (s *Store) migrate() error {
	if _, err := s.db.Exec(schemaV1); err != nil {
		return fmt.Errorf("store: create schema: %w", err)
	}

	var current int
	err := s.db.QueryRow(`SELECT COALESCE(MAX(version), 1) FROM schema_version`).Scan(&current)
	if err != nil {
		return fmt.Errorf("store: read schema version: %w", err)
	}

	for v := current + 1; v <= SchemaVersion; v++ {
		for _, stmt := range migrations[v] {
			if _, err := s.db.Exec(stmt); err != nil {
				// Re-running an additive migration against an already
				// migrated table is not an error.
				if strings.Contains(err.Error(), "duplicate column") {
					continue
				}
				return fmt.Errorf("store: migration v%d: %w", v, err)
			}
		}
		if _, err := s.db.Exec(
			`INSERT OR IGNORE INTO schema_version (version, applied_at) VALUES (?, ?)`,
			v, FormatTime(nowUTC()),
		); err != nil {
			return fmt.Errorf("store: record migration v%d: %w", v, err)
		}
	}
	if _, err := s.db.Exec(
		`INSERT OR IGNORE INTO schema_version (version, applied_at) VALUES (1, ?)`,
		FormatTime(nowUTC()),
	); err != nil {
		return fmt.Errorf("store: record schema version: %w", err)
	}
	return nil
}

// AgentID returns the agent owning this store.
func (s *Store) AgentID() string { return s.agentID }

// Close closes the underlying database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// SubscribeFactWrites registers fn to run synchronously after every fact
// insert, update, or retraction. Used for cache invalidation.
func (s *Store) SubscribeFactWrites(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onFactWrite = append(s.onFactWrite, fn)
}

// notifyFactWrite must be called with s.mu held for writing.
func (s *Store) notifyFactWrite() {
	for _, fn := range s.onFactWrite {
		fn()
	}
}

// writable returns ErrStoreCorrupt once corruption has been observed.
// Must be called with s.mu held.
func (s *Store) writable() error {
	if s.dead {
		return ErrStoreCorrupt
	}
	return nil
}

// checkFatal inspects a storage error; corruption marks the handle dead.
// Must be called with s.mu held for writing.
func (s *Store) checkFatal(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	if strings.Contains(msg, "malformed") || strings.Contains(msg, "corrupt") {
		s.dead = true
		s.log.Errorw("store corruption detected, declining further writes", "err", err)
		return fmt.Errorf("%w: %v", ErrStoreCorrupt, err)
	}
	return err
}

// isUniqueViolation reports whether err is a unique-constraint failure.
// These are recoverable: the dedupe layer above treats them as no-ops.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// GetStats reports row counts across the main tables.
func (s *Store) GetStats() (*Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := &Stats{}
	rows := []struct {
		query string
		dst   *int
	}{
		{`SELECT COUNT(*) FROM episodes`, &st.Episodes},
		{`SELECT COUNT(*) FROM facts WHERE is_active = 1`, &st.ActiveFacts},
		{`SELECT COUNT(*) FROM facts`, &st.TotalFacts},
		{`SELECT COUNT(*) FROM causal_links`, &st.CausalLinks},
		{`SELECT COUNT(*) FROM procedures`, &st.Procedures},
		{`SELECT COUNT(*) FROM foresights WHERE is_active = 1`, &st.Foresights},
		{`SELECT COUNT(*) FROM memory_changes`, &st.Changes},
	}
	for _, r := range rows {
		if err := s.db.QueryRow(r.query).Scan(r.dst); err != nil {
			return nil, fmt.Errorf("store: stats: %w", err)
		}
	}
	return st, nil
}

// =============================================================================
// Helpers
// =============================================================================

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// marshalList serializes an ordered string list as JSON for a TEXT column.
func marshalList(items []string) string {
	if len(items) == 0 {
		return "[]"
	}
	b, err := json.Marshal(items)
	if err != nil {
		return "[]"
	}
	return string(b)
}

func unmarshalList(raw string) []string {
	if raw == "" {
		return []string{}
	}
	var out []string
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return []string{}
	}
	return out
}
