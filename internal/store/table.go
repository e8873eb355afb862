package store

import (
	"database/sql"
	"fmt"
)

const schemaVersion = 2

var schemaV1 = []string{
	`
CREATE TABLE IF NOT EXISTS candidates (
  id TEXT PRIMARY KEY,
  ident TEXT NOT NULL UNIQUE,
  name TEXT NOT NULL,
  domain TEXT NOT NULL DEFAULT '',
  industry TEXT NOT NULL DEFAULT '',
  employees INTEGER NOT NULL DEFAULT 0,
  ads_active INTEGER NOT NULL DEFAULT 0,
  site_online INTEGER NOT NULL DEFAULT 0,
  contact TEXT NOT NULL DEFAULT '{}',
  created_at INTEGER NOT NULL,
  updated_at INTEGER NOT NULL
);`,
	`
CREATE TABLE IF NOT EXISTS company_domains (
  company TEXT PRIMARY KEY,
  domain TEXT NOT NULL,
  fetched_at INTEGER NOT NULL
);`,
	`
CREATE TABLE IF NOT EXISTS source_snapshots (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  candidate_id TEXT NOT NULL REFERENCES candidates(id),
  source TEXT NOT NULL,
  collected_at INTEGER NOT NULL,
  ok INTEGER NOT NULL,
  timed_out INTEGER NOT NULL DEFAULT 0,
  error TEXT NOT NULL DEFAULT '',
  signals TEXT NOT NULL DEFAULT '{}'
);`,
	`
CREATE TABLE IF NOT EXISTS gate_results (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  run_id TEXT NOT NULL,
  candidate_id TEXT NOT NULL REFERENCES candidates(id),
  gate TEXT NOT NULL,
  passed INTEGER NOT NULL,
  score REAL NOT NULL,
  metric REAL NOT NULL,
  threshold REAL NOT NULL,
  evidence TEXT NOT NULL DEFAULT '[]',
  findings TEXT NOT NULL DEFAULT '[]',
  error TEXT NOT NULL DEFAULT '',
  evaluated_at INTEGER NOT NULL,
  UNIQUE(run_id, gate)
);`,
	`
CREATE TABLE IF NOT EXISTS scores (
  run_id TEXT PRIMARY KEY,
  candidate_id TEXT NOT NULL REFERENCES candidates(id),
  total REAL NOT NULL,
  tier TEXT NOT NULL,
  opportunity REAL NOT NULL,
  gates_passed INTEGER NOT NULL,
  total_gates INTEGER NOT NULL,
  quorum_met INTEGER NOT NULL,
  computed_at INTEGER NOT NULL,
  superseded_at INTEGER NOT NULL DEFAULT 0
);`,
	`
CREATE TABLE IF NOT EXISTS sequences (
  id TEXT PRIMARY KEY,
  candidate_id TEXT NOT NULL REFERENCES candidates(id),
  funnel TEXT NOT NULL,
  current_step INTEGER NOT NULL DEFAULT 0,
  status TEXT NOT NULL,
  started_at INTEGER NOT NULL,
  last_step_sent_at INTEGER NOT NULL DEFAULT 0,
  end_reason TEXT NOT NULL DEFAULT '',
  version INTEGER NOT NULL DEFAULT 1,
  updated_at INTEGER NOT NULL
);`,
	`
CREATE TABLE IF NOT EXISTS outreach_events (
  id TEXT PRIMARY KEY,
  sequence_id TEXT NOT NULL REFERENCES sequences(id),
  step INTEGER NOT NULL,
  channel TEXT NOT NULL DEFAULT '',
  status TEXT NOT NULL,
  at INTEGER NOT NULL,
  receipt TEXT NOT NULL DEFAULT '',
  error TEXT NOT NULL DEFAULT ''
);`,
	`
CREATE TABLE IF NOT EXISTS tick_runs (
  id TEXT PRIMARY KEY,
  started_at INTEGER NOT NULL,
  finished_at INTEGER NOT NULL,
  report TEXT NOT NULL,
  error TEXT NOT NULL DEFAULT ''
);`,

	`CREATE INDEX IF NOT EXISTS idx_candidates_domain ON candidates(domain);`,
	`CREATE INDEX IF NOT EXISTS idx_snapshots_candidate ON source_snapshots(candidate_id, source, collected_at);`,
	`CREATE INDEX IF NOT EXISTS idx_gate_results_candidate ON gate_results(candidate_id, evaluated_at);`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_scores_current ON scores(candidate_id) WHERE superseded_at = 0;`,
	// One live sequence per (candidate, funnel). PAUSED still counts so a
	// resume can never collide with a newer sequence.
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_sequences_live ON sequences(candidate_id, funnel) WHERE status IN ('ACTIVE', 'PAUSED');`,
	`CREATE INDEX IF NOT EXISTS idx_sequences_status ON sequences(status, last_step_sent_at);`,
	// Idempotency key for sends.
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_outreach_sent ON outreach_events(sequence_id, step) WHERE status = 'SENT';`,
	`CREATE INDEX IF NOT EXISTS idx_outreach_sequence ON outreach_events(sequence_id, at);`,
	`CREATE INDEX IF NOT EXISTS idx_tick_runs_started ON tick_runs(started_at);`,
}

// schemaV2 persists when each live sequence is next due so a tick can
// select due work without loading the waiting ones.
var schemaV2 = []string{
	`ALTER TABLE sequences ADD COLUMN next_due_at INTEGER NOT NULL DEFAULT 0;`,
	`DROP INDEX IF EXISTS idx_sequences_status;`,
	`CREATE INDEX IF NOT EXISTS idx_sequences_due ON sequences(status, next_due_at);`,
}

func Migrate(db *sql.DB) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var v int
	if err := tx.QueryRow(`PRAGMA user_version;`).Scan(&v); err != nil {
		return err
	}
	if v >= schemaVersion {
		return tx.Commit()
	}

	if v < 1 {
		for i, stmt := range schemaV1 {
			if _, err := tx.Exec(stmt); err != nil {
				return fmt.Errorf("schema v1 statement %d: %w", i, err)
			}
		}
	}
	// Rows carried over from v1 start at 0 and are fixed by their next advance.
	for i, stmt := range schemaV2 {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("schema v2 statement %d: %w", i, err)
		}
	}

	if _, err := tx.Exec(fmt.Sprintf(`PRAGMA user_version = %d;`, schemaVersion)); err != nil {
		return err
	}
	return tx.Commit()
}
