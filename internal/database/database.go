// Package database provides the embedded durable store backing the message
// substrate, the agent registry, and the learning system. SQLite is the
// default backend; Postgres is available for shared deployments.
package database

import (
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/crewmesh/crewmesh/pkg/config"
)

// Database wraps the SQL connection and knows which placeholder dialect the
// active driver speaks.
type Database struct {
	db       *sql.DB
	postgres bool
}

// New opens the configured backend and initializes the schema.
func New(cfg config.DatabaseConfig) (*Database, error) {
	var (
		db  *sql.DB
		err error
		pg  bool
	)

	switch cfg.Type {
	case "sqlite", "":
		// Pragmas go in the DSN so every pooled connection gets them;
		// WAL plus a busy timeout keeps concurrent sends off SQLITE_BUSY.
		dsn := "file:" + cfg.Path +
			"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
		db, err = sql.Open("sqlite", dsn)
	case "postgres":
		db, err = sql.Open("postgres", cfg.DSN)
		pg = true
	default:
		return nil, fmt.Errorf("unsupported database type %q", cfg.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	d := &Database{db: db, postgres: pg}
	if err := d.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return d, nil
}

// Close closes the underlying connection.
func (d *Database) Close() error {
	return d.db.Close()
}

// rebind converts ? placeholders to $N for PostgreSQL.
func (d *Database) rebind(query string) string {
	if !d.postgres {
		return query
	}
	n := 1
	var out strings.Builder
	for _, ch := range query {
		if ch == '?' {
			fmt.Fprintf(&out, "$%d", n)
			n++
		} else {
			out.WriteRune(ch)
		}
	}
	return out.String()
}

func (d *Database) exec(query string, args ...interface{}) (sql.Result, error) {
	return d.db.Exec(d.rebind(query), args...)
}

func (d *Database) query(query string, args ...interface{}) (*sql.Rows, error) {
	return d.db.Query(d.rebind(query), args...)
}

// initSchema creates the tables if they don't exist.
func (d *Database) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS agents (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		skills TEXT NOT NULL,
		max_concurrent INTEGER NOT NULL,
		registered_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS agent_metrics (
		agent_id TEXT PRIMARY KEY,
		tasks_completed INTEGER NOT NULL DEFAULT 0,
		tasks_failed INTEGER NOT NULL DEFAULT 0,
		success_rate REAL NOT NULL DEFAULT 0,
		avg_completion_ns INTEGER NOT NULL DEFAULT 0,
		current_load INTEGER NOT NULL DEFAULT 0,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		sender TEXT NOT NULL,
		recipient TEXT NOT NULL,
		msg_type TEXT NOT NULL,
		content TEXT,
		status TEXT NOT NULL DEFAULT 'pending',
		created_at TIMESTAMP NOT NULL,
		processed_at TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_messages_recipient_status
		ON messages(recipient, status);

	CREATE TABLE IF NOT EXISTS task_patterns (
		id TEXT PRIMARY KEY,
		pattern_type TEXT NOT NULL,
		condition TEXT NOT NULL,
		sample_size INTEGER NOT NULL,
		confidence REAL NOT NULL,
		success_rate REAL NOT NULL,
		avg_completion_ns INTEGER NOT NULL,
		examples TEXT,
		first_observed TIMESTAMP NOT NULL,
		last_observed TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS failure_patterns (
		id TEXT PRIMARY KEY,
		category TEXT NOT NULL,
		agent_id TEXT NOT NULL,
		frequency INTEGER NOT NULL,
		impact_score REAL NOT NULL,
		skills TEXT,
		mitigations TEXT,
		examples TEXT,
		last_observed TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS improvements (
		id TEXT PRIMARY KEY,
		category TEXT NOT NULL,
		title TEXT NOT NULL,
		rationale TEXT NOT NULL,
		benefits TEXT,
		effort TEXT,
		priority TEXT NOT NULL,
		timeline TEXT,
		confidence REAL NOT NULL,
		components TEXT,
		generated TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS decision_log (
		id TEXT PRIMARY KEY,
		recorded_at TIMESTAMP NOT NULL,
		kind TEXT NOT NULL,
		task_id TEXT,
		agent_id TEXT,
		detail TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_decision_log_recorded
		ON decision_log(recorded_at);
	`

	for _, stmt := range strings.Split(schema, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := d.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}
	return nil
}
