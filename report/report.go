// Package report records what a deobfuscation run did: a SQLite database
// for later inspection and a Prometheus textfile for node exporters.
package report

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chazu/deobby/analysis"
	"github.com/chazu/deobby/pkg/bytecode"
	"github.com/chazu/deobby/transform"
	"github.com/tliron/commonlog"

	_ "modernc.org/sqlite"
)

var log = commonlog.GetLogger("deobby.report")

// Run summarises one pipeline run.
type Run struct {
	Input    string
	Output   string
	Started  time.Time
	Duration time.Duration
	Passes   []string
	Classes  int

	Graph       *analysis.CallGraph // nil when no pass built one
	Removed     []bytecode.MethodRef
	Obstructors []bytecode.FieldRef
	Fields      []bytecode.FieldRef // obstructor fields actually removed
	Stats       []transform.Stat
}

// ErrNoRun is returned by Load for an unknown run id.
var ErrNoRun = errors.New("report: no such run")

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	input       TEXT NOT NULL,
	output      TEXT NOT NULL,
	started     TEXT NOT NULL,
	duration_ms INTEGER NOT NULL,
	passes      TEXT NOT NULL,
	classes     INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS methods (
	run_id INTEGER NOT NULL REFERENCES runs(id),
	owner  TEXT NOT NULL,
	name   TEXT NOT NULL,
	desc   TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS calls (
	run_id       INTEGER NOT NULL REFERENCES runs(id),
	caller_owner TEXT NOT NULL,
	caller_name  TEXT NOT NULL,
	caller_desc  TEXT NOT NULL,
	callee_owner TEXT NOT NULL,
	callee_name  TEXT NOT NULL,
	callee_desc  TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS removed_methods (
	run_id INTEGER NOT NULL REFERENCES runs(id),
	owner  TEXT NOT NULL,
	name   TEXT NOT NULL,
	desc   TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS obstructors (
	run_id  INTEGER NOT NULL REFERENCES runs(id),
	owner   TEXT NOT NULL,
	name    TEXT NOT NULL,
	desc    TEXT NOT NULL,
	removed INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS pass_stats (
	run_id INTEGER NOT NULL REFERENCES runs(id),
	pass   TEXT NOT NULL,
	action TEXT NOT NULL,
	count  INTEGER NOT NULL
);
`

// tables lists every table a run writes to.
var tables = []string{"runs", "methods", "calls", "removed_methods", "obstructors", "pass_stats"}

// Database is a run report store.
type Database struct {
	db   *sql.DB
	path string
}

// Open opens or creates the report database at path.
func Open(path string) (*Database, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Set busy timeout for concurrent access
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating tables: %w", err)
	}
	return &Database{db: db, path: path}, nil
}

// Close closes the database connection.
func (d *Database) Close() error {
	if d.db != nil {
		return d.db.Close()
	}
	return nil
}

// Record stores run in a single transaction and returns its id.
func (d *Database) Record(ctx context.Context, run *Run) (int64, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		"INSERT INTO runs (input, output, started, duration_ms, passes, classes) VALUES (?, ?, ?, ?, ?, ?)",
		run.Input, run.Output, run.Started.UTC().Format(time.RFC3339Nano),
		run.Duration.Milliseconds(), strings.Join(run.Passes, ","), run.Classes)
	if err != nil {
		return 0, fmt.Errorf("saving run: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}

	if run.Graph != nil {
		if err := insertMethods(ctx, tx, "methods", id, run.Graph.Methods()); err != nil {
			return 0, err
		}
		if err := insertCalls(ctx, tx, id, run.Graph); err != nil {
			return 0, err
		}
	}
	if err := insertMethods(ctx, tx, "removed_methods", id, run.Removed); err != nil {
		return 0, err
	}
	if err := insertObstructors(ctx, tx, id, run.Obstructors, run.Fields); err != nil {
		return 0, err
	}

	stmt, err := tx.PrepareContext(ctx, "INSERT INTO pass_stats (run_id, pass, action, count) VALUES (?, ?, ?, ?)")
	if err != nil {
		return 0, err
	}
	defer stmt.Close()
	for _, st := range run.Stats {
		if _, err := stmt.ExecContext(ctx, id, st.Pass, st.Action, int64(st.Count)); err != nil {
			return 0, fmt.Errorf("saving pass stats: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing run: %w", err)
	}
	log.Infof("recorded run %d in %s", id, d.path)
	return id, nil
}

func insertMethods(ctx context.Context, tx *sql.Tx, table string, id int64, refs []bytecode.MethodRef) error {
	stmt, err := tx.PrepareContext(ctx, "INSERT INTO "+table+" (run_id, owner, name, desc) VALUES (?, ?, ?, ?)")
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, ref := range refs {
		if _, err := stmt.ExecContext(ctx, id, ref.Owner, ref.Name, ref.Desc); err != nil {
			return fmt.Errorf("saving %s: %w", table, err)
		}
	}
	return nil
}

func insertCalls(ctx context.Context, tx *sql.Tx, id int64, g *analysis.CallGraph) error {
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO calls
		(run_id, caller_owner, caller_name, caller_desc, callee_owner, callee_name, callee_desc)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, caller := range g.Methods() {
		for _, callee := range g.Callees(caller) {
			_, err := stmt.ExecContext(ctx, id,
				caller.Owner, caller.Name, caller.Desc,
				callee.Owner, callee.Name, callee.Desc)
			if err != nil {
				return fmt.Errorf("saving calls: %w", err)
			}
		}
	}
	return nil
}

func insertObstructors(ctx context.Context, tx *sql.Tx, id int64, fields, removed []bytecode.FieldRef) error {
	gone := make(map[bytecode.FieldRef]bool, len(removed))
	for _, f := range removed {
		gone[f] = true
	}
	stmt, err := tx.PrepareContext(ctx, "INSERT INTO obstructors (run_id, owner, name, desc, removed) VALUES (?, ?, ?, ?, ?)")
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, f := range fields {
		if _, err := stmt.ExecContext(ctx, id, f.Owner, f.Name, f.Desc, gone[f]); err != nil {
			return fmt.Errorf("saving obstructors: %w", err)
		}
	}
	return nil
}

// Summary is a stored run with its row counts.
type Summary struct {
	ID       int64
	Input    string
	Output   string
	Started  time.Time
	Duration time.Duration
	Passes   []string
	Classes  int
	Rows     map[string]int // per table, runs excluded
}

// Load returns the stored summary of run id.
func (d *Database) Load(ctx context.Context, id int64) (*Summary, error) {
	s := &Summary{ID: id, Rows: make(map[string]int)}
	var started, passes string
	var ms int64
	err := d.db.QueryRowContext(ctx,
		"SELECT input, output, started, duration_ms, passes, classes FROM runs WHERE id = ?", id).
		Scan(&s.Input, &s.Output, &started, &ms, &passes, &s.Classes)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoRun
	}
	if err != nil {
		return nil, fmt.Errorf("querying run: %w", err)
	}
	if s.Started, err = time.Parse(time.RFC3339Nano, started); err != nil {
		return nil, fmt.Errorf("run %d: bad start time %q: %w", id, started, err)
	}
	s.Duration = time.Duration(ms) * time.Millisecond
	if passes != "" {
		s.Passes = strings.Split(passes, ",")
	}

	for _, table := range tables[1:] {
		var n int
		if err := d.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table+" WHERE run_id = ?", id).Scan(&n); err != nil {
			return nil, fmt.Errorf("counting %s: %w", table, err)
		}
		s.Rows[table] = n
	}
	return s, nil
}

// Removed returns the methods run id removed, ordered by owner, name and
// descriptor.
func (d *Database) Removed(ctx context.Context, id int64) ([]bytecode.MethodRef, error) {
	rows, err := d.db.QueryContext(ctx,
		"SELECT owner, name, desc FROM removed_methods WHERE run_id = ? ORDER BY owner, name, desc", id)
	if err != nil {
		return nil, fmt.Errorf("querying removed methods: %w", err)
	}
	defer rows.Close()

	var out []bytecode.MethodRef
	for rows.Next() {
		var ref bytecode.MethodRef
		if err := rows.Scan(&ref.Owner, &ref.Name, &ref.Desc); err != nil {
			return nil, err
		}
		out = append(out, ref)
	}
	return out, rows.Err()
}
