// Package persistence stores simulation checkpoints and keeps a SQLite index
// of runs, checkpoints and daily statistics.
package persistence

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/talgya/dewberry/internal/engine"
)

// ErrNotIndexed is returned when the index has no matching row.
var ErrNotIndexed = errors.New("not found in index")

// Metadata keys written by the run command.
const (
	MetaBaseSeed = "base_seed" // Seed of run 1 in the latest batch
	MetaLastRun  = "last_run"  // "<name> #<run>" of the latest finished run
)

// Index wraps a SQLite connection recording what each run produced.
type Index struct {
	conn *sqlx.DB
}

// RunRecord is one simulation run.
type RunRecord struct {
	UID           string  `db:"uid" json:"uid"`
	Name          string  `db:"name" json:"name"`
	Run           int     `db:"run" json:"run"`
	Seed          string  `db:"seed" json:"seed"` // Decimal uint64; SQLite integers are signed
	Population    int     `db:"population" json:"population"`
	ContactRate   int     `db:"contact_rate" json:"contact_rate"`
	InfectionRate float64 `db:"infection_rate" json:"infection_rate"`
	TargetDays    int     `db:"target_days" json:"target_days"`
	StartedAt     string  `db:"started_at" json:"started_at"`
	Outcome       string  `db:"outcome" json:"outcome"`
	FinishedAt    string  `db:"finished_at" json:"finished_at"`
}

// CheckpointRecord is one saved checkpoint file.
type CheckpointRecord struct {
	RunUID    string    `db:"run_uid" json:"run_uid"`
	Day       int       `db:"day" json:"day"`
	Label     string    `db:"label" json:"label"`
	Path      string    `db:"path" json:"path"`
	Size      int64     `db:"size" json:"size"`
	CreatedAt time.Time `db:"-" json:"created_at"`
}

// StatsRow is one day's aggregate statistics.
type StatsRow struct {
	Day         int    `db:"day" json:"day"`
	Date        string `db:"date" json:"date"`
	NewCases    int    `db:"new_cases" json:"new_cases"`
	Infected    int    `db:"infected" json:"infected"`
	Susceptible int    `db:"susceptible" json:"susceptible"`
	Recovered   int    `db:"recovered" json:"recovered"`
	OnGrid      int    `db:"on_grid" json:"on_grid"`
	Contacts    int    `db:"contacts" json:"contacts"`
	Day4        int    `db:"day4" json:"day4"`
	Warnings    int    `db:"warnings" json:"warnings"`
}

// OpenIndex opens or creates a SQLite index at the given path.
func OpenIndex(path string) (*Index, error) {
	conn, err := sqlx.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	idx := &Index{conn: conn}
	if err := idx.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return idx, nil
}

// Close closes the database connection.
func (idx *Index) Close() error {
	return idx.conn.Close()
}

func (idx *Index) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		uid TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		run INTEGER NOT NULL,
		seed TEXT NOT NULL,
		population INTEGER NOT NULL,
		contact_rate INTEGER NOT NULL,
		infection_rate REAL NOT NULL,
		target_days INTEGER NOT NULL,
		started_at TEXT NOT NULL,
		outcome TEXT NOT NULL DEFAULT '',
		finished_at TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS checkpoints (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_uid TEXT NOT NULL,
		day INTEGER NOT NULL,
		label TEXT NOT NULL,
		path TEXT NOT NULL,
		size INTEGER NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS daily_stats (
		run_uid TEXT NOT NULL,
		day INTEGER NOT NULL,
		date TEXT NOT NULL,
		new_cases INTEGER NOT NULL,
		infected INTEGER NOT NULL,
		susceptible INTEGER NOT NULL,
		recovered INTEGER NOT NULL,
		on_grid INTEGER NOT NULL,
		contacts INTEGER NOT NULL,
		day4 INTEGER NOT NULL,
		warnings INTEGER NOT NULL,
		PRIMARY KEY (run_uid, day)
	);

	CREATE TABLE IF NOT EXISTS index_meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_runs_name ON runs(name, run);
	CREATE INDEX IF NOT EXISTS idx_checkpoints_run ON checkpoints(run_uid, day);
	`
	_, err := idx.conn.Exec(schema)
	return err
}

// StartRun inserts a run and returns its new UID.
func (idx *Index) StartRun(r RunRecord) (string, error) {
	r.UID = uuid.NewString()
	if r.StartedAt == "" {
		r.StartedAt = time.Now().UTC().Format(time.RFC3339)
	}
	_, err := idx.conn.NamedExec(`INSERT INTO runs
		(uid, name, run, seed, population, contact_rate, infection_rate, target_days, started_at)
		VALUES (:uid, :name, :run, :seed, :population, :contact_rate, :infection_rate, :target_days, :started_at)`,
		r)
	if err != nil {
		return "", fmt.Errorf("insert run: %w", err)
	}
	return r.UID, nil
}

// FinishRun records how a run ended.
func (idx *Index) FinishRun(uid, outcome string) error {
	_, err := idx.conn.Exec(
		"UPDATE runs SET outcome = ?, finished_at = ? WHERE uid = ?",
		outcome, time.Now().UTC().Format(time.RFC3339), uid,
	)
	return err
}

// Runs returns every indexed run, newest first.
func (idx *Index) Runs() ([]RunRecord, error) {
	var runs []RunRecord
	err := idx.conn.Select(&runs, "SELECT * FROM runs ORDER BY started_at DESC, run DESC")
	return runs, err
}

// RecordCheckpoint indexes a saved checkpoint file.
func (idx *Index) RecordCheckpoint(rec CheckpointRecord) error {
	_, err := idx.conn.Exec(
		"INSERT INTO checkpoints (run_uid, day, label, path, size, created_at) VALUES (?, ?, ?, ?, ?, ?)",
		rec.RunUID, rec.Day, rec.Label, rec.Path, rec.Size, rec.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	return err
}

// CheckpointAt finds the most recent checkpoint saved after day in the named
// run number.
func (idx *Index) CheckpointAt(name string, run, day int) (CheckpointRecord, error) {
	var rec CheckpointRecord
	err := idx.conn.Get(&rec, `SELECT c.run_uid, c.day, c.label, c.path, c.size
		FROM checkpoints c JOIN runs r ON r.uid = c.run_uid
		WHERE r.name = ? AND r.run = ? AND c.day = ?
		ORDER BY c.id DESC LIMIT 1`,
		name, run, day,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return rec, ErrNotIndexed
	}
	return rec, err
}

// RecordDay stores one day's report for a run. Re-recording a day after a
// resume replaces the earlier row.
func (idx *Index) RecordDay(uid string, rep engine.DayReport) error {
	_, err := idx.conn.Exec(`INSERT OR REPLACE INTO daily_stats
		(run_uid, day, date, new_cases, infected, susceptible, recovered, on_grid, contacts, day4, warnings)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		uid, rep.Day, rep.Date.Format(dateLayout), rep.NewCases, rep.InfectedCount,
		rep.After.Susceptible, rep.After.Recovered, rep.After.Grid,
		rep.TotalContacts, rep.Day4Count, len(rep.Warnings),
	)
	return err
}

// LoadStatsHistory returns up to limit days of a run within [from, to], in
// day order.
func (idx *Index) LoadStatsHistory(uid string, from, to, limit int) ([]StatsRow, error) {
	var rows []StatsRow
	err := idx.conn.Select(&rows, `SELECT day, date, new_cases, infected, susceptible, recovered,
		on_grid, contacts, day4, warnings
		FROM daily_stats WHERE run_uid = ? AND day >= ? AND day <= ?
		ORDER BY day ASC LIMIT ?`,
		uid, from, to, limit,
	)
	return rows, err
}

// SaveMeta stores a key-value pair in index metadata.
func (idx *Index) SaveMeta(key, value string) error {
	_, err := idx.conn.Exec(
		"INSERT OR REPLACE INTO index_meta (key, value) VALUES (?, ?)",
		key, value,
	)
	return err
}

// GetMeta retrieves a metadata value, or ErrNotIndexed.
func (idx *Index) GetMeta(key string) (string, error) {
	var value string
	err := idx.conn.Get(&value, "SELECT value FROM index_meta WHERE key = ?", key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotIndexed
	}
	return value, err
}
