package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"tileexport/exporter"
)

const (
	jobAccepted  = "accepted"
	jobAbandoned = "abandoned"
	jobDone      = "done"
	jobFailed    = "failed"
)

const ledgerSchema = `
CREATE TABLE IF NOT EXISTS jobs (
	run_id     TEXT    NOT NULL,
	job_id     TEXT    NOT NULL,
	extent     TEXT    NOT NULL,
	depth      INTEGER NOT NULL,
	status     TEXT    NOT NULL,
	path       TEXT    NOT NULL DEFAULT '',
	error      TEXT    NOT NULL DEFAULT '',
	updated_at TEXT    NOT NULL,
	PRIMARY KEY (run_id, job_id)
)`

var LedgerInst *Ledger

// InitLedger opens the job ledger when ledger.path is configured.
func InitLedger() {
	if conf.Ledger.Path == "" {
		return
	}
	l, err := OpenLedger(conf.Ledger.Path)
	if err != nil {
		log.Fatalf("open job ledger %s error, details: %s", conf.Ledger.Path, err)
	}
	LedgerInst = l
	SafeExitInst.Register(LedgerInst.Close)
}

// Ledger records every accepted export job in a sqlite database so jobs
// orphaned by a crash can be found later. Writes go through one goroutine.
type Ledger struct {
	path     string
	db       *sql.DB
	saveChan chan ledgerWrite
	done     chan struct{}
	mu       sync.Mutex
	isClose  bool
}

type ledgerWrite struct {
	rec    exporter.JobRecord
	status string
}

// LedgerEntry is a job read back from the ledger.
type LedgerEntry struct {
	RunID     string
	JobID     string
	Extent    exporter.Extent
	Depth     int
	Status    string
	Path      string
	Error     string
	UpdatedAt time.Time
}

func OpenLedger(path string) (*Ledger, error) {
	if err := os.MkdirAll(filepath.Dir(path), os.ModePerm); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(ledgerSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create ledger schema: %w", err)
	}

	l := &Ledger{
		path:     path,
		db:       db,
		saveChan: make(chan ledgerWrite, 64),
		done:     make(chan struct{}),
	}
	go l.Start()
	return l, nil
}

func (l *Ledger) JobAccepted(rec exporter.JobRecord) {
	l.send(ledgerWrite{rec: rec, status: jobAccepted})
}

func (l *Ledger) JobFinished(rec exporter.JobRecord) {
	l.send(ledgerWrite{rec: rec, status: finishedStatus(rec.Err)})
}

// finishedStatus maps the outcome of a job to its ledger status. A job we
// stopped waiting for is still running on the server, so it stays an orphan.
func finishedStatus(err error) string {
	switch {
	case err == nil:
		return jobDone
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded), errors.Is(err, exporter.ErrJobTimeout):
		return jobAbandoned
	default:
		return jobFailed
	}
}

func (l *Ledger) send(w ledgerWrite) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.isClose {
		return
	}
	l.saveChan <- w
}

// Start writes queued records until the ledger is closed.
func (l *Ledger) Start() {
	defer close(l.done)
	for w := range l.saveChan {
		if err := l.write(w); err != nil && log != nil {
			log.Warnf("ledger write for job %s failed: %s", w.rec.JobID, err)
		}
	}
}

func (l *Ledger) write(w ledgerWrite) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	if w.status == jobAccepted {
		ext, err := json.Marshal(w.rec.Extent)
		if err != nil {
			return err
		}
		_, err = l.db.Exec(
			`INSERT OR REPLACE INTO jobs (run_id, job_id, extent, depth, status, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
			w.rec.RunID, w.rec.JobID, string(ext), w.rec.Depth, w.status, now,
		)
		return err
	}

	errText := ""
	if w.rec.Err != nil {
		errText = w.rec.Err.Error()
	}
	_, err := l.db.Exec(
		`UPDATE jobs SET status = ?, path = ?, error = ?, updated_at = ? WHERE run_id = ? AND job_id = ?`,
		w.status, w.rec.Path, errText, now, w.rec.RunID, w.rec.JobID,
	)
	return err
}

// Orphans lists jobs the service accepted that were never seen to finish,
// including those abandoned by cancellation or a poll timeout.
func (l *Ledger) Orphans() ([]LedgerEntry, error) {
	return l.query(`SELECT run_id, job_id, extent, depth, status, path, error, updated_at FROM jobs WHERE status IN (?, ?) ORDER BY updated_at`, jobAccepted, jobAbandoned)
}

// Jobs lists every job of one run.
func (l *Ledger) Jobs(runID string) ([]LedgerEntry, error) {
	return l.query(`SELECT run_id, job_id, extent, depth, status, path, error, updated_at FROM jobs WHERE run_id = ? ORDER BY job_id`, runID)
}

func (l *Ledger) query(q string, args ...any) ([]LedgerEntry, error) {
	rows, err := l.db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []LedgerEntry
	for rows.Next() {
		var (
			e       LedgerEntry
			ext     string
			updated string
		)
		if err := rows.Scan(&e.RunID, &e.JobID, &ext, &e.Depth, &e.Status, &e.Path, &e.Error, &updated); err != nil {
			return nil, err
		}
		if e.Extent, err = exporter.ParseExtent([]byte(ext)); err != nil {
			return nil, fmt.Errorf("job %s: %w", e.JobID, err)
		}
		if e.UpdatedAt, err = time.Parse(time.RFC3339Nano, updated); err != nil {
			return nil, fmt.Errorf("job %s: %w", e.JobID, err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Close flushes queued records and closes the database.
func (l *Ledger) Close() {
	l.mu.Lock()
	if l.isClose {
		l.mu.Unlock()
		return
	}
	l.isClose = true
	close(l.saveChan)
	l.mu.Unlock()

	<-l.done
	l.db.Close()
}
