// Package ledger records rounds, evaluations, backups, and advisor calls in
// a SQLite database so history survives across runs.
package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/signalnine/ratchet/internal/result"
)

type Ledger struct {
	db *sql.DB
}

type Round struct {
	ID          string
	Track       string
	StartedAt   time.Time
	FinishedAt  time.Time
	State       string
	WinnerIndex int
	WinnerLabel string
	BaselineAvg float64
	WinnerAvg   float64
	Candidates  int
	Reason      string
	DiffStat    string
}

type Evaluation struct {
	RoundID     string
	Track       string
	Label       string
	Index       int
	Status      string
	ExitCode    int
	AvgReturn   float64
	SuccessRate float64
	Metrics     result.Metrics
	Duration    time.Duration
	Detail      string
}

type AdvisorCall struct {
	RoundID          string
	Model            string
	Purpose          string
	PromptTokens     int
	CompletionTokens int
	CostUSD          float64
	At               time.Time
}

func Open(path string) (*Ledger, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating ledger dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	return &Ledger{db: db}, nil
}

func (l *Ledger) Init(ctx context.Context) error {
	ddl := []string{
		`PRAGMA journal_mode=WAL;`,
		`PRAGMA foreign_keys=ON;`,
		`CREATE TABLE IF NOT EXISTS rounds (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			round_id TEXT NOT NULL UNIQUE,
			track TEXT NOT NULL,
			started_at TEXT NOT NULL,
			finished_at TEXT,
			state TEXT NOT NULL,
			winner_index INTEGER NOT NULL DEFAULT -1,
			winner_label TEXT,
			baseline_avg REAL,
			winner_avg REAL,
			candidates INTEGER NOT NULL DEFAULT 0,
			reason TEXT,
			diff_stat TEXT
		);`,
		`CREATE INDEX IF NOT EXISTS idx_rounds_track ON rounds(track, started_at);`,
		`CREATE TABLE IF NOT EXISTS evaluations (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			round_id TEXT NOT NULL,
			track TEXT NOT NULL,
			label TEXT NOT NULL,
			idx INTEGER NOT NULL,
			status TEXT NOT NULL,
			exit_code INTEGER NOT NULL,
			avg_return REAL NOT NULL,
			success_rate REAL NOT NULL,
			metrics_json TEXT NOT NULL,
			duration_ms INTEGER NOT NULL,
			detail TEXT,
			created_at TEXT NOT NULL,
			FOREIGN KEY(round_id) REFERENCES rounds(round_id)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_evaluations_round ON evaluations(round_id);`,
		`CREATE TABLE IF NOT EXISTS backups (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			round_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			path TEXT NOT NULL,
			created_at TEXT NOT NULL,
			FOREIGN KEY(round_id) REFERENCES rounds(round_id)
		);`,
		`CREATE TABLE IF NOT EXISTS advisor_calls (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			round_id TEXT,
			model TEXT NOT NULL,
			purpose TEXT NOT NULL,
			prompt_tokens INTEGER NOT NULL,
			completion_tokens INTEGER NOT NULL,
			cost_usd REAL NOT NULL,
			created_at TEXT NOT NULL
		);`,
	}

	for _, stmt := range ddl {
		if _, err := l.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (l *Ledger) Close() error {
	if l == nil || l.db == nil {
		return nil
	}
	return l.db.Close()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s sql.NullString) time.Time {
	if !s.Valid {
		return time.Time{}
	}
	t, _ := time.Parse(time.RFC3339Nano, s.String)
	return t
}

func (l *Ledger) StartRound(ctx context.Context, id, track string, startedAt time.Time) error {
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO rounds (round_id, track, started_at, state)
		VALUES (?, ?, ?, ?)`,
		id,
		track,
		formatTime(startedAt),
		"running",
	)
	return err
}

func (l *Ledger) FinishRound(ctx context.Context, r Round) error {
	res, err := l.db.ExecContext(ctx, `
		UPDATE rounds
		SET finished_at = ?, state = ?, winner_index = ?, winner_label = ?,
			baseline_avg = ?, winner_avg = ?, candidates = ?, reason = ?, diff_stat = ?
		WHERE round_id = ?`,
		formatTime(r.FinishedAt),
		r.State,
		r.WinnerIndex,
		r.WinnerLabel,
		r.BaselineAvg,
		r.WinnerAvg,
		r.Candidates,
		r.Reason,
		r.DiffStat,
		r.ID,
	)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("round %s not started", r.ID)
	}
	return nil
}

func (l *Ledger) AddEvaluation(ctx context.Context, roundID, track string, r result.Result) error {
	metricsJSON, err := json.Marshal(r.Metrics)
	if err != nil {
		return fmt.Errorf("encoding metrics: %w", err)
	}
	_, err = l.db.ExecContext(ctx, `
		INSERT INTO evaluations (round_id, track, label, idx, status, exit_code, avg_return, success_rate, metrics_json, duration_ms, detail, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		roundID,
		track,
		r.Label,
		r.Index,
		string(r.Status),
		r.ExitCode,
		r.Metrics.AvgReturn(),
		r.Metrics.SuccessRate(),
		string(metricsJSON),
		r.Duration.Milliseconds(),
		r.Detail,
		formatTime(time.Now()),
	)
	return err
}

func (l *Ledger) AddBackup(ctx context.Context, roundID, kind, path string, createdAt time.Time) error {
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO backups (round_id, kind, path, created_at)
		VALUES (?, ?, ?, ?)`,
		roundID,
		kind,
		path,
		formatTime(createdAt),
	)
	return err
}

func (l *Ledger) AddAdvisorCall(ctx context.Context, c AdvisorCall) error {
	var roundID any
	if c.RoundID != "" {
		roundID = c.RoundID
	}
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO advisor_calls (round_id, model, purpose, prompt_tokens, completion_tokens, cost_usd, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		roundID,
		c.Model,
		c.Purpose,
		c.PromptTokens,
		c.CompletionTokens,
		c.CostUSD,
		formatTime(c.At),
	)
	return err
}

// Rounds returns finished and running rounds newest first. An empty track
// matches both; limit <= 0 means no limit.
func (l *Ledger) Rounds(ctx context.Context, track string, limit int) ([]Round, error) {
	query := `
		SELECT round_id, track, started_at, finished_at, state, winner_index,
			COALESCE(winner_label, ''), COALESCE(baseline_avg, 0), COALESCE(winner_avg, 0),
			candidates, COALESCE(reason, ''), COALESCE(diff_stat, '')
		FROM rounds
		WHERE (? = '' OR track = ?)
		ORDER BY id DESC`
	args := []any{track, track}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rounds []Round
	for rows.Next() {
		var (
			r                 Round
			started, finished sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.Track, &started, &finished, &r.State, &r.WinnerIndex,
			&r.WinnerLabel, &r.BaselineAvg, &r.WinnerAvg, &r.Candidates, &r.Reason, &r.DiffStat); err != nil {
			return nil, err
		}
		r.StartedAt = parseTime(started)
		r.FinishedAt = parseTime(finished)
		rounds = append(rounds, r)
	}
	return rounds, rows.Err()
}

// Evaluations returns a round's evaluations in the order they were judged.
func (l *Ledger) Evaluations(ctx context.Context, roundID string) ([]Evaluation, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT round_id, track, label, idx, status, exit_code, avg_return, success_rate,
			metrics_json, duration_ms, COALESCE(detail, '')
		FROM evaluations
		WHERE round_id = ?
		ORDER BY id`, roundID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var evals []Evaluation
	for rows.Next() {
		var (
			e           Evaluation
			metricsJSON string
			durationMS  int64
		)
		if err := rows.Scan(&e.RoundID, &e.Track, &e.Label, &e.Index, &e.Status, &e.ExitCode,
			&e.AvgReturn, &e.SuccessRate, &metricsJSON, &durationMS, &e.Detail); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(metricsJSON), &e.Metrics); err != nil {
			return nil, fmt.Errorf("decoding metrics of %s: %w", e.Label, err)
		}
		e.Duration = time.Duration(durationMS) * time.Millisecond
		evals = append(evals, e)
	}
	return evals, rows.Err()
}

// AdvisorCalls returns the advisor calls attributed to a round, oldest first.
func (l *Ledger) AdvisorCalls(ctx context.Context, roundID string) ([]AdvisorCall, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT round_id, model, purpose, prompt_tokens, completion_tokens, cost_usd, created_at
		FROM advisor_calls
		WHERE round_id = ?
		ORDER BY id`, roundID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var calls []AdvisorCall
	for rows.Next() {
		var (
			c  AdvisorCall
			at sql.NullString
		)
		if err := rows.Scan(&c.RoundID, &c.Model, &c.Purpose, &c.PromptTokens, &c.CompletionTokens,
			&c.CostUSD, &at); err != nil {
			return nil, err
		}
		c.At = parseTime(at)
		calls = append(calls, c)
	}
	return calls, rows.Err()
}

// AdvisorSpend sums recorded advisor cost and tokens.
func (l *Ledger) AdvisorSpend(ctx context.Context) (costUSD float64, tokens int, err error) {
	err = l.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(cost_usd), 0), COALESCE(SUM(prompt_tokens + completion_tokens), 0)
		FROM advisor_calls`).Scan(&costUSD, &tokens)
	return costUSD, tokens, err
}
