// Package journal keeps a local SQLite record of interview sessions, their
// rounds and final evaluations.
package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/lexiqai/voice-interviewer/internal/interview"

	// Pure Go SQLite driver (no CGO).
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a session id is not in the journal
var ErrNotFound = errors.New("session not found")

// Session is one journaled interview
type Session struct {
	ID             string
	Domain         string
	ResumeName     string
	CandidateName  string
	CandidateEmail string
	StartedAt      time.Time
	EndedAt        *time.Time
	Evaluation     *interview.Evaluation
	Rounds         int
}

// Journal is a SQLite-backed interview history. It satisfies
// interview.RoundRecorder.
type Journal struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (creating if needed) the journal database at path.
func Open(path string) (*Journal, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create journal dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	// one writer; also keeps a :memory: database on a single connection
	db.SetMaxOpenConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply pragmas: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	log.Debug().Str("path", path).Msg("Journal opened")
	return &Journal{db: db, now: time.Now}, nil
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return fmt.Errorf("%s: %w", p, err)
		}
	}
	return nil
}

// Close closes the database
func (j *Journal) Close() error {
	return j.db.Close()
}

// Ping checks the database is reachable
func (j *Journal) Ping(ctx context.Context) error {
	return j.db.PingContext(ctx)
}

// RecordSession stores a newly started session. StartedAt defaults to now.
func (j *Journal) RecordSession(ctx context.Context, s Session) error {
	if s.StartedAt.IsZero() {
		s.StartedAt = j.now()
	}
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO session (id, domain, resume_name, candidate_name, candidate_email, started_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, s.ID, s.Domain, s.ResumeName, s.CandidateName, s.CandidateEmail, s.StartedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("record session %s: %w", s.ID, err)
	}
	return nil
}

// RecordRound stores a finished round. Recording the same round number
// twice keeps the latest result.
func (j *Journal) RecordRound(ctx context.Context, r interview.Round) error {
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO round (session_id, number, question_id, question_text, question_type,
		                   audio_bytes, timed_out, force_end, transcript, feedback, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (session_id, number) DO UPDATE SET
		    audio_bytes = excluded.audio_bytes,
		    timed_out = excluded.timed_out,
		    force_end = excluded.force_end,
		    transcript = excluded.transcript,
		    feedback = excluded.feedback,
		    recorded_at = excluded.recorded_at
	`, r.SessionID, r.Number, r.Question.ID, r.Question.Text, r.Question.Type,
		r.AudioBytes, r.Timeout, r.ForceEnd, r.Transcript, r.Feedback, j.now().UnixMilli())
	if err != nil {
		return fmt.Errorf("record round %d of %s: %w", r.Number, r.SessionID, err)
	}
	return nil
}

// RecordEvaluation closes a session with its final evaluation
func (j *Journal) RecordEvaluation(ctx context.Context, sessionID string, eval interview.Evaluation) error {
	res, err := j.db.ExecContext(ctx, `
		UPDATE session
		SET ended_at = ?, overall_performance = ?, weak_points = ?, improvements = ?
		WHERE id = ?
	`, j.now().UnixMilli(), eval.OverallPerformance, eval.WeakPoints, eval.Improvements, sessionID)
	if err != nil {
		return fmt.Errorf("record evaluation for %s: %w", sessionID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("record evaluation for %s: %w", sessionID, ErrNotFound)
	}
	return nil
}

const sessionColumns = `
	s.id, s.domain, s.resume_name, s.candidate_name, s.candidate_email,
	s.started_at, s.ended_at, s.overall_performance, s.weak_points, s.improvements,
	(SELECT COUNT(*) FROM round r WHERE r.session_id = s.id)
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (Session, error) {
	var (
		s                          Session
		started                    int64
		ended                      sql.NullInt64
		overall, weak, improvement sql.NullString
	)
	err := row.Scan(&s.ID, &s.Domain, &s.ResumeName, &s.CandidateName, &s.CandidateEmail,
		&started, &ended, &overall, &weak, &improvement, &s.Rounds)
	if err != nil {
		return Session{}, err
	}

	s.StartedAt = time.UnixMilli(started)
	if ended.Valid {
		t := time.UnixMilli(ended.Int64)
		s.EndedAt = &t
	}
	if overall.Valid {
		s.Evaluation = &interview.Evaluation{
			OverallPerformance: overall.String,
			WeakPoints:         weak.String,
			Improvements:       improvement.String,
		}
	}
	return s, nil
}

// ListSessions returns the most recent sessions first. limit <= 0 means 20.
func (j *Journal) ListSessions(ctx context.Context, limit int) ([]Session, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := j.db.QueryContext(ctx, `SELECT `+sessionColumns+`
		FROM session s
		ORDER BY s.started_at DESC, s.id
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	sessions := []Session{}
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// Session returns one session by id
func (j *Journal) Session(ctx context.Context, id string) (*Session, error) {
	row := j.db.QueryRowContext(ctx, `SELECT `+sessionColumns+`
		FROM session s
		WHERE s.id = ?
	`, id)
	s, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session %s: %w", id, err)
	}
	return &s, nil
}

// Rounds returns a session's rounds in order
func (j *Journal) Rounds(ctx context.Context, sessionID string) ([]interview.Round, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT session_id, number, question_id, question_text, question_type,
		       audio_bytes, timed_out, force_end, transcript, feedback
		FROM round
		WHERE session_id = ?
		ORDER BY number
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list rounds of %s: %w", sessionID, err)
	}
	defer rows.Close()

	rounds := []interview.Round{}
	for rows.Next() {
		var r interview.Round
		if err := rows.Scan(&r.SessionID, &r.Number, &r.Question.ID, &r.Question.Text, &r.Question.Type,
			&r.AudioBytes, &r.Timeout, &r.ForceEnd, &r.Transcript, &r.Feedback); err != nil {
			return nil, fmt.Errorf("scan round: %w", err)
		}
		rounds = append(rounds, r)
	}
	return rounds, rows.Err()
}
