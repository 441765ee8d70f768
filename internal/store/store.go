package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	_ "modernc.org/sqlite"

	"github.com/micdrop/pitchcoach/internal/analysis"
)

// ErrNotFound is returned by Get and Delete for unknown ids.
var ErrNotFound = errors.New("session not found")

const schema = `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		createdAt REAL NOT NULL,
		personaName TEXT NOT NULL DEFAULT '',
		personaType TEXT NOT NULL DEFAULT '',
		duration REAL NOT NULL,
		transcription TEXT NOT NULL DEFAULT '',
		overallScore INTEGER NOT NULL,
		metrics TEXT NOT NULL,
		processingTime REAL NOT NULL,
		audioFile TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_created ON sessions(createdAt);
`

// Session is one stored analysis.
type Session struct {
	ID             string                `json:"id"`
	CreatedAt      time.Time             `json:"created_at"`
	PersonaName    string                `json:"persona_name,omitempty"`
	PersonaType    string                `json:"persona_type,omitempty"`
	Duration       time.Duration         `json:"duration"`
	Transcription  string                `json:"transcription"`
	OverallScore   int                   `json:"overall_score"`
	Metrics        analysis.PitchMetrics `json:"metrics"`
	ProcessingTime time.Duration         `json:"processing_time"`
	AudioFile      string                `json:"audio_file,omitempty"`
}

// Stats summarizes all stored sessions.
type Stats struct {
	TotalSessions int       `json:"total_sessions"`
	AverageScore  int       `json:"average_score"`
	BestScore     int       `json:"best_score"`
	FirstSession  time.Time `json:"first_session,omitempty"`
	LastSession   time.Time `json:"last_session,omitempty"`
}

// Usage reports free-attempt consumption. Limit 0 means unlimited.
type Usage struct {
	TotalAttempts int  `json:"total_attempts"`
	Limit         int  `json:"limit"`
	Remaining     int  `json:"remaining"`
	CanAttempt    bool `json:"can_attempt"`
}

// Store persists analysis sessions in SQLite.
type Store struct {
	db *sql.DB
}

// Open opens (and creates if needed) the database at path. ":memory:" is
// accepted for tests.
func Open(path string) (*Store, error) {
	dsn := path
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
		dsn = fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// Single writer; also keeps ":memory:" on one connection.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record inserts a session. Empty ID and zero CreatedAt are filled in.
func (s *Store) Record(ctx context.Context, sess Session) (Session, error) {
	if sess.ID == "" {
		sess.ID = uuid.NewString()
	}
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = time.Now()
	}
	sess.OverallScore = sess.Metrics.OverallScore

	metrics, err := json.Marshal(sess.Metrics)
	if err != nil {
		return Session{}, fmt.Errorf("encode metrics: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, createdAt, personaName, personaType, duration,
			transcription, overallScore, metrics, processingTime, audioFile)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, sess.ID, unixFromTime(sess.CreatedAt), sess.PersonaName, sess.PersonaType,
		sess.Duration.Seconds(), sess.Transcription, sess.OverallScore, string(metrics),
		sess.ProcessingTime.Seconds(), sess.AudioFile)
	if err != nil {
		return Session{}, fmt.Errorf("insert session: %w", err)
	}
	return sess, nil
}

// RecordAnalysis stores a completed orchestrator attempt.
func (s *Store) RecordAnalysis(ctx context.Context, c analysis.Completed) error {
	_, err := s.Record(ctx, Session{
		ID:             c.AttemptID,
		CreatedAt:      c.CompletedAt,
		PersonaName:    c.Persona.Name,
		PersonaType:    c.Persona.Type,
		Duration:       time.Duration(c.Request.Seconds() * float64(time.Second)),
		Transcription:  c.Transcription,
		Metrics:        c.Metrics,
		ProcessingTime: c.ProcessingTime,
		AudioFile:      c.Request.Sample.Source,
	})
	return err
}

// List returns the most recent sessions first. limit <= 0 returns all.
func (s *Store) List(ctx context.Context, limit int) ([]Session, error) {
	query := `
		SELECT id, createdAt, personaName, personaType, duration, transcription,
			overallScore, metrics, processingTime, audioFile
		FROM sessions
		ORDER BY createdAt DESC, rowid DESC
	`
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// Get returns one session by id.
func (s *Store) Get(ctx context.Context, id string) (*Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, createdAt, personaName, personaType, duration, transcription,
			overallScore, metrics, processingTime, audioFile
		FROM sessions
		WHERE id = ?
	`, id)

	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

// Delete removes one session.
func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Stats aggregates over all sessions.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	sessions, err := s.List(ctx, 0)
	if err != nil {
		return Stats{}, err
	}
	if len(sessions) == 0 {
		return Stats{}, nil
	}

	scores := lo.Map(sessions, func(sess Session, _ int) int { return sess.OverallScore })
	total := lo.Sum(scores)

	return Stats{
		TotalSessions: len(sessions),
		AverageScore:  int(float64(total)/float64(len(sessions)) + 0.5),
		BestScore:     lo.Max(scores),
		FirstSession:  sessions[len(sessions)-1].CreatedAt,
		LastSession:   sessions[0].CreatedAt,
	}, nil
}

// CountSince counts sessions created at or after t.
func (s *Store) CountSince(ctx context.Context, t time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sessions WHERE createdAt >= ?`, unixFromTime(t)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count sessions: %w", err)
	}
	return n, nil
}

// Usage counts every stored session against limit.
func (s *Store) Usage(ctx context.Context, limit int) (Usage, error) {
	total, err := s.CountSince(ctx, time.Time{})
	if err != nil {
		return Usage{}, err
	}
	u := Usage{TotalAttempts: total, Limit: limit, CanAttempt: true}
	if limit > 0 {
		u.Remaining = max(0, limit-total)
		u.CanAttempt = u.Remaining > 0
	}
	return u, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (Session, error) {
	var sess Session
	var createdAt, duration, processing float64
	var metrics string

	if err := row.Scan(&sess.ID, &createdAt, &sess.PersonaName, &sess.PersonaType, &duration,
		&sess.Transcription, &sess.OverallScore, &metrics, &processing, &sess.AudioFile); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Session{}, err
		}
		return Session{}, fmt.Errorf("scan session: %w", err)
	}

	if err := json.Unmarshal([]byte(metrics), &sess.Metrics); err != nil {
		return Session{}, fmt.Errorf("decode metrics for %s: %w", sess.ID, err)
	}
	sess.CreatedAt = timeFromUnix(createdAt)
	sess.Duration = secondsToDuration(duration)
	sess.ProcessingTime = secondsToDuration(processing)
	return sess, nil
}

func unixFromTime(t time.Time) float64 {
	if t.IsZero() {
		return 0
	}
	return float64(t.UnixNano()) / 1e9
}

func timeFromUnix(f float64) time.Time {
	sec := int64(f)
	nsec := int64((f - float64(sec)) * 1e9)
	return time.Unix(sec, nsec)
}

func secondsToDuration(f float64) time.Duration {
	return time.Duration(f * float64(time.Second)).Round(time.Millisecond)
}
