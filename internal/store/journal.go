// Package store keeps a local SQLite journal of finished capture sessions.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/sorosurance/soro/internal/session"
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id TEXT PRIMARY KEY,
	state TEXT NOT NULL,
	device TEXT NOT NULL DEFAULT '',
	startedAt REAL,
	finishedAt REAL NOT NULL,
	durationSeconds INTEGER NOT NULL DEFAULT 0,
	audioBytes INTEGER NOT NULL DEFAULT 0,
	transcript TEXT NOT NULL DEFAULT '',
	keywords TEXT NOT NULL DEFAULT '[]',
	sentiment TEXT NOT NULL DEFAULT '',
	sentimentScore REAL NOT NULL DEFAULT 0,
	errorKind TEXT NOT NULL DEFAULT '',
	errorMessage TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS sessions_finished ON sessions(finishedAt DESC);
`

// Entry is one journaled session outcome.
type Entry struct {
	ID              string
	State           string
	Device          string
	StartedAt       *time.Time
	FinishedAt      time.Time
	DurationSeconds int
	AudioBytes      int
	Transcript      string
	Keywords        []string
	Sentiment       string
	SentimentScore  float64
	ErrorKind       string
	ErrorMessage    string
}

// EntryFromSnapshot captures a terminal (or disposed) session.
func EntryFromSnapshot(snap session.Snapshot, finishedAt time.Time) Entry {
	e := Entry{
		ID:              snap.ID,
		State:           string(snap.State),
		Device:          snap.Device,
		FinishedAt:      finishedAt,
		DurationSeconds: snap.ElapsedSeconds,
		AudioBytes:      snap.Artifact.Len(),
	}
	if !snap.StartedAt.IsZero() {
		started := snap.StartedAt
		e.StartedAt = &started
	}
	if snap.Disposed && !snap.State.Terminal() {
		e.State = "cancelled"
	}
	if snap.Result != nil {
		e.Transcript = snap.Result.Transcript
		e.Keywords = snap.Result.Keywords
		e.Sentiment = string(snap.Result.Sentiment)
		e.SentimentScore = snap.Result.SentimentScore
	}
	if snap.Err != nil {
		e.ErrorKind = string(snap.Err.Kind)
		if snap.Err.Err != nil {
			e.ErrorMessage = snap.Err.Err.Error()
		}
	}
	return e
}

// Journal is a read-write handle on the session journal.
type Journal struct {
	db *sql.DB
}

// DefaultPath returns $XDG_STATE_HOME/soro/journal.sqlite.
func DefaultPath() string {
	if stateHome := strings.TrimSpace(os.Getenv("XDG_STATE_HOME")); stateHome != "" {
		return filepath.Join(stateHome, "soro", "journal.sqlite")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "state", "soro", "journal.sqlite")
}

// Open creates the journal file and schema when missing.
func Open(path string) (*Journal, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("create journal dir: %w", err)
		}
	}
	dsn := path
	if path != ":memory:" {
		dsn = fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(2000)", path)
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping journal: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create journal schema: %w", err)
	}
	return &Journal{db: db}, nil
}

func (j *Journal) Close() error {
	return j.db.Close()
}

// Record upserts e by session id.
func (j *Journal) Record(ctx context.Context, e Entry) error {
	keywords := e.Keywords
	if keywords == nil {
		keywords = []string{}
	}
	rawKeywords, err := json.Marshal(keywords)
	if err != nil {
		return fmt.Errorf("encode keywords: %w", err)
	}

	var started sql.NullFloat64
	if e.StartedAt != nil {
		started = sql.NullFloat64{Float64: unixFromTime(*e.StartedAt), Valid: true}
	}

	_, err = j.db.ExecContext(ctx, `
		INSERT INTO sessions (id, state, device, startedAt, finishedAt, durationSeconds,
			audioBytes, transcript, keywords, sentiment, sentimentScore, errorKind, errorMessage)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			state = excluded.state,
			device = excluded.device,
			startedAt = excluded.startedAt,
			finishedAt = excluded.finishedAt,
			durationSeconds = excluded.durationSeconds,
			audioBytes = excluded.audioBytes,
			transcript = excluded.transcript,
			keywords = excluded.keywords,
			sentiment = excluded.sentiment,
			sentimentScore = excluded.sentimentScore,
			errorKind = excluded.errorKind,
			errorMessage = excluded.errorMessage
	`, e.ID, e.State, e.Device, started, unixFromTime(e.FinishedAt), e.DurationSeconds,
		e.AudioBytes, e.Transcript, string(rawKeywords), e.Sentiment, e.SentimentScore,
		e.ErrorKind, e.ErrorMessage)
	if err != nil {
		return fmt.Errorf("record session %s: %w", e.ID, err)
	}
	return nil
}

// Recent returns up to limit entries, newest first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := j.db.QueryContext(ctx, `
		SELECT id, state, device, startedAt, finishedAt, durationSeconds, audioBytes,
			transcript, keywords, sentiment, sentimentScore, errorKind, errorMessage
		FROM sessions
		ORDER BY finishedAt DESC, id ASC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e           Entry
			started     sql.NullFloat64
			finished    float64
			rawKeywords string
		)
		if err := rows.Scan(&e.ID, &e.State, &e.Device, &started, &finished,
			&e.DurationSeconds, &e.AudioBytes, &e.Transcript, &rawKeywords,
			&e.Sentiment, &e.SentimentScore, &e.ErrorKind, &e.ErrorMessage); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		e.FinishedAt = timeFromUnix(finished)
		if started.Valid {
			t := timeFromUnix(started.Float64)
			e.StartedAt = &t
		}
		if err := json.Unmarshal([]byte(rawKeywords), &e.Keywords); err != nil {
			return nil, fmt.Errorf("decode keywords for %s: %w", e.ID, err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func unixFromTime(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

func timeFromUnix(f float64) time.Time {
	sec := int64(f)
	nsec := int64((f - float64(sec)) * 1e9)
	return time.Unix(sec, nsec)
}
