package history

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/murmurlabs/murmurd/internal/config"
	_ "modernc.org/sqlite"
)

// Record is one completed dictation run.
type Record struct {
	ID          int64
	SessionID   string
	StartedAt   time.Time
	FinishedAt  time.Time
	AudioPath   string
	DurationMS  int64
	RawText     string
	FinalText   string
	Enhanced    bool
	TranscribMS int64
	EnhanceMS   int64
}

// Store keeps dictation transcripts in a local SQLite file. With history
// disabled all methods are no-ops, so callers never branch on the setting.
type Store struct {
	db    *sql.DB
	cfg   config.HistoryConfig
	log   *slog.Logger
	clock func() time.Time
}

// Open initializes the transcript store according to config.
func Open(ctx context.Context, cfg config.HistoryConfig, log *slog.Logger) (*Store, error) {
	if !cfg.Enabled {
		return &Store{cfg: cfg, log: log, clock: time.Now}, nil
	}

	dir := filepath.Dir(cfg.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db, cfg: cfg, log: log, clock: time.Now}

	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	if err := s.Prune(ctx); err != nil {
		log.Warn("history prune on start failed", slog.String("error", err.Error()))
	}

	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	ddl := `
CREATE TABLE IF NOT EXISTS transcripts (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id TEXT NOT NULL,
    started_at TIMESTAMP NOT NULL,
    finished_at TIMESTAMP NOT NULL,
    audio_path TEXT,
    duration_ms INTEGER NOT NULL,
    raw_text TEXT NOT NULL,
    final_text TEXT NOT NULL,
    enhanced INTEGER NOT NULL DEFAULT 0,
    transcribe_ms INTEGER NOT NULL DEFAULT 0,
    enhance_ms INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_transcripts_finished ON transcripts(finished_at);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

// Close releases underlying resources.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Append writes one completed run and prunes past the configured cap.
func (s *Store) Append(ctx context.Context, rec Record) error {
	if s.db == nil {
		return nil
	}
	if rec.FinishedAt.IsZero() {
		rec.FinishedAt = s.clock().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO transcripts(session_id, started_at, finished_at, audio_path, duration_ms,
		                         raw_text, final_text, enhanced, transcribe_ms, enhance_ms)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.SessionID, rec.StartedAt.UTC(), rec.FinishedAt.UTC(), rec.AudioPath, rec.DurationMS,
		rec.RawText, rec.FinalText, rec.Enhanced, rec.TranscribMS, rec.EnhanceMS)
	if err != nil {
		return err
	}
	return s.Prune(ctx)
}

// List retrieves up to limit records, newest first.
func (s *Store) List(ctx context.Context, limit int) ([]Record, error) {
	if s.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, started_at, finished_at, audio_path, duration_ms,
		        raw_text, final_text, enhanced, transcribe_ms, enhance_ms
		 FROM transcripts ORDER BY finished_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var r Record
		var started, finished string
		if err := rows.Scan(&r.ID, &r.SessionID, &started, &finished, &r.AudioPath, &r.DurationMS,
			&r.RawText, &r.FinalText, &r.Enhanced, &r.TranscribMS, &r.EnhanceMS); err != nil {
			return nil, err
		}
		if ts, err := time.Parse(time.RFC3339Nano, started); err == nil {
			r.StartedAt = ts
		}
		if ts, err := time.Parse(time.RFC3339Nano, finished); err == nil {
			r.FinishedAt = ts
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// Prune drops the oldest records past the configured maximum.
func (s *Store) Prune(ctx context.Context) error {
	if s.db == nil || s.cfg.MaxEntries <= 0 {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM transcripts WHERE id IN (
		SELECT id FROM transcripts ORDER BY finished_at DESC, id DESC LIMIT -1 OFFSET ?
	)`, s.cfg.MaxEntries)
	return err
}
