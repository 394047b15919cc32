package history

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/murmurlabs/murmurd/internal/config"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestDisabledStoreIsNoOp(t *testing.T) {
	s, err := Open(context.Background(), config.HistoryConfig{Enabled: false}, newLogger())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	if err := s.Append(context.Background(), Record{SessionID: "s1", RawText: "x", FinalText: "x"}); err != nil {
		t.Fatalf("append on disabled store: %v", err)
	}
	records, err := s.List(context.Background(), 10)
	if err != nil {
		t.Fatalf("list on disabled store: %v", err)
	}
	if records != nil {
		t.Fatalf("expected no records, got %d", len(records))
	}
}

func TestAppendAndList(t *testing.T) {
	cfg := config.HistoryConfig{
		Enabled:    true,
		Path:       filepath.Join(t.TempDir(), "history.db"),
		MaxEntries: 100,
	}
	s, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	base := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		err := s.Append(context.Background(), Record{
			SessionID:  "run-" + string(rune('a'+i)),
			StartedAt:  base.Add(time.Duration(i) * time.Minute),
			FinishedAt: base.Add(time.Duration(i)*time.Minute + 5*time.Second),
			RawText:    "raw",
			FinalText:  "final",
			Enhanced:   i == 2,
			DurationMS: 5000,
		})
		if err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	records, err := s.List(context.Background(), 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(records))
	}
	// Newest first.
	if records[0].SessionID != "run-c" {
		t.Fatalf("expected newest record first, got %s", records[0].SessionID)
	}
	if !records[0].Enhanced {
		t.Fatalf("expected enhanced flag preserved")
	}
	if records[0].FinalText != "final" {
		t.Fatalf("unexpected final text %q", records[0].FinalText)
	}
}

func TestPruneKeepsNewest(t *testing.T) {
	cfg := config.HistoryConfig{
		Enabled:    true,
		Path:       filepath.Join(t.TempDir(), "history.db"),
		MaxEntries: 2,
	}
	s, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	base := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		err := s.Append(context.Background(), Record{
			SessionID:  "run-" + string(rune('a'+i)),
			StartedAt:  base.Add(time.Duration(i) * time.Minute),
			FinishedAt: base.Add(time.Duration(i)*time.Minute + time.Second),
			RawText:    "raw",
			FinalText:  "final",
		})
		if err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	records, err := s.List(context.Background(), 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records after prune, got %d", len(records))
	}
	if records[0].SessionID != "run-e" || records[1].SessionID != "run-d" {
		t.Fatalf("prune kept wrong records: %s, %s", records[0].SessionID, records[1].SessionID)
	}
}
