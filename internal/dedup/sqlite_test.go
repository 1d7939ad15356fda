package dedup

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func testTrackerLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func TestSQLiteTracker_FirstThenSeen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "dedup.db")
	tr, err := NewSQLiteTracker(dbPath, 0, testTrackerLogger())
	if err != nil {
		t.Fatal(err)
	}
	defer tr.Close()

	seen, err := tr.SeenBefore(context.Background(), "wamid.1")
	if err != nil {
		t.Fatal(err)
	}
	if seen {
		t.Error("first occurrence should not be seen")
	}

	seen, err = tr.SeenBefore(context.Background(), "wamid.1")
	if err != nil {
		t.Fatal(err)
	}
	if !seen {
		t.Error("second occurrence should be seen")
	}
}

func TestSQLiteTracker_SurvivesReopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "dedup.db")

	tr, err := NewSQLiteTracker(dbPath, 0, testTrackerLogger())
	if err != nil {
		t.Fatal(err)
	}
	tr.SeenBefore(context.Background(), "wamid.persist")
	tr.Close()

	tr2, err := NewSQLiteTracker(dbPath, 0, testTrackerLogger())
	if err != nil {
		t.Fatal(err)
	}
	defer tr2.Close()

	seen, err := tr2.SeenBefore(context.Background(), "wamid.persist")
	if err != nil {
		t.Fatal(err)
	}
	if !seen {
		t.Error("identifier should survive a reopen")
	}
}

func TestSQLiteTracker_EmptyID(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "dedup.db")
	tr, err := NewSQLiteTracker(dbPath, 0, testTrackerLogger())
	if err != nil {
		t.Fatal(err)
	}
	defer tr.Close()

	seen, err := tr.SeenBefore(context.Background(), "")
	if err != nil {
		t.Fatal(err)
	}
	if seen {
		t.Error("empty id should never be seen")
	}
}
