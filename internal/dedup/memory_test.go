package dedup

import (
	"context"
	"testing"
	"time"
)

func TestMemoryTracker_FirstThenSeen(t *testing.T) {
	tr := NewMemoryTracker(0)
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

func TestMemoryTracker_DistinctIDs(t *testing.T) {
	tr := NewMemoryTracker(0)
	defer tr.Close()

	tr.SeenBefore(context.Background(), "wamid.1")
	seen, _ := tr.SeenBefore(context.Background(), "wamid.2")
	if seen {
		t.Error("distinct id should not be seen")
	}
}

func TestMemoryTracker_EmptyID(t *testing.T) {
	tr := NewMemoryTracker(0)
	defer tr.Close()

	for i := 0; i < 2; i++ {
		seen, err := tr.SeenBefore(context.Background(), "")
		if err != nil {
			t.Fatal(err)
		}
		if seen {
			t.Error("empty id should never be seen")
		}
	}
}

func TestMemoryTracker_TTLEviction(t *testing.T) {
	tr := NewMemoryTracker(20 * time.Millisecond)
	defer tr.Close()

	tr.SeenBefore(context.Background(), "wamid.1")
	time.Sleep(50 * time.Millisecond)

	seen, _ := tr.SeenBefore(context.Background(), "wamid.1")
	if seen {
		t.Error("entry should have expired")
	}
}
