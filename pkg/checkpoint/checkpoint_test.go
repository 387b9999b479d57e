package checkpoint

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"harvester/pkg/models"
)

var t0 = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

func post(id string, at time.Time) models.Post {
	return models.Post{RawPost: models.RawPost{ID: id, CreatedAt: at}}
}

func TestAdvance(t *testing.T) {
	t.Run("FirstPage", func(t *testing.T) {
		next, err := Advance(nil, "rent", Page{
			Posts:  []models.Post{post("a", t0), post("b", t0.Add(time.Minute))},
			Cursor: "c1",
			At:     t0,
		}, 2)
		if err != nil {
			t.Fatalf("Advance failed: %v", err)
		}
		if next.TopicID != "rent" || next.Cursor != "c1" {
			t.Errorf("unexpected checkpoint %+v", next)
		}
		if next.Version != 1 {
			t.Errorf("Expected version 1, got %d", next.Version)
		}
		if next.NewestPostID != "b" {
			t.Errorf("Expected newest post b, got %s", next.NewestPostID)
		}
		if !next.LastSuccessAt.IsZero() {
			t.Error("partial page must not set LastSuccessAt")
		}
	})

	t.Run("KeepsPrevUnchanged", func(t *testing.T) {
		prev := &models.Checkpoint{TopicID: "rent", Cursor: "c1", Version: 4, PostsStored: 10}
		next, err := Advance(prev, "rent", Page{Cursor: "c2", ExpectedVersion: 4, At: t0}, 0)
		if err != nil {
			t.Fatalf("Advance failed: %v", err)
		}
		if prev.Cursor != "c1" || prev.Version != 4 {
			t.Errorf("prev was mutated: %+v", prev)
		}
		if next.Version != 5 || next.PostsStored != 10 {
			t.Errorf("unexpected checkpoint %+v", next)
		}
	})

	t.Run("EmptyCursorKeepsPosition", func(t *testing.T) {
		prev := &models.Checkpoint{TopicID: "rent", Cursor: "c1", Version: 1}
		next, _ := Advance(prev, "rent", Page{ExpectedVersion: 1, At: t0}, 0)
		if next.Cursor != "c1" {
			t.Errorf("Expected cursor c1, got %q", next.Cursor)
		}
	})

	t.Run("WatermarkOnlyMovesForward", func(t *testing.T) {
		prev := &models.Checkpoint{TopicID: "rent", Version: 1, NewestPostID: "z", NewestPostAt: t0}
		next, _ := Advance(prev, "rent", Page{
			Posts:           []models.Post{post("old", t0.Add(-time.Hour))},
			ExpectedVersion: 1,
			At:              t0,
		}, 1)
		if next.NewestPostID != "z" || !next.NewestPostAt.Equal(t0) {
			t.Errorf("watermark moved back: %s at %v", next.NewestPostID, next.NewestPostAt)
		}
	})

	t.Run("ConsecutiveEmpty", func(t *testing.T) {
		cp, _ := Advance(nil, "rent", Page{At: t0}, 0)
		cp, _ = Advance(cp, "rent", Page{ExpectedVersion: 1, At: t0}, 0)
		if cp.ConsecutiveEmpty != 2 {
			t.Errorf("Expected 2 empty pages, got %d", cp.ConsecutiveEmpty)
		}
		cp, _ = Advance(cp, "rent", Page{Posts: []models.Post{post("a", t0)}, ExpectedVersion: 2, At: t0}, 0)
		if cp.ConsecutiveEmpty != 0 {
			t.Errorf("Expected counter reset, got %d", cp.ConsecutiveEmpty)
		}
	})

	t.Run("CompleteSetsLastSuccess", func(t *testing.T) {
		cp, _ := Advance(nil, "rent", Page{Complete: true, At: t0}, 0)
		if !cp.LastSuccessAt.Equal(t0) {
			t.Errorf("Expected LastSuccessAt %v, got %v", t0, cp.LastSuccessAt)
		}
	})

	t.Run("StaleVersion", func(t *testing.T) {
		prev := &models.Checkpoint{TopicID: "rent", Version: 3}
		if _, err := Advance(prev, "rent", Page{ExpectedVersion: 2}, 0); !errors.Is(err, ErrStaleCheckpoint) {
			t.Errorf("Expected ErrStaleCheckpoint, got %v", err)
		}
		if _, err := Advance(nil, "rent", Page{ExpectedVersion: 1}, 0); !errors.Is(err, ErrStaleCheckpoint) {
			t.Errorf("Expected ErrStaleCheckpoint for missing checkpoint, got %v", err)
		}
	})
}

func TestCleared(t *testing.T) {
	prev := &models.Checkpoint{TopicID: "rent", Cursor: "c9", Version: 7, LastSuccessAt: t0, PostsStored: 50}
	cp := Cleared(prev, "rent", t0.Add(time.Hour))
	if !cp.Fresh() {
		t.Error("cleared checkpoint should be fresh")
	}
	if cp.Version != 8 {
		t.Errorf("Expected version 8, got %d", cp.Version)
	}
	if !cp.LastSuccessAt.IsZero() || cp.PostsStored != 0 {
		t.Errorf("reset kept state: %+v", cp)
	}
	if !cp.ResetAt.Equal(t0.Add(time.Hour)) {
		t.Errorf("unexpected ResetAt %v", cp.ResetAt)
	}
}

func TestSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "checkpoints.json")

	snap, err := ReadSnapshot(path)
	if err != nil || snap != nil {
		t.Fatalf("Expected nil snapshot for missing file, got %v, %v", snap, err)
	}

	cps := []*models.Checkpoint{
		{TopicID: "inflation", Cursor: "c1", Version: 2, UpdatedAt: t0},
		{TopicID: "rent", Version: 1},
	}
	if err := WriteSnapshot(path, cps); err != nil {
		t.Fatalf("WriteSnapshot failed: %v", err)
	}

	snap, err = ReadSnapshot(path)
	if err != nil {
		t.Fatalf("ReadSnapshot failed: %v", err)
	}
	if len(snap.Checkpoints) != 2 {
		t.Fatalf("Expected 2 checkpoints, got %d", len(snap.Checkpoints))
	}
	if snap.Checkpoints[0].Cursor != "c1" || !snap.Checkpoints[0].UpdatedAt.Equal(t0) {
		t.Errorf("unexpected checkpoint %+v", snap.Checkpoints[0])
	}
	if snap.TakenAt.IsZero() {
		t.Error("TakenAt not set")
	}
}
