package bookmark

import (
	"context"
	"testing"
	"time"
)

func TestInMemorySaveIsUpsertPerUserDocument(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()

	if err := s.Save(ctx, Bookmark{UserID: "u1", Document: "guide", OffsetPercent: 10}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	first, ok, err := s.Latest(ctx, "u1", "guide")
	if err != nil || !ok {
		t.Fatalf("Latest() = ok=%v err=%v", ok, err)
	}
	if first.ID == "" {
		t.Fatal("saved bookmark has no ID")
	}

	if err := s.Save(ctx, Bookmark{UserID: "u1", Document: "guide", OffsetPercent: 55, SectionRef: "sec-2"}); err != nil {
		t.Fatalf("Save() update error = %v", err)
	}
	got, ok, err := s.Latest(ctx, "u1", "guide")
	if err != nil || !ok {
		t.Fatalf("Latest() after update = ok=%v err=%v", ok, err)
	}
	if got.ID != first.ID {
		t.Fatalf("upsert changed ID: %q vs %q", got.ID, first.ID)
	}
	if got.OffsetPercent != 55 || got.SectionRef != "sec-2" {
		t.Fatalf("bookmark = %+v, want updated position", got)
	}
}

func TestInMemoryLatestMiss(t *testing.T) {
	s := NewInMemoryStore()
	_, ok, err := s.Latest(context.Background(), "nobody", "guide")
	if err != nil {
		t.Fatalf("Latest() error = %v", err)
	}
	if ok {
		t.Fatal("Latest() found a bookmark that was never saved")
	}
}

func TestInMemoryListNewestFirst(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()
	now := time.Now().UTC()

	docs := []string{"alpha", "beta", "gamma"}
	for i, doc := range docs {
		b := Bookmark{UserID: "u1", Document: doc, UpdatedAt: now.Add(time.Duration(i) * time.Minute)}
		if err := s.Save(ctx, b); err != nil {
			t.Fatalf("Save(%s) error = %v", doc, err)
		}
	}
	if err := s.Save(ctx, Bookmark{UserID: "u2", Document: "other", UpdatedAt: now}); err != nil {
		t.Fatalf("Save(other user) error = %v", err)
	}

	got, err := s.List(ctx, "u1", 2)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("List() returned %d, want 2", len(got))
	}
	if got[0].Document != "gamma" || got[1].Document != "beta" {
		t.Fatalf("List() order = [%s %s], want [gamma beta]", got[0].Document, got[1].Document)
	}
}
