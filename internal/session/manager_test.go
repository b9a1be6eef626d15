package session

import (
	"context"
	"testing"
	"time"
)

func TestManagerCreateGetEnd(t *testing.T) {
	m := NewManager(time.Minute)
	s := m.Create("u1", "field-notes", "af_heart")
	if s.ID == "" {
		t.Fatalf("session ID should not be empty")
	}

	got, err := m.Get(s.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.UserID != "u1" || got.Document != "field-notes" || got.Status != StatusActive {
		t.Fatalf("unexpected session state: %+v", got)
	}

	ended, err := m.End(s.ID)
	if err != nil {
		t.Fatalf("End() error = %v", err)
	}
	if ended.Status != StatusEnded {
		t.Fatalf("ended status = %q, want %q", ended.Status, StatusEnded)
	}
}

func TestManagerSeekAndSectionTracking(t *testing.T) {
	m := NewManager(time.Minute)
	s := m.Create("u1", "field-notes", "af_heart")
	if err := m.SetSection(s.ID, "sec-2"); err != nil {
		t.Fatalf("SetSection() error = %v", err)
	}
	if err := m.RecordSeek(s.ID); err != nil {
		t.Fatalf("RecordSeek() error = %v", err)
	}

	got, err := m.Get(s.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.SectionRef != "sec-2" {
		t.Fatalf("SectionRef = %q, want %q", got.SectionRef, "sec-2")
	}
	if got.SeekCount != 1 {
		t.Fatalf("SeekCount = %d, want 1", got.SeekCount)
	}
}

func TestManagerJanitorExpiresInactive(t *testing.T) {
	m := NewManager(30 * time.Millisecond)
	s := m.Create("u1", "field-notes", "af_heart")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.StartJanitor(ctx, 10*time.Millisecond)

	time.Sleep(90 * time.Millisecond)
	got, err := m.Get(s.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Status != StatusEnded {
		t.Fatalf("Status = %q, want %q", got.Status, StatusEnded)
	}
}
