package audit

import (
	"context"
	"errors"
	"testing"
	"time"
)

func entryAt(ts time.Time, actor string, status Status) Entry {
	return Entry{
		ID:          "e-" + actor + "-" + ts.Format("150405"),
		Timestamp:   ts,
		ActorUserID: actor,
		Action:      "access.read",
		Status:      status,
	}
}

func TestMemoryAppendAndQuery(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		e := entryAt(base.Add(time.Duration(i)*time.Minute), "u1", StatusSuccess)
		if err := s.Append(ctx, e); err != nil {
			t.Fatalf("Append error: %v", err)
		}
	}
	if err := s.Append(ctx, entryAt(base, "u2", StatusDenied)); err != nil {
		t.Fatalf("Append error: %v", err)
	}

	if s.Len() != 4 {
		t.Fatalf("expected 4 entries, got %d", s.Len())
	}

	got, err := s.Query(ctx, Filter{ActorUserID: "u1"})
	if err != nil {
		t.Fatalf("Query error: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 entries for u1, got %d", len(got))
	}

	got, err = s.Query(ctx, Filter{ActorUserID: "u1", Limit: 2})
	if err != nil {
		t.Fatalf("Query error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("limit not applied, got %d", len(got))
	}

	got, err = s.Query(ctx, Filter{Window: Window{From: base.Add(90 * time.Second)}})
	if err != nil {
		t.Fatalf("Query error: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("window not applied, got %d", len(got))
	}
}

func TestMemoryRejectsInvalidEntry(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	cases := []struct {
		name  string
		entry Entry
	}{
		{"zero timestamp", Entry{Action: "x", Status: StatusSuccess}},
		{"missing action", Entry{Timestamp: time.Now(), Status: StatusSuccess}},
		{"missing status", Entry{Timestamp: time.Now(), Action: "x"}},
		{"unknown status", Entry{Timestamp: time.Now(), Action: "x", Status: "weird"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := s.Append(ctx, tc.entry); !errors.Is(err, ErrInvalidEntry) {
				t.Fatalf("expected ErrInvalidEntry, got %v", err)
			}
		})
	}
	if s.Len() != 0 {
		t.Fatalf("invalid entries must not be stored, got %d", s.Len())
	}
}

func TestMemoryFailWithSimulatesOutage(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	boom := errors.New("disk full")

	s.FailWith(boom)
	err := s.Append(ctx, entryAt(time.Now(), "u1", StatusSuccess))
	if !errors.Is(err, boom) {
		t.Fatalf("expected injected error, got %v", err)
	}

	s.FailWith(nil)
	if err := s.Append(ctx, entryAt(time.Now(), "u1", StatusSuccess)); err != nil {
		t.Fatalf("Append after heal error: %v", err)
	}
}

func TestMemoryCopiesDetails(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	details := map[string]string{"reason": "permission_denied"}
	e := entryAt(time.Now(), "u1", StatusDenied)
	e.PHIAccessed = false
	e.Details = details
	if err := s.Append(ctx, e); err != nil {
		t.Fatalf("Append error: %v", err)
	}

	details["reason"] = "mutated"
	got, err := s.Query(ctx, Filter{})
	if err != nil {
		t.Fatalf("Query error: %v", err)
	}
	if got[0].Details["reason"] != "permission_denied" {
		t.Fatal("stored entry must not alias caller maps")
	}
}

func TestMemoryOnlyPHIFilter(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	phi := entryAt(time.Now(), "u1", StatusSuccess)
	phi.PHIAccessed = true
	if err := s.Append(ctx, phi); err != nil {
		t.Fatalf("Append error: %v", err)
	}
	if err := s.Append(ctx, entryAt(time.Now(), "u1", StatusSuccess)); err != nil {
		t.Fatalf("Append error: %v", err)
	}

	got, err := s.Query(ctx, Filter{OnlyPHI: true})
	if err != nil {
		t.Fatalf("Query error: %v", err)
	}
	if len(got) != 1 || !got[0].PHIAccessed {
		t.Fatalf("expected only the PHI entry, got %d", len(got))
	}
}
