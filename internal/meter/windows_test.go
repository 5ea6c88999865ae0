package meter

import (
	"testing"
	"time"
)

func TestBucketKeysAreEpochAligned(t *testing.T) {
	w := Window{Name: "daily", Bucket: 10 * time.Minute, Span: 24 * time.Hour}

	// Two instants inside the same 10-minute bucket must share a key.
	a := time.Date(2026, 8, 23, 14, 3, 12, 0, time.UTC)
	b := time.Date(2026, 8, 23, 14, 9, 59, 0, time.UTC)
	if w.KeyAt(a) != w.KeyAt(b) {
		t.Errorf("same bucket produced different keys: %s vs %s", w.KeyAt(a), w.KeyAt(b))
	}

	// Crossing the boundary changes the key.
	c := time.Date(2026, 8, 23, 14, 10, 0, 0, time.UTC)
	if w.KeyAt(a) == w.KeyAt(c) {
		t.Errorf("boundary crossing kept the key: %s", w.KeyAt(c))
	}
}

func TestCalendarMonthKey(t *testing.T) {
	w := Window{Name: "monthly", Calendar: true}

	early := time.Date(2026, 8, 1, 0, 0, 1, 0, time.UTC)
	late := time.Date(2026, 8, 31, 23, 59, 59, 0, time.UTC)
	if w.KeyAt(early) != "monthly:2026-08" {
		t.Errorf("got key %s, want monthly:2026-08", w.KeyAt(early))
	}
	if w.KeyAt(early) != w.KeyAt(late) {
		t.Errorf("month edges diverged: %s vs %s", w.KeyAt(early), w.KeyAt(late))
	}

	next := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	if w.KeyAt(early) == w.KeyAt(next) {
		t.Error("september reused the august key")
	}
}

func TestAggregateCutoff(t *testing.T) {
	w := Window{Name: "daily", Bucket: 10 * time.Minute, Span: 24 * time.Hour}
	now := time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC)

	if !w.Aggregate() {
		t.Fatal("daily window should aggregate")
	}
	want := now.Add(-24 * time.Hour).Unix()
	if got := w.Cutoff(now); got != want {
		t.Errorf("cutoff = %d, want %d", got, want)
	}

	single := Window{Name: "hourly", Bucket: time.Hour}
	if single.Aggregate() {
		t.Error("hourly window should not aggregate")
	}
	if single.Cutoff(now) != 0 {
		t.Error("single-bucket window should have zero cutoff")
	}
}
