package utils

import (
	"context"
	"testing"
	"time"
)

func TestKeySetNoDuplicates(t *testing.T) {
	s := NewKeySet()

	added := s.Add("https://example.com/1")
	if !added {
		t.Error("first Add should return true")
	}

	added = s.Add("https://example.com/1")
	if added {
		t.Error("second Add of same key should return false")
	}

	if s.Size() != 1 {
		t.Errorf("size: got %d, want 1", s.Size())
	}
	if !s.Contains("https://example.com/1") {
		t.Error("Contains should report the added key")
	}
}

func TestPacerEnforcesInterval(t *testing.T) {
	clock := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	var slept []time.Duration

	p := NewPacer(time.Second)
	p.now = func() time.Time { return clock }
	p.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		clock = clock.Add(d)
		return nil
	}

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if err := p.Wait(ctx); err != nil {
			t.Fatalf("Wait: %v", err)
		}
		clock = clock.Add(200 * time.Millisecond)
	}

	if len(slept) != 2 {
		t.Fatalf("sleeps: got %d, want 2", len(slept))
	}
	for i, d := range slept {
		if d != 800*time.Millisecond {
			t.Errorf("sleep %d: got %v, want 800ms", i, d)
		}
	}
}

func TestPacerResetSkipsDelay(t *testing.T) {
	p := NewPacer(time.Hour)
	p.sleep = func(context.Context, time.Duration) error {
		t.Fatal("sleep should not be called after Reset")
		return nil
	}

	ctx := context.Background()
	if err := p.Wait(ctx); err != nil {
		t.Fatal(err)
	}
	p.Reset()
	if err := p.Wait(ctx); err != nil {
		t.Fatal(err)
	}
}

func TestPacerHonoursCancellation(t *testing.T) {
	p := NewPacer(time.Hour)
	ctx, cancel := context.WithCancel(context.Background())

	if err := p.Wait(ctx); err != nil {
		t.Fatal(err)
	}
	cancel()
	if err := p.Wait(ctx); err == nil {
		t.Error("expected cancellation error")
	}
}
