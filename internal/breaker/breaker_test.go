package breaker

import (
	"context"
	"testing"
	"time"
)

func TestWaitReturnsImmediatelyWhenClosed(t *testing.T) {
	b := New()

	start := time.Now()
	if err := b.Wait(context.Background()); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Fatalf("Wait on a closed breaker took %v", elapsed)
	}
}

func TestOpenForBlocksWait(t *testing.T) {
	b := New()
	b.OpenFor(250 * time.Millisecond)

	start := time.Now()
	if err := b.Wait(context.Background()); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	elapsed := time.Since(start)
	if elapsed < 200*time.Millisecond {
		t.Fatalf("Wait returned after %v, want the cooldown to pass first", elapsed)
	}
	if elapsed > 2*time.Second {
		t.Fatalf("Wait took %v, far beyond the cooldown", elapsed)
	}
}

func TestOpenForNeverShortens(t *testing.T) {
	b := New()
	base := time.Unix(1700000000, 0)
	b.now = func() time.Time { return base }

	b.OpenFor(10 * time.Second)
	b.OpenFor(time.Second)

	if r := b.Remaining(); r != 10*time.Second {
		t.Fatalf("Remaining = %v, want 10s", r)
	}
}

func TestOpenForSequenceKeepsMaxDeadline(t *testing.T) {
	b := New()
	base := time.Unix(1700000000, 0)
	clock := base
	b.now = func() time.Time { return clock }

	steps := []struct {
		advance time.Duration
		open    time.Duration
	}{
		{0, 5 * time.Second},
		{2 * time.Second, 3 * time.Second},
		{time.Second, 10 * time.Second},
		{time.Second, 2 * time.Second},
	}
	for _, s := range steps {
		clock = clock.Add(s.advance)
		b.OpenFor(s.open)
	}

	// Deadlines were base+5s, base+5s, base+13s, base+6s; the max wins.
	if r := b.Remaining(); r != 9*time.Second {
		t.Fatalf("Remaining = %v, want 9s", r)
	}
}

func TestOpenForNegativeIsZero(t *testing.T) {
	b := New()
	b.OpenFor(-5 * time.Second)

	if r := b.Remaining(); r != 0 {
		t.Fatalf("Remaining = %v, want 0", r)
	}
}

func TestWaitHonorsContext(t *testing.T) {
	b := New()
	b.OpenFor(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	if err := b.Wait(ctx); err != context.DeadlineExceeded {
		t.Fatalf("Wait = %v, want context.DeadlineExceeded", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("canceled Wait still took %v", elapsed)
	}
}
