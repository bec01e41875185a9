package quota

import (
	"testing"
	"time"
)

func TestAllowUnderLimit(t *testing.T) {
	q := New(2)

	for i := 0; i < 2; i++ {
		ok, retry := q.Allow(42)
		if !ok {
			t.Fatalf("Allow %d = false, want true", i)
		}
		if retry != 0 {
			t.Fatalf("Allow %d retry = %v, want 0", i, retry)
		}
	}

	ok, retry := q.Allow(42)
	if ok {
		t.Fatal("third Allow = true, want false")
	}
	if retry < time.Second || retry > Window {
		t.Fatalf("retry = %v, want within [1s, %v]", retry, Window)
	}
}

func TestRetryAfterClampedToOneSecond(t *testing.T) {
	q := New(1)
	base := time.Unix(1700000000, 0)
	q.now = func() time.Time { return base }

	if ok, _ := q.Allow(1); !ok {
		t.Fatal("first Allow = false")
	}

	q.now = func() time.Time { return base.Add(Window - 500*time.Millisecond) }
	ok, retry := q.Allow(1)
	if ok {
		t.Fatal("Allow near the window edge = true, want false")
	}
	if retry != time.Second {
		t.Fatalf("retry = %v, want the 1s clamp", retry)
	}
}

func TestRetryAfterTracksOldestHit(t *testing.T) {
	q := New(1)
	base := time.Unix(1700000000, 0)
	q.now = func() time.Time { return base }

	q.Allow(1)

	q.now = func() time.Time { return base.Add(10 * time.Minute) }
	ok, retry := q.Allow(1)
	if ok {
		t.Fatal("Allow = true, want false")
	}
	if retry != 50*time.Minute {
		t.Fatalf("retry = %v, want 50m", retry)
	}
}

func TestWindowSlides(t *testing.T) {
	q := New(1)
	base := time.Unix(1700000000, 0)
	q.now = func() time.Time { return base }

	q.Allow(1)

	q.now = func() time.Time { return base.Add(Window + time.Second) }
	if ok, _ := q.Allow(1); !ok {
		t.Fatal("Allow after the window slid = false, want true")
	}
}

func TestUsersAreIsolated(t *testing.T) {
	q := New(1)

	if ok, _ := q.Allow(1); !ok {
		t.Fatal("user 1 first Allow = false")
	}
	if ok, _ := q.Allow(1); ok {
		t.Fatal("user 1 second Allow = true, want false")
	}
	if ok, _ := q.Allow(2); !ok {
		t.Fatal("user 2 blocked by user 1's hits")
	}
}

func TestZeroLimitDisablesQuota(t *testing.T) {
	q := New(0)

	for i := 0; i < 100; i++ {
		if ok, _ := q.Allow(1); !ok {
			t.Fatalf("Allow %d = false with the quota disabled", i)
		}
	}
	if n := q.Users(); n != 0 {
		t.Fatalf("Users = %d, want 0 when disabled", n)
	}
}

func TestPruneForgetsIdleUsers(t *testing.T) {
	q := New(5)
	base := time.Unix(1700000000, 0)
	q.now = func() time.Time { return base }

	q.Allow(1)
	q.Allow(2)

	q.now = func() time.Time { return base.Add(30 * time.Minute) }
	q.Allow(2)

	q.now = func() time.Time { return base.Add(Window + time.Minute) }
	if n := q.Prune(); n != 1 {
		t.Fatalf("Prune = %d tracked users, want 1", n)
	}
	if n := q.Users(); n != 1 {
		t.Fatalf("Users = %d, want 1", n)
	}
}
