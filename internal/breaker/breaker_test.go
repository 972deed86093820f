package breaker

import (
	"sync"
	"testing"
	"time"
)

// newTestRegistry returns a registry with a controllable clock.
func newTestRegistry(opts Options) (*Registry, *time.Time) {
	r := NewRegistry(opts)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return now }
	return r, &now
}

func TestAllow_ClosedByDefault(t *testing.T) {
	r, _ := newTestRegistry(Options{})
	if !r.Allow("User-Service") {
		t.Fatalf("fresh breaker should admit calls")
	}
}

func TestTrip_OnFailureThreshold(t *testing.T) {
	r, _ := newTestRegistry(Options{MinRequests: 4})

	// 2 failures out of 4 = exactly 50% -> trips.
	r.Report("Post-Service", true)
	r.Report("Post-Service", false)
	r.Report("Post-Service", true)
	r.Report("Post-Service", false)

	if r.Allow("Post-Service") {
		t.Fatalf("breaker should be open after reaching the failure threshold")
	}
}

func TestNoTrip_BelowMinRequests(t *testing.T) {
	r, _ := newTestRegistry(Options{MinRequests: 5})

	r.Report("Post-Service", false)
	r.Report("Post-Service", false)

	if !r.Allow("Post-Service") {
		t.Fatalf("breaker must not trip before MinRequests outcomes")
	}
}

func TestNoTrip_BelowThreshold(t *testing.T) {
	r, _ := newTestRegistry(Options{MinRequests: 4})

	r.Report("Post-Service", false)
	r.Report("Post-Service", true)
	r.Report("Post-Service", true)
	r.Report("Post-Service", true) // 25% < 50%

	if !r.Allow("Post-Service") {
		t.Fatalf("breaker should stay closed below the threshold")
	}
}

func TestWindow_CountersExpire(t *testing.T) {
	r, now := newTestRegistry(Options{Window: 10 * time.Second, MinRequests: 2})

	r.Report("Post-Service", false)
	*now = now.Add(11 * time.Second)
	// Window elapsed: the old failure must not combine with the new one.
	r.Report("Post-Service", true)
	r.Report("Post-Service", true)
	r.Report("Post-Service", false) // 1/3 < 50%

	if !r.Allow("Post-Service") {
		t.Fatalf("outcomes outside the rolling window must not count")
	}
}

func TestHalfOpen_SingleTrialThenClose(t *testing.T) {
	r, now := newTestRegistry(Options{ResetTimeout: 10 * time.Second})

	r.Report("User-Service", false) // trips (MinRequests defaults to 1)
	if r.Allow("User-Service") {
		t.Fatalf("breaker should be open")
	}

	*now = now.Add(10 * time.Second)
	if !r.Allow("User-Service") {
		t.Fatalf("reset timeout elapsed: exactly one trial call must be admitted")
	}
	if r.Allow("User-Service") {
		t.Fatalf("second call during the half-open trial must be rejected")
	}

	r.Report("User-Service", true)
	if !r.Allow("User-Service") {
		t.Fatalf("successful trial should close the breaker")
	}
	// Counters were reset on close: a single success then failure is 1/2=50%,
	// but with default MinRequests=1 the earlier failure must not linger.
	snaps := r.Snapshot()
	if len(snaps) != 1 || snaps[0].State != "closed" {
		t.Fatalf("unexpected snapshot after close: %+v", snaps)
	}
}

func TestHalfOpen_FailedTrialReopens(t *testing.T) {
	r, now := newTestRegistry(Options{ResetTimeout: 10 * time.Second})

	r.Report("User-Service", false)
	*now = now.Add(10 * time.Second)
	if !r.Allow("User-Service") {
		t.Fatalf("trial call should be admitted")
	}

	r.Report("User-Service", false)
	if r.Allow("User-Service") {
		t.Fatalf("failed trial must reopen the breaker")
	}

	// The timer restarted: still rejected 5s later, admitted after 10s more.
	*now = now.Add(5 * time.Second)
	if r.Allow("User-Service") {
		t.Fatalf("reopened breaker rejected too early")
	}
	*now = now.Add(5 * time.Second)
	if !r.Allow("User-Service") {
		t.Fatalf("reopened breaker should probe again after the full reset timeout")
	}
}

func TestReport_WhileOpenIsIgnored(t *testing.T) {
	r, now := newTestRegistry(Options{ResetTimeout: 10 * time.Second})

	r.Report("Post-Service", false)
	// Straggler outcomes from calls admitted before the trip.
	r.Report("Post-Service", true)
	r.Report("Post-Service", true)

	if r.Allow("Post-Service") {
		t.Fatalf("stragglers must not close an open breaker")
	}
	*now = now.Add(10 * time.Second)
	if !r.Allow("Post-Service") {
		t.Fatalf("breaker should still probe after the reset timeout")
	}
}

func TestRegistry_ServicesAreIndependent(t *testing.T) {
	r, _ := newTestRegistry(Options{})

	r.Report("Post-Service", false)
	if r.Allow("Post-Service") {
		t.Fatalf("Post-Service breaker should be open")
	}
	if !r.Allow("User-Service") {
		t.Fatalf("User-Service breaker must be unaffected")
	}
}

func TestReport_ConcurrentUpdates(t *testing.T) {
	r, _ := newTestRegistry(Options{
		// High threshold so successes alone never trip it.
		FailureThreshold: 1.0,
		MinRequests:      1_000_000,
	})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 500; j++ {
				r.Report("User-Service", j%2 == 0)
			}
		}()
	}
	wg.Wait()

	snaps := r.Snapshot()
	if len(snaps) != 1 {
		t.Fatalf("expected one entry, got %d", len(snaps))
	}
	if snaps[0].TotalCount != 4000 || snaps[0].FailureCount != 2000 {
		t.Fatalf("lost updates under concurrency: %+v", snaps[0])
	}
}
