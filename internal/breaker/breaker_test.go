package breaker

import (
	"sync"
	"testing"
	"time"
)

func TestGroup_OpensAfterThreshold(t *testing.T) {
	g := NewGroup(3, 5*time.Minute)

	g.RecordFailure("items")
	g.RecordFailure("items")
	if g.IsOpen("items") {
		t.Fatal("should still be closed after 2 failures")
	}

	g.RecordFailure("items")
	if !g.IsOpen("items") {
		t.Fatal("expected open after 3 consecutive failures")
	}
}

func TestGroup_StaysOpenBeforeCooldown(t *testing.T) {
	g := NewGroup(3, 5*time.Minute)

	now := time.Now()
	g.now = func() time.Time { return now }

	for range 3 {
		g.RecordFailure("items")
	}

	// Repeated queries inside the cooldown window keep reporting open.
	now = now.Add(4 * time.Minute)
	if !g.IsOpen("items") {
		t.Fatal("expected open before cooldown elapses")
	}
	now = now.Add(59 * time.Second)
	if !g.IsOpen("items") {
		t.Fatal("expected open 1s before cooldown elapses")
	}
}

func TestGroup_AutoRecoversAfterCooldown(t *testing.T) {
	g := NewGroup(3, 5*time.Minute)

	now := time.Now()
	g.now = func() time.Time { return now }

	for range 3 {
		g.RecordFailure("items")
	}

	now = now.Add(5 * time.Minute)
	if g.IsOpen("items") {
		t.Fatal("expected closed once cooldown has elapsed")
	}

	// Recovery must also have zeroed the count: two fresh failures are
	// below the threshold again.
	g.RecordFailure("items")
	g.RecordFailure("items")
	if g.IsOpen("items") {
		t.Fatal("failure count was not reset by auto-recovery")
	}
}

func TestGroup_SuccessResetsUnconditionally(t *testing.T) {
	g := NewGroup(3, 5*time.Minute)

	g.RecordFailure("lists")
	g.RecordFailure("lists")
	g.ResetOnSuccess("lists")
	g.RecordFailure("lists")
	g.RecordFailure("lists")
	if g.IsOpen("lists") {
		t.Fatal("success should have reset the failure count")
	}

	// A success while open closes the circuit immediately.
	g.RecordFailure("lists")
	if !g.IsOpen("lists") {
		t.Fatal("expected open at threshold")
	}
	g.ResetOnSuccess("lists")
	if g.IsOpen("lists") {
		t.Fatal("expected closed after success while open")
	}
}

func TestGroup_ServicesAreIndependent(t *testing.T) {
	g := NewGroup(3, 5*time.Minute)

	for range 3 {
		g.RecordFailure("items")
	}

	if !g.IsOpen("items") {
		t.Fatal("expected items open")
	}
	if g.IsOpen("lists") {
		t.Fatal("items failures must not open the lists breaker")
	}
}

func TestGroup_ConcurrentFailuresNeverUndercount(t *testing.T) {
	const n = 50
	g := NewGroup(n+1, 5*time.Minute)

	var wg sync.WaitGroup
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			g.RecordFailure("items")
		}()
	}
	wg.Wait()

	if g.IsOpen("items") {
		t.Fatal("should be one failure short of the threshold")
	}
	g.RecordFailure("items")
	if !g.IsOpen("items") {
		t.Fatal("lost increments under concurrency: breaker did not open at threshold")
	}
}

func TestGroup_OnOpenFiresOncePerTrip(t *testing.T) {
	g := NewGroup(2, 5*time.Minute)

	var opened []string
	g.OnOpen = func(name string) { opened = append(opened, name) }

	g.RecordFailure("users")
	g.RecordFailure("users")
	g.RecordFailure("users") // already open, no second notification

	if len(opened) != 1 || opened[0] != "users" {
		t.Fatalf("expected one open notification for users, got %v", opened)
	}
}

func TestGroup_SnapshotReportsTrackedBreakers(t *testing.T) {
	g := NewGroup(2, 5*time.Minute)

	g.RecordFailure("items")
	g.RecordFailure("items")
	g.ResetOnSuccess("lists")

	snap := g.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("expected 2 tracked breakers, got %d", len(snap))
	}
	if !snap["items"].Open || snap["items"].Failures != 2 {
		t.Fatalf("unexpected items state: %+v", snap["items"])
	}
	if snap["lists"].Open || snap["lists"].LastFailure != nil {
		t.Fatalf("unexpected lists state: %+v", snap["lists"])
	}
}
