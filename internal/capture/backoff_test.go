package capture

import (
	"testing"
	"time"
)

func testRegistry() (*backoffRegistry, *time.Time) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	r := newBackoffRegistry()
	r.now = func() time.Time { return now }
	return r, &now
}

func TestBackoffFreshKeyAllowed(t *testing.T) {
	r, _ := testRegistry()
	if !r.canAttempt("DP-1") {
		t.Fatal("fresh key should be attemptable")
	}
}

func TestBackoffCooldownWindow(t *testing.T) {
	r, now := testRegistry()
	base := *now

	if !r.recordFailure("DP-1") {
		t.Fatal("first failure should be logged")
	}

	// Denied through the whole window, allowed exactly at its end.
	for _, offset := range []time.Duration{0, time.Second, compositorRetryCooldown - time.Nanosecond} {
		*now = base.Add(offset)
		if r.canAttempt("DP-1") {
			t.Fatalf("attempt allowed %v into cooldown", offset)
		}
	}

	*now = base.Add(compositorRetryCooldown)
	if !r.canAttempt("DP-1") {
		t.Fatal("attempt denied after cooldown expired")
	}
}

func TestBackoffLogsOncePerWindow(t *testing.T) {
	r, now := testRegistry()

	if !r.recordFailure("DP-1") {
		t.Fatal("first failure should be logged")
	}

	// Repeated failures inside the window extend it quietly.
	*now = now.Add(10 * time.Second)
	if r.recordFailure("DP-1") {
		t.Fatal("repeat failure inside window should be quiet")
	}

	// The quiet failure still pushed the window out.
	*now = now.Add(55 * time.Second)
	if r.canAttempt("DP-1") {
		t.Fatal("window was not extended by quiet failure")
	}

	// A failure after expiry starts a fresh window and logs again.
	*now = now.Add(compositorRetryCooldown)
	if !r.recordFailure("DP-1") {
		t.Fatal("failure after expiry should be logged")
	}
}

func TestBackoffKeysAreIndependent(t *testing.T) {
	r, _ := testRegistry()

	r.recordFailure("DP-1")
	if r.canAttempt("DP-1") {
		t.Fatal("failed key should be cooling down")
	}
	if !r.canAttempt("HDMI-1") {
		t.Fatal("unrelated key affected by cooldown")
	}
}

func TestBackoffClear(t *testing.T) {
	r, _ := testRegistry()

	r.recordFailure("DP-1")
	r.clear("DP-1")
	if !r.canAttempt("DP-1") {
		t.Fatal("cleared key should be attemptable")
	}
	if !r.recordFailure("DP-1") {
		t.Fatal("failure after clear should log again")
	}
}
