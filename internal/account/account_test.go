package account

import (
	"testing"
	"time"
)

func TestEligibleCooldownGate(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	a := New("alpha", nil, Options{Enabled: true, BaseDelay: 10 * time.Second})

	if rem, ok := a.Eligible(now); !ok || rem != 0 {
		t.Fatalf("fresh account should be eligible, got rem=%v ok=%v", rem, ok)
	}

	a.RecordSuccess(now, 0)
	if rem, ok := a.Eligible(now.Add(3 * time.Second)); ok || rem != 7*time.Second {
		t.Fatalf("expected 7s remaining, got rem=%v ok=%v", rem, ok)
	}
	if _, ok := a.Eligible(now.Add(10 * time.Second)); !ok {
		t.Fatal("cooldown elapsed; account should be eligible")
	}
}

func TestRecordSuccessCooldownNeverBelowBase(t *testing.T) {
	t.Parallel()
	now := time.Now()
	tests := []struct {
		name     string
		base     time.Duration
		observed time.Duration
		want     time.Duration
	}{
		{name: "observed wins", base: 5 * time.Second, observed: 30 * time.Second, want: 30 * time.Second},
		{name: "base wins", base: 15 * time.Second, observed: 10 * time.Second, want: 15 * time.Second},
		{name: "no slowmode", base: 5 * time.Second, observed: 0, want: 5 * time.Second},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			a := New("x", nil, Options{Enabled: true, BaseDelay: tt.base})
			a.RecordSuccess(now, tt.observed)
			if got := a.Cooldown(); got != tt.want {
				t.Fatalf("Cooldown = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRecordSuccessShrinksCooldownWhenSlowmodeDrops(t *testing.T) {
	t.Parallel()
	now := time.Now()
	a := New("x", nil, Options{Enabled: true, BaseDelay: 5 * time.Second})
	a.RecordSuccess(now, 60*time.Second)
	if got := a.Cooldown(); got != 60*time.Second {
		t.Fatalf("Cooldown = %v, want 60s", got)
	}
	// Slowmode relaxed: cooldown is recomputed, not ratcheted.
	a.RecordSuccess(now.Add(time.Minute), 10*time.Second)
	if got := a.Cooldown(); got != 10*time.Second {
		t.Fatalf("Cooldown = %v, want 10s", got)
	}
}

func TestRecordRateLimitedOverridesCooldown(t *testing.T) {
	t.Parallel()
	now := time.Now()
	a := New("x", nil, Options{Enabled: true, BaseDelay: 5 * time.Second})
	a.RecordRateLimited(now, 42*time.Second)
	if got := a.Cooldown(); got != 42*time.Second {
		t.Fatalf("Cooldown = %v, want 42s", got)
	}
	if got := a.ConsecutiveErrors(); got != 1 {
		t.Fatalf("ConsecutiveErrors = %d, want 1", got)
	}

	// Zero retry-after keeps the current cooldown.
	a.RecordRateLimited(now, 0)
	if got := a.Cooldown(); got != 42*time.Second {
		t.Fatalf("Cooldown after zero retry-after = %v, want 42s", got)
	}
}

func TestRateLimitDoesNotMoveLastSend(t *testing.T) {
	t.Parallel()
	now := time.Now()
	a := New("x", nil, Options{Enabled: true, BaseDelay: time.Second})
	a.RecordRateLimited(now, 0)
	// lastSendAt never moved, so the cooldown gate stays open.
	if _, ok := a.Eligible(now); !ok {
		t.Fatal("rejected send must not start a cooldown window")
	}
}

func TestErrorHoldOff(t *testing.T) {
	t.Parallel()
	now := time.Now()
	a := New("x", nil, Options{Enabled: true, BaseDelay: time.Second, ErrorRetryDelay: 30 * time.Second})
	a.RecordFailure(now)

	if rem, ok := a.Eligible(now.Add(10 * time.Second)); ok || rem != 20*time.Second {
		t.Fatalf("expected 20s hold-off, got rem=%v ok=%v", rem, ok)
	}
	if _, ok := a.Eligible(now.Add(31 * time.Second)); !ok {
		t.Fatal("hold-off elapsed; account should be eligible")
	}

	// A success clears the streak and the hold-off with it.
	a.RecordFailure(now)
	a.RecordSuccess(now.Add(40*time.Second), 0)
	if got := a.ConsecutiveErrors(); got != 0 {
		t.Fatalf("ConsecutiveErrors = %d, want 0", got)
	}
}

func TestHourlyQuota(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	a := New("x", nil, Options{Enabled: true, MaxPerHour: 2})

	a.RecordSuccess(now, 0)
	a.RecordSuccess(now.Add(time.Minute), 0)

	rem, ok := a.Eligible(now.Add(2 * time.Minute))
	if ok {
		t.Fatal("quota reached; account must not be eligible")
	}
	if want := 58 * time.Minute; rem != want {
		t.Fatalf("quota remaining = %v, want %v", rem, want)
	}

	// The first send falls out of the sliding window after an hour.
	if _, ok := a.Eligible(now.Add(time.Hour + time.Second)); !ok {
		t.Fatal("window slid; account should be eligible again")
	}
}

func TestSnapshot(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	a := New("alpha", nil, Options{Enabled: true, AutoSend: true, BaseDelay: 10 * time.Second, MaxPerHour: 5})
	a.RecordSuccess(now, 20*time.Second)

	snap := a.Snapshot(now.Add(5 * time.Second))
	if snap.Name != "alpha" || !snap.Enabled || !snap.AutoSend {
		t.Fatalf("unexpected snapshot identity: %+v", snap)
	}
	if snap.Cooldown != 20*time.Second {
		t.Fatalf("Cooldown = %v, want 20s", snap.Cooldown)
	}
	if snap.CooldownRemaining != 15*time.Second {
		t.Fatalf("CooldownRemaining = %v, want 15s", snap.CooldownRemaining)
	}
	if snap.SentLastHour != 1 {
		t.Fatalf("SentLastHour = %d, want 1", snap.SentLastHour)
	}
}
