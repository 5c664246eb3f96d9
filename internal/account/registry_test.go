package account

import (
	"testing"
	"time"
)

func newTestRegistry(t *testing.T, names ...string) *Registry {
	t.Helper()
	r := NewRegistry()
	for _, n := range names {
		if err := r.Register(New(n, nil, Options{Enabled: true})); err != nil {
			t.Fatalf("Register(%s): %v", n, err)
		}
	}
	return r
}

func namesOf(accts []*Account) []string {
	out := make([]string, len(accts))
	for i, a := range accts {
		out[i] = a.Name()
	}
	return out
}

func TestRegistryOrder(t *testing.T) {
	t.Parallel()
	r := newTestRegistry(t, "c", "a", "b")

	got := namesOf(r.List())
	want := []string{"c", "a", "b"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("List order = %v, want %v (registration order, not sorted)", got, want)
		}
	}
}

func TestRegistryDuplicate(t *testing.T) {
	t.Parallel()
	r := newTestRegistry(t, "a")
	if err := r.Register(New("a", nil, Options{})); err == nil {
		t.Fatal("expected duplicate registration error")
	}
}

func TestRegistryEnableDisable(t *testing.T) {
	t.Parallel()
	r := newTestRegistry(t, "a", "b", "c")

	if err := r.Disable("b"); err != nil {
		t.Fatalf("Disable: %v", err)
	}
	got := namesOf(r.ListEnabled())
	if len(got) != 2 || got[0] != "a" || got[1] != "c" {
		t.Fatalf("ListEnabled = %v, want [a c]", got)
	}

	// Re-enable: b reappears at its original position, not at the end.
	if err := r.Enable("b"); err != nil {
		t.Fatalf("Enable: %v", err)
	}
	got = namesOf(r.ListEnabled())
	if len(got) != 3 || got[1] != "b" {
		t.Fatalf("ListEnabled after re-enable = %v, want [a b c]", got)
	}

	if err := r.Disable("nope"); err == nil {
		t.Fatal("expected error for unknown account")
	}
}

func TestSnapshotsOrder(t *testing.T) {
	t.Parallel()
	r := newTestRegistry(t, "x", "y")
	snaps := r.Snapshots(time.Now())
	if len(snaps) != 2 || snaps[0].Name != "x" || snaps[1].Name != "y" {
		t.Fatalf("Snapshots = %+v, want x then y", snaps)
	}
}
