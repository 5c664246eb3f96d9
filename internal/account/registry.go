package account

import (
	"fmt"
	"sync"
	"time"
)

// Registry owns the set of accounts in registration order. Enabled-ness
// is toggled here so the rotation scheduler sees changes at its next
// cycle boundary without disturbing other accounts' timers.
type Registry struct {
	mu    sync.RWMutex
	order []string
	byID  map[string]*Account
}

func NewRegistry() *Registry {
	return &Registry{byID: map[string]*Account{}}
}

func (r *Registry) Register(a *Account) error {
	if a == nil {
		return fmt.Errorf("register: nil account")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.byID[a.Name()]; dup {
		return fmt.Errorf("register: duplicate account %q", a.Name())
	}
	r.byID[a.Name()] = a
	r.order = append(r.order, a.Name())
	return nil
}

func (r *Registry) Get(name string) (*Account, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.byID[name]
	return a, ok
}

func (r *Registry) Enable(name string) error  { return r.setEnabled(name, true) }
func (r *Registry) Disable(name string) error { return r.setEnabled(name, false) }

func (r *Registry) setEnabled(name string, on bool) error {
	a, ok := r.Get(name)
	if !ok {
		return fmt.Errorf("unknown account %q", name)
	}
	a.SetEnabled(on)
	return nil
}

// ListEnabled returns enabled accounts in registration order.
func (r *Registry) ListEnabled() []*Account {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Account, 0, len(r.order))
	for _, id := range r.order {
		if a := r.byID[id]; a != nil && a.Enabled() {
			out = append(out, a)
		}
	}
	return out
}

// List returns all accounts in registration order.
func (r *Registry) List() []*Account {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Account, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.byID[id])
	}
	return out
}

// Snapshots returns status views for every account in registration order.
func (r *Registry) Snapshots(now time.Time) []Snapshot {
	accts := r.List()
	out := make([]Snapshot, 0, len(accts))
	for _, a := range accts {
		out = append(out, a.Snapshot(now))
	}
	return out
}
