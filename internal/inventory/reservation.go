package inventory

import (
	"sort"
	"sync"
	"time"
)

type ReservationKind string

const (
	KindCart  ReservationKind = "CART"
	KindOrder ReservationKind = "ORDER"
)

// Reservation is a claim on ingredient quantity held by a cart session or an order.
// Demand is frozen when the reservation is made.
type Reservation struct {
	ID        string          `json:"id"`
	Kind      ReservationKind `json:"kind"`
	Items     []Line          `json:"items"`
	Demand    Demand          `json:"demand"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// Tracker keeps the reservations and their aggregated demand per kind.
type Tracker struct {
	mu        sync.RWMutex
	byID      map[string]Reservation
	committed Demand
	tentative Demand
}

func NewTracker() *Tracker {
	return &Tracker{
		byID:      make(map[string]Reservation),
		committed: make(Demand),
		tentative: make(Demand),
	}
}

// Reserve replaces any reservation held under r.ID. A reservation without items
// is a release.
func (t *Tracker) Reserve(r Reservation) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.removeLocked(r.ID)
	if len(r.Items) == 0 {
		return
	}
	r.Items = append([]Line(nil), r.Items...)
	r.Demand = r.Demand.Clone()
	t.byID[r.ID] = r
	t.totalsLocked(r.Kind).Merge(r.Demand)
}

// Release removes the reservation and returns it.
func (t *Tracker) Release(id string) (Reservation, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.removeLocked(id)
}

func (t *Tracker) Get(id string) (Reservation, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	r, ok := t.byID[id]
	return r, ok
}

// CommittedDemand is the aggregate demand of all order reservations.
func (t *Tracker) CommittedDemand() Demand {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.committed.Clone()
}

// TentativeDemand is the aggregate demand of all open carts.
func (t *Tracker) TentativeDemand() Demand {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.tentative.Clone()
}

// List returns all reservations ordered by id.
func (t *Tracker) List() []Reservation {
	t.mu.RLock()
	out := make([]Reservation, 0, len(t.byID))
	for _, r := range t.byID {
		out = append(out, r)
	}
	t.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// IdleCarts returns the ids of carts not touched since cutoff.
func (t *Tracker) IdleCarts(cutoff time.Time) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var ids []string
	for id, r := range t.byID {
		if r.Kind == KindCart && r.UpdatedAt.Before(cutoff) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

func (t *Tracker) removeLocked(id string) (Reservation, bool) {
	prev, ok := t.byID[id]
	if !ok {
		return Reservation{}, false
	}
	delete(t.byID, id)
	t.totalsLocked(prev.Kind).Subtract(prev.Demand)
	return prev, true
}

func (t *Tracker) totalsLocked(kind ReservationKind) Demand {
	if kind == KindCart {
		return t.tentative
	}
	return t.committed
}
