package inventory

import (
	"sort"

	"github.com/shopspring/decimal"
)

// Snapshot is the state the allocator reads: ledger quantities, every menu item's
// recipe (empty for unconstrained items) and committed order demand.
type Snapshot struct {
	OnHand    map[string]decimal.Decimal
	Recipes   map[string][]RecipeLine
	Committed Demand
}

// Allocation is the result of Allocate.
type Allocation struct {
	Servings map[string]Servings
	Warnings []DataIntegrityWarning
}

// Allocate computes how many more servings of every menu item can be sold.
//
// available = max(on_hand, 0) - committed demand. When cart is non-empty its own
// demand is taken out of available before the per-item minimum is computed, so
// every item sharing an ingredient with the cart sees the reduced pool. Allocate
// never mutates its input.
func Allocate(snap Snapshot, cart []Line) (Allocation, error) {
	cartDemand, err := demandOf(cart, func(id string) ([]RecipeLine, bool) {
		lines, ok := snap.Recipes[id]
		return lines, ok
	})
	if err != nil {
		return Allocation{}, err
	}

	available, warnings := availablePool(snap)
	for id, q := range cartDemand {
		available[id] = available[id].Sub(q)
	}

	out := Allocation{
		Servings: make(map[string]Servings, len(snap.Recipes)),
		Warnings: warnings,
	}
	seenMissing := make(map[string]struct{})
	for menuItemID, lines := range snap.Recipes {
		if len(lines) == 0 {
			out.Servings[menuItemID] = Unlimited()
			continue
		}
		var best int64 = -1
		for _, rl := range lines {
			avail, ok := available[rl.IngredientID]
			if !ok {
				if _, seen := seenMissing[rl.IngredientID]; !seen {
					seenMissing[rl.IngredientID] = struct{}{}
					out.Warnings = append(out.Warnings, DataIntegrityWarning{
						IngredientID: rl.IngredientID,
						OnHand:       decimal.Zero,
						Message:      "recipe references an ingredient missing from the ledger",
					})
				}
				avail = decimal.Zero
			}
			n := servingsFrom(avail, rl.Quantity)
			if best < 0 || n < best {
				best = n
			}
		}
		out.Servings[menuItemID] = Limited(best)
	}
	sort.Slice(out.Warnings, func(i, j int) bool {
		return out.Warnings[i].IngredientID < out.Warnings[j].IngredientID
	})
	return out, nil
}

// Shortfall lists every ingredient of request that the uncommitted pool cannot cover.
// exclude is demand that is about to be replaced and is handed back to the pool.
func Shortfall(snap Snapshot, request, exclude Demand) []Shortage {
	available, _ := availablePool(snap)
	for id, q := range exclude {
		available[id] = available[id].Add(q)
	}

	var out []Shortage
	for _, id := range request.Ingredients() {
		need := request[id]
		have := available[id]
		if have.IsNegative() {
			have = decimal.Zero
		}
		if need.GreaterThan(have) {
			out = append(out, Shortage{IngredientID: id, Available: have, Required: need})
		}
	}
	return out
}

func availablePool(snap Snapshot) (map[string]decimal.Decimal, []DataIntegrityWarning) {
	var warnings []DataIntegrityWarning
	available := make(map[string]decimal.Decimal, len(snap.OnHand))
	for id, onHand := range snap.OnHand {
		if onHand.IsNegative() {
			warnings = append(warnings, DataIntegrityWarning{
				IngredientID: id,
				OnHand:       onHand,
				Message:      "negative on-hand quantity treated as zero",
			})
			onHand = decimal.Zero
		}
		available[id] = onHand.Sub(snap.Committed[id])
	}
	return available, warnings
}

// servingsFrom is floor(avail / perServing), never negative.
func servingsFrom(avail, perServing decimal.Decimal) int64 {
	if !avail.IsPositive() || !perServing.IsPositive() {
		return 0
	}
	q, _ := avail.QuoRem(perServing, 0)
	return q.IntPart()
}
