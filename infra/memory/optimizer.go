package memory

import (
	"sort"

	"github.com/kilianp07/dispatchsync/core/model"
	"github.com/kilianp07/dispatchsync/core/projection"
)

// assignment is the stop list planned for one vehicle.
type assignment struct {
	vehicle model.Vehicle
	orders  []model.Order
}

// plan spreads orders over vehicles. Each order goes to the vehicle with
// the most spare capacity; a vehicle without capacity set is unbounded. Each
// vehicle then visits its orders nearest first, starting from its depot.
// Orders no vehicle can carry stay unassigned.
func plan(orders []model.Order, vehicles []model.Vehicle, depots map[string]model.Depot) []assignment {
	if len(vehicles) == 0 {
		return nil
	}
	sort.Slice(vehicles, func(i, j int) bool { return vehicles[i].ID < vehicles[j].ID })
	sorted := append([]model.Order(nil), orders...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Weight != sorted[j].Weight {
			return sorted[i].Weight > sorted[j].Weight
		}
		return sorted[i].ID < sorted[j].ID
	})

	plans := make([]assignment, len(vehicles))
	load := make([]float64, len(vehicles))
	for i, v := range vehicles {
		plans[i].vehicle = v
		load[i] = v.CurrentLoad
	}
	spare := func(i int) float64 {
		if vehicles[i].Capacity <= 0 {
			return 1e18 - load[i]
		}
		return vehicles[i].Capacity - load[i]
	}
	for _, o := range sorted {
		best := -1
		for i := range vehicles {
			if spare(i) < o.Weight {
				continue
			}
			if best < 0 || spare(i) > spare(best) {
				best = i
			}
		}
		if best < 0 {
			continue
		}
		plans[best].orders = append(plans[best].orders, o)
		load[best] += o.Weight
	}

	out := plans[:0]
	for _, p := range plans {
		if len(p.orders) == 0 {
			continue
		}
		start := p.vehicle.Position()
		if d, ok := depots[p.vehicle.DepotID]; ok {
			start = d.Position()
		}
		p.orders = nearestFirst(start, p.orders)
		out = append(out, p)
	}
	return out
}

func nearestFirst(from model.Position, orders []model.Order) []model.Order {
	left := append([]model.Order(nil), orders...)
	out := make([]model.Order, 0, len(orders))
	cur := from
	for len(left) > 0 {
		best := 0
		for i := 1; i < len(left); i++ {
			if projection.Distance(cur, left[i].Position()) < projection.Distance(cur, left[best].Position()) {
				best = i
			}
		}
		out = append(out, left[best])
		cur = left[best].Position()
		left = append(left[:best], left[best+1:]...)
	}
	return out
}

// pathLength is the length in km of driving from start through the orders.
func pathLength(start model.Position, orders []model.Order) float64 {
	total := 0.0
	cur := start
	for _, o := range orders {
		total += projection.Distance(cur, o.Position())
		cur = o.Position()
	}
	return total
}
