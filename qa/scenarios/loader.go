// Package scenarios describes fleets, orders and mutation sequences in YAML.
// A scenario seeds the in-memory backend and can be replayed through the
// mutation coordinator to check the resulting dispatch state.
package scenarios

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/kilianp07/dispatchsync/core/model"
	"github.com/kilianp07/dispatchsync/infra/memory"
)

type DepotDef struct {
	ID   string  `yaml:"id"`
	Name string  `yaml:"name"`
	Lat  float64 `yaml:"lat"`
	Lon  float64 `yaml:"lon"`
}

type VehicleDef struct {
	ID       string  `yaml:"id"`
	Driver   string  `yaml:"driver"`
	Depot    string  `yaml:"depot"`
	Lat      float64 `yaml:"lat"`
	Lon      float64 `yaml:"lon"`
	Capacity float64 `yaml:"capacity"`
	Load     float64 `yaml:"load"`
}

func (v VehicleDef) ToModel() model.Vehicle {
	return model.Vehicle{
		ID:               v.ID,
		DriverID:         v.Driver,
		DepotID:          v.Depot,
		CurrentLatitude:  v.Lat,
		CurrentLongitude: v.Lon,
		CurrentLoad:      v.Load,
		Capacity:         v.Capacity,
	}
}

type OrderDef struct {
	ID       string  `yaml:"id"`
	User     string  `yaml:"user"`
	Lat      float64 `yaml:"lat"`
	Lon      float64 `yaml:"lon"`
	Weight   float64 `yaml:"weight"`
	Category string  `yaml:"category"`
}

func (o OrderDef) ToModel() model.Order {
	return model.Order{
		ID:        o.ID,
		UserID:    o.User,
		Status:    model.OrderPending,
		Latitude:  o.Lat,
		Longitude: o.Lon,
		Weight:    o.Weight,
		Category:  o.Category,
	}
}

// Step actions.
const (
	ActionCreateDispatch   = "create_dispatch"
	ActionRerouteDispatch  = "reroute_dispatch"
	ActionCompleteOrder    = "complete_order"
	ActionCompleteRoute    = "complete_route"
	ActionCompleteDispatch = "complete_dispatch"
	ActionAddOrder         = "add_order"
)

// Step outcomes.
const (
	ExpectOK       = "ok"
	ExpectRejected = "rejected"
	ExpectFailed   = "failed"
)

// Step is one mutation. Target is an order id for complete_order and a
// vehicle id for complete_route, whose route is looked up in the current
// dispatch. FailWith makes the backend fail the write with that message.
type Step struct {
	Action   string    `yaml:"action"`
	Target   string    `yaml:"target,omitempty"`
	Order    *OrderDef `yaml:"order,omitempty"`
	FailWith string    `yaml:"fail_with,omitempty"`
	Expect   string    `yaml:"expect,omitempty"`
}

// Expected is the state checked after the last step.
type Expected struct {
	// Dispatch is the status of the latest dispatch, or "none".
	Dispatch        string `yaml:"dispatch"`
	Routes          int    `yaml:"routes"`
	PendingOrders   int    `yaml:"pending_orders"`
	CompletedOrders int    `yaml:"completed_orders"`
}

type Scenario struct {
	Name        string       `yaml:"name"`
	Description string       `yaml:"description,omitempty"`
	Depots      []DepotDef   `yaml:"depots"`
	Vehicles    []VehicleDef `yaml:"vehicles"`
	Orders      []OrderDef   `yaml:"orders"`
	Steps       []Step       `yaml:"steps"`
	Expected    *Expected    `yaml:"expected,omitempty"`
}

func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes and validates a scenario document.
func Parse(data []byte) (*Scenario, error) {
	var sc Scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, err
	}
	if err := sc.Validate(); err != nil {
		return nil, err
	}
	return &sc, nil
}

// Validate checks that every step is well formed.
func (sc *Scenario) Validate() error {
	for i, st := range sc.Steps {
		switch st.Action {
		case ActionCreateDispatch, ActionRerouteDispatch, ActionCompleteDispatch:
		case ActionCompleteOrder, ActionCompleteRoute:
			if st.Target == "" {
				return fmt.Errorf("scenario %s step %d: %s needs a target", sc.Name, i+1, st.Action)
			}
		case ActionAddOrder:
			if st.Order == nil {
				return fmt.Errorf("scenario %s step %d: add_order needs an order", sc.Name, i+1)
			}
		default:
			return fmt.Errorf("scenario %s step %d: unknown action %q", sc.Name, i+1, st.Action)
		}
		switch st.Expect {
		case "", ExpectOK, ExpectRejected, ExpectFailed:
		default:
			return fmt.Errorf("scenario %s step %d: unknown expectation %q", sc.Name, i+1, st.Expect)
		}
	}
	return nil
}

// Seed stores the depots, vehicles and orders of sc in mem.
func (sc *Scenario) Seed(mem *memory.Backend) {
	for _, d := range sc.Depots {
		mem.AddDepot(model.Depot{ID: d.ID, Name: d.Name, Latitude: d.Lat, Longitude: d.Lon})
	}
	for _, v := range sc.Vehicles {
		mem.AddVehicle(v.ToModel())
	}
	for _, o := range sc.Orders {
		mem.AddOrder(o.ToModel())
	}
}
