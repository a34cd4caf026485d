package game

import (
	_ "embed"
	"fmt"
	"math/rand"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed roster.yaml
var defaultRoster []byte

// StockRange is the inclusive range a starting quantity is drawn from.
type StockRange struct {
	Commodity string `yaml:"commodity"`
	Min       int    `yaml:"min"`
	Max       int    `yaml:"max"`
}

type StationSpec struct {
	Name     string           `yaml:"name"`
	Type     string           `yaml:"type"`
	MaxStock int              `yaml:"max_stock"`
	Exports  []StockRange     `yaml:"exports"`
	Imports  []StockRange     `yaml:"imports"`
	Rules    []ProductionRule `yaml:"production_rules"`
	Gates    []string         `yaml:"gates"`
}

type ShipSpec struct {
	Name          string `yaml:"name"`
	Type          string `yaml:"type"`
	InventorySize int    `yaml:"inventory_size"`
}

// Roster is the seed every new game starts from.
type Roster struct {
	Ship     ShipSpec      `yaml:"ship"`
	Stations []StationSpec `yaml:"stations"`
}

// DefaultRoster returns the built-in five-station roster.
func DefaultRoster() (*Roster, error) {
	return ParseRoster(defaultRoster)
}

// LoadRoster reads a roster from a YAML file.
func LoadRoster(path string) (*Roster, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read roster: %w", err)
	}
	return ParseRoster(data)
}

func ParseRoster(data []byte) (*Roster, error) {
	var r Roster
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decode roster: %w", err)
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return &r, nil
}

// Validate checks the roster can seed a playable game.
func (r *Roster) Validate() error {
	if len(r.Stations) == 0 {
		return fmt.Errorf("roster: no stations")
	}
	if r.Ship.InventorySize <= 0 {
		return fmt.Errorf("roster: ship inventory_size must be positive")
	}
	names := make(map[string]bool, len(r.Stations))
	for _, st := range r.Stations {
		if st.Name == "" {
			return fmt.Errorf("roster: station without a name")
		}
		if names[st.Name] {
			return fmt.Errorf("roster: duplicate station %s", st.Name)
		}
		names[st.Name] = true
		if st.MaxStock <= 0 {
			return fmt.Errorf("roster: station %s: max_stock must be positive", st.Name)
		}
		for _, list := range [][]StockRange{st.Exports, st.Imports} {
			seen := map[string]bool{}
			for _, rg := range list {
				if seen[rg.Commodity] {
					return fmt.Errorf("roster: station %s: duplicate commodity %s", st.Name, rg.Commodity)
				}
				seen[rg.Commodity] = true
				if rg.Min < 0 || rg.Min > rg.Max || rg.Max > st.MaxStock {
					return fmt.Errorf("roster: station %s: bad range [%d,%d] for %s", st.Name, rg.Min, rg.Max, rg.Commodity)
				}
			}
		}
		imports := make(map[string]bool, len(st.Imports))
		for _, rg := range st.Imports {
			imports[rg.Commodity] = true
		}
		for i, rule := range st.Rules {
			if rule.Input.Quantity <= 0 || rule.Output.Quantity <= 0 {
				return fmt.Errorf("roster: station %s: rule %d: quantities must be positive", st.Name, i)
			}
			if rule.Output.Commodity == "" {
				return fmt.Errorf("roster: station %s: rule %d: output has no commodity", st.Name, i)
			}
			if !imports[rule.Input.Commodity] {
				return fmt.Errorf("roster: station %s: rule %d: input %s is not an import", st.Name, i, rule.Input.Commodity)
			}
		}
	}
	for _, st := range r.Stations {
		for _, gate := range st.Gates {
			if !names[gate] {
				return fmt.Errorf("roster: station %s: gate to unknown station %s", st.Name, gate)
			}
		}
	}
	return nil
}

func drawStock(ranges []StockRange, rng *rand.Rand) []CommodityQuantity {
	out := make([]CommodityQuantity, 0, len(ranges))
	for _, rg := range ranges {
		out = append(out, CommodityQuantity{Commodity: rg.Commodity, Quantity: rg.Min + rng.Intn(rg.Max-rg.Min+1)})
	}
	return out
}

// NewSession seeds a fresh game for userID: stations with starting stock
// drawn from the roster ranges and an empty ship docked at a random station.
func (r *Roster) NewSession(id, userID string, rng *rand.Rand, now time.Time) *Session {
	stations := make([]Station, 0, len(r.Stations))
	for _, spec := range r.Stations {
		rules := make([]ProductionRule, len(spec.Rules))
		copy(rules, spec.Rules)
		gates := make([]string, len(spec.Gates))
		copy(gates, spec.Gates)
		stations = append(stations, Station{
			Name:     spec.Name,
			Type:     spec.Type,
			MaxStock: spec.MaxStock,
			Inventory: Inventory{
				Exports: drawStock(spec.Exports, rng),
				Imports: drawStock(spec.Imports, rng),
			},
			ProductionRules: rules,
			Neighbours:      gates,
		})
	}
	spawn := stations[rng.Intn(len(stations))].Name
	return &Session{
		ID:     id,
		UserID: userID,
		Ship: Ship{
			Name:          r.Ship.Name,
			Type:          r.Ship.Type,
			InventorySize: r.Ship.InventorySize,
			Inventory:     []CommodityQuantity{},
			Position:      spawn,
		},
		Stations:  stations,
		StartTime: now,
	}
}
