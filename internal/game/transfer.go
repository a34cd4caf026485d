package game

import "fmt"

// Station returns the named station of the session.
func (g *Session) Station(name string) (*Station, error) {
	for i := range g.Stations {
		if g.Stations[i].Name == name {
			return &g.Stations[i], nil
		}
	}
	return nil, fmt.Errorf("%w: station %s not found", ErrNotFound, name)
}

// Docked returns the station the ship is at.
func (g *Session) Docked() (*Station, error) {
	return g.Station(g.Ship.Position)
}

func checkQuantity(qty int) error {
	if qty <= 0 {
		return fmt.Errorf("%w: quantity must be positive", ErrInvalid)
	}
	return nil
}

// Load moves qty of commodity from the docked station's exports into the
// ship. Nothing changes unless every check passes.
func (g *Session) Load(commodity string, qty int) error {
	if err := checkQuantity(qty); err != nil {
		return err
	}
	st, err := g.Docked()
	if err != nil {
		return err
	}
	if have, ok := st.Get(Exports, commodity); !ok || have < qty {
		return fmt.Errorf("%w: not enough supply in station", ErrInsufficient)
	}
	if g.Ship.Carried()+qty > g.Ship.InventorySize {
		return fmt.Errorf("%w: not enough space in ship inventory", ErrInsufficient)
	}
	st.Adjust(Exports, commodity, -qty)
	g.Ship.add(commodity, qty)
	return nil
}

// Deliver moves qty of commodity from the ship into the docked station's
// imports. The station must already list the commodity as an import and
// have room for it under MaxStock.
func (g *Session) Deliver(commodity string, qty int) error {
	if err := checkQuantity(qty); err != nil {
		return err
	}
	st, err := g.Docked()
	if err != nil {
		return err
	}
	if g.Ship.Holding(commodity) < qty {
		return fmt.Errorf("%w: not enough supply in ship", ErrInsufficient)
	}
	if have, ok := st.Get(Imports, commodity); !ok || have+qty > st.MaxStock {
		return fmt.Errorf("%w: station does not accept this supply", ErrInsufficient)
	}
	g.Ship.remove(commodity, qty)
	st.Adjust(Imports, commodity, qty)
	return nil
}

// Jump moves the ship through a gate of the docked station.
func (g *Session) Jump(destination string) error {
	st, err := g.Docked()
	if err != nil {
		return err
	}
	if !g.Graph().HasGate(st.Name, destination) {
		return fmt.Errorf("%w: no gate to %s", ErrConflict, destination)
	}
	g.Ship.Position = destination
	return nil
}
