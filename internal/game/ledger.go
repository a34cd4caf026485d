package game

func indexOf(entries []CommodityQuantity, commodity string) int {
	for i := range entries {
		if entries[i].Commodity == commodity {
			return i
		}
	}
	return -1
}

func (inv *Inventory) entries(side Side) *[]CommodityQuantity {
	if side == Imports {
		return &inv.Imports
	}
	return &inv.Exports
}

// Get returns the quantity held for commodity on side, and whether an entry
// exists at all.
func (inv *Inventory) Get(side Side, commodity string) (int, bool) {
	list := *inv.entries(side)
	if i := indexOf(list, commodity); i >= 0 {
		return list[i].Quantity, true
	}
	return 0, false
}

// Adjust adds delta to commodity on side and clamps the result into
// [0, limit]. A missing entry is only created for a positive delta.
// The boolean reports a boundary hit: 0 on an import or limit on an export.
func (inv *Inventory) Adjust(side Side, commodity string, delta, limit int) (int, bool) {
	list := inv.entries(side)
	i := indexOf(*list, commodity)
	if i < 0 {
		if delta <= 0 {
			return 0, false
		}
		*list = append(*list, CommodityQuantity{Commodity: commodity})
		i = len(*list) - 1
	}
	v := clamp((*list)[i].Quantity+delta, 0, limit)
	(*list)[i].Quantity = v
	return v, atBoundary(side, v, limit)
}

func atBoundary(side Side, v, limit int) bool {
	if side == Imports {
		return v <= 0
	}
	return v >= limit
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Get reads the station ledger.
func (s *Station) Get(side Side, commodity string) (int, bool) {
	return s.Inventory.Get(side, commodity)
}

// Adjust changes the station ledger within [0, MaxStock].
func (s *Station) Adjust(side Side, commodity string, delta int) (int, bool) {
	return s.Inventory.Adjust(side, commodity, delta, s.MaxStock)
}

// CommodityPercent is a ledger quantity expressed against MaxStock.
type CommodityPercent struct {
	Commodity string `json:"commodity"`
	Percent   int    `json:"percent"`
}

type StockPercentages struct {
	Imports []CommodityPercent `json:"imports"`
	Exports []CommodityPercent `json:"exports"`
}

// Percentages reports each ledger entry as a share of MaxStock rounded to
// the nearest whole percent, halves rounding up.
func (s *Station) Percentages() StockPercentages {
	conv := func(list []CommodityQuantity) []CommodityPercent {
		out := make([]CommodityPercent, 0, len(list))
		for _, e := range list {
			out = append(out, CommodityPercent{Commodity: e.Commodity, Percent: percentOf(e.Quantity, s.MaxStock)})
		}
		return out
	}
	return StockPercentages{Imports: conv(s.Inventory.Imports), Exports: conv(s.Inventory.Exports)}
}

func percentOf(q, max int) int {
	if max <= 0 {
		return 0
	}
	// integer round-half-up of q*100/max
	return (q*200 + max) / (2 * max)
}

// Carried is the total number of units in the ship's hold.
func (sh *Ship) Carried() int {
	total := 0
	for _, e := range sh.Inventory {
		total += e.Quantity
	}
	return total
}

// Holding returns how many units of commodity the ship carries.
func (sh *Ship) Holding(commodity string) int {
	if i := indexOf(sh.Inventory, commodity); i >= 0 {
		return sh.Inventory[i].Quantity
	}
	return 0
}

func (sh *Ship) add(commodity string, qty int) {
	if i := indexOf(sh.Inventory, commodity); i >= 0 {
		sh.Inventory[i].Quantity += qty
		return
	}
	sh.Inventory = append(sh.Inventory, CommodityQuantity{Commodity: commodity, Quantity: qty})
}

// remove takes qty of commodity out of the hold; callers check Holding first.
func (sh *Ship) remove(commodity string, qty int) {
	i := indexOf(sh.Inventory, commodity)
	if i < 0 {
		return
	}
	sh.Inventory[i].Quantity -= qty
	if sh.Inventory[i].Quantity <= 0 {
		sh.Inventory = append(sh.Inventory[:i], sh.Inventory[i+1:]...)
	}
}

// StationStatus is the per-station view pushed to players after a tick.
type StationStatus struct {
	Name        string           `json:"name"`
	Type        string           `json:"type"`
	Inventory   Inventory        `json:"inventory"`
	Percentages StockPercentages `json:"percentages"`
}

// Statuses snapshots every station in order.
func Statuses(stations []Station) []StationStatus {
	out := make([]StationStatus, 0, len(stations))
	for i := range stations {
		st := stations[i].Clone()
		out = append(out, StationStatus{Name: st.Name, Type: st.Type, Inventory: st.Inventory, Percentages: st.Percentages()})
	}
	return out
}
