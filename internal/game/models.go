package game

import "time"

// Side selects one half of a station ledger.
type Side string

const (
	Exports Side = "exports"
	Imports Side = "imports"
)

type CommodityQuantity struct {
	Commodity string `json:"commodity" yaml:"commodity"`
	Quantity  int    `json:"quantity" yaml:"quantity"`
}

// Inventory is a station ledger. Entries keep insertion order, which is the
// order the failure scan walks them in.
type Inventory struct {
	Exports []CommodityQuantity `json:"exports"`
	Imports []CommodityQuantity `json:"imports"`
}

type ProductionRule struct {
	Input  CommodityQuantity `json:"input" yaml:"input"`
	Output CommodityQuantity `json:"output" yaml:"output"`
}

type Station struct {
	Name            string           `json:"name"`
	Type            string           `json:"type"`
	MaxStock        int              `json:"maxStock"`
	Inventory       Inventory        `json:"inventory"`
	ProductionRules []ProductionRule `json:"productionRules"`
	Neighbours      []string         `json:"neighbours"`
}

type Ship struct {
	Name          string              `json:"name"`
	Type          string              `json:"type"`
	InventorySize int                 `json:"inventorySize"`
	Inventory     []CommodityQuantity `json:"inventory"`
	Position      string              `json:"position"`
}

// Session is one user's game in progress.
type Session struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Ship      Ship      `json:"ship"`
	Stations  []Station `json:"stations"`
	StartTime time.Time `json:"startTime"`
}

type HistoryEntry struct {
	GameID          string    `json:"gameId,omitempty"`
	DurationSeconds int64     `json:"durationSeconds"`
	Reason          string    `json:"reason"`
	Station         string    `json:"station"`
	Resource        string    `json:"resource"`
	EndedAt         time.Time `json:"endedAt"`
}

// MaxHistory is how many game-over entries a user keeps.
const MaxHistory = 10

type User struct {
	ID       string         `json:"id"`
	Username string         `json:"username"`
	Record   int64          `json:"record"`
	History  []HistoryEntry `json:"history"`
}

// RecordGameOver prepends entry to the history, trims it to MaxHistory and
// raises the best record when the run lasted longer. An entry for the game
// already at the head of the history is ignored and false is returned.
func (u *User) RecordGameOver(entry HistoryEntry) bool {
	if entry.GameID != "" && len(u.History) > 0 && u.History[0].GameID == entry.GameID {
		return false
	}
	u.History = append([]HistoryEntry{entry}, u.History...)
	if len(u.History) > MaxHistory {
		u.History = u.History[:MaxHistory]
	}
	u.ObserveDuration(entry.DurationSeconds)
	return true
}

// ObserveDuration raises the best record if seconds exceeds it.
func (u *User) ObserveDuration(seconds int64) {
	if seconds > u.Record {
		u.Record = seconds
	}
}

// Elapsed returns the whole seconds the session has been running at now.
func (g *Session) Elapsed(now time.Time) int64 {
	d := now.Sub(g.StartTime)
	if d < 0 {
		return 0
	}
	return int64(d / time.Second)
}

func cloneQuantities(in []CommodityQuantity) []CommodityQuantity {
	if in == nil {
		return nil
	}
	out := make([]CommodityQuantity, len(in))
	copy(out, in)
	return out
}

// Clone returns a deep copy of the station.
func (s Station) Clone() Station {
	c := s
	c.Inventory.Exports = cloneQuantities(s.Inventory.Exports)
	c.Inventory.Imports = cloneQuantities(s.Inventory.Imports)
	if s.ProductionRules != nil {
		c.ProductionRules = make([]ProductionRule, len(s.ProductionRules))
		copy(c.ProductionRules, s.ProductionRules)
	}
	if s.Neighbours != nil {
		c.Neighbours = make([]string, len(s.Neighbours))
		copy(c.Neighbours, s.Neighbours)
	}
	return c
}

// Clone returns a deep copy of the session.
func (g *Session) Clone() *Session {
	c := *g
	c.Ship.Inventory = cloneQuantities(g.Ship.Inventory)
	if g.Stations != nil {
		c.Stations = make([]Station, len(g.Stations))
		for i, st := range g.Stations {
			c.Stations[i] = st.Clone()
		}
	}
	return &c
}

// Clone returns a deep copy of the user.
func (u *User) Clone() *User {
	c := *u
	if u.History != nil {
		c.History = make([]HistoryEntry, len(u.History))
		copy(c.History, u.History)
	}
	return &c
}
