package game

// Produce applies the station's production rules once, in stored order.
// Each rule checks the live ledger, so it sees what earlier rules in the
// same pass consumed. A rule whose input is short is skipped for this pass.
func (s *Station) Produce() {
	for _, rule := range s.ProductionRules {
		have, ok := s.Get(Imports, rule.Input.Commodity)
		if !ok || have < rule.Input.Quantity {
			continue
		}
		s.Adjust(Imports, rule.Input.Commodity, -rule.Input.Quantity)
		s.Adjust(Exports, rule.Output.Commodity, rule.Output.Quantity)
	}
}

const (
	ReasonImportExhausted = "import exhausted"
	ReasonExportSaturated = "export saturated"
)

// Failure describes the ledger entry that ended a game.
type Failure struct {
	Reason    string `json:"reason"`
	Station   string `json:"station"`
	Commodity string `json:"resource"`
}

// CheckFailure scans imports then exports, each in list order, and returns
// the first exhausted import or saturated export.
func (s *Station) CheckFailure() *Failure {
	for _, imp := range s.Inventory.Imports {
		if imp.Quantity <= 0 {
			return &Failure{Reason: ReasonImportExhausted, Station: s.Name, Commodity: imp.Commodity}
		}
	}
	for _, exp := range s.Inventory.Exports {
		if exp.Quantity >= s.MaxStock {
			return &Failure{Reason: ReasonExportSaturated, Station: s.Name, Commodity: exp.Commodity}
		}
	}
	return nil
}

// Advance runs one tick over the session: production then the failure scan,
// station by station. It stops at the first failure; stations after it are
// left untouched.
func (g *Session) Advance() *Failure {
	for i := range g.Stations {
		st := &g.Stations[i]
		st.Produce()
		if f := st.CheckFailure(); f != nil {
			return f
		}
	}
	return nil
}
