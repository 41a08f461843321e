package main

import "github.com/eventframe/ces"

// AccountSummary is the read model kept up to date by the query store:
// owner name and current balance, folded from the same event stream the
// aggregate itself replays.
type AccountSummary struct {
	Owner   string `json:"owner"`
	Balance int64  `json:"balance"`
}

func (*AccountSummary) QueryType() string { return "account_summary" }

// Update folds one committed event into the projection.
func (s *AccountSummary) Update(e ces.Event) {
	switch ev := e.(type) {
	case AccountOpened:
		s.Owner = ev.Owner
		s.Balance = ev.Initial
	case MoneyDeposited:
		s.Balance += ev.Amount
	}
}

var _ ces.Query[ces.Event] = (*AccountSummary)(nil)
