package main

import (
	"fmt"

	"github.com/eventframe/ces"
)

// Account is the aggregate root that enforces domain rules and emits
// events. Its fields are exported so the Event Store can snapshot it with
// encoding/json directly, without a separate persisted shape.
type Account struct {
	ID      string `json:"id"`
	Owner   string `json:"owner"`
	Balance int64  `json:"balance"`
	Opened  bool   `json:"opened"`
}

func (*Account) AggregateType() string { return "account" }

// Handle routes a command to domain logic and returns the events it
// produces, or a domain error. It never mutates a — that is Apply's job.
func (a *Account) Handle(cmd ces.Command) ([]ces.Event, error) {
	switch c := cmd.(type) {
	case OpenAccountCommand:
		if a.Opened {
			return nil, fmt.Errorf("account already opened")
		}
		if c.AccountID == "" {
			return nil, fmt.Errorf("empty account id")
		}
		if c.Initial < 0 {
			return nil, fmt.Errorf("initial balance cannot be negative")
		}
		return []ces.Event{AccountOpened{AccountID: c.AccountID, Owner: c.Owner, Initial: c.Initial}}, nil

	case DepositCommand:
		if !a.Opened {
			return nil, fmt.Errorf("account not opened")
		}
		if c.Amount <= 0 {
			return nil, fmt.Errorf("invalid deposit amount")
		}
		return []ces.Event{MoneyDeposited{Amount: c.Amount}}, nil
	}

	return nil, fmt.Errorf("unknown command type %T", cmd)
}

// Apply mutates the aggregate in place according to e. It never fails.
func (a *Account) Apply(e ces.Event) {
	switch ev := e.(type) {
	case AccountOpened:
		a.ID = ev.AccountID
		a.Owner = ev.Owner
		a.Balance = ev.Initial
		a.Opened = true
	case MoneyDeposited:
		a.Balance += ev.Amount
	}
}

var _ ces.Aggregate[ces.Command, ces.Event] = (*Account)(nil)
