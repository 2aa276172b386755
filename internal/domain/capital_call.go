package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type CallStatus string

const (
	StatusPending  CallStatus = "pending"
	StatusApproved CallStatus = "approved"
	StatusPaid     CallStatus = "paid"
	StatusRejected CallStatus = "rejected"
	StatusFlagged  CallStatus = "flagged"
)

// Valid reports whether s is a known lifecycle status.
func (s CallStatus) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusPaid, StatusRejected, StatusFlagged:
		return true
	}
	return false
}

// CapitalCallRecord is a request from a fund to an investor. FundName and
// OwnerScope together identify the history a call is compared against.
type CapitalCallRecord struct {
	ID            string          `json:"id"`
	FundName      string          `json:"fund_name"`
	OwnerScope    string          `json:"owner_scope"`
	AmountDue     decimal.Decimal `json:"amount_due"`
	DueDate       time.Time       `json:"due_date"`
	BankName      *string         `json:"bank_name,omitempty"`
	AccountNumber *string         `json:"account_number,omitempty"`
	RoutingNumber *string         `json:"routing_number,omitempty"`
	WireReference *string         `json:"wire_reference,omitempty"`
	Status        CallStatus      `json:"status"`
	CreatedAt     time.Time       `json:"created_at"`
}

// MatchCandidate returns the subset of the record the payment matcher scores.
func (c *CapitalCallRecord) MatchCandidate() MatchCandidate {
	due := c.DueDate
	return MatchCandidate{
		ID:            c.ID,
		AmountDue:     c.AmountDue,
		WireReference: c.WireReference,
		DueDate:       &due,
	}
}
