package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Payment is an incoming payment seen on a bank statement. Date and Reference
// are optional.
type Payment struct {
	ID        string          `json:"id,omitempty"`
	Amount    decimal.Decimal `json:"amount"`
	Date      *time.Time      `json:"date,omitempty"`
	Reference *string         `json:"reference,omitempty"`
}

type MatchCandidate struct {
	ID            string          `json:"id"`
	AmountDue     decimal.Decimal `json:"amount_due"`
	WireReference *string         `json:"wire_reference,omitempty"`
	DueDate       *time.Time      `json:"due_date,omitempty"`
}

type MatchType string

const (
	MatchExact MatchType = "exact"
	MatchFuzzy MatchType = "fuzzy"
)

type MatchResult struct {
	CapitalCallID string    `json:"capital_call_id"`
	Confidence    float64   `json:"confidence"`
	MatchType     MatchType `json:"match_type"`
}

// PaymentMatch is a recorded reconciliation of a payment to a capital call.
type PaymentMatch struct {
	PaymentID     string    `json:"payment_id"`
	CapitalCallID string    `json:"capital_call_id"`
	Confidence    float64   `json:"confidence"`
	MatchType     MatchType `json:"match_type"`
	MatchedAt     time.Time `json:"matched_at"`
}
