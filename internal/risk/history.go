// Package risk scores capital calls for statistical, duplication and fraud
// anomalies. Every detector is a pure function of the history it is given;
// the only I/O is the HistoryReader lookup made once per invocation.
package risk

import (
	"context"
	"time"

	"github.com/capcall/riskengine/internal/domain"
)

// HistoryQuery selects past capital calls for comparison. Results are ordered
// by due date, most recent first.
type HistoryQuery struct {
	FundName string
	// OwnerScope restricts the query to one investor scope unless AllScopes
	// is set.
	OwnerScope      string
	AllScopes       bool
	Statuses        []domain.CallStatus
	ExcludeStatuses []domain.CallStatus
	DueFrom         *time.Time
	DueTo           *time.Time
	Limit           int
}

// HistoryReader is read-only access to stored capital calls.
type HistoryReader interface {
	FindRecords(ctx context.Context, q HistoryQuery) ([]domain.CapitalCallRecord, error)
}

var settledStatuses = []domain.CallStatus{domain.StatusApproved, domain.StatusPaid}

// Engine runs the risk detectors against a HistoryReader. It holds no
// per-call state and is safe for concurrent use.
type Engine struct {
	reader HistoryReader
	rules  []FraudRule
}

type Option func(*Engine)

// WithFraudRules replaces the default fraud rule set.
func WithFraudRules(rules []FraudRule) Option {
	return func(e *Engine) {
		e.rules = rules
	}
}

func NewEngine(reader HistoryReader, opts ...Option) *Engine {
	e := &Engine{
		reader: reader,
		rules:  DefaultFraudRules(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}
