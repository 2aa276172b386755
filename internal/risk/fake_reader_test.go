package risk

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/capcall/riskengine/internal/domain"
)

// memReader is an in-memory HistoryReader applying the same filters as the
// SQLite repository.
type memReader struct {
	mu      sync.Mutex
	records []domain.CapitalCallRecord
	queries []HistoryQuery
	failFor map[string]error // keyed by "scoped" or "fund"
}

func (m *memReader) FindRecords(_ context.Context, q HistoryQuery) ([]domain.CapitalCallRecord, error) {
	m.mu.Lock()
	m.queries = append(m.queries, q)
	m.mu.Unlock()

	if err := m.failure(q); err != nil {
		return nil, err
	}

	var out []domain.CapitalCallRecord
	for _, r := range m.records {
		if r.FundName != q.FundName {
			continue
		}
		if !q.AllScopes && r.OwnerScope != q.OwnerScope {
			continue
		}
		if len(q.Statuses) > 0 && !hasStatus(q.Statuses, r.Status) {
			continue
		}
		if hasStatus(q.ExcludeStatuses, r.Status) {
			continue
		}
		if q.DueFrom != nil && r.DueDate.Before(*q.DueFrom) {
			continue
		}
		if q.DueTo != nil && r.DueDate.After(*q.DueTo) {
			continue
		}
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].DueDate.After(out[j].DueDate) })
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (m *memReader) failure(q HistoryQuery) error {
	if m.failFor == nil {
		return nil
	}
	switch {
	case q.AllScopes:
		return m.failFor["fund"]
	case q.DueFrom != nil:
		return m.failFor["window"]
	default:
		return m.failFor["scoped"]
	}
}

func hasStatus(list []domain.CallStatus, s domain.CallStatus) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func strp(s string) *string { return &s }

func call(id, amount string, due time.Time, status domain.CallStatus) domain.CapitalCallRecord {
	return domain.CapitalCallRecord{
		ID:         id,
		FundName:   "Evergreen Growth Fund III",
		OwnerScope: "investor-42",
		AmountDue:  dec(amount),
		DueDate:    due,
		Status:     status,
	}
}
