// Package matching scores incoming payments against outstanding capital
// calls. All functions are pure and safe for concurrent use.
package matching

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/capcall/riskengine/internal/domain"
)

const (
	amountWeight    = 0.4
	referenceWeight = 0.4
	dateWeight      = 0.2

	acceptThreshold = 0.7
	exactThreshold  = 0.95

	dateWindowDays = 7
)

var (
	onePercent  = decimal.RequireFromString("0.01")
	fivePercent = decimal.RequireFromString("0.05")
	tenPercent  = decimal.RequireFromString("0.10")
)

// Score computes the confidence that payment settles candidate.
func Score(payment domain.Payment, candidate domain.MatchCandidate) domain.MatchResult {
	confidence := amountScore(payment.Amount, candidate.AmountDue) +
		referenceScore(payment.Reference, candidate.WireReference) +
		dateScore(payment, candidate)
	confidence = domain.Clamp01(confidence)

	return domain.MatchResult{
		CapitalCallID: candidate.ID,
		Confidence:    confidence,
		MatchType:     matchType(confidence),
	}
}

// RankCandidates scores every candidate, including those below the
// acceptance threshold, ordered by confidence then candidate ID.
func RankCandidates(payment domain.Payment, candidates []domain.MatchCandidate) []domain.MatchResult {
	ranked := make([]domain.MatchResult, 0, len(candidates))
	for _, c := range candidates {
		ranked = append(ranked, Score(payment, c))
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Confidence != ranked[j].Confidence {
			return ranked[i].Confidence > ranked[j].Confidence
		}
		return ranked[i].CapitalCallID < ranked[j].CapitalCallID
	})
	return ranked
}

// MatchPayment returns the best candidate whose confidence exceeds 0.7, or
// nil when none does.
func MatchPayment(payment domain.Payment, candidates []domain.MatchCandidate) *domain.MatchResult {
	ranked := RankCandidates(payment, candidates)
	if len(ranked) == 0 || ranked[0].Confidence <= acceptThreshold {
		return nil
	}
	best := ranked[0]
	return &best
}

func amountScore(amount, due decimal.Decimal) float64 {
	if !due.IsPositive() {
		return 0
	}
	rel := amount.Sub(due).Abs().Div(due)
	switch {
	case rel.LessThan(onePercent):
		return amountWeight
	case rel.LessThan(fivePercent):
		return 0.3
	case rel.LessThan(tenPercent):
		return 0.2
	default:
		return 0
	}
}

func referenceScore(ref, wire *string) float64 {
	if ref == nil || wire == nil {
		return 0
	}
	return Similarity(*ref, *wire) * referenceWeight
}

func dateScore(payment domain.Payment, candidate domain.MatchCandidate) float64 {
	if payment.Date == nil || candidate.DueDate == nil {
		return 0
	}
	days := domain.DaysBetween(*payment.Date, *candidate.DueDate)
	if days >= dateWindowDays {
		return 0
	}
	return dateWeight * (1 - float64(days)/dateWindowDays)
}

func matchType(confidence float64) domain.MatchType {
	if confidence > exactThreshold {
		return domain.MatchExact
	}
	return domain.MatchFuzzy
}
