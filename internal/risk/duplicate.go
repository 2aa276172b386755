package risk

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/capcall/riskengine/internal/domain"
)

const (
	duplicateWindowDays = 7
	duplicateThreshold  = 0.9
)

var duplicateAmountTolerance = decimal.RequireFromString("0.05")

// DetectDuplicate looks for a non-rejected call for the same fund and scope
// with a near-identical amount and due date.
func (e *Engine) DetectDuplicate(ctx context.Context, rec *domain.CapitalCallRecord) (domain.DuplicateResult, error) {
	from := domain.CivilDate(rec.DueDate).AddDate(0, 0, -duplicateWindowDays)
	to := domain.CivilDate(rec.DueDate).AddDate(0, 0, duplicateWindowDays)

	candidates, err := e.reader.FindRecords(ctx, HistoryQuery{
		FundName:        rec.FundName,
		OwnerScope:      rec.OwnerScope,
		ExcludeStatuses: []domain.CallStatus{domain.StatusRejected},
		DueFrom:         &from,
		DueTo:           &to,
	})
	if err != nil {
		return domain.DuplicateResult{}, &DetectorError{Detector: DetectorDuplicate, Err: err}
	}
	return ScoreDuplicates(rec, candidates), nil
}

// ScoreDuplicates picks the most similar candidate inside the window
// (amount within 5% and due date within 7 days, both inclusive). Equal
// similarities resolve to the lowest candidate ID. The candidate is a
// duplicate only when its similarity is strictly above 0.9.
func ScoreDuplicates(target *domain.CapitalCallRecord, candidates []domain.CapitalCallRecord) domain.DuplicateResult {
	if !target.AmountDue.IsPositive() {
		return domain.DuplicateResult{Reason: "amount is not positive; duplicate check skipped"}
	}

	maxDelta := target.AmountDue.Mul(duplicateAmountTolerance)

	var (
		best      *domain.CapitalCallRecord
		bestSim   float64
		bestDelta decimal.Decimal
		bestDays  int
	)
	for i := range candidates {
		c := &candidates[i]
		if c.ID == target.ID || c.Status == domain.StatusRejected {
			continue
		}

		delta := c.AmountDue.Sub(target.AmountDue).Abs()
		if delta.GreaterThan(maxDelta) {
			continue
		}
		days := domain.DaysBetween(c.DueDate, target.DueDate)
		if days > duplicateWindowDays {
			continue
		}

		sim := duplicateSimilarity(delta, target.AmountDue, days)
		if best == nil || sim > bestSim || (sim == bestSim && c.ID < best.ID) {
			best, bestSim, bestDelta, bestDays = c, sim, delta, days
		}
	}

	if best == nil {
		return domain.DuplicateResult{Reason: "no capital calls with a similar amount and due date"}
	}
	if !exceedsDuplicateThreshold(bestSim) {
		return domain.DuplicateResult{
			Similarity: bestSim,
			Reason: fmt.Sprintf("closest call %s has similarity %.2f, below the %.2f threshold",
				best.ID, bestSim, duplicateThreshold),
		}
	}

	id := best.ID
	return domain.DuplicateResult{
		IsDuplicate:     true,
		MatchedRecordID: &id,
		Similarity:      bestSim,
		Reason: fmt.Sprintf("possible duplicate of call %s: amount differs by %s, due date differs by %d days",
			best.ID, bestDelta.StringFixed(2), bestDays),
	}
}

func duplicateSimilarity(delta, targetAmount decimal.Decimal, days int) float64 {
	amountSim := 1 - delta.Div(targetAmount).InexactFloat64()
	dateSim := 1 - float64(days)/duplicateWindowDays
	return domain.Clamp01((amountSim + dateSim) / 2)
}

func exceedsDuplicateThreshold(sim float64) bool {
	return sim > duplicateThreshold
}
