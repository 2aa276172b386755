package risk

import (
	"context"
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"github.com/capcall/riskengine/internal/domain"
)

const (
	anomalyHistoryLimit = 20
	minAnomalyHistory   = 3

	highZScore   = 3.0
	mediumZScore = 2.0
)

// DetectAmountAnomaly compares the call amount with the last approved or paid
// calls for the same fund and owner scope.
func (e *Engine) DetectAmountAnomaly(ctx context.Context, rec *domain.CapitalCallRecord) (domain.AnomalyResult, error) {
	history, err := e.reader.FindRecords(ctx, HistoryQuery{
		FundName:   rec.FundName,
		OwnerScope: rec.OwnerScope,
		Statuses:   settledStatuses,
		Limit:      anomalyHistoryLimit,
	})
	if err != nil {
		return domain.AnomalyResult{}, &DetectorError{Detector: DetectorAmount, Err: err}
	}

	amounts := make([]decimal.Decimal, 0, len(history))
	for _, h := range history {
		if h.ID == rec.ID {
			continue
		}
		amounts = append(amounts, h.AmountDue)
	}
	return AnalyzeAmounts(rec.AmountDue, amounts), nil
}

// AnalyzeAmounts scores amount against the population mean and standard
// deviation of history. Fewer than three historical amounts is a low
// information outcome, not an error.
func AnalyzeAmounts(amount decimal.Decimal, history []decimal.Decimal) domain.AnomalyResult {
	if len(history) < minAnomalyHistory {
		return domain.AnomalyResult{
			IsAnomaly:         false,
			Severity:          domain.SeverityLow,
			Reason:            fmt.Sprintf("insufficient data: %d historical calls, %d required", len(history), minAnomalyHistory),
			HistoricalAverage: decimal.Zero,
			Recommendation:    "Review the amount manually until more payment history is available",
		}
	}

	mean, stdDev := meanStdDev(history)

	z := 0.0
	if stdDev > 0 {
		z = amount.Sub(mean).InexactFloat64() / stdDev
	}
	absZ := math.Abs(z)

	avg := mean.StringFixed(2)
	direction := "above"
	if z < 0 {
		direction = "below"
	}

	res := domain.AnomalyResult{
		HistoricalAverage:  mean,
		StandardDeviations: absZ,
	}
	switch {
	case absZ > highZScore:
		res.IsAnomaly = true
		res.Severity = domain.SeverityHigh
		res.Reason = fmt.Sprintf("Amount %s is %.1f standard deviations %s the historical average of %s",
			amount.StringFixed(2), absZ, direction, avg)
		res.Recommendation = fmt.Sprintf("Hold for review: confirm the amount with the fund administrator (%.1f standard deviations from average %s)",
			absZ, avg)
	case absZ > mediumZScore:
		res.IsAnomaly = true
		res.Severity = domain.SeverityMedium
		res.Reason = fmt.Sprintf("Amount %s is %.1f standard deviations %s the historical average of %s",
			amount.StringFixed(2), absZ, direction, avg)
		res.Recommendation = fmt.Sprintf("Verify the amount against the fund notice (%.1f standard deviations from average %s)",
			absZ, avg)
	default:
		res.Severity = domain.SeverityNone
		res.Reason = fmt.Sprintf("Amount within normal range of the historical average of %s (%.1f standard deviations)",
			avg, absZ)
		res.Recommendation = fmt.Sprintf("No action required: amount is consistent with average %s (%.1f standard deviations)",
			avg, absZ)
	}
	return res
}

// meanStdDev returns the exact mean and the population standard deviation.
// The square root is the only step done in floating point.
func meanStdDev(values []decimal.Decimal) (decimal.Decimal, float64) {
	n := decimal.NewFromInt(int64(len(values)))

	sum := decimal.Zero
	for _, v := range values {
		sum = sum.Add(v)
	}
	mean := sum.Div(n)

	sq := decimal.Zero
	for _, v := range values {
		d := v.Sub(mean)
		sq = sq.Add(d.Mul(d))
	}
	variance := sq.Div(n)

	return mean, math.Sqrt(variance.InexactFloat64())
}
