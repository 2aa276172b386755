package risk

import (
	"context"
	"sync"

	"github.com/capcall/riskengine/internal/domain"
)

// CheckAllAnomalies runs the three detectors concurrently and combines them.
// A failing detector does not discard the others: the returned result always
// carries whatever completed, and the error is an *AggregateError naming the
// detectors that failed. Callers must not act on an incomplete result.
func (e *Engine) CheckAllAnomalies(ctx context.Context, rec *domain.CapitalCallRecord) (*domain.AggregateRiskResult, error) {
	var (
		wg        sync.WaitGroup
		anomaly   domain.AnomalyResult
		duplicate domain.DuplicateResult
		fraud     domain.FraudResult
		errs      [3]error
	)

	wg.Add(3)
	go func() {
		defer wg.Done()
		anomaly, errs[0] = e.DetectAmountAnomaly(ctx, rec)
	}()
	go func() {
		defer wg.Done()
		duplicate, errs[1] = e.DetectDuplicate(ctx, rec)
	}()
	go func() {
		defer wg.Done()
		fraud, errs[2] = e.DetectFraudIndicators(ctx, rec)
	}()
	wg.Wait()

	var (
		ap *domain.AnomalyResult
		dp *domain.DuplicateResult
		fp *domain.FraudResult
	)
	if errs[0] == nil {
		ap = &anomaly
	}
	if errs[1] == nil {
		dp = &duplicate
	}
	if errs[2] == nil {
		fp = &fraud
	}
	res := Aggregate(ap, dp, fp)

	var failed []*DetectorError
	for i, err := range errs {
		if err == nil {
			continue
		}
		de, ok := err.(*DetectorError)
		if !ok {
			de = &DetectorError{Detector: detectorNames[i], Err: err}
		}
		failed = append(failed, de)
	}
	if len(failed) == 0 {
		return res, nil
	}

	res.Failures = make(map[string]string, len(failed))
	for _, de := range failed {
		res.Failures[de.Detector] = de.Err.Error()
	}
	return res, &AggregateError{Errs: failed}
}

var detectorNames = [3]string{DetectorAmount, DetectorDuplicate, DetectorFraud}

// Aggregate maps detector results to a risk tier. Nil results are ignored.
func Aggregate(anomaly *domain.AnomalyResult, duplicate *domain.DuplicateResult, fraud *domain.FraudResult) *domain.AggregateRiskResult {
	res := &domain.AggregateRiskResult{
		AmountAnomaly: anomaly,
		Duplicate:     duplicate,
		Fraud:         fraud,
		OverallRisk:   domain.RiskLow,
	}

	switch {
	case fraud != nil && fraud.RequiresManualReview,
		anomaly != nil && anomaly.Severity == domain.SeverityHigh,
		duplicate != nil && duplicate.IsDuplicate:
		res.OverallRisk = domain.RiskHigh
	case fraud != nil && fraud.RiskScore >= verificationScore,
		anomaly != nil && anomaly.Severity == domain.SeverityMedium:
		res.OverallRisk = domain.RiskMedium
	}

	res.ShouldFlag = res.OverallRisk == domain.RiskMedium || res.OverallRisk == domain.RiskHigh
	return res
}
