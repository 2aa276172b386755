package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Severity string

const (
	SeverityNone   Severity = "NONE"
	SeverityLow    Severity = "LOW"
	SeverityMedium Severity = "MEDIUM"
	SeverityHigh   Severity = "HIGH"
)

type RiskLevel string

const (
	RiskLow    RiskLevel = "LOW"
	RiskMedium RiskLevel = "MEDIUM"
	RiskHigh   RiskLevel = "HIGH"
)

type AnomalyResult struct {
	IsAnomaly          bool            `json:"is_anomaly"`
	Severity           Severity        `json:"severity"`
	Reason             string          `json:"reason"`
	HistoricalAverage  decimal.Decimal `json:"historical_average"`
	StandardDeviations float64         `json:"standard_deviations"`
	Recommendation     string          `json:"recommendation"`
}

type DuplicateResult struct {
	IsDuplicate     bool    `json:"is_duplicate"`
	MatchedRecordID *string `json:"matched_record_id,omitempty"`
	Similarity      float64 `json:"similarity"`
	Reason          string  `json:"reason"`
}

type FraudResult struct {
	RiskScore            int      `json:"risk_score"`
	Indicators           []string `json:"indicators"`
	RequiresManualReview bool     `json:"requires_manual_review"`
	Recommendations      []string `json:"recommendations"`
}

// AggregateRiskResult bundles the three detector outputs. A nil detector
// result means that detector failed; Failures then names it.
type AggregateRiskResult struct {
	AmountAnomaly *AnomalyResult    `json:"amount_anomaly"`
	Duplicate     *DuplicateResult  `json:"duplicate"`
	Fraud         *FraudResult      `json:"fraud"`
	OverallRisk   RiskLevel         `json:"overall_risk"`
	ShouldFlag    bool              `json:"should_flag"`
	Failures      map[string]string `json:"failures,omitempty"`
}

// Complete reports whether all three detectors produced a result.
func (r *AggregateRiskResult) Complete() bool {
	return r.AmountAnomaly != nil && r.Duplicate != nil && r.Fraud != nil
}

// RiskAssessment is the persisted audit payload for one capital call.
type RiskAssessment struct {
	ID            string              `json:"id"`
	CapitalCallID string              `json:"capital_call_id"`
	OverallRisk   RiskLevel           `json:"overall_risk"`
	ShouldFlag    bool                `json:"should_flag"`
	Detail        AggregateRiskResult `json:"detail"`
	// PayloadHash is the SHA-256 of the canonical (RFC 8785) JSON of Detail.
	PayloadHash string    `json:"payload_hash"`
	AssessedAt  time.Time `json:"assessed_at"`
}
