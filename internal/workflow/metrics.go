package workflow

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/capcall/riskengine/internal/domain"
)

// instruments are taken from the global meter provider; without an
// installed provider they are no-ops.
type instruments struct {
	assessments metric.Int64Counter
	flagged     metric.Int64Counter
	matched     metric.Int64Counter
	unmatched   metric.Int64Counter
}

func newInstruments() (*instruments, error) {
	meter := otel.Meter("github.com/capcall/riskengine/workflow")

	var (
		ins instruments
		err error
	)
	if ins.assessments, err = meter.Int64Counter("capcall.assessments.total",
		metric.WithDescription("Risk assessments completed"),
		metric.WithUnit("{assessment}")); err != nil {
		return nil, err
	}
	if ins.flagged, err = meter.Int64Counter("capcall.assessments.flagged",
		metric.WithDescription("Capital calls moved to flagged"),
		metric.WithUnit("{call}")); err != nil {
		return nil, err
	}
	if ins.matched, err = meter.Int64Counter("capcall.payments.matched",
		metric.WithDescription("Payments reconciled to a capital call"),
		metric.WithUnit("{payment}")); err != nil {
		return nil, err
	}
	if ins.unmatched, err = meter.Int64Counter("capcall.payments.unmatched",
		metric.WithDescription("Payments left for manual resolution"),
		metric.WithUnit("{payment}")); err != nil {
		return nil, err
	}
	return &ins, nil
}

func (i *instruments) recordAssessment(ctx context.Context, risk domain.RiskLevel) {
	i.assessments.Add(ctx, 1, metric.WithAttributes(attribute.String("overall_risk", string(risk))))
}
