// Package ingestion imports bank statements as payments and hands them to
// reconciliation.
package ingestion

import (
	"context"
	"crypto/sha256"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/capcall/riskengine/internal/domain"
	"github.com/capcall/riskengine/internal/repository"
	"github.com/capcall/riskengine/internal/workflow"
)

const (
	FormatCSV  = "csv_bank"
	FormatJSON = "json_bank"
	FormatPSV  = "psv_bank"
)

// Reconciler matches stored payments against outstanding capital calls.
type Reconciler interface {
	ReconcilePayments(ctx context.Context, payments []domain.Payment) (*workflow.ReconcileResult, error)
}

// ImportResult is returned from a successful import.
type ImportResult struct {
	StatementID       string `json:"statement_id"`
	PaymentsImported  int    `json:"payments_imported"`
	DuplicatesSkipped int    `json:"duplicates_skipped"`
	Matched           int    `json:"matched"`
	Unmatched         int    `json:"unmatched"`
	AlreadyIngested   bool   `json:"already_ingested,omitempty"`
}

// Service handles bank statement imports.
type Service struct {
	payments   *repository.PaymentRepo
	reconciler Reconciler
	log        zerolog.Logger
	now        func() time.Time
}

func NewService(payments *repository.PaymentRepo, reconciler Reconciler, log zerolog.Logger) *Service {
	return &Service{
		payments:   payments,
		reconciler: reconciler,
		log:        log.With().Str("component", "ingestion").Logger(),
		now:        time.Now,
	}
}

// Import parses a statement file, stores its payments and reconciles them.
// A file whose SHA-256 hash was seen before is not imported again.
//
// format must be one of: csv_bank, json_bank, psv_bank
func (s *Service) Import(ctx context.Context, data []byte, format string) (*ImportResult, error) {
	hash := fmt.Sprintf("%x", sha256.Sum256(data))
	exists, err := s.payments.StatementExistsByHash(ctx, hash)
	if err != nil {
		return nil, fmt.Errorf("check hash: %w", err)
	}
	if exists {
		s.log.Info().Str("file_hash", hash).Msg("Statement already ingested")
		return &ImportResult{AlreadyIngested: true}, nil
	}

	statementID := "STMT-" + uuid.NewString()

	var payments []domain.Payment
	switch format {
	case FormatCSV:
		payments, err = ParseBankCSV(data, statementID)
	case FormatPSV:
		payments, err = ParseBankPSV(data, statementID)
	case FormatJSON:
		var bankRef string
		payments, bankRef, err = ParseBankJSON(data, statementID)
		if err == nil && bankRef != "" {
			s.log.Debug().Str("statement_id", statementID).Str("bank_statement_id", bankRef).Msg("Bank statement reference")
		}
	default:
		return nil, fmt.Errorf("unsupported format: %s", format)
	}
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", format, err)
	}

	stmt := &repository.PaymentStatement{
		ID:           statementID,
		Format:       format,
		FileHash:     hash,
		PaymentCount: len(payments),
		IngestedAt:   s.now().UTC(),
	}
	inserted, err := s.payments.InsertStatementWithPayments(ctx, stmt, payments)
	if err != nil {
		return nil, fmt.Errorf("store statement: %w", err)
	}

	s.log.Info().
		Str("statement_id", statementID).
		Str("format", format).
		Int("payments", len(payments)).
		Int("inserted", inserted).
		Msg("Statement ingested")

	res := &ImportResult{
		StatementID:       statementID,
		PaymentsImported:  inserted,
		DuplicatesSkipped: len(payments) - inserted,
	}

	// A failed reconciliation does not undo the import; the payments are
	// stored and the next reconcile run picks them up.
	recon, err := s.reconciler.ReconcilePayments(ctx, payments)
	if err != nil {
		s.log.Warn().Err(err).Str("statement_id", statementID).Msg("Reconciliation failed")
		return res, nil
	}
	res.Matched = len(recon.Matched)
	res.Unmatched = len(recon.Unmatched)
	return res, nil
}
