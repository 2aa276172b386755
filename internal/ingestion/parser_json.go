package ingestion

import (
	"encoding/json"
	"fmt"

	"github.com/capcall/riskengine/internal/domain"
)

// bankStatementFile is the top-level JSON structure of a bank statement.
type bankStatementFile struct {
	StatementID string             `json:"statement_id"`
	Payments    []bankPaymentEntry `json:"payments"`
}

// Amounts are strings so they parse exactly.
type bankPaymentEntry struct {
	Amount    json.Number `json:"amount"`
	Date      string      `json:"date"`
	Reference string      `json:"reference"`
}

// ParseBankJSON parses a JSON bank statement. It returns the statement ID
// named in the file, if any.
func ParseBankJSON(data []byte, statementID string) ([]domain.Payment, string, error) {
	if err := validateStatement(data); err != nil {
		return nil, "", err
	}

	var file bankStatementFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, "", fmt.Errorf("unmarshal: %w", err)
	}

	payments := make([]domain.Payment, 0, len(file.Payments))
	for i, entry := range file.Payments {
		amount, err := parseAmount(entry.Amount.String())
		if err != nil {
			return nil, "", fmt.Errorf("payment %d amount: %w", i, err)
		}
		date, err := parseDate(entry.Date)
		if err != nil {
			return nil, "", fmt.Errorf("payment %d date: %w", i, err)
		}
		payments = append(payments, domain.Payment{
			ID:        paymentID(statementID, i+1),
			Amount:    amount,
			Date:      date,
			Reference: optional(entry.Reference),
		})
	}

	return payments, file.StatementID, nil
}
