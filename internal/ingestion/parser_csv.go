package ingestion

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/capcall/riskengine/internal/domain"
)

// ParseBankCSV parses a comma-separated bank statement.
//
// Expected header:
//
//	payment_date,amount,reference
//
// The reference column may be empty. Columns are located by header name so
// extra columns are ignored.
func ParseBankCSV(data []byte, statementID string) ([]domain.Payment, error) {
	return parseDelimited(data, ',', statementID, "payment_date", "amount", "reference")
}

func parseDelimited(data []byte, comma rune, statementID, dateCol, amountCol, refCol string) ([]domain.Payment, error) {
	reader := csv.NewReader(strings.NewReader(string(data)))
	reader.Comma = comma
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[strings.ToLower(strings.TrimSpace(h))] = i
	}
	amountAt, ok := idx[amountCol]
	if !ok {
		return nil, fmt.Errorf("missing %s column", amountCol)
	}
	dateAt, hasDate := idx[dateCol]
	refAt, hasRef := idx[refCol]

	field := func(row []string, i int, present bool) string {
		if !present || i >= len(row) {
			return ""
		}
		return row[i]
	}

	var payments []domain.Payment
	lineNum := 1

	for {
		lineNum++
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNum, err)
		}
		if len(row) == 1 && strings.TrimSpace(row[0]) == "" {
			continue
		}

		amount, err := parseAmount(field(row, amountAt, true))
		if err != nil {
			return nil, fmt.Errorf("line %d amount: %w", lineNum, err)
		}
		date, err := parseDate(field(row, dateAt, hasDate))
		if err != nil {
			return nil, fmt.Errorf("line %d date: %w", lineNum, err)
		}

		payments = append(payments, domain.Payment{
			ID:        paymentID(statementID, lineNum),
			Amount:    amount,
			Date:      date,
			Reference: optional(field(row, refAt, hasRef)),
		})
	}

	return payments, nil
}
