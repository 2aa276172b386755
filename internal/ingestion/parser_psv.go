package ingestion

import "github.com/capcall/riskengine/internal/domain"

// ParseBankPSV parses the pipe-delimited export some custodian banks send.
//
// Expected header:
//
//	VALUE_DATE|AMOUNT|CURRENCY|REMITTANCE_INFO
//
// The currency column is informational; fund amounts share one currency.
func ParseBankPSV(data []byte, statementID string) ([]domain.Payment, error) {
	return parseDelimited(data, '|', statementID, "value_date", "amount", "remittance_info")
}
