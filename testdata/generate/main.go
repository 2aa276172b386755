package main

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/capcall/riskengine/internal/domain"
)

type fund struct {
	name    string
	code    string
	bank    string
	account string
	routing string
	base    int64
}

var funds = []fund{
	{"Evergreen Growth Fund III", "EGF3", "Harbor National Bank", "987654321012", "021000021", 250000},
	{"Northwind Credit Opportunities", "NCO1", "Lakeshore Trust Company", "4455667788", "011000015", 125000},
	{"Summit Infrastructure Partners II", "SIP2", "Meridian Bank", "30012345678", "026009593", 500000},
}

var investors = []string{"investor-07", "investor-19", "investor-42", "investor-58"}

func main() {
	rng := rand.New(rand.NewSource(42))
	baseDir := findTestdataDir()

	var calls []domain.CapitalCallRecord
	var outstanding []domain.CapitalCallRecord

	start := time.Date(2023, 1, 15, 0, 0, 0, 0, time.UTC)

	for _, f := range funds {
		for _, inv := range investors {
			// Eight settled quarterly calls per investor, +/-8% around the base.
			for q := 0; q < 8; q++ {
				due := start.AddDate(0, 3*q, rng.Intn(5))
				calls = append(calls, newCall(rng, f, inv, due, q+1, domain.StatusPaid))
			}
			// Two open calls awaiting payment.
			for q := 8; q < 10; q++ {
				due := start.AddDate(0, 3*q, rng.Intn(5))
				status := domain.StatusApproved
				if q == 9 {
					status = domain.StatusPending
				}
				c := newCall(rng, f, inv, due, q+1, status)
				calls = append(calls, c)
				outstanding = append(outstanding, c)
			}
		}
	}

	writeJSONFile(filepath.Join(baseDir, "capital_calls.json"), calls)
	fmt.Printf("Generated %d capital calls (%d outstanding) -> capital_calls.json\n", len(calls), len(outstanding))

	generateBankCSV(rng, outstanding, baseDir)
	generateBankJSON(rng, outstanding, baseDir)
	generateBankPSV(rng, outstanding, baseDir)
}

func newCall(rng *rand.Rand, f fund, investor string, due time.Time, seq int, status domain.CallStatus) domain.CapitalCallRecord {
	pct := decimal.NewFromInt(int64(92 + rng.Intn(17))).Div(decimal.NewFromInt(100))
	amount := decimal.NewFromInt(f.base).Mul(pct).Round(2)
	ref := fmt.Sprintf("%s-CALL-%02d-%s", f.code, seq, strings.ToUpper(strings.TrimPrefix(investor, "investor-")))
	return domain.CapitalCallRecord{
		ID:            fmt.Sprintf("CC-%s-%s-%02d", f.code, strings.TrimPrefix(investor, "investor-"), seq),
		FundName:      f.name,
		OwnerScope:    investor,
		AmountDue:     amount,
		DueDate:       due,
		BankName:      strPtr(f.bank),
		AccountNumber: strPtr(f.account),
		RoutingNumber: strPtr(f.routing),
		WireReference: strPtr(ref),
		Status:        status,
		CreatedAt:     due.AddDate(0, 0, -21),
	}
}

// paymentFor derives a bank line for c. Roughly one in ten is missing and
// some carry the noise real statements have: amount shortfalls, late value
// dates and retyped references.
func paymentFor(rng *rand.Rand, c domain.CapitalCallRecord) (amount decimal.Decimal, date time.Time, ref string, ok bool) {
	roll := rng.Float64()
	if roll > 0.9 {
		return decimal.Zero, time.Time{}, "", false
	}

	amount = c.AmountDue
	date = c.DueDate.AddDate(0, 0, rng.Intn(3))
	ref = *c.WireReference

	switch {
	case roll > 0.8:
		// Wire fee deducted by an intermediary bank.
		amount = amount.Sub(decimal.NewFromInt(int64(15 + rng.Intn(30))))
	case roll > 0.7:
		ref = strings.ReplaceAll(ref, "-", " ")
	case roll > 0.65:
		ref = "PAYMENT " + ref + " THANK YOU"
	case roll > 0.6:
		date = date.AddDate(0, 0, 5)
	}
	return amount, date, ref, true
}

func generateBankCSV(rng *rand.Rand, calls []domain.CapitalCallRecord, baseDir string) {
	filePath := filepath.Join(baseDir, "statement_bank.csv")
	f, err := os.Create(filePath)
	if err != nil {
		panic(err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	defer w.Flush()

	w.Write([]string{"payment_date", "amount", "reference"})

	count := 0
	for _, c := range calls {
		if c.FundName != funds[0].name {
			continue
		}
		amount, date, ref, ok := paymentFor(rng, c)
		if !ok {
			continue
		}
		w.Write([]string{date.Format("2006-01-02"), amount.StringFixed(2), ref})
		count++
	}

	// An unrelated credit with no matching call.
	w.Write([]string{"2025-03-03", "1234.56", "INTEREST CREDIT"})
	count++

	fmt.Printf("Generated %d bank CSV lines -> statement_bank.csv\n", count)
}

func generateBankJSON(rng *rand.Rand, calls []domain.CapitalCallRecord, baseDir string) {
	type entry struct {
		Amount    string `json:"amount"`
		Date      string `json:"date"`
		Reference string `json:"reference,omitempty"`
	}
	output := struct {
		StatementID string  `json:"statement_id"`
		Payments    []entry `json:"payments"`
	}{StatementID: "LTC-2025-Q1-0001"}

	for _, c := range calls {
		if c.FundName != funds[1].name {
			continue
		}
		amount, date, ref, ok := paymentFor(rng, c)
		if !ok {
			continue
		}
		// Lakeshore drops the reference on a share of incoming wires.
		if rng.Float64() < 0.15 {
			ref = ""
		}
		output.Payments = append(output.Payments, entry{
			Amount:    amount.StringFixed(2),
			Date:      date.Format("2006-01-02"),
			Reference: ref,
		})
	}

	writeJSONFile(filepath.Join(baseDir, "statement_bank.json"), output)
	fmt.Printf("Generated %d bank JSON payments -> statement_bank.json\n", len(output.Payments))
}

func generateBankPSV(rng *rand.Rand, calls []domain.CapitalCallRecord, baseDir string) {
	filePath := filepath.Join(baseDir, "statement_bank.psv")
	f, err := os.Create(filePath)
	if err != nil {
		panic(err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	w.Comma = '|'
	defer w.Flush()

	w.Write([]string{"VALUE_DATE", "AMOUNT", "CURRENCY", "REMITTANCE_INFO"})

	count := 0
	for _, c := range calls {
		if c.FundName != funds[2].name {
			continue
		}
		amount, date, ref, ok := paymentFor(rng, c)
		if !ok {
			continue
		}
		w.Write([]string{date.Format("2006-01-02"), amount.StringFixed(2), "USD", "/RFB/" + ref})
		count++
	}

	fmt.Printf("Generated %d bank PSV lines -> statement_bank.psv\n", count)
}

func strPtr(s string) *string { return &s }

func writeJSONFile(path string, v any) {
	f, err := os.Create(path)
	if err != nil {
		panic(err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		panic(err)
	}
}

func findTestdataDir() string {
	for _, c := range []string{"testdata", "./testdata"} {
		if info, err := os.Stat(c); err == nil && info.IsDir() {
			return c
		}
	}
	return "."
}
