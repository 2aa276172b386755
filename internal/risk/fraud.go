package risk

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/capcall/riskengine/internal/domain"
)

const (
	fraudHistoryLimit  = 5
	manualReviewScore  = 50
	verificationScore  = 25
	minAccountLength   = 8
	maxAccountLength   = 17
	routingNumberDigit = 9
)

var (
	urgencyPattern = regexp.MustCompile(`(?i)\b(urgent|urgently|immediately|asap|rush|time[- ]sensitive)\b`)
	routingPattern = regexp.MustCompile(`^[0-9]{9}$`)
	accountPattern = regexp.MustCompile(`^[0-9-]+$`)
)

// FraudInput is the payment-routing metadata of one capital call. Nil or
// blank fields are absent and skip every rule that reads them.
type FraudInput struct {
	FundName      string
	BankName      *string
	AccountNumber *string
	RoutingNumber *string
	WireReference *string
}

func FraudInputFrom(rec *domain.CapitalCallRecord) FraudInput {
	return FraudInput{
		FundName:      rec.FundName,
		BankName:      present(rec.BankName),
		AccountNumber: present(rec.AccountNumber),
		RoutingNumber: present(rec.RoutingNumber),
		WireReference: present(rec.WireReference),
	}
}

// KnownGood holds the bank names and account numbers seen on recent approved
// or paid calls for a fund. It is built per invocation, never cached.
type KnownGood struct {
	BankNames      map[string]struct{}
	AccountNumbers map[string]struct{}
}

// NewKnownGood derives the known-good sets from history.
func NewKnownGood(history []domain.CapitalCallRecord) KnownGood {
	kg := KnownGood{
		BankNames:      make(map[string]struct{}),
		AccountNumbers: make(map[string]struct{}),
	}
	for _, h := range history {
		if b := present(h.BankName); b != nil {
			kg.BankNames[normalizeBank(*b)] = struct{}{}
		}
		if a := present(h.AccountNumber); a != nil {
			kg.AccountNumbers[*a] = struct{}{}
		}
	}
	return kg
}

// FraudRule is one independent check. Check reports whether the rule fired,
// with the indicator text and an optional recommendation.
type FraudRule struct {
	Name   string
	Points int
	Check  func(in FraudInput, kg KnownGood) (indicator, recommendation string, hit bool)
}

// DefaultFraudRules returns the standard rule set in evaluation order.
func DefaultFraudRules() []FraudRule {
	return []FraudRule{
		{Name: "bank_name_changed", Points: 30, Check: checkBankChanged},
		{Name: "account_number_changed", Points: 35, Check: checkAccountChanged},
		{Name: "urgent_wire_reference", Points: 25, Check: checkUrgency},
		{Name: "non_ascii_wire_reference", Points: 15, Check: checkNonASCII},
		{Name: "account_number_length", Points: 10, Check: checkAccountLength},
		{Name: "account_number_format", Points: 10, Check: checkAccountFormat},
		{Name: "routing_number_format", Points: 20, Check: checkRoutingFormat},
		{Name: "routing_number_checksum", Points: 25, Check: checkRoutingChecksum},
	}
}

// DetectFraudIndicators compares the call's routing metadata with the five
// most recent approved or paid calls across the whole fund.
func (e *Engine) DetectFraudIndicators(ctx context.Context, rec *domain.CapitalCallRecord) (domain.FraudResult, error) {
	history, err := e.reader.FindRecords(ctx, HistoryQuery{
		FundName:  rec.FundName,
		AllScopes: true,
		Statuses:  settledStatuses,
		Limit:     fraudHistoryLimit,
	})
	if err != nil {
		return domain.FraudResult{}, &DetectorError{Detector: DetectorFraud, Err: err}
	}

	known := make([]domain.CapitalCallRecord, 0, len(history))
	for _, h := range history {
		if h.ID != rec.ID {
			known = append(known, h)
		}
	}
	return ScanFraud(e.rules, FraudInputFrom(rec), NewKnownGood(known)), nil
}

// ScanFraud sums the points of every rule that fires. Scores compound
// without a cap.
func ScanFraud(rules []FraudRule, in FraudInput, kg KnownGood) domain.FraudResult {
	res := domain.FraudResult{
		Indicators:      []string{},
		Recommendations: []string{},
	}
	for _, rule := range rules {
		indicator, rec, hit := rule.Check(in, kg)
		if !hit {
			continue
		}
		res.RiskScore += rule.Points
		res.Indicators = append(res.Indicators, indicator)
		if rec != "" {
			res.Recommendations = append(res.Recommendations, rec)
		}
	}

	res.RequiresManualReview = res.RiskScore >= manualReviewScore
	switch {
	case res.RiskScore >= manualReviewScore:
		res.Recommendations = append(res.Recommendations,
			"Do not process without independent verification: contact the fund administrator via a known phone number")
	case res.RiskScore >= verificationScore:
		res.Recommendations = append(res.Recommendations,
			"Require additional verification before processing")
	}
	return res
}

// ValidRoutingChecksum applies the ABA weighted checksum to a 9-digit
// routing number.
func ValidRoutingChecksum(routing string) bool {
	if !routingPattern.MatchString(routing) {
		return false
	}
	d := make([]int, routingNumberDigit)
	for i := 0; i < routingNumberDigit; i++ {
		d[i] = int(routing[i] - '0')
	}
	sum := 3*(d[0]+d[3]+d[6]) + 7*(d[1]+d[4]+d[7]) + (d[2] + d[5] + d[8])
	return sum%10 == 0
}

func checkBankChanged(in FraudInput, kg KnownGood) (string, string, bool) {
	if in.BankName == nil || len(kg.BankNames) == 0 {
		return "", "", false
	}
	if _, ok := kg.BankNames[normalizeBank(*in.BankName)]; ok {
		return "", "", false
	}
	return fmt.Sprintf("bank name %q differs from banks used on recent calls", *in.BankName),
		"Confirm the bank change with the fund administrator through a previously known contact", true
}

func checkAccountChanged(in FraudInput, kg KnownGood) (string, string, bool) {
	if in.AccountNumber == nil || len(kg.AccountNumbers) == 0 {
		return "", "", false
	}
	if _, ok := kg.AccountNumbers[*in.AccountNumber]; ok {
		return "", "", false
	}
	return fmt.Sprintf("account number %s not used on recent calls", maskAccount(*in.AccountNumber)),
		"Verify the new account details by independent callback", true
}

func checkUrgency(in FraudInput, _ KnownGood) (string, string, bool) {
	if in.WireReference == nil {
		return "", "", false
	}
	m := urgencyPattern.FindString(*in.WireReference)
	if m == "" {
		return "", "", false
	}
	return fmt.Sprintf("wire reference contains urgency language (%q)", m),
		"Treat pressure to pay quickly as a social engineering signal", true
}

func checkNonASCII(in FraudInput, _ KnownGood) (string, string, bool) {
	if in.WireReference == nil {
		return "", "", false
	}
	for _, r := range *in.WireReference {
		if r > unicode.MaxASCII {
			return "wire reference contains non-ASCII characters", "", true
		}
	}
	return "", "", false
}

func checkAccountLength(in FraudInput, _ KnownGood) (string, string, bool) {
	if in.AccountNumber == nil {
		return "", "", false
	}
	n := utf8.RuneCountInString(*in.AccountNumber)
	if n >= minAccountLength && n <= maxAccountLength {
		return "", "", false
	}
	return fmt.Sprintf("account number length %d outside %d-%d", n, minAccountLength, maxAccountLength), "", true
}

func checkAccountFormat(in FraudInput, _ KnownGood) (string, string, bool) {
	if in.AccountNumber == nil || accountPattern.MatchString(*in.AccountNumber) {
		return "", "", false
	}
	return "account number contains characters other than digits and hyphens", "", true
}

func checkRoutingFormat(in FraudInput, _ KnownGood) (string, string, bool) {
	if in.RoutingNumber == nil || routingPattern.MatchString(*in.RoutingNumber) {
		return "", "", false
	}
	return fmt.Sprintf("routing number %q is not exactly 9 digits", *in.RoutingNumber),
		"Obtain the correct routing number from the bank directly", true
}

// checkRoutingChecksum only runs on well-formed numbers; malformed ones are
// already scored by checkRoutingFormat.
func checkRoutingChecksum(in FraudInput, _ KnownGood) (string, string, bool) {
	if in.RoutingNumber == nil || !routingPattern.MatchString(*in.RoutingNumber) {
		return "", "", false
	}
	if ValidRoutingChecksum(*in.RoutingNumber) {
		return "", "", false
	}
	return fmt.Sprintf("routing number %s fails the ABA checksum", *in.RoutingNumber),
		"Obtain the correct routing number from the bank directly", true
}

// normalizeBank folds case and whitespace. Casers are stateful, so one is
// made per call.
func normalizeBank(s string) string {
	return strings.Join(strings.Fields(cases.Fold().String(norm.NFC.String(s))), " ")
}

func maskAccount(acct string) string {
	r := []rune(acct)
	if len(r) <= 4 {
		return "****"
	}
	return "****" + string(r[len(r)-4:])
}

func present(s *string) *string {
	if s == nil {
		return nil
	}
	t := strings.TrimSpace(*s)
	if t == "" {
		return nil
	}
	return &t
}
