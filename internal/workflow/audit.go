package workflow

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"

	"github.com/capcall/riskengine/internal/domain"
)

// payloadHash fingerprints an assessment result. The JSON is canonicalised
// first so the hash depends only on the values, never on field order or
// number formatting.
func payloadHash(res *domain.AggregateRiskResult) (string, error) {
	raw, err := json.Marshal(res)
	if err != nil {
		return "", fmt.Errorf("marshal assessment: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("canonicalise assessment: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}
