package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/capcall/riskengine/internal/domain"
)

// AssessmentRepo stores the audit payload of the latest risk assessment per
// capital call.
type AssessmentRepo struct {
	db *sql.DB
}

func NewAssessmentRepo(db *sql.DB) *AssessmentRepo {
	return &AssessmentRepo{db: db}
}

// Save writes the assessment, replacing any earlier one for the same call.
// When the assessment should be flagged, a pending call moves to flagged in
// the same transaction. It reports whether the call's status changed.
func (r *AssessmentRepo) Save(ctx context.Context, a *domain.RiskAssessment) (bool, error) {
	detail, err := json.Marshal(a.Detail)
	if err != nil {
		return false, fmt.Errorf("marshal assessment detail: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO risk_assessments
		(id, capital_call_id, overall_risk, should_flag, detail, payload_hash, assessed_at)
		VALUES (?,?,?,?,?,?,?)
		ON CONFLICT(capital_call_id) DO UPDATE SET
			overall_risk = excluded.overall_risk,
			should_flag = excluded.should_flag,
			detail = excluded.detail,
			payload_hash = excluded.payload_hash,
			assessed_at = excluded.assessed_at`,
		a.ID, a.CapitalCallID, string(a.OverallRisk), boolToInt(a.ShouldFlag),
		string(detail), a.PayloadHash, a.AssessedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return false, fmt.Errorf("upsert assessment: %w", err)
	}

	flagged := false
	if a.ShouldFlag {
		flagged, err = transitionStatus(ctx, tx, a.CapitalCallID, domain.StatusFlagged, domain.StatusPending)
		if err != nil {
			return false, err
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}
	return flagged, nil
}

func (r *AssessmentRepo) GetByCapitalCallID(ctx context.Context, callID string) (*domain.RiskAssessment, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, capital_call_id, overall_risk, should_flag, detail, payload_hash, assessed_at
		FROM risk_assessments WHERE capital_call_id = ?`, callID)
	a, err := scanAssessment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return a, err
}

type AssessmentFilter struct {
	OverallRisk string
	FlaggedOnly bool
	Page        int
	Limit       int
}

func (r *AssessmentRepo) List(ctx context.Context, f AssessmentFilter) ([]domain.RiskAssessment, int, error) {
	var clauses []string
	var args []any
	if f.OverallRisk != "" {
		clauses = append(clauses, "overall_risk = ?")
		args = append(args, f.OverallRisk)
	}
	if f.FlaggedOnly {
		clauses = append(clauses, "should_flag = 1")
	}
	where := ""
	if len(clauses) > 0 {
		where = " WHERE " + strings.Join(clauses, " AND ")
	}

	var total int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM risk_assessments"+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	if f.Limit <= 0 {
		f.Limit = 50
	}
	if f.Page <= 0 {
		f.Page = 1
	}
	args = append(args, f.Limit, (f.Page-1)*f.Limit)

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, capital_call_id, overall_risk, should_flag, detail, payload_hash, assessed_at
		FROM risk_assessments`+where+` ORDER BY assessed_at DESC, id ASC LIMIT ? OFFSET ?`, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []domain.RiskAssessment
	for rows.Next() {
		a, err := scanAssessment(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *a)
	}
	return out, total, rows.Err()
}

type AssessmentSummary struct {
	TotalCount int            `json:"total_count"`
	Flagged    int            `json:"flagged"`
	ByRisk     map[string]int `json:"by_risk"`
}

func (r *AssessmentRepo) GetSummary(ctx context.Context) (*AssessmentSummary, error) {
	s := &AssessmentSummary{ByRisk: make(map[string]int)}

	if err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*), COALESCE(SUM(should_flag), 0) FROM risk_assessments",
	).Scan(&s.TotalCount, &s.Flagged); err != nil {
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx,
		"SELECT overall_risk, COUNT(*) FROM risk_assessments GROUP BY overall_risk")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var k string
		var v int
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		s.ByRisk[k] = v
	}
	return s, rows.Err()
}

func scanAssessment(row rowScanner) (*domain.RiskAssessment, error) {
	var a domain.RiskAssessment
	var risk, detail, assessedAt string
	var flag int

	if err := row.Scan(&a.ID, &a.CapitalCallID, &risk, &flag, &detail, &a.PayloadHash, &assessedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(detail), &a.Detail); err != nil {
		return nil, fmt.Errorf("assessment %s detail: %w", a.ID, err)
	}
	a.OverallRisk = domain.RiskLevel(risk)
	a.ShouldFlag = flag != 0
	t, err := time.Parse(time.RFC3339, assessedAt)
	if err != nil {
		return nil, fmt.Errorf("assessment %s assessed_at %q: %w", a.ID, assessedAt, err)
	}
	a.AssessedAt = t
	return &a, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
