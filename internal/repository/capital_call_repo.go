package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/capcall/riskengine/internal/domain"
	"github.com/capcall/riskengine/internal/risk"
)

const capitalCallColumns = `id, fund_name, owner_scope, amount_due, due_date, bank_name,
	account_number, routing_number, wire_reference, status, created_at`

type CapitalCallRepo struct {
	db *sql.DB
}

func NewCapitalCallRepo(db *sql.DB) *CapitalCallRepo {
	return &CapitalCallRepo{db: db}
}

var _ risk.HistoryReader = (*CapitalCallRepo)(nil)

func (r *CapitalCallRepo) Insert(ctx context.Context, c *domain.CapitalCallRecord) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO capital_calls (`+capitalCallColumns+`)
		VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		c.ID, c.FundName, c.OwnerScope, c.AmountDue.String(), c.DueDate.Format(dateLayout),
		nullableString(c.BankName), nullableString(c.AccountNumber),
		nullableString(c.RoutingNumber), nullableString(c.WireReference),
		string(c.Status), c.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("insert capital call: %w", err)
	}
	return nil
}

func (r *CapitalCallRepo) Count(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM capital_calls").Scan(&count)
	return count, err
}

func (r *CapitalCallRepo) GetByID(ctx context.Context, id string) (*domain.CapitalCallRecord, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT "+capitalCallColumns+" FROM capital_calls WHERE id = ?", id)
	c, err := scanCapitalCall(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get capital call %s: %w", id, err)
	}
	return c, nil
}

// FindRecords implements risk.HistoryReader. Ties on due date are ordered by
// id so repeated reads return the same rows.
func (r *CapitalCallRepo) FindRecords(ctx context.Context, q risk.HistoryQuery) ([]domain.CapitalCallRecord, error) {
	clauses := []string{"fund_name = ?"}
	args := []any{q.FundName}

	if !q.AllScopes {
		clauses = append(clauses, "owner_scope = ?")
		args = append(args, q.OwnerScope)
	}
	if len(q.Statuses) > 0 {
		clauses = append(clauses, "status IN ("+placeholders(len(q.Statuses))+")")
		args = append(args, statusArgs(q.Statuses)...)
	}
	if len(q.ExcludeStatuses) > 0 {
		clauses = append(clauses, "status NOT IN ("+placeholders(len(q.ExcludeStatuses))+")")
		args = append(args, statusArgs(q.ExcludeStatuses)...)
	}
	if q.DueFrom != nil {
		clauses = append(clauses, "due_date >= ?")
		args = append(args, q.DueFrom.Format(dateLayout))
	}
	if q.DueTo != nil {
		clauses = append(clauses, "due_date <= ?")
		args = append(args, q.DueTo.Format(dateLayout))
	}

	query := "SELECT " + capitalCallColumns + " FROM capital_calls WHERE " +
		strings.Join(clauses, " AND ") + " ORDER BY due_date DESC, id ASC"
	if q.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, q.Limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("find capital calls: %w", err)
	}
	defer rows.Close()
	return scanCapitalCalls(rows)
}

type CapitalCallFilter struct {
	FundName   string
	OwnerScope string
	Status     string
	Page       int
	Limit      int
}

func (r *CapitalCallRepo) List(ctx context.Context, f CapitalCallFilter) ([]domain.CapitalCallRecord, int, error) {
	where, args := buildCapitalCallWhere(f)

	var total int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM capital_calls"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count: %w", err)
	}

	if f.Limit <= 0 {
		f.Limit = 50
	}
	if f.Page <= 0 {
		f.Page = 1
	}
	offset := (f.Page - 1) * f.Limit

	query := "SELECT " + capitalCallColumns + " FROM capital_calls" + where +
		" ORDER BY due_date DESC, id ASC LIMIT ? OFFSET ?"
	args = append(args, f.Limit, offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	calls, err := scanCapitalCalls(rows)
	return calls, total, err
}

// ListOutstanding returns pending and approved calls that have no recorded
// payment match, oldest due date first. An empty fund lists every fund.
func (r *CapitalCallRepo) ListOutstanding(ctx context.Context, fund string, limit int) ([]domain.CapitalCallRecord, error) {
	query := `SELECT ` + capitalCallColumns + ` FROM capital_calls c
		WHERE c.status IN ('pending', 'approved')
		  AND NOT EXISTS (SELECT 1 FROM payment_matches m WHERE m.capital_call_id = c.id)`
	var args []any
	if fund != "" {
		query += " AND c.fund_name = ?"
		args = append(args, fund)
	}
	query += " ORDER BY c.due_date ASC, c.id ASC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list outstanding: %w", err)
	}
	defer rows.Close()
	return scanCapitalCalls(rows)
}

// TransitionStatus moves a call to status to if its current status is one of
// from. It reports whether a row changed, so repeating a transition is a
// no-op.
func (r *CapitalCallRepo) TransitionStatus(ctx context.Context, id string, to domain.CallStatus, from ...domain.CallStatus) (bool, error) {
	return transitionStatus(ctx, r.db, id, to, from...)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func transitionStatus(ctx context.Context, db execer, id string, to domain.CallStatus, from ...domain.CallStatus) (bool, error) {
	if len(from) == 0 {
		return false, fmt.Errorf("transition %s: no source status", id)
	}
	args := []any{string(to), id}
	args = append(args, statusArgs(from)...)

	res, err := db.ExecContext(ctx,
		"UPDATE capital_calls SET status = ? WHERE id = ? AND status IN ("+placeholders(len(from))+")",
		args...,
	)
	if err != nil {
		return false, fmt.Errorf("transition %s to %s: %w", id, to, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("transition %s to %s: rows affected: %w", id, to, err)
	}
	return n > 0, nil
}

// --- helpers ---

func buildCapitalCallWhere(f CapitalCallFilter) (string, []any) {
	var clauses []string
	var args []any

	if f.FundName != "" {
		clauses = append(clauses, "fund_name = ?")
		args = append(args, f.FundName)
	}
	if f.OwnerScope != "" {
		clauses = append(clauses, "owner_scope = ?")
		args = append(args, f.OwnerScope)
	}
	if f.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, f.Status)
	}

	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func statusArgs(statuses []domain.CallStatus) []any {
	out := make([]any, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCapitalCall(row rowScanner) (*domain.CapitalCallRecord, error) {
	var c domain.CapitalCallRecord
	var amount, dueDate, status, createdAt string
	var bank, account, routing, wire sql.NullString

	err := row.Scan(
		&c.ID, &c.FundName, &c.OwnerScope, &amount, &dueDate,
		&bank, &account, &routing, &wire, &status, &createdAt,
	)
	if err != nil {
		return nil, err
	}

	c.AmountDue, err = decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("capital call %s amount %q: %w", c.ID, amount, err)
	}
	c.DueDate, err = time.Parse(dateLayout, dueDate)
	if err != nil {
		return nil, fmt.Errorf("capital call %s due date %q: %w", c.ID, dueDate, err)
	}
	c.CreatedAt, err = time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return nil, fmt.Errorf("capital call %s created_at %q: %w", c.ID, createdAt, err)
	}
	c.Status = domain.CallStatus(status)
	c.BankName = stringPtr(bank)
	c.AccountNumber = stringPtr(account)
	c.RoutingNumber = stringPtr(routing)
	c.WireReference = stringPtr(wire)

	return &c, nil
}

func scanCapitalCalls(rows *sql.Rows) ([]domain.CapitalCallRecord, error) {
	var calls []domain.CapitalCallRecord
	for rows.Next() {
		c, err := scanCapitalCall(rows)
		if err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		calls = append(calls, *c)
	}
	return calls, rows.Err()
}
