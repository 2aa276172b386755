package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/capcall/riskengine/internal/domain"
)

type PaymentStatement struct {
	ID           string    `json:"id"`
	Format       string    `json:"format"`
	FileHash     string    `json:"file_hash"`
	PaymentCount int       `json:"payment_count"`
	IngestedAt   time.Time `json:"ingested_at"`
}

type PaymentRepo struct {
	db *sql.DB
}

func NewPaymentRepo(db *sql.DB) *PaymentRepo {
	return &PaymentRepo{db: db}
}

// StatementExistsByHash checks whether a statement with the given file hash
// has already been ingested.
func (r *PaymentRepo) StatementExistsByHash(ctx context.Context, hash string) (bool, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM payment_statements WHERE file_hash = ?", hash,
	).Scan(&count)
	return count > 0, err
}

// InsertStatementWithPayments records a statement and its payments in one
// transaction, so a failed payment insert leaves no file hash behind. It
// returns how many payments were new.
func (r *PaymentRepo) InsertStatementWithPayments(ctx context.Context, s *PaymentStatement, payments []domain.Payment) (int, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO payment_statements (id, format, file_hash, payment_count, ingested_at)
		VALUES (?,?,?,?,?)`,
		s.ID, s.Format, s.FileHash, s.PaymentCount, s.IngestedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return 0, fmt.Errorf("insert statement: %w", err)
	}

	inserted, err := insertPayments(ctx, tx, s.ID, payments)
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return inserted, nil
}

// InsertPayments stores payments, ignoring IDs that already exist. It
// returns how many rows were new.
func (r *PaymentRepo) InsertPayments(ctx context.Context, statementID string, payments []domain.Payment) (int, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	inserted, err := insertPayments(ctx, tx, statementID, payments)
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return inserted, nil
}

func insertPayments(ctx context.Context, tx *sql.Tx, statementID string, payments []domain.Payment) (int, error) {
	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR IGNORE INTO payments
		(id, statement_id, amount, payment_date, reference, received_at)
		VALUES (?,?,?,?,?,?)`,
	)
	if err != nil {
		return 0, fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	var stmtID any
	if statementID != "" {
		stmtID = statementID
	}
	now := time.Now().UTC().Format(time.RFC3339)

	inserted := 0
	for i := range payments {
		p := &payments[i]
		var date any
		if p.Date != nil {
			date = p.Date.Format(dateLayout)
		}
		res, err := stmt.ExecContext(ctx,
			p.ID, stmtID, p.Amount.String(), date, nullableString(p.Reference), now,
		)
		if err != nil {
			return 0, fmt.Errorf("insert payment %d: %w", i, err)
		}
		ra, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("insert payment %d: rows affected: %w", i, err)
		}
		inserted += int(ra)
	}
	return inserted, nil
}

func (r *PaymentRepo) GetPayment(ctx context.Context, id string) (*domain.Payment, error) {
	var p domain.Payment
	var amount string
	var date, ref sql.NullString
	err := r.db.QueryRowContext(ctx,
		"SELECT id, amount, payment_date, reference FROM payments WHERE id = ?", id,
	).Scan(&p.ID, &amount, &date, &ref)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if p.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("payment %s amount %q: %w", id, amount, err)
	}
	if date.Valid {
		d, err := time.Parse(dateLayout, date.String)
		if err != nil {
			return nil, fmt.Errorf("payment %s date %q: %w", id, date.String, err)
		}
		p.Date = &d
	}
	p.Reference = stringPtr(ref)
	return &p, nil
}

// RecordMatch stores a payment match. A payment is matched at most once;
// recording it again keeps the first match and reports false.
func (r *PaymentRepo) RecordMatch(ctx context.Context, m *domain.PaymentMatch) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO payment_matches
		(payment_id, capital_call_id, confidence, match_type, matched_at)
		VALUES (?,?,?,?,?)`,
		m.PaymentID, m.CapitalCallID, m.Confidence, string(m.MatchType),
		m.MatchedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return false, fmt.Errorf("record match: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("record match: rows affected: %w", err)
	}
	return n > 0, nil
}

func (r *PaymentRepo) GetMatchByPaymentID(ctx context.Context, paymentID string) (*domain.PaymentMatch, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT payment_id, capital_call_id, confidence, match_type, matched_at
		FROM payment_matches WHERE payment_id = ?`, paymentID)
	m, err := scanMatch(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return m, err
}

type MatchFilter struct {
	CapitalCallID string
	Page          int
	Limit         int
}

func (r *PaymentRepo) ListMatches(ctx context.Context, f MatchFilter) ([]domain.PaymentMatch, int, error) {
	where := ""
	var args []any
	if f.CapitalCallID != "" {
		where = " WHERE capital_call_id = ?"
		args = append(args, f.CapitalCallID)
	}

	var total int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM payment_matches"+where, args...).Scan(&total); err != nil {
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
		`SELECT payment_id, capital_call_id, confidence, match_type, matched_at
		FROM payment_matches`+where+` ORDER BY matched_at DESC, payment_id ASC LIMIT ? OFFSET ?`, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []domain.PaymentMatch
	for rows.Next() {
		m, err := scanMatch(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *m)
	}
	return out, total, rows.Err()
}

func scanMatch(row rowScanner) (*domain.PaymentMatch, error) {
	var m domain.PaymentMatch
	var mt, matchedAt string
	if err := row.Scan(&m.PaymentID, &m.CapitalCallID, &m.Confidence, &mt, &matchedAt); err != nil {
		return nil, err
	}
	m.MatchType = domain.MatchType(mt)
	t, err := time.Parse(time.RFC3339, matchedAt)
	if err != nil {
		return nil, fmt.Errorf("match %s matched_at %q: %w", m.PaymentID, matchedAt, err)
	}
	m.MatchedAt = t
	return &m, nil
}
