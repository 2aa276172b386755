package ingestion

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capcall/riskengine/internal/domain"
	"github.com/capcall/riskengine/internal/repository"
	"github.com/capcall/riskengine/internal/workflow"
)

type fakeReconciler struct {
	calls [][]domain.Payment
	err   error
}

func (f *fakeReconciler) ReconcilePayments(_ context.Context, payments []domain.Payment) (*workflow.ReconcileResult, error) {
	f.calls = append(f.calls, payments)
	if f.err != nil {
		return nil, f.err
	}
	res := &workflow.ReconcileResult{}
	for i, p := range payments {
		if i == 0 {
			res.Matched = append(res.Matched, domain.PaymentMatch{PaymentID: p.ID, CapitalCallID: "cc-1"})
			continue
		}
		res.Unmatched = append(res.Unmatched, p.ID)
	}
	return res, nil
}

func newTestService(t *testing.T, rec Reconciler) (*Service, *repository.PaymentRepo) {
	t.Helper()
	db, err := repository.InitDB(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	repo := repository.NewPaymentRepo(db)
	return NewService(repo, rec, zerolog.Nop()), repo
}

const statement = "payment_date,amount,reference\n2024-03-15,250000,EGF3-CALL-07\n2024-03-16,1000,\n"

func TestImport(t *testing.T) {
	rec := &fakeReconciler{}
	svc, repo := newTestService(t, rec)
	ctx := context.Background()

	res, err := svc.Import(ctx, []byte(statement), FormatCSV)
	require.NoError(t, err)
	assert.Equal(t, 2, res.PaymentsImported)
	assert.Equal(t, 1, res.Matched)
	assert.Equal(t, 1, res.Unmatched)
	assert.False(t, res.AlreadyIngested)
	require.Len(t, rec.calls, 1)

	p, err := repo.GetPayment(ctx, res.StatementID+"-0002")
	require.NoError(t, err)
	assert.Equal(t, "250000", p.Amount.String())
}

func TestImport_SameFileTwice(t *testing.T) {
	rec := &fakeReconciler{}
	svc, _ := newTestService(t, rec)
	ctx := context.Background()

	_, err := svc.Import(ctx, []byte(statement), FormatCSV)
	require.NoError(t, err)

	res, err := svc.Import(ctx, []byte(statement), FormatCSV)
	require.NoError(t, err)
	assert.True(t, res.AlreadyIngested)
	assert.Len(t, rec.calls, 1)
}

func TestImport_ReconcileFailureKeepsPayments(t *testing.T) {
	svc, repo := newTestService(t, &fakeReconciler{err: errors.New("db locked")})
	ctx := context.Background()

	res, err := svc.Import(ctx, []byte(statement), FormatCSV)
	require.NoError(t, err)
	assert.Equal(t, 2, res.PaymentsImported)
	assert.Zero(t, res.Matched)

	_, err = repo.GetPayment(ctx, res.StatementID+"-0003")
	assert.NoError(t, err)
}

func TestImport_UnsupportedFormat(t *testing.T) {
	svc, _ := newTestService(t, &fakeReconciler{})
	_, err := svc.Import(context.Background(), []byte("x"), "xlsx")
	assert.ErrorContains(t, err, "unsupported format")
}

func TestImport_ParseErrorStoresNothing(t *testing.T) {
	svc, repo := newTestService(t, &fakeReconciler{})
	data := []byte("payment_date,amount\n2024-01-01,abc\n")

	_, err := svc.Import(context.Background(), data, FormatCSV)
	require.Error(t, err)

	exists, err := repo.StatementExistsByHash(context.Background(), fmt.Sprintf("%x", sha256.Sum256(data)))
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestImport_FailedPaymentInsertCanBeRetried(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	hash := fmt.Sprintf("%x", sha256.Sum256([]byte(statement)))
	countHash := regexp.QuoteMeta("SELECT COUNT(*) FROM payment_statements WHERE file_hash = ?")
	insertStmt := regexp.QuoteMeta("INSERT INTO payment_statements")
	insertPayment := regexp.QuoteMeta("INSERT OR IGNORE INTO payments")

	// first attempt: the payment insert fails and the statement row goes with it
	mock.ExpectQuery(countHash).WithArgs(hash).WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectBegin()
	mock.ExpectExec(insertStmt).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectPrepare(insertPayment).ExpectExec().WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	// retry: the hash is unknown again, so the file is imported
	mock.ExpectQuery(countHash).WithArgs(hash).WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectBegin()
	mock.ExpectExec(insertStmt).WillReturnResult(sqlmock.NewResult(0, 1))
	prep := mock.ExpectPrepare(insertPayment)
	prep.ExpectExec().WillReturnResult(sqlmock.NewResult(0, 1))
	prep.ExpectExec().WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	rec := &fakeReconciler{}
	svc := NewService(repository.NewPaymentRepo(db), rec, zerolog.Nop())
	ctx := context.Background()

	_, err = svc.Import(ctx, []byte(statement), FormatCSV)
	require.ErrorContains(t, err, "disk full")
	assert.Empty(t, rec.calls)

	res, err := svc.Import(ctx, []byte(statement), FormatCSV)
	require.NoError(t, err)
	assert.False(t, res.AlreadyIngested)
	assert.Equal(t, 2, res.PaymentsImported)
	assert.Len(t, rec.calls, 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}
