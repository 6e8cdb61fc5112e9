package repository

import (
	"context"
	"testing"
	"time"

	"course_market/internal/domain/ledger/model"
	"course_market/pkg/database/dbtest"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLatestOrdersBySequence(t *testing.T) {
	db, mock := dbtest.NewMockDB(t)
	repo := NewLedgerRepository(db, nil)

	now := time.Now()
	mock.ExpectQuery(`SELECT \* FROM "balance_transactions" WHERE instructor_id = \$1 ORDER BY sequence DESC LIMIT \$2`).
		WithArgs(9, 1).
		WillReturnRows(sqlmock.NewRows([]string{"id", "instructor_id", "sequence", "type", "amount", "currency", "running_balance_after", "created_at"}).
			AddRow(12, 9, 4, model.TypeCreditSale, "322000", "VND", "1322000", now))

	latest, err := repo.Latest(context.Background(), 9)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, int64(4), latest.Sequence)
	assert.Equal(t, "1322000", latest.RunningBalanceAfter.String())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLatestWithoutHistory(t *testing.T) {
	db, mock := dbtest.NewMockDB(t)
	repo := NewLedgerRepository(db, nil)

	mock.ExpectQuery(`SELECT \* FROM "balance_transactions"`).WillReturnRows(sqlmock.NewRows([]string{"id"}))

	latest, err := repo.Latest(context.Background(), 9)
	require.NoError(t, err)
	assert.Nil(t, latest)
}

func TestAppendSequenceConflict(t *testing.T) {
	db, mock := dbtest.NewMockDB(t)
	repo := NewLedgerRepository(db, nil)

	mock.ExpectQuery(`INSERT INTO "balance_transactions"`).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "idx_ledger_seq"})

	err := repo.Append(context.Background(), &model.BalanceTransaction{
		InstructorID:        9,
		Sequence:            5,
		Type:                model.TypeCreditSale,
		Amount:              decimal.NewFromInt(1),
		RunningBalanceAfter: decimal.NewFromInt(1),
		Currency:            "VND",
	})
	assert.ErrorIs(t, err, ErrConcurrentAppend)
}

func TestEarnings(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer sqlDB.Close()

	repo := NewLedgerRepository(nil, sqlx.NewDb(sqlDB, "postgres"))
	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 1, 0)

	mock.ExpectQuery(`SELECT type, COUNT\(\*\) AS entry_count, COALESCE\(SUM\(amount\), 0\) AS total_amount`).
		WithArgs(9, from, to).
		WillReturnRows(sqlmock.NewRows([]string{"type", "entry_count", "total_amount"}).
			AddRow(model.TypeCreditSale, 2, "644000").
			AddRow(model.TypeDebitWithdrawal, 1, "-300000"))

	rows, err := repo.Earnings(context.Background(), 9, from, to)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, int64(2), rows[0].Count)
	assert.Equal(t, "-300000", rows[1].Amount.String())
	assert.NoError(t, mock.ExpectationsWereMet())
}
