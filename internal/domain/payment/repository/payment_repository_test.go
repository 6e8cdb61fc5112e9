package repository

import (
	"context"
	"testing"
	"time"

	"course_market/internal/domain/payment/model"
	"course_market/pkg/database"
	"course_market/pkg/database/dbtest"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpdateSkipsSuccessfulPayment(t *testing.T) {
	const updateSQL = `UPDATE "payments" SET .* WHERE id = \$\d+ AND status <> \$\d+`

	db, mock := dbtest.NewMockDB(t)
	mock.ExpectExec(updateSQL).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(updateSQL).WillReturnResult(sqlmock.NewResult(0, 0))

	repo := NewPaymentRepository(db)
	now := time.Now()
	update := PaymentUpdate{ExternalTransactionID: "14000001", Status: model.StatusSuccess, CompletedAt: &now}

	ok, err := repo.Update(context.Background(), 7, update)
	require.NoError(t, err)
	assert.True(t, ok)

	// 已经 SUCCESS 的记录不再被覆盖
	ok, err = repo.Update(context.Background(), 7, update)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateDuplicateIdempotencyKey(t *testing.T) {
	db, mock := dbtest.NewMockDB(t)
	mock.ExpectQuery(`INSERT INTO "payments"`).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "idx_payment_external"})

	err := NewPaymentRepository(db).Create(context.Background(), &model.Payment{
		OrderID:               100,
		Method:                "vnpay",
		ExternalTransactionID: "14000001",
		OriginalAmount:        decimal.NewFromInt(460000),
		OriginalCurrency:      "VND",
		ConvertedAmount:       decimal.NewFromInt(460000),
		ConvertedCurrency:     "VND",
		ConversionRate:        decimal.NewFromInt(1),
		Status:                model.StatusSuccess,
	})
	assert.True(t, database.IsDuplicateKey(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetByExternalID(t *testing.T) {
	db, mock := dbtest.NewMockDB(t)
	mock.ExpectQuery(`SELECT \* FROM "payments" WHERE external_transaction_id = \$1 AND method = \$2`).
		WithArgs("pi_123", "stripe", 1).
		WillReturnRows(sqlmock.NewRows([]string{"id", "order_id", "method", "external_transaction_id", "status"}).
			AddRow(3, 100, "stripe", "pi_123", model.StatusPending))

	p, err := NewPaymentRepository(db).GetByExternalID(context.Background(), "pi_123", "stripe")
	require.NoError(t, err)
	assert.Equal(t, uint(100), p.OrderID)
	assert.Equal(t, model.StatusPending, p.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}
