package service

import (
	"context"
	"testing"
	"time"

	"course_market/internal/domain/ledger/model"
	"course_market/internal/domain/ledger/repository"
	"course_market/pkg/apperr"
	"course_market/pkg/database/dbtest"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// MockLedgerRepository is a mock of LedgerRepository
type MockLedgerRepository struct {
	mock.Mock
}

func (m *MockLedgerRepository) Latest(ctx context.Context, instructorID uint) (*model.BalanceTransaction, error) {
	args := m.Called(ctx, instructorID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.BalanceTransaction), args.Error(1)
}

func (m *MockLedgerRepository) Append(ctx context.Context, entry *model.BalanceTransaction) error {
	args := m.Called(ctx, entry)
	return args.Error(0)
}

func (m *MockLedgerRepository) List(ctx context.Context, instructorID uint, offset, limit int) ([]model.BalanceTransaction, int64, error) {
	args := m.Called(ctx, instructorID, offset, limit)
	return args.Get(0).([]model.BalanceTransaction), args.Get(1).(int64), args.Error(2)
}

func (m *MockLedgerRepository) History(ctx context.Context, instructorID uint) ([]model.BalanceTransaction, error) {
	args := m.Called(ctx, instructorID)
	return args.Get(0).([]model.BalanceTransaction), args.Error(1)
}

func (m *MockLedgerRepository) Earnings(ctx context.Context, instructorID uint, from, to time.Time) ([]model.EarningsRow, error) {
	args := m.Called(ctx, instructorID, from, to)
	return args.Get(0).([]model.EarningsRow), args.Error(1)
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func entry(id uint, seq int64, amount, after string) *model.BalanceTransaction {
	return &model.BalanceTransaction{
		ID:                  id,
		InstructorID:        9,
		Sequence:            seq,
		Amount:              dec(amount),
		RunningBalanceAfter: dec(after),
		Currency:            "VND",
	}
}

func newTestService(t *testing.T, repo *MockLedgerRepository) LedgerService {
	return NewLedgerService(repo, &dbtest.Transactor{}, "VND", zaptest.NewLogger(t), nil)
}

func TestCreditSale(t *testing.T) {
	ctx := context.Background()

	t.Run("first entry starts from zero", func(t *testing.T) {
		repo := new(MockLedgerRepository)
		repo.On("Latest", ctx, uint(9)).Return(nil, nil)
		repo.On("Append", ctx, mock.MatchedBy(func(e *model.BalanceTransaction) bool {
			return e.Sequence == 1 && e.RunningBalanceAfter.Equal(dec("322000")) &&
				e.Type == model.TypeCreditSale && e.RelatedEntityID == 55
		})).Return(nil)

		e, err := newTestService(t, repo).CreditSale(ctx, 9, dec("322000"), "vnd", 55)
		require.NoError(t, err)
		assert.Equal(t, "VND", e.Currency)
		repo.AssertExpectations(t)
	})

	t.Run("builds on previous running balance", func(t *testing.T) {
		repo := new(MockLedgerRepository)
		repo.On("Latest", ctx, uint(9)).Return(entry(3, 3, "100", "1000000"), nil)
		repo.On("Append", ctx, mock.MatchedBy(func(e *model.BalanceTransaction) bool {
			return e.Sequence == 4 && e.RunningBalanceAfter.Equal(dec("1322000"))
		})).Return(nil)

		_, err := newTestService(t, repo).CreditSale(ctx, 9, dec("322000"), "VND", 56)
		require.NoError(t, err)
	})

	t.Run("rejects foreign currency", func(t *testing.T) {
		_, err := newTestService(t, new(MockLedgerRepository)).CreditSale(ctx, 9, dec("10"), "USD", 1)
		assert.ErrorIs(t, err, ErrCurrencyMismatch)
	})

	t.Run("concurrent append surfaces as conflict", func(t *testing.T) {
		repo := new(MockLedgerRepository)
		repo.On("Latest", ctx, uint(9)).Return(nil, nil)
		repo.On("Append", ctx, mock.Anything).Return(repository.ErrConcurrentAppend)

		_, err := newTestService(t, repo).CreditSale(ctx, 9, dec("1"), "VND", 1)
		assert.True(t, apperr.IsKind(err, apperr.KindStateConflict))
		assert.ErrorIs(t, err, repository.ErrConcurrentAppend)
	})
}

func TestAppendKeepsTimestampsInSequenceOrder(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	t.Run("previous entry written by a clock ahead of ours", func(t *testing.T) {
		prev := entry(6, 6, "100", "1000000")
		prev.CreatedAt = now.Add(5 * time.Second)

		repo := new(MockLedgerRepository)
		repo.On("Latest", ctx, uint(9)).Return(prev, nil)
		repo.On("Append", ctx, mock.MatchedBy(func(e *model.BalanceTransaction) bool {
			return e.Sequence == 7 && e.CreatedAt.After(prev.CreatedAt)
		})).Return(nil)

		svc := newTestService(t, repo).(*ledgerService)
		svc.now = func() time.Time { return now }

		e, err := svc.CreditSale(ctx, 9, dec("322000"), "VND", 57)
		require.NoError(t, err)
		assert.Equal(t, prev.CreatedAt.Add(time.Microsecond), e.CreatedAt)
		assert.Equal(t, "1322000", e.RunningBalanceAfter.String())
		repo.AssertExpectations(t)
	})

	t.Run("normal clock uses current time", func(t *testing.T) {
		prev := entry(6, 6, "100", "1000000")
		prev.CreatedAt = now.Add(-time.Minute)

		repo := new(MockLedgerRepository)
		repo.On("Latest", ctx, uint(9)).Return(prev, nil)
		repo.On("Append", ctx, mock.Anything).Return(nil)

		svc := newTestService(t, repo).(*ledgerService)
		svc.now = func() time.Time { return now }

		e, err := svc.CreditSale(ctx, 9, dec("1"), "VND", 58)
		require.NoError(t, err)
		assert.Equal(t, now, e.CreatedAt)
		assert.Equal(t, int64(7), e.Sequence)
	})
}

func TestDebitWithdrawal(t *testing.T) {
	ctx := context.Background()

	t.Run("debits with negative amount", func(t *testing.T) {
		repo := new(MockLedgerRepository)
		repo.On("Latest", ctx, uint(9)).Return(entry(1, 1, "1000000", "1000000"), nil)
		repo.On("Append", ctx, mock.MatchedBy(func(e *model.BalanceTransaction) bool {
			return e.Amount.Equal(dec("-400000")) && e.RunningBalanceAfter.Equal(dec("600000")) &&
				e.RelatedEntityType == model.RelatedPayout
		})).Return(nil)

		_, err := newTestService(t, repo).DebitWithdrawal(ctx, 9, dec("400000"), "VND", 3)
		require.NoError(t, err)
	})

	t.Run("never goes negative", func(t *testing.T) {
		repo := new(MockLedgerRepository)
		repo.On("Latest", ctx, uint(9)).Return(entry(1, 1, "1000000", "1000000"), nil)

		_, err := newTestService(t, repo).DebitWithdrawal(ctx, 9, dec("1200000"), "VND", 3)
		assert.ErrorIs(t, err, ErrInsufficientBalance)
		repo.AssertNotCalled(t, "Append", mock.Anything, mock.Anything)
	})
}

func TestAdjust(t *testing.T) {
	ctx := context.Background()
	repo := new(MockLedgerRepository)
	repo.On("Latest", ctx, uint(9)).Return(entry(1, 1, "500", "500"), nil)
	repo.On("Append", ctx, mock.MatchedBy(func(e *model.BalanceTransaction) bool {
		return e.Type == model.TypeAdjustmentSub && e.Note == "refund chargeback"
	})).Return(nil)

	svc := newTestService(t, repo)

	_, err := svc.Adjust(ctx, 9, dec("-200"), "  refund chargeback ", 1)
	require.NoError(t, err)

	_, err = svc.Adjust(ctx, 9, dec("100"), " ", 1)
	assert.ErrorIs(t, err, ErrNoteRequired)
}

func TestGetBalance(t *testing.T) {
	ctx := context.Background()
	repo := new(MockLedgerRepository)
	repo.On("Latest", ctx, uint(9)).Return(entry(4, 4, "5", "1000000"), nil).Once()
	repo.On("Latest", ctx, uint(10)).Return(nil, nil).Once()

	svc := newTestService(t, repo)

	b, err := svc.GetBalance(ctx, 9)
	require.NoError(t, err)
	assert.Equal(t, "1000000", b.String())

	b, err = svc.GetBalance(ctx, 10)
	require.NoError(t, err)
	assert.True(t, b.IsZero())
}

func TestVerifyChain(t *testing.T) {
	ctx := context.Background()

	t.Run("consistent history", func(t *testing.T) {
		repo := new(MockLedgerRepository)
		repo.On("History", ctx, uint(9)).Return([]model.BalanceTransaction{
			*entry(1, 1, "322000", "322000"),
			*entry(2, 2, "100000", "422000"),
			*entry(3, 3, "-22000", "400000"),
		}, nil)

		report, err := newTestService(t, repo).VerifyChain(ctx, 9)
		require.NoError(t, err)
		assert.True(t, report.Consistent)
		assert.Equal(t, 3, report.Entries)
		assert.True(t, report.Sum.Equal(report.Balance))
	})

	t.Run("reports first drift", func(t *testing.T) {
		repo := new(MockLedgerRepository)
		repo.On("History", ctx, uint(9)).Return([]model.BalanceTransaction{
			*entry(1, 1, "100", "100"),
			*entry(2, 2, "50", "160"),
			*entry(3, 3, "10", "170"),
		}, nil)

		report, err := newTestService(t, repo).VerifyChain(ctx, 9)
		require.NoError(t, err)
		assert.False(t, report.Consistent)
		require.NotNil(t, report.FirstDriftID)
		assert.Equal(t, uint(2), *report.FirstDriftID)
	})
}

func TestEarningsSummary(t *testing.T) {
	ctx := context.Background()
	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 1, 0)

	repo := new(MockLedgerRepository)
	repo.On("Earnings", ctx, uint(9), from, to).Return([]model.EarningsRow{
		{Type: model.TypeCreditSale, Count: 2, Amount: dec("644000")},
		{Type: model.TypeDebitWithdrawal, Count: 1, Amount: dec("-300000")},
	}, nil)

	svc := newTestService(t, repo)

	summary, err := svc.EarningsSummary(ctx, 9, from, to)
	require.NoError(t, err)
	assert.Equal(t, "344000", summary.Net.String())

	_, err = svc.EarningsSummary(ctx, 9, to, from)
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))
}
