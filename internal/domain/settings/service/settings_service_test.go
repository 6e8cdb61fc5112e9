package service

import (
	"context"
	"errors"
	"testing"

	"course_market/internal/domain/settings/model"
	"course_market/internal/pkg/config"
	"course_market/pkg/apperr"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// MockSettingRepository is a mock of SettingRepository
type MockSettingRepository struct {
	mock.Mock
}

func (m *MockSettingRepository) Get(ctx context.Context, key string) (string, bool, error) {
	args := m.Called(ctx, key)
	return args.String(0), args.Bool(1), args.Error(2)
}

func (m *MockSettingRepository) Upsert(ctx context.Context, key, value string) error {
	args := m.Called(ctx, key, value)
	return args.Error(0)
}

func (m *MockSettingRepository) List(ctx context.Context) ([]model.Setting, error) {
	args := m.Called(ctx)
	return args.Get(0).([]model.Setting), args.Error(1)
}

func newTestService(t *testing.T, repo *MockSettingRepository) SettingsService {
	defaults := config.FinanceConfig{
		BaseCurrency:   "vnd",
		CommissionRate: 0.30,
		MinWithdrawal:  map[string]float64{"VND": 100000},
	}
	return NewSettingsService(repo, defaults, zaptest.NewLogger(t))
}

func TestCommissionRate(t *testing.T) {
	ctx := context.Background()

	cases := []struct {
		name   string
		stored string
		found  bool
		want   string
	}{
		{"default when unset", "", false, "0.3"},
		{"stored value", "0.25", true, "0.25"},
		{"clamped above one", "1.5", true, "1"},
		{"clamped below zero", "-0.1", true, "0"},
		{"garbage falls back", "abc", true, "0.3"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			repo := new(MockSettingRepository)
			repo.On("Get", ctx, model.KeyCommissionRate).Return(tc.stored, tc.found, nil)

			rate, err := newTestService(t, repo).CommissionRate(ctx)
			require.NoError(t, err)
			assert.Equal(t, tc.want, rate.String())
		})
	}

	t.Run("store failure surfaces", func(t *testing.T) {
		repo := new(MockSettingRepository)
		repo.On("Get", ctx, model.KeyCommissionRate).Return("", false, errors.New("db down"))

		_, err := newTestService(t, repo).CommissionRate(ctx)
		assert.Error(t, err)
	})
}

func TestMinWithdrawal(t *testing.T) {
	ctx := context.Background()
	repo := new(MockSettingRepository)
	repo.On("Get", ctx, "min_withdrawal.VND").Return("", false, nil)
	repo.On("Get", ctx, "min_withdrawal.USD").Return("20", true, nil)

	svc := newTestService(t, repo)

	v, err := svc.MinWithdrawal(ctx, "vnd")
	require.NoError(t, err)
	assert.Equal(t, "100000", v.String())

	v, err = svc.MinWithdrawal(ctx, "USD")
	require.NoError(t, err)
	assert.Equal(t, "20", v.String())

	assert.Equal(t, "VND", svc.BaseCurrency())
}

func TestUpdate(t *testing.T) {
	ctx := context.Background()
	repo := new(MockSettingRepository)
	repo.On("Upsert", ctx, model.KeyCommissionRate, "0.2").Return(nil)
	repo.On("Upsert", ctx, "min_withdrawal.USD", "15").Return(nil)

	svc := newTestService(t, repo)

	assert.NoError(t, svc.Update(ctx, "commission_rate", "0.2"))
	assert.NoError(t, svc.Update(ctx, "min_withdrawal.usd", "15"))

	err := svc.Update(ctx, "commission_rate", "2")
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))

	err = svc.Update(ctx, "feature.x", "on")
	assert.ErrorIs(t, err, ErrInvalidSetting)

	repo.AssertExpectations(t)
}
