package service

import (
	"context"
	"strings"

	"course_market/internal/domain/settings/model"
	"course_market/internal/domain/settings/repository"
	"course_market/internal/pkg/config"
	"course_market/pkg/apperr"
	"course_market/pkg/money"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var ErrInvalidSetting = apperr.New(apperr.KindValidation, "invalid setting")

// SettingsService 运行时配置，数据库中的值优先，未设置时回落到配置文件
type SettingsService interface {
	BaseCurrency() string
	// CommissionRate 平台抽成比例，始终落在 [0,1]
	CommissionRate(ctx context.Context) (decimal.Decimal, error)
	// MinWithdrawal 某币种最低提现金额，未配置为 0
	MinWithdrawal(ctx context.Context, currency string) (decimal.Decimal, error)
	Update(ctx context.Context, key, value string) error
	List(ctx context.Context) ([]model.Setting, error)
}

type settingsService struct {
	repo     repository.SettingRepository
	defaults config.FinanceConfig
	log      *zap.Logger
}

func NewSettingsService(repo repository.SettingRepository, defaults config.FinanceConfig, log *zap.Logger) SettingsService {
	return &settingsService{
		repo:     repo,
		defaults: defaults,
		log:      log.With(zap.String("component", "settings")),
	}
}

func (s *settingsService) BaseCurrency() string {
	return money.Normalize(s.defaults.BaseCurrency)
}

func (s *settingsService) CommissionRate(ctx context.Context) (decimal.Decimal, error) {
	rate := decimal.NewFromFloat(s.defaults.CommissionRate)

	raw, ok, err := s.repo.Get(ctx, model.KeyCommissionRate)
	if err != nil {
		return decimal.Zero, err
	}
	if ok {
		parsed, perr := decimal.NewFromString(strings.TrimSpace(raw))
		if perr != nil {
			s.log.Warn("Commission rate setting is not a number, using default",
				zap.String("value", raw), zap.String("default", rate.String()))
		} else {
			rate = parsed
		}
	}

	return s.clamp(rate), nil
}

func (s *settingsService) clamp(rate decimal.Decimal) decimal.Decimal {
	one := decimal.NewFromInt(1)
	switch {
	case rate.IsNegative():
		s.log.Warn("Commission rate below 0, clamped", zap.String("rate", rate.String()))
		return decimal.Zero
	case rate.GreaterThan(one):
		s.log.Warn("Commission rate above 1, clamped", zap.String("rate", rate.String()))
		return one
	}
	return rate
}

func (s *settingsService) MinWithdrawal(ctx context.Context, currency string) (decimal.Decimal, error) {
	currency = money.Normalize(currency)
	raw, ok, err := s.repo.Get(ctx, model.KeyMinWithdrawalPrefix+currency)
	if err != nil {
		return decimal.Zero, err
	}
	if ok {
		v, perr := decimal.NewFromString(strings.TrimSpace(raw))
		if perr == nil && !v.IsNegative() {
			return v, nil
		}
		s.log.Warn("Minimum withdrawal setting invalid, using default",
			zap.String("currency", currency), zap.String("value", raw))
	}
	return s.defaults.MinWithdrawalFor(currency), nil
}

// Update 只接受已知 key，数值类配置在写入前校验
func (s *settingsService) Update(ctx context.Context, key, value string) error {
	key = strings.TrimSpace(key)
	value = strings.TrimSpace(value)

	switch {
	case key == model.KeyCommissionRate:
		v, err := decimal.NewFromString(value)
		if err != nil || v.IsNegative() || v.GreaterThan(decimal.NewFromInt(1)) {
			return ErrInvalidSetting.WithReason("commission_rate must be within [0,1]")
		}
	case strings.HasPrefix(key, model.KeyMinWithdrawalPrefix):
		cur := money.Normalize(strings.TrimPrefix(key, model.KeyMinWithdrawalPrefix))
		if cur == "" {
			return ErrInvalidSetting.WithReason("currency is required")
		}
		v, err := decimal.NewFromString(value)
		if err != nil || v.IsNegative() {
			return ErrInvalidSetting.WithReason("min_withdrawal must be a non-negative number")
		}
		key = model.KeyMinWithdrawalPrefix + cur
	default:
		return ErrInvalidSetting.WithReason("unknown key")
	}

	if err := s.repo.Upsert(ctx, key, value); err != nil {
		return err
	}
	s.log.Info("Setting updated", zap.String("key", key), zap.String("value", value))
	return nil
}

func (s *settingsService) List(ctx context.Context) ([]model.Setting, error) {
	return s.repo.List(ctx)
}
