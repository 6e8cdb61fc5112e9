// Package exchange 汇率查询，Redis 缓存 -> 数据库最新汇率 -> 远程汇率源
package exchange

import (
	"context"
	"errors"
	"time"

	"course_market/pkg/apperr"
	"course_market/pkg/database"
	"course_market/pkg/metrics"
	"course_market/pkg/money"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var ErrRateUnavailable = apperr.New(apperr.KindRateUnavailable, "exchange rate unavailable")

// ExchangeRate 汇率快照，Rate 为 1 单位基准币可兑换的报价币数量
type ExchangeRate struct {
	ID            uint            `gorm:"primaryKey;autoIncrement" json:"id"`
	BaseCurrency  string          `gorm:"size:3;not null;index:idx_fx_pair,priority:1" json:"baseCurrency"`
	QuoteCurrency string          `gorm:"size:3;not null;index:idx_fx_pair,priority:2" json:"quoteCurrency"`
	Rate          decimal.Decimal `gorm:"type:numeric(24,10);not null" json:"rate"`
	FetchedAt     time.Time       `gorm:"not null;index:idx_fx_pair,priority:3" json:"fetchedAt"`
}

// Rates 汇率服务
type Rates interface {
	// Rate 1 单位基准币兑换 quote 的数量，基准币本身返回 1
	Rate(ctx context.Context, quote string) (decimal.Decimal, error)
}

// Cache 汇率缓存
type Cache interface {
	Get(ctx context.Context, base, quote string) (decimal.Decimal, bool, error)
	Set(ctx context.Context, base, quote string, rate decimal.Decimal, ttl time.Duration) error
}

// Source 远程汇率源，返回以 base 为基准的全部汇率
type Source interface {
	Fetch(ctx context.Context, base string) (map[string]decimal.Decimal, error)
}

type Service struct {
	db      *gorm.DB
	cache   Cache
	source  Source
	base    string
	ttl     time.Duration
	log     *zap.Logger
	metrics *metrics.MetricsCollector
	now     func() time.Time
}

// NewService source 可为 nil，此时只使用数据库中已有的汇率
func NewService(db *gorm.DB, cache Cache, source Source, base string, ttl time.Duration, log *zap.Logger, m *metrics.MetricsCollector) *Service {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &Service{
		db:      db,
		cache:   cache,
		source:  source,
		base:    money.Normalize(base),
		ttl:     ttl,
		log:     log.With(zap.String("component", "exchange")),
		metrics: m,
		now:     time.Now,
	}
}

func (s *Service) Rate(ctx context.Context, quote string) (decimal.Decimal, error) {
	quote = money.Normalize(quote)
	if quote == "" {
		return decimal.Zero, ErrRateUnavailable.WithReason("currency is required")
	}
	if quote == s.base {
		return decimal.NewFromInt(1), nil
	}

	if s.cache != nil {
		rate, ok, err := s.cache.Get(ctx, s.base, quote)
		if err != nil {
			s.log.Warn("Exchange rate cache read failed", zap.String("quote", quote), zap.Error(err))
		} else if ok {
			s.record("cache")
			return rate, nil
		}
	}

	stored, err := s.latest(ctx, quote)
	if err != nil {
		return decimal.Zero, err
	}
	if stored != nil && s.now().Sub(stored.FetchedAt) < s.ttl {
		s.record("db")
		s.store(ctx, quote, stored.Rate)
		return stored.Rate, nil
	}

	if s.source != nil {
		rate, ferr := s.refresh(ctx, quote)
		if ferr == nil {
			s.record("remote")
			return rate, nil
		}
		s.log.Warn("Exchange rate refresh failed", zap.String("quote", quote), zap.Error(ferr))
	}

	// 远程不可用时使用最近一次汇率
	if stored != nil {
		s.log.Warn("Using stale exchange rate",
			zap.String("quote", quote),
			zap.Time("fetched_at", stored.FetchedAt),
		)
		s.record("stale")
		return stored.Rate, nil
	}

	s.record("miss")
	return decimal.Zero, ErrRateUnavailable.WithReason(s.base + "/" + quote)
}

func (s *Service) latest(ctx context.Context, quote string) (*ExchangeRate, error) {
	var r ExchangeRate
	err := database.Conn(ctx, s.db).
		Where("base_currency = ? AND quote_currency = ?", s.base, quote).
		Order("fetched_at DESC").
		Take(&r).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// refresh 拉取远程汇率，写入全部币种并返回 quote 的汇率
func (s *Service) refresh(ctx context.Context, quote string) (decimal.Decimal, error) {
	rates, err := s.source.Fetch(ctx, s.base)
	if err != nil {
		return decimal.Zero, err
	}
	rate, ok := rates[quote]
	if !ok || !rate.IsPositive() {
		return decimal.Zero, ErrRateUnavailable.WithReason(s.base + "/" + quote)
	}

	fetchedAt := s.now()
	rows := make([]ExchangeRate, 0, len(rates))
	for cur, r := range rates {
		if !r.IsPositive() {
			continue
		}
		rows = append(rows, ExchangeRate{
			BaseCurrency:  s.base,
			QuoteCurrency: money.Normalize(cur),
			Rate:          r,
			FetchedAt:     fetchedAt,
		})
	}
	// 汇率写入与调用方事务无关，避免回滚时丢失快照
	if err := s.db.WithContext(ctx).Create(&rows).Error; err != nil {
		s.log.Warn("Persist exchange rates failed", zap.Error(err))
	}
	s.store(ctx, quote, rate)
	return rate, nil
}

func (s *Service) store(ctx context.Context, quote string, rate decimal.Decimal) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Set(ctx, s.base, quote, rate, s.ttl); err != nil {
		s.log.Warn("Exchange rate cache write failed", zap.String("quote", quote), zap.Error(err))
	}
}

func (s *Service) record(source string) {
	if s.metrics != nil {
		s.metrics.RecordFXLookup(source)
	}
}

// ToBase 报价币金额换算为基准币，rate 为 1 基准币兑换的报价币数量
func ToBase(amount, rate decimal.Decimal, baseCurrency string) decimal.Decimal {
	return money.Round(amount.Div(rate), baseCurrency)
}

// FromBase 基准币金额换算为报价币
func FromBase(amount, rate decimal.Decimal, quoteCurrency string) decimal.Decimal {
	return money.Round(amount.Mul(rate), quoteCurrency)
}
