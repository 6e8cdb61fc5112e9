package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"course_market/internal/domain/promotion/model"
	"course_market/internal/domain/promotion/repository"
	"course_market/pkg/apperr"
	"course_market/pkg/database"
	"course_market/pkg/money"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// 优惠码无效的原因
const (
	ReasonUnknownCode       = "unknown_code"
	ReasonInactiveOrExpired = "inactive_or_expired"
	ReasonUsageExhausted    = "usage_exhausted"
	ReasonBelowMinimum      = "below_minimum"
)

var (
	ErrInvalidPromotion   = apperr.New(apperr.KindValidation, "invalid promotion")
	ErrUsageLimitExceeded = apperr.New(apperr.KindUsageLimitExceeded, "promotion usage limit exceeded")
	ErrPromotionNotFound  = apperr.New(apperr.KindNotFound, "promotion not found")
)

type PromotionService interface {
	// Validate 校验优惠码并计算基准币折扣金额
	Validate(ctx context.Context, code string, orderTotal decimal.Decimal) (*model.Promotion, decimal.Decimal, error)
	// IncrementUsage 必须在下单事务中调用，失败时调用方需回滚整个事务
	IncrementUsage(ctx context.Context, promotionID uint) error
	// DecrementUsage 订单失败/取消时的补偿，已为 0 时仅记录日志
	DecrementUsage(ctx context.Context, promotionID uint) error
	Create(ctx context.Context, input CreatePromotionInput) (*model.Promotion, error)
	List(ctx context.Context, offset, limit int) ([]model.Promotion, int64, error)
}

type CreatePromotionInput struct {
	Code          string
	DiscountType  string
	DiscountValue decimal.Decimal
	MinOrder      decimal.Decimal
	MaxDiscount   decimal.Decimal
	MaxUsageLimit *int
	StartDate     time.Time
	EndDate       time.Time
}

type promotionService struct {
	repo         repository.PromotionRepository
	baseCurrency string
	log          *zap.Logger
	now          func() time.Time
}

func NewPromotionService(repo repository.PromotionRepository, baseCurrency string, log *zap.Logger) PromotionService {
	return &promotionService{
		repo:         repo,
		baseCurrency: baseCurrency,
		log:          log.With(zap.String("component", "promotion")),
		now:          time.Now,
	}
}

func (s *promotionService) Validate(ctx context.Context, code string, orderTotal decimal.Decimal) (*model.Promotion, decimal.Decimal, error) {
	p, err := s.repo.GetByCode(ctx, code)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, decimal.Zero, ErrInvalidPromotion.WithReason(ReasonUnknownCode)
	}
	if err != nil {
		return nil, decimal.Zero, err
	}

	if !p.ActiveAt(s.now()) {
		return nil, decimal.Zero, ErrInvalidPromotion.WithReason(ReasonInactiveOrExpired)
	}
	if p.Exhausted() {
		return nil, decimal.Zero, ErrInvalidPromotion.WithReason(ReasonUsageExhausted)
	}
	if orderTotal.LessThan(p.MinOrder) {
		return nil, decimal.Zero, ErrInvalidPromotion.WithReason(ReasonBelowMinimum)
	}

	return p, ComputeDiscount(p, orderTotal, s.baseCurrency), nil
}

// ComputeDiscount 百分比折扣受 MaxDiscount 封顶，折扣不超过订单原价
func ComputeDiscount(p *model.Promotion, orderTotal decimal.Decimal, currency string) decimal.Decimal {
	var discount decimal.Decimal
	switch p.DiscountType {
	case model.DiscountPercentage:
		discount = orderTotal.Mul(p.DiscountValue).Div(decimal.NewFromInt(100))
		if p.MaxDiscount.IsPositive() {
			discount = money.Min(discount, p.MaxDiscount)
		}
	case model.DiscountFixedAmount:
		discount = p.DiscountValue
	default:
		return decimal.Zero
	}

	discount = money.Round(money.Max(discount, decimal.Zero), currency)
	return money.Min(discount, orderTotal)
}

func (s *promotionService) IncrementUsage(ctx context.Context, promotionID uint) error {
	err := s.repo.IncrementUsage(ctx, promotionID)
	if errors.Is(err, repository.ErrUsageLimitReached) {
		s.log.Info("Promotion usage limit reached concurrently", zap.Uint("promotion_id", promotionID))
		return ErrUsageLimitExceeded
	}
	return err
}

func (s *promotionService) DecrementUsage(ctx context.Context, promotionID uint) error {
	ok, err := s.repo.DecrementUsage(ctx, promotionID)
	if err != nil {
		return err
	}
	if !ok {
		s.log.Warn("Promotion usage already at zero, decrement skipped", zap.Uint("promotion_id", promotionID))
	}
	return nil
}

func (s *promotionService) Create(ctx context.Context, input CreatePromotionInput) (*model.Promotion, error) {
	code := strings.ToUpper(strings.TrimSpace(input.Code))
	switch {
	case code == "":
		return nil, apperr.New(apperr.KindValidation, "code is required")
	case input.DiscountType != model.DiscountPercentage && input.DiscountType != model.DiscountFixedAmount:
		return nil, apperr.New(apperr.KindValidation, "unsupported discount type")
	case !input.DiscountValue.IsPositive():
		return nil, apperr.New(apperr.KindValidation, "discount value must be positive")
	case input.DiscountType == model.DiscountPercentage && input.DiscountValue.GreaterThan(decimal.NewFromInt(100)):
		return nil, apperr.New(apperr.KindValidation, "percentage discount cannot exceed 100")
	case input.MinOrder.IsNegative() || input.MaxDiscount.IsNegative():
		return nil, apperr.New(apperr.KindValidation, "amounts must not be negative")
	case input.MaxUsageLimit != nil && *input.MaxUsageLimit < 0:
		return nil, apperr.New(apperr.KindValidation, "max usage limit must not be negative")
	case !input.EndDate.After(input.StartDate):
		return nil, apperr.New(apperr.KindValidation, "end date must be after start date")
	}

	p := &model.Promotion{
		Code:          code,
		DiscountType:  input.DiscountType,
		DiscountValue: input.DiscountValue,
		MinOrder:      input.MinOrder,
		MaxDiscount:   input.MaxDiscount,
		MaxUsageLimit: input.MaxUsageLimit,
		StartDate:     input.StartDate,
		EndDate:       input.EndDate,
		Status:        model.StatusActive,
	}
	if err := s.repo.Create(ctx, p); err != nil {
		if database.IsDuplicateKey(err) {
			return nil, apperr.New(apperr.KindStateConflict, "promotion code already exists")
		}
		return nil, err
	}
	return p, nil
}

func (s *promotionService) List(ctx context.Context, offset, limit int) ([]model.Promotion, int64, error) {
	return s.repo.List(ctx, offset, limit)
}
