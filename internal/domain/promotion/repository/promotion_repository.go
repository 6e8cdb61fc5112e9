package repository

import (
	"context"
	"errors"
	"strings"

	"course_market/internal/domain/promotion/model"
	"course_market/pkg/database"

	"gorm.io/gorm"
)

var ErrUsageLimitReached = errors.New("promotion usage limit reached")

type PromotionRepository interface {
	Create(ctx context.Context, p *model.Promotion) error
	GetByID(ctx context.Context, id uint) (*model.Promotion, error)
	GetByCode(ctx context.Context, code string) (*model.Promotion, error)
	List(ctx context.Context, offset, limit int) ([]model.Promotion, int64, error)
	// IncrementUsage 条件自增，达到上限返回 ErrUsageLimitReached
	IncrementUsage(ctx context.Context, id uint) error
	// DecrementUsage 条件自减，已为 0 时返回 false
	DecrementUsage(ctx context.Context, id uint) (bool, error)
}

type promotionRepository struct {
	db *gorm.DB
}

func NewPromotionRepository(db *gorm.DB) PromotionRepository {
	return &promotionRepository{db: db}
}

func (r *promotionRepository) Create(ctx context.Context, p *model.Promotion) error {
	return database.Conn(ctx, r.db).Create(p).Error
}

func (r *promotionRepository) GetByID(ctx context.Context, id uint) (*model.Promotion, error) {
	var p model.Promotion
	if err := database.Conn(ctx, r.db).First(&p, id).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

// GetByCode 优惠码不区分大小写
func (r *promotionRepository) GetByCode(ctx context.Context, code string) (*model.Promotion, error) {
	var p model.Promotion
	err := database.Conn(ctx, r.db).
		Where("code = ?", strings.ToUpper(strings.TrimSpace(code))).
		Take(&p).Error
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *promotionRepository) List(ctx context.Context, offset, limit int) ([]model.Promotion, int64, error) {
	var (
		list  []model.Promotion
		total int64
	)
	db := database.Conn(ctx, r.db).Model(&model.Promotion{})
	if err := db.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	err := db.Order("id DESC").Offset(offset).Limit(limit).Find(&list).Error
	return list, total, err
}

// IncrementUsage 单条条件更新，并发下不会超过上限
func (r *promotionRepository) IncrementUsage(ctx context.Context, id uint) error {
	result := database.Conn(ctx, r.db).Model(&model.Promotion{}).
		Where("id = ? AND (max_usage_limit IS NULL OR usage_count < max_usage_limit)", id).
		UpdateColumn("usage_count", gorm.Expr("usage_count + 1"))

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrUsageLimitReached
	}
	return nil
}

func (r *promotionRepository) DecrementUsage(ctx context.Context, id uint) (bool, error) {
	result := database.Conn(ctx, r.db).Model(&model.Promotion{}).
		Where("id = ? AND usage_count > 0", id).
		UpdateColumn("usage_count", gorm.Expr("usage_count - 1"))

	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}
