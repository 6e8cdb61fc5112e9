package repository

import (
	"context"
	"time"

	"course_market/internal/domain/order/model"
	"course_market/pkg/database"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type OrderRepository interface {
	// Create 同时写入订单项
	Create(ctx context.Context, order *model.Order) error
	GetByID(ctx context.Context, id uint) (*model.Order, error)
	ListByBuyer(ctx context.Context, buyerID uint, offset, limit int) ([]model.Order, int64, error)
	// TransitionFromPending 仅当订单仍为 PENDING_PAYMENT 时更新，返回是否更新成功
	TransitionFromPending(ctx context.Context, id uint, update model.StatusUpdate) (bool, error)
	// CreateEnrollment 已存在相同 (user, course) 时返回 false
	CreateEnrollment(ctx context.Context, enrollment *model.Enrollment) (bool, error)
	LinkEnrollment(ctx context.Context, itemID, enrollmentID uint) error
	FindStalePending(ctx context.Context, before time.Time, limit int) ([]uint, error)
}

type orderRepository struct {
	db *gorm.DB
}

func NewOrderRepository(db *gorm.DB) OrderRepository {
	return &orderRepository{db: db}
}

func (r *orderRepository) Create(ctx context.Context, order *model.Order) error {
	return database.Conn(ctx, r.db).Create(order).Error
}

func (r *orderRepository) GetByID(ctx context.Context, id uint) (*model.Order, error) {
	var order model.Order
	err := database.Conn(ctx, r.db).
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("id") }).
		First(&order, id).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *orderRepository) ListByBuyer(ctx context.Context, buyerID uint, offset, limit int) ([]model.Order, int64, error) {
	var (
		list  []model.Order
		total int64
	)
	db := database.Conn(ctx, r.db).Model(&model.Order{}).Where("buyer_id = ?", buyerID)
	if err := db.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	err := db.Preload("Items").Order("id DESC").Offset(offset).Limit(limit).Find(&list).Error
	return list, total, err
}

func (r *orderRepository) TransitionFromPending(ctx context.Context, id uint, update model.StatusUpdate) (bool, error) {
	result := database.Conn(ctx, r.db).Model(&model.Order{}).
		Where("id = ? AND status = ?", id, model.StatusPendingPayment).
		UpdateColumns(update.Columns())
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *orderRepository) CreateEnrollment(ctx context.Context, enrollment *model.Enrollment) (bool, error) {
	result := database.Conn(ctx, r.db).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "course_id"}},
			DoNothing: true,
		}).
		Create(enrollment)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *orderRepository) LinkEnrollment(ctx context.Context, itemID, enrollmentID uint) error {
	return database.Conn(ctx, r.db).Model(&model.OrderItem{}).
		Where("id = ? AND enrollment_id IS NULL", itemID).
		UpdateColumn("enrollment_id", enrollmentID).Error
}

func (r *orderRepository) FindStalePending(ctx context.Context, before time.Time, limit int) ([]uint, error) {
	var ids []uint
	err := database.Conn(ctx, r.db).Model(&model.Order{}).
		Where("status = ? AND created_at < ?", model.StatusPendingPayment, before).
		Order("created_at").
		Limit(limit).
		Pluck("id", &ids).Error
	return ids, err
}
