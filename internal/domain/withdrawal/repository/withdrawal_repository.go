package repository

import (
	"context"

	"course_market/internal/domain/withdrawal/model"
	"course_market/pkg/database"

	"gorm.io/gorm"
)

type WithdrawalRepository interface {
	CreateMethod(ctx context.Context, method *model.PayoutMethod) error
	GetMethod(ctx context.Context, id uint) (*model.PayoutMethod, error)
	ListMethods(ctx context.Context, instructorID uint) ([]model.PayoutMethod, error)
	// DeactivateMethod 只停用属于该讲师的账户，返回是否命中
	DeactivateMethod(ctx context.Context, instructorID, id uint) (bool, error)

	CreateRequest(ctx context.Context, req *model.WithdrawalRequest) error
	GetRequest(ctx context.Context, id uint) (*model.WithdrawalRequest, error)
	ListRequestsByInstructor(ctx context.Context, instructorID uint, offset, limit int) ([]model.WithdrawalRequest, int64, error)
	// ListRequests status 为空时返回全部
	ListRequests(ctx context.Context, status string, offset, limit int) ([]model.WithdrawalRequest, int64, error)
	// TransitionRequest 仅当当前状态为 from 时更新
	TransitionRequest(ctx context.Context, id uint, from string, update model.RequestUpdate) (bool, error)

	CreatePayout(ctx context.Context, payout *model.Payout) error
	GetPayout(ctx context.Context, id uint) (*model.Payout, error)
	// TransitionPayout 仅当当前状态属于 from 时更新
	TransitionPayout(ctx context.Context, id uint, from []string, update model.PayoutUpdate) (bool, error)
}

type withdrawalRepository struct {
	db *gorm.DB
}

func NewWithdrawalRepository(db *gorm.DB) WithdrawalRepository {
	return &withdrawalRepository{db: db}
}

func (r *withdrawalRepository) CreateMethod(ctx context.Context, method *model.PayoutMethod) error {
	return database.Conn(ctx, r.db).Create(method).Error
}

func (r *withdrawalRepository) GetMethod(ctx context.Context, id uint) (*model.PayoutMethod, error) {
	var method model.PayoutMethod
	if err := database.Conn(ctx, r.db).First(&method, id).Error; err != nil {
		return nil, err
	}
	return &method, nil
}

func (r *withdrawalRepository) ListMethods(ctx context.Context, instructorID uint) ([]model.PayoutMethod, error) {
	var list []model.PayoutMethod
	err := database.Conn(ctx, r.db).
		Where("instructor_id = ? AND is_active = ?", instructorID, true).
		Order("id").
		Find(&list).Error
	return list, err
}

func (r *withdrawalRepository) DeactivateMethod(ctx context.Context, instructorID, id uint) (bool, error) {
	result := database.Conn(ctx, r.db).Model(&model.PayoutMethod{}).
		Where("id = ? AND instructor_id = ?", id, instructorID).
		Update("is_active", false)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *withdrawalRepository) CreateRequest(ctx context.Context, req *model.WithdrawalRequest) error {
	return database.Conn(ctx, r.db).Create(req).Error
}

func (r *withdrawalRepository) GetRequest(ctx context.Context, id uint) (*model.WithdrawalRequest, error) {
	var req model.WithdrawalRequest
	if err := database.Conn(ctx, r.db).First(&req, id).Error; err != nil {
		return nil, err
	}
	return &req, nil
}

func (r *withdrawalRepository) ListRequestsByInstructor(ctx context.Context, instructorID uint, offset, limit int) ([]model.WithdrawalRequest, int64, error) {
	db := database.Conn(ctx, r.db).Model(&model.WithdrawalRequest{}).Where("instructor_id = ?", instructorID)
	return r.page(db, offset, limit)
}

func (r *withdrawalRepository) ListRequests(ctx context.Context, status string, offset, limit int) ([]model.WithdrawalRequest, int64, error) {
	db := database.Conn(ctx, r.db).Model(&model.WithdrawalRequest{})
	if status != "" {
		db = db.Where("status = ?", status)
	}
	return r.page(db, offset, limit)
}

func (r *withdrawalRepository) page(db *gorm.DB, offset, limit int) ([]model.WithdrawalRequest, int64, error) {
	var (
		list  []model.WithdrawalRequest
		total int64
	)
	if err := db.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	err := db.Order("id DESC").Offset(offset).Limit(limit).Find(&list).Error
	return list, total, err
}

func (r *withdrawalRepository) TransitionRequest(ctx context.Context, id uint, from string, update model.RequestUpdate) (bool, error) {
	result := database.Conn(ctx, r.db).Model(&model.WithdrawalRequest{}).
		Where("id = ? AND status = ?", id, from).
		UpdateColumns(update.Columns())
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *withdrawalRepository) CreatePayout(ctx context.Context, payout *model.Payout) error {
	return database.Conn(ctx, r.db).Create(payout).Error
}

func (r *withdrawalRepository) GetPayout(ctx context.Context, id uint) (*model.Payout, error) {
	var payout model.Payout
	if err := database.Conn(ctx, r.db).First(&payout, id).Error; err != nil {
		return nil, err
	}
	return &payout, nil
}

func (r *withdrawalRepository) TransitionPayout(ctx context.Context, id uint, from []string, update model.PayoutUpdate) (bool, error) {
	result := database.Conn(ctx, r.db).Model(&model.Payout{}).
		Where("id = ? AND status IN ?", id, from).
		UpdateColumns(update.Columns())
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}
