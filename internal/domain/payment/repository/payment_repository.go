package repository

import (
	"context"
	"encoding/json"
	"time"

	"course_market/internal/domain/payment/model"
	"course_market/pkg/database"

	"gorm.io/gorm"
)

// PaymentUpdate 回调重投时允许更新的字段
type PaymentUpdate struct {
	ExternalTransactionID string
	Status                string
	CompletedAt           *time.Time
	RawProviderPayload    json.RawMessage
}

type PaymentRepository interface {
	Create(ctx context.Context, payment *model.Payment) error
	GetByExternalID(ctx context.Context, externalID, method string) (*model.Payment, error)
	GetByOrderID(ctx context.Context, orderID uint) (*model.Payment, error)
	// Update 只更新非 SUCCESS 的记录，返回是否更新成功
	Update(ctx context.Context, id uint, update PaymentUpdate) (bool, error)
}

type paymentRepository struct {
	db *gorm.DB
}

func NewPaymentRepository(db *gorm.DB) PaymentRepository {
	return &paymentRepository{db: db}
}

func (r *paymentRepository) Create(ctx context.Context, payment *model.Payment) error {
	return database.Conn(ctx, r.db).Create(payment).Error
}

func (r *paymentRepository) GetByExternalID(ctx context.Context, externalID, method string) (*model.Payment, error) {
	var payment model.Payment
	err := database.Conn(ctx, r.db).
		Where("external_transaction_id = ? AND method = ?", externalID, method).
		First(&payment).Error
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

func (r *paymentRepository) GetByOrderID(ctx context.Context, orderID uint) (*model.Payment, error) {
	var payment model.Payment
	if err := database.Conn(ctx, r.db).Where("order_id = ?", orderID).First(&payment).Error; err != nil {
		return nil, err
	}
	return &payment, nil
}

func (r *paymentRepository) Update(ctx context.Context, id uint, update PaymentUpdate) (bool, error) {
	cols := map[string]interface{}{
		"external_transaction_id": update.ExternalTransactionID,
		"status":                  update.Status,
		"updated_at":              time.Now(),
	}
	if update.CompletedAt != nil {
		cols["completed_at"] = *update.CompletedAt
	}
	if update.RawProviderPayload != nil {
		cols["raw_provider_payload"] = update.RawProviderPayload
	}

	result := database.Conn(ctx, r.db).Model(&model.Payment{}).
		Where("id = ? AND status <> ?", id, model.StatusSuccess).
		UpdateColumns(cols)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}
