package repository

import (
	"context"
	"errors"

	"course_market/internal/domain/settings/model"
	"course_market/pkg/database"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type SettingRepository interface {
	// Get 不存在时返回 ok=false
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Upsert(ctx context.Context, key, value string) error
	List(ctx context.Context) ([]model.Setting, error)
}

type settingRepository struct {
	db *gorm.DB
}

func NewSettingRepository(db *gorm.DB) SettingRepository {
	return &settingRepository{db: db}
}

func (r *settingRepository) Get(ctx context.Context, key string) (string, bool, error) {
	var s model.Setting
	err := database.Conn(ctx, r.db).Where("key = ?", key).Take(&s).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return s.Value, true, nil
}

func (r *settingRepository) Upsert(ctx context.Context, key, value string) error {
	return database.Conn(ctx, r.db).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&model.Setting{Key: key, Value: value}).Error
}

func (r *settingRepository) List(ctx context.Context) ([]model.Setting, error) {
	var list []model.Setting
	err := database.Conn(ctx, r.db).Order("key").Find(&list).Error
	return list, err
}
