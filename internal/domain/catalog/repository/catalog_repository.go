package repository

import (
	"context"

	"course_market/internal/domain/catalog/model"
	"course_market/pkg/database"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type CatalogRepository interface {
	GetCourse(ctx context.Context, id uint) (*model.Course, error)
	CartLines(ctx context.Context, userID uint) ([]model.CartLine, error)
	AddToCart(ctx context.Context, userID, courseID uint) error
	RemoveFromCart(ctx context.Context, userID, courseID uint) error
	ClearCart(ctx context.Context, userID uint) error
}

type catalogRepository struct {
	db *gorm.DB
}

func NewCatalogRepository(db *gorm.DB) CatalogRepository {
	return &catalogRepository{db: db}
}

func (r *catalogRepository) GetCourse(ctx context.Context, id uint) (*model.Course, error) {
	var course model.Course
	if err := database.Conn(ctx, r.db).First(&course, id).Error; err != nil {
		return nil, err
	}
	return &course, nil
}

// CartLines 购物车中已发布的课程，价格取当前课程价格
func (r *catalogRepository) CartLines(ctx context.Context, userID uint) ([]model.CartLine, error) {
	var lines []model.CartLine
	err := database.Conn(ctx, r.db).
		Table("cart_items").
		Select("courses.id AS course_id, courses.instructor_id, courses.title, courses.price").
		Joins("JOIN courses ON courses.id = cart_items.course_id").
		Where("cart_items.user_id = ? AND courses.status = ?", userID, model.CourseStatusPublished).
		Order("cart_items.id").
		Scan(&lines).Error
	return lines, err
}

func (r *catalogRepository) AddToCart(ctx context.Context, userID, courseID uint) error {
	return database.Conn(ctx, r.db).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&model.CartItem{UserID: userID, CourseID: courseID}).Error
}

func (r *catalogRepository) RemoveFromCart(ctx context.Context, userID, courseID uint) error {
	return database.Conn(ctx, r.db).
		Where("user_id = ? AND course_id = ?", userID, courseID).
		Delete(&model.CartItem{}).Error
}

func (r *catalogRepository) ClearCart(ctx context.Context, userID uint) error {
	return database.Conn(ctx, r.db).Where("user_id = ?", userID).Delete(&model.CartItem{}).Error
}
