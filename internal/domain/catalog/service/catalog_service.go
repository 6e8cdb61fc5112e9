package service

import (
	"context"
	"errors"

	"course_market/internal/domain/catalog/model"
	"course_market/internal/domain/catalog/repository"
	"course_market/pkg/apperr"

	"gorm.io/gorm"
)

var (
	ErrCourseNotFound     = apperr.New(apperr.KindNotFound, "course not found")
	ErrCourseNotAvailable = apperr.New(apperr.KindValidation, "course is not available for purchase")
)

// CatalogService 课程查询与购物车
type CatalogService interface {
	GetCourse(ctx context.Context, id uint) (*model.Course, error)
	CartLines(ctx context.Context, userID uint) ([]model.CartLine, error)
	AddToCart(ctx context.Context, userID, courseID uint) error
	RemoveFromCart(ctx context.Context, userID, courseID uint) error
	ClearCart(ctx context.Context, userID uint) error
}

type catalogService struct {
	repo repository.CatalogRepository
}

func NewCatalogService(repo repository.CatalogRepository) CatalogService {
	return &catalogService{repo: repo}
}

func (s *catalogService) GetCourse(ctx context.Context, id uint) (*model.Course, error) {
	course, err := s.repo.GetCourse(ctx, id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrCourseNotFound
	}
	return course, err
}

func (s *catalogService) CartLines(ctx context.Context, userID uint) ([]model.CartLine, error) {
	return s.repo.CartLines(ctx, userID)
}

func (s *catalogService) AddToCart(ctx context.Context, userID, courseID uint) error {
	course, err := s.GetCourse(ctx, courseID)
	if err != nil {
		return err
	}
	if course.Status != model.CourseStatusPublished {
		return ErrCourseNotAvailable
	}
	if course.InstructorID == userID {
		return ErrCourseNotAvailable.WithReason("own_course")
	}
	return s.repo.AddToCart(ctx, userID, courseID)
}

func (s *catalogService) RemoveFromCart(ctx context.Context, userID, courseID uint) error {
	return s.repo.RemoveFromCart(ctx, userID, courseID)
}

func (s *catalogService) ClearCart(ctx context.Context, userID uint) error {
	return s.repo.ClearCart(ctx, userID)
}
