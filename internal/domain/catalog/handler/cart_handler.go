package handler

import (
	"course_market/internal/domain/catalog/service"
	"course_market/internal/pkg/common"
	"course_market/internal/pkg/middleware"
	"course_market/pkg/response"

	"github.com/gin-gonic/gin"
)

type CartHandler struct {
	service service.CatalogService
}

func NewCartHandler(service service.CatalogService) *CartHandler {
	return &CartHandler{service: service}
}

func (h *CartHandler) GetCart(c *gin.Context) {
	lines, err := h.service.CartLines(c.Request.Context(), middleware.CurrentUserID(c))
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, lines)
}

type AddCartItemInput struct {
	CourseID uint `json:"courseId" binding:"required"`
}

func (h *CartHandler) AddItem(c *gin.Context) {
	var input AddCartItemInput
	if !common.BindJSON(c, &input) {
		return
	}
	if err := h.service.AddToCart(c.Request.Context(), middleware.CurrentUserID(c), input.CourseID); err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, nil)
}

func (h *CartHandler) RemoveItem(c *gin.Context) {
	courseID, ok := common.ParseID(c, "courseId")
	if !ok {
		return
	}
	if err := h.service.RemoveFromCart(c.Request.Context(), middleware.CurrentUserID(c), courseID); err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, nil)
}
