package handler

import (
	"course_market/internal/domain/settings/service"
	"course_market/internal/pkg/common"
	"course_market/pkg/response"

	"github.com/gin-gonic/gin"
)

type SettingsHandler struct {
	service service.SettingsService
}

func NewSettingsHandler(service service.SettingsService) *SettingsHandler {
	return &SettingsHandler{service: service}
}

func (h *SettingsHandler) List(c *gin.Context) {
	list, err := h.service.List(c.Request.Context())
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, list)
}

type UpdateSettingInput struct {
	Key   string `json:"key" binding:"required"`
	Value string `json:"value" binding:"required"`
}

func (h *SettingsHandler) Update(c *gin.Context) {
	var input UpdateSettingInput
	if !common.BindJSON(c, &input) {
		return
	}
	if err := h.service.Update(c.Request.Context(), input.Key, input.Value); err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, nil)
}
