// Package common handler 公用的请求解析与依赖探活
package common

import (
	"net/http"
	"strconv"

	"course_market/pkg/response"
	"course_market/pkg/utils"

	"github.com/gin-gonic/gin"
)

// ParseID 解析路径中的数字 ID，失败时已写入 400 响应
func ParseID(c *gin.Context, name string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		response.Error(c, http.StatusBadRequest, response.ErrInvalidParam, "Invalid "+name)
		return 0, false
	}
	return uint(id), true
}

// BindJSON 绑定请求体，失败时已写入 400 响应
func BindJSON(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		response.Error(c, http.StatusBadRequest, response.ErrInvalidParam, err.Error())
		return false
	}
	return true
}

// BindPagination 绑定分页参数并补齐默认值
func BindPagination(c *gin.Context) utils.Pagination {
	var p utils.Pagination
	_ = c.ShouldBindQuery(&p)
	p.Normalize()
	return p
}
