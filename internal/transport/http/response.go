package httptransport

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// 分页参数
const (
	DefaultPageLimit = 50
	MaxPageLimit     = 200
)

// Response 单条数据响应
type Response struct {
	Data any `json:"data"`
	Meta any `json:"meta,omitempty"`
}

// PageMeta 分页信息
type PageMeta struct {
	Total  int64 `json:"total"`
	Limit  int   `json:"limit"`
	Offset int   `json:"offset"`
}

// ErrorBody 错误详情
type ErrorBody struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// ErrorResponse 错误响应
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// Success 成功响应（200）
func Success(c *gin.Context, data any) {
	c.JSON(http.StatusOK, Response{Data: data})
}

// Created 创建成功响应（201）
func Created(c *gin.Context, data any) {
	c.JSON(http.StatusCreated, Response{Data: data})
}

// Paginated 分页列表响应
func Paginated(c *gin.Context, items any, total int64, p Page) {
	c.JSON(http.StatusOK, Response{
		Data: items,
		Meta: PageMeta{Total: total, Limit: p.Limit, Offset: p.Offset},
	})
}

// NoContent 删除成功（204）
func NoContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}

// Error 通用错误响应
func Error(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, ErrorResponse{Error: ErrorBody{Code: status, Message: msg}})
}

// BadRequest 请求参数错误（400）
func BadRequest(c *gin.Context, msg string) {
	Error(c, http.StatusBadRequest, msg)
}

// NotFound 资源不存在（404）
func NotFound(c *gin.Context, msg string) {
	Error(c, http.StatusNotFound, msg)
}

// ValidationFailed 字段校验失败（422）
func ValidationFailed(c *gin.Context, details any) {
	c.AbortWithStatusJSON(http.StatusUnprocessableEntity, ErrorResponse{Error: ErrorBody{
		Code:    http.StatusUnprocessableEntity,
		Message: MsgValidationError,
		Details: details,
	}})
}

// InternalError 服务器内部错误（500）
func InternalError(c *gin.Context) {
	Error(c, http.StatusInternalServerError, MsgInternalError)
}

// Page 分页查询参数
type Page struct {
	Limit  int
	Offset int
}

// bindPage 解析 limit/offset。limit 默认 50，必须在 1-200 之间；offset 不能为负。
func bindPage(c *gin.Context) (Page, bool) {
	p := Page{Limit: DefaultPageLimit}
	var details []fieldDetail

	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		switch {
		case err != nil:
			details = append(details, fieldDetail{Loc: []string{"query", "limit"}, Msg: "Input should be a valid integer"})
		case n < 1 || n > MaxPageLimit:
			details = append(details, fieldDetail{Loc: []string{"query", "limit"}, Msg: "Input should be between 1 and 200"})
		default:
			p.Limit = n
		}
	}
	if raw := c.Query("offset"); raw != "" {
		n, err := strconv.Atoi(raw)
		switch {
		case err != nil:
			details = append(details, fieldDetail{Loc: []string{"query", "offset"}, Msg: "Input should be a valid integer"})
		case n < 0:
			details = append(details, fieldDetail{Loc: []string{"query", "offset"}, Msg: "Input should be greater than or equal to 0"})
		default:
			p.Offset = n
		}
	}

	if len(details) > 0 {
		ValidationFailed(c, details)
		return p, false
	}
	return p, true
}

// fieldDetail 查询参数或请求体的校验失败项
type fieldDetail struct {
	Loc []string `json:"loc"`
	Msg string   `json:"msg"`
}
