package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/wfunc/pinball/internal/errors"
	"github.com/wfunc/pinball/internal/middleware"
	"github.com/wfunc/pinball/internal/service"
)

// AuthHandler 操作员认证处理器
type AuthHandler struct {
	authService service.AuthService
}

// NewAuthHandler 创建认证处理器
func NewAuthHandler(authService service.AuthService) *AuthHandler {
	return &AuthHandler{
		authService: authService,
	}
}

// LoginRequest 登录请求
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// Login 操作员登录
func (h *AuthHandler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Code:    "INVALID_REQUEST",
			Message: "请求参数错误",
			Details: err.Error(),
		})
		return
	}

	result, err := h.authService.Login(c.Request.Context(), req.Username, req.Password, c.ClientIP())
	if err != nil {
		status := http.StatusUnauthorized
		if errors.GetCode(err) == errors.ErrPermissionDenied {
			status = http.StatusForbidden
		}
		c.JSON(status, ErrorResponse{
			Code:    "LOGIN_FAILED",
			Message: err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, result)
}

// RefreshRequest 刷新令牌请求
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

// RefreshToken 刷新访问令牌
func (h *AuthHandler) RefreshToken(c *gin.Context) {
	var req RefreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Code:    "INVALID_REQUEST",
			Message: "请求参数错误",
			Details: err.Error(),
		})
		return
	}

	token, err := h.authService.RefreshToken(c.Request.Context(), req.RefreshToken)
	if err != nil {
		c.JSON(http.StatusUnauthorized, ErrorResponse{
			Code:    "REFRESH_FAILED",
			Message: err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"access_token": token,
	})
}

// ChangePasswordRequest 修改密码请求
type ChangePasswordRequest struct {
	OldPassword string `json:"old_password" binding:"required"`
	NewPassword string `json:"new_password" binding:"required,min=6"`
}

// ChangePassword 修改自己的密码
func (h *AuthHandler) ChangePassword(c *gin.Context) {
	operatorID, ok := middleware.GetOperatorID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{
			Code:    "UNAUTHORIZED",
			Message: "未登录",
		})
		return
	}

	var req ChangePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Code:    "INVALID_REQUEST",
			Message: "请求参数错误",
			Details: err.Error(),
		})
		return
	}

	if err := h.authService.ChangePassword(c.Request.Context(), operatorID, req.OldPassword, req.NewPassword); err != nil {
		status := http.StatusBadRequest
		if errors.GetCode(err) == errors.ErrAuthentication {
			status = http.StatusUnauthorized
		}
		c.JSON(status, ErrorResponse{
			Code:    "CHANGE_PASSWORD_FAILED",
			Message: err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{Message: "密码已更新"})
}
