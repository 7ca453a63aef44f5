package api

import (
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/wfunc/pinball/internal/errors"
	"github.com/wfunc/pinball/internal/service"
)

// MachineHandler 机台诊断接口处理器
type MachineHandler struct {
	machine *service.MachineService
}

// NewMachineHandler 创建机台处理器
func NewMachineHandler(machine *service.MachineService) *MachineHandler {
	return &MachineHandler{
		machine: machine,
	}
}

// Status 全机状态
func (h *MachineHandler) Status(c *gin.Context) {
	status, err := h.machine.Status(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{
			Code:    "MACHINE_UNAVAILABLE",
			Message: err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, status)
}

// Devices 装置列表
func (h *MachineHandler) Devices(c *gin.Context) {
	status, err := h.machine.Status(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{
			Code:    "MACHINE_UNAVAILABLE",
			Message: err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"devices": status.Devices,
	})
}

// Device 单个装置详情
func (h *MachineHandler) Device(c *gin.Context) {
	name := c.Param("name")
	snap, err := h.machine.DeviceStatus(c.Request.Context(), name)
	if err != nil {
		h.writeMachineError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

// ResetDevice 复位弹射损坏的装置
func (h *MachineHandler) ResetDevice(c *gin.Context) {
	name := c.Param("name")
	if err := h.machine.ResetDevice(c.Request.Context(), name); err != nil {
		h.writeMachineError(c, err)
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Message: "装置已复位"})
}

// CollectRequest 收球请求
type CollectRequest struct {
	Tag string `json:"tag"`
}

// CollectBalls 触发收球
func (h *MachineHandler) CollectBalls(c *gin.Context) {
	var req CollectRequest
	// 收球标签可省略，默认收回home装置
	if err := c.ShouldBindJSON(&req); err != nil && err != io.EOF {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Code:    "INVALID_REQUEST",
			Message: "请求参数错误",
			Details: err.Error(),
		})
		return
	}
	if req.Tag == "" {
		req.Tag = "home"
	}

	if err := h.machine.CollectBalls(c.Request.Context(), req.Tag); err != nil {
		h.writeMachineError(c, err)
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Message: "收球已触发"})
}

// RequestToStartGame 开局前检查
func (h *MachineHandler) RequestToStartGame(c *gin.Context) {
	if err := h.machine.RequestToStartGame(c.Request.Context()); err != nil {
		if errors.GetCode(err) == errors.ErrGameStartDenied {
			c.JSON(http.StatusConflict, ErrorResponse{
				Code:    "GAME_START_DENIED",
				Message: err.Error(),
			})
			return
		}
		h.writeMachineError(c, err)
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Message: "允许开局"})
}

// BlockBallSearch 屏蔽台面寻球
func (h *MachineHandler) BlockBallSearch(c *gin.Context) {
	h.setBallSearchBlocked(c, true)
}

// UnblockBallSearch 放行台面寻球
func (h *MachineHandler) UnblockBallSearch(c *gin.Context) {
	h.setBallSearchBlocked(c, false)
}

func (h *MachineHandler) setBallSearchBlocked(c *gin.Context, blocked bool) {
	playfield := c.Param("name")
	if err := h.machine.SetBallSearchBlocked(c.Request.Context(), playfield, blocked); err != nil {
		h.writeMachineError(c, err)
		return
	}
	msg := "寻球已放行"
	if blocked {
		msg = "寻球已屏蔽"
	}
	c.JSON(http.StatusOK, SuccessResponse{Message: msg})
}

// Events 最近的机台事件
func (h *MachineHandler) Events(c *gin.Context) {
	limit := 50
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 500 {
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Code:    "INVALID_REQUEST",
				Message: "limit取值范围为1-500",
			})
			return
		}
		limit = n
	}

	events, err := h.machine.RecentEvents(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Code:    "QUERY_FAILED",
			Message: err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"events": events,
	})
}

// writeMachineError 按错误码映射HTTP状态
func (h *MachineHandler) writeMachineError(c *gin.Context, err error) {
	switch errors.GetCode(err) {
	case errors.ErrDeviceNotFound, errors.ErrPlayfieldNotFound:
		c.JSON(http.StatusNotFound, ErrorResponse{
			Code:    "DEVICE_NOT_FOUND",
			Message: err.Error(),
		})
	case errors.ErrDeviceNotResettable:
		c.JSON(http.StatusConflict, ErrorResponse{
			Code:    "DEVICE_NOT_RESETTABLE",
			Message: err.Error(),
		})
	case errors.ErrCanceled:
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{
			Code:    "MACHINE_UNAVAILABLE",
			Message: err.Error(),
		})
	default:
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Code:    "MACHINE_ERROR",
			Message: err.Error(),
		})
	}
}
