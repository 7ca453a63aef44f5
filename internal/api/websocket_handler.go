package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	gorilla "github.com/gorilla/websocket"
	"github.com/wfunc/pinball/internal/middleware"
	"github.com/wfunc/pinball/internal/websocket"
	"go.uber.org/zap"
)

// WebSocketHandler 监控流接入处理器
type WebSocketHandler struct {
	hub      *websocket.Hub
	upgrader gorilla.Upgrader
	log      *zap.Logger
}

// NewWebSocketHandler 创建WebSocket处理器
func NewWebSocketHandler(hub *websocket.Hub, log *zap.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		hub: hub,
		upgrader: gorilla.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// 监控端跨域接入由认证中间件把关
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		log: log,
	}
}

// Monitor 升级连接并接入事件流
func (h *WebSocketHandler) Monitor(c *gin.Context) {
	username, _ := middleware.GetUsername(c)

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error("WebSocket升级失败",
			zap.String("operator", username),
			zap.Error(err))
		return
	}

	client := websocket.NewClient(h.hub, conn, username)
	h.hub.Register(client)

	go client.WritePump()
	go client.ReadPump()
}
