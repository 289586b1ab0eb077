package api

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/openwalkie/intercomd/internal/hub"
	"github.com/openwalkie/intercomd/internal/session"
)

// RegisterControlRoutes 注册链路控制与事件流路由。
// cache 需已注册为事件中心的设备监听器。
func RegisterControlRoutes(
	r *gin.Engine,
	sess *session.Session,
	h *hub.Hub,
	cache *DeviceCache,
	logger *zap.Logger,
) {
	if r == nil || sess == nil || h == nil {
		return
	}

	handler := NewControlHandler(sess, cache, logger)
	stream := NewEventStream(h, logger)

	v1 := r.Group("/api/v1")

	// 链路管理
	v1.POST("/scan", handler.Scan)
	v1.GET("/devices", handler.Devices)
	v1.POST("/connect", handler.Connect)
	v1.POST("/disconnect", handler.Disconnect)
	v1.GET("/status", handler.Status)

	// 设备控制
	v1.POST("/ptt", handler.Ptt)
	v1.POST("/query/:field", handler.Query)
	v1.POST("/set", handler.Set)

	// 事件流
	v1.GET("/events", stream.Serve)

	logger.Info("control routes registered", zap.Int("endpoints", 9))
}
