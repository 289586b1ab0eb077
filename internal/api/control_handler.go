package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/openwalkie/intercomd/internal/protocol"
	"github.com/openwalkie/intercomd/internal/session"
	"github.com/openwalkie/intercomd/internal/transport"
)

// ControlHandler 链路控制API处理器。所有有副作用的操作都是异步的：
// 接口只负责受理，结果经事件流回传。
type ControlHandler struct {
	sess   *session.Session
	cache  *DeviceCache
	logger *zap.Logger
}

// NewControlHandler 创建链路控制API处理器
func NewControlHandler(sess *session.Session, cache *DeviceCache, logger *zap.Logger) *ControlHandler {
	return &ControlHandler{sess: sess, cache: cache, logger: logger}
}

// Scan 发起设备扫描
// link 取 serial 或 ble，缺省 serial。扫描结果经设备事件与 /devices 缓存回传。
func (h *ControlHandler) Scan(c *gin.Context) {
	link := transport.Kind(c.DefaultQuery("link", string(transport.KindSerial)))
	if link != transport.KindSerial && link != transport.KindBLE {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown link: " + string(link)})
		return
	}
	// 扫描生命周期长于本次请求，不挂在请求上下文上
	if err := h.sess.Scan(context.Background(), link); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"scanning": string(link)})
}

// Devices 返回最近一次扫描的设备列表
func (h *ControlHandler) Devices(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"devices": h.cache.Snapshot()})
}

type connectRequest struct {
	Link string `json:"link" binding:"required"`
	ID   string `json:"id" binding:"required"`
	Name string `json:"name"`
}

// Connect 发起到指定设备的连接，结果经连接事件回传
func (h *ControlHandler) Connect(c *gin.Context) {
	var req connectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	desc := transport.DeviceDescriptor{Link: transport.Kind(req.Link), ID: req.ID, Name: req.Name}
	if err := h.sess.Connect(desc); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"connecting": req.ID})
}

// Disconnect 断开当前链路。幂等：未连接时同样返回成功。
func (h *ControlHandler) Disconnect(c *gin.Context) {
	h.sess.Disconnect()
	c.JSON(http.StatusOK, gin.H{"phase": h.sess.Phase().String()})
}

// Status 返回会话状态
func (h *ControlHandler) Status(c *gin.Context) {
	resp := gin.H{"phase": h.sess.Phase().String()}
	if d := h.sess.Device(); d != nil {
		resp["device"] = d
		resp["session"] = h.sess.ID().String()
	}
	c.JSON(http.StatusOK, resp)
}

type pttRequest struct {
	Pressed *bool `json:"pressed" binding:"required"`
}

// Ptt 按下或释放 PTT
func (h *ControlHandler) Ptt(c *gin.Context) {
	var req pttRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	cmd := protocol.PttRelease()
	if *req.Pressed {
		cmd = protocol.PttPress()
	}
	if err := h.sess.Send(cmd); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"ptt": *req.Pressed})
}

// Query 发出一条状态查询命令，响应经响应事件回传
func (h *ControlHandler) Query(c *gin.Context) {
	var cmd protocol.Command
	field := c.Param("field")
	switch field {
	case "frequency":
		cmd = protocol.GetFrequency()
	case "volume":
		cmd = protocol.GetVolume()
	case "channel":
		cmd = protocol.GetChannel()
	case "rssi":
		cmd = protocol.GetRssi()
	case "battery":
		cmd = protocol.GetBattery()
	case "squelch":
		cmd = protocol.GetSquelch()
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown field: " + field})
		return
	}
	if err := h.sess.Send(cmd); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"query": field})
}

type setRequest struct {
	Frequency *float32 `json:"frequency"`
	Volume    *uint8   `json:"volume"`
	Channel   *uint8   `json:"channel"`
	Squelch   *uint8   `json:"squelch"`
	ScanMode  *bool    `json:"scanMode"`
}

// Set 下发设置命令。一次请求只接受一个字段。
func (h *ControlHandler) Set(c *gin.Context) {
	var req setRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var cmd protocol.Command
	switch {
	case req.Frequency != nil:
		cmd = protocol.SetFrequency(*req.Frequency)
	case req.Volume != nil:
		if *req.Volume > 10 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "volume out of range [0,10]"})
			return
		}
		cmd = protocol.SetVolume(*req.Volume)
	case req.Channel != nil:
		cmd = protocol.SetChannel(*req.Channel)
	case req.Squelch != nil:
		if *req.Squelch > 9 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "squelch out of range [0,9]"})
			return
		}
		cmd = protocol.SetSquelch(*req.Squelch)
	case req.ScanMode != nil:
		cmd = protocol.SetScanMode(*req.ScanMode)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "no field to set"})
		return
	}
	if err := h.sess.Send(cmd); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"sent": protocol.CmdName(cmd.Op)})
}
