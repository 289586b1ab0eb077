package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/openwalkie/intercomd/internal/hub"
	"github.com/openwalkie/intercomd/internal/protocol"
	"github.com/openwalkie/intercomd/internal/transport"
)

// Event 事件流统一信封
type Event struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data,omitempty"`
}

const (
	eventQueueDepth = 256
	writeWait       = 5 * time.Second
)

// EventStream 把事件中心的四类事件经 WebSocket 推给订阅端。
// 每个连接注册一套独立监听器，断开即注销。
type EventStream struct {
	hub      *hub.Hub
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

// NewEventStream 创建事件流处理器
func NewEventStream(h *hub.Hub, logger *zap.Logger) *EventStream {
	return &EventStream{
		hub:    h,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// 本地守护进程，订阅端来源不校验
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Serve 升级连接并持续推送事件，直到订阅端断开
func (es *EventStream) Serve(c *gin.Context) {
	conn, err := es.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		es.logger.Warn("WebSocket 升级失败", zap.Error(err))
		return
	}

	sub := &subscriber{events: make(chan Event, eventQueueDepth)}
	es.hub.AddConnectionListener(sub)
	es.hub.AddResponseListener(sub)
	es.hub.AddDeviceListener(sub)
	es.hub.AddAudioListener(sub)
	defer func() {
		es.hub.RemoveConnectionListener(sub)
		es.hub.RemoveResponseListener(sub)
		es.hub.RemoveDeviceListener(sub)
		es.hub.RemoveAudioListener(sub)
		_ = conn.Close()
	}()

	// 订阅确认：收到 hello 之后的事件不会漏
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(Event{Type: "hello", Timestamp: time.Now()}); err != nil {
		es.logger.Debug("事件流握手失败", zap.Error(err))
		return
	}

	// 读环路只为感知断开，入站数据一律丢弃
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case ev := <-sub.events:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(ev); err != nil {
				es.logger.Debug("事件推送中断", zap.Error(err))
				return
			}
		}
	}
}

// subscriber 单连接的事件缓冲。队列满时丢弃事件而不阻塞分发。
type subscriber struct {
	events chan Event
}

func (s *subscriber) push(typ string, data any) {
	select {
	case s.events <- Event{Type: typ, Timestamp: time.Now(), Data: data}:
	default:
	}
}

func (s *subscriber) OnConnected(d transport.DeviceDescriptor) { s.push("connected", d) }
func (s *subscriber) OnDisconnected()                          { s.push("disconnected", nil) }
func (s *subscriber) OnPermissionDenied()                      { s.push("permission_denied", nil) }
func (s *subscriber) OnLinkError(msg string)                   { s.push("link_error", gin.H{"message": msg}) }

func (s *subscriber) OnResponse(resp protocol.Response) {
	s.push("response", gin.H{
		"kind":    protocol.KindName(resp.Kind),
		"success": resp.Success,
		"payload": resp.Payload,
	})
}

func (s *subscriber) OnDevicesFound(devs []transport.DeviceDescriptor) {
	s.push("devices", devs)
}

func (s *subscriber) OnAudioFrame(pcm []byte) {
	// []byte 经 JSON 序列化为 base64
	s.push("audio", gin.H{"bytes": len(pcm), "pcm": pcm})
}
