package hub

import (
	"sync"

	"github.com/openwalkie/intercomd/internal/metrics"
	"github.com/openwalkie/intercomd/internal/protocol"
	"github.com/openwalkie/intercomd/internal/transport"
)

// ConnectionListener 连接生命周期事件
type ConnectionListener interface {
	OnConnected(desc transport.DeviceDescriptor)
	OnDisconnected()
	OnPermissionDenied()
	OnLinkError(msg string)
}

// ResponseListener 命令响应事件
type ResponseListener interface {
	OnResponse(resp protocol.Response)
}

// DeviceListener 设备发现事件。devs 每次都是累计完整列表。
type DeviceListener interface {
	OnDevicesFound(devs []transport.DeviceDescriptor)
}

// AudioListener 上行音频帧事件
type AudioListener interface {
	OnAudioFrame(pcm []byte)
}

// Hub 四类监听器的广播注册表。注册与移除都是幂等的集合语义，
// 同一注册表内按注册顺序派发；派发基于快照，监听器在自己的
// 回调里移除自己是合法用法。注册表之间不保证相对顺序。
type Hub struct {
	conn  registry[ConnectionListener]
	resp  registry[ResponseListener]
	dev   registry[DeviceListener]
	audio registry[AudioListener]
	m     *metrics.AppMetrics
}

// New 创建事件中心；m 可为 nil（测试场景）
func New(m *metrics.AppMetrics) *Hub {
	return &Hub{m: m}
}

func (h *Hub) AddConnectionListener(l ConnectionListener)    { h.conn.add(l) }
func (h *Hub) RemoveConnectionListener(l ConnectionListener) { h.conn.remove(l) }
func (h *Hub) AddResponseListener(l ResponseListener)        { h.resp.add(l) }
func (h *Hub) RemoveResponseListener(l ResponseListener)     { h.resp.remove(l) }
func (h *Hub) AddDeviceListener(l DeviceListener)            { h.dev.add(l) }
func (h *Hub) RemoveDeviceListener(l DeviceListener)         { h.dev.remove(l) }
func (h *Hub) AddAudioListener(l AudioListener)              { h.audio.add(l) }
func (h *Hub) RemoveAudioListener(l AudioListener)           { h.audio.remove(l) }

// NotifyConnected 广播连接建立
func (h *Hub) NotifyConnected(desc transport.DeviceDescriptor) {
	h.count("connection")
	for _, l := range h.conn.snapshot() {
		l.OnConnected(desc)
	}
}

// NotifyDisconnected 广播连接断开
func (h *Hub) NotifyDisconnected() {
	h.count("connection")
	for _, l := range h.conn.snapshot() {
		l.OnDisconnected()
	}
}

// NotifyPermissionDenied 广播授权缺失
func (h *Hub) NotifyPermissionDenied() {
	h.count("connection")
	for _, l := range h.conn.snapshot() {
		l.OnPermissionDenied()
	}
}

// NotifyLinkError 广播链路错误（携带可读原因）
func (h *Hub) NotifyLinkError(msg string) {
	h.count("connection")
	for _, l := range h.conn.snapshot() {
		l.OnLinkError(msg)
	}
}

// NotifyResponse 广播一条解码后的响应
func (h *Hub) NotifyResponse(resp protocol.Response) {
	h.count("response")
	for _, l := range h.resp.snapshot() {
		l.OnResponse(resp)
	}
}

// NotifyDevicesFound 广播发现结果（全量列表）
func (h *Hub) NotifyDevicesFound(devs []transport.DeviceDescriptor) {
	h.count("device")
	for _, l := range h.dev.snapshot() {
		l.OnDevicesFound(devs)
	}
}

// NotifyAudioFrame 广播一帧上行音频
func (h *Hub) NotifyAudioFrame(pcm []byte) {
	h.count("audio")
	for _, l := range h.audio.snapshot() {
		l.OnAudioFrame(pcm)
	}
}

func (h *Hub) count(category string) {
	if h.m != nil {
		h.m.EventsDispatchTotal.WithLabelValues(category).Inc()
	}
}

// registry 幂等的有序监听器集合。快照式迭代保证派发期间的
// 增删不影响本轮通知。
type registry[T comparable] struct {
	mu    sync.Mutex
	items []T
}

func (r *registry[T]) add(v T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, it := range r.items {
		if it == v {
			return // 重复注册无效果
		}
	}
	r.items = append(r.items, v)
}

func (r *registry[T]) remove(v T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, it := range r.items {
		if it == v {
			r.items = append(r.items[:i], r.items[i+1:]...)
			return
		}
	}
}

func (r *registry[T]) snapshot() []T {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]T, len(r.items))
	copy(out, r.items)
	return out
}
