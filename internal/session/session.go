package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/openwalkie/intercomd/internal/hub"
	"github.com/openwalkie/intercomd/internal/metrics"
	"github.com/openwalkie/intercomd/internal/protocol"
	"github.com/openwalkie/intercomd/internal/transport"
)

// writeQueueDepth 写队列深度。入队满即丢帧并上报事件，绝不阻塞调用方。
const writeQueueDepth = 64

// ErrBusy 已有连接流程在进行中。
var ErrBusy = errors.New("session: connect already in progress")

// Session 链路会话。持有唯一的连接状态机、每连接一个的写工作协程，
// 并作为 transport.Sink 接收字节与链路事件。所有事件经事件中心分发。
//
// 会话不做请求与响应的配对：响应按到达顺序广播，由上层自行关联。
// 读链路断开后不自动重连。
type Session struct {
	log *zap.Logger
	m   *metrics.AppMetrics
	hub *hub.Hub

	transports map[transport.Kind]transport.Transport

	mu         sync.Mutex
	phase      Phase
	active     transport.Transport
	device     *transport.DeviceDescriptor
	id         uuid.UUID
	writeCh    chan []byte
	stopCh     chan struct{}
	scanCtx    context.Context
	scanCancel context.CancelFunc
}

// New 创建会话。transports 按链路种类注册，可只注册其中一种。
func New(log *zap.Logger, m *metrics.AppMetrics, h *hub.Hub, transports map[transport.Kind]transport.Transport) *Session {
	s := &Session{
		log:        log,
		m:          m,
		hub:        h,
		transports: transports,
		phase:      PhaseDisconnected,
	}
	for _, t := range transports {
		t.SetSink(s)
	}
	return s
}

// Phase 返回当前连接阶段。
func (s *Session) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// Device 返回当前连接的设备描述，未连接时为 nil。
func (s *Session) Device() *transport.DeviceDescriptor {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.device == nil {
		return nil
	}
	d := *s.device
	return &d
}

// ID 返回当前（或最近一次）连接的会话标识。
func (s *Session) ID() uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// Scan 在指定链路上启动一次设备发现。立即返回，结果通过设备事件分批广播，
// 每批都是到目前为止的完整列表。只允许在断开状态下发起。
func (s *Session) Scan(ctx context.Context, kind transport.Kind) error {
	t, ok := s.transports[kind]
	if !ok {
		return fmt.Errorf("%w: %s", transport.ErrLinkUnavailable, kind)
	}
	scanCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	if s.phase != PhaseDisconnected {
		p := s.phase
		s.mu.Unlock()
		cancel()
		return fmt.Errorf("session: scan rejected in phase %s", p)
	}
	s.setPhaseLocked(PhaseDiscovering)
	s.scanCtx = scanCtx
	s.scanCancel = cancel
	s.mu.Unlock()

	go func() {
		defer cancel()
		err := t.Discover(scanCtx, func(devs []transport.DeviceDescriptor) {
			if s.m != nil {
				s.m.ScanDevicesGauge.Set(float64(len(devs)))
			}
			s.hub.NotifyDevicesFound(devs)
		})
		s.mu.Lock()
		if s.phase == PhaseDiscovering {
			s.setPhaseLocked(PhaseDisconnected)
		}
		if s.scanCtx == scanCtx {
			s.scanCtx = nil
			s.scanCancel = nil
		}
		s.mu.Unlock()
		// 被连接或断开取消的扫描不算失败
		if err != nil && scanCtx.Err() == nil {
			s.log.Warn("设备发现失败", zap.String("link", string(kind)), zap.Error(err))
			s.hub.NotifyLinkError("scan: " + err.Error())
		}
	}()
	return nil
}

// Connect 发起到指定设备的连接。立即返回，结果通过连接事件广播。
// 已有连接会先被完整拆除（含断开事件），正在进行的连接流程则直接拒绝。
func (s *Session) Connect(desc transport.DeviceDescriptor) error {
	t, ok := s.transports[desc.Link]
	if !ok {
		return fmt.Errorf("%w: %s", transport.ErrLinkUnavailable, desc.Link)
	}
	s.mu.Lock()
	switch s.phase {
	case PhaseAwaitingPermission, PhaseConnecting, PhaseDiscoveringServices:
		s.mu.Unlock()
		return ErrBusy
	}
	// 准入检查、旧链路拆除与进入连接阶段在同一临界区内完成，
	// 并发的 Connect 只有一个能通过。
	wasConnected := s.phase == PhaseConnected
	cancelScan := s.scanCancel
	s.scanCtx = nil
	s.scanCancel = nil
	old, stop := s.teardownLocked()
	// BLE 的系统授权检查发生在传输层连接流程内部，对外统一呈现为等待授权；
	// 串口无授权环节，直接进入连接中。
	if desc.Link == transport.KindBLE {
		s.setPhaseLocked(PhaseAwaitingPermission)
	} else {
		s.setPhaseLocked(PhaseConnecting)
	}
	s.active = t
	d := desc
	s.device = &d
	s.mu.Unlock()

	if cancelScan != nil {
		cancelScan()
	}
	if stop != nil {
		close(stop)
	}
	if old != nil {
		_ = old.Disconnect()
	}
	// 断开事件只属于真正建立过的链路；扫描中选择设备不产生断开事件
	if wasConnected {
		s.hub.NotifyDisconnected()
	}

	go s.runConnect(t, desc)
	return nil
}

func (s *Session) runConnect(t transport.Transport, desc transport.DeviceDescriptor) {
	err := t.Connect(desc)

	s.mu.Lock()
	switch s.phase {
	case PhaseAwaitingPermission, PhaseConnecting, PhaseDiscoveringServices:
	default:
		// 连接期间被显式断开，结果作废。
		s.mu.Unlock()
		if err == nil {
			_ = t.Disconnect()
		}
		return
	}

	if err != nil {
		s.setPhaseLocked(PhaseErroring)
		s.active = nil
		s.device = nil
		s.setPhaseLocked(PhaseDisconnected)
		s.mu.Unlock()
		s.log.Warn("连接失败", zap.String("device", desc.ID), zap.Error(err))
		if errors.Is(err, transport.ErrPermissionDenied) {
			s.hub.NotifyPermissionDenied()
		} else {
			s.hub.NotifyLinkError("connect: " + err.Error())
		}
		s.hub.NotifyDisconnected()
		return
	}

	s.id = uuid.New()
	s.writeCh = make(chan []byte, writeQueueDepth)
	s.stopCh = make(chan struct{})
	go s.writeLoop(t, s.writeCh, s.stopCh)
	s.setPhaseLocked(PhaseConnected)
	id := s.id
	s.mu.Unlock()

	s.log.Info("链路已建立",
		zap.String("session", id.String()),
		zap.String("link", string(desc.Link)),
		zap.String("device", desc.ID),
	)
	s.hub.NotifyConnected(desc)
}

// Disconnect 主动断开当前链路。已断开时为无副作用的空操作，不发任何事件。
// 断开事件只在拆除真正建立过的链路时广播：中止扫描或连接流程
// 不会让监听方看到凭空出现的断开。并发调用安全。
func (s *Session) Disconnect() {
	s.mu.Lock()
	if s.phase == PhaseDisconnected {
		s.mu.Unlock()
		return
	}
	wasConnected := s.phase == PhaseConnected
	cancelScan := s.scanCancel
	s.scanCtx = nil
	s.scanCancel = nil
	t, stop := s.teardownLocked()
	s.mu.Unlock()

	if cancelScan != nil {
		cancelScan()
	}
	if stop != nil {
		close(stop)
	}
	if t != nil {
		_ = t.Disconnect()
	}
	if wasConnected {
		s.hub.NotifyDisconnected()
	}
}

// Send 编码并入队一条命令帧。未连接时拒绝：返回错误并同时广播一条错误事件。
// 队列满时丢帧并上报，绝不阻塞。
func (s *Session) Send(cmd protocol.Command) error {
	s.mu.Lock()
	connected := s.phase == PhaseConnected
	ch := s.writeCh
	s.mu.Unlock()

	if !connected || ch == nil {
		s.hub.NotifyLinkError("not connected: command " + protocol.CmdName(cmd.Op) + " rejected")
		return transport.ErrNotConnected
	}

	frame := protocol.Encode(cmd)
	if s.m != nil {
		s.m.FramesEncodedTotal.WithLabelValues(protocol.CmdName(cmd.Op)).Inc()
	}
	select {
	case ch <- frame:
		return nil
	default:
		if s.m != nil {
			s.m.WriteFailureTotal.Inc()
		}
		s.hub.NotifyLinkError("write queue full, frame dropped")
		return errors.New("session: write queue full")
	}
}

// SendAudio 封装音频帧发送。超过单帧上限的数据由编码层截断。
func (s *Session) SendAudio(pcm []byte) error {
	return s.Send(protocol.SendAudio(pcm))
}

// writeLoop 每个连接唯一的写工作协程，保证帧按入队顺序串行写出。
// 单次写失败只上报事件，不改变会话状态；链路级故障由读环路上报。
func (s *Session) writeLoop(t transport.Transport, ch <-chan []byte, stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case frame := <-ch:
			if err := t.Write(frame); err != nil {
				if s.m != nil {
					s.m.WriteFailureTotal.Inc()
				}
				s.log.Warn("写出失败", zap.Int("bytes", len(frame)), zap.Error(err))
				s.hub.NotifyLinkError("write: " + err.Error())
			}
		}
	}
}

// OnBytes 传输层读到的入站字节。音频帧与状态响应走不同的裸格式，
// 解码失败的数据静默丢弃并计数。
func (s *Session) OnBytes(raw []byte) {
	if s.m != nil {
		s.m.BytesReceivedTotal.Add(float64(len(raw)))
	}
	if len(raw) > 0 && raw[0] == protocol.RespReceiveAudio {
		pcm := protocol.DecodeAudio(raw)
		if pcm == nil {
			if s.m != nil {
				s.m.DecodeDropTotal.WithLabelValues("audio_length").Inc()
			}
			return
		}
		if s.m != nil {
			s.m.AudioFramesTotal.Inc()
		}
		s.hub.NotifyAudioFrame(pcm)
		return
	}
	resp, err := protocol.DecodeResponse(raw)
	if err != nil {
		if s.m != nil {
			s.m.DecodeDropTotal.WithLabelValues("too_short").Inc()
		}
		return
	}
	if s.m != nil {
		s.m.ResponsesTotal.WithLabelValues(protocol.KindName(resp.Kind)).Inc()
	}
	s.hub.NotifyResponse(resp)
}

// OnLinkDown 链路在读方向上终结。err 非空时恰好发一条错误事件，
// 随后总是恰好一条断开事件。不自动重连。主动断开后的回声被忽略。
func (s *Session) OnLinkDown(err error) {
	s.mu.Lock()
	if s.phase == PhaseDisconnected {
		s.mu.Unlock()
		return
	}
	s.setPhaseLocked(PhaseErroring)
	t, stop := s.teardownLocked()
	s.mu.Unlock()

	if stop != nil {
		close(stop)
	}
	if t != nil {
		_ = t.Disconnect()
	}
	if err != nil {
		s.log.Warn("链路中断", zap.Error(err))
		s.hub.NotifyLinkError("read: " + err.Error())
	}
	s.hub.NotifyDisconnected()
}

// OnServiceDiscovery BLE 物理连接已建立，进入服务与特征发现。
func (s *Session) OnServiceDiscovery() {
	s.mu.Lock()
	switch s.phase {
	case PhaseAwaitingPermission, PhaseConnecting:
		s.setPhaseLocked(PhaseDiscoveringServices)
	}
	s.mu.Unlock()
}

// teardownLocked 清空连接资源并落回断开阶段，返回待关闭的传输与停止信号。
func (s *Session) teardownLocked() (transport.Transport, chan struct{}) {
	t := s.active
	stop := s.stopCh
	s.active = nil
	s.device = nil
	s.writeCh = nil
	s.stopCh = nil
	s.setPhaseLocked(PhaseDisconnected)
	return t, stop
}

func (s *Session) setPhaseLocked(p Phase) {
	if s.phase == p {
		return
	}
	s.log.Debug("会话阶段切换", zap.Stringer("from", s.phase), zap.Stringer("to", p))
	s.phase = p
	if s.m != nil {
		s.m.PhaseGauge.Set(float64(p))
	}
}
