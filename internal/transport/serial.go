package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
	"go.uber.org/zap"

	cfgpkg "github.com/openwalkie/intercomd/internal/config"
	"github.com/openwalkie/intercomd/internal/metrics"
)

// Serial USB 串口链路。打开后按固定参数配置（9600-8N1），
// 由专属读协程以带超时的阻塞读轮询上行数据。
// 停止标志随连接生成：旧读协程可能还阻塞在一次带超时的读里，
// 它只会观察自己那一代的标志，不会误伤后续连接。
type Serial struct {
	cfg cfgpkg.SerialConfig
	log *zap.Logger
	m   *metrics.AppMetrics

	mu      sync.Mutex
	port    serial.Port
	sink    Sink
	reading *atomic.Bool
}

// NewSerial 创建串口链路
func NewSerial(cfg cfgpkg.SerialConfig, m *metrics.AppMetrics, log *zap.Logger) *Serial {
	return &Serial{cfg: cfg, m: m, log: log.Named("serial")}
}

func (s *Serial) Kind() Kind { return KindSerial }

// SetSink 注册上行回调
func (s *Serial) SetSink(sink Sink) {
	s.mu.Lock()
	s.sink = sink
	s.mu.Unlock()
}

// Discover 枚举当前接入的串口设备，一次性快照交付。
// 没有任何设备时返回 ErrDeviceNotFound，由会话层转成用户可见错误事件。
func (s *Serial) Discover(_ context.Context, found func([]DeviceDescriptor)) error {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return fmt.Errorf("enumerate serial ports: %w", err)
	}
	list := make([]DeviceDescriptor, 0, len(ports))
	for _, p := range ports {
		d := DeviceDescriptor{
			Link: KindSerial,
			ID:   p.Name,
			Name: p.Product,
		}
		if d.Name == "" {
			d.Name = p.Name
		}
		if p.IsUSB {
			d.VendorID = p.VID
			d.ProductID = p.PID
			d.LooksLikeIntercom = serialLooksLikeIntercom(p.VID, p.Product)
		}
		list = append(list, d)
	}
	if len(list) == 0 {
		return fmt.Errorf("no serial devices: %w", ErrDeviceNotFound)
	}
	found(list)
	return nil
}

// Connect 打开串口并启动读协程。已有连接会先被完整拆除。
func (s *Serial) Connect(desc DeviceDescriptor) error {
	_ = s.Disconnect()

	mode := &serial.Mode{
		BaudRate: s.cfg.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(desc.ID, mode)
	if err != nil {
		return fmt.Errorf("open %s: %w", desc.ID, classifyPortError(err))
	}
	if err := port.SetReadTimeout(s.cfg.ReadTimeout); err != nil {
		_ = port.Close()
		return fmt.Errorf("set read timeout: %w", err)
	}

	alive := &atomic.Bool{}
	alive.Store(true)
	s.mu.Lock()
	s.port = port
	s.reading = alive
	sink := s.sink
	s.mu.Unlock()

	go s.readLoop(port, sink, alive)

	s.log.Info("serial connected", zap.String("port", desc.ID), zap.Int("baud", s.cfg.BaudRate))
	return nil
}

// readLoop 专属读协程：带超时的阻塞读进固定缓冲区，超时零字节不是错误。
// alive 是本协程所属连接的停止标志；标志已清零后出现的 I/O 错误
// 属于被拆除的旧句柄，静默退出即可。
func (s *Serial) readLoop(port serial.Port, sink Sink, alive *atomic.Bool) {
	buf := make([]byte, s.bufferSize())
	for alive.Load() {
		n, err := port.Read(buf)
		if n > 0 {
			out := make([]byte, n)
			copy(out, buf[:n])
			if sink != nil {
				sink.OnBytes(out)
			}
		}
		if err != nil {
			if alive.Load() && sink != nil {
				if s.m != nil {
					s.m.ReadFailureTotal.Inc()
				}
				sink.OnLinkDown(fmt.Errorf("serial read: %w", err))
			}
			return
		}
	}
}

func (s *Serial) bufferSize() int {
	if s.cfg.BufferSize > 0 {
		return s.cfg.BufferSize
	}
	return 1024
}

// Disconnect 幂等断开：先清当前连接的停止标志再关句柄，
// 读协程最多再经历一次超时读后退出。
func (s *Serial) Disconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reading != nil {
		s.reading.Store(false)
		s.reading = nil
	}
	if s.port == nil {
		return nil
	}
	err := s.port.Close()
	s.port = nil
	if err != nil {
		return fmt.Errorf("close serial port: %w", err)
	}
	return nil
}

// Write 单次阻塞写出整帧，串口无需分片
func (s *Serial) Write(p []byte) error {
	s.mu.Lock()
	port := s.port
	s.mu.Unlock()
	if port == nil {
		return ErrNotConnected
	}
	for len(p) > 0 {
		n, err := port.Write(p)
		if err != nil {
			return fmt.Errorf("serial write: %w", err)
		}
		p = p[n:]
	}
	return nil
}

// classifyPortError 把 go.bug.st/serial 的错误码映射到链路层分类
func classifyPortError(err error) error {
	var pe *serial.PortError
	if errors.As(err, &pe) {
		switch pe.Code() {
		case serial.PermissionDenied:
			return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
		case serial.PortNotFound:
			return fmt.Errorf("%w: %v", ErrDeviceNotFound, err)
		case serial.InvalidSerialPort:
			return fmt.Errorf("%w: %v", ErrNoDriverMatch, err)
		}
	}
	return err
}
