package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"tinygo.org/x/bluetooth"

	cfgpkg "github.com/openwalkie/intercomd/internal/config"
	"github.com/openwalkie/intercomd/internal/metrics"
)

// BLE 低功耗蓝牙链路。连接建立后还需要一轮 GATT 服务发现：
// 查找一个已知服务，其中同一个特征复用作收发（FFE1 透传），
// 并在宣告连接就绪前启用通知；启用失败视为连接失败。
type BLE struct {
	cfg     cfgpkg.BLEConfig
	log     *zap.Logger
	m       *metrics.AppMetrics
	adapter *bluetooth.Adapter

	mu        sync.Mutex
	enabled   bool
	sink      Sink
	device    bluetooth.Device
	char      bluetooth.DeviceCharacteristic
	connected bool
	scanning  bool
	seen      map[string]bluetooth.Address

	chunker ChunkWriter
}

// NewBLE 创建 BLE 链路，使用系统默认蓝牙适配器
func NewBLE(cfg cfgpkg.BLEConfig, m *metrics.AppMetrics, log *zap.Logger) *BLE {
	b := &BLE{
		cfg:     cfg,
		m:       m,
		log:     log.Named("ble"),
		adapter: bluetooth.DefaultAdapter,
		seen:    make(map[string]bluetooth.Address),
	}
	b.chunker = newPacedChunker(cfg.ChunkSize, cfg.ChunkInterval, b.writeChunk)
	// 链路侧断开（对端复位或超出距离）通过适配器回调到达
	b.adapter.SetConnectHandler(func(_ bluetooth.Device, connected bool) {
		if connected {
			return
		}
		b.mu.Lock()
		wasConnected := b.connected
		b.connected = false
		sink := b.sink
		b.mu.Unlock()
		if wasConnected && sink != nil {
			sink.OnLinkDown(nil)
		}
	})
	return b
}

func (b *BLE) Kind() Kind { return KindBLE }

// SetSink 注册上行回调
func (b *BLE) SetSink(sink Sink) {
	b.mu.Lock()
	b.sink = sink
	b.mu.Unlock()
}

// ensureEnabled 惰性启用蓝牙适配器；失败归类为链路不可用
func (b *BLE) ensureEnabled() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.enabled {
		return nil
	}
	if err := b.adapter.Enable(); err != nil {
		return fmt.Errorf("%w: enable bluetooth adapter: %v", ErrLinkUnavailable, err)
	}
	b.enabled = true
	return nil
}

// Discover 增量扫描：广播陆续到达时回调，按地址去重，
// 但每次都重发累计完整列表（监听方依赖每次拿到全量当前集合）。
// 扫描窗口到期或 ctx 取消后自动停止。无名广播跳过。
func (b *BLE) Discover(ctx context.Context, found func([]DeviceDescriptor)) error {
	if err := b.ensureEnabled(); err != nil {
		return err
	}

	b.mu.Lock()
	if b.scanning {
		b.mu.Unlock()
		return nil
	}
	b.scanning = true
	b.seen = make(map[string]bluetooth.Address)
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		b.scanning = false
		b.mu.Unlock()
	}()

	window := b.cfg.ScanWindow
	if window <= 0 {
		window = 10 * time.Second
	}
	stopTimer := time.AfterFunc(window, func() { _ = b.adapter.StopScan() })
	defer stopTimer.Stop()

	watchCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		<-watchCtx.Done()
		_ = b.adapter.StopScan()
	}()

	var list []DeviceDescriptor
	err := b.adapter.Scan(func(_ *bluetooth.Adapter, result bluetooth.ScanResult) {
		name := result.LocalName()
		if name == "" {
			return
		}
		addr := result.Address.String()

		b.mu.Lock()
		if _, dup := b.seen[addr]; dup {
			b.mu.Unlock()
			return
		}
		b.seen[addr] = result.Address
		b.mu.Unlock()

		list = append(list, DeviceDescriptor{
			Link:              KindBLE,
			ID:                addr,
			Name:              name,
			LooksLikeIntercom: bleLooksLikeIntercom(name),
		})
		found(append([]DeviceDescriptor(nil), list...))
	})
	if err != nil {
		return fmt.Errorf("ble scan: %w", err)
	}
	if len(list) == 0 {
		return fmt.Errorf("no ble devices: %w", ErrDeviceNotFound)
	}
	return nil
}

// Connect 连接 GATT、发现服务与特征并启用通知。
// 目标地址必须来自最近一次扫描的结果。
func (b *BLE) Connect(desc DeviceDescriptor) error {
	if err := b.ensureEnabled(); err != nil {
		return err
	}
	_ = b.Disconnect()

	b.mu.Lock()
	addr, ok := b.seen[desc.ID]
	sink := b.sink
	b.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s not in scan results", ErrDeviceNotFound, desc.ID)
	}

	dev, err := b.adapter.Connect(addr, bluetooth.ConnectionParams{})
	if err != nil {
		return fmt.Errorf("gatt connect %s: %w", desc.ID, err)
	}

	if sink != nil {
		sink.OnServiceDiscovery()
	}

	svcUUID, err := bluetooth.ParseUUID(b.cfg.ServiceUUID)
	if err != nil {
		_ = dev.Disconnect()
		return fmt.Errorf("parse service uuid: %w", err)
	}
	charUUID, err := bluetooth.ParseUUID(b.cfg.CharacteristicUUID)
	if err != nil {
		_ = dev.Disconnect()
		return fmt.Errorf("parse characteristic uuid: %w", err)
	}

	svcs, err := dev.DiscoverServices([]bluetooth.UUID{svcUUID})
	if err != nil || len(svcs) == 0 {
		_ = dev.Disconnect()
		return fmt.Errorf("service %s not found: %w", b.cfg.ServiceUUID, firstErr(err, ErrNoDriverMatch))
	}
	chars, err := svcs[0].DiscoverCharacteristics([]bluetooth.UUID{charUUID})
	if err != nil || len(chars) == 0 {
		_ = dev.Disconnect()
		return fmt.Errorf("characteristic %s not found: %w", b.cfg.CharacteristicUUID, firstErr(err, ErrNoDriverMatch))
	}
	char := chars[0]

	// 通知必须在宣告就绪前启用，失败即连接失败
	err = char.EnableNotifications(func(buf []byte) {
		if len(buf) == 0 {
			return
		}
		out := make([]byte, len(buf))
		copy(out, buf)
		b.mu.Lock()
		s := b.sink
		b.mu.Unlock()
		if s != nil {
			s.OnBytes(out)
		}
	})
	if err != nil {
		_ = dev.Disconnect()
		return fmt.Errorf("enable notifications: %w", err)
	}

	b.mu.Lock()
	b.device = dev
	b.char = char
	b.connected = true
	b.mu.Unlock()

	b.log.Info("ble connected", zap.String("address", desc.ID), zap.String("name", desc.Name))
	return nil
}

// Disconnect 幂等断开并释放 GATT 句柄
func (b *BLE) Disconnect() error {
	b.mu.Lock()
	wasConnected := b.connected
	dev := b.device
	b.connected = false
	b.mu.Unlock()
	if !wasConnected {
		return nil
	}
	if err := dev.Disconnect(); err != nil {
		return fmt.Errorf("gatt disconnect: %w", err)
	}
	return nil
}

// Write 把一帧交给分片策略发出
func (b *BLE) Write(p []byte) error {
	b.mu.Lock()
	connected := b.connected
	b.mu.Unlock()
	if !connected {
		return ErrNotConnected
	}
	return b.chunker.SendChunked(p)
}

// writeChunk 单片无确认写入
func (b *BLE) writeChunk(chunk []byte) error {
	b.mu.Lock()
	char := b.char
	connected := b.connected
	b.mu.Unlock()
	if !connected {
		return ErrNotConnected
	}
	if _, err := char.WriteWithoutResponse(chunk); err != nil {
		return err
	}
	if b.m != nil {
		b.m.ChunksSentTotal.Inc()
	}
	return nil
}

func firstErr(err, fallback error) error {
	if err != nil {
		return err
	}
	return fallback
}
