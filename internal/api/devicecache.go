package api

import (
	"sync"

	"github.com/openwalkie/intercomd/internal/transport"
)

// DeviceCache 缓存最近一次扫描播报的完整设备列表，供查询接口直接返回。
// 每批播报都是全量列表，整体替换即可。
type DeviceCache struct {
	mu   sync.RWMutex
	devs []transport.DeviceDescriptor
}

func NewDeviceCache() *DeviceCache { return &DeviceCache{} }

// OnDevicesFound 实现设备监听接口
func (dc *DeviceCache) OnDevicesFound(devs []transport.DeviceDescriptor) {
	dc.mu.Lock()
	dc.devs = append([]transport.DeviceDescriptor(nil), devs...)
	dc.mu.Unlock()
}

// Snapshot 返回当前缓存的设备列表副本
func (dc *DeviceCache) Snapshot() []transport.DeviceDescriptor {
	dc.mu.RLock()
	defer dc.mu.RUnlock()
	return append([]transport.DeviceDescriptor(nil), dc.devs...)
}
