package transport

import (
	"context"
	"errors"
	"strings"
)

// Kind 链路类型
type Kind string

const (
	KindSerial Kind = "serial"
	KindBLE    Kind = "ble"
)

// 链路层错误分类。具体实现负责把底层错误包装到这些哨兵上。
var (
	ErrLinkUnavailable  = errors.New("link unavailable")
	ErrPermissionDenied = errors.New("permission denied")
	ErrDeviceNotFound   = errors.New("device not found")
	ErrNoDriverMatch    = errors.New("no usable driver for device")
	ErrNotConnected     = errors.New("not connected")
)

// DeviceDescriptor 发现阶段产出的候选设备。
// LooksLikeIntercom 只是关键字/厂商号启发式判断，不是保证。
type DeviceDescriptor struct {
	Link              Kind   `json:"link"`
	ID                string `json:"id"` // serial: 端口名; ble: 设备地址
	Name              string `json:"name"`
	VendorID          string `json:"vendorId,omitempty"`
	ProductID         string `json:"productId,omitempty"`
	LooksLikeIntercom bool   `json:"looksLikeIntercom"`
}

// Sink 接收链路上行字节与链路级事件。回调所在协程由具体链路决定，
// 实现方必须假定它们与写入工作协程并发。
type Sink interface {
	// OnBytes 上行原始字节，切片归调用方所有
	OnBytes(p []byte)
	// OnLinkDown 链路侧断开。err 非空表示读取失败，nil 表示对端正常断开
	OnLinkDown(err error)
	// OnServiceDiscovery 仅 BLE：底层已连接，进入 GATT 服务发现阶段
	OnServiceDiscovery()
}

// Transport 串口与 BLE 链路的公共契约。
// 上行為推送式：链路把收到的字节回调给唯一注册的 Sink，不对上层暴露阻塞读。
type Transport interface {
	Kind() Kind

	// Discover 扫描候选设备并通过 found 回调交付。
	// 串口为一次性快照；BLE 在扫描窗口内增量回调，每次携带累计完整列表。
	// 阻塞直至扫描结束或 ctx 取消。
	Discover(ctx context.Context, found func([]DeviceDescriptor)) error

	// Connect 建立到指定设备的连接，先拆除已有连接。
	Connect(desc DeviceDescriptor) error

	// Disconnect 幂等断开并释放链路句柄。
	Disconnect() error

	// Write 下行写入一帧，由会话的写入工作协程串行调用。
	Write(p []byte) error

	// SetSink 注册唯一的上行回调，必须在 Connect 之前调用。
	SetSink(s Sink)
}

// 常见 USB 转串口芯片厂商 VID：Prolific、FTDI、Silicon Labs、ST
var knownSerialVendors = map[string]bool{
	"067B": true,
	"0403": true,
	"10C4": true,
	"0483": true,
}

var intercomKeywords = []string{"intercom", "walkie", "talkie", "radio", "transceiver", "对讲机", "通信"}

// serialLooksLikeIntercom 依据 VID 或产品描述关键字判断串口候选设备
func serialLooksLikeIntercom(vid, product string) bool {
	if knownSerialVendors[strings.ToUpper(vid)] {
		return true
	}
	return containsKeyword(product)
}

// bleLooksLikeIntercom 依据广播名判断 BLE 候选设备
func bleLooksLikeIntercom(name string) bool {
	return containsKeyword(name)
}

func containsKeyword(s string) bool {
	lower := strings.ToLower(s)
	for _, kw := range intercomKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
