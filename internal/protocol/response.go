package protocol

import (
	"encoding/binary"
	"errors"
	"math"
)

// ErrTooShort 上行数据不足两个头字节
var ErrTooShort = errors.New("response too short")

// Response 一条解码后的上行响应
type Response struct {
	Kind    byte
	Success bool
	Payload []byte
}

// DecodeResponse 解析上行响应：[类型][状态][数据]。
// 注意上行是裸布局，没有起始/结束字节也没有校验和，与下行帧格式不对称；
// 这是设备固件的既有行为，这里原样保留而不是补成对称格式。
func DecodeResponse(raw []byte) (Response, error) {
	if len(raw) < 2 {
		return Response{}, ErrTooShort
	}
	payload := make([]byte, len(raw)-2)
	copy(payload, raw[2:])
	return Response{
		Kind:    raw[0],
		Success: raw[1] == RespSuccess,
		Payload: payload,
	}, nil
}

// DecodeAudio 解析音频透传包：[0xA1][长度][音频数据]。
// 任何标记、长度或越界问题都返回空切片；调用方把空当作"无音频"而非错误。
func DecodeAudio(raw []byte) []byte {
	if len(raw) <= 2 || raw[0] != CmdReceiveAudio {
		return nil
	}
	n := int(raw[1])
	if n == 0 || len(raw) < n+2 {
		return nil
	}
	out := make([]byte, n)
	copy(out, raw[2:n+2])
	return out
}

// 以下字段解析器保持固件约定的宽容行为：类型或长度不符时
// 静默返回零值，不报错。每次回零都会记入诊断计数（见 stats.go）。

// ParseFrequency 读取频率（MHz）
func (r Response) ParseFrequency() float32 {
	if r.Kind == RespFrequency && len(r.Payload) >= 4 {
		return math.Float32frombits(binary.LittleEndian.Uint32(r.Payload[:4]))
	}
	noteDefault("frequency")
	return 0
}

// ParseVolume 读取音量（0-10）
func (r Response) ParseVolume() int {
	if r.Kind == RespVolume && len(r.Payload) >= 1 {
		return int(r.Payload[0])
	}
	noteDefault("volume")
	return 0
}

// ParseSquelch 读取静噪值
func (r Response) ParseSquelch() int {
	if r.Kind == RespSquelch && len(r.Payload) >= 1 {
		return int(r.Payload[0])
	}
	noteDefault("squelch")
	return 0
}

// ParseChannel 读取信道
func (r Response) ParseChannel() int {
	if r.Kind == RespChannel && len(r.Payload) >= 1 {
		return int(r.Payload[0])
	}
	noteDefault("channel")
	return 0
}

// ParseRssi 读取信号强度（0-5）
func (r Response) ParseRssi() int {
	if r.Kind == RespRssi && len(r.Payload) >= 1 {
		return int(r.Payload[0])
	}
	noteDefault("rssi")
	return 0
}

// ParseBattery 读取电池电量（0-100）
func (r Response) ParseBattery() int {
	if r.Kind == RespBattery && len(r.Payload) >= 1 {
		return int(r.Payload[0])
	}
	noteDefault("battery")
	return 0
}

// ParseAudio 读取响应携带的音频数据；类型不符返回空
func (r Response) ParseAudio() []byte {
	if r.Kind == RespReceiveAudio && len(r.Payload) > 0 {
		return r.Payload
	}
	noteDefault("audio")
	return nil
}
