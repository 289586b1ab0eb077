package protocol

import (
	"encoding/binary"
	"math"
)

// Command 一条待编码的下行指令。由调用方构造、编码器一次性消费。
type Command struct {
	Op      byte
	Payload []byte
}

// GetFrequency 查询当前频率
func GetFrequency() Command { return Command{Op: CmdGetFrequency} }

// SetFrequency 设置频率（MHz），负载为 4 字节小端 IEEE-754 浮点
func SetFrequency(mhz float32) Command {
	data := make([]byte, 4)
	binary.LittleEndian.PutUint32(data, math.Float32bits(mhz))
	return Command{Op: CmdSetFrequency, Payload: data}
}

// GetVolume 查询音量
func GetVolume() Command { return Command{Op: CmdGetVolume} }

// SetVolume 设置音量（0-10）
func SetVolume(volume uint8) Command {
	return Command{Op: CmdSetVolume, Payload: []byte{volume}}
}

// GetChannel 查询信道
func GetChannel() Command { return Command{Op: CmdGetChannel} }

// SetChannel 设置信道
func SetChannel(channel uint8) Command {
	return Command{Op: CmdSetChannel, Payload: []byte{channel}}
}

// GetRssi 查询信号强度
func GetRssi() Command { return Command{Op: CmdGetRssi} }

// GetBattery 查询电池电量
func GetBattery() Command { return Command{Op: CmdGetBattery} }

// PttPress 按下 PTT
func PttPress() Command { return Command{Op: CmdPttPress} }

// PttRelease 释放 PTT
func PttRelease() Command { return Command{Op: CmdPttRelease} }

// SetScanMode 开关扫描模式
func SetScanMode(on bool) Command {
	mode := byte(0)
	if on {
		mode = 1
	}
	return Command{Op: CmdSetScanMode, Payload: []byte{mode}}
}

// GetSquelch 查询静噪值
func GetSquelch() Command { return Command{Op: CmdGetSquelch} }

// SetSquelch 设置静噪值（0-9）
func SetSquelch(squelch uint8) Command {
	return Command{Op: CmdSetSquelch, Payload: []byte{squelch}}
}

// SendAudio 封装一帧下行音频。超过 MaxAudioPayload 的数据只取前段，
// 不做拆分，防止设备侧缓冲区溢出。
func SendAudio(pcm []byte) Command {
	if len(pcm) > MaxAudioPayload {
		pcm = pcm[:MaxAudioPayload]
	}
	data := make([]byte, len(pcm))
	copy(data, pcm)
	return Command{Op: CmdSendAudio, Payload: data}
}
