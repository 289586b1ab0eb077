package protocol

// 下行帧分隔符
const (
	StartByte byte = 0xAA
	EndByte   byte = 0x55
)

// 下行命令操作码
const (
	CmdGetFrequency byte = 0x01 // 获取频率
	CmdSetFrequency byte = 0x02 // 设置频率
	CmdGetVolume    byte = 0x03 // 获取音量
	CmdSetVolume    byte = 0x04 // 设置音量
	CmdGetChannel   byte = 0x05 // 获取信道
	CmdSetChannel   byte = 0x06 // 设置信道
	CmdGetRssi      byte = 0x07 // 获取信号强度
	CmdGetBattery   byte = 0x08 // 获取电池电量
	CmdPttPress     byte = 0x09 // 按下 PTT
	CmdPttRelease   byte = 0x0A // 释放 PTT
	CmdSetScanMode  byte = 0x0B // 设置扫描模式
	CmdGetSquelch   byte = 0x0C // 获取静噪值
	CmdSetSquelch   byte = 0x0D // 设置静噪值
	CmdSendAudio    byte = 0xA0 // 发送音频数据
	CmdReceiveAudio byte = 0xA1 // 接收音频数据（仅上行标记）
)

// 上行响应类型
const (
	RespSuccess      byte = 0x00
	RespError        byte = 0xFF
	RespFrequency    byte = 0x11
	RespVolume       byte = 0x21
	RespSquelch      byte = 0x31
	RespChannel      byte = 0x41
	RespRssi         byte = 0x51
	RespBattery      byte = 0x61
	RespScanMode     byte = 0x71
	RespReceiveAudio byte = 0xA1
)

// MaxAudioPayload 单帧音频数据上限。超出部分截断而非拆分，
// 下层 BLE 分片另算，两者互不影响。
const MaxAudioPayload = 256

// CmdName 返回操作码的可读名称，用于日志与指标标签
func CmdName(op byte) string {
	switch op {
	case CmdGetFrequency:
		return "get_frequency"
	case CmdSetFrequency:
		return "set_frequency"
	case CmdGetVolume:
		return "get_volume"
	case CmdSetVolume:
		return "set_volume"
	case CmdGetChannel:
		return "get_channel"
	case CmdSetChannel:
		return "set_channel"
	case CmdGetRssi:
		return "get_rssi"
	case CmdGetBattery:
		return "get_battery"
	case CmdPttPress:
		return "ptt_press"
	case CmdPttRelease:
		return "ptt_release"
	case CmdSetScanMode:
		return "set_scan_mode"
	case CmdGetSquelch:
		return "get_squelch"
	case CmdSetSquelch:
		return "set_squelch"
	case CmdSendAudio:
		return "send_audio"
	default:
		return "unknown"
	}
}

// KindName 返回响应类型的可读名称
func KindName(kind byte) string {
	switch kind {
	case RespSuccess:
		return "success"
	case RespError:
		return "error"
	case RespFrequency:
		return "frequency"
	case RespVolume:
		return "volume"
	case RespSquelch:
		return "squelch"
	case RespChannel:
		return "channel"
	case RespRssi:
		return "rssi"
	case RespBattery:
		return "battery"
	case RespScanMode:
		return "scan_mode"
	case RespReceiveAudio:
		return "audio"
	default:
		return "unknown"
	}
}
