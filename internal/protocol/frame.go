package protocol

// Encode 组下行帧：起始字节 + 操作码 + 长度 + 数据 + 异或校验 + 结束字节。
// 长度字段只有 1 字节，音频满载 256 字节时按 byte 回绕写入，
// 与设备固件的既有约定保持一致。
func Encode(c Command) []byte {
	n := len(c.Payload)
	buf := make([]byte, 0, 5+n)
	buf = append(buf, StartByte, c.Op, byte(n))
	buf = append(buf, c.Payload...)
	buf = append(buf, Checksum(buf[1:]), EndByte)
	return buf
}

// Checksum 对操作码、长度与数据做逐字节异或（不含起始/结束字节与校验本身）
func Checksum(body []byte) byte {
	var sum byte
	for _, b := range body {
		sum ^= b
	}
	return sum
}

// VerifyFrame 独立重算一帧的校验和。
// 上行路径不带校验（见 DecodeResponse），该函数用于下行帧自检与测试。
func VerifyFrame(frame []byte) bool {
	if len(frame) < 5 || frame[0] != StartByte || frame[len(frame)-1] != EndByte {
		return false
	}
	return Checksum(frame[1:len(frame)-2]) == frame[len(frame)-2]
}
