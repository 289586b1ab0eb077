package audio

import (
	"context"
	"errors"
	"io"

	"go.uber.org/zap"
)

// FrameSender 音频帧的出站通道，由链路会话实现。
type FrameSender interface {
	SendAudio(pcm []byte) error
}

// Bridge 本机音频桥。把麦克风字节流切成定长帧泵入链路，
// 并把链路收到的音频帧写给扬声器。两个方向互相独立。
type Bridge struct {
	log     *zap.Logger
	sender  FrameSender
	speaker io.Writer
	frame   int
}

// NewBridge 创建音频桥。frameBytes 非正时退回单帧默认上限。
func NewBridge(log *zap.Logger, sender FrameSender, speaker io.Writer, frameBytes int) *Bridge {
	if frameBytes <= 0 {
		frameBytes = 256
	}
	return &Bridge{log: log, sender: sender, speaker: speaker, frame: frameBytes}
}

// OnAudioFrame 实现音频监听接口：收到的帧原样写给扬声器。
// 写失败只记录，不影响链路。
func (b *Bridge) OnAudioFrame(pcm []byte) {
	if b.speaker == nil {
		return
	}
	if _, err := b.speaker.Write(pcm); err != nil {
		b.log.Warn("扬声器写入失败", zap.Int("bytes", len(pcm)), zap.Error(err))
	}
}

// Pump 从 mic 连续读取定长帧并发送，直到 ctx 取消或流结束。
// 尾部不足一帧的数据照常发送。发送失败（如链路断开）即停止。
func (b *Bridge) Pump(ctx context.Context, mic io.Reader) error {
	buf := make([]byte, b.frame)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		n, err := io.ReadFull(mic, buf)
		if n > 0 {
			if serr := b.sender.SendAudio(buf[:n]); serr != nil {
				return serr
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return nil
			}
			return err
		}
	}
}
