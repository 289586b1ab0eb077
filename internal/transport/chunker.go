package transport

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

// ChunkWriter 把一帧拆成受 BLE 写入上限约束的分片并顺序发出。
// 作为独立策略存在：当前实现是固定节奏、无确认的火后不理式写入，
// 将来换成带确认的流控只需要替换这一个接口的实现。
type ChunkWriter interface {
	SendChunked(p []byte) error
}

// pacedChunker 默认分片策略：每片不超过 size 字节，片间按固定间隔限速，
// 任何一片写失败立即放弃剩余分片并上报，不做重试。
// 接收端因此可能静默丢掉半条命令或半帧音频，这是既有链路行为。
type pacedChunker struct {
	size    int
	limiter *rate.Limiter
	write   func([]byte) error
}

func newPacedChunker(size int, interval time.Duration, write func([]byte) error) *pacedChunker {
	if size <= 0 {
		size = 20
	}
	if interval <= 0 {
		interval = 10 * time.Millisecond
	}
	return &pacedChunker{
		size:    size,
		limiter: rate.NewLimiter(rate.Every(interval), 1),
		write:   write,
	}
}

func (c *pacedChunker) SendChunked(p []byte) error {
	for i, chunk := range SplitChunks(p, c.size) {
		_ = c.limiter.Wait(context.Background())
		if err := c.write(chunk); err != nil {
			return fmt.Errorf("chunk %d write: %w", i, err)
		}
	}
	return nil
}

// SplitChunks 按 size 顺序切片。按序串联所有分片可精确还原原始数据。
func SplitChunks(p []byte, size int) [][]byte {
	if len(p) == 0 || size <= 0 {
		return nil
	}
	chunks := make([][]byte, 0, (len(p)+size-1)/size)
	for off := 0; off < len(p); off += size {
		end := off + size
		if end > len(p) {
			end = len(p)
		}
		chunks = append(chunks, p[off:end])
	}
	return chunks
}
