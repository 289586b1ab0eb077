package audio

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type captureSender struct {
	frames [][]byte
	err    error
}

func (c *captureSender) SendAudio(pcm []byte) error {
	if c.err != nil {
		return c.err
	}
	c.frames = append(c.frames, append([]byte(nil), pcm...))
	return nil
}

func TestPumpSlicesMicIntoFrames(t *testing.T) {
	sender := &captureSender{}
	b := NewBridge(zap.NewNop(), sender, nil, 4)

	mic := bytes.NewReader([]byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10})
	require.NoError(t, b.Pump(context.Background(), mic))

	require.Len(t, sender.frames, 3)
	assert.Equal(t, []byte{1, 2, 3, 4}, sender.frames[0])
	assert.Equal(t, []byte{5, 6, 7, 8}, sender.frames[1])
	assert.Equal(t, []byte{9, 10}, sender.frames[2], "尾帧不足定长也要发送")
}

func TestPumpStopsOnSendFailure(t *testing.T) {
	sender := &captureSender{err: errors.New("link down")}
	b := NewBridge(zap.NewNop(), sender, nil, 4)

	err := b.Pump(context.Background(), bytes.NewReader(make([]byte, 64)))
	require.Error(t, err)
	assert.Empty(t, sender.frames)
}

func TestPumpHonorsContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	b := NewBridge(zap.NewNop(), &captureSender{}, nil, 4)

	err := b.Pump(ctx, bytes.NewReader(make([]byte, 8)))
	require.ErrorIs(t, err, context.Canceled)
}

func TestOnAudioFrameWritesSpeaker(t *testing.T) {
	var speaker bytes.Buffer
	b := NewBridge(zap.NewNop(), &captureSender{}, &speaker, 0)

	b.OnAudioFrame([]byte{0xAA, 0xBB})
	b.OnAudioFrame([]byte{0xCC})

	assert.Equal(t, []byte{0xAA, 0xBB, 0xCC}, speaker.Bytes())
}
