package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/openwalkie/intercomd/internal/hub"
	"github.com/openwalkie/intercomd/internal/protocol"
	"github.com/openwalkie/intercomd/internal/transport"
)

// fakeTransport 内存传输桩，按需注入发现结果、连接错误与写错误。
// blockDiscover 让发现挂起直到 ctx 取消；connectGate 让连接挂起直到放行。
type fakeTransport struct {
	kind          transport.Kind
	blockDiscover bool
	connectGate   chan struct{}

	mu          sync.Mutex
	sink        transport.Sink
	writes      [][]byte
	connectErr  error
	writeErr    error
	discoverErr error
	batches     [][]transport.DeviceDescriptor
	disconnects int
}

func (f *fakeTransport) Kind() transport.Kind { return f.kind }

func (f *fakeTransport) Discover(ctx context.Context, found func([]transport.DeviceDescriptor)) error {
	if f.blockDiscover {
		<-ctx.Done()
		return ctx.Err()
	}
	f.mu.Lock()
	batches, err := f.batches, f.discoverErr
	f.mu.Unlock()
	for _, b := range batches {
		found(b)
	}
	return err
}

func (f *fakeTransport) Connect(transport.DeviceDescriptor) error {
	if f.connectGate != nil {
		<-f.connectGate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connectErr
}

func (f *fakeTransport) Disconnect() error {
	f.mu.Lock()
	f.disconnects++
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) Write(p []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return f.writeErr
	}
	buf := append([]byte(nil), p...)
	f.writes = append(f.writes, buf)
	return nil
}

func (f *fakeTransport) SetSink(s transport.Sink) {
	f.mu.Lock()
	f.sink = s
	f.mu.Unlock()
}

func (f *fakeTransport) writeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.writes)
}

func (f *fakeTransport) writesCopy() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, len(f.writes))
	copy(out, f.writes)
	return out
}

// recorder 线程安全的事件记录器，实现全部四类监听接口。
type recorder struct {
	mu           sync.Mutex
	connected    []transport.DeviceDescriptor
	disconnected int
	denied       int
	errs         []string
	responses    []protocol.Response
	devices      [][]transport.DeviceDescriptor
	audio        [][]byte
}

func (r *recorder) OnConnected(d transport.DeviceDescriptor) {
	r.mu.Lock()
	r.connected = append(r.connected, d)
	r.mu.Unlock()
}

func (r *recorder) OnDisconnected() {
	r.mu.Lock()
	r.disconnected++
	r.mu.Unlock()
}

func (r *recorder) OnPermissionDenied() {
	r.mu.Lock()
	r.denied++
	r.mu.Unlock()
}

func (r *recorder) OnLinkError(msg string) {
	r.mu.Lock()
	r.errs = append(r.errs, msg)
	r.mu.Unlock()
}

func (r *recorder) OnResponse(resp protocol.Response) {
	r.mu.Lock()
	r.responses = append(r.responses, resp)
	r.mu.Unlock()
}

func (r *recorder) OnDevicesFound(devs []transport.DeviceDescriptor) {
	r.mu.Lock()
	r.devices = append(r.devices, devs)
	r.mu.Unlock()
}

func (r *recorder) OnAudioFrame(pcm []byte) {
	r.mu.Lock()
	r.audio = append(r.audio, append([]byte(nil), pcm...))
	r.mu.Unlock()
}

func (r *recorder) snapshot() (conn int, disc int, denied int, errs []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.connected), r.disconnected, r.denied, append([]string(nil), r.errs...)
}

func newTestSession(ft *fakeTransport) (*Session, *recorder) {
	h := hub.New(nil)
	rec := &recorder{}
	h.AddConnectionListener(rec)
	h.AddResponseListener(rec)
	h.AddDeviceListener(rec)
	h.AddAudioListener(rec)
	s := New(zap.NewNop(), nil, h, map[transport.Kind]transport.Transport{ft.kind: ft})
	return s, rec
}

func waitPhase(t *testing.T, s *Session, want Phase) {
	t.Helper()
	require.Eventually(t, func() bool { return s.Phase() == want },
		time.Second, 2*time.Millisecond, "期望阶段 %s", want)
}

func TestDisconnectWhenAlreadyDisconnectedIsSilent(t *testing.T) {
	ft := &fakeTransport{kind: transport.KindSerial}
	s, rec := newTestSession(ft)

	s.Disconnect()
	s.Disconnect()

	conn, disc, denied, errs := rec.snapshot()
	assert.Zero(t, conn)
	assert.Zero(t, disc)
	assert.Zero(t, denied)
	assert.Empty(t, errs)
	assert.Equal(t, PhaseDisconnected, s.Phase())
}

func TestConnectSuccessEmitsConnected(t *testing.T) {
	ft := &fakeTransport{kind: transport.KindSerial}
	s, rec := newTestSession(ft)

	desc := transport.DeviceDescriptor{Link: transport.KindSerial, ID: "/dev/ttyUSB0", Name: "intercom"}
	require.NoError(t, s.Connect(desc))
	waitPhase(t, s, PhaseConnected)

	conn, disc, _, _ := rec.snapshot()
	assert.Equal(t, 1, conn)
	assert.Zero(t, disc)
	assert.NotEqual(t, "00000000-0000-0000-0000-000000000000", s.ID().String())
	require.NotNil(t, s.Device())
	assert.Equal(t, "/dev/ttyUSB0", s.Device().ID)
}

func TestConnectFailureEmitsErrorThenDisconnect(t *testing.T) {
	ft := &fakeTransport{kind: transport.KindSerial, connectErr: errors.New("port gone")}
	s, rec := newTestSession(ft)

	require.NoError(t, s.Connect(transport.DeviceDescriptor{Link: transport.KindSerial, ID: "x"}))
	waitPhase(t, s, PhaseDisconnected)

	require.Eventually(t, func() bool {
		_, disc, _, _ := rec.snapshot()
		return disc == 1
	}, time.Second, 2*time.Millisecond)

	conn, disc, denied, errs := rec.snapshot()
	assert.Zero(t, conn)
	assert.Equal(t, 1, disc)
	assert.Zero(t, denied)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0], "connect:")
}

func TestConnectPermissionDenied(t *testing.T) {
	ft := &fakeTransport{kind: transport.KindBLE, connectErr: transport.ErrPermissionDenied}
	s, rec := newTestSession(ft)

	require.NoError(t, s.Connect(transport.DeviceDescriptor{Link: transport.KindBLE, ID: "aa:bb"}))
	require.Eventually(t, func() bool {
		_, disc, denied, _ := rec.snapshot()
		return denied == 1 && disc == 1
	}, time.Second, 2*time.Millisecond)

	_, _, _, errs := rec.snapshot()
	assert.Empty(t, errs, "授权拒绝不应再附带普通错误事件")
}

func TestSendWhileDisconnectedRejected(t *testing.T) {
	ft := &fakeTransport{kind: transport.KindSerial}
	s, rec := newTestSession(ft)

	err := s.Send(protocol.GetVolume())
	require.ErrorIs(t, err, transport.ErrNotConnected)

	_, _, _, errs := rec.snapshot()
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0], "not connected")
	assert.Zero(t, ft.writeCount())
}

func TestSendPreservesFIFOOrder(t *testing.T) {
	ft := &fakeTransport{kind: transport.KindSerial}
	s, _ := newTestSession(ft)

	require.NoError(t, s.Connect(transport.DeviceDescriptor{Link: transport.KindSerial, ID: "p"}))
	waitPhase(t, s, PhaseConnected)

	cmds := []protocol.Command{
		protocol.PttPress(),
		protocol.SetVolume(3),
		protocol.GetBattery(),
		protocol.PttRelease(),
	}
	for _, c := range cmds {
		require.NoError(t, s.Send(c))
	}

	require.Eventually(t, func() bool { return ft.writeCount() == len(cmds) },
		time.Second, 2*time.Millisecond)

	got := ft.writesCopy()
	for i, c := range cmds {
		assert.Equal(t, protocol.Encode(c), got[i])
	}
}

func TestReadFailureExactlyOneErrorOneDisconnect(t *testing.T) {
	ft := &fakeTransport{kind: transport.KindSerial}
	s, rec := newTestSession(ft)

	require.NoError(t, s.Connect(transport.DeviceDescriptor{Link: transport.KindSerial, ID: "p"}))
	waitPhase(t, s, PhaseConnected)

	s.OnLinkDown(errors.New("read: io broken"))
	waitPhase(t, s, PhaseDisconnected)

	_, disc, _, errs := rec.snapshot()
	assert.Equal(t, 1, disc)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0], "read:")

	// 后续回声不再产生任何事件。
	s.OnLinkDown(errors.New("again"))
	_, disc, _, errs = rec.snapshot()
	assert.Equal(t, 1, disc)
	assert.Len(t, errs, 1)
}

func TestCleanLinkDownEmitsOnlyDisconnect(t *testing.T) {
	ft := &fakeTransport{kind: transport.KindBLE}
	s, rec := newTestSession(ft)

	require.NoError(t, s.Connect(transport.DeviceDescriptor{Link: transport.KindBLE, ID: "aa:bb"}))
	waitPhase(t, s, PhaseConnected)

	s.OnLinkDown(nil)
	waitPhase(t, s, PhaseDisconnected)

	_, disc, _, errs := rec.snapshot()
	assert.Equal(t, 1, disc)
	assert.Empty(t, errs)
}

func TestOnBytesRoutesResponsesAndAudio(t *testing.T) {
	ft := &fakeTransport{kind: transport.KindSerial}
	s, rec := newTestSession(ft)

	s.OnBytes([]byte{protocol.RespVolume, protocol.RespSuccess, 0x07})
	s.OnBytes([]byte{protocol.RespReceiveAudio, 0x03, 0x01, 0x02, 0x03})
	s.OnBytes([]byte{protocol.RespReceiveAudio, 0x09, 0x01}) // 长度字段与实际不符，丢弃
	s.OnBytes([]byte{0x21})                                  // 过短，丢弃

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Len(t, rec.responses, 1)
	assert.Equal(t, byte(protocol.RespVolume), rec.responses[0].Kind)
	assert.Equal(t, 7, rec.responses[0].ParseVolume())
	require.Len(t, rec.audio, 1)
	assert.Equal(t, []byte{0x01, 0x02, 0x03}, rec.audio[0])
}

func TestScanBroadcastsFullListPerBatch(t *testing.T) {
	devs := []transport.DeviceDescriptor{
		{Link: transport.KindBLE, ID: "aa:bb", Name: "walkie-1"},
		{Link: transport.KindBLE, ID: "cc:dd", Name: "walkie-2"},
	}
	ft := &fakeTransport{
		kind:    transport.KindBLE,
		batches: [][]transport.DeviceDescriptor{devs[:1], devs},
	}
	s, rec := newTestSession(ft)

	require.NoError(t, s.Scan(context.Background(), transport.KindBLE))
	require.Eventually(t, func() bool {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		return len(rec.devices) == 2
	}, time.Second, 2*time.Millisecond)
	waitPhase(t, s, PhaseDisconnected)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Len(t, rec.devices[0], 1)
	assert.Len(t, rec.devices[1], 2)
}

func TestScanFailureReportsErrorEvent(t *testing.T) {
	ft := &fakeTransport{kind: transport.KindSerial, discoverErr: transport.ErrDeviceNotFound}
	s, rec := newTestSession(ft)

	require.NoError(t, s.Scan(context.Background(), transport.KindSerial))
	require.Eventually(t, func() bool {
		_, _, _, errs := rec.snapshot()
		return len(errs) == 1
	}, time.Second, 2*time.Millisecond)
	waitPhase(t, s, PhaseDisconnected)

	_, _, _, errs := rec.snapshot()
	assert.Contains(t, errs[0], "scan:")
}

func TestScanRejectedWhileConnected(t *testing.T) {
	ft := &fakeTransport{kind: transport.KindSerial}
	s, _ := newTestSession(ft)

	require.NoError(t, s.Connect(transport.DeviceDescriptor{Link: transport.KindSerial, ID: "p"}))
	waitPhase(t, s, PhaseConnected)

	err := s.Scan(context.Background(), transport.KindSerial)
	require.Error(t, err)
}

func TestConnectUnknownLink(t *testing.T) {
	ft := &fakeTransport{kind: transport.KindSerial}
	s, _ := newTestSession(ft)

	err := s.Connect(transport.DeviceDescriptor{Link: transport.KindBLE, ID: "aa:bb"})
	require.ErrorIs(t, err, transport.ErrLinkUnavailable)
}

func TestConcurrentConnectAdmitsOnlyOne(t *testing.T) {
	ft := &fakeTransport{kind: transport.KindSerial, connectGate: make(chan struct{})}
	s, rec := newTestSession(ft)

	desc := transport.DeviceDescriptor{Link: transport.KindSerial, ID: "p"}
	const callers = 4
	var busy atomic.Int32
	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if err := s.Connect(desc); errors.Is(err, ErrBusy) {
				busy.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()
	close(ft.connectGate)
	waitPhase(t, s, PhaseConnected)

	assert.Equal(t, int32(callers-1), busy.Load(), "同一时刻只允许一个连接流程")
	conn, disc, _, _ := rec.snapshot()
	assert.Equal(t, 1, conn, "一个会话只能产生一条连接事件")
	assert.Zero(t, disc)
}

func TestConnectDuringScanEmitsNoDisconnect(t *testing.T) {
	ft := &fakeTransport{kind: transport.KindSerial, blockDiscover: true}
	s, rec := newTestSession(ft)

	require.NoError(t, s.Scan(context.Background(), transport.KindSerial))
	waitPhase(t, s, PhaseDiscovering)

	require.NoError(t, s.Connect(transport.DeviceDescriptor{Link: transport.KindSerial, ID: "p"}))
	waitPhase(t, s, PhaseConnected)

	conn, disc, _, errs := rec.snapshot()
	assert.Equal(t, 1, conn)
	assert.Zero(t, disc, "扫描中选择设备不得出现断开事件")
	assert.Empty(t, errs, "被取消的扫描不算失败")
}

func TestDisconnectDuringScanIsQuiet(t *testing.T) {
	ft := &fakeTransport{kind: transport.KindSerial, blockDiscover: true}
	s, rec := newTestSession(ft)

	require.NoError(t, s.Scan(context.Background(), transport.KindSerial))
	waitPhase(t, s, PhaseDiscovering)

	s.Disconnect()
	waitPhase(t, s, PhaseDisconnected)

	conn, disc, denied, errs := rec.snapshot()
	assert.Zero(t, conn)
	assert.Zero(t, disc)
	assert.Zero(t, denied)
	assert.Empty(t, errs)
}

func TestReconnectTearsDownPreviousLink(t *testing.T) {
	ft := &fakeTransport{kind: transport.KindSerial}
	s, rec := newTestSession(ft)

	require.NoError(t, s.Connect(transport.DeviceDescriptor{Link: transport.KindSerial, ID: "p1"}))
	waitPhase(t, s, PhaseConnected)
	first := s.ID()

	require.NoError(t, s.Connect(transport.DeviceDescriptor{Link: transport.KindSerial, ID: "p2"}))
	waitPhase(t, s, PhaseConnected)

	assert.NotEqual(t, first, s.ID(), "每次成功连接都分配新的会话标识")
	_, disc, _, _ := rec.snapshot()
	assert.Equal(t, 1, disc, "旧链路拆除产生一条断开事件")
	assert.Equal(t, "p2", s.Device().ID)
}
