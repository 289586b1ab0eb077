package api

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/openwalkie/intercomd/internal/hub"
	"github.com/openwalkie/intercomd/internal/protocol"
	"github.com/openwalkie/intercomd/internal/transport"
)

func dialEvents(t *testing.T, h *hub.Hub) (*websocket.Conn, func()) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	stream := NewEventStream(h, zap.NewNop())
	r.GET("/events", stream.Serve)

	srv := httptest.NewServer(r)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	return conn, func() {
		_ = conn.Close()
		srv.Close()
	}
}

func readEvent(t *testing.T, conn *websocket.Conn) Event {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var ev Event
	require.NoError(t, conn.ReadJSON(&ev))
	return ev
}

func TestEventStreamForwardsHubEvents(t *testing.T) {
	h := hub.New(nil)
	conn, done := dialEvents(t, h)
	defer done()

	// hello 在监听器注册之后发出，收到即表示订阅生效
	ev := readEvent(t, conn)
	require.Equal(t, "hello", ev.Type)

	h.NotifyConnected(transport.DeviceDescriptor{Link: transport.KindBLE, ID: "aa:bb", Name: "walkie"})
	ev = readEvent(t, conn)
	assert.Equal(t, "connected", ev.Type)
	assert.False(t, ev.Timestamp.IsZero())

	h.NotifyResponse(protocol.Response{Kind: protocol.RespVolume, Success: true, Payload: []byte{7}})
	ev = readEvent(t, conn)
	assert.Equal(t, "response", ev.Type)

	h.NotifyLinkError("read: io broken")
	ev = readEvent(t, conn)
	assert.Equal(t, "link_error", ev.Type)

	h.NotifyAudioFrame([]byte{1, 2, 3})
	ev = readEvent(t, conn)
	assert.Equal(t, "audio", ev.Type)
}

func TestEventStreamDeviceBatches(t *testing.T) {
	h := hub.New(nil)
	conn, done := dialEvents(t, h)
	defer done()

	ev := readEvent(t, conn)
	require.Equal(t, "hello", ev.Type)

	h.NotifyDevicesFound([]transport.DeviceDescriptor{
		{Link: transport.KindSerial, ID: "/dev/ttyUSB0"},
		{Link: transport.KindSerial, ID: "/dev/ttyUSB1"},
	})
	ev = readEvent(t, conn)
	require.Equal(t, "devices", ev.Type)
	batch, ok := ev.Data.([]any)
	require.True(t, ok)
	assert.Len(t, batch, 2)
}
