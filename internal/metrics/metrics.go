package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRegistry 创建自定义 Prometheus Registry，并注册常用采集器
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler 返回 Prometheus 指标 HTTP 处理器
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

// AppMetrics 链路核心业务指标。
// 解码层按约定静默丢弃畸形数据（不产生事件），丢弃必须可观测，
// 因此 DecodeDropTotal / ParseDefaultTotal 是这里最重要的两组计数。
type AppMetrics struct {
	FramesEncodedTotal  *prometheus.CounterVec // labels: cmd
	BytesReceivedTotal  prometheus.Counter
	ResponsesTotal      *prometheus.CounterVec // labels: kind
	AudioFramesTotal    prometheus.Counter     // 解码成功的上行音频帧
	DecodeDropTotal     *prometheus.CounterVec // labels: reason=too_short|audio_length
	ChunksSentTotal     prometheus.Counter     // BLE 下行分片计数
	WriteFailureTotal   prometheus.Counter
	ReadFailureTotal    prometheus.Counter // 终结链路的读故障
	EventsDispatchTotal *prometheus.CounterVec // labels: category
	PhaseGauge          prometheus.Gauge       // 当前会话阶段（枚举值）
	ScanDevicesGauge    prometheus.Gauge       // 最近一次扫描发现的设备数
}

// NewAppMetrics 注册并返回业务指标
func NewAppMetrics(reg *prometheus.Registry) *AppMetrics {
	m := &AppMetrics{
		FramesEncodedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "link_frames_encoded_total",
			Help: "Outbound frames encoded by command opcode.",
		}, []string{"cmd"}),
		BytesReceivedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "link_bytes_received_total",
			Help: "Total raw bytes received over the active link.",
		}),
		ResponsesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "link_responses_total",
			Help: "Decoded inbound responses by kind.",
		}, []string{"kind"}),
		AudioFramesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "link_audio_frames_total",
			Help: "Decoded inbound audio frames.",
		}),
		DecodeDropTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "link_decode_drop_total",
			Help: "Malformed inbound units dropped silently by the decoder.",
		}, []string{"reason"}),
		ChunksSentTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "link_ble_chunks_sent_total",
			Help: "BLE write chunks emitted.",
		}),
		WriteFailureTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "link_write_failure_total",
			Help: "Outbound write failures reported per call.",
		}),
		ReadFailureTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "link_read_failure_total",
			Help: "Read-path failures that terminated the active link.",
		}),
		EventsDispatchTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hub_events_dispatched_total",
			Help: "Events dispatched to listeners by category.",
		}, []string{"category"}),
		PhaseGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "session_phase",
			Help: "Current link session phase as an enum value.",
		}),
		ScanDevicesGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "scan_devices_found",
			Help: "Devices found by the most recent discovery pass.",
		}),
	}
	reg.MustRegister(
		m.FramesEncodedTotal, m.BytesReceivedTotal, m.ResponsesTotal, m.AudioFramesTotal,
		m.DecodeDropTotal, m.ChunksSentTotal, m.WriteFailureTotal, m.ReadFailureTotal,
		m.EventsDispatchTotal, m.PhaseGauge, m.ScanDevicesGauge,
	)
	return m
}

// RegisterParseDefaults 把字段解析静默回零的计数接入 Registry。
// snapshot 按字段名返回累计次数（见 protocol 包的诊断计数）。
func RegisterParseDefaults(reg *prometheus.Registry, snapshot func() map[string]uint64) {
	reg.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
		Name: "protocol_parse_default_total",
		Help: "Field parses that silently returned a zero default.",
	}, func() float64 {
		var sum uint64
		for _, v := range snapshot() {
			sum += v
		}
		return float64(sum)
	}))
}
