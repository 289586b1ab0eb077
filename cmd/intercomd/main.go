package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/openwalkie/intercomd/internal/api"
	"github.com/openwalkie/intercomd/internal/audio"
	cfgpkg "github.com/openwalkie/intercomd/internal/config"
	"github.com/openwalkie/intercomd/internal/httpserver"
	"github.com/openwalkie/intercomd/internal/hub"
	"github.com/openwalkie/intercomd/internal/logging"
	"github.com/openwalkie/intercomd/internal/metrics"
	"github.com/openwalkie/intercomd/internal/protocol"
	"github.com/openwalkie/intercomd/internal/session"
	"github.com/openwalkie/intercomd/internal/transport"
)

func main() {
	// 1) 加载配置
	cfg, err := cfgpkg.Load("")
	if err != nil {
		panic(err)
	}

	// 2) 初始化日志
	logger, err := logging.InitLogger(cfg.Logging)
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()
	zap.ReplaceGlobals(logger)
	log := zap.L()

	// 3) 指标注册与处理器
	reg := metrics.NewRegistry()
	metricsHandler := metrics.Handler(reg)
	appMetrics := metrics.NewAppMetrics(reg)
	metrics.RegisterParseDefaults(reg, protocol.ParseDefaults)

	// 4) 事件中心与链路会话
	eventHub := hub.New(appMetrics)
	deviceCache := api.NewDeviceCache()
	eventHub.AddDeviceListener(deviceCache)

	transports := map[transport.Kind]transport.Transport{
		transport.KindSerial: transport.NewSerial(cfg.Serial, appMetrics, log),
		transport.KindBLE:    transport.NewBLE(cfg.BLE, appMetrics, log),
	}
	sess := session.New(log, appMetrics, eventHub, transports)

	// 5) 本机音频桥（可选，经命名管道接入 PCM 端点）
	rootCtx, stop := context.WithCancel(context.Background())
	defer stop()
	if cfg.Audio.Enable {
		startAudioBridge(rootCtx, cfg.Audio, sess, eventHub, log)
	}

	// 6) HTTP 控制面
	httpSrv := httpserver.New(cfg.HTTP, cfg.Metrics.Path, metricsHandler,
		func() bool { return true },
		func(r *gin.Engine) {
			api.RegisterControlRoutes(r, sess, eventHub, deviceCache, log)
		})

	go func() {
		if err := httpSrv.Start(); err != nil {
			log.Error("http server error", zap.Error(err))
		}
	}()
	log.Info("intercomd started",
		zap.String("addr", cfg.HTTP.Addr),
		zap.Bool("audio", cfg.Audio.Enable),
	)

	// 信号处理，优雅关闭
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	stop()
	sess.Disconnect()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(ctx)
}

// startAudioBridge 打开命名管道并接通双向音频。
// 管道打开失败只降级告警，不影响守护进程。
func startAudioBridge(ctx context.Context, cfg cfgpkg.AudioConfig, sess *session.Session, eventHub *hub.Hub, log *zap.Logger) {
	var speaker *os.File
	if cfg.SpeakerPipe != "" {
		f, err := os.OpenFile(cfg.SpeakerPipe, os.O_WRONLY, 0)
		if err != nil {
			log.Warn("扬声器管道打开失败", zap.String("pipe", cfg.SpeakerPipe), zap.Error(err))
		} else {
			speaker = f
		}
	}

	bridge := audio.NewBridge(log, sess, speaker, cfg.FrameBytes)
	if speaker != nil {
		eventHub.AddAudioListener(bridge)
	}

	if cfg.MicPipe != "" {
		go func() {
			mic, err := os.Open(cfg.MicPipe)
			if err != nil {
				log.Warn("麦克风管道打开失败", zap.String("pipe", cfg.MicPipe), zap.Error(err))
				return
			}
			defer func() { _ = mic.Close() }()
			if err := bridge.Pump(ctx, mic); err != nil && ctx.Err() == nil {
				log.Warn("音频泵停止", zap.Error(err))
			}
		}()
	}
}
