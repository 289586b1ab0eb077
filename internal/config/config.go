package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// AppConfig 应用基础信息
type AppConfig struct {
	Name string `mapstructure:"name"`
	Env  string `mapstructure:"env"`
}

// HTTPConfig HTTP 控制面配置
type HTTPConfig struct {
	Addr         string        `mapstructure:"addr"`
	ReadTimeout  time.Duration `mapstructure:"readTimeout"`
	WriteTimeout time.Duration `mapstructure:"writeTimeout"`
}

// SerialConfig USB 串口链路配置。
// 默认参数与设备固件约定一致：9600 波特率、8 数据位、1 停止位、无校验。
type SerialConfig struct {
	BaudRate     int           `mapstructure:"baudRate"`
	ReadTimeout  time.Duration `mapstructure:"readTimeout"`
	WriteTimeout time.Duration `mapstructure:"writeTimeout"`
	BufferSize   int           `mapstructure:"bufferSize"`
}

// BLEConfig 低功耗蓝牙链路配置。
// 设备收发复用同一个特征（FFE1），扫描窗口到期后自动停止。
type BLEConfig struct {
	ServiceUUID        string        `mapstructure:"serviceUUID"`
	CharacteristicUUID string        `mapstructure:"characteristicUUID"`
	ScanWindow         time.Duration `mapstructure:"scanWindow"`
	ChunkSize          int           `mapstructure:"chunkSize"`
	ChunkInterval      time.Duration `mapstructure:"chunkInterval"`
}

// AudioConfig PCM 端点配置（麦克风/扬声器以命名管道方式接入）
type AudioConfig struct {
	Enable      bool   `mapstructure:"enable"`
	MicPipe     string `mapstructure:"micPipe"`
	SpeakerPipe string `mapstructure:"speakerPipe"`
	FrameBytes  int    `mapstructure:"frameBytes"`
}

// LumberjackConfig 日志滚动（lumberjack）配置
type LumberjackConfig struct {
	Filename   string `mapstructure:"filename"`
	MaxSizeMB  int    `mapstructure:"maxSize"`
	MaxBackups int    `mapstructure:"maxBackups"`
	MaxAgeDays int    `mapstructure:"maxAge"`
	Compress   bool   `mapstructure:"compress"`
}

// LoggingConfig 日志级别与输出配置
type LoggingConfig struct {
	Level  string           `mapstructure:"level"`
	Format string           `mapstructure:"format"`
	File   LumberjackConfig `mapstructure:"file"`
}

// MetricsConfig Prometheus 指标暴露配置
type MetricsConfig struct {
	Enable bool   `mapstructure:"enable"`
	Path   string `mapstructure:"path"`
}

// Config 顶层配置结构
type Config struct {
	App     AppConfig     `mapstructure:"app"`
	HTTP    HTTPConfig    `mapstructure:"http"`
	Serial  SerialConfig  `mapstructure:"serial"`
	BLE     BLEConfig     `mapstructure:"ble"`
	Audio   AudioConfig   `mapstructure:"audio"`
	Logging LoggingConfig `mapstructure:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// Load 从 YAML/TOML/JSON 文件与环境变量加载配置。
// 若 path 为空，则尝试从环境变量 INTERCOM_CONFIG 读取；否则回退到 configs/example.yaml。
func Load(path string) (*Config, error) {
	v := viper.New()

	if path == "" {
		path = v.GetString("INTERCOM_CONFIG")
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.SetConfigName("example")
		v.SetConfigType("yaml")
	}

	// 默认值
	setDefaults(v)

	// 环境变量覆盖：前缀 INTERCOM_，并将点号替换为下划线
	v.SetEnvPrefix("INTERCOM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// 首次运行允许缺少配置文件，依赖默认值与环境变量
		var notFound viper.ConfigFileNotFoundError
		if fmt.Sprintf("%T", err) != fmt.Sprintf("%T", notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "intercomd")
	v.SetDefault("app.env", "dev")

	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.readTimeout", "5s")
	v.SetDefault("http.writeTimeout", "10s")

	v.SetDefault("serial.baudRate", 9600)
	v.SetDefault("serial.readTimeout", "1s")
	v.SetDefault("serial.writeTimeout", "1s")
	v.SetDefault("serial.bufferSize", 1024)

	v.SetDefault("ble.serviceUUID", "0000ffe0-0000-1000-8000-00805f9b34fb")
	v.SetDefault("ble.characteristicUUID", "0000ffe1-0000-1000-8000-00805f9b34fb")
	v.SetDefault("ble.scanWindow", "10s")
	v.SetDefault("ble.chunkSize", 20)
	v.SetDefault("ble.chunkInterval", "10ms")

	v.SetDefault("audio.enable", false)
	v.SetDefault("audio.micPipe", "")
	v.SetDefault("audio.speakerPipe", "")
	v.SetDefault("audio.frameBytes", 256)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.file.filename", "logs/intercomd.log")
	v.SetDefault("logging.file.maxSize", 100)
	v.SetDefault("logging.file.maxBackups", 7)
	v.SetDefault("logging.file.maxAge", 30)
	v.SetDefault("logging.file.compress", true)

	v.SetDefault("metrics.enable", true)
	v.SetDefault("metrics.path", "/metrics")
}
