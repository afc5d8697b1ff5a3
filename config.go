package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"hcsctl/bridge"
	"hcsctl/hcs"
	"hcsctl/simulator"
	"hcsctl/transport"
)

// Config 全域配置
type Config struct {
	Serial    SerialConfig    `json:"serial" mapstructure:"serial"`
	Protocol  ProtocolConfig  `json:"protocol" mapstructure:"protocol"`
	Bridge    BridgeConfig    `json:"bridge" mapstructure:"bridge"`
	Simulator SimulatorConfig `json:"simulator" mapstructure:"simulator"`
	Logging   LoggingConfig   `json:"logging" mapstructure:"logging"`
	Metrics   MetricsConfig   `json:"metrics" mapstructure:"metrics"`
}

// SerialConfig 序列埠配置
type SerialConfig struct {
	Backend     string        `json:"backend" mapstructure:"backend"`
	Port        string        `json:"port" mapstructure:"port"`
	BaudRate    int           `json:"baud_rate" mapstructure:"baud_rate"`
	DataBits    int           `json:"data_bits" mapstructure:"data_bits"`
	Parity      string        `json:"parity" mapstructure:"parity"`
	StopBits    int           `json:"stop_bits" mapstructure:"stop_bits"`
	ReadTimeout time.Duration `json:"read_timeout" mapstructure:"read_timeout"`
}

// ProtocolConfig 協定配置
type ProtocolConfig struct {
	MaxAttempts     int  `json:"max_attempts" mapstructure:"max_attempts"`
	OutputActiveLow bool `json:"output_active_low" mapstructure:"output_active_low"`
}

// BridgeConfig Modbus 橋接配置
type BridgeConfig struct {
	Listen          string        `json:"listen" mapstructure:"listen"`
	PollInterval    time.Duration `json:"poll_interval" mapstructure:"poll_interval"`
	GracefulTimeout time.Duration `json:"graceful_timeout" mapstructure:"graceful_timeout"`
}

// SimulatorConfig 模擬器配置
type SimulatorConfig struct {
	Listen     string                              `json:"listen" mapstructure:"listen"`
	Width      int                                 `json:"width" mapstructure:"width"`
	MaxVoltage float64                             `json:"max_voltage" mapstructure:"max_voltage"`
	MaxCurrent float64                             `json:"max_current" mapstructure:"max_current"`
	Scenario   string                              `json:"scenario" mapstructure:"scenario"`
	Seed       int64                               `json:"seed" mapstructure:"seed"`
	Scenarios  map[string]simulator.ScenarioParams `json:"scenarios" mapstructure:"scenarios"`
}

// LoggingConfig 日誌配置
type LoggingConfig struct {
	Level      string `json:"level" mapstructure:"level"`
	Format     string `json:"format" mapstructure:"format"`
	OutputPath string `json:"output_path" mapstructure:"output_path"`
}

// MetricsConfig 指標配置
type MetricsConfig struct {
	Enabled  bool   `json:"enabled" mapstructure:"enabled"`
	Endpoint string `json:"endpoint" mapstructure:"endpoint"`
	Port     int    `json:"port" mapstructure:"port"`
}

// DefaultConfig 返回預設配置
func DefaultConfig() *Config {
	serial := transport.DefaultConfig()
	return &Config{
		Serial: SerialConfig{
			Backend:     serial.Backend,
			BaudRate:    serial.BaudRate,
			DataBits:    serial.DataBits,
			Parity:      serial.Parity,
			StopBits:    serial.StopBits,
			ReadTimeout: serial.ReadTimeout,
		},
		Protocol: ProtocolConfig{
			MaxAttempts: hcs.DefaultMaxAttempts,
		},
		Bridge: BridgeConfig{
			Listen:          fmt.Sprintf("0.0.0.0:%d", bridge.ModbusTCPDefaultPort),
			PollInterval:    bridge.DefaultPollInterval,
			GracefulTimeout: 10 * time.Second,
		},
		Simulator: SimulatorConfig{
			Listen:     "127.0.0.1:4001",
			Width:      int(hcs.FormatThreeDigits.Width),
			MaxVoltage: simulator.DefaultLimits.MaxVoltage,
			MaxCurrent: simulator.DefaultLimits.MaxCurrent,
			Scenario:   simulator.ScenarioNormal.String(),
			Scenarios: map[string]simulator.ScenarioParams{
				"normal":      {Noise: 0.005},
				"overload":    {LoadResistance: 0.1},
				"jitter":      {ChunkSize: 2, ChunkDelay: 20 * time.Millisecond},
				"packet_loss": {LossRate: 0.05},
				"garbled":     {GarbleRate: 0.1},
			},
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "json",
			OutputPath: "stderr",
		},
		Metrics: MetricsConfig{
			Enabled:  true,
			Endpoint: "/metrics",
			Port:     9090,
		},
	}
}

// LoadConfig 載入配置檔
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("json")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/hcsctl/")
		v.AddConfigPath("$HOME/.hcsctl/")
	}

	// 環境變數覆蓋，例如 HCSCTL_SERIAL_PORT
	v.SetEnvPrefix("HCSCTL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range []string{
		"serial.port", "serial.backend", "serial.baud_rate",
		"protocol.output_active_low",
		"bridge.listen", "simulator.listen", "simulator.scenario",
		"logging.level", "logging.format",
	} {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("綁定環境變數 %s 失敗: %w", key, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("讀取配置檔失敗: %w", err)
		}
		// 配置檔不存在，使用預設值
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("解析配置失敗: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("配置驗證失敗: %w", err)
	}

	return cfg, nil
}

// Validate 驗證配置
func (c *Config) Validate() error {
	if c.Serial.Port != "" {
		if err := c.Serial.Transport().Validate(); err != nil {
			return fmt.Errorf("序列埠配置無效: %w", err)
		}
	}
	if c.Serial.ReadTimeout <= 0 {
		return fmt.Errorf("讀取逾時必須大於 0")
	}

	if c.Protocol.MaxAttempts < 1 {
		return fmt.Errorf("輪詢次數必須大於 0: %d", c.Protocol.MaxAttempts)
	}

	if _, _, err := net.SplitHostPort(c.Bridge.Listen); err != nil {
		return fmt.Errorf("無效的橋接監聽位址 %q: %w", c.Bridge.Listen, err)
	}
	if c.Bridge.PollInterval <= 0 {
		return fmt.Errorf("輪詢間隔必須大於 0")
	}

	if err := c.Simulator.Validate(); err != nil {
		return fmt.Errorf("模擬器配置無效: %w", err)
	}

	if _, err := zap.ParseAtomicLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("無效的日誌等級: %s", c.Logging.Level)
	}
	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		return fmt.Errorf("無效的日誌格式: %s (可用: json, console)", c.Logging.Format)
	}

	if c.Metrics.Enabled && (c.Metrics.Port < 1 || c.Metrics.Port > 65535) {
		return fmt.Errorf("無效的指標埠號: %d", c.Metrics.Port)
	}

	return nil
}

// Transport 轉換為傳輸層配置
func (s SerialConfig) Transport() transport.Config {
	return transport.Config{
		Backend:     s.Backend,
		Address:     s.Port,
		BaudRate:    s.BaudRate,
		DataBits:    s.DataBits,
		Parity:      s.Parity,
		StopBits:    s.StopBits,
		ReadTimeout: s.ReadTimeout,
	}
}

// OutputEncoding 取得 SOUT 編碼
func (p ProtocolConfig) OutputEncoding() hcs.OutputEncoding {
	if p.OutputActiveLow {
		return hcs.OutputEncodingActiveLow
	}
	return hcs.OutputEncodingActiveHigh
}

// Validate 驗證模擬器配置
func (s SimulatorConfig) Validate() error {
	if _, _, err := net.SplitHostPort(s.Listen); err != nil {
		return fmt.Errorf("無效的監聽位址 %q: %w", s.Listen, err)
	}

	format, err := hcs.FormatFromWidth(s.Width)
	if err != nil {
		return err
	}
	// 上限必須能以裝置格式表示
	if _, err := hcs.EncodeAll([]float64{s.MaxVoltage, s.MaxCurrent}, format); err != nil {
		return fmt.Errorf("上限 %gV/%gA 超出 %s 格式: %w", s.MaxVoltage, s.MaxCurrent, format, err)
	}
	if s.MaxVoltage <= 0 || s.MaxCurrent <= 0 {
		return fmt.Errorf("上限必須大於 0")
	}

	if _, err := simulator.ParseScenarioType(s.Scenario); err != nil {
		return err
	}
	for name := range s.Scenarios {
		if _, err := simulator.ParseScenarioType(name); err != nil {
			return fmt.Errorf("場景參數: %w", err)
		}
	}
	return nil
}

// NewDevice 依配置建立虛擬裝置
func (s SimulatorConfig) NewDevice(enc hcs.OutputEncoding, logger *zap.Logger) (*simulator.Device, error) {
	format, err := hcs.FormatFromWidth(s.Width)
	if err != nil {
		return nil, err
	}
	scenario, err := simulator.ParseScenarioType(s.Scenario)
	if err != nil {
		return nil, err
	}

	opts := []simulator.Option{
		simulator.WithFormat(format),
		simulator.WithLimits(hcs.DeviceLimits{MaxVoltage: s.MaxVoltage, MaxCurrent: s.MaxCurrent}),
		simulator.WithOutputEncoding(enc),
		simulator.WithScenario(scenario, s.Scenarios[scenario.String()]),
		simulator.WithLogger(logger),
	}
	if s.Seed != 0 {
		opts = append(opts, simulator.WithSeed(s.Seed))
	}
	return simulator.NewDevice(opts...), nil
}

// SaveConfig 儲存配置到檔案
func (c *Config) SaveConfig(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("序列化配置失敗: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("寫入配置檔失敗: %w", err)
	}

	return nil
}
