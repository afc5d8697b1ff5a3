package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"hcsctl/hcs"
	"hcsctl/simulator"
	"hcsctl/transport"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, transport.BackendBugst, cfg.Serial.Backend)
	assert.Equal(t, 9600, cfg.Serial.BaudRate)
	assert.Equal(t, time.Second, cfg.Serial.ReadTimeout)
	assert.Equal(t, hcs.DefaultMaxAttempts, cfg.Protocol.MaxAttempts)
	assert.Equal(t, "0.0.0.0:502", cfg.Bridge.Listen)
	assert.Equal(t, "normal", cfg.Simulator.Scenario)
	assert.True(t, cfg.Metrics.Enabled)
	assert.NoError(t, cfg.Validate())
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid default config",
			modify:  func(c *Config) {},
			wantErr: false,
		},
		{
			name: "valid serial port",
			modify: func(c *Config) {
				c.Serial.Port = "/dev/ttyUSB0"
			},
			wantErr: false,
		},
		{
			name: "invalid backend",
			modify: func(c *Config) {
				c.Serial.Port = "/dev/ttyUSB0"
				c.Serial.Backend = "usb"
			},
			wantErr: true,
		},
		{
			name: "invalid parity",
			modify: func(c *Config) {
				c.Serial.Port = "/dev/ttyUSB0"
				c.Serial.Parity = "X"
			},
			wantErr: true,
		},
		{
			name: "zero read timeout",
			modify: func(c *Config) {
				c.Serial.ReadTimeout = 0
			},
			wantErr: true,
		},
		{
			name: "zero attempts",
			modify: func(c *Config) {
				c.Protocol.MaxAttempts = 0
			},
			wantErr: true,
		},
		{
			name: "invalid bridge listen",
			modify: func(c *Config) {
				c.Bridge.Listen = "502"
			},
			wantErr: true,
		},
		{
			name: "zero poll interval",
			modify: func(c *Config) {
				c.Bridge.PollInterval = 0
			},
			wantErr: true,
		},
		{
			name: "unknown simulator width",
			modify: func(c *Config) {
				c.Simulator.Width = 5
			},
			wantErr: true,
		},
		{
			name: "limits exceed three digits",
			modify: func(c *Config) {
				c.Simulator.MaxVoltage = 120
			},
			wantErr: true,
		},
		{
			name: "four digit limits",
			modify: func(c *Config) {
				c.Simulator.Width = 4
				c.Simulator.MaxVoltage = 16.4
				c.Simulator.MaxCurrent = 40
			},
			wantErr: false,
		},
		{
			name: "unknown scenario",
			modify: func(c *Config) {
				c.Simulator.Scenario = "brownout"
			},
			wantErr: true,
		},
		{
			name: "unknown scenario params",
			modify: func(c *Config) {
				c.Simulator.Scenarios["brownout"] = simulator.ScenarioParams{}
			},
			wantErr: true,
		},
		{
			name: "invalid log level",
			modify: func(c *Config) {
				c.Logging.Level = "loud"
			},
			wantErr: true,
		},
		{
			name: "invalid log format",
			modify: func(c *Config) {
				c.Logging.Format = "xml"
			},
			wantErr: true,
		},
		{
			name: "invalid metrics port",
			modify: func(c *Config) {
				c.Metrics.Port = 70000
			},
			wantErr: true,
		},
		{
			name: "metrics port ignored when disabled",
			modify: func(c *Config) {
				c.Metrics.Enabled = false
				c.Metrics.Port = 0
			},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSerialConfig_Transport(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Serial.Port = "/dev/ttyUSB0"
	cfg.Serial.Backend = transport.BackendTarm

	tc := cfg.Serial.Transport()
	assert.Equal(t, "/dev/ttyUSB0", tc.Address)
	assert.Equal(t, transport.BackendTarm, tc.Backend)
	assert.Equal(t, 8, tc.DataBits)
	assert.Equal(t, "N", tc.Parity)
}

func TestProtocolConfig_OutputEncoding(t *testing.T) {
	assert.Equal(t, hcs.OutputEncodingActiveHigh, ProtocolConfig{}.OutputEncoding())
	assert.Equal(t, hcs.OutputEncodingActiveLow, ProtocolConfig{OutputActiveLow: true}.OutputEncoding())
}

func TestSimulatorConfig_NewDevice(t *testing.T) {
	cfg := DefaultConfig().Simulator
	cfg.Width = 4
	cfg.MaxVoltage = 16.4
	cfg.MaxCurrent = 40
	cfg.Scenario = "overload"
	cfg.Seed = 7

	dev, err := cfg.NewDevice(hcs.OutputEncodingActiveLow, zap.NewNop())
	require.NoError(t, err)

	state := dev.State()
	assert.Equal(t, hcs.FormatFourDigits, state.Format)
	assert.Equal(t, hcs.DeviceLimits{MaxVoltage: 16.4, MaxCurrent: 40}, state.Limits)

	scenario, params := dev.Scenario()
	assert.Equal(t, simulator.ScenarioOverload, scenario)
	assert.Equal(t, 0.1, params.LoadResistance)

	s, err := hcs.Open(dev, hcs.WithOutputEncoding(hcs.OutputEncodingActiveLow))
	require.NoError(t, err)
	assert.Equal(t, hcs.FormatFourDigits, s.Format())

	cfg.Scenario = "brownout"
	_, err = cfg.NewDevice(hcs.OutputEncodingActiveHigh, zap.NewNop())
	assert.Error(t, err)
}

func TestConfig_SaveAndLoad(t *testing.T) {
	// 建立暫存目錄
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "test-config.json")

	// 儲存配置
	cfg := DefaultConfig()
	cfg.Serial.Port = "/dev/ttyUSB1"
	cfg.Protocol.OutputActiveLow = true
	cfg.Bridge.PollInterval = 250 * time.Millisecond
	cfg.Simulator.Scenario = "overload"

	err := cfg.SaveConfig(configPath)
	require.NoError(t, err)

	// 確認檔案存在
	_, err = os.Stat(configPath)
	require.NoError(t, err)

	// 載入配置
	loadedCfg, err := LoadConfig(configPath)
	require.NoError(t, err)

	assert.Equal(t, cfg.Serial.Port, loadedCfg.Serial.Port)
	assert.True(t, loadedCfg.Protocol.OutputActiveLow)
	assert.Equal(t, 250*time.Millisecond, loadedCfg.Bridge.PollInterval)
	assert.Equal(t, "overload", loadedCfg.Simulator.Scenario)
	assert.Equal(t, 0.1, loadedCfg.Simulator.Scenarios["overload"].LoadResistance)
}

func TestLoadConfig_EnvOverride(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, DefaultConfig().SaveConfig(configPath))

	t.Setenv("HCSCTL_SERIAL_PORT", "/dev/ttyACM0")
	t.Setenv("HCSCTL_LOGGING_LEVEL", "debug")

	cfg, err := LoadConfig(configPath)
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyACM0", cfg.Serial.Port)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadConfig_Invalid(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(configPath, []byte(`{"protocol": {"max_attempts": 0}}`), 0644))

	_, err := LoadConfig(configPath)
	assert.Error(t, err)

	require.NoError(t, os.WriteFile(configPath, []byte(`{not json`), 0644))
	_, err = LoadConfig(configPath)
	assert.Error(t, err)
}
