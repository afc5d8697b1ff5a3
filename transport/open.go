package transport

import (
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	goburrow "github.com/goburrow/serial"
	tarm "github.com/tarm/serial"
	"go.bug.st/serial"
	"go.uber.org/zap"
)

// 後端名稱
const (
	BackendBugst    = "bugst"
	BackendTarm     = "tarm"
	BackendGoburrow = "goburrow"
	BackendTCP      = "tcp"
)

// Config 傳輸層配置
type Config struct {
	Backend     string
	Address     string // 序列埠路徑或 host:port
	BaudRate    int
	DataBits    int
	Parity      string // N / E / O
	StopBits    int
	ReadTimeout time.Duration
}

// DefaultConfig 返回 HCS 系列預設的 9600 8N1
func DefaultConfig() Config {
	return Config{
		Backend:     BackendBugst,
		BaudRate:    9600,
		DataBits:    8,
		Parity:      "N",
		StopBits:    1,
		ReadTimeout: time.Second,
	}
}

// Backends 列出支援的後端
func Backends() []string {
	return []string{BackendBugst, BackendTarm, BackendGoburrow, BackendTCP}
}

// Validate 驗證配置
func (c Config) Validate() error {
	switch c.Backend {
	case BackendBugst, BackendTarm, BackendGoburrow, BackendTCP:
	default:
		return fmt.Errorf("不支援的後端: %q (可用: %s)", c.Backend, strings.Join(Backends(), ", "))
	}
	if c.Address == "" {
		return fmt.Errorf("必須指定埠位址")
	}
	if c.Backend == BackendTCP {
		if _, _, err := net.SplitHostPort(c.Address); err != nil {
			return fmt.Errorf("無效的 TCP 位址 %q: %w", c.Address, err)
		}
		return nil
	}
	if c.BaudRate <= 0 {
		return fmt.Errorf("無效的鮑率: %d", c.BaudRate)
	}
	if c.DataBits < 5 || c.DataBits > 8 {
		return fmt.Errorf("無效的資料位元: %d", c.DataBits)
	}
	switch c.Parity {
	case "N", "E", "O":
	default:
		return fmt.Errorf("無效的同位檢查: %q", c.Parity)
	}
	if c.StopBits != 1 && c.StopBits != 2 {
		return fmt.Errorf("無效的停止位元: %d", c.StopBits)
	}
	return nil
}

// Open 依配置開啟傳輸層
func Open(cfg Config, logger *zap.Logger) (*Port, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var (
		rwc       io.ReadWriteCloser
		isTimeout func(error) bool
		err       error
	)
	switch cfg.Backend {
	case BackendBugst:
		rwc, err = openBugst(cfg)
	case BackendTarm:
		rwc, err = openTarm(cfg)
		// tarm 在讀取逾時時回傳 io.EOF
		isTimeout = func(err error) bool { return errors.Is(err, io.EOF) }
	case BackendGoburrow:
		rwc, err = openGoburrow(cfg)
		isTimeout = func(err error) bool { return errors.Is(err, goburrow.ErrTimeout) }
	case BackendTCP:
		rwc, err = net.DialTimeout("tcp", cfg.Address, 5*time.Second)
	}
	if err != nil {
		return nil, fmt.Errorf("開啟 %s (%s) 失敗: %w", cfg.Address, cfg.Backend, err)
	}

	logger.Debug("埠已開啟",
		zap.String("port", cfg.Address),
		zap.String("backend", cfg.Backend),
		zap.Int("baud", cfg.BaudRate),
	)
	return newPort(cfg.Address, rwc, cfg.ReadTimeout, isTimeout, logger.With(zap.String("backend", cfg.Backend))), nil
}

// ListPorts 列出系統上的序列埠
func ListPorts() ([]string, error) {
	return serial.GetPortsList()
}

// ToSerialMode 轉換為 go.bug.st/serial 的 Mode
func (c Config) ToSerialMode() (*serial.Mode, error) {
	var parity serial.Parity
	switch c.Parity {
	case "N":
		parity = serial.NoParity
	case "E":
		parity = serial.EvenParity
	case "O":
		parity = serial.OddParity
	default:
		return nil, fmt.Errorf("不支援的同位檢查: %s", c.Parity)
	}

	var stopBits serial.StopBits
	switch c.StopBits {
	case 1:
		stopBits = serial.OneStopBit
	case 2:
		stopBits = serial.TwoStopBits
	default:
		return nil, fmt.Errorf("不支援的停止位元: %d", c.StopBits)
	}

	return &serial.Mode{
		BaudRate: c.BaudRate,
		DataBits: c.DataBits,
		Parity:   parity,
		StopBits: stopBits,
	}, nil
}

// ToTarmConfig 轉換為 tarm/serial 的 Config
func (c Config) ToTarmConfig() (*tarm.Config, error) {
	var parity tarm.Parity
	switch c.Parity {
	case "N":
		parity = tarm.ParityNone
	case "E":
		parity = tarm.ParityEven
	case "O":
		parity = tarm.ParityOdd
	default:
		return nil, fmt.Errorf("不支援的同位檢查: %s", c.Parity)
	}

	var stopBits tarm.StopBits
	switch c.StopBits {
	case 1:
		stopBits = tarm.Stop1
	case 2:
		stopBits = tarm.Stop2
	default:
		return nil, fmt.Errorf("不支援的停止位元: %d", c.StopBits)
	}

	return &tarm.Config{
		Name:        c.Address,
		Baud:        c.BaudRate,
		ReadTimeout: c.ReadTimeout,
		Size:        byte(c.DataBits),
		Parity:      parity,
		StopBits:    stopBits,
	}, nil
}

// ToGoburrowConfig 轉換為 goburrow/serial 的 Config
func (c Config) ToGoburrowConfig() *goburrow.Config {
	return &goburrow.Config{
		Address:  c.Address,
		BaudRate: c.BaudRate,
		DataBits: c.DataBits,
		StopBits: c.StopBits,
		Parity:   c.Parity,
		Timeout:  c.ReadTimeout,
	}
}

func openBugst(cfg Config) (io.ReadWriteCloser, error) {
	mode, err := cfg.ToSerialMode()
	if err != nil {
		return nil, err
	}
	port, err := serial.Open(cfg.Address, mode)
	if err != nil {
		return nil, err
	}
	if cfg.ReadTimeout > 0 {
		if err := port.SetReadTimeout(cfg.ReadTimeout); err != nil {
			port.Close()
			return nil, fmt.Errorf("設定讀取逾時失敗: %w", err)
		}
	}
	if err := port.ResetInputBuffer(); err != nil {
		port.Close()
		return nil, fmt.Errorf("清除輸入緩衝失敗: %w", err)
	}
	return port, nil
}

func openTarm(cfg Config) (io.ReadWriteCloser, error) {
	c, err := cfg.ToTarmConfig()
	if err != nil {
		return nil, err
	}
	port, err := tarm.OpenPort(c)
	if err != nil {
		return nil, err
	}
	if err := port.Flush(); err != nil {
		port.Close()
		return nil, fmt.Errorf("清除緩衝失敗: %w", err)
	}
	return port, nil
}

func openGoburrow(cfg Config) (io.ReadWriteCloser, error) {
	return goburrow.Open(cfg.ToGoburrowConfig())
}
