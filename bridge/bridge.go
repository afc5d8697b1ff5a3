// Package bridge 將 HCS 電源供應器以 Modbus TCP 從站的形式提供給 SCADA/PLC。
package bridge

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tbrandon/mbserver"
	"go.uber.org/zap"

	"hcsctl/hcs"
)

// Controller 橋接所需的裝置操作，*hcs.Session 即為實作
type Controller interface {
	Limits() hcs.DeviceLimits
	DisplayStatus() (hcs.DisplayStatus, error)
	Presets() (hcs.Preset, error)
	OVP() (float64, error)
	OCP() (float64, error)
	SwitchOutput(state hcs.OutputState) error
	SetVoltage(volts float64) error
	SetCurrent(amps float64) error
	SetOVP(volts float64) error
	SetOCP(amps float64) error
	LoadPreset(index int) error
	Resync() int
}

// PollObserver 接收每次輪詢的結果 (指標收集用)
type PollObserver interface {
	ObservePoll(status hcs.DisplayStatus, preset hcs.Preset, err error)
}

// BridgeState 橋接狀態
type BridgeState int32

const (
	BridgeStateStopped BridgeState = iota
	BridgeStateStarting
	BridgeStateRunning
	BridgeStateStopping
)

func (s BridgeState) String() string {
	switch s {
	case BridgeStateStopped:
		return "stopped"
	case BridgeStateStarting:
		return "starting"
	case BridgeStateRunning:
		return "running"
	case BridgeStateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// BridgeStats 橋接統計資訊
type BridgeStats struct {
	StartTime       time.Time
	RequestCount    atomic.Uint64
	ErrorCount      atomic.Uint64
	PollCount       atomic.Uint64
	PollErrorCount  atomic.Uint64
	LastRequestTime atomic.Int64
}

// Option 橋接配置選項
type Option func(*Bridge)

// WithPollInterval 設定輪詢間隔
func WithPollInterval(d time.Duration) Option {
	return func(b *Bridge) {
		b.pollInterval = d
	}
}

// WithRegisters 設定自訂暫存器
func WithRegisters(rm *RegisterMap) Option {
	return func(b *Bridge) {
		b.registers = rm
	}
}

// WithPollObserver 設定輪詢觀察者
func WithPollObserver(o PollObserver) Option {
	return func(b *Bridge) {
		b.observer = o
	}
}

// WithLogger 設定日誌
func WithLogger(logger *zap.Logger) Option {
	return func(b *Bridge) {
		b.logger = logger
	}
}

// DefaultPollInterval 預設輪詢間隔
const DefaultPollInterval = time.Second

// Bridge Modbus TCP 從站，讀取對應輪詢快取，寫入轉送至裝置
type Bridge struct {
	// devMu 序列化所有裝置操作；不可在持有時取得暫存器以外的鎖
	devMu sync.Mutex
	dev   Controller

	addr         string
	pollInterval time.Duration

	state     atomic.Int32
	registers *RegisterMap
	server    *mbserver.Server
	failures  atomic.Uint32

	stats    BridgeStats
	observer PollObserver

	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger *zap.Logger
}

// NewBridge 建立橋接
func NewBridge(addr string, dev Controller, opts ...Option) *Bridge {
	b := &Bridge{
		dev:          dev,
		addr:         addr,
		pollInterval: DefaultPollInterval,
		registers:    DefaultRegisterMap(),
	}

	for _, opt := range opts {
		opt(b)
	}

	if b.logger == nil {
		b.logger = zap.NewNop()
	}
	return b
}

// Start 啟動 Modbus 伺服器與輪詢
func (b *Bridge) Start(ctx context.Context) error {
	if !b.state.CompareAndSwap(int32(BridgeStateStopped), int32(BridgeStateStarting)) {
		return fmt.Errorf("橋接 %s 已經在運行中", b.addr)
	}

	limits := b.dev.Limits()
	b.registers.SetScaledValue(RegisterTypeInputRegister, InputMaxVoltage, limits.MaxVoltage)
	b.registers.SetScaledValue(RegisterTypeInputRegister, InputMaxCurrent, limits.MaxCurrent)

	if err := b.Poll(); err != nil {
		b.logger.Warn("初次輪詢失敗", zap.Error(err))
	}

	b.server = mbserver.NewServer()
	b.registerHandlers(b.server)

	b.stats.StartTime = time.Now()
	if err := b.server.ListenTCP(b.addr); err != nil {
		b.state.Store(int32(BridgeStateStopped))
		return fmt.Errorf("監聽 %s 失敗: %w", b.addr, err)
	}

	pollCtx, cancel := context.WithCancel(ctx)
	b.cancel = cancel
	b.wg.Add(1)
	go b.runPoller(pollCtx)

	b.state.Store(int32(BridgeStateRunning))
	b.logger.Info("Modbus 橋接已啟動",
		zap.String("addr", b.addr),
		zap.Duration("poll_interval", b.pollInterval),
	)
	return nil
}

// Stop 停止輪詢並關閉伺服器
func (b *Bridge) Stop(ctx context.Context) error {
	if !b.state.CompareAndSwap(int32(BridgeStateRunning), int32(BridgeStateStopping)) {
		return nil
	}

	if b.cancel != nil {
		b.cancel()
	}
	if b.server != nil {
		b.server.Close()
	}

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		b.logger.Warn("停止橋接超時")
	}

	b.state.Store(int32(BridgeStateStopped))
	b.logger.Info("Modbus 橋接已停止",
		zap.Duration("uptime", time.Since(b.stats.StartTime)),
		zap.Uint64("requests", b.stats.RequestCount.Load()),
		zap.Uint64("polls", b.stats.PollCount.Load()),
	)
	return nil
}

// State 取得當前狀態
func (b *Bridge) State() BridgeState {
	return BridgeState(b.state.Load())
}

// Stats 取得統計資訊
func (b *Bridge) Stats() *BridgeStats {
	return &b.stats
}

// Registers 取得暫存器映射
func (b *Bridge) Registers() *RegisterMap {
	return b.registers
}

// Poll 讀取裝置狀態並更新暫存器
func (b *Bridge) Poll() error {
	b.stats.PollCount.Add(1)

	var (
		status   hcs.DisplayStatus
		preset   hcs.Preset
		ovp, ocp float64
	)
	err := b.withDevice(func(dev Controller) error {
		var err error
		if status, err = dev.DisplayStatus(); err != nil {
			return err
		}
		if preset, err = dev.Presets(); err != nil {
			return err
		}
		if ovp, err = dev.OVP(); err != nil {
			return err
		}
		ocp, err = dev.OCP()
		return err
	})

	if b.observer != nil {
		b.observer.ObservePoll(status, preset, err)
	}

	if err != nil {
		b.stats.PollErrorCount.Add(1)
		failures := b.failures.Add(1)
		b.registers.SetInputRegister(InputPollErrors, uint16(min(failures, math.MaxUint16)))
		b.registers.SetDiscreteInput(DiscreteLinkUp, false)
		return fmt.Errorf("輪詢裝置失敗: %w", err)
	}

	b.failures.Store(0)
	b.registers.SetInputRegister(InputPollErrors, 0)
	b.registers.SetDiscreteInput(DiscreteLinkUp, true)

	b.registers.SetScaledValue(RegisterTypeInputRegister, InputDisplayVoltage, status.Voltage)
	b.registers.SetScaledValue(RegisterTypeInputRegister, InputDisplayCurrent, status.Current)
	b.registers.SetInputRegister(InputMode, uint16(status.State))
	b.registers.SetDiscreteInput(DiscreteConstantCurrent, status.State == hcs.ConstantCurrent)

	b.registers.SetScaledValue(RegisterTypeHoldingRegister, HoldingVoltage, preset.Voltage)
	b.registers.SetScaledValue(RegisterTypeHoldingRegister, HoldingCurrent, preset.Current)
	b.registers.SetScaledValue(RegisterTypeHoldingRegister, HoldingOVP, ovp)
	b.registers.SetScaledValue(RegisterTypeHoldingRegister, HoldingOCP, ocp)
	return nil
}

// withDevice 在裝置鎖內執行操作，失敗時重新同步
func (b *Bridge) withDevice(fn func(dev Controller) error) error {
	b.devMu.Lock()
	defer b.devMu.Unlock()

	err := fn(b.dev)
	switch hcs.KindOf(err) {
	case hcs.ErrTimeout, hcs.ErrProtocolViolation, hcs.ErrMalformedNumeric:
		b.dev.Resync()
	}
	return err
}

// runPoller 定時輪詢
func (b *Bridge) runPoller(ctx context.Context) {
	defer b.wg.Done()

	ticker := time.NewTicker(b.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := b.Poll(); err != nil {
				b.logger.Warn("輪詢失敗", zap.Error(err), zap.Uint32("consecutive", b.failures.Load()))
			}
		}
	}
}

// recordRequest 記錄請求
func (b *Bridge) recordRequest(hasError bool) {
	b.stats.RequestCount.Add(1)
	b.stats.LastRequestTime.Store(time.Now().UnixNano())
	if hasError {
		b.stats.ErrorCount.Add(1)
	}
}
