// Package simulator 提供 HCS 系列電源供應器的虛擬裝置與 TCP 模擬伺服器。
package simulator

import (
	"bytes"
	"math/rand"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"hcsctl/hcs"
)

// State 裝置內部狀態快照
type State struct {
	Format hcs.NumericFormat           `json:"format"`
	Limits hcs.DeviceLimits            `json:"limits"`
	Preset hcs.Preset                  `json:"preset"`
	Memory [hcs.MemorySlots]hcs.Preset `json:"memory"`
	OVP    float64                     `json:"ovp"`
	OCP    float64                     `json:"ocp"`
	Output hcs.OutputState             `json:"output"`
}

// DeviceStats 裝置統計資訊
type DeviceStats struct {
	Requests      atomic.Uint64
	Malformed     atomic.Uint64
	Dropped       atomic.Uint64
	Garbled       atomic.Uint64
	BytesReceived atomic.Uint64
	BytesSent     atomic.Uint64
}

// Option 裝置配置選項
type Option func(*Device)

// WithFormat 設定數值格式 (3/1 或 4/2)
func WithFormat(f hcs.NumericFormat) Option {
	return func(d *Device) {
		d.state.Format = f
	}
}

// WithLimits 設定裝置上限，同時重設 OVP/OCP 與記憶體預設
func WithLimits(limits hcs.DeviceLimits) Option {
	return func(d *Device) {
		d.state.Limits = limits
		d.state.OVP = limits.MaxVoltage
		d.state.OCP = limits.MaxCurrent
		copy(d.state.Memory[:], hcs.DefaultMemoryPresets(limits))
	}
}

// WithOutputEncoding 設定 SOUT 數字編碼
func WithOutputEncoding(enc hcs.OutputEncoding) Option {
	return func(d *Device) {
		d.encoding = enc
	}
}

// WithScenario 設定初始場景
func WithScenario(t ScenarioType, params ScenarioParams) Option {
	return func(d *Device) {
		d.scenario = t
		d.params = params
	}
}

// WithSeed 固定亂數種子
func WithSeed(seed int64) Option {
	return func(d *Device) {
		d.rnd = rand.New(rand.NewSource(seed))
	}
}

// WithLogger 設定日誌
func WithLogger(logger *zap.Logger) Option {
	return func(d *Device) {
		d.logger = logger
	}
}

// DefaultLimits 預設裝置上限 (HCS-3202)
var DefaultLimits = hcs.DeviceLimits{MaxVoltage: 32.2, MaxCurrent: 20.2}

// Device 虛擬 HCS 電源供應器，實作 hcs.Transport
//
// Write 收到完整指令後立即產生回應；Read 不阻塞，沒有資料時回傳 0, nil。
type Device struct {
	mu sync.Mutex

	state    State
	encoding hcs.OutputEncoding

	scenario ScenarioType
	params   ScenarioParams
	rnd      *rand.Rand

	pending []byte // 尚未結束的指令
	queued  []byte // 尚未釋出的回應
	ready   []byte // 已抵達可讀取的回應

	stats  DeviceStats
	logger *zap.Logger
}

// NewDevice 建立虛擬裝置
func NewDevice(opts ...Option) *Device {
	d := &Device{
		state: State{
			Format: hcs.FormatThreeDigits,
			Preset: hcs.Preset{Voltage: 5, Current: 2},
			Output: hcs.OutputOff,
		},
		encoding: hcs.OutputEncodingActiveHigh,
		scenario: ScenarioNormal,
	}
	WithLimits(DefaultLimits)(d)

	for _, opt := range opts {
		opt(d)
	}

	if d.rnd == nil {
		d.rnd = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if d.logger == nil {
		d.logger = zap.NewNop()
	}
	return d
}

// State 取得狀態快照
func (d *Device) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Stats 取得統計資訊
func (d *Device) Stats() *DeviceStats {
	return &d.stats
}

// SetScenario 切換場景
func (d *Device) SetScenario(t ScenarioType, params ScenarioParams) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.scenario = t
	d.params = params
	d.logger.Info("套用場景", zap.Stringer("scenario", t))
}

// Scenario 取得目前場景
func (d *Device) Scenario() (ScenarioType, ScenarioParams) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.scenario, d.params
}

// Write 接收指令位元組，每個以 \r 結尾的指令產生一筆回應
func (d *Device) Write(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.stats.BytesReceived.Add(uint64(len(p)))
	d.pending = append(d.pending, p...)
	for {
		i := bytes.IndexByte(d.pending, hcs.Terminator)
		if i < 0 {
			break
		}
		cmd := string(d.pending[:i])
		d.pending = d.pending[i+1:]
		if cmd == "" {
			continue
		}
		d.respond(cmd)
	}
	return len(p), nil
}

// Read 讀取已抵達的回應
func (d *Device) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	d.mu.Lock()
	var delay time.Duration
	if len(d.ready) == 0 && len(d.queued) > 0 {
		delay = d.release()
	}
	d.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	n := copy(p, d.ready)
	d.ready = d.ready[n:]
	d.stats.BytesSent.Add(uint64(n))
	return n, nil
}

// BytesAvailable 回傳已抵達、可立即讀取的位元組數
func (d *Device) BytesAvailable() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.ready)
}

// Pending 回傳尚未被讀取的回應位元組數 (含尚未抵達的部分)
func (d *Device) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.ready) + len(d.queued)
}

// Reset 清除收發緩衝
func (d *Device) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pending = nil
	d.queued = nil
	d.ready = nil
}

// release 依場景釋出下一段回應，回傳該段的延遲
func (d *Device) release() time.Duration {
	chunk, delay := 0, time.Duration(0)
	if h := GetScenarioHandler(d.scenario); h != nil {
		chunk, delay = h.Delivery(d.params)
	}
	if chunk <= 0 || chunk > len(d.queued) {
		chunk = len(d.queued)
	}
	d.ready = append(d.ready, d.queued[:chunk]...)
	d.queued = d.queued[chunk:]
	return delay
}

// respond 處理單一指令並排入回應
func (d *Device) respond(cmd string) {
	d.stats.Requests.Add(1)

	lines := d.handle(cmd)
	if h := GetScenarioHandler(d.scenario); h != nil {
		shaped := h.Respond(lines, d.params, d.rnd)
		switch {
		case len(shaped) < len(lines):
			d.stats.Dropped.Add(1)
		case len(shaped) > len(lines):
			d.stats.Garbled.Add(1)
		}
		lines = shaped
	}

	d.logger.Debug("回應指令", zap.String("command", cmd), zap.Strings("lines", lines))
	for _, l := range lines {
		d.queued = append(d.queued, l...)
		d.queued = append(d.queued, hcs.Terminator)
	}
}

// handle 依助記符執行指令，回傳回應行 (含狀態行)
func (d *Device) handle(cmd string) []string {
	mnemonic, arg := cmd, ""
	if len(cmd) > 4 {
		mnemonic, arg = cmd[:4], cmd[4:]
	}

	var data string
	switch mnemonic {
	case hcs.CmdGetMax:
		data = d.encode(d.state.Limits.MaxVoltage, d.state.Limits.MaxCurrent)
	case hcs.CmdSwitchOutput:
		d.switchOutput(arg)
	case hcs.CmdSetVoltage:
		if v, ok := d.decodeOne(mnemonic, arg); ok {
			d.state.Preset.Voltage = clamp(v, d.state.OVP)
		}
	case hcs.CmdSetCurrent:
		if v, ok := d.decodeOne(mnemonic, arg); ok {
			d.state.Preset.Current = clamp(v, d.state.OCP)
		}
	case hcs.CmdGetPresets:
		data = d.encode(d.state.Preset.Voltage, d.state.Preset.Current)
	case hcs.CmdGetDisplay:
		data = d.display()
	case hcs.CmdProgramMemory:
		d.programMemory(arg)
	case hcs.CmdGetMemory:
		values := make([]float64, 0, 2*hcs.MemorySlots)
		for _, p := range d.state.Memory {
			values = append(values, p.Voltage, p.Current)
		}
		data = d.encode(values...)
	case hcs.CmdRunMemory:
		d.runMemory(arg)
	case hcs.CmdGetOVP:
		data = d.encode(d.state.OVP)
	case hcs.CmdSetOVP:
		if v, ok := d.decodeOne(mnemonic, arg); ok {
			d.state.OVP = clamp(v, d.state.Limits.MaxVoltage)
			d.state.Preset.Voltage = clamp(d.state.Preset.Voltage, d.state.OVP)
		}
	case hcs.CmdGetOCP:
		data = d.encode(d.state.OCP)
	case hcs.CmdSetOCP:
		if v, ok := d.decodeOne(mnemonic, arg); ok {
			d.state.OCP = clamp(v, d.state.Limits.MaxCurrent)
			d.state.Preset.Current = clamp(d.state.Preset.Current, d.state.OCP)
		}
	default:
		d.logger.Debug("未知指令", zap.String("command", cmd))
	}

	if data == "" {
		return []string{hcs.StatusOK}
	}
	return []string{data, hcs.StatusOK}
}

func (d *Device) switchOutput(arg string) {
	digit, err := strconv.Atoi(arg)
	if err != nil {
		d.malformed(hcs.CmdSwitchOutput, arg)
		return
	}
	state, err := d.encoding.State(digit)
	if err != nil {
		d.malformed(hcs.CmdSwitchOutput, arg)
		return
	}
	d.state.Output = state
}

func (d *Device) programMemory(arg string) {
	values, err := hcs.DecodeFields(arg, d.state.Format, 2*hcs.MemorySlots)
	if err != nil {
		d.malformed(hcs.CmdProgramMemory, arg)
		return
	}
	for i := range d.state.Memory {
		d.state.Memory[i] = hcs.Preset{
			Voltage: clamp(values[2*i], d.state.Limits.MaxVoltage),
			Current: clamp(values[2*i+1], d.state.Limits.MaxCurrent),
		}
	}
}

func (d *Device) runMemory(arg string) {
	index, err := strconv.Atoi(arg)
	if err != nil || index < 0 || index >= hcs.MemorySlots {
		d.malformed(hcs.CmdRunMemory, arg)
		return
	}
	d.state.Preset = hcs.Preset{
		Voltage: clamp(d.state.Memory[index].Voltage, d.state.OVP),
		Current: clamp(d.state.Memory[index].Current, d.state.OCP),
	}
}

func (d *Device) display() string {
	status := hcs.DisplayStatus{State: hcs.ConstantVoltage}
	if h := GetScenarioHandler(d.scenario); h != nil {
		status = h.Display(d.state, d.params, d.rnd)
	}
	mode := "0"
	if status.State == hcs.ConstantCurrent {
		mode = "1"
	}
	return d.encode(status.Voltage, status.Current) + mode
}

func (d *Device) decodeOne(mnemonic, arg string) (float64, bool) {
	values, err := hcs.DecodeFields(arg, d.state.Format, 1)
	if err != nil {
		d.malformed(mnemonic, arg)
		return 0, false
	}
	return values[0], true
}

func (d *Device) malformed(mnemonic, arg string) {
	d.stats.Malformed.Add(1)
	d.logger.Warn("指令參數無效", zap.String("mnemonic", mnemonic), zap.String("arg", arg))
}

// encode 狀態值皆已限制在上限內，編碼失敗代表格式與上限不一致
func (d *Device) encode(values ...float64) string {
	s, err := hcs.EncodeAll(values, d.state.Format)
	if err != nil {
		d.logger.Error("編碼失敗", zap.Error(err))
		return strings.Repeat("0", len(values)*int(d.state.Format.Width))
	}
	return s
}
