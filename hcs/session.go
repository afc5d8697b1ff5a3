package hcs

import (
	"fmt"
	"io"
	"strconv"
	"sync/atomic"

	"go.uber.org/zap"
)

// 指令助記符
const (
	CmdGetMax        = "GMAX"
	CmdSwitchOutput  = "SOUT"
	CmdSetVoltage    = "VOLT"
	CmdSetCurrent    = "CURR"
	CmdGetPresets    = "GETS"
	CmdGetDisplay    = "GETD"
	CmdProgramMemory = "PROM"
	CmdGetMemory     = "GETM"
	CmdRunMemory     = "RUNM"
	CmdGetOVP        = "GOVP"
	CmdSetOVP        = "SOVP"
	CmdGetOCP        = "GOCP"
	CmdSetOCP        = "SOCP"
)

// SessionState 連線階段狀態
type SessionState int32

const (
	SessionUninitialized SessionState = iota
	SessionProbing
	SessionReady
	SessionFailed
)

func (s SessionState) String() string {
	switch s {
	case SessionUninitialized:
		return "uninitialized"
	case SessionProbing:
		return "probing"
	case SessionReady:
		return "ready"
	case SessionFailed:
		return "failed"
	default:
		return "unknown"
	}
}

type options struct {
	logger         *zap.Logger
	observer       RequestObserver
	maxAttempts    int
	outputEncoding OutputEncoding
}

// Option Session 配置選項
type Option func(*options)

// WithLogger 設定日誌
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithObserver 設定請求觀察者
func WithObserver(observer RequestObserver) Option {
	return func(o *options) {
		o.observer = observer
	}
}

// WithMaxAttempts 設定無資料讀取輪數上限
func WithMaxAttempts(n int) Option {
	return func(o *options) {
		o.maxAttempts = n
	}
}

// WithOutputEncoding 設定 SOUT 的數字編碼
func WithOutputEncoding(enc OutputEncoding) Option {
	return func(o *options) {
		o.outputEncoding = enc
	}
}

// Prober 探測階段，成功後轉為 Session，只能使用一次
type Prober struct {
	state     atomic.Int32
	transport Transport
	engine    *Engine
	opts      options
}

// NewProber 建立探測器
func NewProber(t Transport, opts ...Option) *Prober {
	o := options{
		maxAttempts:    DefaultMaxAttempts,
		outputEncoding: OutputEncodingActiveHigh,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}

	engine := NewEngine(t, o.maxAttempts, o.logger)
	engine.SetObserver(o.observer)

	return &Prober{
		transport: t,
		engine:    engine,
		opts:      o,
	}
}

// State 取得目前階段
func (p *Prober) State() SessionState {
	return SessionState(p.state.Load())
}

// Probe 送出 GMAX，推導數值格式與裝置上限
func (p *Prober) Probe() (*Session, error) {
	if !p.state.CompareAndSwap(int32(SessionUninitialized), int32(SessionProbing)) {
		return nil, fmt.Errorf("探測器狀態為 %s，無法再次探測", p.State())
	}

	s, err := p.probe()
	if err != nil {
		p.state.Store(int32(SessionFailed))
		p.opts.logger.Error("裝置探測失敗", zap.Error(err))
		return nil, fmt.Errorf("探測裝置失敗: %w", err)
	}

	p.state.Store(int32(SessionReady))
	p.opts.logger.Info("裝置探測完成",
		zap.Stringer("format", s.format),
		zap.Float64("max_voltage", s.limits.MaxVoltage),
		zap.Float64("max_current", s.limits.MaxCurrent),
	)
	return s, nil
}

func (p *Prober) probe() (*Session, error) {
	payload, hasData, err := p.engine.Request(CmdGetMax)
	if err != nil {
		return nil, err
	}
	if !hasData {
		return nil, &Error{Kind: ErrProtocolViolation, Op: CmdGetMax, Msg: "探測回應缺少資料行", Lines: []string{StatusOK}}
	}

	format, err := FormatFromProbeLength(len(payload))
	if err != nil {
		return nil, err
	}
	values, err := DecodeFields(payload, format, probeFields)
	if err != nil {
		if pe, ok := err.(*Error); ok {
			pe.Op = CmdGetMax
		}
		return nil, err
	}

	return &Session{
		transport: p.transport,
		engine:    p.engine,
		format:    format,
		limits:    DeviceLimits{MaxVoltage: values[0], MaxCurrent: values[1]},
		outputEnc: p.opts.outputEncoding,
		logger:    p.opts.logger,
	}, nil
}

// Open 探測裝置並回傳可用的 Session
func Open(t Transport, opts ...Option) (*Session, error) {
	return NewProber(t, opts...).Probe()
}

// Session 已完成探測的裝置連線，格式與上限不可變
type Session struct {
	transport Transport
	engine    *Engine
	format    NumericFormat
	limits    DeviceLimits
	outputEnc OutputEncoding
	logger    *zap.Logger
}

// Format 取得裝置數值格式
func (s *Session) Format() NumericFormat {
	return s.format
}

// Limits 取得探測時得到的裝置上限
func (s *Session) Limits() DeviceLimits {
	return s.limits
}

// OutputEncoding 取得 SOUT 編碼
func (s *Session) OutputEncoding() OutputEncoding {
	return s.outputEnc
}

// Resync 丟棄傳輸層殘留資料
func (s *Session) Resync() int {
	return s.engine.Resync()
}

// Close 關閉底層傳輸 (若可關閉)
func (s *Session) Close() error {
	if c, ok := s.transport.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// SwitchOutput 切換輸出
func (s *Session) SwitchOutput(state OutputState) error {
	if state != OutputOff && state != OutputOn {
		return &Error{Kind: ErrInvalidArgument, Op: CmdSwitchOutput, Msg: fmt.Sprintf("無效的輸出狀態 %d", state)}
	}
	return s.command(CmdSwitchOutput + strconv.Itoa(s.outputEnc.Digit(state)))
}

// SetVoltage 設定電壓
func (s *Session) SetVoltage(volts float64) error {
	return s.setValue(CmdSetVoltage, volts)
}

// SetCurrent 設定電流
func (s *Session) SetCurrent(amps float64) error {
	return s.setValue(CmdSetCurrent, amps)
}

// Presets 讀取目前生效的電壓/電流設定
func (s *Session) Presets() (Preset, error) {
	values, err := s.query(CmdGetPresets, 2)
	if err != nil {
		return Preset{}, err
	}
	return Preset{Voltage: values[0], Current: values[1]}, nil
}

// DisplayStatus 讀取面板顯示值與 CV/CC 模式
func (s *Session) DisplayStatus() (DisplayStatus, error) {
	payload, err := s.data(CmdGetDisplay)
	if err != nil {
		return DisplayStatus{}, err
	}
	if len(payload) != 2*int(s.format.Width)+1 {
		return DisplayStatus{}, &Error{
			Kind: ErrMalformedNumeric,
			Op:   CmdGetDisplay,
			Msg:  fmt.Sprintf("顯示狀態長度 %d 不符", len(payload)),
		}
	}

	values, err := DecodeFields(payload[:len(payload)-1], s.format, 2)
	if err != nil {
		if pe, ok := err.(*Error); ok {
			pe.Op = CmdGetDisplay
		}
		return DisplayStatus{}, err
	}

	var state DisplayState
	switch payload[len(payload)-1] {
	case '0':
		state = ConstantVoltage
	case '1':
		state = ConstantCurrent
	default:
		return DisplayStatus{}, &Error{
			Kind: ErrMalformedNumeric,
			Op:   CmdGetDisplay,
			Msg:  fmt.Sprintf("無效的模式字元 %q", payload[len(payload)-1]),
		}
	}

	return DisplayStatus{Voltage: values[0], Current: values[1], State: state}, nil
}

// SetMemoryPresets 一次寫入全部 3 組記憶體預設
func (s *Session) SetMemoryPresets(presets []Preset) error {
	if len(presets) != MemorySlots {
		return &Error{
			Kind: ErrInvalidArgument,
			Op:   CmdProgramMemory,
			Msg:  fmt.Sprintf("需要 %d 組預設，收到 %d 組", MemorySlots, len(presets)),
		}
	}

	values := make([]float64, 0, 2*MemorySlots)
	for _, p := range presets {
		values = append(values, p.Voltage, p.Current)
	}
	content, err := EncodeAll(values, s.format)
	if err != nil {
		return err
	}
	return s.command(CmdProgramMemory + content)
}

// MemoryPresets 讀取 3 組記憶體預設
func (s *Session) MemoryPresets() ([MemorySlots]Preset, error) {
	var presets [MemorySlots]Preset
	values, err := s.query(CmdGetMemory, 2*MemorySlots)
	if err != nil {
		return presets, err
	}
	for i := range presets {
		presets[i] = Preset{Voltage: values[2*i], Current: values[2*i+1]}
	}
	return presets, nil
}

// LoadPreset 載入指定記憶體預設
func (s *Session) LoadPreset(index int) error {
	if index < 0 || index >= MemorySlots {
		return &Error{Kind: ErrInvalidArgument, Op: CmdRunMemory, Msg: fmt.Sprintf("無效的預設索引 %d", index)}
	}
	return s.command(CmdRunMemory + strconv.Itoa(index))
}

// OVP 讀取電壓上限設定
func (s *Session) OVP() (float64, error) {
	values, err := s.query(CmdGetOVP, 1)
	if err != nil {
		return 0, err
	}
	return values[0], nil
}

// SetOVP 設定電壓上限
func (s *Session) SetOVP(volts float64) error {
	return s.setValue(CmdSetOVP, volts)
}

// OCP 讀取電流上限設定
func (s *Session) OCP() (float64, error) {
	values, err := s.query(CmdGetOCP, 1)
	if err != nil {
		return 0, err
	}
	return values[0], nil
}

// SetOCP 設定電流上限
func (s *Session) SetOCP(amps float64) error {
	return s.setValue(CmdSetOCP, amps)
}

func (s *Session) setValue(mnemonic string, value float64) error {
	field, err := Encode(value, s.format)
	if err != nil {
		return err
	}
	return s.command(mnemonic + field)
}

// command 送出不預期資料的指令
func (s *Session) command(cmd string) error {
	payload, hasData, err := s.engine.Request(cmd)
	if err != nil {
		return err
	}
	if hasData {
		return &Error{
			Kind:  ErrProtocolViolation,
			Op:    mnemonicOf(cmd),
			Msg:   "指令不應回傳資料",
			Lines: []string{payload, StatusOK},
		}
	}
	return nil
}

// data 送出必須回傳資料的查詢
func (s *Session) data(cmd string) (string, error) {
	payload, hasData, err := s.engine.Request(cmd)
	if err != nil {
		return "", err
	}
	if !hasData {
		return "", &Error{Kind: ErrProtocolViolation, Op: cmd, Msg: "查詢缺少資料行", Lines: []string{StatusOK}}
	}
	return payload, nil
}

func (s *Session) query(cmd string, fields int) ([]float64, error) {
	payload, err := s.data(cmd)
	if err != nil {
		return nil, err
	}
	values, err := DecodeFields(payload, s.format, fields)
	if err != nil {
		if pe, ok := err.(*Error); ok {
			pe.Op = cmd
		}
		return nil, err
	}
	return values, nil
}
