package hcs

import (
	"fmt"
	"io"
	"time"
)

// Transport 位元組串流傳輸介面 (序列埠或其模擬)
type Transport interface {
	io.Writer

	// Read 有逾時的讀取，與 io.Reader 不同：
	// 逾時且無資料時回傳 0, nil，僅在傳輸層故障時回傳錯誤。
	Read(p []byte) (int, error)

	// BytesAvailable 已就緒、可不等待讀取的位元組數
	BytesAvailable() int
}

// RequestObserver 請求觀察者 (指標收集用)
type RequestObserver interface {
	ObserveRequest(mnemonic string, elapsed time.Duration, err error)
}

// Preset 電壓/電流設定組
type Preset struct {
	Voltage float64 `json:"voltage"`
	Current float64 `json:"current"`
}

func (p Preset) String() string {
	return fmt.Sprintf("%gV %gA", p.Voltage, p.Current)
}

// DeviceLimits 裝置上限，探測後不再變動
type DeviceLimits struct {
	MaxVoltage float64 `json:"max_voltage"`
	MaxCurrent float64 `json:"max_current"`
}

// OutputState 輸出開關狀態
type OutputState int

const (
	OutputOff OutputState = iota
	OutputOn
)

func (s OutputState) String() string {
	switch s {
	case OutputOff:
		return "off"
	case OutputOn:
		return "on"
	default:
		return "unknown"
	}
}

// ParseOutputState 解析輸出狀態字串
func ParseOutputState(s string) (OutputState, error) {
	switch s {
	case "on", "1", "true":
		return OutputOn, nil
	case "off", "0", "false":
		return OutputOff, nil
	}
	return OutputOff, &Error{Kind: ErrInvalidArgument, Op: "output", Msg: fmt.Sprintf("無效的輸出狀態 %q", s)}
}

// OutputEncoding SOUT 指令的數字編碼方式
type OutputEncoding int

const (
	// OutputEncodingActiveHigh Off=0, On=1
	OutputEncodingActiveHigh OutputEncoding = iota
	// OutputEncodingActiveLow Off=1, On=0 (Manson 韌體文件)
	OutputEncodingActiveLow
)

func (e OutputEncoding) String() string {
	switch e {
	case OutputEncodingActiveHigh:
		return "active_high"
	case OutputEncodingActiveLow:
		return "active_low"
	default:
		return "unknown"
	}
}

// Digit 取得輸出狀態對應的指令數字
func (e OutputEncoding) Digit(s OutputState) int {
	on := 1
	if e == OutputEncodingActiveLow {
		on = 0
	}
	if s == OutputOn {
		return on
	}
	return 1 - on
}

// State 將指令數字還原為輸出狀態
func (e OutputEncoding) State(digit int) (OutputState, error) {
	if digit != 0 && digit != 1 {
		return OutputOff, &Error{Kind: ErrInvalidArgument, Op: "output", Msg: fmt.Sprintf("無效的輸出數字 %d", digit)}
	}
	if e.Digit(OutputOn) == digit {
		return OutputOn, nil
	}
	return OutputOff, nil
}

// DisplayState 顯示模式 (定電壓/定電流)
type DisplayState int

const (
	ConstantVoltage DisplayState = iota
	ConstantCurrent
)

func (s DisplayState) String() string {
	switch s {
	case ConstantVoltage:
		return "CV"
	case ConstantCurrent:
		return "CC"
	default:
		return "unknown"
	}
}

// DisplayStatus 面板顯示值與模式
type DisplayStatus struct {
	Voltage float64      `json:"voltage"`
	Current float64      `json:"current"`
	State   DisplayState `json:"state"`
}

// MemorySlots 裝置記憶體預設組數量
const MemorySlots = 3

// DefaultMemoryPresets 未指定時寫入記憶體的預設組：5V、13.8V 與最大電壓，電流皆為上限
func DefaultMemoryPresets(limits DeviceLimits) []Preset {
	clamp := func(v float64) float64 {
		if v > limits.MaxVoltage {
			return limits.MaxVoltage
		}
		return v
	}
	return []Preset{
		{Voltage: clamp(5), Current: limits.MaxCurrent},
		{Voltage: clamp(13.8), Current: limits.MaxCurrent},
		{Voltage: limits.MaxVoltage, Current: limits.MaxCurrent},
	}
}
