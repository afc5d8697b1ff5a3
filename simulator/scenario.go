package simulator

import (
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"hcsctl/hcs"
)

// ScenarioType 場景類型
type ScenarioType int

const (
	ScenarioNormal ScenarioType = iota
	ScenarioOverload
	ScenarioJitter
	ScenarioPacketLoss
	ScenarioGarbled
)

func (s ScenarioType) String() string {
	switch s {
	case ScenarioNormal:
		return "normal"
	case ScenarioOverload:
		return "overload"
	case ScenarioJitter:
		return "jitter"
	case ScenarioPacketLoss:
		return "packet_loss"
	case ScenarioGarbled:
		return "garbled"
	default:
		return "unknown"
	}
}

// ParseScenarioType 解析場景類型
func ParseScenarioType(s string) (ScenarioType, error) {
	for _, t := range ListScenarioTypes() {
		if t.String() == s {
			return t, nil
		}
	}
	names := make([]string, 0, len(ListScenarioTypes()))
	for _, t := range ListScenarioTypes() {
		names = append(names, t.String())
	}
	return ScenarioNormal, fmt.Errorf("未知的場景 %q (可用: %s)", s, strings.Join(names, ", "))
}

// ListScenarioTypes 列出所有場景類型
func ListScenarioTypes() []ScenarioType {
	return []ScenarioType{
		ScenarioNormal,
		ScenarioOverload,
		ScenarioJitter,
		ScenarioPacketLoss,
		ScenarioGarbled,
	}
}

// ScenarioParams 場景參數，零值代表使用場景預設
type ScenarioParams struct {
	Noise          float64       `json:"noise" mapstructure:"noise"`
	LoadResistance float64       `json:"load_resistance" mapstructure:"load_resistance"`
	ChunkSize      int           `json:"chunk_size" mapstructure:"chunk_size"`
	ChunkDelay     time.Duration `json:"chunk_delay" mapstructure:"chunk_delay"`
	LossRate       float64       `json:"loss_rate" mapstructure:"loss_rate"`
	GarbleRate     float64       `json:"garble_rate" mapstructure:"garble_rate"`
}

// 場景預設值
const (
	defaultNoise              = 0.005
	defaultLoadResistance     = 10.0
	defaultOverloadResistance = 0.1
	defaultChunkSize          = 2
	defaultLossRate           = 0.05
	defaultGarbleRate         = 0.1
)

// garbageLine 亂碼場景插入的雜訊行
const garbageLine = "?"

// ScenarioHandler 場景處理介面
//
// 處理器為無狀態共用實例，狀態與亂數來源由 Device 傳入。
type ScenarioHandler interface {
	Type() ScenarioType
	// Display 依設定值與負載計算面板顯示
	Display(state State, params ScenarioParams, rnd *rand.Rand) hcs.DisplayStatus
	// Respond 在回應送出前調整回應行
	Respond(lines []string, params ScenarioParams, rnd *rand.Rand) []string
	// Delivery 回應分段大小與每段延遲，0 表示一次送出
	Delivery(params ScenarioParams) (chunk int, delay time.Duration)
}

// 場景處理器註冊表
var (
	scenarioHandlers   = make(map[ScenarioType]ScenarioHandler)
	scenarioHandlersMu sync.RWMutex
)

func init() {
	RegisterScenarioHandler(&NormalScenario{})
	RegisterScenarioHandler(&OverloadScenario{})
	RegisterScenarioHandler(&JitterScenario{})
	RegisterScenarioHandler(&PacketLossScenario{})
	RegisterScenarioHandler(&GarbledScenario{})
}

// RegisterScenarioHandler 註冊場景處理器
func RegisterScenarioHandler(handler ScenarioHandler) {
	scenarioHandlersMu.Lock()
	defer scenarioHandlersMu.Unlock()
	scenarioHandlers[handler.Type()] = handler
}

// GetScenarioHandler 取得場景處理器
func GetScenarioHandler(scenarioType ScenarioType) ScenarioHandler {
	scenarioHandlersMu.RLock()
	defer scenarioHandlersMu.RUnlock()
	return scenarioHandlers[scenarioType]
}

// --- Normal Scenario ---

// NormalScenario 正常場景：電阻性負載，顯示值小幅波動
type NormalScenario struct{}

func (s *NormalScenario) Type() ScenarioType {
	return ScenarioNormal
}

func (s *NormalScenario) Display(state State, params ScenarioParams, rnd *rand.Rand) hcs.DisplayStatus {
	if state.Output != hcs.OutputOn {
		return hcs.DisplayStatus{State: hcs.ConstantVoltage}
	}

	r := params.LoadResistance
	if r <= 0 {
		r = defaultLoadResistance
	}
	noise := params.Noise
	if noise == 0 {
		noise = defaultNoise
	}

	// 負載電流超過設定電流即進入定電流
	status := hcs.DisplayStatus{
		Voltage: state.Preset.Voltage,
		Current: state.Preset.Voltage / r,
		State:   hcs.ConstantVoltage,
	}
	if status.Current > state.Preset.Current {
		status.Current = state.Preset.Current
		status.Voltage = state.Preset.Current * r
		status.State = hcs.ConstantCurrent
	}

	status.Voltage = clamp(status.Voltage*(1+(rnd.Float64()*2-1)*noise), state.Limits.MaxVoltage)
	status.Current = clamp(status.Current*(1+(rnd.Float64()*2-1)*noise), state.Limits.MaxCurrent)
	return status
}

func (s *NormalScenario) Respond(lines []string, params ScenarioParams, rnd *rand.Rand) []string {
	return lines
}

func (s *NormalScenario) Delivery(params ScenarioParams) (int, time.Duration) {
	return 0, 0
}

// --- Overload Scenario ---

// OverloadScenario 過載場景：近乎短路的負載，輸出開啟即為定電流
type OverloadScenario struct {
	NormalScenario
}

func (s *OverloadScenario) Type() ScenarioType {
	return ScenarioOverload
}

func (s *OverloadScenario) Display(state State, params ScenarioParams, rnd *rand.Rand) hcs.DisplayStatus {
	if params.LoadResistance <= 0 {
		params.LoadResistance = defaultOverloadResistance
	}
	return s.NormalScenario.Display(state, params, rnd)
}

// --- Jitter Scenario ---

// JitterScenario 回應分段抵達
type JitterScenario struct {
	NormalScenario
}

func (s *JitterScenario) Type() ScenarioType {
	return ScenarioJitter
}

func (s *JitterScenario) Delivery(params ScenarioParams) (int, time.Duration) {
	chunk := params.ChunkSize
	if chunk <= 0 {
		chunk = defaultChunkSize
	}
	return chunk, params.ChunkDelay
}

// --- Packet Loss Scenario ---

// PacketLossScenario 依機率遺失狀態行
type PacketLossScenario struct {
	NormalScenario
}

func (s *PacketLossScenario) Type() ScenarioType {
	return ScenarioPacketLoss
}

func (s *PacketLossScenario) Respond(lines []string, params ScenarioParams, rnd *rand.Rand) []string {
	rate := params.LossRate
	if rate == 0 {
		rate = defaultLossRate
	}
	if rnd.Float64() >= rate || len(lines) == 0 {
		return lines
	}
	return lines[:len(lines)-1]
}

// --- Garbled Scenario ---

// GarbledScenario 依機率在回應前插入雜訊行
type GarbledScenario struct {
	NormalScenario
}

func (s *GarbledScenario) Type() ScenarioType {
	return ScenarioGarbled
}

func (s *GarbledScenario) Respond(lines []string, params ScenarioParams, rnd *rand.Rand) []string {
	rate := params.GarbleRate
	if rate == 0 {
		rate = defaultGarbleRate
	}
	if rnd.Float64() >= rate {
		return lines
	}
	return append([]string{garbageLine}, lines...)
}

func clamp(v, max float64) float64 {
	if v < 0 {
		return 0
	}
	if v > max {
		return max
	}
	return v
}
