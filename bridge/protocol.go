package bridge

// Modbus 協議常數
const (
	// Modbus 功能碼
	FuncCodeReadCoils              = 0x01
	FuncCodeReadDiscreteInputs     = 0x02
	FuncCodeReadHoldingRegisters   = 0x03
	FuncCodeReadInputRegisters     = 0x04
	FuncCodeWriteSingleCoil        = 0x05
	FuncCodeWriteSingleRegister    = 0x06
	FuncCodeWriteMultipleCoils     = 0x0F
	FuncCodeWriteMultipleRegisters = 0x10

	// Modbus TCP 常數
	ModbusTCPDefaultPort = 502

	// 暫存器限制
	MaxCoilsPerRead      = 2000
	MaxRegistersPerRead  = 125
	MaxRegistersPerWrite = 123
)

// 線圈
const (
	CoilOutput uint16 = 0 // 輸出開關
)

// 離散輸入
const (
	DiscreteConstantCurrent uint16 = 0 // 定電流模式
	DiscreteLinkUp          uint16 = 1 // 最近一次輪詢成功
)

// 輸入暫存器 (唯讀)
const (
	InputDisplayVoltage uint16 = iota
	InputDisplayCurrent
	InputMode
	InputMaxVoltage
	InputMaxCurrent
	InputPollErrors
)

// 保持暫存器 (可寫)
const (
	HoldingVoltage uint16 = iota
	HoldingCurrent
	HoldingOVP
	HoldingOCP
	HoldingMemorySlot
)

// 各類暫存器數量
const (
	coilCount     = 1
	discreteCount = 2
	inputCount    = 6
	holdingCount  = 5
)

// ValueScale 物理量在暫存器中的縮放倍率 (0.01 單位)
const ValueScale = 100

// RegisterType 暫存器類型
type RegisterType int

const (
	RegisterTypeCoil RegisterType = iota
	RegisterTypeDiscreteInput
	RegisterTypeInputRegister
	RegisterTypeHoldingRegister
)

func (rt RegisterType) String() string {
	switch rt {
	case RegisterTypeCoil:
		return "Coil"
	case RegisterTypeDiscreteInput:
		return "DiscreteInput"
	case RegisterTypeInputRegister:
		return "InputRegister"
	case RegisterTypeHoldingRegister:
		return "HoldingRegister"
	default:
		return "Unknown"
	}
}
