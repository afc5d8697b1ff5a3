package bridge

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"
)

// RegisterMap 線程安全的暫存器映射表
type RegisterMap struct {
	mu sync.RWMutex

	// 暫存器資料
	coils            []bool   // 0x - Coils
	discreteInputs   []bool   // 1x - Discrete Inputs
	inputRegisters   []uint16 // 3x - Input Registers
	holdingRegisters []uint16 // 4x - Holding Registers

	// 暫存器元資料
	definitions map[registerKey]*RegisterMeta
}

type registerKey struct {
	Type    RegisterType
	Address uint16
}

// RegisterMeta 暫存器元資料
type RegisterMeta struct {
	Type     RegisterType
	Address  uint16
	Name     string
	Scale    float64
	Unit     string
	Writable bool
}

// NewRegisterMap 建立新的暫存器映射表
func NewRegisterMap(coilSize, discreteSize, inputSize, holdingSize int) *RegisterMap {
	return &RegisterMap{
		coils:            make([]bool, coilSize),
		discreteInputs:   make([]bool, discreteSize),
		inputRegisters:   make([]uint16, inputSize),
		holdingRegisters: make([]uint16, holdingSize),
		definitions:      make(map[registerKey]*RegisterMeta),
	}
}

// DefaultRegisterMap 建立電源供應器的暫存器映射表
func DefaultRegisterMap() *RegisterMap {
	rm := NewRegisterMap(coilCount, discreteCount, inputCount, holdingCount)

	rm.DefineRegister(RegisterTypeInputRegister, InputDisplayVoltage, "DisplayVoltage", ValueScale, "V", false)
	rm.DefineRegister(RegisterTypeInputRegister, InputDisplayCurrent, "DisplayCurrent", ValueScale, "A", false)
	rm.DefineRegister(RegisterTypeInputRegister, InputMode, "Mode", 1, "", false)
	rm.DefineRegister(RegisterTypeInputRegister, InputMaxVoltage, "MaxVoltage", ValueScale, "V", false)
	rm.DefineRegister(RegisterTypeInputRegister, InputMaxCurrent, "MaxCurrent", ValueScale, "A", false)
	rm.DefineRegister(RegisterTypeInputRegister, InputPollErrors, "PollErrors", 1, "", false)

	rm.DefineRegister(RegisterTypeHoldingRegister, HoldingVoltage, "Voltage", ValueScale, "V", true)
	rm.DefineRegister(RegisterTypeHoldingRegister, HoldingCurrent, "Current", ValueScale, "A", true)
	rm.DefineRegister(RegisterTypeHoldingRegister, HoldingOVP, "OVP", ValueScale, "V", true)
	rm.DefineRegister(RegisterTypeHoldingRegister, HoldingOCP, "OCP", ValueScale, "A", true)
	rm.DefineRegister(RegisterTypeHoldingRegister, HoldingMemorySlot, "MemorySlot", 1, "", true)

	return rm
}

// DefineRegister 定義暫存器
func (rm *RegisterMap) DefineRegister(t RegisterType, address uint16, name string, scale float64, unit string, writable bool) {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	rm.definitions[registerKey{t, address}] = &RegisterMeta{
		Type:     t,
		Address:  address,
		Name:     name,
		Scale:    scale,
		Unit:     unit,
		Writable: writable,
	}
}

// GetDefinition 取得暫存器定義
func (rm *RegisterMap) GetDefinition(t RegisterType, address uint16) (*RegisterMeta, bool) {
	rm.mu.RLock()
	defer rm.mu.RUnlock()

	meta, ok := rm.definitions[registerKey{t, address}]
	return meta, ok
}

// --- Coils (0x) ---

// ReadCoils 讀取多個線圈
func (rm *RegisterMap) ReadCoils(address uint16, quantity uint16) ([]bool, error) {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	return readBits(rm.coils, address, quantity, "線圈")
}

// WriteCoil 寫入單一線圈
func (rm *RegisterMap) WriteCoil(address uint16, value bool) error {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if int(address) >= len(rm.coils) {
		return fmt.Errorf("線圈位址超出範圍: %d", address)
	}
	rm.coils[address] = value
	return nil
}

// --- Discrete Inputs (1x) ---

// ReadDiscreteInputs 讀取多個離散輸入
func (rm *RegisterMap) ReadDiscreteInputs(address uint16, quantity uint16) ([]bool, error) {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	return readBits(rm.discreteInputs, address, quantity, "離散輸入")
}

// SetDiscreteInput 設定離散輸入 (內部用)
func (rm *RegisterMap) SetDiscreteInput(address uint16, value bool) error {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if int(address) >= len(rm.discreteInputs) {
		return fmt.Errorf("離散輸入位址超出範圍: %d", address)
	}
	rm.discreteInputs[address] = value
	return nil
}

// --- Input Registers (3x) ---

// ReadInputRegisters 讀取多個輸入暫存器
func (rm *RegisterMap) ReadInputRegisters(address uint16, quantity uint16) ([]uint16, error) {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	return readWords(rm.inputRegisters, address, quantity, "輸入暫存器")
}

// SetInputRegister 設定輸入暫存器 (內部用)
func (rm *RegisterMap) SetInputRegister(address uint16, value uint16) error {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if int(address) >= len(rm.inputRegisters) {
		return fmt.Errorf("輸入暫存器位址超出範圍: %d", address)
	}
	rm.inputRegisters[address] = value
	return nil
}

// --- Holding Registers (4x) ---

// ReadHoldingRegisters 讀取多個保持暫存器
func (rm *RegisterMap) ReadHoldingRegisters(address uint16, quantity uint16) ([]uint16, error) {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	return readWords(rm.holdingRegisters, address, quantity, "保持暫存器")
}

// WriteHoldingRegister 寫入單一保持暫存器
func (rm *RegisterMap) WriteHoldingRegister(address uint16, value uint16) error {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if int(address) >= len(rm.holdingRegisters) {
		return fmt.Errorf("保持暫存器位址超出範圍: %d", address)
	}
	rm.holdingRegisters[address] = value
	return nil
}

// --- 縮放值操作 ---

// SetScaledValue 依定義的倍率寫入物理量
func (rm *RegisterMap) SetScaledValue(t RegisterType, address uint16, value float64) error {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	regs, err := rm.words(t)
	if err != nil {
		return err
	}
	if int(address) >= len(regs) {
		return fmt.Errorf("%s 位址超出範圍: %d", t, address)
	}

	scale := 1.0
	if meta, ok := rm.definitions[registerKey{t, address}]; ok {
		scale = meta.Scale
	}
	scaled := math.Round(value * scale)
	if scaled < 0 || scaled > math.MaxUint16 {
		return fmt.Errorf("%v 超出 %s %d 的範圍", value, t, address)
	}
	regs[address] = uint16(scaled)
	return nil
}

// GetScaledValue 依定義的倍率讀取物理量
func (rm *RegisterMap) GetScaledValue(t RegisterType, address uint16) (float64, error) {
	rm.mu.RLock()
	defer rm.mu.RUnlock()

	regs, err := rm.words(t)
	if err != nil {
		return 0, err
	}
	if int(address) >= len(regs) {
		return 0, fmt.Errorf("%s 位址超出範圍: %d", t, address)
	}

	scale := 1.0
	if meta, ok := rm.definitions[registerKey{t, address}]; ok {
		scale = meta.Scale
	}
	return float64(regs[address]) / scale, nil
}

func (rm *RegisterMap) words(t RegisterType) ([]uint16, error) {
	switch t {
	case RegisterTypeInputRegister:
		return rm.inputRegisters, nil
	case RegisterTypeHoldingRegister:
		return rm.holdingRegisters, nil
	}
	return nil, fmt.Errorf("%s 不是 16 位元暫存器", t)
}

func readBits(src []bool, address, quantity uint16, kind string) ([]bool, error) {
	end := int(address) + int(quantity)
	if quantity == 0 || end > len(src) {
		return nil, fmt.Errorf("%s位址超出範圍: %d-%d", kind, address, end-1)
	}
	result := make([]bool, quantity)
	copy(result, src[address:end])
	return result, nil
}

func readWords(src []uint16, address, quantity uint16, kind string) ([]uint16, error) {
	end := int(address) + int(quantity)
	if quantity == 0 || end > len(src) {
		return nil, fmt.Errorf("%s位址超出範圍: %d-%d", kind, address, end-1)
	}
	result := make([]uint16, quantity)
	copy(result, src[address:end])
	return result, nil
}

// RegistersToBytes 將暫存器值轉換為位元組陣列 (Big Endian)
func RegistersToBytes(registers []uint16) []byte {
	bytes := make([]byte, len(registers)*2)
	for i, reg := range registers {
		binary.BigEndian.PutUint16(bytes[i*2:], reg)
	}
	return bytes
}

// BytesToRegisters 將位元組陣列轉換為暫存器值 (Big Endian)
func BytesToRegisters(data []byte) []uint16 {
	registers := make([]uint16, len(data)/2)
	for i := range registers {
		registers[i] = binary.BigEndian.Uint16(data[i*2:])
	}
	return registers
}

// CoilsToBytes 將線圈值打包為位元組 (LSB 優先)
func CoilsToBytes(coils []bool) []byte {
	byteCount := (len(coils) + 7) / 8
	bytes := make([]byte, byteCount)
	for i, coil := range coils {
		if coil {
			bytes[i/8] |= 1 << (i % 8)
		}
	}
	return bytes
}
