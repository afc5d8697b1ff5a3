package bridge

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterMap_DefaultDefinitions(t *testing.T) {
	rm := DefaultRegisterMap()

	meta, ok := rm.GetDefinition(RegisterTypeHoldingRegister, HoldingVoltage)
	require.True(t, ok)
	assert.Equal(t, "Voltage", meta.Name)
	assert.Equal(t, float64(ValueScale), meta.Scale)
	assert.True(t, meta.Writable)

	meta, ok = rm.GetDefinition(RegisterTypeInputRegister, InputDisplayCurrent)
	require.True(t, ok)
	assert.Equal(t, "A", meta.Unit)
	assert.False(t, meta.Writable)

	_, ok = rm.GetDefinition(RegisterTypeHoldingRegister, 99)
	assert.False(t, ok)
}

func TestRegisterMap_SetAndGetScaledValue(t *testing.T) {
	rm := DefaultRegisterMap()

	require.NoError(t, rm.SetScaledValue(RegisterTypeHoldingRegister, HoldingVoltage, 13.8))
	regs, err := rm.ReadHoldingRegisters(HoldingVoltage, 1)
	require.NoError(t, err)
	assert.Equal(t, []uint16{1380}, regs)

	v, err := rm.GetScaledValue(RegisterTypeHoldingRegister, HoldingVoltage)
	require.NoError(t, err)
	assert.Equal(t, 13.8, v)

	// 未縮放的暫存器
	require.NoError(t, rm.SetScaledValue(RegisterTypeInputRegister, InputMode, 1))
	v, err = rm.GetScaledValue(RegisterTypeInputRegister, InputMode)
	require.NoError(t, err)
	assert.Equal(t, 1.0, v)
}

func TestRegisterMap_ScaledValueErrors(t *testing.T) {
	rm := DefaultRegisterMap()

	assert.Error(t, rm.SetScaledValue(RegisterTypeHoldingRegister, HoldingVoltage, 700), "超出 16 位元")
	assert.Error(t, rm.SetScaledValue(RegisterTypeHoldingRegister, HoldingVoltage, -1))
	assert.Error(t, rm.SetScaledValue(RegisterTypeCoil, CoilOutput, 1))
	assert.Error(t, rm.SetScaledValue(RegisterTypeHoldingRegister, 50, 1))

	_, err := rm.GetScaledValue(RegisterTypeDiscreteInput, 0)
	assert.Error(t, err)
}

func TestRegisterMap_HoldingRegisters(t *testing.T) {
	rm := NewRegisterMap(10, 10, 10, 10)

	require.NoError(t, rm.WriteHoldingRegister(3, 0x1234))
	results, err := rm.ReadHoldingRegisters(2, 3)
	require.NoError(t, err)
	assert.Equal(t, []uint16{0, 0x1234, 0}, results)
}

func TestRegisterMap_Coils(t *testing.T) {
	rm := NewRegisterMap(10, 10, 10, 10)

	require.NoError(t, rm.WriteCoil(0, true))
	results, err := rm.ReadCoils(0, 2)
	require.NoError(t, err)
	assert.Equal(t, []bool{true, false}, results)
}

func TestRegisterMap_DiscreteAndInput(t *testing.T) {
	rm := NewRegisterMap(10, 10, 10, 10)

	require.NoError(t, rm.SetDiscreteInput(5, true))
	inputs, err := rm.ReadDiscreteInputs(5, 1)
	require.NoError(t, err)
	assert.Equal(t, []bool{true}, inputs)

	require.NoError(t, rm.SetInputRegister(0, 0x5678))
	regs, err := rm.ReadInputRegisters(0, 1)
	require.NoError(t, err)
	assert.Equal(t, []uint16{0x5678}, regs)
}

func TestRegisterMap_OutOfBounds(t *testing.T) {
	rm := NewRegisterMap(10, 10, 10, 10)

	_, err := rm.ReadCoils(9, 2)
	assert.Error(t, err)
	_, err = rm.ReadHoldingRegisters(0, 0)
	assert.Error(t, err)
	_, err = rm.ReadInputRegisters(50, 1)
	assert.Error(t, err)

	assert.Error(t, rm.WriteCoil(10, true))
	assert.Error(t, rm.WriteHoldingRegister(10, 1))
	assert.Error(t, rm.SetDiscreteInput(10, true))
	assert.Error(t, rm.SetInputRegister(10, 1))
}

func TestRegisterMap_Concurrent(t *testing.T) {
	rm := DefaultRegisterMap()
	var wg sync.WaitGroup

	// 並發讀寫測試
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			rm.SetScaledValue(RegisterTypeHoldingRegister, HoldingVoltage, float64(idx)/10)
			rm.GetScaledValue(RegisterTypeHoldingRegister, HoldingVoltage)
		}(i)
	}
	wg.Wait()
}

func TestRegistersToBytes(t *testing.T) {
	assert.Equal(t, []byte{0x01, 0x02, 0x03, 0x04}, RegistersToBytes([]uint16{0x0102, 0x0304}))
	assert.Equal(t, []uint16{0x0102, 0x0304}, BytesToRegisters([]byte{0x01, 0x02, 0x03, 0x04}))
}

func TestCoilsToBytes(t *testing.T) {
	coils := []bool{true, false, true, false, false, false, false, true, true}
	assert.Equal(t, []byte{0x85, 0x01}, CoilsToBytes(coils))
}

func BenchmarkRegisterMap_SetScaledValue(b *testing.B) {
	rm := DefaultRegisterMap()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		rm.SetScaledValue(RegisterTypeHoldingRegister, HoldingVoltage, 13.8)
	}
}

func BenchmarkRegisterMap_ReadInputRegisters(b *testing.B) {
	rm := DefaultRegisterMap()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		rm.ReadInputRegisters(0, inputCount)
	}
}
