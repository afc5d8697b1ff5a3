package bridge

import (
	"encoding/binary"
	"fmt"

	"github.com/tbrandon/mbserver"
	"go.uber.org/zap"

	"hcsctl/hcs"
)

// 線圈寫入值
const (
	coilOn  uint16 = 0xFF00
	coilOff uint16 = 0x0000
)

// registerHandlers 以暫存器映射取代 mbserver 預設的記憶體處理器
func (b *Bridge) registerHandlers(s *mbserver.Server) {
	s.RegisterFunctionHandler(FuncCodeReadCoils, b.HandleReadCoils)
	s.RegisterFunctionHandler(FuncCodeReadDiscreteInputs, b.HandleReadDiscreteInputs)
	s.RegisterFunctionHandler(FuncCodeReadHoldingRegisters, b.HandleReadHoldingRegisters)
	s.RegisterFunctionHandler(FuncCodeReadInputRegisters, b.HandleReadInputRegisters)
	s.RegisterFunctionHandler(FuncCodeWriteSingleCoil, b.HandleWriteSingleCoil)
	s.RegisterFunctionHandler(FuncCodeWriteSingleRegister, b.HandleWriteSingleRegister)
	s.RegisterFunctionHandler(FuncCodeWriteMultipleCoils, b.HandleUnsupported)
	s.RegisterFunctionHandler(FuncCodeWriteMultipleRegisters, b.HandleWriteMultipleRegisters)
}

// addressAndQuantity 取出請求的起始位址與數量
func addressAndQuantity(frame mbserver.Framer) (uint16, uint16, bool) {
	data := frame.GetData()
	if len(data) < 4 {
		return 0, 0, false
	}
	return binary.BigEndian.Uint16(data[0:2]), binary.BigEndian.Uint16(data[2:4]), true
}

// HandleReadCoils 處理讀取線圈請求 (FC 01)
func (b *Bridge) HandleReadCoils(_ *mbserver.Server, frame mbserver.Framer) ([]byte, *mbserver.Exception) {
	address, quantity, ok := addressAndQuantity(frame)
	if !ok || quantity > MaxCoilsPerRead {
		b.recordRequest(true)
		return []byte{}, &mbserver.IllegalDataValue
	}

	coils, err := b.registers.ReadCoils(address, quantity)
	if err != nil {
		b.recordRequest(true)
		b.logger.Debug("讀取線圈失敗", zap.Uint16("address", address), zap.Uint16("quantity", quantity), zap.Error(err))
		return []byte{}, &mbserver.IllegalDataAddress
	}

	b.recordRequest(false)
	packed := CoilsToBytes(coils)
	return append([]byte{byte(len(packed))}, packed...), &mbserver.Success
}

// HandleReadDiscreteInputs 處理讀取離散輸入請求 (FC 02)
func (b *Bridge) HandleReadDiscreteInputs(_ *mbserver.Server, frame mbserver.Framer) ([]byte, *mbserver.Exception) {
	address, quantity, ok := addressAndQuantity(frame)
	if !ok || quantity > MaxCoilsPerRead {
		b.recordRequest(true)
		return []byte{}, &mbserver.IllegalDataValue
	}

	inputs, err := b.registers.ReadDiscreteInputs(address, quantity)
	if err != nil {
		b.recordRequest(true)
		b.logger.Debug("讀取離散輸入失敗", zap.Uint16("address", address), zap.Uint16("quantity", quantity), zap.Error(err))
		return []byte{}, &mbserver.IllegalDataAddress
	}

	b.recordRequest(false)
	packed := CoilsToBytes(inputs)
	return append([]byte{byte(len(packed))}, packed...), &mbserver.Success
}

// HandleReadHoldingRegisters 處理讀取保持暫存器請求 (FC 03)
func (b *Bridge) HandleReadHoldingRegisters(_ *mbserver.Server, frame mbserver.Framer) ([]byte, *mbserver.Exception) {
	address, quantity, ok := addressAndQuantity(frame)
	if !ok || quantity > MaxRegistersPerRead {
		b.recordRequest(true)
		return []byte{}, &mbserver.IllegalDataValue
	}

	registers, err := b.registers.ReadHoldingRegisters(address, quantity)
	if err != nil {
		b.recordRequest(true)
		b.logger.Debug("讀取保持暫存器失敗", zap.Uint16("address", address), zap.Uint16("quantity", quantity), zap.Error(err))
		return []byte{}, &mbserver.IllegalDataAddress
	}

	b.recordRequest(false)
	return append([]byte{byte(2 * len(registers))}, RegistersToBytes(registers)...), &mbserver.Success
}

// HandleReadInputRegisters 處理讀取輸入暫存器請求 (FC 04)
func (b *Bridge) HandleReadInputRegisters(_ *mbserver.Server, frame mbserver.Framer) ([]byte, *mbserver.Exception) {
	address, quantity, ok := addressAndQuantity(frame)
	if !ok || quantity > MaxRegistersPerRead {
		b.recordRequest(true)
		return []byte{}, &mbserver.IllegalDataValue
	}

	registers, err := b.registers.ReadInputRegisters(address, quantity)
	if err != nil {
		b.recordRequest(true)
		b.logger.Debug("讀取輸入暫存器失敗", zap.Uint16("address", address), zap.Uint16("quantity", quantity), zap.Error(err))
		return []byte{}, &mbserver.IllegalDataAddress
	}

	b.recordRequest(false)
	return append([]byte{byte(2 * len(registers))}, RegistersToBytes(registers)...), &mbserver.Success
}

// HandleWriteSingleCoil 處理寫入單一線圈請求 (FC 05)，線圈 0 切換輸出
func (b *Bridge) HandleWriteSingleCoil(_ *mbserver.Server, frame mbserver.Framer) ([]byte, *mbserver.Exception) {
	address, value, ok := addressAndQuantity(frame)
	if !ok {
		b.recordRequest(true)
		return []byte{}, &mbserver.IllegalDataValue
	}
	if address != CoilOutput {
		b.recordRequest(true)
		return []byte{}, &mbserver.IllegalDataAddress
	}

	var state hcs.OutputState
	switch value {
	case coilOn:
		state = hcs.OutputOn
	case coilOff:
		state = hcs.OutputOff
	default:
		b.recordRequest(true)
		return []byte{}, &mbserver.IllegalDataValue
	}

	err := b.withDevice(func(dev Controller) error {
		return dev.SwitchOutput(state)
	})
	if err != nil {
		b.recordRequest(true)
		b.logger.Warn("切換輸出失敗", zap.Stringer("state", state), zap.Error(err))
		return []byte{}, exceptionFor(err)
	}

	b.registers.WriteCoil(CoilOutput, state == hcs.OutputOn)
	b.recordRequest(false)
	b.logger.Info("輸出已切換", zap.Stringer("state", state))
	return frame.GetData()[0:4], &mbserver.Success
}

// HandleWriteSingleRegister 處理寫入單一暫存器請求 (FC 06)
func (b *Bridge) HandleWriteSingleRegister(_ *mbserver.Server, frame mbserver.Framer) ([]byte, *mbserver.Exception) {
	address, value, ok := addressAndQuantity(frame)
	if !ok {
		b.recordRequest(true)
		return []byte{}, &mbserver.IllegalDataValue
	}

	if exc := b.writeHolding(address, value); exc != &mbserver.Success {
		b.recordRequest(true)
		return []byte{}, exc
	}

	b.recordRequest(false)
	return frame.GetData()[0:4], &mbserver.Success
}

// HandleWriteMultipleRegisters 處理寫入多個暫存器請求 (FC 16)，依序轉送，遇錯即停
func (b *Bridge) HandleWriteMultipleRegisters(_ *mbserver.Server, frame mbserver.Framer) ([]byte, *mbserver.Exception) {
	address, quantity, ok := addressAndQuantity(frame)
	data := frame.GetData()
	if !ok || len(data) < 5 || quantity == 0 || quantity > MaxRegistersPerWrite ||
		int(data[4]) != 2*int(quantity) || len(data) < 5+2*int(quantity) {
		b.recordRequest(true)
		return []byte{}, &mbserver.IllegalDataValue
	}

	values := BytesToRegisters(data[5 : 5+2*int(quantity)])
	for i, v := range values {
		if exc := b.writeHolding(address+uint16(i), v); exc != &mbserver.Success {
			b.recordRequest(true)
			return []byte{}, exc
		}
	}

	b.recordRequest(false)
	return data[0:4], &mbserver.Success
}

// HandleUnsupported 裝置沒有對應操作的功能碼
func (b *Bridge) HandleUnsupported(_ *mbserver.Server, frame mbserver.Framer) ([]byte, *mbserver.Exception) {
	b.recordRequest(true)
	return []byte{}, &mbserver.IllegalFunction
}

// writeHolding 將保持暫存器寫入轉送為裝置指令，成功後才更新暫存器
func (b *Bridge) writeHolding(address, raw uint16) *mbserver.Exception {
	meta, ok := b.registers.GetDefinition(RegisterTypeHoldingRegister, address)
	if !ok || !meta.Writable {
		return &mbserver.IllegalDataAddress
	}
	value := float64(raw) / meta.Scale

	var refreshed hcs.Preset
	err := b.withDevice(func(dev Controller) error {
		switch address {
		case HoldingVoltage:
			return dev.SetVoltage(value)
		case HoldingCurrent:
			return dev.SetCurrent(value)
		case HoldingOVP:
			return dev.SetOVP(value)
		case HoldingOCP:
			return dev.SetOCP(value)
		case HoldingMemorySlot:
			if err := dev.LoadPreset(int(raw)); err != nil {
				return err
			}
			var err error
			refreshed, err = dev.Presets()
			return err
		}
		return fmt.Errorf("暫存器 %d 沒有對應的裝置操作", address)
	})
	if err != nil {
		b.logger.Warn("寫入裝置失敗",
			zap.String("register", meta.Name),
			zap.Float64("value", value),
			zap.Error(err),
		)
		return exceptionFor(err)
	}

	b.registers.WriteHoldingRegister(address, raw)
	if address == HoldingMemorySlot {
		b.registers.SetScaledValue(RegisterTypeHoldingRegister, HoldingVoltage, refreshed.Voltage)
		b.registers.SetScaledValue(RegisterTypeHoldingRegister, HoldingCurrent, refreshed.Current)
	}
	b.logger.Info("已寫入裝置", zap.String("register", meta.Name), zap.Float64("value", value))
	return &mbserver.Success
}

// exceptionFor 將裝置錯誤對應為 Modbus 異常碼
func exceptionFor(err error) *mbserver.Exception {
	switch hcs.KindOf(err) {
	case hcs.ErrValueOutOfRange, hcs.ErrInvalidArgument:
		return &mbserver.IllegalDataValue
	case hcs.ErrBusy:
		return &mbserver.SlaveDeviceBusy
	default:
		return &mbserver.SlaveDeviceFailure
	}
}
