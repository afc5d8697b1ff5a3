package hcs

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// threeDigitDevice 32.2V / 20.2A 裝置的預錄回應
func threeDigitDevice() map[string]string {
	return map[string]string{
		"GMAX": "322202\rOK\r",
		"GETS": "050020\rOK\r",
		"GETD": "0490180\rOK\r",
		"GETM": "032002032002032002\rOK\r",
		"GOVP": "300\rOK\r",
		"GOCP": "150\rOK\r",
		"SOUT": "OK\r",
		"VOLT": "OK\r",
		"CURR": "OK\r",
		"PROM": "OK\r",
		"RUNM": "OK\r",
		"SOVP": "OK\r",
		"SOCP": "OK\r",
	}
}

func openSession(t *testing.T, m *mockTransport, opts ...Option) *Session {
	t.Helper()
	s, err := Open(m, append([]Option{WithLogger(zap.NewNop())}, opts...)...)
	require.NoError(t, err)
	m.written = nil
	return s
}

func TestSession_ProbeThreeDigits(t *testing.T) {
	m := newMockTransport(threeDigitDevice())

	s, err := Open(m)
	require.NoError(t, err)
	assert.Equal(t, []string{"GMAX\r"}, m.written)
	assert.Equal(t, FormatThreeDigits, s.Format())
	assert.Equal(t, DeviceLimits{MaxVoltage: 32.2, MaxCurrent: 20.2}, s.Limits())
}

func TestSession_ProbeFourDigits(t *testing.T) {
	m := newMockTransport(map[string]string{
		"GMAX": "16000500\rOK\r",
		"GETS": "12340250\rOK\r",
		"VOLT": "OK\r",
	})

	s, err := Open(m)
	require.NoError(t, err)
	assert.Equal(t, FormatFourDigits, s.Format())
	assert.Equal(t, DeviceLimits{MaxVoltage: 16.0, MaxCurrent: 5.0}, s.Limits())

	// 新格式套用在後續指令
	m.written = nil
	require.NoError(t, s.SetVoltage(12.34))
	assert.Equal(t, []string{"VOLT1234\r"}, m.written)

	p, err := s.Presets()
	require.NoError(t, err)
	assert.Equal(t, Preset{Voltage: 12.34, Current: 2.5}, p)
}

func TestSession_ProbeFailures(t *testing.T) {
	tests := []struct {
		name string
		gmax string
		kind Kind
	}{
		{"no response", "", ErrTimeout},
		{"missing data line", "OK\r", ErrProtocolViolation},
		{"unknown length", "3222020\rOK\r", ErrUnknownDeviceFormat},
		{"non digit", "32a202\rOK\r", ErrMalformedNumeric},
		{"extra line", "322\r202\rOK\r", ErrProtocolViolation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			responses := map[string]string{}
			if tt.gmax != "" {
				responses["GMAX"] = tt.gmax
			}
			p := NewProber(newMockTransport(responses))

			s, err := p.Probe()
			require.Error(t, err)
			assert.Nil(t, s)
			assert.ErrorIs(t, err, tt.kind)
			assert.Equal(t, SessionFailed, p.State())
			if tt.kind == ErrMalformedNumeric {
				var pe *Error
				require.True(t, errors.As(err, &pe))
				assert.Equal(t, CmdGetMax, pe.Op)
			}

			// 失敗為終止狀態
			_, err = p.Probe()
			assert.Error(t, err)
		})
	}
}

func TestProber_ConsumedOnce(t *testing.T) {
	p := NewProber(newMockTransport(threeDigitDevice()))
	assert.Equal(t, SessionUninitialized, p.State())

	_, err := p.Probe()
	require.NoError(t, err)
	assert.Equal(t, SessionReady, p.State())

	_, err = p.Probe()
	assert.Error(t, err)
}

func TestSession_LimitsIdempotent(t *testing.T) {
	m := newMockTransport(threeDigitDevice())
	s := openSession(t, m)

	first := s.Limits()
	second := s.Limits()
	assert.Equal(t, first, second)
	assert.Empty(t, m.written, "讀取上限不應產生 I/O")
}

func TestSession_SwitchOutput(t *testing.T) {
	m := newMockTransport(threeDigitDevice())
	s := openSession(t, m)

	require.NoError(t, s.SwitchOutput(OutputOn))
	require.NoError(t, s.SwitchOutput(OutputOff))
	assert.Equal(t, []string{"SOUT1\r", "SOUT0\r"}, m.written)

	m.written = nil
	err := s.SwitchOutput(OutputState(2))
	assert.ErrorIs(t, err, ErrInvalidArgument)
	assert.Empty(t, m.written)
}

func TestSession_SwitchOutputActiveLow(t *testing.T) {
	m := newMockTransport(threeDigitDevice())
	s := openSession(t, m, WithOutputEncoding(OutputEncodingActiveLow))

	require.NoError(t, s.SwitchOutput(OutputOn))
	require.NoError(t, s.SwitchOutput(OutputOff))
	assert.Equal(t, []string{"SOUT0\r", "SOUT1\r"}, m.written)
}

func TestSession_SetValues(t *testing.T) {
	m := newMockTransport(threeDigitDevice())
	s := openSession(t, m)

	require.NoError(t, s.SetVoltage(12.3))
	require.NoError(t, s.SetCurrent(1.5))
	require.NoError(t, s.SetOVP(30))
	require.NoError(t, s.SetOCP(2))
	assert.Equal(t, []string{"VOLT123\r", "CURR015\r", "SOVP300\r", "SOCP020\r"}, m.written)

	m.written = nil
	assert.ErrorIs(t, s.SetVoltage(150), ErrValueOutOfRange)
	assert.ErrorIs(t, s.SetCurrent(-1), ErrValueOutOfRange)
	assert.Empty(t, m.written)
}

func TestSession_Queries(t *testing.T) {
	m := newMockTransport(threeDigitDevice())
	s := openSession(t, m)

	p, err := s.Presets()
	require.NoError(t, err)
	assert.Equal(t, Preset{Voltage: 5.0, Current: 2.0}, p)

	d, err := s.DisplayStatus()
	require.NoError(t, err)
	assert.Equal(t, DisplayStatus{Voltage: 4.9, Current: 1.8, State: ConstantVoltage}, d)

	ovp, err := s.OVP()
	require.NoError(t, err)
	assert.Equal(t, 30.0, ovp)

	ocp, err := s.OCP()
	require.NoError(t, err)
	assert.Equal(t, 15.0, ocp)

	assert.Equal(t, []string{"GETS\r", "GETD\r", "GOVP\r", "GOCP\r"}, m.written)
}

func TestSession_DisplayStatusConstantCurrent(t *testing.T) {
	responses := threeDigitDevice()
	responses["GETD"] = "0320201\rOK\r"
	s := openSession(t, newMockTransport(responses))

	d, err := s.DisplayStatus()
	require.NoError(t, err)
	assert.Equal(t, ConstantCurrent, d.State)
	assert.Equal(t, 3.2, d.Voltage)
	assert.Equal(t, 2.0, d.Current)
}

func TestSession_DisplayStatusMalformed(t *testing.T) {
	for _, payload := range []string{"049018", "04901802", "0490187", "04a0180", "049x180"} {
		responses := threeDigitDevice()
		responses["GETD"] = payload + "\rOK\r"
		s := openSession(t, newMockTransport(responses))

		_, err := s.DisplayStatus()
		assert.ErrorIs(t, err, ErrMalformedNumeric, "payload %q", payload)

		var pe *Error
		require.True(t, errors.As(err, &pe), "payload %q", payload)
		assert.Equal(t, CmdGetDisplay, pe.Op, "payload %q", payload)
	}
}

func TestSession_MemoryPresets(t *testing.T) {
	m := newMockTransport(threeDigitDevice())
	s := openSession(t, m)

	presets, err := s.MemoryPresets()
	require.NoError(t, err)
	want := Preset{Voltage: 3.2, Current: 0.2}
	assert.Equal(t, [MemorySlots]Preset{want, want, want}, presets)
}

func TestSession_MemoryPresetsMalformed(t *testing.T) {
	responses := threeDigitDevice()
	responses["GETM"] = "032002032002\rOK\r"
	s := openSession(t, newMockTransport(responses))

	_, err := s.MemoryPresets()
	assert.ErrorIs(t, err, ErrMalformedNumeric)
}

func TestSession_SetMemoryPresets(t *testing.T) {
	m := newMockTransport(threeDigitDevice())
	s := openSession(t, m)

	err := s.SetMemoryPresets([]Preset{
		{Voltage: 5, Current: 2},
		{Voltage: 13.8, Current: 2},
		{Voltage: 32.2, Current: 2},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"PROM050020138020322020\r"}, m.written)
}

func TestSession_SetMemoryPresetsWrongCount(t *testing.T) {
	m := newMockTransport(threeDigitDevice())
	s := openSession(t, m)

	for _, n := range []int{0, 1, 2, 4, 6} {
		err := s.SetMemoryPresets(make([]Preset, n))
		assert.ErrorIs(t, err, ErrInvalidArgument, "%d 組應被拒絕", n)
	}
	assert.Empty(t, m.written, "參數錯誤不應寫入傳輸層")
}

func TestSession_LoadPreset(t *testing.T) {
	m := newMockTransport(threeDigitDevice())
	s := openSession(t, m)

	for i := 0; i < MemorySlots; i++ {
		require.NoError(t, s.LoadPreset(i))
	}
	assert.Equal(t, []string{"RUNM0\r", "RUNM1\r", "RUNM2\r"}, m.written)

	m.written = nil
	assert.ErrorIs(t, s.LoadPreset(-1), ErrInvalidArgument)
	assert.ErrorIs(t, s.LoadPreset(3), ErrInvalidArgument)
	assert.Empty(t, m.written)
}

func TestSession_CommandReturningData(t *testing.T) {
	responses := threeDigitDevice()
	responses["VOLT"] = "123\rOK\r"
	s := openSession(t, newMockTransport(responses))

	assert.ErrorIs(t, s.SetVoltage(1), ErrProtocolViolation)
}

func TestSession_QueryWithoutData(t *testing.T) {
	responses := threeDigitDevice()
	responses["GOVP"] = "OK\r"
	s := openSession(t, newMockTransport(responses))

	_, err := s.OVP()
	assert.ErrorIs(t, err, ErrProtocolViolation)

	// 操作失敗不影響後續請求
	_, err = s.OCP()
	assert.NoError(t, err)
}

func TestDefaultMemoryPresets(t *testing.T) {
	presets := DefaultMemoryPresets(DeviceLimits{MaxVoltage: 32.2, MaxCurrent: 20.2})
	assert.Equal(t, []Preset{
		{Voltage: 5, Current: 20.2},
		{Voltage: 13.8, Current: 20.2},
		{Voltage: 32.2, Current: 20.2},
	}, presets)

	// 小電壓機種夾在上限內
	presets = DefaultMemoryPresets(DeviceLimits{MaxVoltage: 8, MaxCurrent: 5})
	assert.Equal(t, 8.0, presets[1].Voltage)
}

func TestOutputEncoding(t *testing.T) {
	assert.Equal(t, 1, OutputEncodingActiveHigh.Digit(OutputOn))
	assert.Equal(t, 0, OutputEncodingActiveHigh.Digit(OutputOff))
	assert.Equal(t, 0, OutputEncodingActiveLow.Digit(OutputOn))
	assert.Equal(t, 1, OutputEncodingActiveLow.Digit(OutputOff))

	state, err := OutputEncodingActiveLow.State(0)
	require.NoError(t, err)
	assert.Equal(t, OutputOn, state)

	_, err = OutputEncodingActiveHigh.State(2)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}
