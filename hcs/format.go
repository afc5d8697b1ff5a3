package hcs

import (
	"fmt"
)

// NumericFormat 數值欄位格式：總位數與小數位數
type NumericFormat struct {
	Width    uint8
	Decimals uint8
}

var (
	// FormatThreeDigits 3 位數 1 位小數 (例如 32.2V → "322")
	FormatThreeDigits = NumericFormat{Width: 3, Decimals: 1}
	// FormatFourDigits 4 位數 2 位小數 (例如 16.00A → "1600")
	FormatFourDigits = NumericFormat{Width: 4, Decimals: 2}
)

// probeFields GMAX 回應包含的欄位數 (最大電壓、最大電流)
const probeFields = 2

func (f NumericFormat) String() string {
	return fmt.Sprintf("%d/%d", f.Width, f.Decimals)
}

// Validate 確認格式為已知的兩種之一
func (f NumericFormat) Validate() error {
	switch f {
	case FormatThreeDigits, FormatFourDigits:
		return nil
	}
	return &Error{Kind: ErrUnknownDeviceFormat, Op: "format", Msg: fmt.Sprintf("不支援的格式 %s", f)}
}

// FormatFromProbeLength 由 GMAX 回應長度推導數值格式
func FormatFromProbeLength(n int) (NumericFormat, error) {
	switch n {
	case probeFields * int(FormatThreeDigits.Width):
		return FormatThreeDigits, nil
	case probeFields * int(FormatFourDigits.Width):
		return FormatFourDigits, nil
	}
	return NumericFormat{}, &Error{
		Kind: ErrUnknownDeviceFormat,
		Op:   "probe",
		Msg:  fmt.Sprintf("探測回應長度 %d 無法對應已知格式", n),
	}
}

// FormatFromWidth 由欄位寬度取得格式 (模擬器與設定檔使用)
func FormatFromWidth(width int) (NumericFormat, error) {
	switch width {
	case int(FormatThreeDigits.Width):
		return FormatThreeDigits, nil
	case int(FormatFourDigits.Width):
		return FormatFourDigits, nil
	}
	return NumericFormat{}, &Error{
		Kind: ErrUnknownDeviceFormat,
		Op:   "format",
		Msg:  fmt.Sprintf("不支援的欄位寬度 %d", width),
	}
}
