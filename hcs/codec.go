package hcs

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

var pow10 = [...]float64{1, 10, 100, 1000, 10000, 100000}

func checkFormat(op string, f NumericFormat) error {
	if f.Width == 0 || int(f.Width) >= len(pow10) || f.Decimals >= f.Width {
		return &Error{Kind: ErrUnknownDeviceFormat, Op: op, Msg: fmt.Sprintf("無效的格式 %s", f)}
	}
	return nil
}

// Encode 將物理量編碼為固定寬度、左補零的數字字串
func Encode(value float64, f NumericFormat) (string, error) {
	if err := checkFormat("encode", f); err != nil {
		return "", err
	}
	if math.IsNaN(value) || math.IsInf(value, 0) || value < 0 {
		return "", &Error{Kind: ErrValueOutOfRange, Op: "encode", Msg: fmt.Sprintf("無效的數值 %v", value)}
	}
	scaled := math.Round(value * pow10[f.Decimals])
	if scaled >= pow10[f.Width] {
		return "", &Error{
			Kind: ErrValueOutOfRange,
			Op:   "encode",
			Msg:  fmt.Sprintf("%v 超出 %s 格式範圍", value, f),
		}
	}
	return fmt.Sprintf("%0*d", int(f.Width), uint64(scaled)), nil
}

// EncodeAll 依序編碼多個數值並串接
func EncodeAll(values []float64, f NumericFormat) (string, error) {
	var b strings.Builder
	b.Grow(len(values) * int(f.Width))
	for _, v := range values {
		s, err := Encode(v, f)
		if err != nil {
			return "", err
		}
		b.WriteString(s)
	}
	return b.String(), nil
}

// Decode 解析字串開頭的一個數值欄位
func Decode(text string, f NumericFormat) (float64, error) {
	if err := checkFormat("decode", f); err != nil {
		return 0, err
	}
	w := int(f.Width)
	if len(text) < w {
		return 0, &Error{
			Kind: ErrMalformedNumeric,
			Op:   "decode",
			Msg:  fmt.Sprintf("%q 不足 %d 位數", text, w),
		}
	}
	field := text[:w]
	for i := 0; i < w; i++ {
		if field[i] < '0' || field[i] > '9' {
			return 0, &Error{
				Kind: ErrMalformedNumeric,
				Op:   "decode",
				Msg:  fmt.Sprintf("%q 含非數字字元", field),
			}
		}
	}
	n, err := strconv.ParseUint(field, 10, 32)
	if err != nil {
		return 0, &Error{Kind: ErrMalformedNumeric, Op: "decode", Err: err}
	}
	return float64(n) / pow10[f.Decimals], nil
}

// DecodeAll 將字串切成固定寬度欄位並逐一解析，長度必須為寬度的整數倍
func DecodeAll(text string, f NumericFormat) ([]float64, error) {
	if err := checkFormat("decode", f); err != nil {
		return nil, err
	}
	w := int(f.Width)
	if len(text)%w != 0 {
		return nil, &Error{
			Kind: ErrMalformedNumeric,
			Op:   "decode",
			Msg:  fmt.Sprintf("長度 %d 不是欄位寬度 %d 的整數倍", len(text), w),
		}
	}
	values := make([]float64, 0, len(text)/w)
	for i := 0; i < len(text); i += w {
		v, err := Decode(text[i:i+w], f)
		if err != nil {
			return nil, err
		}
		values = append(values, v)
	}
	return values, nil
}

// DecodeFields 解析並要求欄位數恰為 n
func DecodeFields(text string, f NumericFormat, n int) ([]float64, error) {
	values, err := DecodeAll(text, f)
	if err != nil {
		return nil, err
	}
	if len(values) != n {
		return nil, &Error{
			Kind: ErrMalformedNumeric,
			Op:   "decode",
			Msg:  fmt.Sprintf("預期 %d 個欄位，收到 %d 個", n, len(values)),
		}
	}
	return values, nil
}
