package hcs

import (
	"errors"
	"strings"
)

// Kind 錯誤類別，可直接作為 sentinel 與 errors.Is 比對
type Kind string

func (k Kind) Error() string { return string(k) }

const (
	// ErrTimeout 在輪詢次數內未收到狀態行，唯一可重試的錯誤
	ErrTimeout Kind = "timeout"
	// ErrProtocolViolation 回應行形狀不符，表示通訊失步
	ErrProtocolViolation Kind = "protocol_violation"
	// ErrUnknownDeviceFormat 探測回應長度無法對應任何數值格式
	ErrUnknownDeviceFormat Kind = "unknown_device_format"
	// ErrMalformedNumeric 數字欄位長度或字元錯誤
	ErrMalformedNumeric Kind = "malformed_numeric"
	// ErrValueOutOfRange 數值超出欄位寬度或為負值
	ErrValueOutOfRange Kind = "value_out_of_range"
	// ErrInvalidArgument 呼叫端參數錯誤，未進行任何 I/O
	ErrInvalidArgument Kind = "invalid_argument"
	// ErrTransport 傳輸層讀寫失敗
	ErrTransport Kind = "transport"
	// ErrBusy 已有請求進行中
	ErrBusy Kind = "busy"
)

// Error 帶有操作與診斷資訊的協定錯誤
type Error struct {
	Kind  Kind
	Op    string
	Msg   string
	Lines []string // 擷取到的原始回應行
	Err   error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(string(e.Kind))
	if e.Msg != "" {
		b.WriteString(": ")
		b.WriteString(e.Msg)
	}
	if len(e.Lines) > 0 {
		b.WriteString(" (lines: ")
		b.WriteString(strings.Join(quoteLines(e.Lines), ", "))
		b.WriteString(")")
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap 同時展開類別與底層原因
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// KindOf 取出錯誤類別，非協定錯誤回傳空字串
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	var k Kind
	if errors.As(err, &k) {
		return k
	}
	return ""
}

// Retryable 判斷錯誤是否可由呼叫端重送整個請求
func Retryable(err error) bool {
	return errors.Is(err, ErrTimeout)
}

func quoteLines(lines []string) []string {
	out := make([]string, len(lines))
	for i, l := range lines {
		out[i] = "\"" + l + "\""
	}
	return out
}
