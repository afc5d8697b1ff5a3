package hcs

import (
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Engine 指令/回應引擎，所有裝置操作的唯一寫入路徑
type Engine struct {
	transport   Transport
	reader      *FrameReader
	maxAttempts int
	busy        atomic.Bool

	logger   *zap.Logger
	observer RequestObserver
}

// NewEngine 建立引擎
func NewEngine(t Transport, maxAttempts int, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxAttempts < 1 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Engine{
		transport:   t,
		reader:      NewFrameReader(Terminator, StatusOK),
		maxAttempts: maxAttempts,
		logger:      logger,
	}
}

// SetObserver 設定請求觀察者
func (e *Engine) SetObserver(o RequestObserver) {
	e.observer = o
}

// Request 送出指令並依回應形狀分類
//
// 只有狀態行時 hasData 為 false；一行資料加狀態行時回傳該資料。
func (e *Engine) Request(command string) (payload string, hasData bool, err error) {
	if !e.busy.CompareAndSwap(false, true) {
		return "", false, &Error{Kind: ErrBusy, Op: mnemonicOf(command), Msg: "已有請求進行中"}
	}
	defer e.busy.Store(false)

	start := time.Now()
	defer func() {
		if e.observer != nil {
			e.observer.ObserveRequest(mnemonicOf(command), time.Since(start), err)
		}
	}()

	op := mnemonicOf(command)
	e.logger.Debug(">>", zap.String("command", command))

	msg := make([]byte, 0, len(command)+1)
	msg = append(msg, command...)
	msg = append(msg, Terminator)
	n, werr := e.transport.Write(msg)
	if werr != nil {
		return "", false, &Error{Kind: ErrTransport, Op: op, Msg: "寫入失敗", Err: werr}
	}
	if n != len(msg) {
		return "", false, &Error{Kind: ErrTransport, Op: op, Msg: fmt.Sprintf("僅寫入 %d/%d 位元組", n, len(msg))}
	}

	lines, rerr := e.reader.ReadResponse(e.transport, e.maxAttempts)
	for _, l := range lines {
		e.logger.Debug("<<", zap.String("line", l))
	}
	if rerr != nil {
		if pe, ok := rerr.(*Error); ok {
			pe.Op = op
		}
		return "", false, rerr
	}

	payload, hasData, err = classify(lines, StatusOK)
	if err != nil {
		err.(*Error).Op = op
	}
	return payload, hasData, err
}

// Resync 丟棄殘留資料，用於協定失步後的復原
func (e *Engine) Resync() int {
	dropped := e.reader.Buffered()
	e.reader.Reset()

	buf := make([]byte, readChunk)
	for avail := e.transport.BytesAvailable(); avail > 0; avail = e.transport.BytesAvailable() {
		if avail > len(buf) {
			avail = len(buf)
		}
		n, err := e.transport.Read(buf[:avail])
		dropped += n
		if err != nil || n == 0 {
			break
		}
	}
	if dropped > 0 {
		e.logger.Warn("重新同步，丟棄殘留資料", zap.Int("bytes", dropped))
	}
	return dropped
}

// classify 依回應行形狀判定結果
func classify(lines []string, status string) (string, bool, error) {
	switch {
	case len(lines) == 1 && lines[0] == status:
		return "", false, nil
	case len(lines) == 2 && lines[0] != status && lines[1] == status:
		return lines[0], true, nil
	}
	return "", false, &Error{
		Kind:  ErrProtocolViolation,
		Msg:   "非預期的回應形狀",
		Lines: append([]string(nil), lines...),
	}
}

// mnemonicOf 取出指令前 4 個字元
func mnemonicOf(command string) string {
	if len(command) > 4 {
		return command[:4]
	}
	return command
}
