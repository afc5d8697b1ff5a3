// Package transport 提供 hcs.Transport 的實體後端 (序列埠與 TCP)。
package transport

import (
	"bytes"
	"errors"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrClosed 埠已關閉
var ErrClosed = errors.New("transport: port closed")

// Port 將任意 io.ReadWriteCloser 包裝為 hcs.Transport
//
// 背景 goroutine 持續把資料讀入緩衝，BytesAvailable 回傳緩衝長度；
// Read 在緩衝為空時最多等待 ReadTimeout，逾時回傳 0, nil。
type Port struct {
	name        string
	rwc         io.ReadWriteCloser
	readTimeout time.Duration
	isTimeout   func(error) bool

	mu     sync.Mutex
	buf    bytes.Buffer
	err    error
	notify chan struct{}

	closeOnce sync.Once
	done      chan struct{}

	logger *zap.Logger
}

func newPort(name string, rwc io.ReadWriteCloser, readTimeout time.Duration, isTimeout func(error) bool, logger *zap.Logger) *Port {
	if logger == nil {
		logger = zap.NewNop()
	}
	if isTimeout == nil {
		isTimeout = func(error) bool { return false }
	}
	p := &Port{
		name:        name,
		rwc:         rwc,
		readTimeout: readTimeout,
		isTimeout:   isTimeout,
		notify:      make(chan struct{}, 1),
		done:        make(chan struct{}),
		logger:      logger,
	}
	go p.pump()
	return p
}

// Wrap 包裝已開啟的串流 (測試或自訂後端用)
func Wrap(name string, rwc io.ReadWriteCloser, readTimeout time.Duration, logger *zap.Logger) *Port {
	return newPort(name, rwc, readTimeout, nil, logger)
}

// Name 取得埠名稱
func (p *Port) Name() string {
	return p.name
}

// Write 寫入資料
func (p *Port) Write(b []byte) (int, error) {
	select {
	case <-p.done:
		return 0, ErrClosed
	default:
	}
	return p.rwc.Write(b)
}

// Read 讀取已緩衝的資料，必要時等待至逾時
func (p *Port) Read(b []byte) (int, error) {
	timer := time.NewTimer(p.readTimeout)
	defer timer.Stop()

	for {
		p.mu.Lock()
		if p.buf.Len() > 0 {
			n, _ := p.buf.Read(b)
			p.mu.Unlock()
			return n, nil
		}
		err := p.err
		p.mu.Unlock()
		if err != nil {
			return 0, err
		}

		select {
		case <-p.notify:
		case <-timer.C:
			return 0, nil
		case <-p.done:
			return 0, ErrClosed
		}
	}
}

// BytesAvailable 回傳可立即讀取的位元組數
func (p *Port) BytesAvailable() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.buf.Len()
}

// Discard 丟棄已緩衝的資料
func (p *Port) Discard() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := p.buf.Len()
	p.buf.Reset()
	return n
}

// Close 關閉埠並停止背景讀取
func (p *Port) Close() error {
	var err error
	p.closeOnce.Do(func() {
		close(p.done)
		err = p.rwc.Close()
		p.logger.Debug("埠已關閉", zap.String("port", p.name))
	})
	return err
}

// pump 背景讀取迴圈
func (p *Port) pump() {
	chunk := make([]byte, 256)
	for {
		n, err := p.rwc.Read(chunk)
		if n > 0 {
			p.mu.Lock()
			p.buf.Write(chunk[:n])
			p.mu.Unlock()
			p.signal()
		}

		select {
		case <-p.done:
			return
		default:
		}

		if err == nil || p.isTimeout(err) {
			continue
		}

		p.logger.Warn("讀取失敗，停止接收", zap.String("port", p.name), zap.Error(err))
		p.mu.Lock()
		p.err = err
		p.mu.Unlock()
		p.signal()
		return
	}
}

func (p *Port) signal() {
	select {
	case p.notify <- struct{}{}:
	default:
	}
}
