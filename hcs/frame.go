package hcs

import (
	"bytes"
	"fmt"
)

const (
	// Terminator 行結束字元
	Terminator byte = '\r'
	// StatusOK 回應結束的狀態行
	StatusOK = "OK"
	// DefaultMaxAttempts 預設無資料讀取輪數
	DefaultMaxAttempts = 2

	// MaxReadCycles 單次回應最多的讀取輪數，不論是否有資料
	MaxReadCycles = 64

	maxFrameBuffer = 4096
	readChunk      = 64
)

// FrameReader 將位元組串流切分為回應行
type FrameReader struct {
	terminator byte
	status     string
	buf        []byte
	chunk      []byte
}

// NewFrameReader 建立行讀取器
func NewFrameReader(terminator byte, status string) *FrameReader {
	return &FrameReader{
		terminator: terminator,
		status:     status,
		chunk:      make([]byte, readChunk),
	}
}

// Buffered 回傳尚未結束的殘留位元組數
func (r *FrameReader) Buffered() int {
	return len(r.buf)
}

// Reset 丟棄累積緩衝
func (r *FrameReader) Reset() {
	r.buf = r.buf[:0]
}

// ReadResponse 讀取直到狀態行出現為止，回傳所有完整的行
//
// 每一輪先讀取至少一個位元組，再讀完傳輸層已就緒的資料；
// 連續 maxAttempts 輪沒有資料，或總輪數達 MaxReadCycles 仍未見狀態行，
// 即回傳帶有已收行的 ErrTimeout。
func (r *FrameReader) ReadResponse(t Transport, maxAttempts int) ([]string, error) {
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lines []string
	idle := 0
	for cycle := 0; idle < maxAttempts; cycle++ {
		if cycle >= MaxReadCycles {
			return lines, &Error{
				Kind:  ErrTimeout,
				Op:    "read",
				Msg:   fmt.Sprintf("%d 輪讀取仍未收到 %s", MaxReadCycles, r.status),
				Lines: lines,
			}
		}

		n, err := r.readCycle(t)
		if err != nil {
			return lines, &Error{Kind: ErrTransport, Op: "read", Lines: lines, Err: err}
		}
		if n == 0 {
			idle++
			continue
		}

		complete := r.split()
		lines = append(lines, complete...)
		if containsStatus(complete, r.status) {
			return lines, nil
		}
		if len(r.buf) > maxFrameBuffer {
			return lines, &Error{
				Kind:  ErrProtocolViolation,
				Op:    "read",
				Msg:   fmt.Sprintf("超過 %d 位元組仍未收到行結束", maxFrameBuffer),
				Lines: lines,
			}
		}
	}

	return lines, &Error{
		Kind:  ErrTimeout,
		Op:    "read",
		Msg:   fmt.Sprintf("%d 輪內未收到 %s", maxAttempts, r.status),
		Lines: lines,
	}
}

// readCycle 一輪讀取：先取一個位元組，再取完已就緒的部分
func (r *FrameReader) readCycle(t Transport) (int, error) {
	n, err := t.Read(r.chunk[:1])
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, nil
	}
	r.buf = append(r.buf, r.chunk[:n]...)
	total := n

	for avail := t.BytesAvailable(); avail > 0; avail = t.BytesAvailable() {
		if avail > len(r.chunk) {
			avail = len(r.chunk)
		}
		m, err := t.Read(r.chunk[:avail])
		if err != nil {
			return total, err
		}
		if m == 0 {
			break
		}
		r.buf = append(r.buf, r.chunk[:m]...)
		total += m
	}
	return total, nil
}

// split 取出緩衝中所有完整的行，保留未結束的尾段；空行略過
func (r *FrameReader) split() []string {
	var lines []string
	for {
		i := bytes.IndexByte(r.buf, r.terminator)
		if i < 0 {
			break
		}
		if i > 0 {
			lines = append(lines, string(r.buf[:i]))
		}
		r.buf = r.buf[i+1:]
	}
	if len(r.buf) == 0 {
		r.buf = r.buf[:0:0]
	}
	return lines
}

func containsStatus(lines []string, status string) bool {
	for _, l := range lines {
		if l == status {
			return true
		}
	}
	return false
}
