package hcs

import (
	"strings"
)

// mockTransport 依指令助記符回覆預錄資料的傳輸層
type mockTransport struct {
	responses map[string]string // 助記符 → 原始回應位元組
	written   []string
	out       []byte

	chunk     int  // 每次 Read 最多回傳位元組數 (0 = 不限)
	hideAvail bool // BytesAvailable 永遠回 0，模擬資料分段抵達
	writeErr  error
	readErr   error
}

func newMockTransport(responses map[string]string) *mockTransport {
	return &mockTransport{responses: responses}
}

func (m *mockTransport) Write(p []byte) (int, error) {
	if m.writeErr != nil {
		return 0, m.writeErr
	}
	cmd := string(p)
	m.written = append(m.written, cmd)
	cmd = strings.TrimSuffix(cmd, "\r")
	if len(cmd) >= 4 {
		if resp, ok := m.responses[cmd[:4]]; ok {
			m.out = append(m.out, resp...)
		}
	}
	return len(p), nil
}

func (m *mockTransport) Read(p []byte) (int, error) {
	if m.readErr != nil {
		return 0, m.readErr
	}
	if len(m.out) == 0 {
		return 0, nil
	}
	n := len(p)
	if m.chunk > 0 && n > m.chunk {
		n = m.chunk
	}
	n = copy(p[:n], m.out)
	m.out = m.out[n:]
	return n, nil
}

func (m *mockTransport) BytesAvailable() int {
	if m.hideAvail {
		return 0
	}
	return len(m.out)
}

// feed 直接放入待讀資料
func (m *mockTransport) feed(s string) {
	m.out = append(m.out, s...)
}
