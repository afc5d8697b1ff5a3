package transport

import (
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"hcsctl/hcs"
)

var _ hcs.Transport = (*Port)(nil)

func newPipePort(t *testing.T) (*Port, net.Conn) {
	t.Helper()
	local, remote := net.Pipe()
	p := Wrap("pipe", local, 50*time.Millisecond, zap.NewNop())
	t.Cleanup(func() {
		p.Close()
		remote.Close()
	})
	return p, remote
}

func TestPort_ReadBuffered(t *testing.T) {
	p, remote := newPipePort(t)

	_, err := remote.Write([]byte("322202\rOK\r"))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return p.BytesAvailable() == 10
	}, time.Second, 5*time.Millisecond)

	buf := make([]byte, 1)
	n, err := p.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, byte('3'), buf[0])
	assert.Equal(t, 9, p.BytesAvailable())

	rest := make([]byte, 64)
	n, err = p.Read(rest)
	require.NoError(t, err)
	assert.Equal(t, "22202\rOK\r", string(rest[:n]))
}

func TestPort_ReadTimeout(t *testing.T) {
	p, _ := newPipePort(t)

	// 逾時不是錯誤
	var tr hcs.Transport = p
	start := time.Now()
	n, err := tr.Read(make([]byte, 8))
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
}

func TestPort_ReadWaitsForData(t *testing.T) {
	p, remote := newPipePort(t)

	go func() {
		time.Sleep(10 * time.Millisecond)
		remote.Write([]byte("OK\r"))
	}()

	buf := make([]byte, 8)
	n, err := p.Read(buf)
	require.NoError(t, err)
	assert.Greater(t, n, 0)
}

func TestPort_Write(t *testing.T) {
	p, remote := newPipePort(t)

	got := make(chan string, 1)
	go func() {
		buf := make([]byte, 16)
		n, _ := remote.Read(buf)
		got <- string(buf[:n])
	}()

	n, err := p.Write([]byte("GMAX\r"))
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, "GMAX\r", <-got)
}

func TestPort_Discard(t *testing.T) {
	p, remote := newPipePort(t)

	remote.Write([]byte("stale\r"))
	require.Eventually(t, func() bool {
		return p.BytesAvailable() == 6
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, 6, p.Discard())
	assert.Equal(t, 0, p.BytesAvailable())
}

func TestPort_Close(t *testing.T) {
	local, remote := net.Pipe()
	defer remote.Close()
	p := Wrap("pipe", local, time.Second, nil)

	require.NoError(t, p.Close())
	assert.NoError(t, p.Close(), "重複關閉不應出錯")

	_, err := p.Read(make([]byte, 1))
	assert.ErrorIs(t, err, ErrClosed)

	_, err = p.Write([]byte("x"))
	assert.ErrorIs(t, err, ErrClosed)
}

func TestPort_RemoteClosed(t *testing.T) {
	p, remote := newPipePort(t)
	remote.Close()

	require.Eventually(t, func() bool {
		_, err := p.Read(make([]byte, 1))
		return err == io.EOF
	}, time.Second, 5*time.Millisecond)
}
