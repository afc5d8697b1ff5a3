package simulator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hcsctl/hcs"
	"hcsctl/transport"
)

func startServer(t *testing.T, d *Device) *Server {
	t.Helper()
	srv := NewServer("127.0.0.1:0", d, nil)
	require.NoError(t, srv.Start(context.Background()))
	t.Cleanup(func() {
		srv.Stop(context.Background())
	})
	return srv
}

func dial(t *testing.T, srv *Server) *transport.Port {
	t.Helper()
	cfg := transport.DefaultConfig()
	cfg.Backend = transport.BackendTCP
	cfg.Address = srv.Addr().String()
	cfg.ReadTimeout = 200 * time.Millisecond

	p, err := transport.Open(cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })
	return p
}

func TestServer_SessionOverTCP(t *testing.T) {
	d := NewDevice()
	srv := startServer(t, d)
	assert.Equal(t, ServerStateRunning, srv.State())

	s, err := hcs.Open(dial(t, srv))
	require.NoError(t, err)
	assert.Equal(t, DefaultLimits, s.Limits())

	require.NoError(t, s.SetVoltage(9.5))
	p, err := s.Presets()
	require.NoError(t, err)
	assert.Equal(t, 9.5, p.Voltage)

	assert.Equal(t, uint64(1), srv.Stats().Connections.Load())
	assert.Equal(t, uint64(3), d.Stats().Requests.Load())
}

func TestServer_JitterOverTCP(t *testing.T) {
	d := NewDevice(WithScenario(ScenarioJitter, ScenarioParams{ChunkSize: 3, ChunkDelay: 5 * time.Millisecond}))
	srv := startServer(t, d)

	s, err := hcs.Open(dial(t, srv))
	require.NoError(t, err)

	presets, err := s.MemoryPresets()
	require.NoError(t, err)
	assert.Equal(t, hcs.DefaultMemoryPresets(DefaultLimits), presets[:])
}

func TestServer_StartStop(t *testing.T) {
	srv := NewServer("127.0.0.1:0", NewDevice(), nil)
	assert.Equal(t, ServerStateStopped, srv.State())
	assert.Nil(t, srv.Addr())

	require.NoError(t, srv.Start(context.Background()))
	assert.Error(t, srv.Start(context.Background()), "重複啟動應失敗")

	require.NoError(t, srv.Stop(context.Background()))
	assert.Equal(t, ServerStateStopped, srv.State())
	assert.NoError(t, srv.Stop(context.Background()), "重複停止不應出錯")
}

func TestServer_StopOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	srv := NewServer("127.0.0.1:0", NewDevice(), nil)
	require.NoError(t, srv.Start(ctx))

	cancel()
	assert.Eventually(t, func() bool {
		return srv.State() == ServerStateStopped
	}, time.Second, 10*time.Millisecond)
}

func TestServer_ListenError(t *testing.T) {
	srv := NewServer("256.0.0.1:0", NewDevice(), nil)
	assert.Error(t, srv.Start(context.Background()))
	assert.Equal(t, ServerStateStopped, srv.State())
}

func TestServerState_String(t *testing.T) {
	assert.Equal(t, "stopped", ServerStateStopped.String())
	assert.Equal(t, "starting", ServerStateStarting.String())
	assert.Equal(t, "running", ServerStateRunning.String())
	assert.Equal(t, "stopping", ServerStateStopping.String())
	assert.Equal(t, "unknown", ServerState(9).String())
}
