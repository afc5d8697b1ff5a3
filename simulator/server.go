package simulator

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// ServerState 伺服器狀態
type ServerState int32

const (
	ServerStateStopped ServerState = iota
	ServerStateStarting
	ServerStateRunning
	ServerStateStopping
)

func (s ServerState) String() string {
	switch s {
	case ServerStateStopped:
		return "stopped"
	case ServerStateStarting:
		return "starting"
	case ServerStateRunning:
		return "running"
	case ServerStateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// ServerStats 伺服器統計資訊
type ServerStats struct {
	StartTime   time.Time
	Connections atomic.Uint64
	Active      atomic.Int32
}

// Server 以 TCP 提供虛擬裝置，模擬 ser2net 之類的序列埠橋接
//
// 裝置只有一條序列線，同一時間只服務一個連線，其餘連線排隊等待。
type Server struct {
	mu sync.Mutex

	addr   string
	device *Device

	state    atomic.Int32
	listener net.Listener
	conns    map[net.Conn]struct{}
	serveMu  sync.Mutex
	wg       sync.WaitGroup

	stats  ServerStats
	logger *zap.Logger
}

// NewServer 建立模擬伺服器
func NewServer(addr string, device *Device, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		addr:   addr,
		device: device,
		conns:  make(map[net.Conn]struct{}),
		logger: logger,
	}
}

// Start 開始監聽
func (s *Server) Start(ctx context.Context) error {
	if !s.state.CompareAndSwap(int32(ServerStateStopped), int32(ServerStateStarting)) {
		return fmt.Errorf("模擬器 %s 已經在運行中", s.addr)
	}

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		s.state.Store(int32(ServerStateStopped))
		return fmt.Errorf("監聽 %s 失敗: %w", s.addr, err)
	}

	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	s.stats.StartTime = time.Now()

	s.wg.Add(1)
	go s.acceptLoop(ln)

	go func() {
		<-ctx.Done()
		s.Stop(context.Background())
	}()

	s.state.Store(int32(ServerStateRunning))
	s.logger.Info("模擬器已啟動", zap.String("addr", ln.Addr().String()))
	return nil
}

// Stop 停止伺服器並關閉所有連線
func (s *Server) Stop(ctx context.Context) error {
	if !s.state.CompareAndSwap(int32(ServerStateRunning), int32(ServerStateStopping)) {
		return nil
	}

	s.mu.Lock()
	if s.listener != nil {
		s.listener.Close()
	}
	for conn := range s.conns {
		conn.Close()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warn("停止模擬器超時")
	}

	s.state.Store(int32(ServerStateStopped))
	s.logger.Info("模擬器已停止",
		zap.Duration("uptime", time.Since(s.stats.StartTime)),
		zap.Uint64("connections", s.stats.Connections.Load()),
		zap.Uint64("requests", s.device.Stats().Requests.Load()),
	)
	return nil
}

// Addr 取得實際監聽位址
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// State 取得當前狀態
func (s *Server) State() ServerState {
	return ServerState(s.state.Load())
}

// Stats 取得統計資訊
func (s *Server) Stats() *ServerStats {
	return &s.stats
}

// Device 取得虛擬裝置
func (s *Server) Device() *Device {
	return s.device
}

func (s *Server) acceptLoop(ln net.Listener) {
	defer s.wg.Done()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				s.logger.Warn("接受連線失敗", zap.Error(err))
			}
			return
		}

		s.mu.Lock()
		s.conns[conn] = struct{}{}
		s.mu.Unlock()
		s.stats.Connections.Add(1)

		s.wg.Add(1)
		go s.handleConn(conn)
	}
}

// handleConn 將連線資料轉交裝置，並依裝置的分段節奏回寫
func (s *Server) handleConn(conn net.Conn) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		conn.Close()
	}()

	s.serveMu.Lock()
	defer s.serveMu.Unlock()

	s.stats.Active.Add(1)
	defer s.stats.Active.Add(-1)

	remote := conn.RemoteAddr().String()
	s.logger.Info("用戶端已連線", zap.String("remote", remote))
	s.device.Reset()

	in := make([]byte, 256)
	out := make([]byte, 256)
	for {
		n, err := conn.Read(in)
		if n > 0 {
			s.device.Write(in[:n])
			for s.device.Pending() > 0 {
				m, _ := s.device.Read(out)
				if m == 0 {
					break
				}
				if _, werr := conn.Write(out[:m]); werr != nil {
					s.logger.Debug("寫入連線失敗", zap.String("remote", remote), zap.Error(werr))
					return
				}
			}
		}
		if err != nil {
			s.logger.Info("用戶端已離線", zap.String("remote", remote))
			return
		}
	}
}
