package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"hcsctl/hcs"
	"hcsctl/simulator"
)

const metricsNamespace = "hcsctl"

// MetricsCollector 指標收集器，同時作為請求與輪詢觀察者
type MetricsCollector struct {
	registry *prometheus.Registry

	requests     *prometheus.CounterVec
	errors       *prometheus.CounterVec
	duration     *prometheus.HistogramVec
	polls        prometheus.Counter
	pollErrors   prometheus.Counter
	displayVolts prometheus.Gauge
	displayAmps  prometheus.Gauge
	presetVolts  prometheus.Gauge
	presetAmps   prometheus.Gauge
	constantCurr prometheus.Gauge

	// 快照用累計值
	totalRequests   atomic.Uint64
	totalErrors     atomic.Uint64
	totalPolls      atomic.Uint64
	totalPollErrors atomic.Uint64

	mu        sync.RWMutex
	startTime time.Time
	display   hcs.DisplayStatus
	preset    hcs.Preset
	lastPoll  time.Time
	ready     func() bool

	server *http.Server
	logger *zap.Logger
}

// MetricsSnapshot 指標快照
type MetricsSnapshot struct {
	Timestamp time.Time `json:"timestamp"`
	Uptime    string    `json:"uptime"`

	TotalRequests uint64  `json:"total_requests"`
	TotalErrors   uint64  `json:"total_errors"`
	ErrorRate     float64 `json:"error_rate"`

	Polls      uint64            `json:"polls"`
	PollErrors uint64            `json:"poll_errors"`
	LastPoll   time.Time         `json:"last_poll,omitempty"`
	Display    hcs.DisplayStatus `json:"display"`
	Preset     hcs.Preset        `json:"preset"`
}

// NewMetricsCollector 建立指標收集器
func NewMetricsCollector(logger *zap.Logger) *MetricsCollector {
	if logger == nil {
		logger = zap.NewNop()
	}

	m := &MetricsCollector{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "requests_total",
			Help:      "Total number of device requests",
		}, []string{"command"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "request_errors_total",
			Help:      "Total number of failed device requests",
		}, []string{"command", "kind"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "request_duration_seconds",
			Help:      "Device request round trip time",
			Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5},
		}, []string{"command"}),
		polls: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "polls_total",
			Help:      "Total number of bridge polls",
		}),
		pollErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "poll_errors_total",
			Help:      "Total number of failed bridge polls",
		}),
		displayVolts: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "display_voltage_volts",
			Help:      "Voltage shown on the front panel",
		}),
		displayAmps: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "display_current_amperes",
			Help:      "Current shown on the front panel",
		}),
		presetVolts: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "preset_voltage_volts",
			Help:      "Active voltage preset",
		}),
		presetAmps: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "preset_current_amperes",
			Help:      "Active current preset",
		}),
		constantCurr: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "constant_current",
			Help:      "1 when the supply is in constant current mode",
		}),
		startTime: time.Now(),
		logger:    logger,
	}

	m.registry.MustRegister(
		m.requests,
		m.errors,
		m.duration,
		m.polls,
		m.pollErrors,
		m.displayVolts,
		m.displayAmps,
		m.presetVolts,
		m.presetAmps,
		m.constantCurr,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// ObserveRequest 記錄一次裝置請求
func (m *MetricsCollector) ObserveRequest(mnemonic string, elapsed time.Duration, err error) {
	m.totalRequests.Add(1)
	m.requests.WithLabelValues(mnemonic).Inc()
	m.duration.WithLabelValues(mnemonic).Observe(elapsed.Seconds())

	if err != nil {
		m.totalErrors.Add(1)
		kind := string(hcs.KindOf(err))
		if kind == "" {
			kind = "other"
		}
		m.errors.WithLabelValues(mnemonic, kind).Inc()
	}
}

// ObservePoll 記錄一次橋接輪詢
func (m *MetricsCollector) ObservePoll(status hcs.DisplayStatus, preset hcs.Preset, err error) {
	m.totalPolls.Add(1)
	m.polls.Inc()
	if err != nil {
		m.totalPollErrors.Add(1)
		m.pollErrors.Inc()
		return
	}

	m.displayVolts.Set(status.Voltage)
	m.displayAmps.Set(status.Current)
	m.presetVolts.Set(preset.Voltage)
	m.presetAmps.Set(preset.Current)
	if status.State == hcs.ConstantCurrent {
		m.constantCurr.Set(1)
	} else {
		m.constantCurr.Set(0)
	}

	m.mu.Lock()
	m.display = status
	m.preset = preset
	m.lastPoll = time.Now()
	m.mu.Unlock()
}

// SetReadyCheck 設定 /ready 判斷函式
func (m *MetricsCollector) SetReadyCheck(fn func() bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ready = fn
}

// WatchSimulator 匯出模擬器統計
func (m *MetricsCollector) WatchSimulator(s *simulator.Server) {
	stats := s.Device().Stats()
	counter := func(name, help string, load func() float64) prometheus.Collector {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "simulator",
			Name:      name,
			Help:      help,
		}, load)
	}

	m.registry.MustRegister(
		counter("connections_total", "Accepted simulator connections", func() float64 {
			return float64(s.Stats().Connections.Load())
		}),
		counter("commands_total", "Commands handled by the virtual device", func() float64 {
			return float64(stats.Requests.Load())
		}),
		counter("malformed_total", "Commands with malformed arguments", func() float64 {
			return float64(stats.Malformed.Load())
		}),
		counter("dropped_total", "Status lines dropped by the scenario", func() float64 {
			return float64(stats.Dropped.Load())
		}),
		counter("garbled_total", "Responses garbled by the scenario", func() float64 {
			return float64(stats.Garbled.Load())
		}),
		counter("bytes_received_total", "Bytes received by the virtual device", func() float64 {
			return float64(stats.BytesReceived.Load())
		}),
		counter("bytes_sent_total", "Bytes sent by the virtual device", func() float64 {
			return float64(stats.BytesSent.Load())
		}),
	)
}

// Snapshot 取得指標快照
func (m *MetricsCollector) Snapshot() MetricsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	totalReqs := m.totalRequests.Load()
	totalErrs := m.totalErrors.Load()

	snapshot := MetricsSnapshot{
		Timestamp:     time.Now(),
		Uptime:        time.Since(m.startTime).String(),
		TotalRequests: totalReqs,
		TotalErrors:   totalErrs,
		Polls:         m.totalPolls.Load(),
		PollErrors:    m.totalPollErrors.Load(),
		LastPoll:      m.lastPoll,
		Display:       m.display,
		Preset:        m.preset,
	}

	// 計算錯誤率
	if totalReqs > 0 {
		snapshot.ErrorRate = float64(totalErrs) / float64(totalReqs) * 100
	}

	return snapshot
}

// Handler 建立指標 HTTP 路由
func (m *MetricsCollector) Handler(endpoint string) http.Handler {
	prom := promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})

	mux := http.NewServeMux()
	mux.HandleFunc(endpoint, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Accept") == "application/json" || r.URL.Query().Get("format") == "json" {
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(m.Snapshot())
			return
		}
		prom.ServeHTTP(w, r)
	})
	mux.HandleFunc("/health", m.handleHealth)
	mux.HandleFunc("/ready", m.handleReady)
	return mux
}

// Start 啟動指標伺服器
func (m *MetricsCollector) Start(endpoint string, port int) error {
	addr := fmt.Sprintf(":%d", port)
	m.server = &http.Server{
		Addr:              addr,
		Handler:           m.Handler(endpoint),
		ReadHeaderTimeout: 5 * time.Second,
	}

	m.logger.Info("啟動指標伺服器", zap.String("addr", addr), zap.String("endpoint", endpoint))

	go func() {
		if err := m.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			m.logger.Error("指標伺服器錯誤", zap.Error(err))
		}
	}()

	return nil
}

// Stop 關閉指標伺服器
func (m *MetricsCollector) Stop(ctx context.Context) error {
	if m.server == nil {
		return nil
	}
	return m.server.Shutdown(ctx)
}

// handleHealth 處理 /health 請求
func (m *MetricsCollector) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
}

// handleReady 處理 /ready 請求
func (m *MetricsCollector) handleReady(w http.ResponseWriter, r *http.Request) {
	m.mu.RLock()
	ready := m.ready
	m.mu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	if ready == nil || !ready() {
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(map[string]string{"status": "not ready"})
		return
	}

	json.NewEncoder(w).Encode(map[string]string{"status": "ready"})
}
