package main

import (
	"context"
	"fmt"
	"math"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"hcsctl/bridge"
	"hcsctl/hcs"
	"hcsctl/simulator"
	"hcsctl/transport"
)

var (
	cfgFile     string
	portFlag    string
	backendFlag string
	logger      *zap.Logger
	appConfig   *Config
)

// rootCmd 根命令
var rootCmd = &cobra.Command{
	Use:   "hcsctl",
	Short: "Manson HCS 系列電源供應器控制工具",
	Long: `透過序列埠 (或 TCP 序列橋接) 控制 Manson HCS 系列可程式電源供應器。
支援輸出開關、電壓/電流設定、記憶體預設、保護上限，
並可將裝置以 Modbus TCP 從站形式提供給 SCADA/PLC。`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// 載入配置 (除了 version、help 與 generate 命令)
		var loadErr error
		appConfig = DefaultConfig()
		if cmd.Name() != "version" && cmd.Name() != "help" && cmd.Name() != "generate" {
			var cfg *Config
			cfg, loadErr = LoadConfig(cfgFile)
			if loadErr == nil {
				appConfig = cfg
			}
		}

		if portFlag != "" {
			appConfig.Serial.Port = portFlag
		}
		if backendFlag != "" {
			appConfig.Serial.Backend = backendFlag
		}

		var err error
		logger, err = initLogger(appConfig.Logging)
		if err != nil {
			return fmt.Errorf("初始化日誌失敗: %w", err)
		}
		if loadErr != nil && cfgFile != "" {
			// 配置載入失敗時使用預設值
			logger.Warn("載入配置檔失敗，使用預設配置", zap.Error(loadErr))
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

// portsCmd 列出序列埠
var portsCmd = &cobra.Command{
	Use:   "ports",
	Short: "列出序列埠",
	Long:  "列出系統上可用的序列埠。",
	RunE: func(cmd *cobra.Command, args []string) error {
		ports, err := transport.ListPorts()
		if err != nil {
			return fmt.Errorf("列出序列埠失敗: %w", err)
		}

		out := cmd.OutOrStdout()
		if len(ports) == 0 {
			fmt.Fprintln(out, "找不到序列埠")
			return nil
		}
		fmt.Fprintf(out, "可用的序列埠 (%d 個):\n", len(ports))
		for _, p := range ports {
			fmt.Fprintf(out, "  - %s\n", p)
		}
		return nil
	},
}

// infoCmd 裝置資訊
var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "顯示裝置資訊",
	Long:  "探測裝置並顯示數值格式、上限與目前設定。",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(func(s *hcs.Session) error {
			preset, err := s.Presets()
			if err != nil {
				return err
			}
			status, err := s.DisplayStatus()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "埠: %s (%s)\n", appConfig.Serial.Port, appConfig.Serial.Backend)
			fmt.Fprintf(out, "  Format: %s\n", s.Format())
			fmt.Fprintf(out, "  Max: %gV %gA\n", s.Limits().MaxVoltage, s.Limits().MaxCurrent)
			fmt.Fprintf(out, "  Preset: %s\n", preset)
			fmt.Fprintf(out, "  Display: %gV %gA %s\n", status.Voltage, status.Current, status.State)
			return nil
		})
	},
}

// outputCmd 切換輸出
var outputCmd = &cobra.Command{
	Use:       "output on|off",
	Short:     "切換輸出",
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{"on", "off"},
	RunE: func(cmd *cobra.Command, args []string) error {
		state, err := hcs.ParseOutputState(args[0])
		if err != nil {
			return err
		}
		return withSession(func(s *hcs.Session) error {
			if err := s.SwitchOutput(state); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "輸出已切換為 %s\n", state)
			return nil
		})
	},
}

// setCmd 設定命令組
var setCmd = &cobra.Command{
	Use:   "set",
	Short: "設定電壓或電流",
}

var setVoltageCmd = &cobra.Command{
	Use:   "voltage <volts>",
	Short: "設定電壓",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setValue(cmd, args[0], "V", (*hcs.Session).SetVoltage)
	},
}

var setCurrentCmd = &cobra.Command{
	Use:   "current <amps>",
	Short: "設定電流",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setValue(cmd, args[0], "A", (*hcs.Session).SetCurrent)
	},
}

// getCmd 查詢命令組
var getCmd = &cobra.Command{
	Use:   "get",
	Short: "查詢裝置狀態",
}

var getPresetsCmd = &cobra.Command{
	Use:   "presets",
	Short: "查詢目前的電壓/電流設定",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(func(s *hcs.Session) error {
			preset, err := s.Presets()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), preset)
			return nil
		})
	},
}

var getStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "查詢面板顯示值與 CV/CC 模式",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(func(s *hcs.Session) error {
			status, err := s.DisplayStatus()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%gV %gA %s\n", status.Voltage, status.Current, status.State)
			return nil
		})
	},
}

// memoryCmd 記憶體預設命令組
var memoryCmd = &cobra.Command{
	Use:   "memory",
	Short: "記憶體預設管理",
}

var memoryGetCmd = &cobra.Command{
	Use:   "get",
	Short: "讀取 3 組記憶體預設",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(func(s *hcs.Session) error {
			presets, err := s.MemoryPresets()
			if err != nil {
				return err
			}
			for i, p := range presets {
				fmt.Fprintf(cmd.OutOrStdout(), "  M%d: %s\n", i+1, p)
			}
			return nil
		})
	},
}

var memorySetCmd = &cobra.Command{
	Use:   "set [v1 i1 v2 i2 v3 i3]",
	Short: "寫入 3 組記憶體預設",
	Long:  "寫入 3 組記憶體預設；未指定時寫入 5V、13.8V 與最大電壓，電流皆為上限。",
	Args: func(cmd *cobra.Command, args []string) error {
		if len(args) != 0 && len(args) != 2*hcs.MemorySlots {
			return fmt.Errorf("需要 0 或 %d 個參數，收到 %d 個", 2*hcs.MemorySlots, len(args))
		}
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		presets, err := parsePresets(args)
		if err != nil {
			return err
		}
		return withSession(func(s *hcs.Session) error {
			if presets == nil {
				presets = hcs.DefaultMemoryPresets(s.Limits())
			}
			if err := s.SetMemoryPresets(presets); err != nil {
				return err
			}
			for i, p := range presets {
				fmt.Fprintf(cmd.OutOrStdout(), "  M%d: %s\n", i+1, p)
			}
			return nil
		})
	},
}

var memoryLoadCmd = &cobra.Command{
	Use:   "load <1-3>",
	Short: "載入記憶體預設",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		slot, err := strconv.Atoi(args[0])
		if err != nil || slot < 1 || slot > hcs.MemorySlots {
			return fmt.Errorf("無效的記憶體編號: %s (可用: 1-%d)", args[0], hcs.MemorySlots)
		}
		return withSession(func(s *hcs.Session) error {
			if err := s.LoadPreset(slot - 1); err != nil {
				return err
			}
			preset, err := s.Presets()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "已載入 M%d: %s\n", slot, preset)
			return nil
		})
	},
}

// ovpCmd 電壓上限命令組
var ovpCmd = &cobra.Command{
	Use:   "ovp",
	Short: "電壓上限 (OVP)",
}

var ovpGetCmd = &cobra.Command{
	Use:   "get",
	Short: "讀取電壓上限",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return getValue(cmd, "V", (*hcs.Session).OVP)
	},
}

var ovpSetCmd = &cobra.Command{
	Use:   "set <volts>",
	Short: "設定電壓上限",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setValue(cmd, args[0], "V", (*hcs.Session).SetOVP)
	},
}

// ocpCmd 電流上限命令組
var ocpCmd = &cobra.Command{
	Use:   "ocp",
	Short: "電流上限 (OCP)",
}

var ocpGetCmd = &cobra.Command{
	Use:   "get",
	Short: "讀取電流上限",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return getValue(cmd, "A", (*hcs.Session).OCP)
	},
}

var ocpSetCmd = &cobra.Command{
	Use:   "set <amps>",
	Short: "設定電流上限",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setValue(cmd, args[0], "A", (*hcs.Session).SetOCP)
	},
}

// rampCmd 電壓掃描
var rampCmd = &cobra.Command{
	Use:   "ramp",
	Short: "電壓掃描",
	Long:  "開啟輸出後，以固定間隔將電壓由起點逐步調整至終點，結束 (或中斷) 時關閉輸出。",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		start, _ := cmd.Flags().GetFloat64("start")
		stop, _ := cmd.Flags().GetFloat64("stop")
		step, _ := cmd.Flags().GetFloat64("step")
		interval, _ := cmd.Flags().GetDuration("interval")

		values, err := rampValues(start, stop, step)
		if err != nil {
			return err
		}

		ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		return withSession(func(s *hcs.Session) error {
			return ramp(ctx, s, values, interval, cmd)
		})
	},
}

// bridgeCmd Modbus 橋接
var bridgeCmd = &cobra.Command{
	Use:   "bridge",
	Short: "啟動 Modbus TCP 橋接",
	Long:  "將裝置以 Modbus TCP 從站形式提供，讀取對應輪詢結果，寫入轉送至裝置。",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if listen, _ := cmd.Flags().GetString("listen"); listen != "" {
			appConfig.Bridge.Listen = listen
		}
		if interval, _ := cmd.Flags().GetDuration("poll-interval"); interval > 0 {
			appConfig.Bridge.PollInterval = interval
		}

		metrics := NewMetricsCollector(logger)
		session, err := openSession(metrics)
		if err != nil {
			return err
		}
		defer session.Close()

		b := bridge.NewBridge(appConfig.Bridge.Listen, session,
			bridge.WithLogger(logger),
			bridge.WithPollInterval(appConfig.Bridge.PollInterval),
			bridge.WithPollObserver(metrics),
		)

		// 設置優雅關閉
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

		if err := b.Start(ctx); err != nil {
			return fmt.Errorf("啟動橋接失敗: %w", err)
		}

		metrics.SetReadyCheck(func() bool { return b.State() == bridge.BridgeStateRunning })
		startMetrics(metrics)

		sig := <-sigChan
		logger.Info("收到關閉信號", zap.String("signal", sig.String()))

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), appConfig.Bridge.GracefulTimeout)
		defer shutdownCancel()

		metrics.Stop(shutdownCtx)
		if err := b.Stop(shutdownCtx); err != nil {
			logger.Error("關閉橋接失敗", zap.Error(err))
			return err
		}
		return nil
	},
}

// simulateCmd 啟動模擬器
var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "啟動虛擬裝置",
	Long:  "以 TCP 提供虛擬 HCS 電源供應器，搭配 --backend tcp 使用，不需實體裝置即可測試。",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if listen, _ := cmd.Flags().GetString("listen"); listen != "" {
			appConfig.Simulator.Listen = listen
		}
		if scenario, _ := cmd.Flags().GetString("scenario"); scenario != "" {
			appConfig.Simulator.Scenario = scenario
		}
		if width, _ := cmd.Flags().GetInt("width"); width > 0 {
			appConfig.Simulator.Width = width
		}
		if err := appConfig.Simulator.Validate(); err != nil {
			return err
		}

		dev, err := appConfig.Simulator.NewDevice(appConfig.Protocol.OutputEncoding(), logger)
		if err != nil {
			return err
		}
		server := simulator.NewServer(appConfig.Simulator.Listen, dev, logger)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

		if err := server.Start(ctx); err != nil {
			return fmt.Errorf("啟動模擬器失敗: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "模擬器監聽於 %s (場景: %s)\n", server.Addr(), appConfig.Simulator.Scenario)

		metrics := NewMetricsCollector(logger)
		metrics.WatchSimulator(server)
		metrics.SetReadyCheck(func() bool { return server.State() == simulator.ServerStateRunning })
		startMetrics(metrics)

		sig := <-sigChan
		logger.Info("收到關閉信號", zap.String("signal", sig.String()))

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), appConfig.Bridge.GracefulTimeout)
		defer shutdownCancel()

		metrics.Stop(shutdownCtx)
		return server.Stop(shutdownCtx)
	},
}

// scenarioCmd 場景命令組
var scenarioCmd = &cobra.Command{
	Use:   "scenario",
	Short: "模擬場景",
}

// scenarioListCmd 列出場景
var scenarioListCmd = &cobra.Command{
	Use:   "list",
	Short: "列出可用場景",
	Run: func(cmd *cobra.Command, args []string) {
		descriptions := map[simulator.ScenarioType]string{
			simulator.ScenarioNormal:     "正常運作 (顯示值 ±0.5% 雜訊)",
			simulator.ScenarioOverload:   "負載過重，進入定電流模式",
			simulator.ScenarioJitter:     "回應分段延遲送出",
			simulator.ScenarioPacketLoss: "狀態行遺失 (5%)",
			simulator.ScenarioGarbled:    "回應前插入雜訊行 (10%)",
		}

		fmt.Fprintln(cmd.OutOrStdout(), "可用的模擬場景:")
		for _, s := range simulator.ListScenarioTypes() {
			fmt.Fprintf(cmd.OutOrStdout(), "  %-15s %s\n", s, descriptions[s])
		}
	},
}

// configCmd 配置命令組
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "配置管理命令",
	Long:  "管理配置檔。",
}

// configValidateCmd 驗證配置
var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "驗證配置檔",
	Long:  "驗證指定的配置檔是否有效。",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := LoadConfig(cfgFile)
		if err != nil {
			return fmt.Errorf("配置驗證失敗: %w", err)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintln(out, "配置驗證通過")
		fmt.Fprintf(out, "  Serial: %s (%s, %d baud)\n", cfg.Serial.Port, cfg.Serial.Backend, cfg.Serial.BaudRate)
		fmt.Fprintf(out, "  Output encoding: %s\n", cfg.Protocol.OutputEncoding())
		fmt.Fprintf(out, "  Bridge: %s (poll %s)\n", cfg.Bridge.Listen, cfg.Bridge.PollInterval)
		fmt.Fprintf(out, "  Simulator: %s (%s)\n", cfg.Simulator.Listen, cfg.Simulator.Scenario)
		return nil
	},
}

// configGenerateCmd 生成配置
var configGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "生成範例配置",
	Long:  "生成範例配置檔。",
	RunE: func(cmd *cobra.Command, args []string) error {
		output, _ := cmd.Flags().GetString("output")
		if output == "" {
			output = "config.json"
		}

		cfg := DefaultConfig()
		cfg.Serial.Port = "/dev/ttyUSB0"

		if err := cfg.SaveConfig(output); err != nil {
			return fmt.Errorf("生成配置失敗: %w", err)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "範例配置已生成: %s\n", output)
		return nil
	},
}

// versionCmd 版本命令
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "顯示版本資訊",
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "hcsctl version %s\n", Version)
		fmt.Fprintf(out, "  Build: %s\n", BuildTime)
		fmt.Fprintf(out, "  Commit: %s\n", GitCommit)
	},
}

func init() {
	// 全域 flags
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "配置檔路徑")
	rootCmd.PersistentFlags().StringVarP(&portFlag, "port", "p", "", "序列埠路徑或 host:port")
	rootCmd.PersistentFlags().StringVarP(&backendFlag, "backend", "b", "", "傳輸後端 (bugst, tarm, goburrow, tcp)")

	// ramp 命令 flags
	rampCmd.Flags().Float64("start", 1, "起始電壓")
	rampCmd.Flags().Float64("stop", 10, "結束電壓")
	rampCmd.Flags().Float64("step", 1, "每步電壓")
	rampCmd.Flags().Duration("interval", 500*time.Millisecond, "每步間隔")

	// bridge 命令 flags
	bridgeCmd.Flags().StringP("listen", "l", "", "Modbus TCP 監聽位址")
	bridgeCmd.Flags().Duration("poll-interval", 0, "輪詢間隔")

	// simulate 命令 flags
	simulateCmd.Flags().StringP("listen", "l", "", "模擬器監聽位址")
	simulateCmd.Flags().StringP("scenario", "s", "", "模擬場景")
	simulateCmd.Flags().Int("width", 0, "數值位數 (3 或 4)")

	// config 命令 flags
	configGenerateCmd.Flags().StringP("output", "o", "config.json", "輸出檔案路徑")

	// 組裝命令樹
	setCmd.AddCommand(setVoltageCmd, setCurrentCmd)
	getCmd.AddCommand(getPresetsCmd, getStatusCmd)
	memoryCmd.AddCommand(memoryGetCmd, memorySetCmd, memoryLoadCmd)
	ovpCmd.AddCommand(ovpGetCmd, ovpSetCmd)
	ocpCmd.AddCommand(ocpGetCmd, ocpSetCmd)
	scenarioCmd.AddCommand(scenarioListCmd)
	configCmd.AddCommand(configValidateCmd, configGenerateCmd)

	rootCmd.AddCommand(
		portsCmd,
		infoCmd,
		outputCmd,
		setCmd,
		getCmd,
		memoryCmd,
		ovpCmd,
		ocpCmd,
		rampCmd,
		bridgeCmd,
		simulateCmd,
		scenarioCmd,
		configCmd,
		versionCmd,
	)
}

// openSession 開啟傳輸層並探測裝置
func openSession(observer hcs.RequestObserver) (*hcs.Session, error) {
	if appConfig.Serial.Port == "" {
		return nil, fmt.Errorf("未指定序列埠，請使用 --port 或配置 serial.port")
	}

	port, err := transport.Open(appConfig.Serial.Transport(), logger)
	if err != nil {
		return nil, err
	}

	opts := []hcs.Option{
		hcs.WithLogger(logger),
		hcs.WithMaxAttempts(appConfig.Protocol.MaxAttempts),
		hcs.WithOutputEncoding(appConfig.Protocol.OutputEncoding()),
	}
	if observer != nil {
		opts = append(opts, hcs.WithObserver(observer))
	}

	session, err := hcs.Open(port, opts...)
	if err != nil {
		port.Close()
		return nil, fmt.Errorf("開啟裝置 %s 失敗: %w", appConfig.Serial.Port, err)
	}
	return session, nil
}

// withSession 開啟 Session 執行操作後關閉
func withSession(fn func(s *hcs.Session) error) error {
	session, err := openSession(nil)
	if err != nil {
		return err
	}
	defer session.Close()
	return fn(session)
}

func setValue(cmd *cobra.Command, arg, unit string, set func(*hcs.Session, float64) error) error {
	value, err := strconv.ParseFloat(arg, 64)
	if err != nil {
		return fmt.Errorf("無效的數值 %q: %w", arg, err)
	}
	return withSession(func(s *hcs.Session) error {
		if err := set(s, value); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "已設定 %g%s\n", value, unit)
		return nil
	})
}

func getValue(cmd *cobra.Command, unit string, get func(*hcs.Session) (float64, error)) error {
	return withSession(func(s *hcs.Session) error {
		value, err := get(s)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%g%s\n", value, unit)
		return nil
	})
}

// parsePresets 解析 v1 i1 v2 i2 v3 i3，無參數時回傳 nil
func parsePresets(args []string) ([]hcs.Preset, error) {
	if len(args) == 0 {
		return nil, nil
	}
	if len(args) != 2*hcs.MemorySlots {
		return nil, fmt.Errorf("需要 %d 個數值，收到 %d 個", 2*hcs.MemorySlots, len(args))
	}

	presets := make([]hcs.Preset, hcs.MemorySlots)
	for i := range presets {
		v, err := strconv.ParseFloat(args[2*i], 64)
		if err != nil {
			return nil, fmt.Errorf("M%d 電壓無效: %w", i+1, err)
		}
		a, err := strconv.ParseFloat(args[2*i+1], 64)
		if err != nil {
			return nil, fmt.Errorf("M%d 電流無效: %w", i+1, err)
		}
		presets[i] = hcs.Preset{Voltage: v, Current: a}
	}
	return presets, nil
}

// rampValues 由起點至終點 (含) 的電壓序列，方向由起終點決定
func rampValues(start, stop, step float64) ([]float64, error) {
	if step <= 0 {
		return nil, fmt.Errorf("每步電壓必須大於 0: %g", step)
	}
	if start < 0 || stop < 0 {
		return nil, fmt.Errorf("電壓不可為負值")
	}

	direction := 1.0
	if stop < start {
		direction = -1
	}
	n := int(math.Floor(math.Abs(stop-start)/step + 1e-9))

	values := make([]float64, 0, n+2)
	for i := 0; i <= n; i++ {
		// 以整數步數計算，避免浮點累加誤差
		values = append(values, math.Round((start+direction*float64(i)*step)*100)/100)
	}
	if values[len(values)-1] != stop {
		values = append(values, stop)
	}
	return values, nil
}

// ramp 開啟輸出並逐步設定電壓，結束時一律關閉輸出
func ramp(ctx context.Context, s *hcs.Session, values []float64, interval time.Duration, cmd *cobra.Command) (err error) {
	if err := s.SetVoltage(values[0]); err != nil {
		return err
	}
	if err := s.SwitchOutput(hcs.OutputOn); err != nil {
		return err
	}
	defer func() {
		if offErr := s.SwitchOutput(hcs.OutputOff); offErr != nil && err == nil {
			err = offErr
		}
	}()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for i, v := range values {
		if i > 0 {
			select {
			case <-ctx.Done():
				logger.Info("掃描中斷", zap.Float64("voltage", values[i-1]))
				return nil
			case <-ticker.C:
			}
			if err := s.SetVoltage(v); err != nil {
				return err
			}
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%gV\n", v)
	}
	return nil
}

// startMetrics 依配置啟動指標伺服器
func startMetrics(metrics *MetricsCollector) {
	if !appConfig.Metrics.Enabled {
		return
	}
	if err := metrics.Start(appConfig.Metrics.Endpoint, appConfig.Metrics.Port); err != nil {
		logger.Warn("啟動指標伺服器失敗", zap.Error(err))
	}
}

func initLogger(cfg LoggingConfig) (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	zcfg := zap.NewProductionConfig()
	zcfg.Level = level
	zcfg.Encoding = cfg.Format
	if cfg.Format == "console" {
		zcfg.EncoderConfig = zap.NewDevelopmentEncoderConfig()
	}
	zcfg.OutputPaths = []string{cfg.OutputPath}
	zcfg.ErrorOutputPaths = []string{"stderr"}
	return zcfg.Build()
}

// Execute 執行 CLI
func Execute() error {
	return rootCmd.Execute()
}
