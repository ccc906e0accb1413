package commands

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/rialto-project/cdm-server/internal/cdm/ipc"
	"github.com/rialto-project/cdm-server/internal/cdm/lifecycle"
	"github.com/rialto-project/cdm-server/internal/cdm/mainthread"
	"github.com/rialto-project/cdm-server/internal/cdm/service"
	"github.com/rialto-project/cdm-server/internal/cdmadmin"
	"github.com/rialto-project/cdm-server/internal/cdmmetrics"
	"github.com/rialto-project/cdm-server/internal/config"
	"github.com/rialto-project/cdm-server/internal/drm"
	"github.com/rialto-project/cdm-server/internal/logger"
	"github.com/rialto-project/cdm-server/internal/telemetry"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	foreground bool
	pidFile    string
	logFile    string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the CDM server",
	Long: `Start the CDM server with the specified configuration.

By default, the server runs in the background (daemon mode). Use --foreground
to run in the foreground for debugging or when managed by a process supervisor.

Use --config to specify a custom configuration file, or it will use the
default location at $XDG_CONFIG_HOME/cdm-server/config.yaml.

Examples:
  # Start in background (default)
  cdm-server serve

  # Start in foreground
  cdm-server serve --foreground

  # Start with custom config file
  cdm-server serve --config /etc/cdm-server/config.yaml

  # Start with environment variable overrides
  CDM_LOGGING_LEVEL=DEBUG cdm-server serve --foreground`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().BoolVarP(&foreground, "foreground", "f", false, "Run in foreground (default: background/daemon mode)")
	serveCmd.Flags().StringVar(&pidFile, "pid-file", "", "Path to PID file (default: $XDG_STATE_HOME/cdm-server/cdm-server.pid)")
	serveCmd.Flags().StringVar(&logFile, "log-file", "", "Path to log file for daemon mode (default: $XDG_STATE_HOME/cdm-server/cdm-server.log)")
}

func runServe(cmd *cobra.Command, args []string) error {
	if !foreground {
		return startDaemon()
	}

	cfg, err := config.Load(GetConfigFile())
	if err != nil {
		return err
	}
	if err := InitLogger(cfg); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	telemetryShutdown, err := telemetry.Init(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    "cdm-server",
		ServiceVersion: Version,
		Endpoint:       cfg.Telemetry.Endpoint,
		Insecure:       cfg.Telemetry.Insecure,
		SampleRate:     cfg.Telemetry.SampleRate,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		if err := telemetryShutdown(ctx); err != nil {
			logger.Error("telemetry shutdown error", "error", err)
		}
	}()

	profilingShutdown, err := telemetry.InitProfiling(telemetry.ProfilingConfig{
		ServiceName:    "cdm-server",
		ServiceVersion: Version,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize profiling: %w", err)
	}
	defer func() {
		if err := profilingShutdown(); err != nil {
			logger.Error("profiling shutdown error", "error", err)
		}
	}()

	fmt.Println("cdm-server - EME key session service")
	logger.Info("Log level", "level", cfg.Logging.Level, "format", cfg.Logging.Format)
	logger.Info("Configuration loaded", "source", getConfigSource(GetConfigFile()))
	if telemetry.IsEnabled() {
		logger.Info("Telemetry enabled", "endpoint", cfg.Telemetry.Endpoint, "sample_rate", cfg.Telemetry.SampleRate)
	} else {
		logger.Info("Telemetry disabled")
	}
	if telemetry.IsProfilingEnabled() {
		logger.Info("Profiling enabled")
	} else {
		logger.Info("Profiling disabled")
	}

	startedAt := time.Now()

	mt := mainthread.New(mainthread.Config{QueueSize: cfg.Server.MainThreadQueueSize})

	factory := drm.UnavailableFactory{LibrarySearchPaths: cfg.Drm.LibrarySearchPaths}
	svc := service.New(mt, factory)
	svc.SwitchToActive()

	listener := ipc.NewListener(cfg.Server.ListenSocketPath, cfg.Server.MaxFrameSize)
	dispatcher := ipc.NewDispatcher(svc, listener)
	caps := ipc.NewCapabilitiesDispatcher(svc)
	listener.Bind(dispatcher, caps)

	lifecycleSvc := lifecycle.New(cfg.Server.ShutdownTimeout)

	if cfg.Metrics.Enabled {
		metrics := cdmmetrics.New(prometheus.NewRegistry())
		metricsServer := cdmmetrics.NewServer(cfg.Metrics.Port, metrics)
		metricsServer.Handle("/", cdmadmin.NewHandler(svc, startedAt).Mux())
		lifecycleSvc.SetMetricsServer(metricsServer)
		logger.Info("Metrics and admin endpoints enabled", "port", cfg.Metrics.Port)
	} else {
		logger.Info("Metrics and admin endpoints disabled")
	}

	if pidFile != "" {
		if err := os.WriteFile(pidFile, []byte(fmt.Sprintf("%d", os.Getpid())), 0644); err != nil {
			return fmt.Errorf("failed to write PID file: %w", err)
		}
		defer func() { _ = os.Remove(pidFile) }()
	}

	serverDone := make(chan error, 1)
	go func() {
		serverDone <- lifecycleSvc.Serve(ctx, mt, listener)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("Server is running. Press Ctrl+C to stop.")

	select {
	case <-sigChan:
		signal.Stop(sigChan)
		logger.Info("Shutdown signal received, initiating graceful shutdown")
		cancel()

		if err := <-serverDone; err != nil {
			logger.Error("Server shutdown error", "error", err)
			return err
		}
		logger.Info("Server stopped gracefully")

	case err := <-serverDone:
		signal.Stop(sigChan)
		if err != nil {
			logger.Error("Server error", "error", err)
			return err
		}
		logger.Info("Server stopped")
	}

	return nil
}

// startDaemon starts the server as a background daemon process.
func startDaemon() error {
	stateDir := os.Getenv("XDG_STATE_HOME")
	if stateDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to get home directory: %w", err)
		}
		stateDir = filepath.Join(homeDir, ".local", "state")
	}
	cdmStateDir := filepath.Join(stateDir, "cdm-server")

	if err := os.MkdirAll(cdmStateDir, 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	pidPath := pidFile
	if pidPath == "" {
		pidPath = filepath.Join(cdmStateDir, "cdm-server.pid")
	}

	if _, err := os.Stat(pidPath); err == nil {
		pidData, err := os.ReadFile(pidPath)
		if err == nil {
			var pid int
			if _, err := fmt.Sscanf(string(pidData), "%d", &pid); err == nil {
				if process, err := os.FindProcess(pid); err == nil {
					if err := process.Signal(syscall.Signal(0)); err == nil {
						return fmt.Errorf("cdm-server is already running (PID %d)\nUse 'kill %d' to stop the running instance", pid, pid)
					}
				}
			}
		}
		_ = os.Remove(pidPath)
	}

	logPath := logFile
	if logPath == "" {
		logPath = filepath.Join(cdmStateDir, "cdm-server.log")
	}

	executable, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to get executable path: %w", err)
	}

	daemonArgs := []string{"serve", "--foreground", "--pid-file", pidPath}
	if GetConfigFile() != "" {
		daemonArgs = append(daemonArgs, "--config", GetConfigFile())
	}

	cmd := exec.Command(executable, daemonArgs...)

	logFileHandle, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}

	cmd.Stdout = logFileHandle
	cmd.Stderr = logFileHandle
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		_ = logFileHandle.Close()
		return fmt.Errorf("failed to start daemon: %w", err)
	}
	_ = logFileHandle.Close()

	fmt.Printf("cdm-server started in background (PID %d)\n", cmd.Process.Pid)
	fmt.Printf("  PID file: %s\n", pidPath)
	fmt.Printf("  Log file: %s\n", logPath)
	fmt.Println("\nUse 'cdm-server status' to check server status")

	return nil
}
