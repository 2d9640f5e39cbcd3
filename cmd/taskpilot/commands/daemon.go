package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/marcus/taskpilot/internal/config"
	"github.com/marcus/taskpilot/internal/logging"
	"github.com/marcus/taskpilot/internal/metrics"
	"github.com/marcus/taskpilot/internal/tasks"
)

const (
	pidFileName     = "taskpilot.pid"
	shutdownTimeout = 30 * time.Second
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Manage background daemon",
	Long:  `Start, stop, or check status of the taskpilot background daemon.`,
}

var daemonStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start background daemon",
	Long: `Start the taskpilot daemon as a background process.

The daemon registers every configured agent and runs its selection
cycle on the agent's own interval until stopped.`,
	RunE: runDaemonStart,
}

var daemonStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop background daemon",
	Long:  `Stop the running taskpilot daemon by sending SIGTERM.`,
	RunE:  runDaemonStop,
}

var daemonStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check daemon status",
	Long:  `Check if the taskpilot daemon is running and show status information.`,
	RunE:  runDaemonStatus,
}

var (
	daemonForegroundFlag bool
	daemonMetricsAddr    string
)

func init() {
	daemonStartCmd.Flags().BoolVarP(&daemonForegroundFlag, "foreground", "f", false, "Run in foreground (don't daemonize)")
	daemonStartCmd.Flags().StringVar(&daemonMetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (overrides config)")
	daemonCmd.AddCommand(daemonStartCmd)
	daemonCmd.AddCommand(daemonStopCmd)
	daemonCmd.AddCommand(daemonStatusCmd)
	rootCmd.AddCommand(daemonCmd)
}

// pidFilePath returns the path to the PID file.
func pidFilePath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "share", "taskpilot", pidFileName)
}

// writePidFile writes the current process PID to the PID file.
func writePidFile() error {
	if err := os.MkdirAll(filepath.Dir(pidFilePath()), 0755); err != nil {
		return fmt.Errorf("creating pid dir: %w", err)
	}
	return os.WriteFile(pidFilePath(), []byte(strconv.Itoa(os.Getpid())), 0644)
}

// readPidFile reads the PID from the PID file.
func readPidFile() (int, error) {
	data, err := os.ReadFile(pidFilePath())
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePidFile() error {
	return os.Remove(pidFilePath())
}

// isProcessRunning checks if a process with the given PID is running.
func isProcessRunning(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// On Unix, FindProcess always succeeds; signal 0 checks liveness
	return process.Signal(syscall.Signal(0)) == nil
}

func isDaemonRunning() (bool, int) {
	pid, err := readPidFile()
	if err != nil {
		return false, 0
	}
	return isProcessRunning(pid), pid
}

func runDaemonStart(cmd *cobra.Command, args []string) error {
	if running, pid := isDaemonRunning(); running {
		return fmt.Errorf("daemon already running (pid %d)", pid)
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if len(cfg.Agents) == 0 {
		return fmt.Errorf("no agents configured (add an agents list to taskpilot.yaml)")
	}

	if daemonForegroundFlag {
		return runDaemonLoop(cfg)
	}

	executable, err := os.Executable()
	if err != nil {
		return fmt.Errorf("getting executable: %w", err)
	}

	childArgs := []string{"daemon", "start", "--foreground"}
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		childArgs = append(childArgs, "--config", path)
	}
	if daemonMetricsAddr != "" {
		childArgs = append(childArgs, "--metrics-addr", daemonMetricsAddr)
	}

	child := exec.Command(executable, childArgs...)
	child.Stdout = nil
	child.Stderr = nil
	child.Stdin = nil
	// Detach from parent process group
	child.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := child.Start(); err != nil {
		return fmt.Errorf("starting daemon: %w", err)
	}

	fmt.Printf("daemon started (pid %d)\n", child.Process.Pid)
	return nil
}

func runDaemonLoop(cfg *config.Config) error {
	if err := initLogging(cfg); err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	log := logging.Component("daemon")

	if err := writePidFile(); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer func() { _ = removePidFile() }()

	log.Info("daemon starting")

	database, journal, err := openJournal(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = database.Close() }()

	catalog, err := buildCatalog(cfg, tasks.ExecRunner{})
	if err != nil {
		return fmt.Errorf("build catalog: %w", err)
	}

	var m *metrics.Metrics
	addr := daemonMetricsAddr
	if addr == "" && cfg.Metrics.Enabled {
		addr = cfg.Metrics.Addr
	}
	if addr != "" {
		m = metrics.New(nil)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	engine := buildEngine(cfg, catalog, journal, m)
	if err := registerAgents(ctx, cfg, engine, journal); err != nil {
		return fmt.Errorf("register agents: %w", err)
	}

	var srv *http.Server
	if m != nil {
		srv = startMetricsServer(addr, m, log)
	}

	// in-flight cycles are bounded by Stop, not by the signal
	if err := engine.Start(context.Background()); err != nil {
		return fmt.Errorf("start engine: %w", err)
	}

	for _, snap := range engine.Agents() {
		log.InfoCtx("agent scheduled", map[string]any{
			"agent_id": snap.ID,
			"interval": snap.Interval.String(),
			"next_run": snap.NextRun.Format(time.RFC3339),
		})
	}

	<-ctx.Done()
	log.Info("shutdown requested")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := engine.Stop(shutdownCtx); err != nil {
		log.WarnCtx("engine stop", map[string]any{"error": err.Error()})
	}
	if srv != nil {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.WarnCtx("metrics server shutdown", map[string]any{"error": err.Error()})
		}
	}

	log.Info("daemon stopped")
	return nil
}

func startMetricsServer(addr string, m *metrics.Metrics, log *logging.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.InfoCtx("metrics server listening", map[string]any{"addr": addr})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.ErrorCtx("metrics server", map[string]any{"error": err.Error()})
		}
	}()
	return srv
}

func runDaemonStop(cmd *cobra.Command, args []string) error {
	running, pid := isDaemonRunning()
	if !running {
		if _, err := readPidFile(); err == nil {
			_ = removePidFile()
			fmt.Println("daemon not running (stale pid file removed)")
			return nil
		}
		fmt.Println("daemon not running")
		return nil
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("finding process: %w", err)
	}
	if err := process.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("sending SIGTERM: %w", err)
	}

	fmt.Printf("stopping daemon (pid %d)...\n", pid)

	// engine shutdown window plus a margin
	timeout := time.After(shutdownTimeout + 5*time.Second)
	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()

	for {
		select {
		case <-timeout:
			fmt.Println("daemon did not stop, sending SIGKILL")
			_ = process.Signal(syscall.SIGKILL)
			_ = removePidFile()
			return nil
		case <-tick.C:
			if !isProcessRunning(pid) {
				fmt.Println("daemon stopped")
				_ = removePidFile()
				return nil
			}
		}
	}
}

func runDaemonStatus(cmd *cobra.Command, args []string) error {
	running, pid := isDaemonRunning()
	if !running {
		fmt.Println("Status: not running")
		return nil
	}

	fmt.Printf("Status: running\n")
	fmt.Printf("PID: %d\n", pid)

	if cfg, err := loadConfig(cmd); err == nil {
		fmt.Printf("Agents: %d configured\n", len(cfg.Agents))
		fmt.Printf("Base interval: %s (floor %s)\n", cfg.Selection.BaseInterval, cfg.Selection.MinTaskInterval)
		if cfg.Metrics.Enabled {
			fmt.Printf("Metrics: http://%s/metrics\n", strings.TrimPrefix(cfg.Metrics.Addr, "http://"))
		}
	}

	fmt.Printf("PID file: %s\n", pidFilePath())
	return nil
}
