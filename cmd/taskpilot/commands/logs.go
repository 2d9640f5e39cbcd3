package commands

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/marcus/taskpilot/internal/logging"
)

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "View logs",
	Long: `View taskpilot daemon logs.

Displays recent log entries. Use --follow to stream logs in real-time.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		tail, _ := cmd.Flags().GetInt("tail")
		follow, _ := cmd.Flags().GetBool("follow")
		agent, _ := cmd.Flags().GetString("agent")

		logDir := logging.DefaultConfig().Path
		if cfg, err := loadConfig(cmd); err == nil {
			logDir = cfg.ExpandedLogPath()
		}

		f := logFilter{agent: agent}
		if follow {
			return followLogs(logDir, tail, f, os.Stdout)
		}
		return showLogs(logDir, tail, f, os.Stdout)
	},
}

func init() {
	logsCmd.Flags().IntP("tail", "n", 50, "Number of log lines to show")
	logsCmd.Flags().BoolP("follow", "f", false, "Follow log output")
	logsCmd.Flags().StringP("agent", "a", "", "Only show lines for this agent")
	rootCmd.AddCommand(logsCmd)
}

// logEntry represents a parsed JSON log line
type logEntry struct {
	Level     string    `json:"level"`
	Time      time.Time `json:"time"`
	Message   string    `json:"message"`
	Component string    `json:"component,omitempty"`
	AgentID   string    `json:"agent_id,omitempty"`
	TaskType  string    `json:"task_type,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	Error     string    `json:"error,omitempty"`
}

type logFilter struct {
	agent string
}

// match reports whether a raw line passes the filter. Unparseable lines
// only pass an empty filter.
func (f logFilter) match(line string) bool {
	if f.agent == "" {
		return true
	}
	var entry logEntry
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		return false
	}
	return entry.AgentID == f.agent
}

func showLogs(logDir string, n int, f logFilter, w io.Writer) error {
	files, err := getLogFiles(logDir)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		fmt.Fprintln(w, "No log files found.")
		return nil
	}

	for _, line := range readLastLines(files, n, f) {
		fmt.Fprintln(w, formatLogLine(line))
	}
	return nil
}

func followLogs(logDir string, initialLines int, f logFilter, w io.Writer) error {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return fmt.Errorf("creating log dir: %w", err)
	}

	files, err := getLogFiles(logDir)
	if err != nil {
		return err
	}
	if len(files) > 0 && initialLines > 0 {
		for _, line := range readLastLines(files, initialLines, f) {
			fmt.Fprintln(w, formatLogLine(line))
		}
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	if err := watcher.Add(logDir); err != nil {
		return fmt.Errorf("watching log dir: %w", err)
	}

	tailer := &logTailer{}
	defer tailer.close()
	if len(files) > 0 {
		tailer.open(files[0], true)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	fmt.Fprintln(w, "--- Following logs (Ctrl+C to exit) ---")

	for {
		select {
		case <-sigCh:
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !isLogFile(event.Name) {
				continue
			}
			// date rollover creates a new file
			if event.Has(fsnotify.Create) && event.Name != tailer.path {
				tailer.open(event.Name, false)
			}
			if event.Has(fsnotify.Write) && event.Name == tailer.path {
				for _, line := range tailer.readLines() {
					if f.match(line) {
						fmt.Fprintln(w, formatLogLine(line))
					}
				}
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			fmt.Fprintf(os.Stderr, "watcher error: %v\n", err)
		}
	}
}

// logTailer reads lines appended to the current log file.
type logTailer struct {
	path    string
	file    *os.File
	reader  *bufio.Reader
	partial string
}

func (t *logTailer) open(path string, seekEnd bool) {
	t.close()
	f, err := os.Open(path)
	if err != nil {
		return
	}
	if seekEnd {
		_, _ = f.Seek(0, io.SeekEnd)
	}
	t.path, t.file, t.reader, t.partial = path, f, bufio.NewReader(f), ""
}

func (t *logTailer) readLines() []string {
	if t.reader == nil {
		return nil
	}
	var lines []string
	for {
		chunk, err := t.reader.ReadString('\n')
		if err != nil {
			t.partial += chunk
			return lines
		}
		lines = append(lines, strings.TrimSuffix(t.partial+chunk, "\n"))
		t.partial = ""
	}
}

func (t *logTailer) close() {
	if t.file != nil {
		_ = t.file.Close()
	}
	t.path, t.file, t.reader, t.partial = "", nil, nil, ""
}

// getLogFiles returns log files newest first; a missing dir has none.
func getLogFiles(logDir string) ([]string, error) {
	files, err := logging.ListLogFiles(logDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading log dir: %w", err)
	}
	return files, nil
}

func isLogFile(path string) bool {
	name := filepath.Base(path)
	return strings.HasPrefix(name, "taskpilot-") && strings.HasSuffix(name, ".log")
}

// readLastLines returns the last n matching lines across files, which are
// ordered newest first. The result is in chronological order.
func readLastLines(files []string, n int, f logFilter) []string {
	var lines []string

	for _, file := range files {
		if len(lines) >= n {
			break
		}

		var fileLines []string
		for _, l := range readFileLines(file) {
			if f.match(l) {
				fileLines = append(fileLines, l)
			}
		}
		remaining := n - len(lines)

		if len(fileLines) <= remaining {
			lines = append(fileLines, lines...)
		} else {
			lines = append(fileLines[len(fileLines)-remaining:], lines...)
		}
	}

	return lines
}

func readFileLines(path string) []string {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer func() { _ = f.Close() }()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	return lines
}

func formatLogLine(line string) string {
	var entry logEntry
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		return line
	}

	var b strings.Builder
	b.WriteString(entry.Time.Local().Format("15:04:05"))
	b.WriteString(" ")
	b.WriteString(formatLogLevel(entry.Level))
	if entry.Component != "" {
		fmt.Fprintf(&b, " [%s]", entry.Component)
	}
	b.WriteString(" ")
	b.WriteString(entry.Message)
	if entry.AgentID != "" {
		fmt.Fprintf(&b, " agent=%s", entry.AgentID)
	}
	if entry.TaskType != "" {
		fmt.Fprintf(&b, " task=%s", entry.TaskType)
	}
	if entry.Reason != "" {
		fmt.Fprintf(&b, " reason=%s", entry.Reason)
	}
	if entry.Error != "" {
		fmt.Fprintf(&b, " error=%s", entry.Error)
	}
	return b.String()
}

func formatLogLevel(level string) string {
	switch level {
	case "debug":
		return "DBG"
	case "info":
		return "INF"
	case "warn":
		return "WRN"
	case "error":
		return "ERR"
	case "":
		return "???"
	default:
		if len(level) > 3 {
			level = level[:3]
		}
		return strings.ToUpper(level)
	}
}
