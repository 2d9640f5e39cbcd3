package tasks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
)

// CommandRunner executes external commands. Allows mocking in tests.
type CommandRunner interface {
	Run(ctx context.Context, name string, args []string, dir string) (stdout, stderr string, exitCode int, err error)
}

// ExecRunner is the default CommandRunner using os/exec.
type ExecRunner struct{}

// Run executes a command and returns its output.
func (ExecRunner) Run(ctx context.Context, name string, args []string, dir string) (string, string, int, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	if dir != "" {
		cmd.Dir = dir
	}

	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf

	err := cmd.Run()

	exitCode := 0
	if cmd.ProcessState != nil {
		exitCode = cmd.ProcessState.ExitCode()
	}
	return stdoutBuf.String(), stderrBuf.String(), exitCode, err
}

// CommandSpec configures a command-backed task.
type CommandSpec struct {
	Command      string
	Args         []string
	MetadataArgs []string // when set, the command describes itself with these args
	WorkDir      string
}

// CommandTask runs an external program that prints a JSON Result on stdout.
type CommandTask struct {
	spec   CommandSpec
	runner CommandRunner
}

// NewCommandTask creates a command-backed task. A nil runner uses ExecRunner.
func NewCommandTask(spec CommandSpec, runner CommandRunner) *CommandTask {
	if runner == nil {
		runner = ExecRunner{}
	}
	return &CommandTask{spec: spec, runner: runner}
}

// CommandFactory returns a Factory producing CommandTasks for spec.
func CommandFactory(spec CommandSpec, runner CommandRunner) Factory {
	return func() (Runnable, error) {
		if strings.TrimSpace(spec.Command) == "" {
			return nil, fmt.Errorf("empty command")
		}
		return NewCommandTask(spec, runner), nil
	}
}

// Run executes the command and decodes its result.
func (t *CommandTask) Run(ctx context.Context) (*Result, error) {
	stdout, err := t.exec(ctx, t.spec.Args)
	if err != nil {
		return nil, err
	}

	var res Result
	if err := json.Unmarshal([]byte(lastJSONLine(stdout)), &res); err != nil {
		return nil, fmt.Errorf("parsing task result: %w", err)
	}
	return &res, nil
}

// metadataWire is the JSON shape a command prints when describing itself.
type metadataWire struct {
	Priority          string  `json:"priority"`
	EstimatedDuration string  `json:"estimated_duration"`
	ValueScore        float64 `json:"value_score"`
	Risk              string  `json:"risk"`
}

// Metadata asks the command to describe itself.
func (t *CommandTask) Metadata(ctx context.Context) (Metadata, error) {
	if len(t.spec.MetadataArgs) == 0 {
		return Metadata{}, fmt.Errorf("command has no metadata args")
	}

	stdout, err := t.exec(ctx, t.spec.MetadataArgs)
	if err != nil {
		return Metadata{}, err
	}

	var w metadataWire
	if err := json.Unmarshal([]byte(lastJSONLine(stdout)), &w); err != nil {
		return Metadata{}, fmt.Errorf("parsing task metadata: %w", err)
	}
	prio, err := ParsePriority(w.Priority)
	if err != nil {
		return Metadata{}, err
	}
	risk, err := ParseRiskLevel(w.Risk)
	if err != nil {
		return Metadata{}, err
	}
	return Metadata{
		Priority:          prio,
		EstimatedDuration: w.EstimatedDuration,
		ValueScore:        w.ValueScore,
		Risk:              risk,
	}, nil
}

func (t *CommandTask) exec(ctx context.Context, args []string) (string, error) {
	stdout, stderr, code, err := t.runner.Run(ctx, t.spec.Command, args, t.spec.WorkDir)
	if err != nil {
		if msg := strings.TrimSpace(stderr); msg != "" {
			return "", fmt.Errorf("%s: %w: %s", t.spec.Command, err, msg)
		}
		return "", fmt.Errorf("%s: %w", t.spec.Command, err)
	}
	if code != 0 {
		return "", fmt.Errorf("%s exited with code %d", t.spec.Command, code)
	}
	return stdout, nil
}

// lastJSONLine returns the last line that looks like a JSON object,
// so commands may print progress before their result.
func lastJSONLine(out string) string {
	lines := strings.Split(strings.TrimSpace(out), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if strings.HasPrefix(line, "{") {
			return line
		}
	}
	return strings.TrimSpace(out)
}
