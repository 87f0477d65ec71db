package gate

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"strings"

	"github.com/prometheus/procfs"
)

// Affirmative is the only answer that grants access.
const Affirmative = "okay"

// Prompt is what the person deciding on access is shown.
type Prompt struct {
	DisplayPath  string
	ProcessLabel string
}

// DecisionProvider asks for a decision about one access. Any answer other
// than Affirmative, and any error, is a denial.
type DecisionProvider interface {
	Decide(ctx context.Context, prompt Prompt) (string, error)
}

// ProviderFunc adapts a function to DecisionProvider.
type ProviderFunc func(ctx context.Context, prompt Prompt) (string, error)

// Decide calls f.
func (f ProviderFunc) Decide(ctx context.Context, prompt Prompt) (string, error) {
	return f(ctx, prompt)
}

// DefaultCommand returns where the prompt helper is installed.
func DefaultCommand() string {
	if runtime.GOOS == "darwin" {
		return "/usr/local/bin/manualboxinput"
	}
	return "/usr/bin/manualboxinput"
}

// CommandProvider runs an external helper as
// "<command> <display path> [process label]" and returns its stdout.
type CommandProvider struct {
	Command string
}

// NewCommandProvider returns a provider running command.
func NewCommandProvider(command string) *CommandProvider {
	return &CommandProvider{Command: command}
}

// Decide runs the helper. It is killed if ctx ends first.
func (c *CommandProvider) Decide(ctx context.Context, prompt Prompt) (string, error) {
	args := []string{prompt.DisplayPath}
	if prompt.ProcessLabel != "" {
		args = append(args, prompt.ProcessLabel)
	}

	cmd := exec.CommandContext(ctx, c.Command, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return "", fmt.Errorf("running %s: %w: %s", c.Command, err, msg)
		}
		return "", fmt.Errorf("running %s: %w", c.Command, err)
	}
	return string(out), nil
}

// ProcessLabeler names the process behind a request.
type ProcessLabeler interface {
	ProcessLabel(pid uint32) (string, error)
}

// ProcfsLabeler reads process names from /proc.
type ProcfsLabeler struct {
	fs procfs.FS
}

// NewProcfsLabeler opens the default /proc mount. It fails on systems
// without one.
func NewProcfsLabeler() (*ProcfsLabeler, error) {
	fs, err := procfs.NewDefaultFS()
	if err != nil {
		return nil, fmt.Errorf("opening procfs: %w", err)
	}
	return &ProcfsLabeler{fs: fs}, nil
}

// ProcessLabel returns "<comm> (pid N)".
func (l *ProcfsLabeler) ProcessLabel(pid uint32) (string, error) {
	p, err := l.fs.Proc(int(pid))
	if err != nil {
		return "", fmt.Errorf("looking up pid %d: %w", pid, err)
	}
	comm, err := p.Comm()
	if err != nil {
		return "", fmt.Errorf("reading name of pid %d: %w", pid, err)
	}
	return fmt.Sprintf("%s (pid %d)", comm, pid), nil
}
