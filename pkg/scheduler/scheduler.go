// Package scheduler hands generated array-job scripts to the scheduler
// client, either on this host or relayed to a login node over ssh.
package scheduler

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/kballard/go-shellquote"
	"go.uber.org/zap"
)

// ArrayRequest identifies one array-job submission.
type ArrayRequest struct {
	// SubmissionScript pipes the array definition into qsub.
	SubmissionScript string
	// TasksFile holds one command per line.
	TasksFile string
	// BatchSize is the array step.
	BatchSize int
}

func (r ArrayRequest) args() ([]string, error) {
	if strings.TrimSpace(r.SubmissionScript) == "" {
		return nil, fmt.Errorf("submission script is required")
	}
	if strings.TrimSpace(r.TasksFile) == "" {
		return nil, fmt.Errorf("tasks file is required")
	}
	batch := r.BatchSize
	if batch < 1 {
		batch = 1
	}
	return []string{"bash", r.SubmissionScript, r.TasksFile, strconv.Itoa(batch)}, nil
}

// Scheduler submits array jobs and returns the client's stdout.
type Scheduler interface {
	SubmitArray(ctx context.Context, req ArrayRequest) (string, error)
}

// TransportError reports a failed scheduler invocation.
type TransportError struct {
	Command []string
	Stderr  string
	Err     error
}

func (e *TransportError) Error() string {
	msg := fmt.Sprintf("scheduler submission failed: %s: %v", shellquote.Join(e.Command...), e.Err)
	if s := strings.TrimSpace(e.Stderr); s != "" {
		msg += ": " + s
	}
	return msg
}

func (e *TransportError) Unwrap() error { return e.Err }

// Runner executes a command and returns its stdout and stderr.
type Runner func(ctx context.Context, name string, args ...string) (stdout, stderr string, err error)

// ExecRunner runs commands with os/exec.
func ExecRunner(ctx context.Context, name string, args ...string) (string, string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.String(), stderr.String(), err
}

// Local runs the submission script on this host.
type Local struct {
	Run    Runner
	Logger *zap.Logger
}

func NewLocal(logger *zap.Logger) *Local {
	return &Local{Run: ExecRunner, Logger: logger}
}

func (l *Local) SubmitArray(ctx context.Context, req ArrayRequest) (string, error) {
	argv, err := req.args()
	if err != nil {
		return "", err
	}
	return invoke(ctx, l.Run, l.Logger, argv)
}

// Remote relays the submission through ssh.
type Remote struct {
	Host      string
	SSHBinary string
	// Options are extra ssh arguments placed before the host.
	Options []string
	Run     Runner
	Logger  *zap.Logger
}

func NewRemote(host, sshBinary string, logger *zap.Logger) *Remote {
	return &Remote{Host: host, SSHBinary: sshBinary, Run: ExecRunner, Logger: logger}
}

// Command is the local argv that relays req to the remote host. The remote
// command is a single shell-quoted argument because ssh re-joins its args
// into a string for the remote shell.
func (r *Remote) Command(req ArrayRequest) ([]string, error) {
	host := strings.TrimSpace(r.Host)
	if host == "" {
		return nil, fmt.Errorf("remote host is required")
	}
	remote, err := req.args()
	if err != nil {
		return nil, err
	}
	ssh := strings.TrimSpace(r.SSHBinary)
	if ssh == "" {
		ssh = "ssh"
	}
	argv := []string{ssh}
	argv = append(argv, r.Options...)
	argv = append(argv, host, shellquote.Join(remote...))
	return argv, nil
}

func (r *Remote) SubmitArray(ctx context.Context, req ArrayRequest) (string, error) {
	argv, err := r.Command(req)
	if err != nil {
		return "", err
	}
	return invoke(ctx, r.Run, r.Logger, argv)
}

func invoke(ctx context.Context, run Runner, logger *zap.Logger, argv []string) (string, error) {
	if run == nil {
		run = ExecRunner
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Debug("Invoking scheduler", zap.Strings("argv", argv))

	stdout, stderr, err := run(ctx, argv[0], argv[1:]...)
	if err != nil {
		return stdout, &TransportError{Command: argv, Stderr: stderr, Err: err}
	}
	return stdout, nil
}
