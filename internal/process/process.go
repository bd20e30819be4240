package process

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/smazurov/lspvisor/internal/logging"
)

// LogParser parses a log line and returns the log level and message.
// Used to extract structured log info from the child's stderr.
type LogParser func(line string) (level, msg string)

// ErrEmptyCommand is returned by Start when Spec.Command is empty.
var ErrEmptyCommand = errors.New("empty command")

// Spec describes the child to spawn.
type Spec struct {
	Command string
	Args    []string
	Dir     string
	Env     []string // appended to the parent environment
}

// Options tunes how a child is observed.
type Options struct {
	// Logger receives lifecycle messages. Required.
	Logger logging.Logger
	// OutputLogger receives stderr lines. Defaults to Logger.
	OutputLogger logging.Logger
	// LogParser classifies stderr lines. Nil logs every line at info.
	LogParser LogParser
	// KillTimeout bounds the wait after SIGKILL in Terminate. Default 5s.
	KillTimeout time.Duration
}

// Process is a running child with its stdio wired to pipes owned by the
// parent. Stdin and Stdout carry the child's protocol; stderr is logged.
type Process struct {
	cmd    *exec.Cmd
	logger logging.Logger

	// Stdin writes to the child; Stdout reads from it.
	Stdin  io.WriteCloser
	Stdout io.ReadCloser
	stderr *os.File

	killTimeout time.Duration
	done        chan struct{}
	waitErr     error
	closeOnce   sync.Once
}

// Start spawns the child in its own process group.
//
// The pipes are created here rather than with exec.Cmd's pipe helpers so
// that cmd.Wait never closes the read ends: a reader still draining the
// final bytes of stdout is not cut off when the child exits.
func Start(spec Spec, opts Options) (*Process, error) {
	if spec.Command == "" {
		return nil, ErrEmptyCommand
	}

	stdinR, stdinW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		closeAll(stdinR, stdinW)
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		closeAll(stdinR, stdinW, stdoutR, stdoutW)
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}

	cmd := exec.Command(spec.Command, spec.Args...)
	cmd.Dir = spec.Dir
	if len(spec.Env) > 0 {
		cmd.Env = append(os.Environ(), spec.Env...)
	}
	cmd.Stdin = stdinR
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		closeAll(stdinR, stdinW, stdoutR, stdoutW, stderrR, stderrW)
		return nil, err
	}
	// The child holds its own copies now.
	closeAll(stdinR, stdoutW, stderrW)

	p := &Process{
		cmd:         cmd,
		logger:      opts.Logger,
		Stdin:       stdinW,
		Stdout:      stdoutR,
		stderr:      stderrR,
		killTimeout: opts.KillTimeout,
		done:        make(chan struct{}),
	}
	if p.killTimeout <= 0 {
		p.killTimeout = 5 * time.Second
	}

	p.logger.Info("Process started", "pid", cmd.Process.Pid, "command", spec.Command, "args", spec.Args, "dir", spec.Dir)

	outputLogger := opts.OutputLogger
	if outputLogger == nil {
		outputLogger = opts.Logger
	}
	go p.streamOutput(stderrR, outputLogger, opts.LogParser)

	go func() {
		p.waitErr = cmd.Wait()
		code := exitCodeFromError(p.waitErr)
		if p.waitErr != nil && code == 1 {
			p.logger.Error("Process exited with error", "pid", cmd.Process.Pid, "error", p.waitErr)
		} else {
			p.logger.Info("Process exited", "pid", cmd.Process.Pid, "exit_code", code)
		}
		close(p.done)
	}()

	return p, nil
}

// PID returns the child's process id.
func (p *Process) PID() int {
	return p.cmd.Process.Pid
}

// Done is closed once the child has exited and been reaped.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// Exited reports whether the child has exited.
func (p *Process) Exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// Err returns the wait error. Only meaningful after Done is closed.
func (p *Process) Err() error {
	<-p.done
	return p.waitErr
}

// ExitCode blocks until exit and returns the exit code.
func (p *Process) ExitCode() int {
	return exitCodeFromError(p.Err())
}

// Signal delivers sig to the child's whole process group. The group may
// outlive the child when it forked helpers.
func (p *Process) Signal(sig syscall.Signal) error {
	if err := syscall.Kill(-p.cmd.Process.Pid, sig); err != nil {
		if errors.Is(err, syscall.ESRCH) {
			return os.ErrProcessDone
		}
		return err
	}
	return nil
}

// Interrupt sends SIGINT to the process group without waiting.
func (p *Process) Interrupt() {
	p.logger.Info("Sending SIGINT to process", "pid", p.PID())
	if err := p.Signal(syscall.SIGINT); err != nil && !errors.Is(err, os.ErrProcessDone) {
		p.logger.Warn("Failed to send SIGINT", "error", err)
	}
}

// Kill sends SIGKILL to the process group without waiting.
func (p *Process) Kill() {
	if err := p.Signal(syscall.SIGKILL); err != nil && !errors.Is(err, os.ErrProcessDone) {
		p.logger.Error("Failed to kill process", "pid", p.PID(), "error", err)
	}
}

// Terminate interrupts the child and waits up to grace for it to exit,
// then force-kills it. Returns the exit code, 137 when killed.
func (p *Process) Terminate(grace time.Duration) int {
	p.Interrupt()
	select {
	case <-p.done:
		return exitCodeFromError(p.waitErr)
	case <-time.After(grace):
	}

	p.logger.Warn("Graceful shutdown timeout, forcing kill", "pid", p.PID(), "timeout", grace)
	p.Kill()
	select {
	case <-p.done:
	case <-time.After(p.killTimeout):
		p.logger.Error("Process did not exit after kill signal", "pid", p.PID())
	}
	return 137
}

// Close releases the parent's pipe ends. It does not signal the child.
// Safe to call more than once.
func (p *Process) Close() error {
	var err error
	p.closeOnce.Do(func() {
		err = errors.Join(p.Stdin.Close(), p.Stdout.Close(), p.stderr.Close())
	})
	return err
}

// exitCodeFromError extracts exit code from process error.
// Returns 0 for nil error, the exit code for ExitError, or 1 for other errors.
func exitCodeFromError(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if code := exitErr.ExitCode(); code >= 0 {
			return code
		}
		// Killed by a signal.
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok && status.Signaled() {
			return 128 + int(status.Signal())
		}
	}
	return 1
}

// streamOutput logs each stderr line at the level the parser reports.
func (p *Process) streamOutput(reader io.Reader, logger logging.Logger, parser LogParser) {
	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		level, msg := "info", scanner.Text()
		if parser != nil {
			level, msg = parser(msg)
		}

		switch level {
		case "fatal", "critical", "error":
			logger.Error(msg)
		case "warning", "warn":
			logger.Warn(msg)
		case "debug", "trace":
			logger.Debug(msg)
		default:
			logger.Info(msg)
		}
	}

	if err := scanner.Err(); err != nil && !errors.Is(err, os.ErrClosed) {
		p.logger.Warn("Error reading output", "source", "stderr", "error", err)
	}
}

func closeAll(files ...*os.File) {
	for _, f := range files {
		_ = f.Close()
	}
}
