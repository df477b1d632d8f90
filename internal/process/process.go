package process

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"
)

// OutputHandler receives output lines from the subprocess.
// Implementations can extract metrics, forward lines elsewhere, etc.
type OutputHandler interface {
	HandleLine(source, line string)
}

// LogParser parses a log line and returns the log level and message.
// An empty level means the line is noise and is not logged.
type LogParser func(line string) (level, msg string)

// Exit describes how a subprocess ended.
type Exit struct {
	PID         int
	Code        int
	Intentional bool // ended by Kill rather than on its own
	Err         error
}

// Unexpected reports whether the exit should be treated as a crash.
func (e Exit) Unexpected() bool {
	return !e.Intentional && e.Code != 0
}

// Hooks are invoked from the supervisor goroutines. They must not block for long.
type Hooks struct {
	// OnError reports a fatal I/O error observed on the subprocess pipes.
	OnError func(err error)
	// OnExit runs once, after Done is closed.
	OnExit func(exit Exit)
}

// Process supervises a single subprocess with a writable stdin.
// A Process is started once; create a new one for every spawn.
type Process struct {
	id            string
	binary        string
	args          []string
	logger        *slog.Logger
	processLogger *slog.Logger // logger for process output (nil = use logger)
	logParser     LogParser    // nil = everything at info
	outputHandler OutputHandler
	priority      int
	killTimeout   time.Duration

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	hooks  Hooks
	killed atomic.Bool
	closed atomic.Bool
	done   chan struct{}

	exitMu sync.Mutex
	exit   Exit
}

// NewProcess creates a process that will run binary with args.
func NewProcess(id, binary string, args []string, logger *slog.Logger) *Process {
	return &Process{
		id:          id,
		binary:      binary,
		args:        args,
		logger:      logger,
		killTimeout: 2 * time.Second,
		done:        make(chan struct{}),
	}
}

// SetLogParser sets a custom logger and log parser for process output.
func (p *Process) SetLogParser(logger *slog.Logger, parser LogParser) {
	p.processLogger = logger
	p.logParser = parser
}

// SetOutputHandler sets a handler that sees every output line, including
// lines the log parser drops.
func (p *Process) SetOutputHandler(handler OutputHandler) {
	p.outputHandler = handler
}

// SetPriority requests a nice value for the subprocess. Zero leaves it alone.
func (p *Process) SetPriority(nice int) {
	p.priority = nice
}

// Args returns the argument list the process runs with.
func (p *Process) Args() []string {
	return append([]string(nil), p.args...)
}

// Start spawns the subprocess and attaches the output, error and exit observers.
// It returns as soon as the subprocess exists.
func (p *Process) Start(hooks Hooks) error {
	if p.cmd != nil {
		return fmt.Errorf("process %s already started", p.id)
	}
	if p.binary == "" {
		return errors.New("empty command")
	}

	cmd := exec.Command(p.binary, p.args...)
	setProcAttr(cmd)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", p.binary, err)
	}

	p.cmd = cmd
	p.stdin = stdin
	p.hooks = hooks

	pid := cmd.Process.Pid
	p.logger.Info("Process started", "id", p.id, "pid", pid)

	if p.priority != 0 {
		if err := raisePriority(pid, p.priority); err != nil {
			p.logger.Debug("Could not set process priority", "pid", pid, "priority", p.priority, "error", err)
		}
	}

	outputDone := make(chan struct{}, 2)
	go func() {
		err := p.streamOutput(stdout, "stdout")
		outputDone <- struct{}{}
		p.reportError(err)
	}()
	go func() {
		err := p.streamOutput(stderr, "stderr")
		outputDone <- struct{}{}
		p.reportError(err)
	}()

	go p.wait(outputDone)
	return nil
}

// wait collects the exit status once both output streams are drained.
func (p *Process) wait(outputDone <-chan struct{}) {
	<-outputDone
	<-outputDone

	err := p.cmd.Wait()
	p.closed.Store(true)

	exit := Exit{
		PID:         p.cmd.Process.Pid,
		Code:        exitCodeFromError(err),
		Intentional: p.killed.Load(),
	}
	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		exit.Err = err
	}

	p.exitMu.Lock()
	p.exit = exit
	p.exitMu.Unlock()
	close(p.done)

	p.logger.Info("Process exited", "id", p.id, "pid", exit.PID, "exit_code", exit.Code, "intentional", exit.Intentional)

	if p.hooks.OnExit != nil {
		p.safeCall("exit", func() { p.hooks.OnExit(exit) })
	}
}

// Write writes to the subprocess stdin. It blocks while the pipe is full.
func (p *Process) Write(b []byte) (int, error) {
	if p.stdin == nil {
		return 0, os.ErrClosed
	}
	return p.stdin.Write(b)
}

// Writable reports whether stdin can still accept data.
func (p *Process) Writable() bool {
	return p.stdin != nil && !p.closed.Load()
}

// Kill force-terminates the subprocess and its process group, closes stdin and
// waits for the exit observer to run. Safe to call more than once.
func (p *Process) Kill() {
	if p.cmd == nil || p.cmd.Process == nil {
		return
	}
	if p.killed.Swap(true) {
		p.waitDone()
		return
	}
	p.closed.Store(true)

	select {
	case <-p.done:
		// Already reaped; the pid may belong to someone else now.
		p.stdin.Close()
		return
	default:
	}

	pid := p.cmd.Process.Pid
	if err := killGroup(pid); err != nil {
		if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			p.logger.Warn("Failed to kill process", "pid", pid, "error", err)
		}
	}
	if err := p.stdin.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
		p.logger.Debug("Failed to close stdin", "pid", pid, "error", err)
	}
	p.waitDone()
}

func (p *Process) waitDone() {
	select {
	case <-p.done:
	case <-time.After(p.killTimeout):
		p.logger.Error("Process did not exit after kill signal", "id", p.id)
	}
}

// Done is closed once the subprocess has exited.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// Exit returns the exit status. Only meaningful after Done is closed.
func (p *Process) Exit() Exit {
	p.exitMu.Lock()
	defer p.exitMu.Unlock()
	return p.exit
}

// PID returns the subprocess id or 0 if it never started.
func (p *Process) PID() int {
	if p.cmd == nil || p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

// exitCodeFromError extracts exit code from process error.
// Returns 0 for nil error, the exit code for ExitError (-1 when signalled),
// or 1 for other errors.
func exitCodeFromError(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return 1
}

// reportError hands a fatal pipe error to the OnError hook. It runs after the
// output stream has been accounted for so the hook may call Kill.
func (p *Process) reportError(err error) {
	if err == nil || p.hooks.OnError == nil {
		return
	}
	p.safeCall("error", func() { p.hooks.OnError(err) })
}

// streamOutput logs subprocess output through the configured parser and
// returns a read error unless the process was killed.
func (p *Process) streamOutput(reader io.Reader, source string) error {
	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 0, 4096), 64*1024)
	scanner.Split(scanLines)

	logger := p.processLogger
	if logger == nil {
		logger = p.logger
	}

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}

		if p.outputHandler != nil {
			p.outputHandler.HandleLine(source, line)
		}

		level, msg := "info", line
		if p.logParser != nil {
			level, msg = p.logParser(line)
		}

		switch level {
		case "":
		case "fatal", "panic", "error":
			logger.Error(msg, "pid", p.PID())
		case "warning":
			logger.Warn(msg, "pid", p.PID())
		case "debug", "trace", "verbose":
			logger.Debug(msg, "pid", p.PID())
		default:
			logger.Info(msg, "pid", p.PID())
		}
	}

	if err := scanner.Err(); err != nil && !errors.Is(err, os.ErrClosed) && !p.killed.Load() {
		p.logger.Warn("Error reading output", "source", source, "error", err)
		return fmt.Errorf("read %s: %w", source, err)
	}
	return nil
}

// safeCall runs an observer callback, logging instead of crashing on panic.
func (p *Process) safeCall(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("Process observer panicked", "observer", name, "id", p.id, "panic", r)
		}
	}()
	fn()
}

// scanLines splits on \n or \r so progress lines that ffmpeg rewrites in
// place are delivered one at a time.
func scanLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}
