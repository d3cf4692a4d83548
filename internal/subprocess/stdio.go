package subprocess

import (
	"bufio"
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/wagiedev/mcp-client-go/internal/config"
	"github.com/wagiedev/mcp-client-go/internal/errors"
	"github.com/wagiedev/mcp-client-go/internal/framing"
)

const (
	// maxStderrBufferSize is the maximum size for the captured stderr buffer.
	// Stderr reading continues indefinitely (the callback receives all lines),
	// but the buffer stops growing after this limit.
	maxStderrBufferSize = 10 * 1024 * 1024 // 10MB

	// exitReportDelay is how long ReadMessage waits after end of stream for
	// the exit status, so an early peer death can be reported with its code.
	exitReportDelay = time.Second

	// writeAbandonDelay bounds how long a cancelled write waits for the
	// writer goroutine after stdin is closed.
	writeAbandonDelay = time.Second
)

// StdioTransport implements config.Transport over a child process's stdio.
type StdioTransport struct {
	log     *slog.Logger
	command string
	cmd     *exec.Cmd
	framing framing.Mode

	stdin  io.WriteCloser
	stdout *os.File
	reader framing.Reader

	// writeSem serializes frames. It is a channel so a queued writer can
	// give up when its context ends.
	writeSem chan struct{}

	mu          sync.Mutex // Protects the flags below; never held during a write
	stdinClosed bool
	closing     bool // Whether shutdown was requested (exit is expected)

	stderrCallback func(string)
	stderrWg       sync.WaitGroup
	stderrMu       sync.Mutex
	stderrBuffer   strings.Builder

	exited  chan struct{}
	waitErr error

	closeOnce sync.Once
}

// Compile-time verification that StdioTransport implements the Transport interface.
var _ config.Transport = (*StdioTransport)(nil)

// Spawn launches the peer described by opts and returns a connected transport.
//
// Stdin and stdout are always piped. Stderr follows opts.Stderr: inherited by
// default, buffered for diagnostics when captured, or discarded.
//
// Returns CommandNotFoundError if the executable cannot be located, or
// SpawnError if the process fails to start. The context only guards the
// launch; it does not bound the lifetime of the child.
func Spawn(ctx context.Context, log *slog.Logger, opts *config.Options) (*StdioTransport, error) {
	log = log.With("component", "stdio_transport")

	if err := ctx.Err(); err != nil {
		return nil, &errors.SpawnError{Command: opts.Command, Err: err}
	}

	path, err := Lookup(log, opts.Command)
	if err != nil {
		return nil, err
	}

	//nolint:gosec // G204: launching a caller-chosen peer is the point of this package
	cmd := exec.Command(path, opts.Args...)
	cmd.Dir = opts.Dir
	cmd.Env = buildEnvironment(opts.Env)

	t := &StdioTransport{
		log:            log,
		command:        opts.Command,
		cmd:            cmd,
		framing:        opts.Framing,
		stderrCallback: opts.StderrCallback,
		writeSem:       make(chan struct{}, 1),
		exited:         make(chan struct{}),
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, &errors.SpawnError{Command: opts.Command, Err: fmt.Errorf("stdin pipe: %w", err)}
	}

	// Stdout is an os.Pipe we own rather than cmd.StdoutPipe, so cmd.Wait can
	// run as soon as the process starts without racing our reads.
	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		_ = stdin.Close()

		return nil, &errors.SpawnError{Command: opts.Command, Err: fmt.Errorf("stdout pipe: %w", err)}
	}

	cmd.Stdout = stdoutW

	var stderrR, stderrW *os.File

	switch opts.Stderr {
	case config.StderrCapture:
		stderrR, stderrW, err = os.Pipe()
		if err != nil {
			closeAll(stdin, stdoutR, stdoutW)

			return nil, &errors.SpawnError{Command: opts.Command, Err: fmt.Errorf("stderr pipe: %w", err)}
		}

		cmd.Stderr = stderrW
	case config.StderrDiscard:
		cmd.Stderr = nil
	default:
		cmd.Stderr = os.Stderr
	}

	if err := cmd.Start(); err != nil {
		log.Error("Failed to start peer process", "command", path, "error", err)
		closeAll(stdin, stdoutR, stdoutW, stderrR, stderrW)

		return nil, &errors.SpawnError{Command: opts.Command, Err: fmt.Errorf("start process: %w", err)}
	}

	// The child holds its own copies of the write ends.
	_ = stdoutW.Close()

	if stderrW != nil {
		_ = stderrW.Close()
	}

	t.stdin = stdin
	t.stdout = stdoutR
	t.reader = framing.NewReader(opts.Framing, stdoutR, opts.MaxMessageSize)

	if stderrR != nil {
		t.stderrWg.Go(func() {
			t.pumpStderr(stderrR)
		})
	}

	go t.waitProcess()

	log.Info("Peer process started", "command", path, "pid", cmd.Process.Pid, "framing", opts.Framing.String())

	return t, nil
}

// waitProcess reaps the child and records its exit status.
func (t *StdioTransport) waitProcess() {
	err := t.cmd.Wait()

	// Drain captured stderr before publishing the exit so diagnostics are
	// complete. A grandchild may keep the pipe open, so the wait is bounded.
	drained := make(chan struct{})

	go func() {
		t.stderrWg.Wait()
		close(drained)
	}()

	select {
	case <-drained:
	case <-time.After(exitReportDelay):
		t.log.Debug("Stderr still open after peer exit")
	}

	t.waitErr = err
	close(t.exited)

	if err != nil {
		t.log.Debug("Peer process exited", "error", err)
	} else {
		t.log.Debug("Peer process exited cleanly")
	}
}

// pumpStderr copies captured stderr into the diagnostic buffer and callback.
func (t *StdioTransport) pumpStderr(r *os.File) {
	defer r.Close()

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()

		t.stderrMu.Lock()

		if t.stderrBuffer.Len() < maxStderrBufferSize {
			if t.stderrBuffer.Len() > 0 {
				t.stderrBuffer.WriteString("\n")
			}

			t.stderrBuffer.WriteString(line)
		}

		t.stderrMu.Unlock()

		t.log.Debug("Peer stderr", "line", line)

		if t.stderrCallback != nil {
			t.stderrCallback(line)
		}
	}

	// Don't fail - the process may have exited
	if err := scanner.Err(); err != nil {
		t.log.Debug("Stderr scanner error", "error", err)
	}
}

// ReadMessage returns the next complete frame from the peer's stdout.
//
// When the stream ends it returns an error matching errors.ErrEndOfStream.
// If the peer exited unsuccessfully outside of shutdown, the error also
// carries a ProcessError with the exit code and captured stderr.
func (t *StdioTransport) ReadMessage() ([]byte, error) {
	frame, err := t.reader.ReadFrame()
	if err == nil {
		return frame, nil
	}

	if t.isClosing() && (stderrors.Is(err, os.ErrClosed) || stderrors.Is(err, io.EOF)) {
		return nil, errors.ErrEndOfStream
	}

	if !stderrors.Is(err, io.EOF) {
		if stderrors.Is(err, errors.ErrFrameTooLarge) {
			return nil, &errors.ProtocolError{Reason: "read frame", Err: err}
		}

		return nil, &errors.TransportError{Op: "read", Err: err}
	}

	t.log.Debug("Peer closed stdout")

	select {
	case <-t.exited:
	case <-time.After(exitReportDelay):
		return nil, errors.ErrEndOfStream
	}

	if procErr := t.processError(); procErr != nil {
		return nil, fmt.Errorf("%w: %w", errors.ErrEndOfStream, procErr)
	}

	return nil, errors.ErrEndOfStream
}

// processError converts an unexpected non-zero exit into a ProcessError.
// It returns nil for clean exits and for exits caused by shutdown.
func (t *StdioTransport) processError() error {
	if t.waitErr == nil || t.isClosing() {
		return nil
	}

	exitCode := -1
	if exitErr, ok := stderrors.AsType[*exec.ExitError](t.waitErr); ok {
		exitCode = exitErr.ExitCode()
	}

	return &errors.ProcessError{
		ExitCode: exitCode,
		Stderr:   t.Stderr(),
		Err:      t.waitErr,
	}
}

// WriteMessage writes one framed message to the peer's stdin.
//
// Writes are serialized so concurrent callers never interleave frames, and
// the frame is written with a single Write call. If ctx ends while a write is
// queued or blocked, the call returns ctx.Err(); a blocked write also closes
// stdin, since a partial frame leaves the stream unusable, and later calls
// return ErrStdinClosed. CloseStdin, Wait and Close never wait for an
// in-flight write.
func (t *StdioTransport) WriteMessage(ctx context.Context, data []byte) error {
	select {
	case t.writeSem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-t.writeSem }()

	t.mu.Lock()
	stdin, stdinClosed := t.stdin, t.stdinClosed
	t.mu.Unlock()

	if stdin == nil {
		return errors.ErrTransportNotConnected
	}

	if stdinClosed {
		return errors.ErrStdinClosed
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	frame := framing.Encode(t.framing, data)

	// Write in goroutine to respect context cancellation
	done := make(chan error, 1)

	go func() {
		_, err := stdin.Write(frame)
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			if t.isStdinClosed() {
				t.log.Debug("Write interrupted by stdin close", "error", err)

				return errors.ErrStdinClosed
			}

			t.log.Error("Failed to write message to peer", "error", err)

			return &errors.TransportError{Op: "write", Err: err}
		}

		t.log.Debug("Message sent", "bytes", len(frame))

		return nil

	case <-ctx.Done():
		t.log.Debug("Context ended during write, closing stdin", "bytes", len(frame))

		if err := t.CloseStdin(); err != nil {
			t.log.Debug("Close stdin after abandoned write failed", "error", err)
		}

		select {
		case <-done:
		case <-time.After(writeAbandonDelay):
			t.log.Warn("Write goroutine did not exit after stdin close, potential leak")
		}

		return ctx.Err()
	}
}

// CloseStdin closes the peer's stdin to signal end of input.
// A well-behaved peer exits once it has answered what it already read.
func (t *StdioTransport) CloseStdin() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.closeStdinLocked()
}

func (t *StdioTransport) closeStdinLocked() error {
	if t.stdin == nil || t.stdinClosed {
		return nil
	}

	t.log.Debug("Closing stdin pipe")

	t.stdinClosed = true

	err := t.stdin.Close()
	if err != nil && !stderrors.Is(err, os.ErrClosed) {
		return fmt.Errorf("close stdin: %w", err)
	}

	return nil
}

// Wait performs the graceful shutdown sequence: close stdin, wait up to grace
// for the peer to exit, then kill it. It returns a ProcessError only when the
// peer exited on its own with a failure status.
func (t *StdioTransport) Wait(grace time.Duration) error {
	t.mu.Lock()
	t.closing = true
	closeErr := t.closeStdinLocked()
	t.mu.Unlock()

	if closeErr != nil {
		t.log.Debug("Close stdin failed during shutdown", "error", closeErr)
	}

	var procErr error

	select {
	case <-t.exited:
		procErr = t.exitError()
	case <-time.After(grace):
		t.log.Warn("Peer did not exit within grace period, killing", "grace", grace, "pid", t.Pid())
		t.kill()
		<-t.exited
	}

	t.releaseStdout()

	return procErr
}

// Close kills the peer immediately. It's safe to call Close multiple times
// or after the process has already exited.
func (t *StdioTransport) Close() error {
	t.mu.Lock()
	t.closing = true
	_ = t.closeStdinLocked()
	t.mu.Unlock()

	t.kill()
	<-t.exited
	t.releaseStdout()

	return nil
}

func (t *StdioTransport) kill() {
	if t.cmd.Process == nil {
		return
	}

	t.log.Debug("Killing peer process", "pid", t.cmd.Process.Pid)

	if err := t.cmd.Process.Kill(); err != nil && !stderrors.Is(err, os.ErrProcessDone) {
		t.log.Warn("Kill peer process failed", "pid", t.cmd.Process.Pid, "error", err)
	}
}

// releaseStdout closes our read end so a reader blocked on a pipe still held
// open by a grandchild returns.
func (t *StdioTransport) releaseStdout() {
	t.closeOnce.Do(func() {
		_ = t.stdout.Close()
	})
}

// exitError reports a failed exit that happened after stdin was closed.
func (t *StdioTransport) exitError() error {
	if t.waitErr == nil {
		return nil
	}

	exitErr, ok := stderrors.AsType[*exec.ExitError](t.waitErr)
	if !ok {
		return t.waitErr
	}

	// Terminated by a signal we did not send: still a failure worth reporting.
	return &errors.ProcessError{
		ExitCode: exitErr.ExitCode(),
		Stderr:   t.Stderr(),
		Err:      t.waitErr,
	}
}

func (t *StdioTransport) isClosing() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.closing
}

func (t *StdioTransport) isStdinClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.stdinClosed
}

// Exited returns a channel closed once the peer process has been reaped.
func (t *StdioTransport) Exited() <-chan struct{} {
	return t.exited
}

// Pid returns the peer's process id.
func (t *StdioTransport) Pid() int {
	if t.cmd.Process == nil {
		return 0
	}

	return t.cmd.Process.Pid
}

// Stderr returns captured stderr output. It is empty unless the transport was
// spawned with config.StderrCapture.
func (t *StdioTransport) Stderr() string {
	t.stderrMu.Lock()
	defer t.stderrMu.Unlock()

	return strings.TrimSpace(t.stderrBuffer.String())
}

func closeAll(closers ...io.Closer) {
	for _, c := range closers {
		if c == nil {
			continue
		}

		if f, ok := c.(*os.File); ok && f == nil {
			continue
		}

		_ = c.Close()
	}
}
