package debugger

import (
	"bufio"
	"context"
	"io"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"
)

type phase int

const (
	awaitResult phase = iota
	awaitStop
	awaitPrompt
)

// MIBridge drives a GDB/MI peer over a reader/writer pair. Each console
// command is wrapped in -interpreter-exec so the CLI output is captured.
type MIBridge struct {
	w      io.Writer
	r      io.Reader
	limits Limits
	logger *zap.Logger

	mu    sync.Mutex
	token int

	lines     chan string
	done      chan struct{}
	closing   chan struct{}
	closeOnce sync.Once
	readErr   error
}

// NewMIBridge starts reading MI records from r. Commands are written to w.
func NewMIBridge(r io.Reader, w io.Writer, limits Limits, logger *zap.Logger) *MIBridge {
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &MIBridge{
		w:       w,
		r:       r,
		limits:  limits,
		logger:  logger,
		lines:   make(chan string, 256),
		done:    make(chan struct{}),
		closing: make(chan struct{}),
	}
	go b.readLoop()
	return b
}

func (b *MIBridge) readLoop() {
	defer close(b.done)
	sc := bufio.NewScanner(b.r)
	sc.Buffer(make([]byte, 64*1024), 8*1024*1024)
	for sc.Scan() {
		select {
		case b.lines <- sc.Text():
		case <-b.closing:
			return
		}
	}
	b.readErr = sc.Err()
}

// Done is closed once the MI output stream has ended.
func (b *MIBridge) Done() <-chan struct{} { return b.done }

func (b *MIBridge) next(ctx context.Context) (string, error) {
	select {
	case line := <-b.lines:
		return line, nil
	default:
	}
	select {
	case line := <-b.lines:
		return line, nil
	case <-b.done:
		select {
		case line := <-b.lines:
			return line, nil
		default:
		}
		if b.readErr != nil {
			return "", b.readErr
		}
		return "", ErrExited
	case <-b.closing:
		return "", ErrClosed
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (b *MIBridge) isClosed() bool {
	select {
	case <-b.closing:
		return true
	default:
		return false
	}
}

// WaitReady consumes start-up output up to the first prompt.
func (b *MIBridge) WaitReady(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for {
		line, err := b.next(ctx)
		if err != nil {
			return &SessionError{Err: err}
		}
		rec := parseRecord(line)
		switch rec.kind {
		case kindPrompt:
			return nil
		case kindLog:
			b.logger.Debug("gdb startup", zap.String("text", strings.TrimSpace(rec.text)))
		}
	}
}

// Execute runs one console command and collects its output until the
// debugger is ready for the next one. Execution commands such as "run"
// wait for the inferior to stop.
func (b *MIBridge) Execute(ctx context.Context, command string) (Output, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.isClosed() {
		return Output{}, &SessionError{Command: command, Err: ErrClosed}
	}

	b.token++
	tok := strconv.Itoa(b.token)
	line := tok + "-interpreter-exec console " + quoteCString(command) + "\n"
	if _, err := io.WriteString(b.w, line); err != nil {
		return Output{}, &SessionError{Command: command, Err: err}
	}
	b.logger.Debug("mi command sent", zap.String("token", tok), zap.String("command", command))

	var stdout, stderr strings.Builder
	state := awaitResult
	for {
		raw, err := b.next(ctx)
		if err != nil {
			return limitOutput(Output{Stdout: stdout.String(), Stderr: stderr.String()}, b.limits),
				&SessionError{Command: command, Err: err}
		}
		rec := parseRecord(raw)
		switch rec.kind {
		case kindConsole, kindTarget:
			stdout.WriteString(rec.text)
		case kindLog:
			stderr.WriteString(rec.text)
		case kindRaw:
			stdout.WriteString(rec.text)
			stdout.WriteByte('\n')
		case kindResult:
			if rec.token != "" && rec.token != tok {
				b.logger.Debug("stale mi result", zap.String("token", rec.token), zap.String("want", tok))
				continue
			}
			switch rec.class {
			case "error":
				msg := resultField(rec.results, "msg")
				if msg != "" && !strings.Contains(stderr.String(), msg) {
					if stderr.Len() > 0 && !strings.HasSuffix(stderr.String(), "\n") {
						stderr.WriteByte('\n')
					}
					stderr.WriteString(msg)
					stderr.WriteByte('\n')
				}
				state = awaitPrompt
			case "running":
				state = awaitStop
			case "exit":
				return limitOutput(Output{Stdout: stdout.String(), Stderr: stderr.String()}, b.limits),
					&SessionError{Command: command, Err: ErrExited}
			default:
				state = awaitPrompt
			}
		case kindExecAsync:
			if rec.class == "stopped" && state == awaitStop {
				state = awaitPrompt
			}
		case kindPrompt:
			if state == awaitPrompt {
				return limitOutput(Output{Stdout: stdout.String(), Stderr: stderr.String()}, b.limits), nil
			}
		}
	}
}

// Close stops the reader and closes both ends of the MI stream.
func (b *MIBridge) Close() error {
	var firstErr error
	b.closeOnce.Do(func() {
		close(b.closing)
		if c, ok := b.w.(io.Closer); ok {
			if err := c.Close(); err != nil {
				firstErr = err
			}
		}
		if c, ok := b.r.(io.Closer); ok {
			if err := c.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	})
	return firstErr
}

// send writes a raw MI command without waiting for its result.
func (b *MIBridge) send(line string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.isClosed() {
		return ErrClosed
	}
	_, err := io.WriteString(b.w, line+"\n")
	return err
}
