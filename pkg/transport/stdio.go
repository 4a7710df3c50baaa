package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"

	"github.com/mindburn-labs/mew-gateway/pkg/envelope"
)

// StdioChannel runs a participant as a child process and speaks the wire
// protocol over its stdin/stdout, one newline-delimited JSON envelope per
// line. This is how a local tool server or a scripted agent participates
// without opening a network connection.
type StdioChannel struct {
	cmd    *exec.Cmd
	logger *slog.Logger

	writeMu sync.Mutex
	stdin   io.WriteCloser
	inbound chan *envelope.Envelope

	closeOnce sync.Once
	closed    chan struct{}
	done      chan struct{}
}

// SpawnStdio starts command with args and returns a Channel speaking the
// framed protocol over its pipes. ctx governs the process lifetime: when
// ctx is cancelled, the child is killed.
func SpawnStdio(ctx context.Context, command string, args []string, logger *slog.Logger) (*StdioChannel, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "transport.stdio", "command", command)

	cmd := exec.CommandContext(ctx, command, args...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("transport: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("transport: stdout pipe: %w", err)
	}
	cmd.Stderr = &stderrLogWriter{logger: logger}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("transport: start %s: %w", command, err)
	}

	c := &StdioChannel{
		cmd:     cmd,
		logger:  logger,
		stdin:   stdin,
		inbound: make(chan *envelope.Envelope, 64),
		closed:  make(chan struct{}),
		done:    make(chan struct{}),
	}
	go c.readLoop(stdout)
	go c.wait()
	return c, nil
}

type stderrLogWriter struct{ logger *slog.Logger }

func (w *stderrLogWriter) Write(p []byte) (int, error) {
	w.logger.Warn("child stderr", "output", string(p))
	return len(p), nil
}

func (c *StdioChannel) readLoop(r io.Reader) {
	defer close(c.inbound)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var env envelope.Envelope
		if err := json.Unmarshal(line, &env); err != nil {
			c.logger.Warn("dropping malformed frame", "error", err)
			continue
		}
		select {
		case c.inbound <- &env:
		case <-c.closed:
			return
		}
	}
	if err := scanner.Err(); err != nil {
		c.logger.Debug("stdout scan ended", "error", err)
	}
}

func (c *StdioChannel) wait() {
	defer close(c.done)
	if err := c.cmd.Wait(); err != nil {
		c.logger.Debug("child process exited", "error", err)
	}
}

func (c *StdioChannel) Send(env *envelope.Envelope) error {
	raw, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("transport: marshal envelope: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if _, err := c.stdin.Write(append(raw, '\n')); err != nil {
		return fmt.Errorf("transport: write to child stdin: %w", err)
	}
	return nil
}

func (c *StdioChannel) Inbound() <-chan *envelope.Envelope {
	return c.inbound
}

func (c *StdioChannel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		err = c.stdin.Close()
		_ = c.cmd.Process.Kill()
	})
	return err
}
