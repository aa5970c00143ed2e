package debugger

import (
	"bufio"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const closeGrace = 3 * time.Second

// GDBConfig describes how to launch the debugger process.
type GDBConfig struct {
	Path    string
	Program string
	Args    []string
	Limits  Limits
}

// GDB is a gdb process driven through its MI interpreter.
type GDB struct {
	*MIBridge

	cmd    *exec.Cmd
	group  *errgroup.Group
	logger *zap.Logger

	closeOnce sync.Once
}

// StartGDB launches gdb in MI mode and waits for its first prompt.
// The process outlives ctx; ctx only bounds start-up.
func StartGDB(ctx context.Context, cfg GDBConfig, logger *zap.Logger) (*GDB, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	path := cfg.Path
	if path == "" {
		path = "gdb"
	}
	args := []string{"--interpreter=mi3", "-q", "-nx"}
	args = append(args, cfg.Args...)
	if cfg.Program != "" {
		args = append(args, cfg.Program)
	}

	cmd := exec.Command(path, args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("gdb stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("gdb stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("gdb stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", path, err)
	}
	logger.Info("gdb started", zap.Int("pid", cmd.Process.Pid), zap.String("program", cfg.Program))

	limits := cfg.Limits
	if limits == (Limits{}) {
		limits = DefaultLimits
	}
	bridge := NewMIBridge(stdout, stdin, limits, logger)

	g := &errgroup.Group{}
	stderrDone := make(chan struct{})
	g.Go(func() error {
		defer close(stderrDone)
		sc := bufio.NewScanner(stderr)
		for sc.Scan() {
			logger.Debug("gdb stderr", zap.String("line", sc.Text()))
		}
		return nil
	})
	g.Go(func() error {
		<-bridge.Done()
		<-stderrDone
		return cmd.Wait()
	})

	gdb := &GDB{MIBridge: bridge, cmd: cmd, group: g, logger: logger}
	if err := bridge.WaitReady(ctx); err != nil {
		_ = gdb.Close()
		return nil, fmt.Errorf("gdb did not become ready: %w", err)
	}
	return gdb, nil
}

// Close asks gdb to exit and kills it if it does not leave in time.
func (g *GDB) Close() error {
	var closeErr error
	g.closeOnce.Do(func() {
		if err := g.MIBridge.send("-gdb-exit"); err != nil {
			g.logger.Debug("gdb exit request failed", zap.Error(err))
		}
		closeErr = g.MIBridge.Close()

		waited := make(chan error, 1)
		go func() { waited <- g.group.Wait() }()
		select {
		case err := <-waited:
			g.logExit(err)
		case <-time.After(closeGrace):
			g.logger.Warn("gdb did not exit, killing", zap.Int("pid", g.cmd.Process.Pid))
			_ = g.cmd.Process.Kill()
			g.logExit(<-waited)
		}
	})
	return closeErr
}

func (g *GDB) logExit(err error) {
	if err != nil && !strings.Contains(err.Error(), "signal: killed") {
		g.logger.Debug("gdb exited", zap.Error(err))
		return
	}
	g.logger.Info("gdb exited")
}
