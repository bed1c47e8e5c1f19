package alert

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"

	"go.uber.org/zap"
)

// ExecPlayer plays tones by starting an external command with the tone file
// as its last argument. Play returns as soon as the process has started.
type ExecPlayer struct {
	command string
	args    []string
	logger  *zap.SugaredLogger

	mu  sync.Mutex
	cmd *exec.Cmd
}

// NewExecPlayer creates a player; an empty command defaults to "aplay -q"
func NewExecPlayer(command string, args []string, logger *zap.SugaredLogger) *ExecPlayer {
	if command == "" {
		command = "aplay"
		args = []string{"-q"}
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &ExecPlayer{command: command, args: args, logger: logger}
}

// Play stops anything running and starts the tone
func (p *ExecPlayer) Play(tone string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.killLocked()

	args := append(append([]string(nil), p.args...), tone)
	cmd := exec.Command(p.command, args...)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", p.command, err)
	}
	p.cmd = cmd

	go func() {
		err := cmd.Wait()

		p.mu.Lock()
		if p.cmd == cmd {
			p.cmd = nil
		}
		p.mu.Unlock()

		var exitErr *exec.ExitError
		if err != nil && !errors.As(err, &exitErr) {
			p.logger.Debugw("player exited", "error", err)
		}
	}()
	return nil
}

// Stop kills the running tone, if any
func (p *ExecPlayer) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.killLocked()
}

// Playing reports whether a player process is still running
func (p *ExecPlayer) Playing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cmd != nil
}

func (p *ExecPlayer) killLocked() error {
	if p.cmd == nil || p.cmd.Process == nil {
		return nil
	}
	cmd := p.cmd
	p.cmd = nil
	if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("kill player: %w", err)
	}
	return nil
}

// LogPlayer only logs; used when audio output is disabled
type LogPlayer struct {
	Logger *zap.SugaredLogger
}

// Play implements Player
func (p LogPlayer) Play(tone string) error {
	if p.Logger != nil {
		p.Logger.Infow("alert tone (muted)", "tone", tone)
	}
	return nil
}

// Stop implements Player
func (p LogPlayer) Stop() error { return nil }
