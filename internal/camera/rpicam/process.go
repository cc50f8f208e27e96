package rpicam

import (
	"bufio"
	"fmt"
	"io"
	"os/exec"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// process is one running rpicam-vid child.
type process struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser
	done   chan struct{}
	err    error // valid after done is closed
}

func startProcess(binary string, args []string, withStdout bool, logger *zap.Logger) (*process, error) {
	cmd := exec.Command(binary, args...)
	p := &process{cmd: cmd, done: make(chan struct{})}

	if withStdout {
		stdout, err := cmd.StdoutPipe()
		if err != nil {
			return nil, fmt.Errorf("failed to get stdout pipe: %w", err)
		}
		p.stdout = stdout
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to get stderr pipe: %w", err)
	}

	logger.Debug("starting camera process", zap.String("binary", binary), zap.Strings("args", args))
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", binary, err)
	}

	go func() {
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			logger.Debug("rpicam", zap.String("line", scanner.Text()))
		}
	}()
	go func() {
		p.err = cmd.Wait()
		close(p.done)
	}()
	return p, nil
}

// exited reports whether the child is gone.
func (p *process) exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// stop interrupts the child so it can finalise its output, and kills it
// if it has not exited within timeout.
func (p *process) stop(timeout time.Duration, logger *zap.Logger) error {
	if p.exited() {
		return nil
	}
	if p.stdout != nil {
		// unblock the frame reader
		_ = p.stdout.Close()
	}
	_ = p.cmd.Process.Signal(syscall.SIGINT)

	select {
	case <-p.done:
		if p.err != nil {
			logger.Debug("camera process exited with error during shutdown", zap.Error(p.err))
		}
		return nil
	case <-time.After(timeout):
		logger.Warn("camera process did not exit within timeout, killing", zap.Duration("timeout", timeout))
		if err := p.cmd.Process.Kill(); err != nil {
			return fmt.Errorf("failed to kill camera process: %w", err)
		}
		<-p.done
		return nil
	}
}
