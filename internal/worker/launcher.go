package worker

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync/atomic"
	"time"
)

// Proc is one running copy-tool subprocess.
type Proc interface {
	PID() int
	// Wait blocks until the process exits and returns its exit code.
	Wait() (int, error)
	// LastOutput returns the last time the process produced output; the
	// health monitor uses it as a liveness heartbeat.
	LastOutput() time.Time
	// Stop terminates the process, waiting up to grace for it to exit
	// before reporting failure. It is safe to call on an exited process.
	Stop(grace time.Duration) error
}

// Launcher spawns copy workers. The exec implementation runs the real copy
// tool; tests substitute a fake.
type Launcher interface {
	Launch(ctx context.Context, spec Spec) (Proc, error)
}

// ExecLauncher launches the configured copy tool via os/exec.
type ExecLauncher struct {
	Tool string
}

func NewExecLauncher() *ExecLauncher {
	return &ExecLauncher{Tool: "robocopy"}
}

func (l *ExecLauncher) Launch(ctx context.Context, spec Spec) (Proc, error) {
	cmd := exec.CommandContext(ctx, l.Tool, BuildArgs(spec)...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("Launch: error opening stdout pipe -> %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("Launch: error opening stderr pipe -> %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("Launch: error starting %s -> %w", l.Tool, err)
	}

	p := &execProc{cmd: cmd}
	p.lastOutput.Store(time.Now().UnixNano())
	p.waitDone = make(chan struct{})

	go p.pump(stdout)
	go p.pump(stderr)
	go func() {
		p.waitErr = cmd.Wait()
		close(p.waitDone)
	}()

	return p, nil
}

type execProc struct {
	cmd        *exec.Cmd
	lastOutput atomic.Int64

	waitDone chan struct{}
	waitErr  error
}

func (p *execProc) PID() int {
	if p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

func (p *execProc) pump(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		p.lastOutput.Store(time.Now().UnixNano())
	}
}

func (p *execProc) LastOutput() time.Time {
	return time.Unix(0, p.lastOutput.Load())
}

func (p *execProc) Wait() (int, error) {
	<-p.waitDone

	if p.waitErr == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(p.waitErr, &exitErr) {
		return exitErr.ExitCode(), nil
	}
	return -1, fmt.Errorf("Wait: copy tool wait failed -> %w", p.waitErr)
}

func (p *execProc) Stop(grace time.Duration) error {
	if p.cmd.Process == nil {
		return nil
	}

	select {
	case <-p.waitDone:
		return nil
	default:
	}

	if err := p.cmd.Process.Kill(); err != nil {
		// Already exited between the check and the kill.
		select {
		case <-p.waitDone:
			return nil
		default:
		}
		return fmt.Errorf("Stop: error killing pid %d -> %w", p.PID(), err)
	}

	select {
	case <-p.waitDone:
		return nil
	case <-time.After(grace):
		return fmt.Errorf("Stop: pid %d did not exit within %s after kill", p.PID(), grace)
	}
}
