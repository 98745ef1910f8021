package daemon

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// defaultKillAfter is how long a terminated child may take to exit before it
// is killed.
const defaultKillAfter = 5 * time.Second

// Launcher starts conversation processes.
type Launcher interface {
	// Launch starts one conversation. Cancelling ctx terminates the child.
	Launch(ctx context.Context) (Child, error)
}

// Child is a running conversation process.
type Child interface {
	// PID returns the operating-system process ID, or 0 if unknown.
	PID() int

	// Poll reports whether the process has exited, and if so its exit error.
	// A clean exit returns (true, nil). Poll never blocks.
	Poll() (exited bool, err error)

	// Terminate asks the process to stop and waits until it has exited.
	Terminate() error
}

// ExecLauncher runs Path with Args as a child process. The child inherits the
// daemon's standard streams and environment.
type ExecLauncher struct {
	Path string
	Args []string

	// KillAfter is how long Terminate waits after SIGTERM before the process
	// is killed. Default: 5s.
	KillAfter time.Duration
}

var _ Launcher = (*ExecLauncher)(nil)

// SelfLauncher returns an [ExecLauncher] that re-executes the running binary
// with args.
func SelfLauncher(args ...string) (*ExecLauncher, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("daemon: locate executable: %w", err)
	}
	return &ExecLauncher{Path: exe, Args: args}, nil
}

// Launch implements [Launcher].
func (l *ExecLauncher) Launch(ctx context.Context) (Child, error) {
	killAfter := l.KillAfter
	if killAfter <= 0 {
		killAfter = defaultKillAfter
	}

	cctx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(cctx, l.Path, l.Args...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Cancel = func() error { return cmd.Process.Signal(syscall.SIGTERM) }
	cmd.WaitDelay = killAfter

	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("daemon: start conversation: %w", err)
	}

	c := &execChild{cmd: cmd, cancel: cancel, done: make(chan struct{})}
	go func() {
		err := cmd.Wait()
		c.mu.Lock()
		c.err = err
		c.mu.Unlock()
		cancel()
		close(c.done)
	}()
	return c, nil
}

// execChild tracks a process started by [ExecLauncher].
type execChild struct {
	cmd    *exec.Cmd
	cancel context.CancelFunc
	done   chan struct{}

	mu  sync.Mutex
	err error
}

func (c *execChild) PID() int { return c.cmd.Process.Pid }

func (c *execChild) Poll() (bool, error) {
	select {
	case <-c.done:
		c.mu.Lock()
		defer c.mu.Unlock()
		return true, c.err
	default:
		return false, nil
	}
}

func (c *execChild) Terminate() error {
	c.cancel()
	<-c.done
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}
