package engine

import (
	"bufio"
	"os"
	"os/exec"
	"strings"
	"sync/atomic"
	"time"

	"github.com/crzyc98/planwise-navigator-sub000/internal/faults"
	"github.com/crzyc98/planwise-navigator-sub000/internal/logging"
)

// Line buffer sizing for the output scanner. Engine summary rows can run
// long; a megabyte per line is comfortably past anything observed.
const (
	scannerInitialBuf = 64 * 1024
	scannerMaxBuf     = 1024 * 1024
)

// LaunchSpec describes one simulator invocation.
type LaunchSpec struct {
	Command string
	Args    []string
	Dir     string
	Env     []string // appended to the inherited environment
}

// Proc is a running simulator process. stdout and stderr are merged at the
// pipe level, so Lines carries both in arrival order.
type Proc struct {
	cmd   *exec.Cmd
	lines chan string

	exited   chan struct{}
	exitCode int
	waitErr  error

	terminating atomic.Bool
	grace       time.Duration
}

// Launch starts the simulator. The returned Proc streams output until the
// process exits, at which point Lines closes and Wait unblocks.
func Launch(spec LaunchSpec, grace time.Duration) (*Proc, error) {
	if spec.Command == "" {
		return nil, faults.New(faults.Launch, "no simulator command configured")
	}
	if grace <= 0 {
		grace = 5 * time.Second
	}

	cmd := exec.Command(spec.Command, spec.Args...)
	cmd.Dir = spec.Dir
	if len(spec.Env) > 0 {
		cmd.Env = append(os.Environ(), spec.Env...)
	}
	setupProcessGroup(cmd)

	// One pipe for both streams keeps interleaving exactly as the child
	// wrote it.
	pr, pw, err := os.Pipe()
	if err != nil {
		return nil, faults.Wrap(faults.Launch, err, "failed to create output pipe")
	}
	cmd.Stdout = pw
	cmd.Stderr = pw

	if err := cmd.Start(); err != nil {
		pr.Close()
		pw.Close()
		return nil, faults.Wrap(faults.Launch, err, "failed to start %s", spec.Command)
	}
	// The child holds its own copy of the write end. Closing ours lets the
	// reader see EOF when the child exits.
	pw.Close()

	p := &Proc{
		cmd:    cmd,
		lines:  make(chan string, 64),
		exited: make(chan struct{}),
		grace:  grace,
	}
	logging.Engine("launched %s (pid %d) in %s", spec.Command, cmd.Process.Pid, spec.Dir)

	go p.readLines(pr)
	go p.reap()

	return p, nil
}

// readLines scans the merged stream into the line channel. Invalid UTF-8 is
// replaced rather than dropped, matching how the engine's own logs behave.
func (p *Proc) readLines(pr *os.File) {
	defer close(p.lines)
	defer pr.Close()

	scanner := bufio.NewScanner(pr)
	scanner.Buffer(make([]byte, scannerInitialBuf), scannerMaxBuf)
	for scanner.Scan() {
		p.lines <- strings.ToValidUTF8(scanner.Text(), "�")
	}
	if err := scanner.Err(); err != nil {
		logging.EngineWarn("output stream ended early: %v", err)
	}
}

// reap is the single caller of cmd.Wait.
func (p *Proc) reap() {
	err := p.cmd.Wait()
	if err == nil {
		p.exitCode = 0
	} else if exitErr, ok := err.(*exec.ExitError); ok {
		// Signal death reports -1, which counts as non-zero downstream.
		p.exitCode = exitErr.ExitCode()
	} else {
		p.exitCode = -1
		p.waitErr = err
	}
	close(p.exited)
}

// Lines returns the merged output channel. It closes when the stream ends.
func (p *Proc) Lines() <-chan string { return p.lines }

// PID returns the child process id.
func (p *Proc) PID() int {
	if p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

// Terminate asks the process group to stop, then hard-kills whatever is
// still alive after the grace window. Safe to call more than once; only the
// first call acts.
func (p *Proc) Terminate() {
	if !p.terminating.CompareAndSwap(false, true) {
		return
	}
	select {
	case <-p.exited:
		return // already gone
	default:
	}

	logging.Engine("terminating pid %d (grace %s)", p.PID(), p.grace)
	signalTerminate(p.cmd)

	select {
	case <-p.exited:
	case <-time.After(p.grace):
		logging.EngineWarn("pid %d survived the grace window, killing", p.PID())
		killProcessTree(p.cmd)
	}
}

// Wait blocks until the process exits and returns its exit code. Idempotent:
// every call returns the same code.
func (p *Proc) Wait() int {
	<-p.exited
	return p.exitCode
}

// WaitErr reports a non-exit error from process reaping, if any.
func (p *Proc) WaitErr() error {
	<-p.exited
	return p.waitErr
}
