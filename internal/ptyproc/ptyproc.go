// Package ptyproc owns a single child process behind a pseudo-terminal
// (spec.md §4.1 "PTY Handle"). It is grounded on the teacher's
// Instance.startAgent/destroy pair in internal/daemon/instance.go: a
// dedicated reader goroutine drains the PTY, the process is killed through
// its process group, and exit is observed once via a background Wait.
package ptyproc

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/creack/pty"
)

// ErrWouldBlock is returned by Write when the soft cap on queued,
// not-yet-written output has been exceeded. Callers should back off and
// retry rather than block the caller's goroutine.
var ErrWouldBlock = errors.New("ptyproc: write queue full")

// ErrExited is returned by Write/Resize once the child has exited.
var ErrExited = errors.New("ptyproc: process has exited")

// maxPendingWriteBytes bounds how much unwritten input a Handle will queue
// before it starts rejecting writes with ErrWouldBlock.
const maxPendingWriteBytes = 1 << 20

// killGrace is how long Kill waits after SIGTERM before escalating to
// SIGKILL (spec.md §4.1; the teacher skips the grace period entirely —
// see this repo's REDESIGN FLAGS).
const killGrace = 500 * time.Millisecond

// Handle owns one child process and its PTY master end.
type Handle struct {
	cmd  *exec.Cmd
	ptmx *os.File

	outputCh chan []byte
	writeCh  chan []byte
	doneCh   chan struct{}

	queuedBytes int64

	mu       sync.Mutex
	exited   bool
	exitErr  error
	exitedAt time.Time
}

// Spawn starts command with args in dir using env, attached to a new PTY of
// the given size, and begins draining its output in the background.
func Spawn(command string, args []string, dir string, env []string, rows, cols uint16) (*Handle, error) {
	cmd := exec.Command(command, args...)
	cmd.Dir = dir
	cmd.Env = env
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Rows: rows, Cols: cols})
	if err != nil {
		return nil, fmt.Errorf("start pty: %w", err)
	}

	h := &Handle{
		cmd:      cmd,
		ptmx:     ptmx,
		outputCh: make(chan []byte, 256),
		writeCh:  make(chan []byte, 256),
		doneCh:   make(chan struct{}),
	}

	go h.readLoop()
	go h.writeLoop()
	go h.waitLoop()

	return h, nil
}

func (h *Handle) readLoop() {
	buf := make([]byte, 4096)
	for {
		n, err := h.ptmx.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			select {
			case h.outputCh <- chunk:
			case <-h.doneCh:
				return
			}
		}
		if err != nil {
			return
		}
	}
}

func (h *Handle) writeLoop() {
	for {
		select {
		case data := <-h.writeCh:
			h.ptmx.Write(data)
			atomic.AddInt64(&h.queuedBytes, -int64(len(data)))
		case <-h.doneCh:
			return
		}
	}
}

func (h *Handle) waitLoop() {
	err := h.cmd.Wait()
	h.mu.Lock()
	h.exited = true
	h.exitErr = err
	h.exitedAt = time.Now()
	h.mu.Unlock()
	close(h.doneCh)
	h.ptmx.Close()
}

// TryRead returns the next buffered output chunk, if any, without blocking.
func (h *Handle) TryRead() ([]byte, bool) {
	select {
	case chunk := <-h.outputCh:
		return chunk, true
	default:
		return nil, false
	}
}

// Write queues data to be written to the child's stdin. It returns
// ErrWouldBlock if the soft cap on queued bytes is exceeded, and ErrExited
// if the child has already exited.
func (h *Handle) Write(data []byte) error {
	select {
	case <-h.doneCh:
		return ErrExited
	default:
	}

	if atomic.AddInt64(&h.queuedBytes, int64(len(data))) > maxPendingWriteBytes {
		atomic.AddInt64(&h.queuedBytes, -int64(len(data)))
		return ErrWouldBlock
	}

	select {
	case h.writeCh <- data:
		return nil
	case <-h.doneCh:
		atomic.AddInt64(&h.queuedBytes, -int64(len(data)))
		return ErrExited
	}
}

// Resize updates the PTY's window size.
func (h *Handle) Resize(rows, cols uint16) error {
	select {
	case <-h.doneCh:
		return ErrExited
	default:
	}
	return pty.Setsize(h.ptmx, &pty.Winsize{Rows: rows, Cols: cols})
}

// IsAlive reports whether the child has not yet exited.
func (h *Handle) IsAlive() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return !h.exited
}

// Pid returns the child's process ID.
func (h *Handle) Pid() int {
	return h.cmd.Process.Pid
}

// Kill sends SIGTERM to the child's process group, waits up to killGrace
// for it to exit, and escalates to SIGKILL if it hasn't.
func (h *Handle) Kill() error {
	pid := h.cmd.Process.Pid
	pgid, err := syscall.Getpgid(pid)
	if err != nil {
		pgid = pid
	}

	if err := syscall.Kill(-pgid, syscall.SIGTERM); err != nil && !h.alreadyExited() {
		return fmt.Errorf("sigterm process group %d: %w", pgid, err)
	}

	select {
	case <-h.doneCh:
		return nil
	case <-time.After(killGrace):
	}

	if h.alreadyExited() {
		return nil
	}
	if err := syscall.Kill(-pgid, syscall.SIGKILL); err != nil && !h.alreadyExited() {
		return fmt.Errorf("sigkill process group %d: %w", pgid, err)
	}
	<-h.doneCh
	return nil
}

func (h *Handle) alreadyExited() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.exited
}

// Wait blocks until the child has exited and returns its exit error, if
// any (nil for a clean zero-status exit).
func (h *Handle) Wait() error {
	<-h.doneCh
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.exitErr
}

// Done returns a channel closed once the child has exited.
func (h *Handle) Done() <-chan struct{} {
	return h.doneCh
}
