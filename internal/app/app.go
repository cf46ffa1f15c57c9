// Package app implements the single-threaded cooperative App Loop
// (spec.md §4.8): the one goroutine that owns input dispatch, hook-event
// draining, session polling, and rendering. It is grounded on the
// teacher's cmdWatch/drawWatch 1-second redraw loop in cmd/catherd,
// generalized to a tighter cooperative frame period and a richer input
// dispatch table.
package app

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/arguswatch/argus/internal/agent"
	"github.com/arguswatch/argus/internal/config"
	"github.com/arguswatch/argus/internal/hook"
	"github.com/arguswatch/argus/internal/logging"
	"github.com/arguswatch/argus/internal/session"
	"github.com/arguswatch/argus/internal/store"
	"github.com/arguswatch/argus/internal/worktree"
)

// View is the top-level screen the app is currently showing.
type View int

const (
	ViewProjectsOverview View = iota
	ViewProjectDetail
	ViewBranchDetail
	ViewSessionView
	ViewActivityTimeline
)

// InputMode selects how incoming bytes are interpreted.
type InputMode int

const (
	ModeNormal InputMode = iota
	ModeSession
	ModeTextInput
	ModeConfirm
	ModeWorktreeWizard
)

// Input hygiene hard caps (spec.md §4.8): any free-text field is truncated
// at these lengths rather than allowed to grow unbounded, and a truncation
// warns once rather than spamming the log per keystroke.
const (
	maxProjectPathLen = 4096
	maxSessionNameLen = 256
	maxBranchNameLen  = 256
)

const frameInterval = 16 * time.Millisecond

// maxInputEventsPerFrame bounds how many raw input chunks the loop drains
// in a single frame, so a paste burst can't starve hook/poll processing.
const maxInputEventsPerFrame = 64

// App is the single owner of everything the event loop touches.
type App struct {
	cfg      config.Config
	logger   *logging.Logger
	store    *store.Store
	worktree *worktree.Controller
	sessions *session.Manager
	hooks    *hook.Listener
	adapters map[string]*agent.Adapter

	view InputView
	mode InputMode

	selectedProject int
	selectedBranch  int
	selectedSession int

	textField      string
	textBuf        string
	truncatedWarns map[string]bool

	statusMessage string
	dirty         bool
	quit          bool

	// ringBell/titleText are notification side effects queued by the
	// session manager's Waiting callback and flushed on the next render,
	// since only Run (not New) has an io.Writer to emit them on.
	ringBell  bool
	titleText string
}

// InputView is an alias kept distinct from View for documentation clarity
// at call sites that switch on it.
type InputView = View

// New constructs an App ready to Run. root is the controller-owned data
// directory (the caller's config.RootDir()), used to locate the per-session
// callback-script directory under <root>/hooks.
func New(cfg config.Config, root string, logger *logging.Logger, st *store.Store, wt *worktree.Controller, hooks *hook.Listener, adapters map[string]*agent.Adapter) *App {
	a := &App{
		cfg:            cfg,
		logger:         logger,
		store:          st,
		worktree:       wt,
		sessions:       session.NewManager(secs(cfg.IdleThresholdSecs), secs(cfg.StateTimeoutSecs), secs(cfg.ExitedRetention), int(cfg.MaxOutputLines), int(cfg.ScrollbackLines)),
		hooks:          hooks,
		adapters:       adapters,
		view:           ViewProjectsOverview,
		mode:           ModeNormal,
		truncatedWarns: make(map[string]bool),
		dirty:          true,
	}

	a.sessions.SetHookInfo(filepath.Join(root, "hooks"), hooks.Port())
	a.sessions.SetCurrentViewPredicate(a.isCurrentSessionView)
	a.sessions.SetOnWaiting(a.notifyWaiting)

	return a
}

// isCurrentSessionView reports whether sessionID is the session currently
// shown in the session view, so attention/notification can be suppressed
// for it per spec.md §4.4.
func (a *App) isCurrentSessionView(sessionID string) bool {
	if a.view != ViewSessionView {
		return false
	}
	s, ok := a.sessions.At(a.selectedSession)
	return ok && s.ID == sessionID
}

// notifyWaiting queues the notification side effect for a session's entry
// into Waiting, honoring notification_method (spec.md §6). The actual
// write happens on the next render, since that's the only place an
// io.Writer is available.
func (a *App) notifyWaiting(s *session.Session) {
	switch a.cfg.NotificationMeth {
	case config.NotifyBell:
		a.ringBell = true
	case config.NotifyTitle:
		a.titleText = fmt.Sprintf("argus — %s waiting", s.Name)
	case config.NotifyNone:
	}
	a.dirty = true
}

func secs(n uint32) time.Duration { return time.Duration(n) * time.Second }

// Sessions exposes the session manager for callers (tests, main.go) that
// need to create sessions before or during the loop.
func (a *App) Sessions() *session.Manager { return a.sessions }

// Run drives the cooperative event loop until Quit is requested or ctx is
// canceled. input delivers raw terminal input chunks; out receives
// rendered frames.
func (a *App) Run(ctx context.Context, input <-chan []byte, out io.Writer) {
	ticker := time.NewTicker(frameInterval)
	defer ticker.Stop()

	for !a.quit {
		select {
		case <-ctx.Done():
			a.quit = true
		case <-ticker.C:
		}
		if a.quit {
			break
		}

		a.drainInput(input)
		a.drainHooks()
		a.sessions.Poll(a.cfg.ThemePreset)
		a.sessions.TickTimeouts(time.Now())
		for _, id := range a.sessions.Reap(time.Now()) {
			a.logger.Printf("reaped exited session %s", id)
		}

		if a.dirty {
			a.render(out)
			a.dirty = false
		}
	}

	a.shutdown(out)
}

// Quit requests the loop stop at the next frame boundary.
func (a *App) Quit() { a.quit = true }

func (a *App) drainInput(input <-chan []byte) {
	for i := 0; i < maxInputEventsPerFrame; i++ {
		select {
		case chunk, ok := <-input:
			if !ok {
				a.quit = true
				return
			}
			for _, b := range chunk {
				a.handleByte(b)
			}
		default:
			return
		}
	}
}

func (a *App) drainHooks() {
	batch := a.cfg.HookBatchSize
	if batch <= 0 {
		batch = 256
	}
	events := make([]hook.Event, 0, batch)
	for i := 0; i < batch; i++ {
		select {
		case evt := <-a.hooks.Events():
			events = append(events, evt)
		default:
			i = batch
		}
	}
	for _, evt := range session.Coalesce(events) {
		if err := a.sessions.ApplyHook(evt); err != nil {
			a.logger.Warnf("apply hook event: %v", err)
			continue
		}
		a.dirty = true
	}
}

func (a *App) handleByte(b byte) {
	switch a.mode {
	case ModeTextInput, ModeWorktreeWizard:
		a.handleTextInputByte(b)
	case ModeConfirm:
		a.handleConfirmByte(b)
	default:
		a.handleNormalByte(b)
	}
}

func (a *App) handleNormalByte(b byte) {
	a.dirty = true
	switch b {
	case 'q':
		a.quit = true
	case '\t':
		a.view = (a.view + 1) % 5
	case 'j':
		a.moveSelection(1)
	case 'k':
		a.moveSelection(-1)
	case 'n':
		a.mode = ModeTextInput
		a.textField = "session_name"
		a.textBuf = ""
	default:
		a.dirty = false
	}
}

func (a *App) moveSelection(delta int) {
	n := a.sessions.Len()
	if n == 0 {
		return
	}
	idx := a.selectedSession + delta
	if idx < 0 {
		idx = 0
	}
	if idx >= n {
		idx = n - 1
	}
	a.selectedSession = idx
}

func capFor(field string) int {
	switch field {
	case "project_path":
		return maxProjectPathLen
	case "branch_name":
		return maxBranchNameLen
	default:
		return maxSessionNameLen
	}
}

func (a *App) handleTextInputByte(b byte) {
	a.dirty = true
	switch b {
	case '\r', '\n':
		a.submitTextInput()
	case 0x1b: // Esc
		a.mode = ModeNormal
		a.textBuf = ""
	case 0x7f, 0x08: // Backspace
		if len(a.textBuf) > 0 {
			a.textBuf = a.textBuf[:len(a.textBuf)-1]
		}
	default:
		max := capFor(a.textField)
		if len(a.textBuf) >= max {
			if !a.truncatedWarns[a.textField] {
				a.logger.Warnf("%s input truncated at %d characters", a.textField, max)
				a.truncatedWarns[a.textField] = true
			}
			return
		}
		a.textBuf += string(rune(b))
	}
}

func (a *App) submitTextInput() {
	a.statusMessage = fmt.Sprintf("%s: %s", a.textField, a.textBuf)
	a.mode = ModeNormal
	a.textBuf = ""
	delete(a.truncatedWarns, a.textField)
}

func (a *App) handleConfirmByte(b byte) {
	a.dirty = true
	switch b {
	case 'y', 'Y':
		a.mode = ModeNormal
	case 'n', 'N', 0x1b:
		a.mode = ModeNormal
	}
}

// shutdown implements spec.md §4.8's shutdown sequence: stop accepting new
// hook events, kill every session's process in parallel bounded by a
// timeout, persist the store, then return (terminal restoration to cooked
// mode is the caller's responsibility, since raw-mode entry happened
// there too).
func (a *App) shutdown(out io.Writer) {
	a.hooks.Stop(context.Background())

	var wg sync.WaitGroup
	for _, s := range a.sessions.List() {
		wg.Add(1)
		go func(s *session.Session) {
			defer wg.Done()
			if s.PTY.IsAlive() {
				if err := s.PTY.Kill(); err != nil {
					a.logger.Warnf("kill session %s during shutdown: %v", s.ID, err)
				}
			}
		}(s)
	}
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		a.logger.Warnf("timed out waiting for sessions to exit during shutdown")
	}

	if err := a.store.Save(); err != nil {
		a.logger.Warnf("persist store during shutdown: %v", err)
	}

	fmt.Fprint(out, "\x1b[2J\x1b[H")
}

// render redraws the whole screen for the current view. Plain text,
// full-screen redraw per frame, matching the teacher's own drawWatch
// approach rather than pulling in a TUI framework for a handful of views.
func (a *App) render(out io.Writer) {
	fmt.Fprint(out, "\x1b[H\x1b[2J")
	switch a.view {
	case ViewProjectsOverview:
		a.renderProjectsOverview(out)
	case ViewSessionView:
		a.renderSessionView(out)
	default:
		a.renderProjectsOverview(out)
	}
	if a.statusMessage != "" {
		fmt.Fprintf(out, "\n%s\n", a.statusMessage)
	}
	if a.mode == ModeTextInput || a.mode == ModeWorktreeWizard {
		fmt.Fprintf(out, "\n%s> %s\n", a.textField, a.textBuf)
	}

	// Flush queued notification side effects exactly once per Waiting
	// entry (spec.md §4.4's attention policy / E2E scenario 1).
	if a.ringBell {
		fmt.Fprint(out, "\a")
		a.ringBell = false
	}
	if a.titleText != "" {
		fmt.Fprintf(out, "\x1b]0;%s\a", a.titleText)
		a.titleText = ""
	}
}

func (a *App) renderProjectsOverview(out io.Writer) {
	fmt.Fprintln(out, "argus — projects")
	projects := a.store.Projects()
	sort.Slice(projects, func(i, j int) bool { return projects[i].Name < projects[j].Name })
	for _, p := range projects {
		fmt.Fprintf(out, "  %s  (%s)\n", p.Name, p.RepoPath)
		for _, b := range p.Branches {
			missing := ""
			if b.Missing {
				missing = " [missing]"
			}
			fmt.Fprintf(out, "    - %s%s\n", b.Name, missing)
		}
	}
}

func (a *App) renderSessionView(out io.Writer) {
	fmt.Fprintln(out, "argus — sessions")
	for i, s := range a.sessions.List() {
		marker := "  "
		if i == a.selectedSession {
			marker = "> "
		}
		attn := ""
		if s.NeedsAttention {
			attn = " !"
		}
		fmt.Fprintf(out, "%s%-20s %-10s%s\n", marker, s.Name, s.State(), attn)
	}
}
