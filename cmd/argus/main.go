// Command argus is the single-binary terminal dashboard: one process, no
// subcommands, that supervises many concurrent coding-assistant sessions
// over PTYs (spec.md §6).
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"golang.org/x/term"

	"github.com/arguswatch/argus/internal/agent"
	"github.com/arguswatch/argus/internal/app"
	"github.com/arguswatch/argus/internal/config"
	"github.com/arguswatch/argus/internal/hook"
	"github.com/arguswatch/argus/internal/logging"
	"github.com/arguswatch/argus/internal/store"
	"github.com/arguswatch/argus/internal/worktree"
)

func main() {
	os.Exit(run())
}

func run() int {
	root := config.RootDir()
	if err := config.EnsureLayout(root); err != nil {
		fmt.Fprintf(os.Stderr, "argus: %v\n", err)
		return 1
	}

	cfg, err := config.Load(filepath.Join(root, "config.toml"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "argus: %v\n", err)
		return 1
	}

	logger, err := logging.Open(filepath.Join(root, "logs"), int(cfg.LogRetentionDays))
	if err != nil {
		fmt.Fprintf(os.Stderr, "argus: %v\n", err)
		return 1
	}
	defer logger.Close()

	st, err := store.Load(filepath.Join(root, "projects.json"), func(msg string) { logger.Warnf("%s", msg) })
	if err != nil {
		fmt.Fprintf(os.Stderr, "argus: %v\n", err)
		return 1
	}

	wt := worktree.New(filepath.Join(root, "worktrees"))

	hl := hook.New(int(cfg.HookPort), cfg.HookBatchSize*4)
	if err := hl.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "argus: %v\n", err)
		return 1
	}

	envFile := filepath.Join(root, "env")
	adapters := map[string]*agent.Adapter{
		"agent-cc": agent.NewAgentCC(envFile),
		"shell":    agent.NewShell(envFile),
	}
	defs, err := agent.LoadDefinitions(filepath.Join(root, "adapters.yaml"))
	if err != nil {
		logger.Warnf("load adapters.yaml: %v", err)
	}
	for _, def := range defs {
		adapters[def.Name] = agent.NewCustom(def, envFile)
	}

	a := app.New(cfg, root, logger, st, wt, hl, adapters)

	fd := int(os.Stdin.Fd())
	oldState, err := term.MakeRaw(fd)
	if err != nil {
		fmt.Fprintf(os.Stderr, "argus: failed to enter raw mode: %v\n", err)
		return 1
	}
	defer term.Restore(fd, oldState)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	input := make(chan []byte)
	go readInput(ctx, os.Stdin, input)

	a.Run(ctx, input, os.Stdout)
	return 0
}

// readInput forwards raw stdin bytes to out until ctx is canceled or stdin
// closes. It never blocks the App Loop: App.Run drains out non-blockingly.
func readInput(ctx context.Context, r io.Reader, out chan<- []byte) {
	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			select {
			case out <- chunk:
			case <-ctx.Done():
				return
			}
		}
		if err != nil {
			close(out)
			return
		}
	}
}
