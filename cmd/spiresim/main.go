// Command spiresim runs an app description on a simulated kernel and lets
// you pend tasks and advance time from a console.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/chzyer/readline"

	"spire/analysis"
	"spire/app"
	"spire/config"
	"spire/hal"
	"spire/internal/buildinfo"
)

const prompt = "\033[32mspire>\033[0m "

func main() {
	var (
		appPath = flag.String("app", "", "App description (default: the bundled demo).")
		history = flag.String("history", ".spiresim-history.tmp", "Console history file.")
	)
	flag.Parse()

	plan, err := loadPlan(*appPath)
	if err != nil {
		fatalf("%v", err)
	}

	h := hal.New()
	s, err := newSim(plan, os.Stdout, h.Logger())
	if err != nil {
		fatalf("%v", err)
	}
	s.k.OnShutdown(s.printStats)
	fmt.Printf("spiresim %s session %s: %d tasks, %d resources\n", buildinfo.Short(), s.session, len(plan.Tasks), len(plan.Resources))

	l, err := readline.NewEx(&readline.Config{
		Prompt:            prompt,
		HistoryFile:       *history,
		InterruptPrompt:   "^C",
		EOFPrompt:         "quit",
		HistorySearchFold: true,
	})
	if err != nil {
		fatalf("%v", err)
	}
	defer l.Close()

	// An exit signal closes the console; the kernel is shut down here, on
	// the goroutine that drives it, once repl returns.
	ctx, cancel := app.ExitContext(context.Background())
	defer cancel()
	go func() {
		<-ctx.Done()
		_ = l.Close()
	}()

	err = repl(ctx, s, l)
	s.k.Shutdown()
	if err != nil {
		fatalf("%v", err)
	}
}

func fatalf(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(2)
}

func loadPlan(path string) (*analysis.Plan, error) {
	if path == "" {
		return app.Plan()
	}
	desc, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	return analysis.Classify(desc)
}

type lineReader interface {
	Readline() (string, error)
}

func repl(ctx context.Context, s *sim, l lineReader) error {
	for {
		line, err := l.Readline()
		if ctx.Err() != nil {
			return nil
		}
		if errors.Is(err, readline.ErrInterrupt) {
			if len(line) == 0 {
				return nil
			}
			continue
		} else if errors.Is(err, io.EOF) {
			return nil
		} else if err != nil {
			return err
		}

		err = s.exec(strings.TrimSpace(line))
		if errors.Is(err, errQuit) {
			return nil
		}
		if err != nil {
			fmt.Fprintln(s.out, "error:", err)
		}
	}
}
