//go:build !tinygo

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"spire/app"
	"spire/hal"
	"spire/internal/buildinfo"
)

func main() {
	var cfg hal.HeadlessConfig
	var trace bool
	flag.IntVar(&cfg.Hz, "hz", 1000, "Host tick rate.")
	flag.Uint64Var(&cfg.Ticks, "ticks", 0, "Stop after N host ticks (0 = run until interrupted).")
	flag.BoolVar(&trace, "trace", false, "Print the kernel trace on exit.")
	flag.Parse()

	h := hal.New()
	sys, err := app.New(h, app.Config{Trace: trace})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	h.Logger().WriteLineString("spire " + buildinfo.Short())

	ctx, cancel := app.ExitContext(context.Background())
	defer cancel()
	err = hal.RunHeadless(ctx, h, func(ctx context.Context, _ hal.HAL) error {
		return sys.Run(ctx)
	}, cfg)

	st := sys.Kernel().Stats()
	h.Logger().WriteLineString(fmt.Sprintf("stats: dispatches=%d preemptions=%d mask-writes=%d max-depth=%d",
		st.Dispatches, st.Preemptions, st.MaskWrites, st.MaxDepth))
	for _, ev := range sys.Trace() {
		h.Logger().WriteLineString(ev.String())
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
