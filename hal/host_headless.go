//go:build !tinygo

package hal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
)

// HeadlessConfig controls the no-window host runner.
type HeadlessConfig struct {
	Hz    int
	Ticks uint64
}

// RunHeadless drives the host tick source at cfg.Hz while run executes.
//
// run receives a context that is cancelled when the parent is cancelled or
// after cfg.Ticks host ticks (0 = run forever). Reaching the tick limit is not
// an error.
func RunHeadless(ctx context.Context, h HAL, run func(context.Context, HAL) error, cfg HeadlessConfig) error {
	if cfg.Hz <= 0 {
		cfg.Hz = 60
	}
	d := time.Second / time.Duration(cfg.Hz)
	if d <= 0 {
		return fmt.Errorf("invalid headless hz: %d", cfg.Hz)
	}

	hh, ok := h.(*hostHAL)
	if !ok {
		return fmt.Errorf("headless runner needs the host HAL, got %T", h)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var limitHit bool
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		t := time.NewTicker(d)
		defer t.Stop()

		var n uint64
		for {
			select {
			case <-gctx.Done():
				return nil
			case now := <-t.C:
				hh.t.advance(now)
				n++
				if cfg.Ticks > 0 && n >= cfg.Ticks {
					limitHit = true
					cancel()
					return nil
				}
			}
		}
	})
	g.Go(func() error {
		return run(gctx, h)
	})

	err := g.Wait()
	if limitHit && errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
