package main

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/baxromumarov/evchan"
	"github.com/baxromumarov/evchan/chanx"
	"github.com/baxromumarov/evchan/sched"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newWatchdogCommand() *cobra.Command {
	var (
		interval time.Duration
		beats    int
		timeout  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "watchdog",
		Short: "Feed a watchdog for a few heartbeats, then let it bite",
		RunE: func(cmd *cobra.Command, args []string) error {
			if interval <= 0 {
				return fmt.Errorf("interval must be > 0, got %s", interval)
			}
			logger, err := newLogger()
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			return runWatchdog(ctx, cmd.OutOrStdout(), interval, beats, logger)
		},
	}

	cmd.Flags().DurationVar(&interval, "interval", 500*time.Millisecond, "Watchdog interval")
	cmd.Flags().IntVar(&beats, "beats", 3, "Heartbeats to send before going quiet")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "Give up after this long")
	return cmd
}

// runWatchdog resets a watchdog beats times at half its interval, then
// stops and waits for the bite to arrive through a write stream.
func runWatchdog(ctx context.Context, out io.Writer, interval time.Duration, beats int, logger *zap.Logger) error {
	sem := evchan.NewCountingSemaphore()
	ws, err := evchan.NewWriteStream[sched.Bite](
		evchan.WithAutoflush(true),
		evchan.WithStreamLogger(logger),
		evchan.WithChannelOptions(evchan.WithNotifier(sem), evchan.WithName("bites")),
	)
	if err != nil {
		return err
	}
	listener := ws.Channel()
	defer listener.Release()

	ctx, cancel := context.WithCancel(ctx)
	bites := chanx.Pump[sched.Bite](ctx, listener, sem, 1)
	var wg sync.WaitGroup
	defer func() {
		cancel()
		wg.Wait()
		for range bites {
		}
	}()

	wd := sched.NewWatchdog(interval, ws, sched.WithWatchdogLogger(logger))
	wg.Add(2)
	go func() {
		defer wg.Done()
		_ = wd.Run(ctx)
	}()

	go func() {
		defer wg.Done()
		ticker := time.NewTicker(interval / 2)
		defer ticker.Stop()
		for i := 0; i < beats; i++ {
			select {
			case <-ticker.C:
				if ctx.Err() != nil {
					return
				}
				wd.Reset()
				fmt.Fprintf(out, "heartbeat %d\n", i+1)
			case <-ctx.Done():
				return
			}
		}
	}()

	select {
	case b, ok := <-bites:
		if !ok {
			return ctx.Err()
		}
		fmt.Fprintf(out, "watchdog bit (seq=%d)\n", b.Seq)
		return nil
	case <-ctx.Done():
		return fmt.Errorf("no bite before deadline: %w", ctx.Err())
	}
}
