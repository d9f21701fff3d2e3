package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/baxromumarov/evchan"
	"github.com/baxromumarov/evchan/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// BenchResult summarizes a bench run.
type BenchResult struct {
	Expected int
	Received int
	Evicted  uint64
	Elapsed  time.Duration
}

func newBenchCommand() *cobra.Command {
	var (
		configPath string
		flags      = defaultBenchConfig()
	)

	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Stream events from many producers into one read stream",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := defaultBenchConfig()
			if configPath != "" {
				var err error
				if cfg, err = loadBenchConfig(configPath); err != nil {
					return err
				}
			}
			applyBenchFlags(cmd, &cfg, flags)
			if err := cfg.Validate(); err != nil {
				return err
			}

			logger, err := newLogger()
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			reg := prometheus.NewRegistry()
			if cfg.MetricsAddr != "" {
				stop, err := serveMetrics(cfg.MetricsAddr, reg, logger)
				if err != nil {
					return err
				}
				defer stop()
			}

			res, err := runBench(cmd.Context(), cfg, logger, reg)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(),
				"expected=%d received=%d evicted=%d elapsed=%s\n",
				res.Expected, res.Received, res.Evicted, res.Elapsed.Round(time.Millisecond))
			return nil
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "YAML file with bench settings")
	cmd.Flags().IntVar(&flags.Producers, "producers", flags.Producers, "Number of producer goroutines")
	cmd.Flags().IntVar(&flags.Items, "items", flags.Items, "Events per producer")
	cmd.Flags().IntVar(&flags.Capacity, "capacity", flags.Capacity, "Channel capacity (0 = unbounded)")
	cmd.Flags().Float64Var(&flags.Rate, "rate", flags.Rate, "Events per second per producer (0 = unlimited)")
	cmd.Flags().DurationVar(&flags.Timeout, "timeout", flags.Timeout, "Give up after this long")
	cmd.Flags().StringVar(&flags.MetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
	return cmd
}

// applyBenchFlags copies explicitly set flags over cfg.
func applyBenchFlags(cmd *cobra.Command, cfg *BenchConfig, flags BenchConfig) {
	set := cmd.Flags().Changed
	if set("producers") {
		cfg.Producers = flags.Producers
	}
	if set("items") {
		cfg.Items = flags.Items
	}
	if set("capacity") {
		cfg.Capacity = flags.Capacity
	}
	if set("rate") {
		cfg.Rate = flags.Rate
	}
	if set("timeout") {
		cfg.Timeout = flags.Timeout
	}
	if set("metrics-addr") {
		cfg.MetricsAddr = flags.MetricsAddr
	}
}

// runBench starts cfg.Producers goroutines that each enqueue cfg.Items
// events into one read stream, and drains the stream until every event is
// accounted for as either received or evicted.
func runBench(ctx context.Context, cfg BenchConfig, logger *zap.Logger, reg prometheus.Registerer) (BenchResult, error) {
	sem := evchan.NewCountingSemaphore()
	opts := []evchan.Option{
		evchan.WithNotifier(sem),
		evchan.WithLogger(logger),
		evchan.WithName("bench"),
	}
	if cfg.Capacity > 0 {
		opts = append(opts, evchan.WithCapacity(cfg.Capacity))
	}
	rs, err := evchan.NewReadStream[evchan.Pair[int, int]](opts...)
	if err != nil {
		return BenchResult{}, err
	}

	if reg != nil {
		collector := metrics.NewCollector("evchan")
		collector.Add(rs)
		if err := reg.Register(collector); err != nil {
			return BenchResult{}, fmt.Errorf("register metrics: %w", err)
		}
		defer reg.Unregister(collector)
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	for p := range cfg.Producers {
		w := rs.Channel()
		var limiter *rate.Limiter
		if cfg.Rate > 0 {
			limiter = rate.NewLimiter(rate.Limit(cfg.Rate), 1)
		}
		g.Go(func() error {
			for i := range cfg.Items {
				if limiter != nil {
					if err := limiter.Wait(gctx); err != nil {
						return limiterError(gctx, p, err)
					}
				}
				evchan.Enqueue2(w, p, i)
			}
			return nil
		})
	}

	var produced atomic.Bool
	prodErr := make(chan error, 1)
	go func() {
		prodErr <- g.Wait()
		produced.Store(true)
		sem.Release() // wake the drain loop for a final pass
	}()

	res := BenchResult{Expected: cfg.Producers * cfg.Items}
	for {
		res.Received += len(rs.GetAll())
		if produced.Load() && rs.Empty() {
			break
		}
		if err := sem.AcquireContext(ctx); err != nil {
			return res, fmt.Errorf("bench: received %d of %d events: %w", res.Received, res.Expected, err)
		}
	}
	res.Elapsed = time.Since(start)
	res.Evicted = rs.Stats().Evicted

	if err := <-prodErr; err != nil {
		return res, fmt.Errorf("bench: producer failed: %w", err)
	}
	if uint64(res.Received)+res.Evicted != uint64(res.Expected) {
		return res, fmt.Errorf("bench: lost events: received %d + evicted %d != %d",
			res.Received, res.Evicted, res.Expected)
	}

	logger.Info("bench finished",
		zap.Int("expected", res.Expected),
		zap.Int("received", res.Received),
		zap.Uint64("evicted", res.Evicted),
		zap.Duration("elapsed", res.Elapsed))
	return res, nil
}

// limiterError maps a failed limiter wait to the context error it stands
// for. The limiter refuses early, without wrapping anything, when the next
// token would arrive after the deadline.
func limiterError(ctx context.Context, producer int, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("producer %d: %w", producer, ctxErr)
	}
	if _, ok := ctx.Deadline(); ok {
		return fmt.Errorf("producer %d: %w: %w", producer, err, context.DeadlineExceeded)
	}
	return fmt.Errorf("producer %d: %w", producer, err)
}

func serveMetrics(addr string, reg *prometheus.Registry, logger *zap.Logger) (func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server stopped", zap.Error(err))
		}
	}()
	logger.Info("serving metrics", zap.String("addr", ln.Addr().String()))

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}
