// Package workers runs batches of independent backtests in parallel.
// Each run owns its engine and portfolio state, so workers need no
// synchronization beyond collecting results.
package workers

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/helios-quant/backtest-engine/internal/backtester"
	"github.com/helios-quant/backtest-engine/pkg/types"
)

// Job is one independent backtest: a configuration plus its bar data.
type Job struct {
	Config *types.BacktestConfig
	Bars   []types.Bar
}

// Outcome pairs a job's result (or failure) with its submission index,
// so batch output ordering is independent of scheduling.
type Outcome struct {
	Index  int
	ID     string
	Result *types.BacktestResult
	Err    error
}

// Runner executes backtest batches over a fixed-size worker pool.
type Runner struct {
	logger  *zap.Logger
	workers int
	metrics *runnerMetrics
}

type runnerMetrics struct {
	runsStarted prometheus.Counter
	runsFailed  prometheus.Counter
	runSeconds  prometheus.Histogram
	recovered   prometheus.Counter
}

func newRunnerMetrics(reg prometheus.Registerer) *runnerMetrics {
	factory := promauto.With(reg)
	return &runnerMetrics{
		runsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "backtest_runs_started_total",
			Help: "Backtest runs picked up by a worker.",
		}),
		runsFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "backtest_runs_failed_total",
			Help: "Backtest runs that returned an error.",
		}),
		runSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "backtest_run_duration_seconds",
			Help:    "Wall-clock duration of individual backtest runs.",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
		}),
		recovered: factory.NewCounter(prometheus.CounterOpts{
			Name: "backtest_run_panics_recovered_total",
			Help: "Panics recovered inside worker goroutines.",
		}),
	}
}

// NewRunner builds a runner with the given parallelism. Zero workers
// defaults to the CPU count. reg may be nil to skip metric export.
func NewRunner(workers int, reg prometheus.Registerer, logger *zap.Logger) *Runner {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	return &Runner{
		logger:  logger,
		workers: workers,
		metrics: newRunnerMetrics(reg),
	}
}

// RunAll executes every job and returns outcomes aligned with the input
// order. Individual run failures are captured per outcome; RunAll itself
// only fails on context cancellation.
func (r *Runner) RunAll(ctx context.Context, jobs []Job) ([]Outcome, error) {
	outcomes := make([]Outcome, len(jobs))
	for i, job := range jobs {
		outcomes[i] = Outcome{Index: i, ID: job.Config.ID}
	}
	jobCh := make(chan int)

	var wg sync.WaitGroup
	for w := 0; w < r.workers; w++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for idx := range jobCh {
				outcomes[idx] = r.runOne(ctx, idx, jobs[idx], workerID)
			}
		}(w)
	}

feed:
	for idx := range jobs {
		select {
		case <-ctx.Done():
			break feed
		case jobCh <- idx:
		}
	}
	close(jobCh)
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return outcomes, err
	}
	return outcomes, nil
}

func (r *Runner) runOne(ctx context.Context, idx int, job Job, workerID int) (out Outcome) {
	out = Outcome{Index: idx, ID: job.Config.ID}
	r.metrics.runsStarted.Inc()
	start := time.Now()

	defer func() {
		r.metrics.runSeconds.Observe(time.Since(start).Seconds())
		if rec := recover(); rec != nil {
			r.metrics.recovered.Inc()
			r.metrics.runsFailed.Inc()
			r.logger.Error("backtest panicked",
				zap.String("id", job.Config.ID),
				zap.Int("worker_id", workerID),
				zap.Any("panic", rec))
			out.Err = fmt.Errorf("backtest %s panicked: %v", job.Config.ID, rec)
		}
	}()

	engine, err := backtester.NewEngine(job.Config, r.logger)
	if err != nil {
		r.metrics.runsFailed.Inc()
		out.Err = err
		return out
	}
	result, err := engine.Run(ctx, job.Bars)
	if err != nil {
		r.metrics.runsFailed.Inc()
		out.Err = err
		return out
	}
	out.Result = result
	return out
}
