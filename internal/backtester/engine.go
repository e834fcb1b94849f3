// Package backtester implements the deterministic backtest engine: bar
// replay, signal generation, sizing, simulated execution, ledger updates
// and risk reporting.
package backtester

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/helios-quant/backtest-engine/internal/sizing"
	"github.com/helios-quant/backtest-engine/internal/strategy"
	"github.com/helios-quant/backtest-engine/pkg/types"
)

// State is one phase of the per-bar cycle.
type State string

const (
	StateAwaitingBar  State = "AWAITING_BAR"
	StateSignal       State = "SIGNAL"
	StateSize         State = "SIZE"
	StateExecute      State = "EXECUTE"
	StateLedgerUpdate State = "LEDGER_UPDATE"
	StateFinalize     State = "FINALIZE"
	StateReport       State = "REPORT"
)

const equityTolerance = 1e-6

// Engine replays bars through the signal/size/execute/ledger cycle. A
// run is strictly sequential; one engine must not be shared across
// concurrent runs.
type Engine struct {
	logger *zap.Logger
	config *types.BacktestConfig

	strat  strategy.Strategy
	sizer  sizing.Sizer
	exec   *ExecutionSimulator
	ledger *Ledger

	state   State
	running atomic.Bool

	history *strategy.History
	marks   map[string]decimal.Decimal
	lastTS  map[string]time.Time

	fills      []types.Fill
	stepEvents []types.StepEvent
	fedTrades  int
}

// Option overrides one of the engine's wired components.
type Option func(*Engine)

// WithStrategy swaps in a caller-supplied strategy, bypassing the
// config's strategy kind. Useful for custom strategies built outside the
// closed variant set.
func WithStrategy(s strategy.Strategy) Option {
	return func(e *Engine) { e.strat = s }
}

// WithSizer swaps in a caller-supplied sizer.
func WithSizer(s sizing.Sizer) Option {
	return func(e *Engine) { e.sizer = s }
}

// NewEngine validates the configuration and wires the run components.
func NewEngine(cfg *types.BacktestConfig, logger *zap.Logger, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	strat, err := strategy.New(cfg.Strategy, cfg.PeriodsPerYear, logger)
	if err != nil {
		return nil, err
	}
	sizer, err := sizing.New(cfg.Sizing, logger)
	if err != nil {
		return nil, err
	}
	e := &Engine{
		logger: logger,
		config: cfg,
		strat:  strat,
		sizer:  sizer,
		exec:   NewExecutionSimulator(cfg.SlippageBps, cfg.CommissionBps),
		ledger: NewLedger(cfg.InitialCapital, logger),
		state:  StateAwaitingBar,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// State returns the engine's current phase.
func (e *Engine) State() State { return e.state }

// Run replays the bar sequence and produces the final result. Bars may
// interleave assets; within each asset timestamps must be strictly
// increasing. The context is only consulted between bars since no single
// step blocks.
func (e *Engine) Run(ctx context.Context, bars []types.Bar) (*types.BacktestResult, error) {
	if !e.running.CompareAndSwap(false, true) {
		return nil, fmt.Errorf("backtest %s already running", e.config.ID)
	}
	defer e.running.Store(false)

	startedAt := time.Now().UTC()
	e.ledger = NewLedger(e.config.InitialCapital, e.logger)
	e.exec = NewExecutionSimulator(e.config.SlippageBps, e.config.CommissionBps)
	e.history = strategy.NewHistory(e.config.Assets)
	e.marks = make(map[string]decimal.Decimal, len(e.config.Assets))
	e.lastTS = make(map[string]time.Time, len(e.config.Assets))
	e.fills = nil
	e.stepEvents = nil
	e.fedTrades = 0
	e.state = StateAwaitingBar

	steps, err := e.buildTimeline(bars)
	if err != nil {
		return nil, err
	}

	e.logger.Info("starting backtest",
		zap.String("id", e.config.ID),
		zap.String("strategy", e.strat.Name()),
		zap.String("sizing", e.sizer.Name()),
		zap.Int("assets", len(e.config.Assets)),
		zap.Int("steps", len(steps)))

	barsProcessed := 0
	for _, step := range steps {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		if err := e.processStep(step); err != nil {
			return nil, err
		}
		barsProcessed += len(step.bars)
	}

	e.state = StateFinalize
	report := ComputeRiskReport(e.ledger.EquityCurve(), e.ledger.ClosedTrades(), e.config.RiskFreeRate, e.config.PeriodsPerYear)
	if err := e.ledger.CheckConservation(e.marks, equityTolerance); err != nil {
		return nil, err
	}

	e.state = StateReport
	result := &types.BacktestResult{
		ID:            e.config.ID,
		Report:        report,
		EquityCurve:   e.ledger.EquityCurve(),
		Fills:         e.fills,
		ClosedTrades:  e.ledger.ClosedTrades(),
		StepEvents:    e.stepEvents,
		BarsProcessed: barsProcessed,
		StartedAt:     startedAt,
		CompletedAt:   time.Now().UTC(),
	}
	e.logger.Info("backtest complete",
		zap.String("id", e.config.ID),
		zap.Int("bars", barsProcessed),
		zap.Int("fills", len(e.fills)),
		zap.Float64("total_return", report.TotalReturn),
		zap.Float64("sharpe", report.Sharpe))
	return result, nil
}

// timeStep groups the bars sharing one timestamp.
type timeStep struct {
	ts   time.Time
	bars []types.Bar
}

// buildTimeline validates ordering per asset and merges all assets onto
// the union of timestamps. Gaps are tolerated; duplicates and regressions
// are fatal.
func (e *Engine) buildTimeline(bars []types.Bar) ([]timeStep, error) {
	universe := make(map[string]struct{}, len(e.config.Assets))
	for _, a := range e.config.Assets {
		universe[a] = struct{}{}
	}

	lastSeen := make(map[string]time.Time)
	grouped := make(map[time.Time][]types.Bar)
	for _, bar := range bars {
		if _, ok := universe[bar.Asset]; !ok {
			return nil, types.InvalidBarError(bar.Asset, bar.Timestamp, "asset not in configured universe")
		}
		if bar.Timestamp.IsZero() {
			return nil, types.InvalidBarError(bar.Asset, bar.Timestamp, "zero timestamp")
		}
		if !bar.Close.IsPositive() {
			return nil, types.InvalidBarError(bar.Asset, bar.Timestamp, fmt.Sprintf("non-positive close %s", bar.Close))
		}
		if prev, ok := lastSeen[bar.Asset]; ok {
			if bar.Timestamp.Equal(prev) {
				return nil, types.InvalidBarError(bar.Asset, bar.Timestamp, "duplicate timestamp")
			}
			if bar.Timestamp.Before(prev) {
				return nil, types.InvalidBarError(bar.Asset, bar.Timestamp, fmt.Sprintf("timestamp regressed, previous %s", prev.UTC().Format(time.RFC3339)))
			}
		}
		lastSeen[bar.Asset] = bar.Timestamp
		grouped[bar.Timestamp] = append(grouped[bar.Timestamp], bar)
	}

	steps := make([]timeStep, 0, len(grouped))
	for ts, group := range grouped {
		sort.Slice(group, func(i, j int) bool { return group[i].Asset < group[j].Asset })
		steps = append(steps, timeStep{ts: ts, bars: group})
	}
	sort.Slice(steps, func(i, j int) bool { return steps[i].ts.Before(steps[j].ts) })
	return steps, nil
}

// processStep runs one full AWAITING_BAR to LEDGER_UPDATE cycle.
func (e *Engine) processStep(step timeStep) error {
	e.state = StateAwaitingBar
	for _, bar := range step.bars {
		e.history.Append(bar)
		e.marks[bar.Asset] = bar.Close
		e.lastTS[bar.Asset] = bar.Timestamp
	}

	e.state = StateSignal
	signals, err := e.generateSignals(step)
	if err != nil {
		return err
	}

	e.state = StateSize
	targets, err := e.sizeSignals(step, signals)
	if err != nil {
		return err
	}

	e.state = StateExecute
	fills, err := e.executeTargets(step, targets)
	if err != nil {
		return err
	}

	e.state = StateLedgerUpdate
	for _, fill := range fills {
		if err := e.ledger.Apply(fill); err != nil {
			return fmt.Errorf("ledger apply for %s at %s: %w", fill.Asset, fill.Timestamp.UTC().Format(time.RFC3339), err)
		}
		e.fills = append(e.fills, *fill)
	}
	e.feedTradeOutcomes()
	e.ledger.MarkToMarket(step.ts, e.marks)
	return nil
}

func (e *Engine) generateSignals(step timeStep) ([]types.Signal, error) {
	cold := 0
	for _, bar := range step.bars {
		if e.history.Len(bar.Asset) < e.strat.Warmup() {
			cold++
			e.recordEvent(types.StepEventInsufficientHistory, step.ts, bar.Asset,
				fmt.Sprintf("strategy warmup %d bars not reached", e.strat.Warmup()))
		}
	}
	if cold == len(step.bars) {
		return nil, nil
	}

	signals, err := e.strat.OnBar(e.history)
	if err != nil {
		if errors.Is(err, types.ErrInsufficientHistory) {
			e.recordEvent(types.StepEventInsufficientHistory, step.ts, "", err.Error())
			return nil, nil
		}
		return nil, fmt.Errorf("signal generation at %s: %w", step.ts.UTC().Format(time.RFC3339), err)
	}
	return signals, nil
}

func (e *Engine) sizeSignals(step timeStep, signals []types.Signal) ([]types.PositionTarget, error) {
	if rp, ok := e.sizer.(*sizing.RiskParity); ok {
		e.updateVolatilities(rp)
	}

	equity := e.ledger.Equity(e.marks)
	targets := make([]types.PositionTarget, 0, len(signals))
	for _, sig := range signals {
		price, ok := e.marks[sig.Asset]
		if !ok {
			e.recordEvent(types.StepEventInsufficientHistory, step.ts, sig.Asset, "no price observed yet")
			continue
		}
		target, err := e.sizer.Size(sig, equity, price)
		if err != nil {
			return nil, fmt.Errorf("sizing %s at %s: %w", sig.Asset, step.ts.UTC().Format(time.RFC3339), err)
		}
		held := e.ledger.Position(sig.Asset).Quantity
		clipped, truncated := sizing.ClampToCash(target, held, e.ledger.Cash(), price, e.config.MarginAllowance)
		if truncated {
			e.recordEvent(types.StepEventSizingTruncation, step.ts, sig.Asset,
				fmt.Sprintf("target %s clipped to %s: %s", target.Quantity, clipped.Quantity, types.ErrInsufficientCash))
		}
		targets = append(targets, clipped)
	}
	return targets, nil
}

func (e *Engine) executeTargets(step timeStep, targets []types.PositionTarget) ([]*types.Fill, error) {
	barByAsset := make(map[string]types.Bar, len(step.bars))
	for _, bar := range step.bars {
		barByAsset[bar.Asset] = bar
	}

	var fills []*types.Fill
	for _, target := range targets {
		bar, ok := barByAsset[target.Asset]
		if !ok {
			// Gap: the asset has no bar this step, trade on the next one.
			continue
		}
		current := e.ledger.Position(target.Asset).Quantity
		fill, err := e.exec.Execute(target, current, bar)
		if err != nil {
			return nil, fmt.Errorf("execution for %s at %s: %w", target.Asset, step.ts.UTC().Format(time.RFC3339), err)
		}
		if fill != nil {
			fills = append(fills, fill)
		}
	}
	return fills, nil
}

// feedTradeOutcomes pushes newly realized trades into the Kelly estimator.
func (e *Engine) feedTradeOutcomes() {
	k, ok := e.sizer.(*sizing.Kelly)
	if !ok {
		return
	}
	closed := e.ledger.ClosedTrades()
	for ; e.fedTrades < len(closed); e.fedTrades++ {
		k.RecordTrade(closed[e.fedTrades])
	}
}

// updateVolatilities refreshes the risk-parity sizer's trailing vol
// estimates from the accumulated close history.
func (e *Engine) updateVolatilities(rp *sizing.RiskParity) {
	window := e.config.Strategy.Window
	for _, asset := range e.history.Assets() {
		closes := e.history.Closes(asset)
		if len(closes) < window+1 {
			continue
		}
		rets := make([]float64, 0, window)
		start := len(closes) - window - 1
		for i := start + 1; i < len(closes); i++ {
			if closes[i-1] == 0 {
				continue
			}
			rets = append(rets, closes[i]/closes[i-1]-1)
		}
		rp.SetVolatility(asset, annualizedVolatility(rets, e.config.PeriodsPerYear))
	}
}

func annualizedVolatility(returns []float64, periodsPerYear int) float64 {
	sd := sampleStdDev(returns, meanOf(returns))
	return sd * math.Sqrt(float64(periodsPerYear))
}

func (e *Engine) recordEvent(kind types.StepEventKind, ts time.Time, asset, detail string) {
	e.stepEvents = append(e.stepEvents, types.StepEvent{
		Kind:      kind,
		Timestamp: ts,
		Asset:     asset,
		Detail:    detail,
	})
	e.logger.Debug("step event",
		zap.String("kind", string(kind)),
		zap.Time("timestamp", ts),
		zap.String("asset", asset),
		zap.String("detail", detail))
}
