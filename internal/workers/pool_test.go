package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/helios-quant/backtest-engine/pkg/types"
)

func batchJob(id string, closes []float64) Job {
	cfg := &types.BacktestConfig{
		ID:             id,
		Assets:         []string{"BTC"},
		InitialCapital: decimal.NewFromInt(100000),
		CommissionBps:  10,
		PeriodsPerYear: 252,
		Strategy:       types.DefaultStrategyConfig(types.StrategyMeanReversion),
		Sizing:         types.DefaultSizingConfig(types.SizingFixedFractional),
	}
	cfg.Strategy.Window = 5
	cfg.Strategy.EntryZScore = 1.5

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := make([]types.Bar, len(closes))
	for i, c := range closes {
		px := decimal.NewFromFloat(c)
		bars[i] = types.Bar{
			Asset:     "BTC",
			Timestamp: base.Add(time.Duration(i) * time.Hour),
			Open:      px, High: px, Low: px, Close: px,
			Volume: decimal.NewFromInt(1),
		}
	}
	return Job{Config: cfg, Bars: bars}
}

func TestRunAllPreservesOrder(t *testing.T) {
	r := NewRunner(4, prometheus.NewRegistry(), zap.NewNop())

	var jobs []Job
	for i := 0; i < 8; i++ {
		jobs = append(jobs, batchJob(fmt.Sprintf("run-%d", i), []float64{100, 102, 98, 104, 96, 103, 99, 101, 97, 105}))
	}

	outcomes, err := r.RunAll(context.Background(), jobs)
	require.NoError(t, err)
	require.Len(t, outcomes, 8)
	for i, out := range outcomes {
		assert.Equal(t, i, out.Index)
		assert.Equal(t, fmt.Sprintf("run-%d", i), out.ID)
		require.NoError(t, out.Err)
		require.NotNil(t, out.Result)
		assert.Equal(t, 10, out.Result.BarsProcessed)
	}
}

func TestRunAllIsolatesFailures(t *testing.T) {
	r := NewRunner(2, prometheus.NewRegistry(), zap.NewNop())

	bad := batchJob("bad", []float64{100, 101})
	bad.Config.InitialCapital = decimal.Zero // rejected at construction
	good := batchJob("good", []float64{100, 101, 102})

	outcomes, err := r.RunAll(context.Background(), []Job{bad, good})
	require.NoError(t, err)
	assert.Error(t, outcomes[0].Err)
	assert.Nil(t, outcomes[0].Result)
	require.NoError(t, outcomes[1].Err)
	require.NotNil(t, outcomes[1].Result)
}

func TestRunAllIdenticalJobsIdenticalReports(t *testing.T) {
	r := NewRunner(4, prometheus.NewRegistry(), zap.NewNop())
	closes := []float64{100, 103, 97, 105, 95, 104, 98, 102, 96, 106, 99, 101}

	jobs := []Job{batchJob("a", closes), batchJob("b", closes), batchJob("c", closes)}
	outcomes, err := r.RunAll(context.Background(), jobs)
	require.NoError(t, err)

	first, err := json.Marshal(outcomes[0].Result.Report)
	require.NoError(t, err)
	for _, out := range outcomes[1:] {
		require.NoError(t, out.Err)
		blob, err := json.Marshal(out.Result.Report)
		require.NoError(t, err)
		assert.Equal(t, first, blob, "independent runs of the same job must agree")
	}
}

func TestRunAllCancelledContext(t *testing.T) {
	r := NewRunner(1, prometheus.NewRegistry(), zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	outcomes, err := r.RunAll(ctx, []Job{batchJob("x", []float64{100, 101})})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Len(t, outcomes, 1)
}
