package sizing

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/helios-quant/backtest-engine/pkg/types"
)

func longSignal(asset string, strength float64) types.Signal {
	return types.Signal{
		Asset:     asset,
		Timestamp: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Direction: types.Long,
		Strength:  strength,
	}
}

func TestFixedFractional(t *testing.T) {
	s := NewFixedFractional(0.1)
	equity := decimal.NewFromInt(100000)
	price := decimal.NewFromInt(100)

	target, err := s.Size(longSignal("BTC", 1.0), equity, price)
	require.NoError(t, err)
	// 100000 * 0.1 / 100 = 100
	assert.True(t, target.Quantity.Equal(decimal.NewFromInt(100)), "got %s", target.Quantity)
}

func TestFixedFractionalStrengthScaling(t *testing.T) {
	s := NewFixedFractional(0.1)
	equity := decimal.NewFromInt(100000)
	price := decimal.NewFromInt(100)

	target, err := s.Size(longSignal("BTC", 0.5), equity, price)
	require.NoError(t, err)
	assert.True(t, target.Quantity.Equal(decimal.NewFromInt(50)), "got %s", target.Quantity)
}

func TestFixedFractionalShortIsNegative(t *testing.T) {
	s := NewFixedFractional(0.1)
	sig := longSignal("BTC", -1.0)
	sig.Direction = types.Short

	target, err := s.Size(sig, decimal.NewFromInt(100000), decimal.NewFromInt(100))
	require.NoError(t, err)
	assert.True(t, target.Quantity.IsNegative())
}

func TestFixedFractionalFlatIsZero(t *testing.T) {
	s := NewFixedFractional(0.1)
	sig := longSignal("BTC", 0)
	sig.Direction = types.Flat

	target, err := s.Size(sig, decimal.NewFromInt(100000), decimal.NewFromInt(100))
	require.NoError(t, err)
	assert.True(t, target.Quantity.IsZero())
}

func TestHedgeRatioScalesNotional(t *testing.T) {
	s := NewFixedFractional(0.1)
	sig := longSignal("ETH", 1.0)
	sig.Ratio = 2.0

	target, err := s.Size(sig, decimal.NewFromInt(100000), decimal.NewFromInt(100))
	require.NoError(t, err)
	assert.True(t, target.Quantity.Equal(decimal.NewFromInt(200)), "got %s", target.Quantity)
}

func TestKellyFractionFormula(t *testing.T) {
	// f* = 0.6 - 0.4/1.5 = 0.3333...
	f := KellyFraction(0.6, 1.5)
	assert.InDelta(t, 0.3333, f, 1e-4)
}

func TestKellyClampsToMaxFraction(t *testing.T) {
	cfg := types.DefaultSizingConfig(types.SizingKelly)
	cfg.KellyMaxFraction = 0.25
	cfg.KellyMinSamples = 10
	k := NewKelly(cfg, zap.NewNop())

	// 60% winners at 1.5 payoff puts raw Kelly at 0.3333, above the cap.
	for i := 0; i < 6; i++ {
		k.RecordTrade(types.ClosedTrade{RealizedPnL: decimal.NewFromFloat(150)})
	}
	for i := 0; i < 4; i++ {
		k.RecordTrade(types.ClosedTrade{RealizedPnL: decimal.NewFromFloat(-100)})
	}
	f, ok := k.Fraction()
	require.True(t, ok)
	assert.InDelta(t, 0.25, f, 1e-9)
}

func TestKellyFallsBackBelowMinSamples(t *testing.T) {
	cfg := types.DefaultSizingConfig(types.SizingKelly)
	cfg.KellyMinSamples = 20
	k := NewKelly(cfg, zap.NewNop())
	k.RecordTrade(types.ClosedTrade{RealizedPnL: decimal.NewFromFloat(50)})

	target, err := k.Size(longSignal("BTC", 1.0), decimal.NewFromInt(100000), decimal.NewFromInt(100))
	require.NoError(t, err)
	// Fixed-fractional fallback at the configured fraction 0.1.
	assert.True(t, target.Quantity.Equal(decimal.NewFromInt(100)), "got %s", target.Quantity)
}

func TestKellyAllLosersSitsOut(t *testing.T) {
	cfg := types.DefaultSizingConfig(types.SizingKelly)
	cfg.KellyMinSamples = 5
	k := NewKelly(cfg, zap.NewNop())
	for i := 0; i < 5; i++ {
		k.RecordTrade(types.ClosedTrade{RealizedPnL: decimal.NewFromFloat(-10)})
	}

	target, err := k.Size(longSignal("BTC", 1.0), decimal.NewFromInt(100000), decimal.NewFromInt(100))
	require.NoError(t, err)
	assert.True(t, target.Quantity.IsZero())
}

func TestRiskParityScalesInverseToVolatility(t *testing.T) {
	cfg := types.DefaultSizingConfig(types.SizingRiskParity)
	cfg.TargetVolatility = 0.15
	rp := NewRiskParity(cfg, zap.NewNop())
	rp.SetVolatility("WILD", 0.60)
	rp.SetVolatility("CALM", 0.075)

	equity := decimal.NewFromInt(100000)
	price := decimal.NewFromInt(100)

	wild, err := rp.Size(longSignal("WILD", 1.0), equity, price)
	require.NoError(t, err)
	calm, err := rp.Size(longSignal("CALM", 1.0), equity, price)
	require.NoError(t, err)

	// WILD at 4x target vol gets a quarter of the base fraction; CALM
	// below target keeps the full base fraction (no leveraging up).
	assert.True(t, wild.Quantity.Equal(decimal.NewFromInt(25)), "got %s", wild.Quantity)
	assert.True(t, calm.Quantity.Equal(decimal.NewFromInt(100)), "got %s", calm.Quantity)
}

func TestClampToCash(t *testing.T) {
	price := decimal.NewFromInt(100)
	target := types.PositionTarget{Asset: "BTC", Quantity: decimal.NewFromInt(50)}

	clipped, truncated := ClampToCash(target, decimal.Zero, decimal.NewFromInt(1000), price, 0)
	assert.True(t, truncated)
	assert.True(t, clipped.Quantity.Equal(decimal.NewFromInt(10)), "got %s", clipped.Quantity)

	ok, truncated := ClampToCash(target, decimal.Zero, decimal.NewFromInt(10000), price, 0)
	assert.False(t, truncated)
	assert.True(t, ok.Quantity.Equal(decimal.NewFromInt(50)))
}

func TestClampToCashBudgetsOnlyTheDelta(t *testing.T) {
	price := decimal.NewFromInt(100)
	target := types.PositionTarget{Asset: "BTC", Quantity: decimal.NewFromInt(800)}
	held := decimal.NewFromInt(800)

	// Restating a held target costs nothing even with the cash spent.
	ok, truncated := ClampToCash(target, held, decimal.NewFromInt(20000), price, 0)
	assert.False(t, truncated)
	assert.True(t, ok.Quantity.Equal(decimal.NewFromInt(800)), "got %s", ok.Quantity)

	// A top-up only needs cash for the increment.
	target.Quantity = decimal.NewFromInt(900)
	ok, truncated = ClampToCash(target, held, decimal.NewFromInt(20000), price, 0)
	assert.False(t, truncated)
	assert.True(t, ok.Quantity.Equal(decimal.NewFromInt(900)), "got %s", ok.Quantity)

	// An unaffordable top-up clips to the held quantity plus what cash buys.
	target.Quantity = decimal.NewFromInt(1200)
	clipped, truncated := ClampToCash(target, held, decimal.NewFromInt(20000), price, 0)
	assert.True(t, truncated)
	assert.True(t, clipped.Quantity.Equal(decimal.NewFromInt(1000)), "got %s", clipped.Quantity)
}

func TestClampToCashNeverClipsReducingTrades(t *testing.T) {
	price := decimal.NewFromInt(100)

	// Selling down a long raises cash regardless of the balance.
	target := types.PositionTarget{Asset: "BTC", Quantity: decimal.NewFromInt(200)}
	ok, truncated := ClampToCash(target, decimal.NewFromInt(800), decimal.Zero, price, 0)
	assert.False(t, truncated)
	assert.True(t, ok.Quantity.Equal(decimal.NewFromInt(200)))

	// A short entry is a cash-raising trade too.
	target.Quantity = decimal.NewFromInt(-500)
	ok, truncated = ClampToCash(target, decimal.Zero, decimal.NewFromInt(1000), price, 0)
	assert.False(t, truncated)
	assert.True(t, ok.Quantity.Equal(decimal.NewFromInt(-500)))
}

func TestClampToCashShortCoverClips(t *testing.T) {
	price := decimal.NewFromInt(100)

	// Covering a short is a buy; with 10000 cash only 100 units cover.
	target := types.PositionTarget{Asset: "BTC", Quantity: decimal.Zero}
	clipped, truncated := ClampToCash(target, decimal.NewFromInt(-500), decimal.NewFromInt(10000), price, 0)
	assert.True(t, truncated)
	assert.True(t, clipped.Quantity.Equal(decimal.NewFromInt(-400)), "got %s", clipped.Quantity)
}

func TestNewRejectsUnknownMethod(t *testing.T) {
	cfg := types.DefaultSizingConfig("martingale")
	_, err := New(cfg, zap.NewNop())
	assert.Error(t, err)
}
