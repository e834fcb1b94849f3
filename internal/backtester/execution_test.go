package backtester

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helios-quant/backtest-engine/pkg/types"
)

func barAt(asset string, close float64, step int) types.Bar {
	px := dec(close)
	return types.Bar{
		Asset:     asset,
		Timestamp: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(step) * time.Hour),
		Open:      px,
		High:      px,
		Low:       px,
		Close:     px,
		Volume:    decimal.NewFromInt(1),
	}
}

func TestExecuteBuyPaysSlippage(t *testing.T) {
	e := NewExecutionSimulator(10, 0) // 10 bps slippage
	target := types.PositionTarget{Asset: "BTC", Quantity: dec(100)}

	fill, err := e.Execute(target, decimal.Zero, barAt("BTC", 100, 0))
	require.NoError(t, err)
	require.NotNil(t, fill)
	// 100 * (1 + 10/10000) = 100.1
	assert.True(t, fill.Price.Equal(dec(100.1)), "price %s", fill.Price)
	assert.True(t, fill.Quantity.Equal(dec(100)))
}

func TestExecuteSellReceivesLess(t *testing.T) {
	e := NewExecutionSimulator(10, 0)
	target := types.PositionTarget{Asset: "BTC", Quantity: decimal.Zero}

	fill, err := e.Execute(target, dec(100), barAt("BTC", 100, 0))
	require.NoError(t, err)
	require.NotNil(t, fill)
	assert.True(t, fill.Price.Equal(dec(99.9)), "price %s", fill.Price)
	assert.True(t, fill.Quantity.Equal(dec(-100)))
}

func TestExecuteCommission(t *testing.T) {
	e := NewExecutionSimulator(0, 10) // 10 bps commission
	target := types.PositionTarget{Asset: "BTC", Quantity: dec(100)}

	fill, err := e.Execute(target, decimal.Zero, barAt("BTC", 100, 0))
	require.NoError(t, err)
	require.NotNil(t, fill)
	// |100 * 100| * 0.001 = 10
	assert.True(t, fill.Commission.Equal(dec(10)), "commission %s", fill.Commission)
}

func TestExecuteZeroDeltaNoFill(t *testing.T) {
	e := NewExecutionSimulator(10, 10)
	target := types.PositionTarget{Asset: "BTC", Quantity: dec(100)}

	fill, err := e.Execute(target, dec(100), barAt("BTC", 100, 0))
	require.NoError(t, err)
	assert.Nil(t, fill)
}

func TestExecuteFillIDsDeterministic(t *testing.T) {
	mk := func() []string {
		e := NewExecutionSimulator(0, 0)
		var ids []string
		for i := 0; i < 3; i++ {
			fill, err := e.Execute(types.PositionTarget{Asset: "BTC", Quantity: dec(float64(i + 1))}, dec(float64(i)), barAt("BTC", 100, i))
			require.NoError(t, err)
			ids = append(ids, fill.ID)
		}
		return ids
	}
	first, second := mk(), mk()
	assert.Equal(t, first, second, "replay must reproduce fill IDs")
	assert.NotEqual(t, first[0], first[1], "distinct fills get distinct IDs")
}
