package data

import (
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helios-quant/backtest-engine/pkg/types"
)

const sampleCSV = `timestamp,asset,open,high,low,close,volume
2024-01-02T00:00:00Z,ETH,2200,2250,2180,2240,900
2024-01-01T00:00:00Z,BTC,42000,42500,41800,42300,1200
2024-01-01T00:00:00Z,ETH,2150,2210,2140,2200,800
2024-01-02T00:00:00Z,BTC,42300,42900,42100,42800,1100
`

func TestLoaderReadSortsByTimestampThenAsset(t *testing.T) {
	l := NewLoader(nil)
	bars, err := l.Read(strings.NewReader(sampleCSV))
	require.NoError(t, err)
	require.Len(t, bars, 4)

	assert.Equal(t, "BTC", bars[0].Asset)
	assert.Equal(t, "ETH", bars[1].Asset)
	assert.Equal(t, "BTC", bars[2].Asset)
	assert.Equal(t, "ETH", bars[3].Asset)
	assert.True(t, bars[0].Timestamp.Before(bars[2].Timestamp))

	want, _ := decimal.NewFromString("42300")
	assert.True(t, bars[0].Close.Equal(want))
}

func TestLoaderReadWithoutHeader(t *testing.T) {
	l := NewLoader(nil)
	bars, err := l.Read(strings.NewReader("2024-01-01T00:00:00Z,BTC,1,2,0.5,1.5,10\n"))
	require.NoError(t, err)
	require.Len(t, bars, 1)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), bars[0].Timestamp)
}

func TestLoaderReadRejectsMalformedRows(t *testing.T) {
	l := NewLoader(nil)

	_, err := l.Read(strings.NewReader("not-a-time,BTC,1,2,0.5,1.5,10\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timestamp")

	_, err = l.Read(strings.NewReader("2024-01-01T00:00:00Z,BTC,1,2,abc,1.5,10\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "low")

	_, err = l.Read(strings.NewReader("2024-01-01T00:00:00Z,BTC,1,2,0.5\n"))
	require.Error(t, err)
}

func mkBar(asset string, day int, o, h, lo, c float64) types.Bar {
	return types.Bar{
		Asset:     asset,
		Timestamp: time.Date(2024, 1, day, 0, 0, 0, 0, time.UTC),
		Open:      decimal.NewFromFloat(o),
		High:      decimal.NewFromFloat(h),
		Low:       decimal.NewFromFloat(lo),
		Close:     decimal.NewFromFloat(c),
		Volume:    decimal.NewFromInt(100),
	}
}

func TestValidatorCleanSeries(t *testing.T) {
	v := NewValidator(nil)
	bars := []types.Bar{
		mkBar("BTC", 1, 100, 105, 98, 103),
		mkBar("BTC", 2, 103, 108, 101, 106),
	}
	report := v.Validate("BTC", bars)
	assert.True(t, report.Usable)
	assert.Empty(t, report.Issues)
	assert.Equal(t, 2, report.TotalBars)
}

func TestValidatorFlagsOHLCViolations(t *testing.T) {
	v := NewValidator(nil)
	bad := mkBar("BTC", 1, 100, 95, 98, 103) // high below low and close
	report := v.Validate("BTC", []types.Bar{bad})
	assert.False(t, report.Usable)
	require.NotEmpty(t, report.Issues)
	assert.Equal(t, "ohlc", report.Issues[0].Type)
}

func TestValidatorFlagsTimestampRegression(t *testing.T) {
	v := NewValidator(nil)
	bars := []types.Bar{
		mkBar("BTC", 2, 100, 105, 98, 103),
		mkBar("BTC", 1, 103, 108, 101, 106),
	}
	report := v.Validate("BTC", bars)
	assert.False(t, report.Usable)

	dup := []types.Bar{
		mkBar("BTC", 1, 100, 105, 98, 103),
		mkBar("BTC", 1, 103, 108, 101, 106),
	}
	assert.False(t, v.Validate("BTC", dup).Usable)
}

func TestValidatorFlagsGapMoveAsNonCritical(t *testing.T) {
	v := NewValidator(nil)
	bars := []types.Bar{
		mkBar("BTC", 1, 100, 105, 98, 100),
		mkBar("BTC", 2, 100, 205, 98, 200), // 100% move
	}
	report := v.Validate("BTC", bars)
	assert.True(t, report.Usable)
	require.Len(t, report.Issues, 1)
	assert.Equal(t, "gap_move", report.Issues[0].Type)
	assert.Equal(t, SeverityMedium, report.Issues[0].Severity)
}

func TestSplitByAsset(t *testing.T) {
	bars := []types.Bar{
		mkBar("BTC", 1, 1, 2, 0.5, 1.5),
		mkBar("ETH", 1, 1, 2, 0.5, 1.5),
		mkBar("BTC", 2, 1, 2, 0.5, 1.5),
	}
	split := SplitByAsset(bars)
	assert.Len(t, split["BTC"], 2)
	assert.Len(t, split["ETH"], 1)
}
