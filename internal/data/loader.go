// Package data loads and validates historical bar data. The engine
// treats market data as already materialized; this package is the edge
// that materializes it from files.
package data

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/helios-quant/backtest-engine/pkg/types"
)

// csv column layout: timestamp,asset,open,high,low,close,volume
const csvColumns = 7

// Loader reads bar series from CSV files.
type Loader struct {
	logger *zap.Logger
}

func NewLoader(logger *zap.Logger) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{logger: logger}
}

// LoadFile reads all bars from a CSV file and returns them sorted by
// timestamp, then asset.
func (l *Loader) LoadFile(path string) ([]types.Bar, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("data: opening %s: %w", path, err)
	}
	defer f.Close()

	bars, err := l.Read(f)
	if err != nil {
		return nil, fmt.Errorf("data: reading %s: %w", path, err)
	}
	l.logger.Info("loaded bar data",
		zap.String("path", path),
		zap.Int("bars", len(bars)))
	return bars, nil
}

// Read parses CSV bar records from a stream. A header row is detected
// and skipped.
func (l *Loader) Read(r io.Reader) ([]types.Bar, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = csvColumns

	var bars []types.Bar
	line := 0
	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		line++
		if line == 1 && record[0] == "timestamp" {
			continue
		}
		bar, err := parseBar(record)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		bars = append(bars, bar)
	}

	sort.SliceStable(bars, func(i, j int) bool {
		if !bars[i].Timestamp.Equal(bars[j].Timestamp) {
			return bars[i].Timestamp.Before(bars[j].Timestamp)
		}
		return bars[i].Asset < bars[j].Asset
	})
	return bars, nil
}

func parseBar(record []string) (types.Bar, error) {
	ts, err := time.Parse(time.RFC3339, record[0])
	if err != nil {
		return types.Bar{}, fmt.Errorf("bad timestamp %q: %w", record[0], err)
	}
	if record[1] == "" {
		return types.Bar{}, fmt.Errorf("empty asset")
	}

	fields := [5]decimal.Decimal{}
	names := [5]string{"open", "high", "low", "close", "volume"}
	for i := 0; i < 5; i++ {
		d, err := decimal.NewFromString(record[2+i])
		if err != nil {
			return types.Bar{}, fmt.Errorf("bad %s %q: %w", names[i], record[2+i], err)
		}
		fields[i] = d
	}
	return types.Bar{
		Asset:     record[1],
		Timestamp: ts.UTC(),
		Open:      fields[0],
		High:      fields[1],
		Low:       fields[2],
		Close:     fields[3],
		Volume:    fields[4],
	}, nil
}
