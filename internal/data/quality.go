package data

import (
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/helios-quant/backtest-engine/pkg/types"
)

// Issue severities.
const (
	SeverityCritical = "critical"
	SeverityHigh     = "high"
	SeverityMedium   = "medium"
)

// Issue is one data quality problem found in a bar series.
type Issue struct {
	Type      string    `json:"type"`
	Severity  string    `json:"severity"`
	Asset     string    `json:"asset"`
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
}

// QualityReport summarizes validation of one asset's series.
type QualityReport struct {
	Asset     string  `json:"asset"`
	TotalBars int     `json:"totalBars"`
	Issues    []Issue `json:"issues"`
	// Usable is false when any critical issue is present; the engine
	// would reject the series anyway, so fail early here.
	Usable bool `json:"usable"`
}

// Validator checks bar series integrity before they reach the engine.
// Bad data ruins backtests quietly; these checks make it loud.
type Validator struct {
	logger *zap.Logger

	// MaxGapMove flags close-to-close moves beyond this fraction.
	MaxGapMove float64
}

func NewValidator(logger *zap.Logger) *Validator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Validator{logger: logger, MaxGapMove: 0.5}
}

// Validate inspects one asset's bars in order: timestamp ordering and
// duplicates (critical, the engine rejects them), OHLC consistency
// (critical) and suspicious gap moves (medium).
func (v *Validator) Validate(asset string, bars []types.Bar) *QualityReport {
	report := &QualityReport{Asset: asset, TotalBars: len(bars), Usable: true}

	var prev *types.Bar
	for i := range bars {
		bar := bars[i]
		if bar.Asset != asset {
			report.add(Issue{
				Type: "wrong_asset", Severity: SeverityCritical,
				Asset: asset, Timestamp: bar.Timestamp,
				Message: "bar belongs to " + bar.Asset,
			})
			continue
		}

		if prev != nil {
			if !bar.Timestamp.After(prev.Timestamp) {
				report.add(Issue{
					Type: "ordering", Severity: SeverityCritical,
					Asset: asset, Timestamp: bar.Timestamp,
					Message: "duplicate or regressing timestamp",
				})
			}
			if v.MaxGapMove > 0 && prev.Close.IsPositive() {
				move, _ := bar.Close.Sub(prev.Close).Div(prev.Close).Abs().Float64()
				if move > v.MaxGapMove {
					report.add(Issue{
						Type: "gap_move", Severity: SeverityMedium,
						Asset: asset, Timestamp: bar.Timestamp,
						Message: "close moved more than the gap threshold",
					})
				}
			}
		}

		for _, issue := range checkOHLC(asset, bar) {
			report.add(issue)
		}
		prev = &bars[i]
	}

	for _, issue := range report.Issues {
		if issue.Severity == SeverityCritical {
			report.Usable = false
			break
		}
	}
	if !report.Usable {
		v.logger.Warn("bar series unusable",
			zap.String("asset", asset),
			zap.Int("issues", len(report.Issues)))
	}
	return report
}

func checkOHLC(asset string, bar types.Bar) []Issue {
	var issues []Issue
	bad := func(msg string) {
		issues = append(issues, Issue{
			Type: "ohlc", Severity: SeverityCritical,
			Asset: asset, Timestamp: bar.Timestamp, Message: msg,
		})
	}
	if !bar.Open.IsPositive() || !bar.High.IsPositive() || !bar.Low.IsPositive() || !bar.Close.IsPositive() {
		bad("non-positive price")
		return issues
	}
	if bar.High.LessThan(bar.Low) {
		bad("high below low")
	}
	if bar.High.LessThan(bar.Open) || bar.High.LessThan(bar.Close) {
		bad("high below open or close")
	}
	if bar.Low.GreaterThan(bar.Open) || bar.Low.GreaterThan(bar.Close) {
		bad("low above open or close")
	}
	if bar.Volume.LessThan(decimal.Zero) {
		bad("negative volume")
	}
	return issues
}

func (r *QualityReport) add(issue Issue) {
	r.Issues = append(r.Issues, issue)
}

// SplitByAsset partitions a merged bar stream per asset, preserving order.
func SplitByAsset(bars []types.Bar) map[string][]types.Bar {
	out := make(map[string][]types.Bar)
	for _, bar := range bars {
		out[bar.Asset] = append(out[bar.Asset], bar)
	}
	return out
}
