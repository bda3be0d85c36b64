package simulation

import (
	"math"

	"github.com/avelios/anchor/internal/domain"
	"gonum.org/v1/gonum/stat"
)

// computeMetrics derives the run summary from the recorded trade log, the
// replayed samples and the per-sample equity curve. initialAvgCost seeds the
// running cost basis used by the win-rate calculation.
func computeMetrics(resolution domain.Resolution, samples []domain.PriceSample, trades []TradeRecord, equity []float64, initialQty, initialAvgCost float64) Metrics {
	m := Metrics{TradeCount: len(trades)}
	if len(samples) == 0 || len(equity) == 0 {
		return m
	}

	m.InitialValue = equity[0]
	m.FinalValue = equity[len(equity)-1]
	if m.InitialValue > 0 {
		m.TotalReturnPct = (m.FinalValue/m.InitialValue - 1) * 100
	}

	firstClose := samples[0].Close
	lastClose := samples[len(samples)-1].Close
	if firstClose > 0 {
		m.BuyHoldReturnPct = (lastClose/firstClose - 1) * 100
	}
	m.AlphaPct = m.TotalReturnPct - m.BuyHoldReturnPct

	m.MaxDrawdownPct = maxDrawdown(equity) * 100
	m.SharpeRatio = sharpe(equity, resolution)
	m.WinRatePct = winRate(trades, initialQty, initialAvgCost)
	return m
}

// maxDrawdown returns the largest peak-to-trough decline as a fraction.
func maxDrawdown(equity []float64) float64 {
	peak := equity[0]
	worst := 0.0
	for _, v := range equity[1:] {
		if v > peak {
			peak = v
			continue
		}
		if peak > 0 {
			if dd := (peak - v) / peak; dd > worst {
				worst = dd
			}
		}
	}
	return worst
}

// sharpe annualizes the mean/stddev of per-sample equity returns by the
// resolution's sampling frequency. Zero when the curve never moves.
func sharpe(equity []float64, resolution domain.Resolution) float64 {
	if len(equity) < 3 {
		return 0
	}
	returns := make([]float64, 0, len(equity)-1)
	for i := 1; i < len(equity); i++ {
		if equity[i-1] > 0 {
			returns = append(returns, equity[i]/equity[i-1]-1)
		}
	}
	if len(returns) < 2 {
		return 0
	}

	mean := stat.Mean(returns, nil)
	stddev := stat.StdDev(returns, nil)
	if stddev == 0 {
		return 0
	}
	return mean / stddev * math.Sqrt(resolution.PeriodsPerYear())
}

// winRate is the share of sells filled above the running average cost at the
// time of execution, replayed from the trade log alone.
func winRate(trades []TradeRecord, qty, avgCost float64) float64 {
	sells, wins := 0, 0
	for _, t := range trades {
		switch t.Side {
		case domain.SideBuy:
			newQty := qty + t.Qty
			if newQty > 0 {
				avgCost = (qty*avgCost + t.Qty*t.Price) / newQty
			}
			qty = newQty
		case domain.SideSell:
			sells++
			if t.Price > avgCost {
				wins++
			}
			qty -= t.Qty
		}
	}
	if sells == 0 {
		return 0
	}
	return float64(wins) / float64(sells) * 100
}
