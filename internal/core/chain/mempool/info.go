package mempool

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

type Health string

const (
	HealthHealthy  Health = "healthy"
	HealthDegraded Health = "degraded"
	HealthCritical Health = "critical"
)

// Info is a consistent point-in-time snapshot of the pool.
type Info struct {
	Size       int     `json:"size"`
	Bytes      int64   `json:"bytes"`
	Usage      int64   `json:"usage"`
	MaxMempool int64   `json:"maxmempool"`
	LoadFactor float64 `json:"loadfactor"`

	BaseFeeRate    decimal.Decimal `json:"base_feerate"`
	CurrentFeeRate decimal.Decimal `json:"current_feerate"`
	MinFeeRate     decimal.Decimal `json:"min_feerate"`
	MaxFeeRate     decimal.Decimal `json:"max_feerate"`
	MeanFeeRate    decimal.Decimal `json:"mean_feerate"`
	MedianFeeRate  decimal.Decimal `json:"median_feerate"`

	TypeCounts map[string]int `json:"type_counts"`

	OldestAge   time.Duration `json:"oldest_age"`
	YoungestAge time.Duration `json:"youngest_age"`

	Health Health `json:"health"`
}

// Info builds the stats snapshot. Fee rates are reported as decimals so
// JSON consumers never see float artifacts.
func (p *Pool) Info() Info {
	p.mu.RLock()
	defer p.mu.RUnlock()

	info := Info{
		Size:        len(p.entries),
		Bytes:       p.bytesUsed,
		Usage:       p.bytesUsed,
		MaxMempool:  p.params.MaxMempoolBytes,
		BaseFeeRate: decimal.NewFromFloat(p.params.MinRelayFeeRate),
		TypeCounts:  make(map[string]int),
	}
	if p.params.MaxMempoolBytes > 0 {
		info.LoadFactor = float64(p.bytesUsed) / float64(p.params.MaxMempoolBytes)
	}

	rates := make([]float64, 0, len(p.entries))
	now := time.Now()
	for _, e := range p.entries {
		rates = append(rates, e.feeRate)
		info.TypeCounts[e.tx.Type.String()]++
		age := now.Sub(e.added)
		if age > info.OldestAge {
			info.OldestAge = age
		}
		if info.YoungestAge == 0 || age < info.YoungestAge {
			info.YoungestAge = age
		}
	}

	info.CurrentFeeRate = info.BaseFeeRate
	if len(rates) > 0 {
		sort.Float64s(rates)
		info.MinFeeRate = decimal.NewFromFloat(rates[0])
		info.MaxFeeRate = decimal.NewFromFloat(rates[len(rates)-1])

		sum := decimal.Zero
		for _, r := range rates {
			sum = sum.Add(decimal.NewFromFloat(r))
		}
		info.MeanFeeRate = sum.Div(decimal.NewFromInt(int64(len(rates))))

		mid := len(rates) / 2
		if len(rates)%2 == 1 {
			info.MedianFeeRate = decimal.NewFromFloat(rates[mid])
		} else {
			info.MedianFeeRate = decimal.NewFromFloat(rates[mid-1]).
				Add(decimal.NewFromFloat(rates[mid])).
				Div(decimal.NewFromInt(2))
		}

		// When the pool is full the entry rate is set by the cheapest
		// resident, not the relay floor.
		if info.LoadFactor >= 1 {
			floor := decimal.NewFromFloat(rates[0])
			if floor.GreaterThan(info.CurrentFeeRate) {
				info.CurrentFeeRate = floor
			}
		}
	}

	switch {
	case info.LoadFactor < 0.8:
		info.Health = HealthHealthy
	case info.LoadFactor < 0.95:
		info.Health = HealthDegraded
	default:
		info.Health = HealthCritical
	}
	return info
}
