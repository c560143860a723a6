package audit

import (
	"sort"

	"github.com/wonny/b3quant/internal/contracts"
)

// Attribution summarizes trades grouped by why they happened
type Attribution struct {
	Reason      contracts.TradeReason `json:"reason"`
	Trades      int                   `json:"trades"`
	Sells       int                   `json:"sells"`
	Winners     int                   `json:"winners"`
	RealizedPnL float64               `json:"realized_pnl"` // 매도 실현손익 합계
	Notional    float64               `json:"notional"`
	Costs       float64               `json:"costs"` // commission + slippage
}

// WinRate returns the share of profitable sells (0 without sells)
func (a Attribution) WinRate() float64 {
	if a.Sells == 0 {
		return 0
	}
	return float64(a.Winners) / float64(a.Sells)
}

// AttributeTrades groups trades by reason (rebalance, ex_date, liquidity),
// ordered by reason
func AttributeTrades(trades []contracts.Trade) []Attribution {
	byReason := make(map[contracts.TradeReason]*Attribution)
	for _, t := range trades {
		a, ok := byReason[t.Reason]
		if !ok {
			a = &Attribution{Reason: t.Reason}
			byReason[t.Reason] = a
		}
		a.Trades++
		a.Notional += t.Notional
		a.Costs += t.Cost + t.Slippage
		if t.Side == contracts.SideSell {
			a.Sells++
			a.RealizedPnL += t.PnL
			if t.PnL > 0 {
				a.Winners++
			}
		}
	}

	out := make([]Attribution, 0, len(byReason))
	for _, a := range byReason {
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Reason < out[j].Reason })
	return out
}
