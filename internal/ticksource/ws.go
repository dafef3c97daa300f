package ticksource

import (
	"context"
	"time"

	"github.com/sdibella/kalshi-btc15m/internal/kalshi"
	"github.com/sdibella/kalshi-btc15m/internal/market"
)

// FromWS polls a live kalshi.WSClient's orderbooks for the given tickers and
// emits a Tick whenever a ticker's orderbook advances, letting the same
// engine.Engine that drives CSV replay also drive true live trading off the
// WebSocket feed — the one reconciliation loop per process the engine
// requires (spec §5) is preserved because this, like Follow, is just
// another Tick producer behind the same channel interface.
func FromWS(ctx context.Context, ws *kalshi.WSClient, tickers []string, pollInterval time.Duration) <-chan Tick {
	out := make(chan Tick)
	go func() {
		defer close(out)

		lastSeen := make(map[string]time.Time, len(tickers))
		seq := 0
		for {
			select {
			case <-ctx.Done():
				return
			case <-time.After(pollInterval):
			}
			for _, ticker := range tickers {
				ob := ws.GetOrderbook(ticker)
				if ob == nil || ob.LastUpdate.IsZero() {
					continue
				}
				if !ob.LastUpdate.After(lastSeen[ticker]) {
					continue
				}
				lastSeen[ticker] = ob.LastUpdate
				seq++
				tick := Tick{
					Ticker: market.Ticker(ticker),
					State:  stateFromOrderbook(ob),
					Time:   ob.LastUpdate,
					Seq:    seq,
					Source: "ws",
				}
				select {
				case out <- tick:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}

func stateFromOrderbook(ob *kalshi.OrderbookState) market.State {
	yesBid, yesAsk, noBid, noAsk := ob.BestYesBid(), ob.BestYesAsk(), ob.BestNoBid(), ob.BestNoAsk()
	state := market.State{}
	if len(ob.Yes) > 0 {
		state.YesBid = &yesBid
		state.NoAsk = &noAsk
	}
	if len(ob.No) > 0 {
		state.NoBid = &noBid
		state.YesAsk = &yesAsk
	}
	return state
}
