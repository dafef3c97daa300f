package journal

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/sdibella/kalshi-btc15m/internal/market"
)

// tradeColumns/orderColumns/decisionColumns are the output CSV schemas for
// WriteTradesCSV/WriteOrdersCSV/WriteDecisionIntentsCSV (spec §6.3), in
// column order.
var tradeColumns = []string{
	"time", "ticker", "side", "action", "price", "quantity", "fee_cents",
	"order_id", "filled", "dry_run", "limit_price",
}

var orderColumns = []string{
	"time", "order_seq", "tick_time", "ticker", "event", "action", "price",
	"qty", "order_id", "cash", "pos_yes", "pos_no", "pending_yes",
	"pending_no", "source",
}

var decisionColumns = []string{
	"time", "decision_id", "tick_time", "ticker", "decision_type", "cash",
	"pos_yes", "pos_no", "pending_yes", "pending_no", "order_index",
	"action", "price", "qty", "source", "reason",
}

// ReadEvents decodes a journal JSONL file into raw field maps, keyed by each
// line's own JSON keys. Used by the runner to rebuild unified_trades.csv,
// unified_orders.csv, and decision_intents.csv from the single append-only
// journal after a session ends, grounded on
// original_source/server_mirror/unified_engine/runner.py's end-of-run
// pandas.DataFrame(...).to_csv(...) step (encoding/csv here instead of a
// dataframe library).
func ReadEvents(path string) ([]map[string]any, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("journal: opening %q: %w", path, err)
	}
	defer f.Close()

	var events []map[string]any
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var row map[string]any
		if err := json.Unmarshal(line, &row); err != nil {
			continue
		}
		events = append(events, row)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("journal: reading %q: %w", path, err)
	}
	return events, nil
}

func filterType(events []map[string]any, eventType string) []map[string]any {
	var out []map[string]any
	for _, e := range events {
		if t, _ := e["type"].(string); t == eventType {
			out = append(out, e)
		}
	}
	return out
}

func cellString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	case float64:
		if x == float64(int64(x)) {
			return strconv.FormatInt(int64(x), 10)
		}
		return strconv.FormatFloat(x, 'f', -1, 64)
	default:
		b, _ := json.Marshal(x)
		return string(b)
	}
}

func writeEventsCSV(path string, events []map[string]any, columns []string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("journal: creating %q: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(columns); err != nil {
		return err
	}
	row := make([]string, len(columns))
	for _, e := range events {
		for i, col := range columns {
			row[i] = cellString(e[col])
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

// WriteTradesCSV writes unified_trades.csv from the journal's "trade" rows.
func WriteTradesCSV(outPath string, events []map[string]any) error {
	return writeEventsCSV(outPath, filterType(events, "trade"), tradeColumns)
}

// WriteOrdersCSV writes unified_orders.csv from the journal's
// "order_lifecycle" rows.
func WriteOrdersCSV(outPath string, events []map[string]any) error {
	return writeEventsCSV(outPath, filterType(events, "order_lifecycle"), orderColumns)
}

// WriteDecisionIntentsCSV writes decision_intents.csv from the journal's
// "decision" rows (one row per keep/empty tick, and one row per desired
// order on ticks where the strategy wanted to quote).
func WriteDecisionIntentsCSV(outPath string, events []map[string]any) error {
	return writeEventsCSV(outPath, filterType(events, "decision"), decisionColumns)
}

// positionsOut is the unified_positions.json shape (spec §6.3): a flat cash
// figure plus the non-flat positions, omitting tickers that have fully
// netted out to zero on both sides.
type positionsOut struct {
	Cash      float64                       `json:"cash"`
	Positions map[string]positionsOutRecord `json:"positions"`
}

type positionsOutRecord struct {
	Yes  int     `json:"yes"`
	No   int     `json:"no"`
	Cost float64 `json:"cost"`
}

// WritePositionsJSON writes unified_positions.json: the adapter's terminal
// cash and non-zero positions, mirroring runner.py's end-of-run dump.
func WritePositionsJSON(outPath string, cash decimal.Decimal, positions map[market.Ticker]market.Position) error {
	out := positionsOut{
		Cash:      cash.InexactFloat64(),
		Positions: make(map[string]positionsOutRecord),
	}
	for ticker, p := range positions {
		if p.Yes == 0 && p.No == 0 {
			continue
		}
		out.Positions[string(ticker)] = positionsOutRecord{
			Yes:  p.Yes,
			No:   p.No,
			Cost: p.Cost.InexactFloat64(),
		}
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(outPath, data, 0644)
}
