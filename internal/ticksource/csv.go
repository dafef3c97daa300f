package ticksource

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// timeLayouts covers the ISO-8601 variants original_source's pandas
// read_csv(format="mixed") tolerated: with/without fractional seconds,
// with/without a trailing zone offset.
var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999",
	"2006-01-02 15:04:05",
}

func parseTimeFlexible(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

// ReadGlob reads every market_data_*.csv file under dir (teacher's
// backtest-log naming convention), normalizes columns, and returns ticks
// sorted ascending by time. Grounded on
// iter_ticks_from_market_logs(follow=False) in tick_sources.py.
func ReadGlob(dir string) ([]Tick, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "market_data_*.csv"))
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)

	var ticks []Tick
	for _, path := range paths {
		fileTicks, err := readCSVFile(path, "timestamp")
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}
		ticks = append(ticks, fileTicks...)
	}
	sort.SliceStable(ticks, func(i, j int) bool { return ticks[i].Time.Before(ticks[j].Time) })
	for i := range ticks {
		ticks[i].Seq = i + 1
	}
	return ticks, nil
}

// ReadSingle reads one tick-log CSV in full (no follow), as used by
// --tick-log without --follow. useIngestTimestamp selects
// "ingest_timestamp" over "tick_timestamp" as the tick clock, mirroring
// iter_ticks_from_live_log(follow=False)'s use_ingest flag.
func ReadSingle(path string, useIngestTimestamp bool) ([]Tick, error) {
	tsCol := "tick_timestamp"
	if useIngestTimestamp {
		tsCol = "ingest_timestamp"
	}
	ticks, err := readCSVFile(path, tsCol)
	if err != nil {
		return nil, err
	}
	if len(ticks) == 0 {
		ticks, err = readCSVFile(path, "timestamp")
		if err != nil {
			return nil, err
		}
	}
	sort.SliceStable(ticks, func(i, j int) bool { return ticks[i].Time.Before(ticks[j].Time) })
	for i := range ticks {
		ticks[i].Seq = i + 1
		ticks[i].Source = "live_log"
	}
	return ticks, nil
}

func readCSVFile(path, tsCol string) ([]Tick, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	var headers []string
	var ticks []Tick
	rowIdx := 0
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		rowIdx++
		if headers == nil {
			headers = make([]string, len(rec))
			for i, h := range rec {
				headers[i] = strings.ToLower(strings.TrimSpace(h))
			}
			continue
		}
		row := make(map[string]string, len(headers))
		for i, h := range headers {
			if i < len(rec) {
				row[h] = strings.TrimSpace(rec[i])
			}
		}
		row["timestamp"] = first(row, "timestamp", "time")
		row["ticker"] = first(row, "ticker", "market_ticker")
		row["yes_ask"] = first(row, "yes_ask", "implied_yes_ask")
		row["no_ask"] = first(row, "no_ask", "implied_no_ask")
		row["yes_bid"] = first(row, "yes_bid", "best_yes_bid")
		row["no_bid"] = first(row, "no_bid", "best_no_bid")

		ts := row[tsCol]
		if ts == "" {
			continue
		}
		t, err := parseTimeFlexible(ts)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", rowIdx, err)
		}
		ticks = append(ticks, Tick{
			Ticker: TickerFromRow(row),
			State:  buildState(row),
			Time:   t,
			Source: filepath.Base(path),
			Row:    rowIdx,
		})
	}
	return ticks, nil
}
