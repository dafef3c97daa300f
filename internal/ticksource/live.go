package ticksource

import (
	"bufio"
	"context"
	"encoding/csv"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

// LiveLogConfig configures Follow's polling and heartbeat cadence, matching
// original_source's iter_ticks_from_live_log(follow=True) defaults.
type LiveLogConfig struct {
	PollInterval      time.Duration
	HeartbeatInterval time.Duration
	// UseIngestTimestamp selects "ingest_timestamp" over "tick_timestamp"
	// as the tick clock, mirroring the source's use_ingest flag.
	UseIngestTimestamp bool
}

// DefaultLiveLogConfig matches the source's poll_s=0.5, heartbeat_s=30.
func DefaultLiveLogConfig() LiveLogConfig {
	return LiveLogConfig{PollInterval: 500 * time.Millisecond, HeartbeatInterval: 30 * time.Second}
}

// Follow tails path, a CSV being appended to by a live collector, emitting
// a Tick per new row onto the returned channel until ctx is cancelled. The
// channel is closed on cancellation or a fatal read error. Waits for the
// file to exist before opening, and emits a FOLLOW_WAIT diagnostic via
// logger every HeartbeatInterval while idle, grounded on
// iter_ticks_from_live_log's follow branch.
func Follow(ctx context.Context, path string, cfg LiveLogConfig, logger *slog.Logger) <-chan Tick {
	out := make(chan Tick)
	if logger == nil {
		logger = slog.Default()
	}
	go func() {
		defer close(out)

		lastHeartbeat := time.Now()
		var lastTickTime time.Time

		for {
			if _, err := os.Stat(path); err == nil {
				break
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(cfg.PollInterval):
			}
			if time.Since(lastHeartbeat) >= cfg.HeartbeatInterval {
				logger.Info("FOLLOW_WAIT", "source", "live_log", "tick_ts", lastTickTime)
				lastHeartbeat = time.Now()
			}
		}

		f, err := os.Open(path)
		if err != nil {
			logger.Error("opening live log", "error", err)
			return
		}
		defer f.Close()

		reader := bufio.NewReader(f)
		headerLine, err := reader.ReadString('\n')
		if err != nil && err != io.EOF {
			logger.Error("reading live log header", "error", err)
			return
		}
		headers := splitHeader(headerLine)
		if len(headers) == 0 {
			return
		}
		tsCol := "timestamp"
		for _, h := range headers {
			if h == "tick_timestamp" {
				tsCol = "tick_timestamp"
				if cfg.UseIngestTimestamp {
					tsCol = "ingest_timestamp"
				}
				break
			}
		}

		seq := 0
		var pending string
		for {
			chunk, err := reader.ReadString('\n')
			if err == io.EOF {
				// A row write may straddle two poll ticks; hold the partial
				// bytes already consumed from the reader instead of discarding
				// them, the way the source's handle.seek(position) retry
				// preserves unread data across polls.
				pending += chunk
				select {
				case <-ctx.Done():
					return
				case <-time.After(cfg.PollInterval):
				}
				if time.Since(lastHeartbeat) >= cfg.HeartbeatInterval {
					logger.Info("FOLLOW_WAIT", "source", "live_log", "tick_ts", lastTickTime)
					lastHeartbeat = time.Now()
				}
				continue
			}
			if err != nil {
				logger.Error("reading live log", "error", err)
				return
			}
			line := pending + chunk
			pending = ""
			if strings.TrimSpace(line) == "" {
				continue
			}

			row, err := parseCSVLine(headers, line)
			if err != nil {
				continue
			}
			ts := row[tsCol]
			if ts == "" {
				continue
			}
			t, err := parseTimeFlexible(ts)
			if err != nil {
				continue
			}
			seq++
			lastTickTime = t
			tick := Tick{
				Ticker: TickerFromRow(row),
				State:  buildState(row),
				Time:   t,
				Seq:    seq,
				Source: "live_log",
			}
			select {
			case out <- tick:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

func splitHeader(line string) []string {
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return nil
	}
	fields := strings.Split(line, ",")
	for i, f := range fields {
		fields[i] = strings.ToLower(strings.TrimSpace(f))
	}
	return fields
}

func parseCSVLine(headers []string, line string) (map[string]string, error) {
	r := csv.NewReader(strings.NewReader(line))
	r.FieldsPerRecord = -1
	rec, err := r.Read()
	if err != nil {
		return nil, err
	}
	row := make(map[string]string, len(headers))
	for i, h := range headers {
		if i < len(rec) {
			row[h] = strings.TrimSpace(rec[i])
		}
	}
	return row, nil
}
