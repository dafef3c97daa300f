package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sdibella/kalshi-btc15m/internal/market"
)

func writeSnapshotFile(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "snapshot.json")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("writing snapshot fixture: %v", err)
	}
	return path
}

func TestLoadSnapshot(t *testing.T) {
	path := writeSnapshotFile(t, `{
		"timestamp": "2026-01-09 12:00:00",
		"balance": 150.25,
		"daily_start_equity": 200,
		"positions": {
			"KXBTC15M-26JAN09-T70375": {"yes": 5, "no": 0, "cost": 2.50},
			"KXBTC15M-26JAN10-T70500": {"yes": 0, "no": 3, "cost": 1.20}
		}
	}`)

	snap, err := LoadSnapshot(path)
	if err != nil {
		t.Fatalf("LoadSnapshot error: %v", err)
	}
	if snap.Balance != 150.25 {
		t.Errorf("Balance = %v, want 150.25", snap.Balance)
	}
	if len(snap.Positions) != 2 {
		t.Fatalf("len(Positions) = %d, want 2", len(snap.Positions))
	}

	positions := SnapshotPositions(snap)
	pos := positions["KXBTC15M-26JAN09-T70375"]
	if pos.Yes != 5 || pos.No != 0 {
		t.Errorf("position for first ticker = %+v, want {Yes:5 No:0}", pos)
	}
	costFloat, _ := pos.Cost.Float64()
	if costFloat != 2.50 {
		t.Errorf("position cost = %v, want 2.50", costFloat)
	}
}

func TestLoadSnapshotMissingFile(t *testing.T) {
	if _, err := LoadSnapshot("/nonexistent/snapshot.json"); err == nil {
		t.Error("LoadSnapshot on a missing file should error")
	}
}

// TestSnapshotTimeSpecFormat covers spec §6.2's documented
// "YYYY-MM-DD HH:MM:SS" timestamp layout.
func TestSnapshotTimeSpecFormat(t *testing.T) {
	path := writeSnapshotFile(t, `{"timestamp": "2026-01-09 12:30:45", "balance": 100, "daily_start_equity": 100, "positions": {}}`)
	snap, err := LoadSnapshot(path)
	if err != nil {
		t.Fatalf("LoadSnapshot error: %v", err)
	}
	got := SnapshotTime(snap)
	want := time.Date(2026, 1, 9, 12, 30, 45, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("SnapshotTime() = %v, want %v", got, want)
	}
}

func TestSnapshotTimeMalformedDefaultsToNow(t *testing.T) {
	snap := &market.PortfolioSnapshot{Timestamp: "not-a-timestamp"}
	got := SnapshotTime(snap)
	if time.Since(got) > time.Minute {
		t.Errorf("SnapshotTime() on malformed timestamp = %v, want approximately now", got)
	}
}
