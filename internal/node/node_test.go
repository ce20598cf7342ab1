package node

import (
	"testing"
	"time"

	"github.com/odin-telemetry/core/internal/telemetry"
)

func TestUpdateDetailsComputesBlockTimeMsFromPreviousImport(t *testing.T) {
	n := New(telemetry.NodeDetails{Chain: "Polkadot", Name: "n"})

	n.UpdateBlock(telemetry.Block{Height: 1})
	n.UpdateDetails(time.Unix(0, 0), 1_000, nil)
	if n.Best.BlockTimeMs != 0 {
		t.Fatalf("first import should not set a BlockTimeMs delta, got %d", n.Best.BlockTimeMs)
	}

	n.UpdateBlock(telemetry.Block{Height: 2})
	n.UpdateDetails(time.Unix(6, 0), 6_500, nil)
	if n.Best.BlockTimeMs != 5_500 {
		t.Fatalf("BlockTimeMs = %d, want 5500 (6500 - 1000)", n.Best.BlockTimeMs)
	}
}

func TestUpdateStatsReportsChange(t *testing.T) {
	n := New(telemetry.NodeDetails{Chain: "Polkadot", Name: "n"})

	peers, tx := uint64(3), uint64(10)
	if !n.UpdateStats(&peers, &tx) {
		t.Fatalf("expected UpdateStats to report a change on first call")
	}
	if n.Stats.Peers != 3 || n.Stats.TxCount != 10 {
		t.Fatalf("Stats = %+v, want {Peers:3 TxCount:10}", n.Stats)
	}
	if n.UpdateStats(&peers, &tx) {
		t.Fatalf("expected UpdateStats to report no change when values are unchanged")
	}
}
