package chain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/odin-telemetry/core/internal/feed"
	"github.com/odin-telemetry/core/internal/node"
	"github.com/odin-telemetry/core/internal/shardmsg"
	"github.com/odin-telemetry/core/internal/telemetry"
)

func testDetails() telemetry.NodeDetails {
	return telemetry.NodeDetails{Chain: "Polkadot", Name: "node-a", Implementation: "substrate", Version: "1.0.0"}
}

// takeBatch drains a chain's ordinary feed batch and unmarshals it into a
// slice of raw rows, one per pushed message.
func takeBatch(t *testing.T, c *Chain) []json.RawMessage {
	t.Helper()
	frame, ok := c.TakeFeedBatch()
	if !ok {
		t.Fatalf("expected a non-empty feed batch")
	}
	var rows []json.RawMessage
	if err := json.Unmarshal(frame, &rows); err != nil {
		t.Fatalf("unmarshal batch: %v", err)
	}
	return rows
}

// rowByAction finds the first row in rows whose action byte matches want,
// unmarshaled into its own []any-equivalent element slice.
func rowByAction(t *testing.T, rows []json.RawMessage, want int) []json.RawMessage {
	t.Helper()
	for _, r := range rows {
		var elems []json.RawMessage
		if err := json.Unmarshal(r, &elems); err != nil {
			t.Fatalf("unmarshal row: %v", err)
		}
		var action int
		if err := json.Unmarshal(elems[0], &action); err != nil {
			t.Fatalf("unmarshal action byte: %v", err)
		}
		if action == want {
			return elems
		}
	}
	t.Fatalf("no row with action %d in batch", want)
	return nil
}

func TestAddNodeEmitsFullAddedNodeRow(t *testing.T) {
	c := New("Polkadot", telemetry.BlockHash{1}, nil, 500)

	n := node.New(testDetails())
	n.UpdateStats(ptrU64(7), ptrU64(42))

	var hash telemetry.BlockHash
	hash[0] = 0xab
	n.UpdateBlock(telemetry.Block{Height: 100, Hash: hash})
	n.UpdateDetails(time.Unix(0, 0), 1_000, nil)

	id, added := c.AddNode(n)
	if !added {
		t.Fatalf("expected AddNode to succeed")
	}

	rows := takeBatch(t, c)
	row := rowByAction(t, rows, int(feed.ActionAddedNode))

	// [action, id, details, stats, io, hardware, blockDetails, location, startupTime]
	if len(row) != 9 {
		t.Fatalf("expected 9 elements in AddedNode row, got %d: %s", len(row), row)
	}

	var gotId NodeId
	if err := json.Unmarshal(row[1], &gotId); err != nil || gotId != id {
		t.Fatalf("AddedNode id = %s, want %d", row[1], id)
	}

	var stats [2]uint64
	if err := json.Unmarshal(row[3], &stats); err != nil {
		t.Fatalf("unmarshal stats: %v", err)
	}
	if stats != [2]uint64{7, 42} {
		t.Fatalf("AddedNode stats = %v, want [peers, txcount] = [7, 42]", stats)
	}

	var blockDetails []json.RawMessage
	if err := json.Unmarshal(row[6], &blockDetails); err != nil {
		t.Fatalf("unmarshal block details: %v", err)
	}
	if len(blockDetails) != 5 {
		t.Fatalf("block_details has %d elements, want 5: %s", len(blockDetails), row[6])
	}
	var height uint64
	_ = json.Unmarshal(blockDetails[0], &height)
	if height != 100 {
		t.Fatalf("block_details height = %d, want 100", height)
	}
	var hashStr string
	_ = json.Unmarshal(blockDetails[1], &hashStr)
	if hashStr != hash.String() {
		t.Fatalf("block_details hash = %s, want %s", hashStr, hash.String())
	}
	var timestampMs uint64
	_ = json.Unmarshal(blockDetails[3], &timestampMs)
	if timestampMs != 1000 {
		t.Fatalf("block_details block_timestamp_ms = %d, want 1000", timestampMs)
	}

	// location wasn't set, so it must serialize as JSON null, not an object.
	if string(row[7]) != "null" {
		t.Fatalf("AddedNode location = %s, want null", row[7])
	}
}

func TestAddNodeLocationIsPositionalArray(t *testing.T) {
	c := New("Polkadot", telemetry.BlockHash{2}, nil, 500)

	n := node.New(testDetails())
	n.UpdateLocation(telemetry.Location{Latitude: 52.5, Longitude: 13.4, City: "Berlin"})

	if _, added := c.AddNode(n); !added {
		t.Fatalf("expected AddNode to succeed")
	}

	rows := takeBatch(t, c)
	row := rowByAction(t, rows, int(feed.ActionAddedNode))

	var loc []json.RawMessage
	if err := json.Unmarshal(row[7], &loc); err != nil {
		t.Fatalf("AddedNode location did not decode as a JSON array (got object instead?): %v, raw=%s", err, row[7])
	}
	if len(loc) != 3 {
		t.Fatalf("location array has %d elements, want 3", len(loc))
	}
	var lat, long float64
	var city string
	_ = json.Unmarshal(loc[0], &lat)
	_ = json.Unmarshal(loc[1], &long)
	_ = json.Unmarshal(loc[2], &city)
	if lat != 52.5 || long != 13.4 || city != "Berlin" {
		t.Fatalf("location = [%v, %v, %q], want [52.5, 13.4, \"Berlin\"]", lat, long, city)
	}
}

func TestNodeStatsUpdateOrderIsPeersThenTxCount(t *testing.T) {
	c := New("Polkadot", telemetry.BlockHash{3}, nil, 500)

	n := node.New(testDetails())
	id, added := c.AddNode(n)
	if !added {
		t.Fatalf("expected AddNode to succeed")
	}
	_, _ = takeBatch(t, c) // drain the AddedNode batch

	peers, txCount := uint64(9), uint64(123)
	c.HandleUpdate(id, shardmsg.Payload{
		Kind: shardmsg.KindSystemInterval,
		SystemInterval: &shardmsg.SystemInterval{
			Peers:   &peers,
			TxCount: &txCount,
		},
	}, time.Unix(1, 0), 1_000)

	rows := takeBatch(t, c)
	row := rowByAction(t, rows, int(feed.ActionNodeStatsUpdate))

	var stats [2]uint64
	if err := json.Unmarshal(row[2], &stats); err != nil {
		t.Fatalf("unmarshal stats: %v", err)
	}
	if stats != [2]uint64{9, 123} {
		t.Fatalf("NodeStatsUpdate stats = %v, want [peers, txcount] = [9, 123]", stats)
	}
}

func TestImportedBlockEmitsFiveTupleBlockDetails(t *testing.T) {
	c := New("Polkadot", telemetry.BlockHash{4}, nil, 500)

	n := node.New(testDetails())
	id, added := c.AddNode(n)
	if !added {
		t.Fatalf("expected AddNode to succeed")
	}
	_, _ = takeBatch(t, c) // drain the AddedNode batch

	var hash telemetry.BlockHash
	hash[0] = 0xcd
	c.HandleUpdate(id, shardmsg.Payload{
		Kind:        shardmsg.KindBlockImport,
		BlockImport: &telemetry.Block{Height: 7, Hash: hash},
	}, time.Unix(1, 0), 5_000)

	rows := takeBatch(t, c)
	row := rowByAction(t, rows, int(feed.ActionImportedBlock))

	// [action, id, blockDetails]
	if len(row) != 3 {
		t.Fatalf("ImportedBlock row has %d elements, want 3: %s", len(row), row)
	}

	var blockDetails []json.RawMessage
	if err := json.Unmarshal(row[2], &blockDetails); err != nil {
		t.Fatalf("unmarshal block details: %v", err)
	}
	if len(blockDetails) != 5 {
		t.Fatalf("block_details has %d elements, want 5: %s", len(blockDetails), row[2])
	}
	var hashStr string
	_ = json.Unmarshal(blockDetails[1], &hashStr)
	if hashStr != hash.String() {
		t.Fatalf("block_details hash = %s, want %s", hashStr, hash.String())
	}
}

func TestFirstPartyLabelIsUnbounded(t *testing.T) {
	firstParty := map[string]bool{"Polkadot": true}
	c := New("Polkadot", telemetry.BlockHash{5}, firstParty, 1)

	for i := 0; i < 5; i++ {
		n := node.New(testDetails())
		if _, added := c.AddNode(n); !added {
			t.Fatalf("expected first-party chain to accept node %d past the third-party cap", i)
		}
	}
}

func TestThirdPartyLabelHitsQuota(t *testing.T) {
	firstParty := map[string]bool{"Polkadot": true}
	c := New("TestChain", telemetry.BlockHash{6}, firstParty, 1)

	n1 := node.New(telemetry.NodeDetails{Chain: "TestChain", Name: "n1"})
	if _, added := c.AddNode(n1); !added {
		t.Fatalf("expected the first node to be accepted")
	}

	n2 := node.New(telemetry.NodeDetails{Chain: "TestChain", Name: "n2"})
	if _, added := c.AddNode(n2); added {
		t.Fatalf("expected the second node on a non-first-party chain at cap 1 to be rejected")
	}
}

func TestFirstPartyExemptionTracksCurrentLabelNotCreationLabel(t *testing.T) {
	// A chain created under a third-party label that later renames to a
	// first-party label must pick up the exemption immediately, since
	// spec §4.4 computes the cap from the chain's *current* best label
	// (max_nodes(current_best_label)), not a value fixed at creation.
	firstParty := map[string]bool{"Polkadot": true}
	c := New("NotPolkadotYet", telemetry.BlockHash{7}, firstParty, 1)

	n1 := node.New(telemetry.NodeDetails{Chain: "NotPolkadotYet", Name: "n1"})
	if _, added := c.AddNode(n1); !added {
		t.Fatalf("expected the first node to be accepted")
	}
	if !c.AtCapacity() {
		t.Fatalf("expected the third-party chain to be at capacity after 1 node (cap 1)")
	}

	c.Label = "Polkadot"
	if c.AtCapacity() {
		t.Fatalf("expected the chain to become unbounded once its current label is first-party")
	}

	n2 := node.New(telemetry.NodeDetails{Chain: "Polkadot", Name: "n2"})
	if _, added := c.AddNode(n2); !added {
		t.Fatalf("expected a second node to be accepted once the chain's label is first-party")
	}
}

func ptrU64(v uint64) *uint64 { return &v }
