package state

import (
	"encoding/json"
	"testing"

	"github.com/odin-telemetry/core/internal/telemetry"
)

func details(chainLabel string) telemetry.NodeDetails {
	return telemetry.NodeDetails{Chain: chainLabel, Name: "n", Implementation: "substrate", Version: "1.0.0"}
}

func TestAddNodeRejectsDenylistedChain(t *testing.T) {
	s := New([]string{"Forbidden"}, 500, nil)

	result := s.AddNode(telemetry.BlockHash{1}, details("Forbidden"))
	if result.Outcome != ChainOnDenylist {
		t.Fatalf("Outcome = %v, want ChainOnDenylist", result.Outcome)
	}
}

func TestAddNodeEnforcesThirdPartyQuota(t *testing.T) {
	s := New(nil, 2, nil)
	genesis := telemetry.BlockHash{2}

	for i := 0; i < 2; i++ {
		result := s.AddNode(genesis, details("TestChain"))
		if result.Outcome != AddedToChain {
			t.Fatalf("node %d: Outcome = %v, want AddedToChain", i, result.Outcome)
		}
	}

	result := s.AddNode(genesis, details("TestChain"))
	if result.Outcome != ChainOverQuota {
		t.Fatalf("third node: Outcome = %v, want ChainOverQuota", result.Outcome)
	}
}

func TestDefaultFirstPartyChainsAreUnbounded(t *testing.T) {
	// nil firstPartyLabels falls back to chain.DefaultFirstPartyLabels
	// (Polkadot/Kusama/Westend/Rococo), which must stay exempt from
	// maxThirdPartyNodes even when it's set very low.
	s := New(nil, 1, nil)
	genesis := telemetry.BlockHash{3}

	for i := 0; i < 5; i++ {
		result := s.AddNode(genesis, details("Polkadot"))
		if result.Outcome != AddedToChain {
			t.Fatalf("Polkadot node %d: Outcome = %v, want AddedToChain (first-party should be unbounded)", i, result.Outcome)
		}
	}
}

func TestExplicitFirstPartyListOverridesDefault(t *testing.T) {
	// A caller-supplied list replaces, rather than extends, the default:
	// Polkadot is no longer exempt once a custom list is given.
	s := New(nil, 1, []string{"MyChain"})
	genesis := telemetry.BlockHash{4}

	first := s.AddNode(genesis, details("Polkadot"))
	if first.Outcome != AddedToChain {
		t.Fatalf("first Polkadot node: Outcome = %v, want AddedToChain", first.Outcome)
	}
	second := s.AddNode(genesis, details("Polkadot"))
	if second.Outcome != ChainOverQuota {
		t.Fatalf("second Polkadot node: Outcome = %v, want ChainOverQuota once Polkadot isn't on the custom first-party list", second.Outcome)
	}
}

func TestAddNodeEmitsAddedNodeWithPeersBeforeTxCount(t *testing.T) {
	s := New(nil, 500, nil)
	genesis := telemetry.BlockHash{5}

	result := s.AddNode(genesis, details("Polkadot"))
	if result.Outcome != AddedToChain {
		t.Fatalf("Outcome = %v, want AddedToChain", result.Outcome)
	}

	c, ok := s.ChainByGenesisHash(genesis)
	if !ok {
		t.Fatalf("expected to find the chain by genesis hash")
	}

	frame, ok := c.TakeFeedBatch()
	if !ok {
		t.Fatalf("expected a non-empty feed batch after AddNode")
	}

	var rows []json.RawMessage
	if err := json.Unmarshal(frame, &rows); err != nil {
		t.Fatalf("unmarshal batch: %v", err)
	}
	var row []json.RawMessage
	for _, r := range rows {
		var elems []json.RawMessage
		_ = json.Unmarshal(r, &elems)
		var action int
		_ = json.Unmarshal(elems[0], &action)
		if action == 3 { // feed.ActionAddedNode
			row = elems
			break
		}
	}
	if row == nil {
		t.Fatalf("no AddedNode row in batch: %s", frame)
	}

	var stats [2]uint64
	if err := json.Unmarshal(row[3], &stats); err != nil {
		t.Fatalf("unmarshal stats: %v", err)
	}
	if stats != [2]uint64{0, 0} {
		t.Fatalf("stats = %v, want [0, 0] for a freshly added node", stats)
	}
}

func TestRemoveNodeDropsEmptyChain(t *testing.T) {
	s := New(nil, 500, nil)
	genesis := telemetry.BlockHash{6}

	result := s.AddNode(genesis, details("Solo"))
	if result.Outcome != AddedToChain {
		t.Fatalf("Outcome = %v, want AddedToChain", result.Outcome)
	}

	removed, ok := s.RemoveNode(result.NodeId)
	if !ok {
		t.Fatalf("expected RemoveNode to find the node")
	}
	if !removed.ChainDropped {
		t.Fatalf("expected the chain to be dropped once its only node left")
	}
	if _, ok := s.ChainByGenesisHash(genesis); ok {
		t.Fatalf("expected the chain to no longer be reachable by genesis hash")
	}
}
