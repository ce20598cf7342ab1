// Package state is the single source of truth the aggregator mutates: the
// chain table keyed by genesis hash, the denylist, and the global NodeId
// identity that combines a chain with a chain-local node, matching spec
// §4.5.
package state

import (
	"time"

	"github.com/odin-telemetry/core/internal/chain"
	"github.com/odin-telemetry/core/internal/densemap"
	"github.com/odin-telemetry/core/internal/node"
	"github.com/odin-telemetry/core/internal/shardmsg"
	"github.com/odin-telemetry/core/internal/telemetry"
)

// ChainId identifies a live chain.
type ChainId = densemap.Id

// NodeId is a global node identity: which chain, and which node within it.
type NodeId struct {
	ChainId     ChainId
	ChainNodeId chain.NodeId
}

// AddOutcome reports what happened to an AddNode request.
type AddOutcome int

const (
	// AddedToChain means the node now lives in state.
	AddedToChain AddOutcome = iota
	// ChainOnDenylist means the chain label is denied and nothing changed.
	ChainOnDenylist
	// ChainOverQuota means the chain is a non-first-party chain already at
	// its node cap.
	ChainOverQuota
)

// AddResult carries the outcome of AddNode plus the chain-level context a
// caller needs to report it to feeds.
type AddResult struct {
	Outcome             AddOutcome
	NodeId              NodeId
	OldChainLabel       string
	NewChainLabel       string
	ChainNodeCount      int
	HasChainLabelChanged bool
}

// State owns every chain and the indices needed to find them.
type State struct {
	chains              *densemap.DenseMap[*chain.Chain]
	chainsByGenesisHash map[telemetry.BlockHash]ChainId
	denylist            map[string]bool
	maxThirdPartyNodes  int
	firstPartyLabels    map[string]bool
}

// New constructs an empty State. firstPartyLabels names the chain labels
// spec §4.4 exempts from the third-party node quota (the "FirstPartyNetworks"
// set, e.g. Polkadot/Kusama/Westend/Rococo); nil/empty falls back to
// chain.DefaultFirstPartyLabels.
func New(denylist []string, maxThirdPartyNodes int, firstPartyLabels []string) *State {
	deny := make(map[string]bool, len(denylist))
	for _, l := range denylist {
		deny[l] = true
	}
	if len(firstPartyLabels) == 0 {
		firstPartyLabels = chain.DefaultFirstPartyLabels
	}
	firstParty := make(map[string]bool, len(firstPartyLabels))
	for _, l := range firstPartyLabels {
		firstParty[l] = true
	}
	return &State{
		chains:              densemap.New[*chain.Chain](),
		chainsByGenesisHash: make(map[telemetry.BlockHash]ChainId),
		denylist:            deny,
		maxThirdPartyNodes:  maxThirdPartyNodes,
		firstPartyLabels:    firstParty,
	}
}

// ChainByNodeId returns the chain a node lives on.
func (s *State) ChainByNodeId(id NodeId) (*chain.Chain, bool) {
	return s.chains.Get(id.ChainId)
}

// ChainByGenesisHash looks a chain up by its genesis hash.
func (s *State) ChainByGenesisHash(hash telemetry.BlockHash) (*chain.Chain, bool) {
	cid, ok := s.chainsByGenesisHash[hash]
	if !ok {
		return nil, false
	}
	return s.chains.Get(cid)
}

// EachChain iterates every live chain.
func (s *State) EachChain(fn func(ChainId, *chain.Chain)) {
	s.chains.Each(fn)
}

// AddNode adds a node under the chain identified by genesisHash, creating
// the chain on first sight.
func (s *State) AddNode(genesisHash telemetry.BlockHash, details telemetry.NodeDetails) AddResult {
	if s.denylist[details.Chain] {
		return AddResult{Outcome: ChainOnDenylist}
	}

	cid, ok := s.chainsByGenesisHash[genesisHash]
	if !ok {
		maxNodes := s.maxThirdPartyNodes
		c := chain.New(details.Chain, genesisHash, s.firstPartyLabels, maxNodes)
		cid = s.chains.Insert(c)
		s.chainsByGenesisHash[genesisHash] = cid
	}

	c, _ := s.chains.Get(cid)
	oldLabel := c.Label

	cnid, added := c.AddNode(node.New(details))
	if !added {
		if c.Nodes.Len() == 0 {
			// The chain was created solely for this rejected node; drop it.
			delete(s.chainsByGenesisHash, genesisHash)
			s.chains.Remove(cid)
		}
		return AddResult{Outcome: ChainOverQuota}
	}

	return AddResult{
		Outcome:              AddedToChain,
		NodeId:               NodeId{ChainId: cid, ChainNodeId: cnid},
		OldChainLabel:        oldLabel,
		NewChainLabel:        c.Label,
		ChainNodeCount:       c.Nodes.Len(),
		HasChainLabelChanged: oldLabel != c.Label,
	}
}

// RemovedNode reports the chain-level effects of removing a node.
type RemovedNode struct {
	ChainNodeCount       int
	HasChainLabelChanged bool
	OldChainLabel        string
	ChainGenesisHash     telemetry.BlockHash
	NewChainLabel        string
	ChainDropped         bool
}

// RemoveNode removes a node from its chain, dropping the chain entirely if
// it becomes empty.
func (s *State) RemoveNode(id NodeId) (RemovedNode, bool) {
	c, ok := s.chains.Get(id.ChainId)
	if !ok {
		return RemovedNode{}, false
	}
	oldLabel := c.Label
	genesisHash := c.GenesisHash
	c.RemoveNode(id.ChainNodeId)
	newLabel := c.Label
	count := c.Nodes.Len()

	dropped := false
	if count == 0 {
		delete(s.chainsByGenesisHash, genesisHash)
		s.chains.Remove(id.ChainId)
		dropped = true
	}

	return RemovedNode{
		ChainNodeCount:       count,
		HasChainLabelChanged: oldLabel != newLabel,
		OldChainLabel:        oldLabel,
		ChainGenesisHash:     genesisHash,
		NewChainLabel:        newLabel,
		ChainDropped:         dropped,
	}, true
}

// UpdateNode applies a decoded payload to the node's owning chain.
func (s *State) UpdateNode(id NodeId, payload shardmsg.Payload, now time.Time, nowMs uint64) {
	c, ok := s.chains.Get(id.ChainId)
	if !ok {
		return
	}
	c.HandleUpdate(id.ChainNodeId, payload, now, nowMs)
}

// UpdateNodeLocation records a located node, reporting whether it found
// the node.
func (s *State) UpdateNodeLocation(id NodeId, loc telemetry.Location) bool {
	c, ok := s.chains.Get(id.ChainId)
	if !ok {
		return false
	}
	if _, ok := c.Nodes.Get(id.ChainNodeId); !ok {
		return false
	}
	c.HandleLocation(id.ChainNodeId, loc)
	return true
}
