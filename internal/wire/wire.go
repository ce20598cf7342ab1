// Package wire defines the shard<->core binary messages sent over
// CoreLink (spec §4.2), gob-encoded. No third-party binary codec in the
// reference pack targets this exact shard/core split, so this package
// falls back to the standard library's encoding/gob (see DESIGN.md).
package wire

import (
	"bytes"
	"encoding/gob"
	"fmt"

	"github.com/odin-telemetry/core/internal/shardmsg"
	"github.com/odin-telemetry/core/internal/telemetry"
)

// LocalId is shard-unique, assigned by the shard from the
// (connection, message_id) pair via an AssignId arena (spec §4.7).
type LocalId uint64

// MuteReason explains why core told a shard to stop forwarding a node.
type MuteReason string

const (
	MuteOverquota       MuteReason = "Overquota"
	MuteChainNotAllowed MuteReason = "ChainNotAllowed"
)

// Kind tags which variant a Message carries, since gob needs a
// concrete, registered type per value but CoreLink wants one frame type.
type Kind byte

const (
	KindAddNode    Kind = 1
	KindUpdateNode Kind = 2
	KindRemoveNode Kind = 3
	KindMute       Kind = 4
)

// AddNode is sent shard->core the first time a local node connects.
type AddNode struct {
	LocalId     LocalId
	IP          string // empty if unknown
	Node        telemetry.NodeDetails
	GenesisHash telemetry.BlockHash
}

// UpdateNode forwards any subsequent telemetry payload for a known local
// node.
type UpdateNode struct {
	LocalId LocalId
	Payload shardmsg.Payload
}

// RemoveNode tells core a local node's underlying socket is gone.
type RemoveNode struct {
	LocalId LocalId
}

// Mute tells a shard to stop forwarding updates for a local node, because
// core rejected it (denylist or quota).
type Mute struct {
	LocalId LocalId
	Reason  MuteReason
}

// Message is one frame on the shard<->core link: exactly one of the
// pointer fields is non-nil, selected by Kind.
type Message struct {
	Kind       Kind
	AddNode    *AddNode
	UpdateNode *UpdateNode
	RemoveNode *RemoveNode
	Mute       *Mute
}

// Encode gob-encodes msg into a single binary frame.
func Encode(msg Message) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(msg); err != nil {
		return nil, fmt.Errorf("encode wire message: %w", err)
	}
	return buf.Bytes(), nil
}

// Decode parses a single binary frame produced by Encode.
func Decode(frame []byte) (Message, error) {
	var msg Message
	if err := gob.NewDecoder(bytes.NewReader(frame)).Decode(&msg); err != nil {
		return Message{}, fmt.Errorf("decode wire message: %w", err)
	}
	return msg, nil
}
