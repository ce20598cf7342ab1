// Package feed implements the wire encoding sent to subscribed browser
// feeds: each message is a JSON array whose first element is an action
// byte and whose remaining elements are the message's own fields,
// matching spec §4.6.
package feed

import (
	"bytes"
	"encoding/json"

	"github.com/odin-telemetry/core/internal/telemetry"
)

// Action identifies the shape of a feed message's payload.
type Action byte

const (
	ActionVersion          Action = 0
	ActionBestBlock        Action = 1
	ActionBestFinalized    Action = 2
	ActionAddedNode        Action = 3
	ActionRemovedNode      Action = 4
	ActionLocatedNode      Action = 5
	ActionImportedBlock    Action = 6
	ActionFinalizedBlock   Action = 7
	ActionNodeStatsUpdate  Action = 8
	ActionHardware         Action = 9
	ActionTimeSync         Action = 10
	ActionAddedChain       Action = 11
	ActionRemovedChain     Action = 12
	ActionSubscribedTo     Action = 13
	ActionUnsubscribedFrom Action = 14
	ActionPong             Action = 15
	ActionAfgFinalized     Action = 16
	ActionAfgReceivedPrevote   Action = 17
	ActionAfgReceivedPrecommit Action = 18
	ActionAfgAuthoritySet      Action = 19
	ActionStaleNode            Action = 20
	ActionNodeIOUpdate         Action = 21
)

// Serializer accumulates feed messages into a single JSON array, batching
// many logical updates into one websocket frame the way the teacher's
// envelope batches multiple events per write.
type Serializer struct {
	buf bytes.Buffer
}

// NewSerializer returns an empty Serializer.
func NewSerializer() *Serializer {
	return &Serializer{}
}

// Push appends one tagged message: [action, field...]. fields are
// marshaled positionally, mirroring the tuple-style payloads the feed
// protocol expects.
func (s *Serializer) Push(action Action, fields ...any) {
	if s.buf.Len() == 0 {
		s.buf.WriteByte('[')
	} else {
		s.buf.WriteByte(',')
	}
	row := make([]any, 0, len(fields)+1)
	row = append(row, action)
	row = append(row, fields...)
	b, err := json.Marshal(row)
	if err != nil {
		// A field that cannot marshal is a caller bug; undo the glue byte
		// we just wrote so the batch stays valid JSON without this entry.
		s.buf.Truncate(s.buf.Len() - 1)
		return
	}
	s.buf.Write(b)
}

// Finalize returns the accumulated batch as a single JSON array and resets
// the serializer, or returns (nil, false) if nothing was pushed.
func (s *Serializer) Finalize() ([]byte, bool) {
	if s.buf.Len() == 0 {
		return nil, false
	}
	s.buf.WriteByte(']')
	out := make([]byte, s.buf.Len())
	copy(out, s.buf.Bytes())
	s.buf.Reset()
	return out, true
}

// NodeDetailsRow is the tuple-shaped encoding of NodeDetails used inside
// AddedNode, matching the original (name, implementation, version,
// validator, network_id) ordering.
func NodeDetailsRow(d telemetry.NodeDetails) [5]any {
	return [5]any{d.Name, d.Implementation, d.Version, d.Validator, d.NetworkID}
}
