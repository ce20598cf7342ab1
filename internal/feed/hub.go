package feed

import "sync"

// Id identifies one connected feed client for the lifetime of its
// websocket connection, matching the original's FeedId.
type Id uint64

// Subscriber receives already-framed websocket messages for one feed
// connection. Disconnect is called when the subscriber's queue
// overflowed and the caller (aggregator) has decided to drop it.
type Subscriber interface {
	Enqueue(frame []byte) bool
	Disconnect()
}

// Hub tracks every connected feed, which chain (if any) each is
// subscribed to, and which subscribers additionally asked for the raw
// GRANDPA finality stream, mirroring the original's feed_channels /
// feed_to_chain / chain_to_feeds / finality_feeds tables (core/src/chain.rs,
// core/src/feed/connector.rs).
type Hub struct {
	mu sync.Mutex

	nextID Id
	feeds  map[Id]Subscriber

	feedToChain   map[Id]string
	chainToFeeds  map[string]map[Id]bool
	finalityFeeds map[string]map[Id]bool
}

// NewHub returns an empty Hub.
func NewHub() *Hub {
	return &Hub{
		feeds:         make(map[Id]Subscriber),
		feedToChain:   make(map[Id]string),
		chainToFeeds:  make(map[string]map[Id]bool),
		finalityFeeds: make(map[string]map[Id]bool),
	}
}

// Connect registers a freshly opened feed connection and returns its Id.
func (h *Hub) Connect(sub Subscriber) Id {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	id := h.nextID
	h.feeds[id] = sub
	return id
}

// Disconnect removes a feed from every table it may appear in.
func (h *Hub) Disconnect(id Id) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeSubscriptionLocked(id)
	delete(h.feeds, id)
}

// Subscribe moves id's subscription to chain, returning the chain it
// was previously subscribed to (empty if none) and whether this is an
// actual change the caller must react to (send a fresh snapshot). A
// no-op re-subscribe to the same chain returns changed=false, mirroring
// the connector's chain_label_hash short-circuit.
func (h *Hub) Subscribe(id Id, chain string) (previous string, changed bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	previous = h.feedToChain[id]
	if previous == chain {
		return previous, false
	}

	h.removeSubscriptionLocked(id)

	h.feedToChain[id] = chain
	set, ok := h.chainToFeeds[chain]
	if !ok {
		set = make(map[Id]bool)
		h.chainToFeeds[chain] = set
	}
	set[id] = true
	return previous, true
}

// Unsubscribe clears id's current chain subscription, e.g. when the
// chain it was watching disappears.
func (h *Hub) Unsubscribe(id Id) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeSubscriptionLocked(id)
}

func (h *Hub) removeSubscriptionLocked(id Id) {
	if chain, ok := h.feedToChain[id]; ok {
		if set := h.chainToFeeds[chain]; set != nil {
			delete(set, id)
			if len(set) == 0 {
				delete(h.chainToFeeds, chain)
			}
		}
		delete(h.feedToChain, id)
	}
	if chain, ok := h.subscribedFinalityChain(id); ok {
		if set := h.finalityFeeds[chain]; set != nil {
			delete(set, id)
			if len(set) == 0 {
				delete(h.finalityFeeds, chain)
			}
		}
	}
}

func (h *Hub) subscribedFinalityChain(id Id) (string, bool) {
	for chain, set := range h.finalityFeeds {
		if set[id] {
			return chain, true
		}
	}
	return "", false
}

// SendFinality opts id into the raw finality stream for whatever chain
// it is currently subscribed to.
func (h *Hub) SendFinality(id Id) {
	h.mu.Lock()
	defer h.mu.Unlock()
	chain, ok := h.feedToChain[id]
	if !ok {
		return
	}
	set, ok := h.finalityFeeds[chain]
	if !ok {
		set = make(map[Id]bool)
		h.finalityFeeds[chain] = set
	}
	set[id] = true
}

// NoMoreFinality opts id back out of the raw finality stream.
func (h *Hub) NoMoreFinality(id Id) {
	h.mu.Lock()
	defer h.mu.Unlock()
	chain, ok := h.feedToChain[id]
	if !ok {
		return
	}
	if set := h.finalityFeeds[chain]; set != nil {
		delete(set, id)
		if len(set) == 0 {
			delete(h.finalityFeeds, chain)
		}
	}
}

// SendTo delivers frame to exactly one feed, e.g. a Pong or
// SubscribedTo confirmation. It reports whether the feed accepted the
// frame.
func (h *Hub) SendTo(id Id, frame []byte) bool {
	h.mu.Lock()
	sub, ok := h.feeds[id]
	h.mu.Unlock()
	if !ok {
		return false
	}
	return sub.Enqueue(frame)
}

// Broadcast delivers frame to every feed subscribed to chain, and
// returns the ids that rejected it (over its write queue) so the
// caller can disconnect them.
func (h *Hub) Broadcast(chain string, frame []byte) []Id {
	h.mu.Lock()
	ids := make([]Id, 0, len(h.chainToFeeds[chain]))
	for id := range h.chainToFeeds[chain] {
		ids = append(ids, id)
	}
	subs := make(map[Id]Subscriber, len(ids))
	for _, id := range ids {
		subs[id] = h.feeds[id]
	}
	h.mu.Unlock()

	var overflowed []Id
	for _, id := range ids {
		if sub := subs[id]; sub != nil && !sub.Enqueue(frame) {
			overflowed = append(overflowed, id)
		}
	}
	return overflowed
}

// BroadcastFinality delivers frame only to feeds that called
// SendFinality for chain, bypassing everyone else's normal feed.
func (h *Hub) BroadcastFinality(chain string, frame []byte) []Id {
	h.mu.Lock()
	ids := make([]Id, 0, len(h.finalityFeeds[chain]))
	for id := range h.finalityFeeds[chain] {
		ids = append(ids, id)
	}
	subs := make(map[Id]Subscriber, len(ids))
	for _, id := range ids {
		subs[id] = h.feeds[id]
	}
	h.mu.Unlock()

	var overflowed []Id
	for _, id := range ids {
		if sub := subs[id]; sub != nil && !sub.Enqueue(frame) {
			overflowed = append(overflowed, id)
		}
	}
	return overflowed
}

// BroadcastAll delivers frame to every connected feed regardless of
// chain subscription, for chain-list-level events (AddedChain,
// RemovedChain) every dashboard sees up front.
func (h *Hub) BroadcastAll(frame []byte) []Id {
	h.mu.Lock()
	ids := make([]Id, 0, len(h.feeds))
	subs := make(map[Id]Subscriber, len(h.feeds))
	for id, sub := range h.feeds {
		ids = append(ids, id)
		subs[id] = sub
	}
	h.mu.Unlock()

	var overflowed []Id
	for _, id := range ids {
		if sub := subs[id]; sub != nil && !sub.Enqueue(frame) {
			overflowed = append(overflowed, id)
		}
	}
	return overflowed
}

// Drop disconnects and fully removes id, for callers that already
// decided (e.g. a write-queue overflow) that a feed must go.
func (h *Hub) Drop(id Id) {
	h.mu.Lock()
	sub := h.feeds[id]
	h.mu.Unlock()
	if sub != nil {
		sub.Disconnect()
	}
	h.Disconnect(id)
}

// ChainOf returns the chain id is currently subscribed to, if any.
func (h *Hub) ChainOf(id Id) (string, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	chain, ok := h.feedToChain[id]
	return chain, ok
}

// EncodeSubscribedTo builds the confirmation message sent to the
// subscribing feed alone.
func EncodeSubscribedTo(chain string) []byte {
	s := NewSerializer()
	s.Push(ActionSubscribedTo, chain)
	frame, _ := s.Finalize()
	return frame
}

// EncodeUnsubscribedFrom builds the message sent to a feed that just
// lost its chain (the chain disappeared, or it resubscribed elsewhere).
func EncodeUnsubscribedFrom(chain string) []byte {
	s := NewSerializer()
	s.Push(ActionUnsubscribedFrom, chain)
	frame, _ := s.Finalize()
	return frame
}

// EncodePong builds the reply to a feed's ping:<payload> command.
func EncodePong(payload string) []byte {
	s := NewSerializer()
	s.Push(ActionPong, payload)
	frame, _ := s.Finalize()
	return frame
}
