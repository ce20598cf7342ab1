package feed

import "testing"

type fakeSub struct {
	frames       [][]byte
	reject       bool
	disconnected bool
}

func (f *fakeSub) Enqueue(frame []byte) bool {
	if f.reject {
		return false
	}
	f.frames = append(f.frames, frame)
	return true
}

func (f *fakeSub) Disconnect() {
	f.disconnected = true
}

func TestHubSubscribeChangeAndBroadcast(t *testing.T) {
	h := NewHub()
	a := &fakeSub{}
	id := h.Connect(a)

	if _, changed := h.Subscribe(id, "Polkadot"); !changed {
		t.Fatalf("first subscribe should report changed")
	}
	if _, changed := h.Subscribe(id, "Polkadot"); changed {
		t.Fatalf("resubscribing to the same chain should be a no-op")
	}

	overflowed := h.Broadcast("Polkadot", []byte(`[[1,2]]`))
	if len(overflowed) != 0 {
		t.Fatalf("did not expect overflow, got %v", overflowed)
	}
	if len(a.frames) != 1 {
		t.Fatalf("expected 1 delivered frame, got %d", len(a.frames))
	}

	if _, changed := h.Subscribe(id, "Kusama"); !changed {
		t.Fatalf("switching chains should report changed")
	}
	h.Broadcast("Polkadot", []byte(`[[1,2]]`))
	if len(a.frames) != 1 {
		t.Fatalf("feed should no longer receive Polkadot broadcasts, got %d frames", len(a.frames))
	}
}

func TestHubFinalityIsOptIn(t *testing.T) {
	h := NewHub()
	a := &fakeSub{}
	id := h.Connect(a)
	h.Subscribe(id, "Polkadot")

	h.BroadcastFinality("Polkadot", []byte(`[[16]]`))
	if len(a.frames) != 0 {
		t.Fatalf("should not receive finality stream before opting in")
	}

	h.SendFinality(id)
	h.BroadcastFinality("Polkadot", []byte(`[[16]]`))
	if len(a.frames) != 1 {
		t.Fatalf("expected finality frame after send-finality, got %d", len(a.frames))
	}

	h.NoMoreFinality(id)
	h.BroadcastFinality("Polkadot", []byte(`[[16]]`))
	if len(a.frames) != 1 {
		t.Fatalf("should stop receiving finality after no-more-finality")
	}
}

func TestHubBroadcastReportsOverflow(t *testing.T) {
	h := NewHub()
	slow := &fakeSub{reject: true}
	id := h.Connect(slow)
	h.Subscribe(id, "Polkadot")

	overflowed := h.Broadcast("Polkadot", []byte(`[[1]]`))
	if len(overflowed) != 1 || overflowed[0] != id {
		t.Fatalf("expected %v to overflow, got %v", id, overflowed)
	}
}

func TestHubDisconnectClearsSubscriptions(t *testing.T) {
	h := NewHub()
	a := &fakeSub{}
	id := h.Connect(a)
	h.Subscribe(id, "Polkadot")
	h.SendFinality(id)

	h.Disconnect(id)

	if chain, ok := h.ChainOf(id); ok {
		t.Fatalf("expected no subscription after disconnect, got %q", chain)
	}
	overflowed := h.Broadcast("Polkadot", []byte(`[[1]]`))
	if len(overflowed) != 0 {
		t.Fatalf("disconnected feed should not be broadcast to")
	}
}

func TestParseCommand(t *testing.T) {
	cases := []struct {
		in      string
		wantCmd string
		wantVal string
		wantOk  bool
	}{
		{"subscribe:Polkadot", "subscribe", "Polkadot", true},
		{"ping:1234", "ping", "1234", true},
		{"no-colon", "", "", false},
	}
	for _, tc := range cases {
		cmd, ok := ParseCommand(tc.in)
		if ok != tc.wantOk {
			t.Fatalf("ParseCommand(%q) ok = %v, want %v", tc.in, ok, tc.wantOk)
		}
		if ok && (cmd.Name != tc.wantCmd || cmd.Payload != tc.wantVal) {
			t.Fatalf("ParseCommand(%q) = %+v, want {%s %s}", tc.in, cmd, tc.wantCmd, tc.wantVal)
		}
	}
}
