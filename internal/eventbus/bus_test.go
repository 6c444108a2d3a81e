package eventbus

import (
	"sync"
	"testing"
)

func newTestBus() *Bus {
	return &Bus{
		source:    "test",
		fallbacks: make(map[Channel][]FallbackFunc),
		pending:   make(map[string]chan Envelope),
	}
}

func TestChannels_ReturnsFourLogicalChannels(t *testing.T) {
	chs := Channels()
	if len(chs) != 4 {
		t.Fatalf("len(Channels()) = %d, want 4", len(chs))
	}
	want := map[Channel]bool{ChannelDepot: true, ChannelRoute: true, ChannelVehicle: true, ChannelSystem: true}
	for _, c := range chs {
		if !want[c] {
			t.Fatalf("unexpected channel %q", c)
		}
	}
}

func TestBuildEnvelope_SetsIDSourceAndCorrelation(t *testing.T) {
	b := newTestBus()
	env, err := b.buildEnvelope("rider:spawned", "corr-1", map[string]string{"rider_id": "r1"})
	if err != nil {
		t.Fatalf("buildEnvelope: %v", err)
	}
	if env.ID == "" {
		t.Fatal("expected a generated envelope id")
	}
	if env.Source != "test" {
		t.Fatalf("source = %q, want %q", env.Source, "test")
	}
	if env.CorrelationID != "corr-1" {
		t.Fatalf("correlation id = %q, want corr-1", env.CorrelationID)
	}
	if env.Type != "rider:spawned" {
		t.Fatalf("type = %q, want rider:spawned", env.Type)
	}
}

func TestDeliverLocal_FiresFallbacksOnlyWhenDisconnected(t *testing.T) {
	b := newTestBus()
	var mu sync.Mutex
	fired := 0
	b.RegisterFallback(ChannelVehicle, func(env Envelope) {
		mu.Lock()
		fired++
		mu.Unlock()
	})

	env := Envelope{ID: "e1", Type: "driver:stop"}

	b.deliverLocal(ChannelVehicle, env)
	if fired != 1 {
		t.Fatalf("fired = %d, want 1 when disconnected", fired)
	}

	b.connected = true
	b.deliverLocal(ChannelVehicle, env)
	if fired != 1 {
		t.Fatalf("fired = %d, want still 1 when connected (no fallback needed)", fired)
	}
}

func TestRouteToPending_DeliversToWaitingRequester(t *testing.T) {
	b := newTestBus()
	replyCh := make(chan Envelope, 1)
	b.pending["corr-1"] = replyCh

	routed := b.routeToPending(Envelope{CorrelationID: "corr-1", Type: "reply"})
	if !routed {
		t.Fatal("expected routeToPending to report a match")
	}
	select {
	case env := <-replyCh:
		if env.Type != "reply" {
			t.Fatalf("delivered envelope type = %q, want reply", env.Type)
		}
	default:
		t.Fatal("expected the reply channel to receive the envelope")
	}
}

func TestRouteToPending_ReturnsFalseForUnknownCorrelation(t *testing.T) {
	b := newTestBus()
	if b.routeToPending(Envelope{CorrelationID: "nope"}) {
		t.Fatal("expected no match for an unregistered correlation id")
	}
}
