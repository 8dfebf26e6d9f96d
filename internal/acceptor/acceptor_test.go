package acceptor

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"paxoslog/internal/ballot"
	"paxoslog/internal/config"
	"paxoslog/internal/transport"
	"paxoslog/internal/wire"
)

// testCluster starts a real proposer-side and learner-side bus listening on
// ephemeral loopback ports, and a Config describing them plus one acceptor
// (never itself listening — the acceptor under test drives Handle directly).
func testCluster(t *testing.T) (*config.Config, *transport.Bus, *transport.Bus) {
	t.Helper()

	proposerBus := transport.New("test-proposer")
	if err := proposerBus.Listen("127.0.0.1:0"); err != nil {
		t.Fatalf("listen proposer: %v", err)
	}
	t.Cleanup(proposerBus.Close)

	learnerBus := transport.New("test-learner")
	if err := learnerBus.Listen("127.0.0.1:0"); err != nil {
		t.Fatalf("listen learner: %v", err)
	}
	t.Cleanup(learnerBus.Close)

	return buildConfig(t, proposerBus.Addr(), learnerBus.Addr()), proposerBus, learnerBus
}

func buildConfig(t *testing.T, proposerAddr, learnerAddr string) *config.Config {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cfg.yaml")
	host1, port1 := splitAddr(t, proposerAddr)
	host2, port2 := splitAddr(t, learnerAddr)
	contents := "nodes:\n" +
		"  - role: acceptor\n    id: 1\n    host: 127.0.0.1\n    port: 9401\n" +
		"  - role: proposer\n    id: 1\n    host: " + host1 + "\n    port: " + port1 + "\n" +
		"  - role: learner\n    id: 1\n    host: " + host2 + "\n    port: " + port2 + "\n"
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("writing test config: %v", err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	return cfg
}

func splitAddr(t *testing.T, addr string) (host, port string) {
	t.Helper()
	for i := len(addr) - 1; i >= 0; i-- {
		if addr[i] == ':' {
			return addr[:i], addr[i+1:]
		}
	}
	t.Fatalf("address %q has no port", addr)
	return "", ""
}

func recvWithin(t *testing.T, bus *transport.Bus, d time.Duration) any {
	t.Helper()
	select {
	case env := <-bus.Incoming():
		return env.Msg
	case <-time.After(d):
		t.Fatal("timed out waiting for a message")
		return nil
	}
}

func TestHandlePrepareHigherBallotPromises(t *testing.T) {
	cfg, proposerBus, _ := testCluster(t)
	a := New(1, cfg, proposerBus)

	a.Handle(wire.Prepare{Slot: 1, Ballot: ballot.New(1, 1)})

	msg := recvWithin(t, proposerBus, time.Second)
	promise, ok := msg.(wire.Promise)
	if !ok {
		t.Fatalf("got %T, want Promise", msg)
	}
	if promise.HasAccepted {
		t.Error("fresh slot should not report HasAccepted")
	}
	if promise.Ballot != ballot.New(1, 1) {
		t.Errorf("Ballot = %s, want 1/1", promise.Ballot)
	}
}

func TestHandlePrepareLowerBallotNacks(t *testing.T) {
	cfg, proposerBus, _ := testCluster(t)
	a := New(1, cfg, proposerBus)

	a.Handle(wire.Prepare{Slot: 1, Ballot: ballot.New(5, 1)})
	recvWithin(t, proposerBus, time.Second) // the PROMISE for round 5

	a.Handle(wire.Prepare{Slot: 1, Ballot: ballot.New(2, 1)})
	msg := recvWithin(t, proposerBus, time.Second)
	nack, ok := msg.(wire.Nack)
	if !ok {
		t.Fatalf("got %T, want Nack", msg)
	}
	if nack.Promised != ballot.New(5, 1) {
		t.Errorf("Promised = %s, want 5/1", nack.Promised)
	}
}

func TestHandleAcceptBroadcastsToLearners(t *testing.T) {
	cfg, proposerBus, learnerBus := testCluster(t)
	a := New(1, cfg, proposerBus)

	a.Handle(wire.Prepare{Slot: 1, Ballot: ballot.New(1, 1)})
	recvWithin(t, proposerBus, time.Second)

	a.Handle(wire.Accept{Slot: 1, Ballot: ballot.New(1, 1), Value: []byte("v1")})

	accepted := recvWithin(t, proposerBus, time.Second).(wire.Accepted)
	if string(accepted.Value) != "v1" {
		t.Errorf("proposer-side Accepted.Value = %q, want v1", accepted.Value)
	}

	learnerAccepted := recvWithin(t, learnerBus, time.Second).(wire.Accepted)
	if learnerAccepted.AcceptorID != 1 {
		t.Errorf("AcceptorID = %d, want 1", learnerAccepted.AcceptorID)
	}
}

func TestHandleAcceptBelowPromisedNacks(t *testing.T) {
	cfg, proposerBus, _ := testCluster(t)
	a := New(1, cfg, proposerBus)

	a.Handle(wire.Prepare{Slot: 1, Ballot: ballot.New(5, 1)})
	recvWithin(t, proposerBus, time.Second)

	a.Handle(wire.Accept{Slot: 1, Ballot: ballot.New(2, 1), Value: []byte("stale")})
	msg := recvWithin(t, proposerBus, time.Second)
	if _, ok := msg.(wire.Nack); !ok {
		t.Fatalf("got %T, want Nack", msg)
	}
}
