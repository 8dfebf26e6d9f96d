package client

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"paxoslog/internal/config"
	"paxoslog/internal/transport"
	"paxoslog/internal/wire"
)

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

func buildConfig(t *testing.T, proposerAddr string) *config.Config {
	t.Helper()
	host, port := splitAddr(t, proposerAddr)
	contents := "nodes:\n" +
		"  - role: proposer\n    id: 1\n    host: " + host + "\n    port: " + port + "\n" +
		"  - role: client\n    id: 1\n    host: 127.0.0.1\n    port: 9801\n"
	path := filepath.Join(t.TempDir(), "cfg.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("writing test config: %v", err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	return cfg
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

func TestClientSubmitsAndReportsDoneOnceAllDecided(t *testing.T) {
	proposerBus := transport.New("test-proposer")
	if err := proposerBus.Listen("127.0.0.1:0"); err != nil {
		t.Fatalf("listen proposer: %v", err)
	}
	defer proposerBus.Close()

	clientBus := transport.New("test-client")
	if err := clientBus.Listen("127.0.0.1:0"); err != nil {
		t.Fatalf("listen client: %v", err)
	}
	defer clientBus.Close()

	cfg := buildConfig(t, proposerBus.Addr())
	c := New(1, cfg, clientBus)

	var out bytes.Buffer
	done := make(chan bool, 1)
	go func() {
		done <- c.Run(strings.NewReader("v1\nv2\n"), &out, nil)
	}()

	first := recvWithin(t, proposerBus, time.Second).(wire.Submit)
	second := recvWithin(t, proposerBus, time.Second).(wire.Submit)
	if first.ClientID != 1 || first.Seq != 0 || string(first.Value) != "v1" {
		t.Errorf("first submit = %+v, want client 1 seq 0 v1", first)
	}
	if second.Seq != 1 || string(second.Value) != "v2" {
		t.Errorf("second submit = %+v, want seq 1 v2", second)
	}

	// Simulate the deciding proposer's per-client completion notification
	// (spec.md §4.4), tagged exactly by (client_id, seq) per
	// internal/proposer's notifyClient.
	if err := proposerBus.Send(clientBus.Addr(), wire.Decided{ClientID: 1, Seq: 0, Slot: 0}); err != nil {
		t.Fatalf("send decided v1: %v", err)
	}
	if err := proposerBus.Send(clientBus.Addr(), wire.Decided{ClientID: 1, Seq: 1, Slot: 1}); err != nil {
		t.Fatalf("send decided v2: %v", err)
	}

	select {
	case ok := <-done:
		if !ok {
			t.Fatal("Run returned false, want true (clean completion)")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for client completion")
	}

	if out.String() != "DONE\n" {
		t.Errorf("output = %q, want %q", out.String(), "DONE\n")
	}
}

func TestClientRetransmitsUndecidedSubmissions(t *testing.T) {
	proposerBus := transport.New("test-proposer")
	if err := proposerBus.Listen("127.0.0.1:0"); err != nil {
		t.Fatalf("listen proposer: %v", err)
	}
	defer proposerBus.Close()

	clientBus := transport.New("test-client")
	if err := clientBus.Listen("127.0.0.1:0"); err != nil {
		t.Fatalf("listen client: %v", err)
	}
	defer clientBus.Close()

	cfg := buildConfig(t, proposerBus.Addr())
	c := New(1, cfg, clientBus)

	var out bytes.Buffer
	stop := make(chan struct{})
	done := make(chan bool, 1)
	go func() { done <- c.Run(strings.NewReader("only\n"), &out, stop) }()

	first := recvWithin(t, proposerBus, time.Second).(wire.Submit)
	if string(first.Value) != "only" {
		t.Fatalf("first submit value = %q, want only", first.Value)
	}

	// Never decide it; expect at least one retransmit before we stop.
	retransmit := recvWithin(t, proposerBus, 2*time.Second).(wire.Submit)
	if string(retransmit.Value) != "only" || retransmit.Seq != first.Seq {
		t.Errorf("retransmit = %+v, want a resend of the first submission", retransmit)
	}

	close(stop)
	select {
	case ok := <-done:
		if ok {
			t.Error("Run returned true after stop fired with an undecided submission pending")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for Run to return after stop")
	}
}

func TestClientIgnoresDecidedNotificationForAnotherClient(t *testing.T) {
	proposerBus := transport.New("test-proposer")
	if err := proposerBus.Listen("127.0.0.1:0"); err != nil {
		t.Fatalf("listen proposer: %v", err)
	}
	defer proposerBus.Close()

	clientBus := transport.New("test-client")
	if err := clientBus.Listen("127.0.0.1:0"); err != nil {
		t.Fatalf("listen client: %v", err)
	}
	defer clientBus.Close()

	cfg := buildConfig(t, proposerBus.Addr())
	c := New(1, cfg, clientBus)

	var out bytes.Buffer
	stop := make(chan struct{})
	done := make(chan bool, 1)
	go func() { done <- c.Run(strings.NewReader("same-bytes\n"), &out, stop) }()

	first := recvWithin(t, proposerBus, time.Second).(wire.Submit)
	if first.ClientID != 1 || first.Seq != 0 {
		t.Fatalf("first submit = %+v, want client 1 seq 0", first)
	}

	// A notification tagged for a different client, even for the same
	// seq, must never be mistaken for this client's own submission.
	if err := proposerBus.Send(clientBus.Addr(), wire.Decided{ClientID: 2, Seq: 0, Slot: 0}); err != nil {
		t.Fatalf("send decided for other client: %v", err)
	}

	// Expect this client to still consider its submission outstanding and
	// retransmit it.
	retransmit := recvWithin(t, proposerBus, 2*time.Second).(wire.Submit)
	if retransmit.ClientID != 1 || string(retransmit.Value) != "same-bytes" {
		t.Errorf("retransmit = %+v, want a resend of client 1's own submission", retransmit)
	}

	close(stop)
	select {
	case ok := <-done:
		if ok {
			t.Error("Run returned true; the notification for another client should not have satisfied this client's submission")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for Run to return after stop")
	}
}
