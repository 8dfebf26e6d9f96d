// Package transport is the role-addressed message bus every Paxos role
// shares: a persistent-connection, line-oriented pub/sub layer generalized
// from the teacher's single-echo-connection TCP server/client
// (tcp/server.go, tcp/client.go) into a full-mesh bus where any role can
// unicast or broadcast a wire.Message to any peer.
//
// Messages may be lost, duplicated, reordered, or delayed (spec.md §5);
// this package makes no attempt to hide that — it only guarantees that a
// line it does deliver decodes to the message that was sent.
package transport

import (
	"bufio"
	"fmt"
	"log"
	"net"
	"sync"
	"sync/atomic"

	"golang.org/x/net/netutil"

	"paxoslog/internal/debugserver"
	"paxoslog/internal/wire"
)

// maxInboundConns bounds the number of simultaneous peer connections a
// single role instance will accept, the netutil.LimitListener guard the
// teacher's tcp/server.go accept loop never applied.
const maxInboundConns = 256

// Envelope is one decoded inbound message together with the raw line it
// came from, for logging.
type Envelope struct {
	Msg any
	Raw string
}

// Bus is one role instance's view of the network: a listener accepting
// inbound lines from any peer, and a set of lazily-dialed, persistent
// outbound connections this instance uses to unicast or broadcast.
type Bus struct {
	logPrefix string
	incoming  chan Envelope
	debug     debugserver.Publisher

	listener net.Listener

	malformed atomic.Uint64

	mu   sync.Mutex
	outs map[string]*outConn
	done chan struct{}
}

type outConn struct {
	mu   sync.Mutex
	conn net.Conn
	addr string
}

// New creates a bus that logs under logPrefix (e.g. "acceptor-2").
func New(logPrefix string) *Bus {
	return &Bus{
		logPrefix: logPrefix,
		incoming:  make(chan Envelope, 256),
		debug:     debugserver.NoopPublisher{},
		outs:      make(map[string]*outConn),
		done:      make(chan struct{}),
	}
}

// SetDebug attaches a live-feed publisher; omitted, the bus publishes
// nothing.
func (b *Bus) SetDebug(p debugserver.Publisher) { b.debug = p }

// Listen starts accepting inbound connections on addr. Each connection is
// read line-by-line until it closes; well-formed lines are decoded and
// published on Incoming(), malformed lines are dropped per spec.md §7.
func (b *Bus) Listen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("transport: failed to listen on %s: %w", addr, err)
	}
	b.listener = netutil.LimitListener(ln, maxInboundConns)

	go b.acceptLoop()
	return nil
}

func (b *Bus) acceptLoop() {
	for {
		conn, err := b.listener.Accept()
		if err != nil {
			select {
			case <-b.done:
				return
			default:
				log.Printf("%s transport: accept error: %v", b.logPrefix, err)
				continue
			}
		}
		go b.readLoop(conn)
	}
}

func (b *Bus) readLoop(conn net.Conn) {
	defer conn.Close()
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		msg, err := wire.Decode(line)
		if err != nil {
			n := b.malformed.Add(1)
			log.Printf("%s transport: dropping malformed message: %v", b.logPrefix, err)
			b.debug.Publish("transport", 0, "malformed", map[string]any{"raw": line, "error": err.Error(), "total": n})
			continue
		}
		select {
		case b.incoming <- Envelope{Msg: msg, Raw: line}:
		case <-b.done:
			return
		}
	}
}

// Incoming returns the channel of decoded inbound messages.
func (b *Bus) Incoming() <-chan Envelope {
	return b.incoming
}

// MalformedCount reports how many inbound lines this bus has dropped for
// failing to decode (spec.md §7: "dropped silently, counter incremented").
func (b *Bus) MalformedCount() uint64 {
	return b.malformed.Load()
}

// Addr returns the address Listen actually bound to, letting a caller that
// listened on ":0" discover its assigned port.
func (b *Bus) Addr() string {
	if b.listener == nil {
		return ""
	}
	return b.listener.Addr().String()
}

// Send unicasts msg to addr, dialing (or redialing after a prior failure)
// as needed. A send failure is a transient network error (spec.md §7):
// it is returned to the caller, who is expected to rely on its own retry
// timer rather than this call blocking or retrying internally.
func (b *Bus) Send(addr string, msg any) error {
	line, err := wire.Encode(msg)
	if err != nil {
		return err
	}

	oc := b.outConn(addr)
	oc.mu.Lock()
	defer oc.mu.Unlock()

	if oc.conn == nil {
		conn, err := net.Dial("tcp", addr)
		if err != nil {
			return fmt.Errorf("transport: dial %s: %w", addr, err)
		}
		oc.conn = conn
	}

	if _, err := fmt.Fprintf(oc.conn, "%s\n", line); err != nil {
		oc.conn.Close()
		oc.conn = nil
		return fmt.Errorf("transport: send to %s: %w", addr, err)
	}
	return nil
}

// Broadcast sends msg to every address in addrs, logging (not failing on)
// each individual transient send error.
func (b *Bus) Broadcast(addrs []string, msg any) {
	for _, addr := range addrs {
		if err := b.Send(addr, msg); err != nil {
			log.Printf("%s transport: %v", b.logPrefix, err)
		}
	}
}

func (b *Bus) outConn(addr string) *outConn {
	b.mu.Lock()
	defer b.mu.Unlock()
	oc, ok := b.outs[addr]
	if !ok {
		oc = &outConn{addr: addr}
		b.outs[addr] = oc
	}
	return oc
}

// Close shuts down the listener and every outbound connection. In-flight
// messages are discarded (spec.md §5): process termination is the only
// cancellation mechanism.
func (b *Bus) Close() {
	close(b.done)
	if b.listener != nil {
		b.listener.Close()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, oc := range b.outs {
		oc.mu.Lock()
		if oc.conn != nil {
			oc.conn.Close()
		}
		oc.mu.Unlock()
	}
}
