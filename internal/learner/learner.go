// Package learner implements spec.md §4.3: deriving the decided log from
// ACCEPTED messages, emitting it in slot order, and serving/requesting
// catch-up so a late-joining learner can reconstruct the whole prefix.
package learner

import (
	"bufio"
	"fmt"
	"io"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"paxoslog/internal/ballot"
	"paxoslog/internal/config"
	"paxoslog/internal/debugserver"
	"paxoslog/internal/transport"
	"paxoslog/internal/wire"
)

// CatchupRetry is how long a learner waits for a CATCHRSP before giving
// up on the current peer and trying the next one round-robin (spec.md §5:
// "~500 ms").
const CatchupRetry = 500 * time.Millisecond

type slotBallot struct {
	slot int
	bal  ballot.Ballot
}

// Learner is one learner process instance's state.
type Learner struct {
	id     int
	cfg    *config.Config
	bus    *transport.Bus
	quorum int
	out    *bufio.Writer
	peers  []config.Node
	debug  debugserver.Publisher
	halt   func(format string, args ...any)

	mu          sync.Mutex
	accepts     map[slotBallot]map[int]bool
	acceptValue map[slotBallot][]byte
	decisions   map[int][]byte
	nextToEmit  int
	highestSeen int

	catchupMu    sync.Mutex
	peerIdx      int
	inFlight     bool
	inFlightSlot int
}

// New creates a learner with id, writing decided values to out in slot
// order. halt is invoked (and the process expected to exit) on a detected
// safety violation (spec.md §7); tests may pass a halt that records
// instead of exiting.
func New(id int, cfg *config.Config, bus *transport.Bus, out io.Writer, halt func(string, ...any)) *Learner {
	var peers []config.Node
	for _, l := range cfg.Learners() {
		if l.ID != id {
			peers = append(peers, l)
		}
	}
	if halt == nil {
		halt = func(format string, args ...any) { log.Fatalf(format, args...) }
	}
	return &Learner{
		id:           id,
		cfg:          cfg,
		bus:          bus,
		quorum:       cfg.Quorum(),
		out:          bufio.NewWriter(out),
		peers:        peers,
		debug:        debugserver.NoopPublisher{},
		halt:         halt,
		accepts:      make(map[slotBallot]map[int]bool),
		acceptValue:  make(map[slotBallot][]byte),
		decisions:    make(map[int][]byte),
		inFlightSlot: -1,
	}
}

// SetDebug attaches a live-feed publisher; omitted, the learner publishes
// nothing.
func (l *Learner) SetDebug(p debugserver.Publisher) { l.debug = p }

// Handle dispatches one inbound message. Unrecognized types are dropped.
func (l *Learner) Handle(msg any) {
	switch m := msg.(type) {
	case wire.Accepted:
		l.recordAccept(m)
	case wire.CatchupRequest:
		l.serveCatchup(m)
	case wire.CatchupReply:
		l.applyCatchupReply(m)
	default:
	}
}

func (l *Learner) recordAccept(m wire.Accepted) {
	l.mu.Lock()
	key := slotBallot{slot: m.Slot, bal: m.Ballot}
	set, ok := l.accepts[key]
	if !ok {
		set = make(map[int]bool)
		l.accepts[key] = set
		l.acceptValue[key] = m.Value
	} else if string(l.acceptValue[key]) != string(m.Value) {
		l.mu.Unlock()
		l.halt("[learner-%d] SAFETY VIOLATION: acceptor %d reported a different value for slot %d ballot %s than previously seen", l.id, m.AcceptorID, m.Slot, m.Ballot)
		return
	}
	set[m.AcceptorID] = true
	count := len(set)
	l.mu.Unlock()

	if count >= l.quorum {
		l.decide(m.Slot, m.Value)
	}
}

// decide records a decision the first time a slot reaches either an accept
// majority or a matching catch-up reply (spec.md §4.3 L1): first write
// wins, a later mismatching write is a fatal safety violation.
func (l *Learner) decide(slot int, value []byte) {
	l.mu.Lock()
	if existing, ok := l.decisions[slot]; ok {
		l.mu.Unlock()
		if string(existing) != string(value) {
			l.halt("[learner-%d] SAFETY VIOLATION: slot %d decided twice with different values", l.id, slot)
		}
		return
	}
	l.decisions[slot] = value
	if slot > l.highestSeen {
		l.highestSeen = slot
	}
	l.mu.Unlock()

	l.debug.Publish("learner", l.id, "decided", map[string]any{"slot": slot})
	l.emit()
}

// emit writes every contiguous decided slot to the output stream in slot
// order (spec.md §4.3). Client completion detection (spec.md §4.4) is
// driven separately, by the proposer that actually decided the slot —
// see internal/proposer's Decided notification — since only the proposer
// knows which (client_id, seq) the decided value belongs to.
func (l *Learner) emit() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for {
		value, ok := l.decisions[l.nextToEmit]
		if !ok {
			break
		}
		fmt.Fprintf(l.out, "%s\n", value)
		l.out.Flush()
		l.nextToEmit++
	}
}

// NextToEmit reports the next slot this learner is waiting on, for tests
// and for the catch-up driver.
func (l *Learner) NextToEmit() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.nextToEmit
}

// Decided reports the decided value at slot, if any.
func (l *Learner) Decided(slot int) ([]byte, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	v, ok := l.decisions[slot]
	return v, ok
}

func (l *Learner) hasGap() (from int, haveGap bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.decisions[l.nextToEmit]; ok {
		return 0, false
	}
	if l.nextToEmit == 0 && l.highestSeen == 0 && len(l.decisions) == 0 {
		// Nothing decided yet (whether or not accept traffic has arrived):
		// probe peers for a possibly-already-decided prefix.
		return 0, true
	}
	if l.nextToEmit <= l.highestSeen {
		return l.nextToEmit, true
	}
	return 0, false
}

// RunCatchup drives the round-robin catch-up protocol until stop fires.
// One request is ever in flight at a time, matching gossip/protocol.go's
// single-round-per-tick driver rather than a fan-out to every peer.
func (l *Learner) RunCatchup(stop <-chan struct{}) {
	if len(l.peers) == 0 {
		return
	}
	ticker := time.NewTicker(CatchupRetry)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			l.catchupTick()
		}
	}
}

func (l *Learner) catchupTick() {
	from, gap := l.hasGap()
	if !gap {
		l.catchupMu.Lock()
		l.inFlight = false
		l.catchupMu.Unlock()
		return
	}

	l.catchupMu.Lock()
	if l.inFlight && l.inFlightSlot == from {
		// Still waiting on the current peer; its retry window expired,
		// so move on to the next one round-robin.
		l.peerIdx = (l.peerIdx + 1) % len(l.peers)
	}
	peer := l.peers[l.peerIdx]
	l.inFlight = true
	l.inFlightSlot = from
	l.catchupMu.Unlock()

	req := wire.CatchupRequest{FromSlot: from, LearnerID: l.id, RequestID: uuid.NewString()}
	if err := l.bus.Send(peer.Addr, req); err != nil {
		log.Printf("[learner-%d] catchup request to learner-%d: %v", l.id, peer.ID, err)
	}
}

func (l *Learner) serveCatchup(m wire.CatchupRequest) {
	requester, ok := l.cfg.Find(config.RoleLearner, m.LearnerID)
	if !ok {
		log.Printf("[learner-%d] CATCHREQ from unknown learner %d, dropping", l.id, m.LearnerID)
		return
	}

	l.mu.Lock()
	slots := make([]int, 0, len(l.decisions))
	for s := range l.decisions {
		if s >= m.FromSlot {
			slots = append(slots, s)
		}
	}
	sort.Ints(slots)
	values := make([][]byte, len(slots))
	for i, s := range slots {
		values[i] = l.decisions[s]
	}
	l.mu.Unlock()

	for i, s := range slots {
		reply := wire.CatchupReply{Slot: s, Value: values[i]}
		if err := l.bus.Send(requester.Addr, reply); err != nil {
			log.Printf("[learner-%d] catchup reply to learner-%d: %v", l.id, m.LearnerID, err)
			return
		}
	}
}

func (l *Learner) applyCatchupReply(m wire.CatchupReply) {
	l.decide(m.Slot, m.Value)

	l.catchupMu.Lock()
	if l.inFlightSlot <= m.Slot {
		l.inFlight = false
	}
	l.catchupMu.Unlock()
}
