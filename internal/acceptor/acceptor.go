// Package acceptor implements the passive, per-slot Paxos safety role of
// spec.md §4.1. An acceptor never initiates; it only replies to PREPARE
// and ACCEPT, and broadcasts ACCEPTED to learners on a successful accept.
package acceptor

import (
	"log"
	"sync"

	"paxoslog/internal/ballot"
	"paxoslog/internal/config"
	"paxoslog/internal/debugserver"
	"paxoslog/internal/transport"
	"paxoslog/internal/wire"
)

// slotState is one slot's promise/accept record (spec.md §3). All three
// fields default to the ⊥ sentinel; slots are created lazily.
type slotState struct {
	promisedBallot ballot.Ballot
	acceptedBallot ballot.Ballot
	acceptedValue  []byte
	hasAccepted    bool
}

// Acceptor is one acceptor process instance's state and message handlers.
type Acceptor struct {
	id  int
	cfg *config.Config
	bus *transport.Bus

	learnerAddrs []string
	debug        debugserver.Publisher

	mu    sync.Mutex
	slots map[int]*slotState
}

// SetDebug attaches a live-feed publisher; omitted, the acceptor publishes
// nothing.
func (a *Acceptor) SetDebug(p debugserver.Publisher) { a.debug = p }

// New creates the acceptor with id, wired to cfg for peer address lookup
// and bus for sending replies and broadcasts.
func New(id int, cfg *config.Config, bus *transport.Bus) *Acceptor {
	var learnerAddrs []string
	for _, l := range cfg.Learners() {
		learnerAddrs = append(learnerAddrs, l.Addr)
	}
	return &Acceptor{
		id:           id,
		cfg:          cfg,
		bus:          bus,
		learnerAddrs: learnerAddrs,
		debug:        debugserver.NoopPublisher{},
		slots:        make(map[int]*slotState),
	}
}

func (a *Acceptor) slot(n int) *slotState {
	s, ok := a.slots[n]
	if !ok {
		s = &slotState{}
		a.slots[n] = s
	}
	return s
}

// Handle dispatches one inbound message to the acceptor's handlers.
// Unrecognized message types are dropped silently (spec.md §4.1).
func (a *Acceptor) Handle(msg any) {
	switch m := msg.(type) {
	case wire.Prepare:
		a.handlePrepare(m)
	case wire.Accept:
		a.handleAccept(m)
	default:
		// not addressed to an acceptor; ignore
	}
}

func (a *Acceptor) handlePrepare(m wire.Prepare) {
	a.mu.Lock()
	s := a.slot(m.Slot)

	proposer, ok := a.cfg.Find(config.RoleProposer, m.Ballot.ProposerID)
	if !ok {
		a.mu.Unlock()
		log.Printf("[acceptor-%d] PREPARE from unknown proposer %d, dropping", a.id, m.Ballot.ProposerID)
		return
	}

	switch {
	case s.promisedBallot.IsZero() || m.Ballot.Greater(s.promisedBallot):
		s.promisedBallot = m.Ballot
		reply := wire.Promise{
			Slot:          m.Slot,
			Ballot:        m.Ballot,
			HasAccepted:   s.hasAccepted,
			AcceptedValue: s.acceptedValue,
			From:          a.id,
		}
		if s.hasAccepted {
			reply.AcceptedBallot = s.acceptedBallot
		}
		a.mu.Unlock()
		a.send(proposer.Addr, reply)

	case m.Ballot == s.promisedBallot:
		// Tie: identical repeated PREPARE produces PROMISE with no state
		// change (spec.md §4.1 rule 1).
		reply := wire.Promise{
			Slot:          m.Slot,
			Ballot:        m.Ballot,
			HasAccepted:   s.hasAccepted,
			AcceptedValue: s.acceptedValue,
			From:          a.id,
		}
		if s.hasAccepted {
			reply.AcceptedBallot = s.acceptedBallot
		}
		a.mu.Unlock()
		a.send(proposer.Addr, reply)

	default:
		nack := wire.Nack{Slot: m.Slot, Promised: s.promisedBallot, Phase: wire.PhasePrepare}
		a.mu.Unlock()
		a.send(proposer.Addr, nack)
	}
}

func (a *Acceptor) handleAccept(m wire.Accept) {
	a.mu.Lock()
	s := a.slot(m.Slot)

	proposer, ok := a.cfg.Find(config.RoleProposer, m.Ballot.ProposerID)
	if !ok {
		a.mu.Unlock()
		log.Printf("[acceptor-%d] ACCEPT from unknown proposer %d, dropping", a.id, m.Ballot.ProposerID)
		return
	}

	if s.promisedBallot.IsZero() || m.Ballot.GreaterOrEqual(s.promisedBallot) {
		s.promisedBallot = m.Ballot
		s.acceptedBallot = m.Ballot
		s.acceptedValue = m.Value
		s.hasAccepted = true
		a.mu.Unlock()

		accepted := wire.Accepted{Slot: m.Slot, Ballot: m.Ballot, Value: m.Value, AcceptorID: a.id}
		// The proposer observes its own quorum directly; learners observe
		// it via broadcast so a late-joining learner can relay from the
		// acceptor stream too (spec.md §4.1 rule 3).
		a.send(proposer.Addr, accepted)
		a.bus.Broadcast(a.learnerAddrs, accepted)
		a.debug.Publish("acceptor", a.id, "accepted", map[string]any{"slot": m.Slot, "ballot": m.Ballot.String()})
		return
	}

	nack := wire.Nack{Slot: m.Slot, Promised: s.promisedBallot, Phase: wire.PhaseAccept}
	a.mu.Unlock()
	a.send(proposer.Addr, nack)
}

func (a *Acceptor) send(addr string, msg any) {
	if err := a.bus.Send(addr, msg); err != nil {
		log.Printf("[acceptor-%d] %v", a.id, err)
	}
}
