// Package proposer implements spec.md §4.2: a FIFO per-proposer submission
// queue driven through two-phase Paxos per slot, with timeout-based
// retransmission and randomized-backoff escalation on conflict.
//
// A single proposer instance runs one slot attempt at a time (spec.md §4.2
// permits, but does not require, pipelining); all mutation happens on the
// goroutine that calls Run, matching the cooperative single-owner event
// loop spec.md §5 requires.
package proposer

import (
	"bytes"
	"log"
	"time"

	"paxoslog/internal/backoff"
	"paxoslog/internal/ballot"
	"paxoslog/internal/config"
	"paxoslog/internal/debugserver"
	"paxoslog/internal/transport"
	"paxoslog/internal/wire"
)

// Phase is the proposer's per-slot state (spec.md §3).
type Phase int

const (
	Idle Phase = iota
	Preparing
	Accepting
	Decided
)

const (
	prepareTimeout  = 300 * time.Millisecond
	acceptTimeout   = 300 * time.Millisecond
	tickInterval    = 50 * time.Millisecond
	maxRetransmits  = 2
)

type submissionKey struct {
	clientID int
	seq      int
}

type submission struct {
	key   submissionKey
	value []byte
}

// Proposer is one proposer process instance's state.
type Proposer struct {
	id            int
	cfg           *config.Config
	bus           *transport.Bus
	acceptorAddrs []string
	quorum        int
	backoff       *backoff.Backoff
	debug         debugserver.Publisher

	round int

	queue    []submission
	queued   map[submissionKey]bool
	done     map[submissionKey]bool
	doneSlot map[submissionKey]int

	nextSlot int

	phase            Phase
	currentSlot      int
	ballot           ballot.Ballot
	prepareResponses map[int]wire.Promise
	acceptResponses  map[int]bool
	proposedValue    []byte

	phaseDeadline   time.Time
	retransmitCount int

	awaitingBackoff bool
	backoffUntil    time.Time
}

// New creates a proposer with id, starting at round 1 (spec.md §3).
func New(id int, cfg *config.Config, bus *transport.Bus) *Proposer {
	var acceptorAddrs []string
	for _, a := range cfg.Acceptors() {
		acceptorAddrs = append(acceptorAddrs, a.Addr)
	}
	return &Proposer{
		id:            id,
		cfg:           cfg,
		bus:           bus,
		acceptorAddrs: acceptorAddrs,
		quorum:        cfg.Quorum(),
		backoff:       backoff.New(id),
		debug:         debugserver.NoopPublisher{},
		round:         1,
		queued:        make(map[submissionKey]bool),
		done:          make(map[submissionKey]bool),
		doneSlot:      make(map[submissionKey]int),
		phase:         Idle,
	}
}

// SetDebug attaches a live-feed publisher; omitted, the proposer publishes
// nothing.
func (p *Proposer) SetDebug(pub debugserver.Publisher) { p.debug = pub }

// Run drives the proposer's event loop until stop fires: it reacts to
// inbound protocol messages and submissions, and to a periodic tick that
// checks retransmit/escalation timers (spec.md §5: receiving from a
// socket and awaiting a timer are the only suspension points).
func (p *Proposer) Run(stop <-chan struct{}) {
	p.startSlot(p.nextSlot)

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case env := <-p.bus.Incoming():
			p.handle(env.Msg)
		case now := <-ticker.C:
			p.tick(now)
		}
	}
}

func (p *Proposer) handle(msg any) {
	switch m := msg.(type) {
	case wire.Submit:
		p.enqueue(m)
	case wire.Promise:
		p.handlePromise(m)
	case wire.Nack:
		p.handleNack(m)
	case wire.Accepted:
		p.handleAccepted(m)
	default:
	}
}

func (p *Proposer) enqueue(m wire.Submit) {
	k := submissionKey{clientID: m.ClientID, seq: m.Seq}
	if p.done[k] {
		// The client is still retransmitting because our one-shot Decided
		// notification (spec.md §5: messages may be lost) never arrived;
		// its retransmit timer is the only signal we get, so resend now.
		p.notifyClient(k, p.doneSlot[k])
		return
	}
	if p.queued[k] {
		return
	}
	p.queue = append(p.queue, submission{key: k, value: m.Value})
	p.queued[k] = true

	if p.phase == Idle {
		// Queue was empty when we last reached ACCEPTING; retry now that
		// we have something to propose.
		p.startSlot(p.currentSlot)
	}
}

func (p *Proposer) startSlot(slot int) {
	p.currentSlot = slot
	p.phase = Preparing
	p.ballot = ballot.New(p.round, p.id)
	p.prepareResponses = make(map[int]wire.Promise)
	p.acceptResponses = nil
	p.proposedValue = nil
	p.retransmitCount = 0
	p.phaseDeadline = time.Now().Add(prepareTimeout)
	p.awaitingBackoff = false

	p.bus.Broadcast(p.acceptorAddrs, wire.Prepare{Slot: slot, Ballot: p.ballot})
}

func (p *Proposer) handlePromise(m wire.Promise) {
	if p.phase != Preparing || m.Slot != p.currentSlot || m.Ballot != p.ballot {
		return
	}
	p.prepareResponses[m.From] = m
	if len(p.prepareResponses) >= p.quorum {
		p.moveToAccepting()
	}
}

func (p *Proposer) moveToAccepting() {
	var value []byte
	highest := ballot.Zero
	for _, resp := range p.prepareResponses {
		if !resp.HasAccepted {
			continue
		}
		if highest.IsZero() || resp.AcceptedBallot.Greater(highest) {
			highest = resp.AcceptedBallot
			value = resp.AcceptedValue
		}
	}

	if value == nil {
		if len(p.queue) == 0 {
			p.phase = Idle
			return
		}
		value = p.queue[0].value
	}

	p.phase = Accepting
	p.proposedValue = value
	p.acceptResponses = make(map[int]bool)
	p.retransmitCount = 0
	p.phaseDeadline = time.Now().Add(acceptTimeout)
	p.awaitingBackoff = false

	p.bus.Broadcast(p.acceptorAddrs, wire.Accept{Slot: p.currentSlot, Ballot: p.ballot, Value: value})
}

func (p *Proposer) handleAccepted(m wire.Accepted) {
	if p.phase != Accepting || m.Slot != p.currentSlot || m.Ballot != p.ballot {
		return
	}
	p.acceptResponses[m.AcceptorID] = true
	if len(p.acceptResponses) >= p.quorum {
		p.onDecided(m.Value)
	}
}

// onDecided advances past whichever queued submission the slot decided
// with, wherever it sits. A client broadcasts every SUBMIT to every
// proposer (spec.md §2), so two proposers can enqueue the same
// (client_id, seq) value at different positions; comparing only the queue
// head would leave a value that lands behind the winning one stuck in the
// queue forever, to be proposed again later and decided a second time —
// violating spec.md §8's "no value is decided in more than one slot".
func (p *Proposer) onDecided(value []byte) {
	p.phase = Decided
	p.backoff.Reset()

	for i, s := range p.queue {
		if !bytes.Equal(s.value, value) {
			continue
		}
		p.queue = append(p.queue[:i:i], p.queue[i+1:]...)
		delete(p.queued, s.key)
		p.done[s.key] = true
		p.doneSlot[s.key] = p.currentSlot
		p.notifyClient(s.key, p.currentSlot)
		break
	}

	log.Printf("[proposer-%d] slot %d decided", p.id, p.currentSlot)
	p.debug.Publish("proposer", p.id, "decided", map[string]any{"slot": p.currentSlot, "ballot": p.ballot.String()})

	p.nextSlot = p.currentSlot + 1
	p.startSlot(p.nextSlot)
}

// notifyClient tells the client that owns key its submission was decided
// at slot, tagged exactly by (client_id, seq) so two clients submitting
// byte-identical values can never be confused for one another (unlike
// matching on the decided value's content alone).
func (p *Proposer) notifyClient(key submissionKey, slot int) {
	c, ok := p.cfg.Find(config.RoleClient, key.clientID)
	if !ok {
		return
	}
	p.send(c.Addr, wire.Decided{ClientID: key.clientID, Seq: key.seq, Slot: slot})
}

func (p *Proposer) handleNack(m wire.Nack) {
	if m.Slot != p.currentSlot || p.awaitingBackoff {
		return
	}
	switch {
	case p.phase == Preparing && m.Phase == wire.PhasePrepare:
		p.escalate(m.Promised.Round)
	case p.phase == Accepting && m.Phase == wire.PhaseAccept:
		p.escalate(m.Promised.Round)
	}
}

// escalate bumps the ballot round strictly past both the proposer's own
// and the observed round (spec.md §4.2), then arms a randomized-jitter
// backoff before the next PREPARE is sent (spec.md §9: mandatory, to
// avoid dueling-proposer livelock).
func (p *Proposer) escalate(observedRound int) {
	newRound := p.round
	if observedRound > newRound {
		newRound = observedRound
	}
	p.round = newRound + 1

	p.awaitingBackoff = true
	p.backoffUntil = time.Now().Add(p.backoff.Next())
	p.debug.Publish("proposer", p.id, "escalate", map[string]any{"slot": p.currentSlot, "round": p.round})
}

func (p *Proposer) tick(now time.Time) {
	if p.awaitingBackoff {
		if now.Before(p.backoffUntil) {
			return
		}
		p.startSlot(p.currentSlot)
		return
	}

	if p.phase != Preparing && p.phase != Accepting {
		return
	}
	if now.Before(p.phaseDeadline) {
		return
	}

	if p.retransmitCount < maxRetransmits {
		p.retransmitCount++
		p.phaseDeadline = now.Add(prepareTimeout)
		p.retransmit()
		return
	}

	// Retransmit budget exhausted without quorum: escalate without having
	// observed a higher round from a NACK.
	p.escalate(p.round)
}

func (p *Proposer) retransmit() {
	switch p.phase {
	case Preparing:
		for _, addr := range p.acceptorAddrs {
			if !p.promisedBy(addr) {
				p.send(addr, wire.Prepare{Slot: p.currentSlot, Ballot: p.ballot})
			}
		}
	case Accepting:
		for _, addr := range p.acceptorAddrs {
			if !p.acceptedBy(addr) {
				p.send(addr, wire.Accept{Slot: p.currentSlot, Ballot: p.ballot, Value: p.proposedValue})
			}
		}
	}
}

func (p *Proposer) promisedBy(addr string) bool {
	for _, a := range p.cfg.Acceptors() {
		if a.Addr == addr {
			_, ok := p.prepareResponses[a.ID]
			return ok
		}
	}
	return false
}

func (p *Proposer) acceptedBy(addr string) bool {
	for _, a := range p.cfg.Acceptors() {
		if a.Addr == addr {
			return p.acceptResponses[a.ID]
		}
	}
	return false
}

func (p *Proposer) send(addr string, msg any) {
	if err := p.bus.Send(addr, msg); err != nil {
		log.Printf("[proposer-%d] %v", p.id, err)
	}
}
