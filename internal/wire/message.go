// Package wire defines the self-delimited, whitespace-separated line
// protocol spec.md §6 recommends and its marshal/parse codec.
package wire

import "paxoslog/internal/ballot"

// Phase distinguishes which round a NACK rejected.
type Phase string

const (
	PhasePrepare Phase = "PREP"
	PhaseAccept  Phase = "ACC"
)

// Prepare is Phase-1 of Paxos: PREPARE <slot> <round> <proposer_id>.
type Prepare struct {
	Slot   int
	Ballot ballot.Ballot
}

// Promise replies to Prepare, carrying the highest (ballot, value) this
// acceptor has previously accepted for the slot, if any.
// PROMISE <slot> <round> <proposer_id> <accepted_round|-> <accepted_proposer|-> <accepted_value|-> <acceptor_id>
type Promise struct {
	Slot           int
	Ballot         ballot.Ballot
	HasAccepted    bool
	AcceptedBallot ballot.Ballot
	AcceptedValue  []byte
	From           int // acceptor id
}

// Accept is Phase-2 of Paxos: ACCEPT <slot> <round> <proposer_id> <value>.
type Accept struct {
	Slot   int
	Ballot ballot.Ballot
	Value  []byte
}

// Accepted is broadcast to every learner on a successful Accept.
// ACCEPTED <slot> <round> <proposer_id> <value> <acceptor_id>
type Accepted struct {
	Slot       int
	Ballot     ballot.Ballot
	Value      []byte
	AcceptorID int
}

// Nack rejects a Prepare or Accept, carrying the ballot that blocked it.
// NACK <slot> <highest_round> <highest_proposer> <phase:PREP|ACC>
type Nack struct {
	Slot     int
	Promised ballot.Ballot
	Phase    Phase
}

// Submit is a client submission: SUBMIT <client_id> <seq> <value>.
type Submit struct {
	ClientID int
	Seq      int
	Value    []byte
}

// CatchupRequest asks a peer learner for every decision at or after FromSlot.
// CATCHREQ <from_slot> <learner_id> <request_id>
type CatchupRequest struct {
	FromSlot  int
	LearnerID int
	RequestID string // uuid, for log correlation only; not part of protocol safety
}

// CatchupReply carries one previously decided slot back to the requester.
// CATCHRSP <slot> <value>
type CatchupReply struct {
	Slot  int
	Value []byte
}

// Decided tells one client that its submission at (client_id, seq) was
// decided at slot. This is not part of the core Paxos wire schema (no
// ACCEPT/ACCEPTED message carries a client_id): it is sent proposer-to-
// client only, by whichever proposer actually held that submission in its
// own queue when it decided the slot, covering the completion-detection
// side channel spec.md §4.4 leaves to an out-of-scope harness (spec.md §1).
// DECIDED <client_id> <seq> <slot>
type Decided struct {
	ClientID int
	Seq      int
	Slot     int
}
