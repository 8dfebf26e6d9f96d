// Package ballot implements the totally ordered (round, proposer id) pair
// that orders Paxos attempts.
package ballot

import "fmt"

// Zero is the sentinel "no ballot" value (⊥ in spec.md §3). Round numbers
// start at 1 for every proposer, so Round 0 never occurs on the wire.
var Zero = Ballot{}

// Ballot is compared lexicographically: round first, then proposer id to
// break ties so ballots are globally unique across proposers.
type Ballot struct {
	Round      int
	ProposerID int
}

// New returns the ballot (round, proposerID).
func New(round, proposerID int) Ballot {
	return Ballot{Round: round, ProposerID: proposerID}
}

// IsZero reports whether b is the ⊥ sentinel.
func (b Ballot) IsZero() bool {
	return b == Zero
}

// Greater reports whether b is strictly greater than other.
func (b Ballot) Greater(other Ballot) bool {
	if b.Round != other.Round {
		return b.Round > other.Round
	}
	return b.ProposerID > other.ProposerID
}

// GreaterOrEqual reports whether b is greater than or equal to other.
func (b Ballot) GreaterOrEqual(other Ballot) bool {
	return b == other || b.Greater(other)
}

// Less reports whether b is strictly less than other.
func (b Ballot) Less(other Ballot) bool {
	return other.Greater(b)
}

func (b Ballot) String() string {
	if b.IsZero() {
		return "-/-"
	}
	return fmt.Sprintf("%d/%d", b.Round, b.ProposerID)
}
