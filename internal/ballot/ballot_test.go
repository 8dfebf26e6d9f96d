package ballot

import "testing"

func TestGreaterOrdersByRoundThenProposer(t *testing.T) {
	cases := []struct {
		name    string
		a, b    Ballot
		greater bool
	}{
		{"higher round wins", New(2, 1), New(1, 9), true},
		{"lower round loses", New(1, 9), New(2, 1), false},
		{"tie breaks on proposer id", New(3, 5), New(3, 2), true},
		{"tie loses on lower proposer id", New(3, 2), New(3, 5), false},
		{"identical is not greater", New(3, 2), New(3, 2), false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := c.a.Greater(c.b); got != c.greater {
				t.Errorf("%s.Greater(%s) = %v, want %v", c.a, c.b, got, c.greater)
			}
		})
	}
}

func TestGreaterOrEqualIncludesTie(t *testing.T) {
	a := New(1, 1)
	if !a.GreaterOrEqual(a) {
		t.Error("a ballot is not GreaterOrEqual itself")
	}
	if !New(2, 1).GreaterOrEqual(New(1, 9)) {
		t.Error("higher round should be GreaterOrEqual")
	}
}

func TestZeroIsLessThanAnyRealBallot(t *testing.T) {
	if !New(1, 1).Greater(Zero) {
		t.Error("any real ballot should be greater than the zero ballot")
	}
	if !Zero.IsZero() {
		t.Error("Zero.IsZero() should be true")
	}
	if New(1, 1).IsZero() {
		t.Error("a real ballot should not report IsZero")
	}
}

func TestLessIsStrictInverseOfGreaterOrEqual(t *testing.T) {
	a, b := New(1, 1), New(2, 1)
	if !a.Less(b) {
		t.Error("a should be Less than b")
	}
	if b.Less(a) {
		t.Error("b should not be Less than a")
	}
}
