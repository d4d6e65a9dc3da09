package txn

import "testing"

func TestCompatibilityMatrixEntries(t *testing.T) {
	cases := []struct {
		held, want Mode
		ok         bool
	}{
		{IntentionShared, IntentionShared, true},
		{IntentionShared, Shared, true},
		{IntentionShared, Exclusive, false},
		{Shared, Shared, true},
		{Shared, Exclusive, false},
		{Exclusive, IntentionShared, false},
		{IntentionExclusive, IntentionExclusive, true},
		{SharedIntentionExclusive, IntentionShared, true},
		{SharedIntentionExclusive, Shared, false},
	}
	for _, c := range cases {
		if got := Compatible(c.held, c.want); got != c.ok {
			t.Errorf("Compatible(%v, %v) = %v, want %v", c.held, c.want, got, c.ok)
		}
	}
}

func TestUpgradeLattice(t *testing.T) {
	valid := []struct{ from, to Mode }{
		{IntentionShared, Shared},
		{IntentionShared, Exclusive},
		{Shared, Exclusive},
		{IntentionExclusive, SharedIntentionExclusive},
		{SharedIntentionExclusive, Exclusive},
	}
	for _, c := range valid {
		if !CanUpgrade(c.from, c.to) {
			t.Errorf("expected %v -> %v to be a valid upgrade", c.from, c.to)
		}
	}

	invalid := []struct{ from, to Mode }{
		{Shared, IntentionExclusive},
		{Exclusive, Shared},
		{SharedIntentionExclusive, Shared},
		{Shared, Shared},
	}
	for _, c := range invalid {
		if CanUpgrade(c.from, c.to) {
			t.Errorf("expected %v -> %v to be an invalid upgrade", c.from, c.to)
		}
	}
}
