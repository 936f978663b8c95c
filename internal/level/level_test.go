package level

import (
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"loyalty-bonus-engine/internal/store"
)

func mustDec(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatalf("bad decimal literal %q: %v", s, err)
	}
	return d
}

func threeTierLadder(t *testing.T) []store.BonusLevel {
	silverMin := mustDec(t, "50000")
	goldMin := mustDec(t, "200000")
	return []store.BonusLevel{
		{Name: "Bronze", MinLifetimeSpend: decimal.Zero, MaxLifetimeSpend: &silverMin, EarnPercent: mustDec(t, "5")},
		{Name: "Silver", MinLifetimeSpend: silverMin, MaxLifetimeSpend: &goldMin, EarnPercent: mustDec(t, "7")},
		{Name: "Gold", MinLifetimeSpend: goldMin, MaxLifetimeSpend: nil, EarnPercent: mustDec(t, "10")},
	}
}

func TestResolvePicksCorrectBracket(t *testing.T) {
	ladder := threeTierLadder(t)

	cases := []struct {
		spend string
		want  string
	}{
		{"0", "Bronze"},
		{"49999.99", "Bronze"},
		{"50000", "Silver"},
		{"199999.99", "Silver"},
		{"200000", "Gold"},
		{"9000000", "Gold"},
	}

	for _, tc := range cases {
		b := Resolve(ladder, mustDec(t, tc.spend))
		if b == nil {
			t.Fatalf("spend %s: expected a bracket, got nil", tc.spend)
		}
		if b.Level.Name != tc.want {
			t.Errorf("spend %s: want %s, got %s", tc.spend, tc.want, b.Level.Name)
		}
	}
}

func TestResolveNoLadderReturnsNil(t *testing.T) {
	if b := Resolve(nil, mustDec(t, "100")); b != nil {
		t.Errorf("expected nil bracket for empty ladder, got %+v", b)
	}
}

func TestProgressToNext(t *testing.T) {
	ladder := threeTierLadder(t)

	remaining, ok := ProgressToNext(ladder, mustDec(t, "10000"))
	if !ok {
		t.Fatal("expected progress towards Silver")
	}
	if !remaining.Equal(mustDec(t, "40000")) {
		t.Errorf("want 40000 remaining, got %s", remaining)
	}

	_, ok = ProgressToNext(ladder, mustDec(t, "500000"))
	if ok {
		t.Error("expected no next tier from the top bracket")
	}
}

func TestValidateNoOverlapAcceptsLadder(t *testing.T) {
	if err := ValidateNoOverlap(threeTierLadder(t)); err != nil {
		t.Fatalf("valid ladder rejected: %v", err)
	}
}

func TestValidateNoOverlapRejectsOverlap(t *testing.T) {
	cap1 := mustDec(t, "60000")
	overlapping := []store.BonusLevel{
		{Name: "Bronze", MinLifetimeSpend: decimal.Zero, MaxLifetimeSpend: &cap1, EarnPercent: mustDec(t, "5")},
		{Name: "Silver", MinLifetimeSpend: mustDec(t, "50000"), MaxLifetimeSpend: nil, EarnPercent: mustDec(t, "7")},
	}
	if err := ValidateNoOverlap(overlapping); err == nil {
		t.Fatal("expected overlap to be rejected")
	}
}

func TestCreateDefaultsProducesNonOverlappingLadder(t *testing.T) {
	defaults := CreateDefaults(uuid.New(), mustDec(t, "5"))
	if len(defaults) != 3 {
		t.Fatalf("want 3 default levels, got %d", len(defaults))
	}
	if err := ValidateNoOverlap(defaults); err != nil {
		t.Errorf("default ladder should never overlap: %v", err)
	}
}
