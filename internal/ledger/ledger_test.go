package ledger

import (
	"testing"
	"testing/quick"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"loyalty-bonus-engine/internal/store"
)

func lot(remaining string) store.BonusLot {
	return store.BonusLot{ID: uuid.New(), RemainingAmount: decimal.RequireFromString(remaining)}
}

func TestConsumeLotsFIFOSpendsOldestFirst(t *testing.T) {
	lots := []store.BonusLot{lot("30"), lot("50"), lot("20")}
	touched, shortfall := consumeLotsFIFO(lots, decimal.RequireFromString("40"))

	if !shortfall.IsZero() {
		t.Fatalf("expected no shortfall, got %s", shortfall)
	}
	if len(touched) != 2 {
		t.Fatalf("expected 2 lots touched, got %d", len(touched))
	}
	if !touched[0].Lot.RemainingAmount.IsZero() {
		t.Errorf("first (oldest) lot should be fully drained, has %s left", touched[0].Lot.RemainingAmount)
	}
	if !touched[0].Amount.Equal(decimal.RequireFromString("30")) {
		t.Errorf("first lot should have contributed 30, contributed %s", touched[0].Amount)
	}
	if !touched[1].Lot.RemainingAmount.Equal(decimal.RequireFromString("40")) {
		t.Errorf("second lot should have 40 left, has %s", touched[1].Lot.RemainingAmount)
	}
	if !touched[1].Amount.Equal(decimal.RequireFromString("10")) {
		t.Errorf("second lot should have contributed 10, contributed %s", touched[1].Amount)
	}
}

func TestConsumeLotsFIFOReportsShortfall(t *testing.T) {
	lots := []store.BonusLot{lot("10"), lot("5")}
	_, shortfall := consumeLotsFIFO(lots, decimal.RequireFromString("100"))
	if !shortfall.Equal(decimal.RequireFromString("85")) {
		t.Errorf("want shortfall of 85, got %s", shortfall)
	}
}

func TestConsumeLotsFIFOExactMatchLeavesNothingOwed(t *testing.T) {
	lots := []store.BonusLot{lot("25"), lot("25")}
	touched, shortfall := consumeLotsFIFO(lots, decimal.RequireFromString("50"))
	if !shortfall.IsZero() {
		t.Fatalf("expected exact match to leave zero shortfall, got %s", shortfall)
	}
	for _, c := range touched {
		if !c.Lot.RemainingAmount.IsZero() {
			t.Errorf("expected lot %s fully drained on exact match, has %s left", c.Lot.ID, c.Lot.RemainingAmount)
		}
	}
}

// TestConsumeLotsFIFONeverOverdraws checks that the sum spent across touched
// lots never exceeds the original lot total, for any split of a requested
// amount across any number of lots.
func TestConsumeLotsFIFONeverOverdraws(t *testing.T) {
	f := func(balances []uint16, requestRaw uint32) bool {
		if len(balances) == 0 {
			return true
		}
		var total decimal.Decimal
		lots := make([]store.BonusLot, 0, len(balances))
		for _, b := range balances {
			amt := decimal.NewFromInt(int64(b))
			lots = append(lots, store.BonusLot{ID: uuid.New(), RemainingAmount: amt})
			total = total.Add(amt)
		}
		request := decimal.NewFromInt(int64(requestRaw % 1_000_000))

		touched, shortfall := consumeLotsFIFO(lots, request)

		spent := decimal.Zero
		for i, c := range touched {
			original := decimal.NewFromInt(int64(balances[i]))
			if !c.Amount.Equal(original.Sub(c.Lot.RemainingAmount)) {
				return false
			}
			spent = spent.Add(c.Amount)
			if c.Lot.RemainingAmount.IsNegative() {
				return false
			}
		}

		if spent.GreaterThan(total) {
			return false
		}
		if shortfall.IsZero() && !spent.Equal(request) {
			return false
		}
		return true
	}
	if err := quick.Check(f, &quick.Config{MaxCount: 200}); err != nil {
		t.Error(err)
	}
}
