package money

import (
	"testing"
	"testing/quick"

	"github.com/shopspring/decimal"
)

func TestPercentKnownValues(t *testing.T) {
	cases := []struct {
		amount, pct, want string
	}{
		{"1000", "5", "50"},
		{"700", "7", "49"},
		{"4280", "0", "0"},
		{"33.33", "10", "3.33"},
	}
	for _, c := range cases {
		amount, _ := decimal.NewFromString(c.amount)
		pct, _ := decimal.NewFromString(c.pct)
		want, _ := decimal.NewFromString(c.want)
		got := Percent(amount, pct)
		if !got.Equal(want) {
			t.Errorf("Percent(%s, %s) = %s, want %s", c.amount, c.pct, got, want)
		}
	}
}

func TestParseSanitizesStorefrontNoise(t *testing.T) {
	got, err := Parse("$1,200.50 RUB")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := decimal.RequireFromString("1200.50")
	if !got.Equal(want) {
		t.Errorf("got %s want %s", got, want)
	}
}

func TestParseRejectsEmpty(t *testing.T) {
	if _, err := Parse("RUB only"); err == nil {
		t.Error("expected error for a string with no digits")
	}
}

// Round2 never produces more than two decimal places, for any input.
func TestRound2PropertyTwoDecimalPlaces(t *testing.T) {
	f := func(units int64, cents uint8) bool {
		raw := decimal.New(units, 0).Add(decimal.New(int64(cents%100), -2))
		rounded := Round2(raw)
		return rounded.Exponent() >= -2
	}
	if err := quick.Check(f, nil); err != nil {
		t.Error(err)
	}
}
