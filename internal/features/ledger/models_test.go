package ledger

import (
	"testing"

	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal {
	d, _ := decimal.NewFromString(s)
	return d
}

func TestReferralBonus(t *testing.T) {
	cases := []struct {
		amount  string
		percent int64
		want    int64
	}{
		{"100", 10, 10},
		{"105", 10, 10},  // 10.5 → floor 10
		{"109", 10, 10},  // 10.9 → floor 10
		{"50", 10, 5},
		{"49", 10, 4},    // 4.9 → floor 4
		{"0.5", 10, 0},   // дробная покупка TON — бонус только целыми звёздами
		{"100", 0, 0},
		{"333", 15, 49},  // 49.95 → floor 49
	}
	for _, tc := range cases {
		if got := ReferralBonus(dec(tc.amount), tc.percent); got != tc.want {
			t.Errorf("ReferralBonus(%s, %d%%) = %d, ожидалось %d", tc.amount, tc.percent, got, tc.want)
		}
	}
}

func TestIsTerminal(t *testing.T) {
	for _, status := range []string{StatusCompleted, StatusFailed, StatusCancelled} {
		if !IsTerminal(status) {
			t.Errorf("%s должен быть терминальным", status)
		}
	}
	if IsTerminal(StatusPending) {
		t.Error("pending не терминальный статус")
	}
}
