package common

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestPluralizeStars(t *testing.T) {
	cases := []struct {
		n    int64
		want string
	}{
		{1, "звезда"},
		{2, "звезды"},
		{4, "звезды"},
		{5, "звёзд"},
		{11, "звёзд"},
		{12, "звёзд"},
		{14, "звёзд"},
		{21, "звезда"},
		{22, "звезды"},
		{25, "звёзд"},
		{100, "звёзд"},
		{101, "звезда"},
		{111, "звёзд"},
		{0, "звёзд"},
	}
	for _, tc := range cases {
		if got := PluralizeStars(tc.n); got != tc.want {
			t.Errorf("PluralizeStars(%d) = %q, ожидалось %q", tc.n, got, tc.want)
		}
	}
}

func TestFormatters(t *testing.T) {
	if got := FormatStars(150); got != "150 звёзд" {
		t.Errorf("FormatStars = %q", got)
	}
	if got := FormatRub(decimal.NewFromInt(230)); got != "230.00 ₽" {
		t.Errorf("FormatRub = %q", got)
	}
	if got := FormatTon(decimal.RequireFromString("1.50")); got != "1.5 TON" {
		t.Errorf("FormatTon = %q", got)
	}
	ts := time.Date(2025, 3, 7, 15, 4, 0, 0, time.UTC)
	if got := FormatDateTime(ts); got != "07.03.2025 15:04" {
		t.Errorf("FormatDateTime = %q", got)
	}
}
