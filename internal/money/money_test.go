package money

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestRoundHalfUp(t *testing.T) {
	cases := map[string]string{
		"1.005":  "1.01",
		"1.004":  "1",
		"2.345":  "2.35",
		"-1.005": "-1.01",
	}
	for in, want := range cases {
		got := Round(decimal.RequireFromString(in))
		if !got.Equal(decimal.RequireFromString(want)) {
			t.Fatalf("Round(%s) = %s, want %s", in, got, want)
		}
	}
}

func TestDivKeepsFourDecimals(t *testing.T) {
	got := Div(decimal.NewFromInt(20), decimal.NewFromInt(120))
	if got.String() != "0.1667" {
		t.Fatalf("expected 0.1667, got %s", got)
	}
	if !Div(decimal.NewFromInt(1), Zero).IsZero() {
		t.Fatal("expected division by zero to yield zero")
	}
}

func TestPercent(t *testing.T) {
	got := Percent(decimal.RequireFromString("100.00"), decimal.NewFromInt(16))
	if !got.Equal(decimal.NewFromInt(16)) {
		t.Fatalf("expected 16, got %s", got)
	}
}

func TestClamp(t *testing.T) {
	got := Clamp(decimal.NewFromInt(150), Zero, Hundred)
	if !got.Equal(Hundred) {
		t.Fatalf("expected 100, got %s", got)
	}
	got = Clamp(decimal.NewFromInt(-5), Zero, Hundred)
	if !got.IsZero() {
		t.Fatalf("expected 0, got %s", got)
	}
}
