package model

import (
	"math/big"
	"testing"
)

func TestNewQuoteRequestUsesNinetyEightPercent(t *testing.T) {
	balance, _ := new(big.Int).SetString("1000000000000000000", 10)
	req := NewQuoteRequest(Token{Address: "0x1", ChainID: 8453, Balance: balance}, "0x0", "0xabc")
	if req.AmountIn.String() != "980000000000000000" {
		t.Fatalf("unexpected amountIn %s", req.AmountIn)
	}
	if req.ChainID != 8453 || req.Recipient != "0xabc" {
		t.Fatalf("unexpected request: %+v", req)
	}
	if balance.String() != "1000000000000000000" {
		t.Fatal("balance must not be mutated")
	}
}

func TestSweepAmountFloors(t *testing.T) {
	cases := map[int64]int64{0: 0, 1: 0, 99: 97, 101: 98, 1000: 980}
	for in, want := range cases {
		if got := SweepAmount(big.NewInt(in)); got.Int64() != want {
			t.Fatalf("SweepAmount(%d): expected %d, got %s", in, want, got)
		}
	}
	if SweepAmount(nil).Sign() != 0 {
		t.Fatal("expected zero for nil balance")
	}
}
