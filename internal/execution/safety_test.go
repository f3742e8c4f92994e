package execution

import (
	"math/big"
	"strings"
	"testing"

	clierr "github.com/ggonzalez94/dustsweep/internal/errors"
	"github.com/ggonzalez94/dustsweep/internal/model"
)

func TestValidateTokens(t *testing.T) {
	ok := testToken("OK", "0x0000000000000000000000000000000000000001", 1)
	tax := ok
	tax.Symbol, tax.IsTaxToken = "TAX", true
	critical := ok
	critical.Symbol, critical.RiskLevel = "RUG", model.RiskCritical
	empty := ok
	empty.Symbol, empty.Balance = "NIL", new(big.Int)
	negative := ok
	negative.Symbol, negative.ValueUSD = "NEG", -1

	tests := []struct {
		name   string
		tokens []model.Token
		want   string
	}{
		{name: "valid", tokens: []model.Token{ok}},
		{name: "tax", tokens: []model.Token{ok, tax}, want: "TAX is a fee-on-transfer (tax) token"},
		{name: "critical", tokens: []model.Token{critical}, want: "RUG has critical risk level"},
		{name: "zero balance", tokens: []model.Token{empty}, want: "NIL has zero balance"},
		{name: "negative usd", tokens: []model.Token{negative}, want: "NEG has invalid USD value"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateTokens(tc.tokens)
			if tc.want == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected %q, got %v", tc.want, err)
			}
			if !clierr.Is(err, clierr.CodeSafetyBlocked) {
				t.Fatalf("expected safety code, got %v", err)
			}
		})
	}
}

func TestTokenWarnings(t *testing.T) {
	high := testToken("HI", "0x0000000000000000000000000000000000000001", 1)
	high.RiskLevel = model.RiskHigh
	warnings := TokenWarnings([]model.Token{high, testToken("LO", "0x0000000000000000000000000000000000000002", 1)})
	if len(warnings) != 1 || warnings[0] != "HI has high risk level" {
		t.Fatalf("unexpected warnings: %v", warnings)
	}
}

func TestValidateQuote(t *testing.T) {
	quote := *liquidQuote(100)
	if warnings, err := ValidateQuote(quote); err != nil || len(warnings) != 0 {
		t.Fatalf("expected clean quote, got %v %v", warnings, err)
	}

	quote.PriceImpact = 7
	warnings, err := ValidateQuote(quote)
	if err != nil || len(warnings) != 1 {
		t.Fatalf("expected one warning, got %v %v", warnings, err)
	}

	quote.PriceImpact = 16
	if _, err := ValidateQuote(quote); !clierr.Is(err, clierr.CodeSafetyBlocked) {
		t.Fatalf("expected impact block, got %v", err)
	}

	zero := *liquidQuote(0)
	if _, err := ValidateQuote(zero); !clierr.Is(err, clierr.CodeSafetyBlocked) {
		t.Fatalf("expected zero output block, got %v", err)
	}

	if _, err := ValidateQuote(*illiquidQuote("")); !clierr.Is(err, clierr.CodeNoRoute) || !strings.Contains(err.Error(), "No route found") {
		t.Fatalf("expected no route, got %v", err)
	}
}
