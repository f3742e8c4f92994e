package app

import (
	"fmt"
	"math/big"
	"strings"

	clierr "github.com/ggonzalez94/dustsweep/internal/errors"
	"github.com/ggonzalez94/dustsweep/internal/id"
	"github.com/ggonzalez94/dustsweep/internal/model"
)

// parseWalletChain validates an --address / --chain pair and returns the
// checksummed address.
func parseWalletChain(addressArg, chainArg string) (string, id.Chain, error) {
	addr, err := id.ParseAddress(addressArg, "--address")
	if err != nil {
		return "", id.Chain{}, err
	}
	chain, err := id.ParseChain(chainArg)
	if err != nil {
		return "", id.Chain{}, err
	}
	return addr.Hex(), chain, nil
}

func parseStrategy(input string) (model.ExecutionStrategy, error) {
	switch strings.ToUpper(strings.TrimSpace(input)) {
	case string(model.StrategySmartBatch), "SMART":
		return model.StrategySmartBatch, nil
	case string(model.StrategyStandardBatch), "STANDARD":
		return model.StrategyStandardBatch, nil
	case string(model.StrategyLegacy):
		return model.StrategyLegacy, nil
	default:
		return "", clierr.New(clierr.CodeUsage, fmt.Sprintf("unknown strategy %q", input))
	}
}

// parsedAmount is an optional base-unit amount. The zero value means unset.
type parsedAmount struct {
	value *big.Int
}

func (a parsedAmount) String() string {
	if a.value == nil {
		return ""
	}
	return a.value.String()
}

func parseAmount(input string, decimals int) (parsedAmount, error) {
	value, err := id.ParseUnits(input, decimals)
	if err != nil {
		return parsedAmount{}, err
	}
	return parsedAmount{value: value}, nil
}

// splitIDs splits a comma separated id list without lowercasing.
func splitIDs(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
