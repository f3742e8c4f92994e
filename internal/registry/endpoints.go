package registry

const (
	RelayBaseURL     = "https://api.relay.link"
	RouteScanBaseURL = "https://api.routescan.io/v2/network"
	CovalentBaseURL  = "https://api.covalenthq.com/v1"

	// RelayReferrer tags quotes requested by this tool.
	RelayReferrer = "brass-hands"
)

var routeScanNetworkByChainID = map[int64]string{
	1:     "mainnet",
	10:    "optimism",
	56:    "bsc",
	137:   "polygon",
	8453:  "base",
	42161: "arbitrum",
}

var covalentChainByChainID = map[int64]string{
	1:     "eth-mainnet",
	10:    "optimism-mainnet",
	56:    "bsc-mainnet",
	137:   "matic-mainnet",
	8453:  "base-mainnet",
	42161: "arbitrum-mainnet",
}

func RouteScanNetwork(chainID int64) (string, bool) {
	v, ok := routeScanNetworkByChainID[chainID]
	return v, ok
}

func CovalentChainName(chainID int64) (string, bool) {
	v, ok := covalentChainByChainID[chainID]
	return v, ok
}
