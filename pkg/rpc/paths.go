package rpc

// Endpoint paths for ledger chain queries, consolidated here so a node API
// change only touches one file.

const (
	// CometBFT JSON-RPC
	statusPath = "/status"
	blockPath  = "/block"

	// Cosmos REST (LCD)
	supplyByDenomPath  = "/cosmos/bank/v1beta1/supply/by_denom"
	balanceByDenomPath = "/cosmos/bank/v1beta1/balances/%s/by_denom"
	stakingPoolPath    = "/cosmos/staking/v1beta1/pool"
	accountsPath       = "/cosmos/auth/v1beta1/accounts"
	moduleAccountsPath = "/cosmos/auth/v1beta1/module_accounts"

	// Chain-specific extensions
	reportersPath = "/tellor-io/layer/reporter/reporters"
)

// BlockTimeHeader carries the height for historical state queries against the
// REST API. The node answers from the state at that height instead of head.
const BlockHeightHeader = "x-cosmos-block-height"
