package timeline

import "time"

const BalanceTableName = "account_balances"

// Account type labels stored with each balance row. Derived from the ledger
// chain's account type URL by the RPC adapter.
const (
	AccountTypeBase   = "base"
	AccountTypeModule = "module"
	AccountTypeOther  = "other"
)

// BalanceColumns defines the schema for the per-address balance table. Rows
// belong to a snapshot via settlement_ts and are fully replaced whenever that
// snapshot is re-collected.
var BalanceColumns = []ColumnDef{
	{Name: "settlement_ts", Type: "UInt64", Codec: "Delta, ZSTD(3)"},
	{Name: "address", Type: "String", Codec: "ZSTD(1)"},
	{Name: "account_type", Type: "LowCardinality(String)"},
	{Name: "account_name", Type: "String", Codec: "ZSTD(1)"},
	{Name: "balance_raw", Type: "UInt64", Codec: "Delta, ZSTD(3)"},
	{Name: "balance", Type: "Float64", Codec: "ZSTD(3)"},
	{Name: "collected_at", Type: "DateTime64(3)", Codec: "DoubleDelta, ZSTD(1)"},
}

// AccountBalance is one address's token balance at a snapshot's ledger block.
// balance_raw is in the chain's micro denomination; balance is the decimal
// token amount.
type AccountBalance struct {
	SettlementTs uint64    `ch:"settlement_ts" json:"settlement_ts"`
	Address      string    `ch:"address" json:"address"`
	AccountType  string    `ch:"account_type" json:"account_type"`
	AccountName  string    `ch:"account_name" json:"account_name"`
	BalanceRaw   uint64    `ch:"balance_raw" json:"balance_raw"`
	Balance      float64   `ch:"balance" json:"balance"`
	CollectedAt  time.Time `ch:"collected_at" json:"collected_at"`
}
