package timeline

import (
	"time"

	"github.com/tellor-io/supplyx/pkg/utils"
)

const SnapshotTableName = "unified_snapshots"

// ScoredFieldCount is the fixed denominator for the completeness score. It
// does not grow when optional fields (reporter power, address census extras)
// are added, so scores remain comparable across schema revisions.
const ScoredFieldCount = 6

// SnapshotColumns defines the schema for the unified snapshot table.
// The table is keyed by settlement_ts: one row per settlement-chain block
// timestamp, deduplicated by ReplacingMergeTree on collected_at.
var SnapshotColumns = []ColumnDef{
	{Name: "settlement_block", Type: "UInt64", Codec: "Delta, ZSTD(3)"},
	{Name: "settlement_ts", Type: "UInt64", Codec: "Delta, ZSTD(3)"},
	{Name: "settlement_time", Type: "DateTime", Codec: "DoubleDelta, ZSTD(1)"},
	{Name: "bridge_balance", Type: "Nullable(Float64)", Codec: "ZSTD(3)"},
	{Name: "ledger_height", Type: "Nullable(UInt64)", Codec: "ZSTD(3)"},
	{Name: "ledger_ts", Type: "Nullable(UInt64)", Codec: "ZSTD(3)"},
	{Name: "ledger_total_supply", Type: "Nullable(Float64)", Codec: "ZSTD(3)"},
	{Name: "bonded_tokens", Type: "Nullable(Float64)", Codec: "ZSTD(3)"},
	{Name: "not_bonded_tokens", Type: "Nullable(Float64)", Codec: "ZSTD(3)"},
	{Name: "total_reporter_power", Type: "Nullable(Float64)", Codec: "ZSTD(3)"},
	{Name: "total_addresses", Type: "Nullable(UInt32)", Codec: "ZSTD(1)"},
	{Name: "addresses_with_balance", Type: "Nullable(UInt32)", Codec: "ZSTD(1)"},
	{Name: "total_balance", Type: "Nullable(Float64)", Codec: "ZSTD(3)"},
	{Name: "completeness", Type: "Float64", Codec: "ZSTD(1)"},
	{Name: "collected_at", Type: "DateTime64(3)", Codec: "DoubleDelta, ZSTD(1)"},
}

// UnifiedSnapshot is one point on the canonical timeline: the state of the
// token supply on both chains as of a single settlement-chain block.
//
// Metric fields are pointers because any of them can be missing when the
// corresponding RPC call failed during collection. A missing field lowers the
// completeness score; it never blocks the row from being stored.
type UnifiedSnapshot struct {
	SettlementBlock uint64    `ch:"settlement_block" json:"settlement_block"`
	SettlementTs    uint64    `ch:"settlement_ts" json:"settlement_ts"`
	SettlementTime  time.Time `ch:"settlement_time" json:"settlement_time"`

	// Settlement-chain side: bridge contract token balance at that block.
	BridgeBalance *float64 `ch:"bridge_balance" json:"bridge_balance"`

	// Ledger-chain side, as of the block nearest to SettlementTs.
	LedgerHeight      *uint64  `ch:"ledger_height" json:"ledger_height"`
	LedgerTs          *uint64  `ch:"ledger_ts" json:"ledger_ts"`
	LedgerTotalSupply *float64 `ch:"ledger_total_supply" json:"ledger_total_supply"`
	BondedTokens      *float64 `ch:"bonded_tokens" json:"bonded_tokens"`
	NotBondedTokens   *float64 `ch:"not_bonded_tokens" json:"not_bonded_tokens"`

	// Optional: not scored.
	TotalReporterPower *float64 `ch:"total_reporter_power" json:"total_reporter_power"`

	// Account census.
	TotalAddresses       *uint32  `ch:"total_addresses" json:"total_addresses"`
	AddressesWithBalance *uint32  `ch:"addresses_with_balance" json:"addresses_with_balance"`
	TotalBalance         *float64 `ch:"total_balance" json:"total_balance"`

	Completeness float64   `ch:"completeness" json:"completeness"`
	CollectedAt  time.Time `ch:"collected_at" json:"collected_at"`
}

// Score computes the completeness score: the fraction of scored fields that
// are non-null, rounded to two decimals. Reporter power and the secondary
// census fields are informational and intentionally excluded.
func (s *UnifiedSnapshot) Score() float64 {
	present := 0
	if s.BridgeBalance != nil {
		present++
	}
	if s.LedgerTotalSupply != nil {
		present++
	}
	if s.BondedTokens != nil {
		present++
	}
	if s.NotBondedTokens != nil {
		present++
	}
	if s.TotalAddresses != nil {
		present++
	}
	if s.TotalBalance != nil {
		present++
	}
	return utils.Round2(float64(present) / float64(ScoredFieldCount))
}

// Complete reports whether every scored field is present.
func (s *UnifiedSnapshot) Complete() bool {
	return s.Score() >= 1.0
}

// Merge fills s's null fields from prev. Non-null values in s always win;
// prev is only consulted where s has nothing. Used by backfill so a failed
// re-fetch never erases data collected earlier.
func (s *UnifiedSnapshot) Merge(prev *UnifiedSnapshot) {
	if prev == nil {
		return
	}
	if s.BridgeBalance == nil {
		s.BridgeBalance = prev.BridgeBalance
	}
	if s.LedgerHeight == nil {
		s.LedgerHeight = prev.LedgerHeight
	}
	if s.LedgerTs == nil {
		s.LedgerTs = prev.LedgerTs
	}
	if s.LedgerTotalSupply == nil {
		s.LedgerTotalSupply = prev.LedgerTotalSupply
	}
	if s.BondedTokens == nil {
		s.BondedTokens = prev.BondedTokens
	}
	if s.NotBondedTokens == nil {
		s.NotBondedTokens = prev.NotBondedTokens
	}
	if s.TotalReporterPower == nil {
		s.TotalReporterPower = prev.TotalReporterPower
	}
	if s.TotalAddresses == nil {
		s.TotalAddresses = prev.TotalAddresses
	}
	if s.AddressesWithBalance == nil {
		s.AddressesWithBalance = prev.AddressesWithBalance
	}
	if s.TotalBalance == nil {
		s.TotalBalance = prev.TotalBalance
	}
}
