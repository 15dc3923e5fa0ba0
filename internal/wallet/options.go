package wallet

import (
	"time"

	"github.com/Klingon-tech/tangle-wallet/internal/selection"
	"github.com/Klingon-tech/tangle-wallet/pkg/output"
	"github.com/Klingon-tech/tangle-wallet/pkg/tx"
	"github.com/Klingon-tech/tangle-wallet/pkg/types"
)

// Sync and retry defaults.
const (
	// MinSyncInterval is the debounce window of Sync.
	MinSyncInterval = 5 * time.Second
	// ReattachAfter is how long a pending transaction without inclusion
	// information waits before sync reattaches it.
	ReattachAfter = 60 * time.Second
	// PruneAfter is how long a transaction the node no longer knows stays
	// pending before it is marked unknownPruned.
	PruneAfter = 24 * time.Hour

	DefaultParallelRequests               = 10
	DefaultAddressGapLimit                = 0
	DefaultConsolidationThreshold         = 100
	DefaultHardwareConsolidationThreshold = 15

	RetryInterval    = time.Second
	RetryMaxAttempts = 40

	// DefaultMicroExpiration is how long the receiver of a micro transaction
	// has to claim it before the deposit returns.
	DefaultMicroExpiration = 24 * time.Hour
)

// AccountSyncOptions select the outputs synced on account addresses.
type AccountSyncOptions struct {
	BasicOutputs bool `json:"basicOutputs"`
	NftOutputs   bool `json:"nftOutputs"`
	AliasOutputs bool `json:"aliasOutputs"`
}

// AliasSyncOptions select the outputs synced on alias addresses the account controls.
type AliasSyncOptions struct {
	BasicOutputs   bool `json:"basicOutputs"`
	NftOutputs     bool `json:"nftOutputs"`
	AliasOutputs   bool `json:"aliasOutputs"`
	FoundryOutputs bool `json:"foundryOutputs"`
}

// NftSyncOptions select the outputs synced on NFT addresses the account controls.
type NftSyncOptions struct {
	BasicOutputs bool `json:"basicOutputs"`
	NftOutputs   bool `json:"nftOutputs"`
	AliasOutputs bool `json:"aliasOutputs"`
}

// SyncOptions configure one Sync call.
type SyncOptions struct {
	// Addresses restricts the sync to these addresses.
	Addresses []types.Address `json:"addresses,omitempty"`
	// AddressStartIndex skips public addresses below it.
	AddressStartIndex uint32 `json:"addressStartIndex"`
	// AddressStartIndexInternal skips internal addresses below it.
	AddressStartIndexInternal uint32 `json:"addressStartIndexInternal"`
	// AddressGapLimit enables address discovery when non-zero.
	AddressGapLimit uint32 `json:"addressGapLimit"`
	// ForceSyncing ignores the debounce window.
	ForceSyncing             bool `json:"forceSyncing"`
	SyncIncomingTransactions bool `json:"syncIncomingTransactions"`
	SyncPendingTransactions  bool `json:"syncPendingTransactions"`
	// SyncOnlyMostBasicOutputs only syncs basic outputs with nothing but an
	// address unlock condition.
	SyncOnlyMostBasicOutputs bool               `json:"syncOnlyMostBasicOutputs"`
	SyncNativeTokenFoundries bool               `json:"syncNativeTokenFoundries"`
	Account                  AccountSyncOptions `json:"account"`
	Alias                    AliasSyncOptions   `json:"alias"`
	Nft                      NftSyncOptions     `json:"nft"`
	AutoConsolidate          bool               `json:"autoConsolidate"`
	ConsolidationThreshold   int                `json:"consolidationThreshold"`
	// ConsolidateHardware allows automatic consolidation with a hardware signer.
	ConsolidateHardware bool `json:"consolidateHardware"`
	// ParallelRequests bounds concurrent node requests.
	ParallelRequests int `json:"parallelRequests"`
}

// DefaultSyncOptions returns the options used when Sync gets nil.
func DefaultSyncOptions() SyncOptions {
	return SyncOptions{
		AddressGapLimit:          DefaultAddressGapLimit,
		SyncPendingTransactions:  true,
		Account:                  AccountSyncOptions{BasicOutputs: true, NftOutputs: true, AliasOutputs: true},
		Alias:                    AliasSyncOptions{BasicOutputs: true, NftOutputs: true, AliasOutputs: true, FoundryOutputs: true},
		Nft:                      NftSyncOptions{BasicOutputs: true, NftOutputs: true, AliasOutputs: true},
		SyncNativeTokenFoundries: true,
		ConsolidationThreshold:   DefaultConsolidationThreshold,
		ParallelRequests:         DefaultParallelRequests,
	}
}

// RemainderStrategy chooses where change goes.
type RemainderStrategy uint8

// Remainder strategies.
const (
	// RemainderToFirstAddress reuses the first public address.
	RemainderToFirstAddress RemainderStrategy = iota
	// RemainderToChangeAddress generates a fresh internal address.
	RemainderToChangeAddress
	// RemainderToCustomAddress sends change to TransactionOptions.RemainderAddress.
	RemainderToCustomAddress
)

// TransactionOptions configure one send.
type TransactionOptions struct {
	RemainderStrategy RemainderStrategy
	RemainderAddress  types.Address
	TaggedData        *tx.TaggedData
	Note              string
	// CustomInputs are the only inputs used.
	CustomInputs []types.OutputID
	// MandatoryInputs are used in addition to selected inputs.
	MandatoryInputs []types.OutputID
	// Burn allows destroying the listed chains and tokens.
	Burn *selection.Burn
	// AllowMicroAmount lets SendAmount lift amounts below the storage
	// deposit with a storage deposit return.
	AllowMicroAmount bool
}

// ReturnStrategy decides what happens to the storage deposit an output
// needs on top of the sent amount.
type ReturnStrategy uint8

// Return strategies.
const (
	// ReturnDeposit adds a storage deposit return and an expiration.
	ReturnDeposit ReturnStrategy = iota
	// GiftDeposit gives the deposit to the recipient.
	GiftDeposit
)

// StorageDepositOptions tune PrepareOutput.
type StorageDepositOptions struct {
	ReturnStrategy ReturnStrategy
	// UseExcessIfLow gifts the deposit instead of returning it when the
	// return would itself be below the storage deposit.
	UseExcessIfLow bool
}

// OutputParams describe an output for PrepareOutput.
type OutputParams struct {
	Recipient    types.Address
	Amount       uint64
	NativeTokens output.NativeTokens
	// NftID sends an owned NFT instead of a basic output.
	NftID    *types.NftID
	Metadata []byte
	Tag      []byte
	// Expiration and Timelock are unix times; zero leaves them out.
	Expiration     uint32
	Timelock       uint32
	StorageDeposit StorageDepositOptions
}

// SendParams is one payment of SendAmount.
type SendParams struct {
	Address types.Address
	Amount  uint64
	// ReturnAddress receives the deposit of micro transactions. Zero means
	// the account's first address.
	ReturnAddress types.Address
	// Expiration overrides DefaultMicroExpiration for micro transactions.
	Expiration time.Duration
}

// SendNativeTokensParams is one token payment of SendNativeTokens.
type SendNativeTokensParams struct {
	Address      types.Address
	NativeTokens output.NativeTokens
	// ReturnAddress receives the storage deposit back. Zero means the
	// account's first address.
	ReturnAddress types.Address
	Expiration    time.Duration
}

// SendNftParams is one NFT transfer of SendNft.
type SendNftParams struct {
	Address types.Address
	NftID   types.NftID
}
