package wallet

import (
	"errors"
	"fmt"

	"github.com/Klingon-tech/tangle-wallet/internal/selection"
)

// Input errors.
var (
	ErrInvalidOutputKind = errors.New("invalid output kind for operation")
	ErrInvalidAmount     = errors.New("invalid amount")
	ErrInvalidAddress    = errors.New("invalid address")
)

// Resource errors. Selection errors are re-exported so callers only need
// this package.
var (
	ErrInsufficientAmount       = selection.ErrInsufficientAmount
	ErrInsufficientNativeTokens = selection.ErrInsufficientNativeTokens
	ErrNativeTokensOverflow     = selection.ErrNativeTokensOverflow
	ErrTooManyOutputs           = selection.ErrTooManyOutputs
	ErrTooManyInputs            = errors.New("too many inputs")
	ErrNothingToClaim           = errors.New("no outputs to claim")
)

// Consistency errors.
var (
	ErrAddressNotFound     = errors.New("address not found in account")
	ErrDuplicateAlias      = errors.New("account alias already exists")
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrNftNotFound         = errors.New("nft not found in unspent outputs")
	ErrAliasNotFound       = errors.New("alias not found in unspent outputs")
	ErrFoundryNotFound     = errors.New("foundry not found")
	ErrFoundryHasSupply    = errors.New("foundry has circulating supply")
	ErrMaximumSupply       = errors.New("exceeds maximum token supply")
	ErrOutputNotFound      = errors.New("output not found")
	ErrAccountNotFound     = errors.New("account not found")
	ErrSeedMismatch        = errors.New("signer does not match existing accounts")
	ErrCoinTypeMismatch    = errors.New("coin type differs from stored accounts")
	ErrAccountHasHistory   = errors.New("account has transaction history")
	ErrNoAccounts          = errors.New("no accounts")
	ErrTransactionDone     = errors.New("transaction is no longer pending")
)

// Pipeline and configuration errors.
var (
	ErrMissingParameter        = errors.New("missing required parameter")
	ErrTransactionNotIncluded  = errors.New("transaction not included")
	ErrInvalidInclusionChange  = errors.New("invalid inclusion state change")
	ErrBackgroundSyncRunning   = errors.New("background syncing already running")
	ErrInvalidUnlock           = errors.New("signer produced an invalid unlock")
	ErrConsolidationNotAllowed = errors.New("consolidation needs approval on hardware signers")
)

// CustomInputError reports a caller supplied input that cannot be used.
type CustomInputError = selection.CustomInputError

// ConsolidationRequiredError is returned when funds are spread over more
// outputs than one transaction may consume.
type ConsolidationRequiredError = selection.ConsolidationRequiredError

// ConsolidationThresholdError is returned when fewer outputs than the
// threshold are eligible for consolidation and the caller did not force it.
type ConsolidationThresholdError struct {
	Count     int
	Threshold int
}

func (e *ConsolidationThresholdError) Error() string {
	return fmt.Sprintf("%d outputs eligible for consolidation, threshold is %d", e.Count, e.Threshold)
}
