package output

import "errors"

// Output errors.
var (
	ErrInvalidOutputKind        = errors.New("invalid output kind for operation")
	ErrNativeTokensOverflow     = errors.New("native token amount overflow")
	ErrInsufficientNativeTokens = errors.New("insufficient native tokens")
	ErrTooManyNativeTokens      = errors.New("too many native tokens")
	ErrInsufficientDeposit      = errors.New("amount below minimum storage deposit")
	ErrUnknownOutputKind        = errors.New("unknown output kind")
)
