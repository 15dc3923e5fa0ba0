package wallet

import (
	"context"
	"fmt"
	"time"

	"github.com/Klingon-tech/tangle-wallet/pkg/output"
	"github.com/Klingon-tech/tangle-wallet/pkg/types"
)

func (a *Account) firstAddress() (types.Address, error) {
	var (
		addr types.Address
		err  error
	)
	a.read(func(d *AccountDetails) { addr, err = d.firstAddress() })
	return addr, err
}

// expiresAt returns the unix time d after now, or after
// DefaultMicroExpiration when d is zero.
func (a *Account) expiresAt(d time.Duration) uint32 {
	if d <= 0 {
		d = DefaultMicroExpiration
	}
	return uint32(a.shared.clock.Now().Add(d).Unix())
}

// SendAmount sends base coins. Amounts below the storage deposit need
// AllowMicroAmount and are then sent as micro transactions.
func (a *Account) SendAmount(ctx context.Context, sends []SendParams, opts *TransactionOptions) (*Transaction, error) {
	allowMicro := opts != nil && opts.AllowMicroAmount
	outputs, err := a.amountOutputs(ctx, sends, allowMicro)
	if err != nil {
		return nil, err
	}
	return a.SendOutputs(ctx, outputs, opts)
}

// SendMicroTransaction sends amounts below the storage deposit. Each output
// carries the missing deposit with a storage deposit return and an
// expiration after which it falls back to the sender.
func (a *Account) SendMicroTransaction(ctx context.Context, sends []SendParams, opts *TransactionOptions) (*Transaction, error) {
	outputs, err := a.amountOutputs(ctx, sends, true)
	if err != nil {
		return nil, err
	}
	return a.SendOutputs(ctx, outputs, opts)
}

func (a *Account) amountOutputs(ctx context.Context, sends []SendParams, allowMicro bool) ([]output.Output, error) {
	if len(sends) == 0 {
		return nil, fmt.Errorf("%w: no recipients", ErrMissingParameter)
	}
	params, err := a.cachedProtocol(ctx)
	if err != nil {
		return nil, err
	}
	rent := params.RentStructure
	outputs := make([]output.Output, 0, len(sends))
	for i, s := range sends {
		if s.Address.IsZero() {
			return nil, fmt.Errorf("send %d: %w", i, ErrInvalidAddress)
		}
		if s.Amount == 0 {
			return nil, fmt.Errorf("send %d: %w: zero amount", i, ErrInvalidAmount)
		}
		recipient := s.Address
		out := &output.BasicOutput{
			Amount:           s.Amount,
			UnlockConditions: output.UnlockConditions{Address: &recipient},
		}
		if rent.MinStorageDeposit(out) <= s.Amount || !allowMicro {
			outputs = append(outputs, out)
			continue
		}
		ret := s.ReturnAddress
		if ret.IsZero() {
			if ret, err = a.firstAddress(); err != nil {
				return nil, err
			}
		}
		outputs = append(outputs, microOutput(rent, recipient, s.Amount, ret, a.expiresAt(s.Expiration)))
	}
	return outputs, nil
}

// microOutput lifts amount to the storage deposit of its output. The lift
// goes back to ret through a storage deposit return, and the whole output
// does after expiration.
func microOutput(rent output.RentStructure, recipient types.Address, amount uint64, ret types.Address, expiration uint32) *output.BasicOutput {
	out := &output.BasicOutput{
		UnlockConditions: output.UnlockConditions{
			Address:              &recipient,
			StorageDepositReturn: &output.StorageDepositReturn{ReturnAddress: ret},
			Expiration:           &output.Expiration{ReturnAddress: ret, UnixTime: expiration},
		},
	}
	need := rent.MinStorageDeposit(out)
	lift := max(need-min(need, amount), rent.MinReturnDeposit(ret))
	out.Amount = amount + lift
	out.UnlockConditions.StorageDepositReturn.Amount = lift
	return out
}

// SendNativeTokens sends native tokens. The storage deposit of every output
// is returned to the sender when the recipient claims it, or falls back
// after expiration.
func (a *Account) SendNativeTokens(ctx context.Context, sends []SendNativeTokensParams, opts *TransactionOptions) (*Transaction, error) {
	if len(sends) == 0 {
		return nil, fmt.Errorf("%w: no recipients", ErrMissingParameter)
	}
	params, err := a.cachedProtocol(ctx)
	if err != nil {
		return nil, err
	}
	rent := params.RentStructure
	outputs := make([]output.Output, 0, len(sends))
	for i, s := range sends {
		if s.Address.IsZero() {
			return nil, fmt.Errorf("send %d: %w", i, ErrInvalidAddress)
		}
		if len(s.NativeTokens) == 0 {
			return nil, fmt.Errorf("send %d: %w: no native tokens", i, ErrInvalidAmount)
		}
		if len(s.NativeTokens) > output.MaxNativeTokensCount {
			return nil, fmt.Errorf("send %d: %w", i, output.ErrTooManyNativeTokens)
		}
		ret := s.ReturnAddress
		if ret.IsZero() {
			if ret, err = a.firstAddress(); err != nil {
				return nil, err
			}
		}
		recipient := s.Address
		out := &output.BasicOutput{
			NativeTokens: s.NativeTokens.Clone(),
			UnlockConditions: output.UnlockConditions{
				Address:              &recipient,
				StorageDepositReturn: &output.StorageDepositReturn{ReturnAddress: ret},
				Expiration:           &output.Expiration{ReturnAddress: ret, UnixTime: a.expiresAt(s.Expiration)},
			},
		}
		deposit := max(rent.MinStorageDeposit(out), rent.MinReturnDeposit(ret))
		out.Amount = deposit
		out.UnlockConditions.StorageDepositReturn.Amount = deposit
		outputs = append(outputs, out)
	}
	return a.SendOutputs(ctx, outputs, opts)
}

// SendNft transfers owned NFTs. The sent outputs keep their deposit and
// features and are locked to the recipient address only.
func (a *Account) SendNft(ctx context.Context, sends []SendNftParams, opts *TransactionOptions) (*Transaction, error) {
	if len(sends) == 0 {
		return nil, fmt.Errorf("%w: no recipients", ErrMissingParameter)
	}
	outputs := make([]output.Output, 0, len(sends))
	for i, s := range sends {
		if s.Address.IsZero() {
			return nil, fmt.Errorf("send %d: %w", i, ErrInvalidAddress)
		}
		nft, id, err := a.unspentNft(s.NftID)
		if err != nil {
			return nil, err
		}
		recipient := s.Address
		nft.NftID = output.ResolvedNftID(nft, id)
		nft.UnlockConditions = output.UnlockConditions{Address: &recipient}
		outputs = append(outputs, nft)
	}
	return a.SendOutputs(ctx, outputs, opts)
}

// unspentNft finds the unspent output of NFT id.
func (a *Account) unspentNft(id types.NftID) (*output.NftOutput, types.OutputID, error) {
	var (
		nft *output.NftOutput
		oid types.OutputID
	)
	a.read(func(d *AccountDetails) {
		for outID, od := range d.UnspentOutputs {
			if n, ok := od.Output.(*output.NftOutput); ok && output.ResolvedNftID(n, outID) == id {
				nft, oid = n.Clone().(*output.NftOutput), outID
				return
			}
		}
	})
	if nft == nil {
		return nil, types.OutputID{}, fmt.Errorf("%w: %s", ErrNftNotFound, id)
	}
	return nft, oid, nil
}

// unspentAlias finds the unspent output of alias id.
func (a *Account) unspentAlias(id types.AliasID) (*output.AliasOutput, types.OutputID, error) {
	var (
		alias *output.AliasOutput
		oid   types.OutputID
	)
	a.read(func(d *AccountDetails) {
		for outID, od := range d.UnspentOutputs {
			if al, ok := od.Output.(*output.AliasOutput); ok && output.ResolvedAliasID(al, outID) == id {
				alias, oid = al.Clone().(*output.AliasOutput), outID
				return
			}
		}
	})
	if alias == nil {
		return nil, types.OutputID{}, fmt.Errorf("%w: %s", ErrAliasNotFound, id)
	}
	return alias, oid, nil
}

// unspentFoundry finds the unspent output of foundry id.
func (a *Account) unspentFoundry(id types.FoundryID) (*output.FoundryOutput, types.OutputID, error) {
	var (
		foundry *output.FoundryOutput
		oid     types.OutputID
	)
	a.read(func(d *AccountDetails) {
		for outID, od := range d.UnspentOutputs {
			if f, ok := od.Output.(*output.FoundryOutput); ok && f.FoundryID() == id {
				foundry, oid = f.Clone().(*output.FoundryOutput), outID
				return
			}
		}
	})
	if foundry == nil {
		return nil, types.OutputID{}, fmt.Errorf("%w: %s", ErrFoundryNotFound, id)
	}
	return foundry, oid, nil
}

// PrepareOutput builds a basic output, or an NFT output when p.NftID is
// set, from p. An amount below the storage deposit is lifted according to
// p.StorageDeposit.
func (a *Account) PrepareOutput(ctx context.Context, p OutputParams) (output.Output, error) {
	if p.Recipient.IsZero() {
		return nil, ErrInvalidAddress
	}
	params, err := a.cachedProtocol(ctx)
	if err != nil {
		return nil, err
	}
	rent := params.RentStructure
	ret, err := a.firstAddress()
	if err != nil {
		return nil, err
	}

	recipient := p.Recipient
	conds := output.UnlockConditions{Address: &recipient}
	if p.Timelock != 0 {
		conds.Timelock = &output.Timelock{UnixTime: p.Timelock}
	}
	if p.Expiration != 0 {
		conds.Expiration = &output.Expiration{ReturnAddress: ret, UnixTime: p.Expiration}
	}
	features := output.Features{Metadata: p.Metadata, Tag: p.Tag}

	var out output.Output
	if p.NftID != nil {
		nft, _, err := a.unspentNft(*p.NftID)
		if err != nil {
			return nil, err
		}
		next := nft
		next.NftID = *p.NftID
		next.UnlockConditions = conds
		if features.Len() > 0 {
			next.Features = features
		}
		if p.Amount != 0 {
			next.Amount = p.Amount
		}
		if len(p.NativeTokens) > 0 {
			next.NativeTokens = p.NativeTokens.Clone()
		}
		out = next
	} else {
		out = &output.BasicOutput{
			Amount:           p.Amount,
			NativeTokens:     p.NativeTokens.Clone(),
			UnlockConditions: conds,
			Features:         features,
		}
	}

	amount := out.Deposit()
	need := rent.MinStorageDeposit(out)
	if amount >= need {
		return out, nil
	}
	if p.StorageDeposit.ReturnStrategy == GiftDeposit {
		return output.WithAmount(out, need), nil
	}

	u := out.Conditions()
	u.StorageDepositReturn = &output.StorageDepositReturn{ReturnAddress: ret}
	if u.Expiration == nil {
		u.Expiration = &output.Expiration{ReturnAddress: ret, UnixTime: a.expiresAt(0)}
	}
	lift := rent.MinStorageDeposit(out) - amount
	if minReturn := rent.MinReturnDeposit(ret); lift < minReturn {
		if p.StorageDeposit.UseExcessIfLow {
			u.StorageDepositReturn = nil
			if p.Expiration == 0 {
				u.Expiration = nil
			}
			return output.WithAmount(out, rent.MinStorageDeposit(out)), nil
		}
		lift = minReturn
	}
	u.StorageDepositReturn.Amount = lift
	return output.WithAmount(out, amount+lift), nil
}
