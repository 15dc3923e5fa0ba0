package output

import (
	"github.com/Klingon-tech/tangle-wallet/pkg/types"
)

// StorageDepositReturn requires Amount to be paid back to ReturnAddress by the
// transaction consuming the output.
type StorageDepositReturn struct {
	ReturnAddress types.Address `json:"returnAddress"`
	Amount        uint64        `json:"amount"`
}

// Timelock prevents spending before UnixTime.
type Timelock struct {
	UnixTime uint32 `json:"unixTime"`
}

// Expiration hands ownership to ReturnAddress once UnixTime is reached.
type Expiration struct {
	ReturnAddress types.Address `json:"returnAddress"`
	UnixTime      uint32        `json:"unixTime"`
}

// UnlockConditions is the set of unlock conditions of an output. Nil fields are absent.
type UnlockConditions struct {
	Address                *types.Address        `json:"address,omitempty"`
	StorageDepositReturn   *StorageDepositReturn `json:"storageDepositReturn,omitempty"`
	Timelock               *Timelock             `json:"timelock,omitempty"`
	Expiration             *Expiration           `json:"expiration,omitempty"`
	StateControllerAddress *types.Address        `json:"stateControllerAddress,omitempty"`
	GovernorAddress        *types.Address        `json:"governorAddress,omitempty"`
	ImmutableAliasAddress  *types.Address        `json:"immutableAliasAddress,omitempty"`
}

// Len returns the number of present conditions.
func (u *UnlockConditions) Len() int {
	n := 0
	for _, present := range []bool{
		u.Address != nil,
		u.StorageDepositReturn != nil,
		u.Timelock != nil,
		u.Expiration != nil,
		u.StateControllerAddress != nil,
		u.GovernorAddress != nil,
		u.ImmutableAliasAddress != nil,
	} {
		if present {
			n++
		}
	}
	return n
}

// Clone returns a deep copy.
func (u UnlockConditions) Clone() UnlockConditions {
	c := UnlockConditions{
		Address:                cloneAddr(u.Address),
		StateControllerAddress: cloneAddr(u.StateControllerAddress),
		GovernorAddress:        cloneAddr(u.GovernorAddress),
		ImmutableAliasAddress:  cloneAddr(u.ImmutableAliasAddress),
	}
	if u.StorageDepositReturn != nil {
		v := *u.StorageDepositReturn
		c.StorageDepositReturn = &v
	}
	if u.Timelock != nil {
		v := *u.Timelock
		c.Timelock = &v
	}
	if u.Expiration != nil {
		v := *u.Expiration
		c.Expiration = &v
	}
	return c
}

// TimelockedAt reports whether the output cannot be spent yet at now.
func (u *UnlockConditions) TimelockedAt(now uint32) bool {
	return u.Timelock != nil && now < u.Timelock.UnixTime
}

// ExpiredAt reports whether ownership already moved to the expiration return address.
func (u *UnlockConditions) ExpiredAt(now uint32) bool {
	return u.Expiration != nil && now >= u.Expiration.UnixTime
}

// HasOnlyAddress reports whether the output is a plain address lock.
func (u *UnlockConditions) HasOnlyAddress() bool {
	return u.Address != nil && u.Len() == 1
}

// IsPlainAddressLock reports whether o is a plain address-locked output.
func IsPlainAddressLock(o Output) bool {
	return o.Conditions().HasOnlyAddress()
}

// OwnerAddress returns the address from the address, state controller or immutable
// alias condition, ignoring time based conditions.
func OwnerAddress(o Output) (types.Address, bool) {
	u := o.Conditions()
	switch {
	case u.Address != nil:
		return *u.Address, true
	case u.StateControllerAddress != nil:
		return *u.StateControllerAddress, true
	case u.ImmutableAliasAddress != nil:
		return *u.ImmutableAliasAddress, true
	}
	return types.Address{}, false
}

// UnlockAddress returns the address that has to unlock o at now. For alias
// outputs stateTransition selects the state controller over the governor.
func UnlockAddress(o Output, now uint32, stateTransition bool) (types.Address, bool) {
	u := o.Conditions()
	switch o.(type) {
	case *AliasOutput:
		if stateTransition && u.StateControllerAddress != nil {
			return *u.StateControllerAddress, true
		}
		if !stateTransition && u.GovernorAddress != nil {
			return *u.GovernorAddress, true
		}
		return types.Address{}, false
	case *FoundryOutput:
		if u.ImmutableAliasAddress != nil {
			return *u.ImmutableAliasAddress, true
		}
		return types.Address{}, false
	case *TreasuryOutput:
		return types.Address{}, false
	}
	if u.ExpiredAt(now) {
		return u.Expiration.ReturnAddress, true
	}
	if u.Address == nil {
		return types.Address{}, false
	}
	return *u.Address, true
}

// Reachability classifies whether an owner can spend an output.
type Reachability int

const (
	// Unreachable outputs can never be spent by the owner.
	Unreachable Reachability = iota
	// ReachableLater outputs are not spendable now but become spendable by the owner.
	ReachableLater
	// ReachableNow outputs are spendable now but may be lost to another party later.
	ReachableNow
	// ReachableForever outputs are spendable now and stay spendable by the owner.
	ReachableForever
)

// Classify evaluates o at now against the predicate owned for addresses the
// caller controls. Alias outputs are evaluated for a state transition.
func Classify(o Output, now uint32, owned func(types.Address) bool) Reachability {
	if o.Kind() == KindTreasury {
		return Unreachable
	}
	u := o.Conditions()
	current, ok := UnlockAddress(o, now, true)
	if !ok {
		return Unreachable
	}

	if !u.TimelockedAt(now) && owned(current) {
		if u.Expiration != nil && !u.ExpiredAt(now) && !owned(u.Expiration.ReturnAddress) {
			return ReachableNow
		}
		return ReachableForever
	}

	if u.TimelockedAt(now) {
		// After the timelock ends either the address or, if already expired
		// by then, the return address can unlock it.
		at := u.Timelock.UnixTime
		future, ok := UnlockAddress(o, at, true)
		if ok && owned(future) {
			return ReachableLater
		}
		if u.Expiration != nil && owned(u.Expiration.ReturnAddress) {
			return ReachableLater
		}
		return Unreachable
	}

	if u.Expiration != nil && !u.ExpiredAt(now) && owned(u.Expiration.ReturnAddress) {
		return ReachableLater
	}
	return Unreachable
}

// Features are optional output features.
type Features struct {
	Sender   *types.Address `json:"sender,omitempty"`
	Issuer   *types.Address `json:"issuer,omitempty"`
	Metadata []byte         `json:"metadata,omitempty"`
	Tag      []byte         `json:"tag,omitempty"`
}

// Len returns the number of present features.
func (f Features) Len() int {
	n := 0
	if f.Sender != nil {
		n++
	}
	if f.Issuer != nil {
		n++
	}
	if f.Metadata != nil {
		n++
	}
	if f.Tag != nil {
		n++
	}
	return n
}

// Clone returns a deep copy.
func (f Features) Clone() Features {
	return Features{
		Sender:   cloneAddr(f.Sender),
		Issuer:   cloneAddr(f.Issuer),
		Metadata: cloneBytes(f.Metadata),
		Tag:      cloneBytes(f.Tag),
	}
}

func cloneAddr(a *types.Address) *types.Address {
	if a == nil {
		return nil
	}
	v := *a
	return &v
}
