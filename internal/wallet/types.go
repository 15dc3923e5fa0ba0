package wallet

import (
	"encoding/json"
	"sort"

	"github.com/Klingon-tech/tangle-wallet/internal/nodeclient"
	"github.com/Klingon-tech/tangle-wallet/internal/signer"
	"github.com/Klingon-tech/tangle-wallet/pkg/output"
	"github.com/Klingon-tech/tangle-wallet/pkg/tx"
	"github.com/Klingon-tech/tangle-wallet/pkg/types"
)

// AccountAddress is an address derived for an account.
type AccountAddress struct {
	Address  types.Bech32Address `json:"address"`
	KeyIndex uint32              `json:"keyIndex"`
	Internal bool                `json:"internal"`
	// Used is set once an output was seen on the address.
	Used bool `json:"used"`
}

// AddressWithUnspentOutputs is an account address and the unspent outputs on it.
type AddressWithUnspentOutputs struct {
	Address   types.Bech32Address `json:"address"`
	KeyIndex  uint32              `json:"keyIndex"`
	Internal  bool                `json:"internal"`
	OutputIDs []types.OutputID    `json:"outputIds"`
}

// OutputData is an output the account owns or owned.
type OutputData struct {
	OutputID types.OutputID            `json:"outputId"`
	Output   output.Output             `json:"-"`
	Metadata nodeclient.OutputMetadata `json:"metadata"`
	IsSpent  bool                      `json:"isSpent"`
	// Address is the account address the output was found on.
	Address   types.Address `json:"address"`
	NetworkID uint64        `json:"networkId,string"`
	// Remainder is set when the account created the output as change.
	Remainder bool `json:"remainder"`
	// Chain is the derivation path of Address. Nil for outputs owned through
	// an alias or NFT.
	Chain *signer.Chain `json:"chain,omitempty"`
}

type outputDataAlias OutputData

type outputDataJSON struct {
	outputDataAlias
	Output output.Envelope `json:"output"`
}

// MarshalJSON encodes the output kind-tagged.
func (o OutputData) MarshalJSON() ([]byte, error) {
	return json.Marshal(outputDataJSON{outputDataAlias: outputDataAlias(o), Output: output.Envelope{Output: o.Output}})
}

// UnmarshalJSON decodes the form written by MarshalJSON.
func (o *OutputData) UnmarshalJSON(data []byte) error {
	var j outputDataJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return err
	}
	*o = OutputData(j.outputDataAlias)
	o.Output = j.Output.Output
	return nil
}

// Clone returns a deep copy.
func (o *OutputData) Clone() *OutputData {
	c := *o
	if o.Output != nil {
		c.Output = o.Output.Clone()
	}
	if o.Metadata.TransactionIDSpent != nil {
		id := *o.Metadata.TransactionIDSpent
		c.Metadata.TransactionIDSpent = &id
	}
	if o.Chain != nil {
		ch := *o.Chain
		c.Chain = &ch
	}
	return &c
}

// Transaction is a transaction the account sent or received.
type Transaction struct {
	Payload *tx.Payload `json:"payload"`
	// BlockID is the latest attachment, nil until a submission succeeded.
	BlockID        *types.BlockID      `json:"blockId,omitempty"`
	InclusionState InclusionState      `json:"inclusionState"`
	Timestamp      int64               `json:"timestamp"`
	TransactionID  types.TransactionID `json:"transactionId"`
	NetworkID      uint64              `json:"networkId,string"`
	Incoming       bool                `json:"incoming"`
	Note           string              `json:"note,omitempty"`
	// Inputs are the consumed outputs as far as they were known.
	Inputs []nodeclient.OutputResponse `json:"inputs"`
}

// Clone returns a copy sharing the immutable payload.
func (t *Transaction) Clone() *Transaction {
	c := *t
	if t.BlockID != nil {
		id := *t.BlockID
		c.BlockID = &id
	}
	c.Inputs = append([]nodeclient.OutputResponse(nil), t.Inputs...)
	return &c
}

// idKey is a comparable id with a stable text form.
type idKey interface {
	comparable
	String() string
}

// Set is a set of ids encoded in JSON as a sorted list.
type Set[K idKey] map[K]struct{}

// Has reports whether k is in the set.
func (s Set[K]) Has(k K) bool {
	_, ok := s[k]
	return ok
}

// Add inserts k.
func (s Set[K]) Add(k K) {
	s[k] = struct{}{}
}

// Sorted returns the members ordered by their text form.
func (s Set[K]) Sorted() []K {
	out := make([]K, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// Clone returns a copy.
func (s Set[K]) Clone() Set[K] {
	c := make(Set[K], len(s))
	for k := range s {
		c[k] = struct{}{}
	}
	return c
}

// MarshalJSON encodes the set as a sorted list.
func (s Set[K]) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Sorted())
}

// UnmarshalJSON decodes a list.
func (s *Set[K]) UnmarshalJSON(data []byte) error {
	var ids []K
	if err := json.Unmarshal(data, &ids); err != nil {
		return err
	}
	*s = make(Set[K], len(ids))
	for _, id := range ids {
		(*s)[id] = struct{}{}
	}
	return nil
}

// AccountDetails is the persisted state of an account.
type AccountDetails struct {
	Index    uint32 `json:"index"`
	CoinType uint32 `json:"coinType"`
	Alias    string `json:"alias"`

	PublicAddresses             []AccountAddress            `json:"publicAddresses"`
	InternalAddresses           []AccountAddress            `json:"internalAddresses"`
	AddressesWithUnspentOutputs []AddressWithUnspentOutputs `json:"addressesWithUnspentOutputs"`

	Outputs        map[types.OutputID]*OutputData `json:"outputs"`
	UnspentOutputs map[types.OutputID]*OutputData `json:"unspentOutputs"`
	LockedOutputs  Set[types.OutputID]            `json:"lockedOutputs"`

	Transactions         map[types.TransactionID]*Transaction `json:"transactions"`
	PendingTransactions  Set[types.TransactionID]             `json:"pendingTransactions"`
	IncomingTransactions map[types.TransactionID]*Transaction `json:"incomingTransactions"`

	NativeTokenFoundries map[types.FoundryID]*output.FoundryOutput `json:"nativeTokenFoundries"`
}

func newAccountDetails(index, coinType uint32, alias string) *AccountDetails {
	d := &AccountDetails{Index: index, CoinType: coinType, Alias: alias}
	d.init()
	return d
}

// init allocates missing collections, for example after decoding.
func (d *AccountDetails) init() {
	if d.PublicAddresses == nil {
		d.PublicAddresses = []AccountAddress{}
	}
	if d.InternalAddresses == nil {
		d.InternalAddresses = []AccountAddress{}
	}
	if d.AddressesWithUnspentOutputs == nil {
		d.AddressesWithUnspentOutputs = []AddressWithUnspentOutputs{}
	}
	if d.Outputs == nil {
		d.Outputs = make(map[types.OutputID]*OutputData)
	}
	if d.UnspentOutputs == nil {
		d.UnspentOutputs = make(map[types.OutputID]*OutputData)
	}
	if d.LockedOutputs == nil {
		d.LockedOutputs = make(Set[types.OutputID])
	}
	if d.Transactions == nil {
		d.Transactions = make(map[types.TransactionID]*Transaction)
	}
	if d.PendingTransactions == nil {
		d.PendingTransactions = make(Set[types.TransactionID])
	}
	if d.IncomingTransactions == nil {
		d.IncomingTransactions = make(map[types.TransactionID]*Transaction)
	}
	if d.NativeTokenFoundries == nil {
		d.NativeTokenFoundries = make(map[types.FoundryID]*output.FoundryOutput)
	}
}

// UnmarshalJSON decodes details and re-links unspent outputs to their entry
// in Outputs.
func (d *AccountDetails) UnmarshalJSON(data []byte) error {
	type plain AccountDetails
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*d = AccountDetails(p)
	d.init()
	for id := range d.UnspentOutputs {
		if o, ok := d.Outputs[id]; ok {
			d.UnspentOutputs[id] = o
		}
	}
	return nil
}

// Clone returns a deep copy.
func (d *AccountDetails) Clone() *AccountDetails {
	c := &AccountDetails{
		Index:                       d.Index,
		CoinType:                    d.CoinType,
		Alias:                       d.Alias,
		PublicAddresses:             append([]AccountAddress{}, d.PublicAddresses...),
		InternalAddresses:           append([]AccountAddress{}, d.InternalAddresses...),
		AddressesWithUnspentOutputs: make([]AddressWithUnspentOutputs, len(d.AddressesWithUnspentOutputs)),
		Outputs:                     make(map[types.OutputID]*OutputData, len(d.Outputs)),
		UnspentOutputs:              make(map[types.OutputID]*OutputData, len(d.UnspentOutputs)),
		LockedOutputs:               d.LockedOutputs.Clone(),
		Transactions:                make(map[types.TransactionID]*Transaction, len(d.Transactions)),
		PendingTransactions:         d.PendingTransactions.Clone(),
		IncomingTransactions:        make(map[types.TransactionID]*Transaction, len(d.IncomingTransactions)),
		NativeTokenFoundries:        make(map[types.FoundryID]*output.FoundryOutput, len(d.NativeTokenFoundries)),
	}
	for i, a := range d.AddressesWithUnspentOutputs {
		a.OutputIDs = append([]types.OutputID(nil), a.OutputIDs...)
		c.AddressesWithUnspentOutputs[i] = a
	}
	for id, o := range d.Outputs {
		c.Outputs[id] = o.Clone()
	}
	for id, o := range d.UnspentOutputs {
		if shared, ok := c.Outputs[id]; ok {
			c.UnspentOutputs[id] = shared
		} else {
			c.UnspentOutputs[id] = o.Clone()
		}
	}
	for id, t := range d.Transactions {
		c.Transactions[id] = t.Clone()
	}
	for id, t := range d.IncomingTransactions {
		c.IncomingTransactions[id] = t.Clone()
	}
	for id, f := range d.NativeTokenFoundries {
		c.NativeTokenFoundries[id] = f.Clone().(*output.FoundryOutput)
	}
	return c
}

// addresses returns public then internal addresses.
func (d *AccountDetails) addresses() []AccountAddress {
	out := make([]AccountAddress, 0, len(d.PublicAddresses)+len(d.InternalAddresses))
	out = append(out, d.PublicAddresses...)
	return append(out, d.InternalAddresses...)
}

// findAddress returns the account address equal to addr.
func (d *AccountDetails) findAddress(addr types.Address) (AccountAddress, bool) {
	for _, list := range [][]AccountAddress{d.PublicAddresses, d.InternalAddresses} {
		for _, a := range list {
			if a.Address.Inner == addr {
				return a, true
			}
		}
	}
	return AccountAddress{}, false
}

// markUsed flags addr as used.
func (d *AccountDetails) markUsed(addr types.Address) {
	for _, list := range [][]AccountAddress{d.PublicAddresses, d.InternalAddresses} {
		for i := range list {
			if list[i].Address.Inner == addr {
				list[i].Used = true
			}
		}
	}
}

// rebuildAddressCache recomputes AddressesWithUnspentOutputs.
func (d *AccountDetails) rebuildAddressCache() {
	byAddr := make(map[types.Address][]types.OutputID)
	for id, o := range d.UnspentOutputs {
		byAddr[o.Address] = append(byAddr[o.Address], id)
	}
	d.AddressesWithUnspentOutputs = d.AddressesWithUnspentOutputs[:0]
	for _, a := range d.addresses() {
		ids, ok := byAddr[a.Address.Inner]
		if !ok {
			continue
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i].Less(ids[j]) })
		d.AddressesWithUnspentOutputs = append(d.AddressesWithUnspentOutputs, AddressWithUnspentOutputs{
			Address:   a.Address,
			KeyIndex:  a.KeyIndex,
			Internal:  a.Internal,
			OutputIDs: ids,
		})
	}
}

// checkLocks reports the first locked id missing from UnspentOutputs or
// Outputs. A violation means the local state is corrupted.
func (d *AccountDetails) checkLocks() (types.OutputID, bool) {
	for id := range d.LockedOutputs {
		if _, ok := d.UnspentOutputs[id]; !ok {
			return id, false
		}
		if _, ok := d.Outputs[id]; !ok {
			return id, false
		}
	}
	return types.OutputID{}, true
}
