// Package nodeclient defines the node API the wallet talks to and provides a
// JSON-RPC implementation of it.
package nodeclient

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/Klingon-tech/tangle-wallet/pkg/block"
	"github.com/Klingon-tech/tangle-wallet/pkg/output"
	"github.com/Klingon-tech/tangle-wallet/pkg/types"
)

// ErrNotFound is returned for unknown or pruned ledger objects. Callers treat
// it as a soft failure.
var ErrNotFound = errors.New("not found")

// Client is the node API used by the wallet.
type Client interface {
	Info(ctx context.Context) (*NodeInfo, error)
	// OutputIDs returns the ids of unspent outputs matching q.
	OutputIDs(ctx context.Context, q OutputQuery) ([]types.OutputID, error)
	Output(ctx context.Context, id types.OutputID) (*OutputResponse, error)
	OutputMetadata(ctx context.Context, id types.OutputID) (*OutputMetadata, error)
	BlockMetadata(ctx context.Context, id types.BlockID) (*BlockMetadata, error)
	// IncludedBlock returns the block that included the transaction.
	IncludedBlock(ctx context.Context, id types.TransactionID) (*block.Block, error)
	Tips(ctx context.Context) ([]types.BlockID, error)
	SubmitBlock(ctx context.Context, b *block.Block) (types.BlockID, error)
	FoundryOutputID(ctx context.Context, id types.FoundryID) (types.OutputID, error)
	AliasOutputID(ctx context.Context, id types.AliasID) (types.OutputID, error)
	NftOutputID(ctx context.Context, id types.NftID) (types.OutputID, error)
}

// NodeInfo describes the node and the network it follows.
type NodeInfo struct {
	Name     string                    `json:"name"`
	Version  string                    `json:"version"`
	Healthy  bool                      `json:"isHealthy"`
	Protocol output.ProtocolParameters `json:"protocol"`
	// LatestMilestoneTimestamp is the ledger time in unix seconds.
	LatestMilestoneTimestamp uint32 `json:"latestMilestoneTimestamp"`
	ConfirmedMilestoneIndex  uint32 `json:"confirmedMilestoneIndex"`
}

// AddressRole selects which unlock condition address an output query matches.
type AddressRole uint8

// Address roles.
const (
	RoleAddress AddressRole = iota
	RoleStorageDepositReturn
	RoleExpirationReturn
	RoleStateController
	RoleGovernor
	RoleImmutableAlias
)

// String returns the role name.
func (r AddressRole) String() string {
	switch r {
	case RoleAddress:
		return "address"
	case RoleStorageDepositReturn:
		return "storageDepositReturnAddress"
	case RoleExpirationReturn:
		return "expirationReturnAddress"
	case RoleStateController:
		return "stateController"
	case RoleGovernor:
		return "governor"
	case RoleImmutableAlias:
		return "aliasAddress"
	default:
		return "unknown"
	}
}

// OutputQuery selects unspent outputs of Kind whose Role condition holds Address.
type OutputQuery struct {
	Kind    output.Kind   `json:"type"`
	Address types.Address `json:"address"`
	Role    AddressRole   `json:"role"`
}

// Matches reports whether o satisfies q.
func (q OutputQuery) Matches(o output.Output) bool {
	if o.Kind() != q.Kind {
		return false
	}
	u := o.Conditions()
	switch q.Role {
	case RoleAddress:
		return u.Address != nil && *u.Address == q.Address
	case RoleStorageDepositReturn:
		return u.StorageDepositReturn != nil && u.StorageDepositReturn.ReturnAddress == q.Address
	case RoleExpirationReturn:
		return u.Expiration != nil && u.Expiration.ReturnAddress == q.Address
	case RoleStateController:
		return u.StateControllerAddress != nil && *u.StateControllerAddress == q.Address
	case RoleGovernor:
		return u.GovernorAddress != nil && *u.GovernorAddress == q.Address
	case RoleImmutableAlias:
		return u.ImmutableAliasAddress != nil && *u.ImmutableAliasAddress == q.Address
	}
	return false
}

// OutputMetadata is the ledger bookkeeping of an output.
type OutputMetadata struct {
	BlockID            types.BlockID        `json:"blockId"`
	TransactionID      types.TransactionID  `json:"transactionId"`
	OutputIndex        uint16               `json:"outputIndex"`
	IsSpent            bool                 `json:"isSpent"`
	TransactionIDSpent *types.TransactionID `json:"transactionIdSpent,omitempty"`
	MilestoneIndex     uint32               `json:"milestoneIndexBooked"`
	MilestoneTimestamp uint32               `json:"milestoneTimestampBooked"`
	LedgerIndex        uint32               `json:"ledgerIndex"`
}

// OutputID returns the id of the output described by m.
func (m *OutputMetadata) OutputID() types.OutputID {
	return types.OutputID{TransactionID: m.TransactionID, Index: m.OutputIndex}
}

// OutputResponse is an output together with its metadata.
type OutputResponse struct {
	Output   output.Output  `json:"-"`
	Metadata OutputMetadata `json:"metadata"`
}

type outputResponseJSON struct {
	Output   output.Envelope `json:"output"`
	Metadata OutputMetadata  `json:"metadata"`
}

// MarshalJSON encodes the response with a kind-tagged output.
func (r OutputResponse) MarshalJSON() ([]byte, error) {
	return json.Marshal(outputResponseJSON{Output: output.Envelope{Output: r.Output}, Metadata: r.Metadata})
}

// UnmarshalJSON decodes a response with a kind-tagged output.
func (r *OutputResponse) UnmarshalJSON(data []byte) error {
	var j outputResponseJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return err
	}
	r.Output, r.Metadata = j.Output.Output, j.Metadata
	return nil
}

// Ledger inclusion states reported in block metadata.
const (
	InclusionIncluded      = "included"
	InclusionConflicting   = "conflicting"
	InclusionNoTransaction = "noTransaction"
)

// BlockMetadata reports what the node knows about a block. An empty
// LedgerInclusionState means the block is not referenced by a milestone yet.
type BlockMetadata struct {
	BlockID              types.BlockID   `json:"blockId"`
	Parents              []types.BlockID `json:"parents"`
	IsSolid              bool            `json:"isSolid"`
	LedgerInclusionState string          `json:"ledgerInclusionState,omitempty"`
	ConflictReason       uint8           `json:"conflictReason,omitempty"`
	ShouldPromote        bool            `json:"shouldPromote,omitempty"`
	ShouldReattach       bool            `json:"shouldReattach,omitempty"`
}
