package rpc

import (
	"context"
	"errors"
	"fmt"

	"github.com/Klingon-tech/tangle-wallet/internal/nodeclient"
	"github.com/Klingon-tech/tangle-wallet/pkg/block"
	"github.com/Klingon-tech/tangle-wallet/pkg/types"
)

// backendError maps a backend error to a JSON-RPC error.
func backendError(err error) *Error {
	if errors.Is(err, nodeclient.ErrNotFound) {
		return &Error{Code: CodeNotFound, Message: err.Error()}
	}
	return &Error{Code: CodeInternalError, Message: err.Error()}
}

func parseHashParam(req *Request) (types.Hash, *Error) {
	var p nodeclient.IDParam
	if err := parseParams(req, &p); err != nil {
		return types.Hash{}, err
	}
	h, err := types.HexToHash(p.ID)
	if err != nil {
		return types.Hash{}, &Error{Code: CodeInvalidParams, Message: fmt.Sprintf("invalid id: %v", err)}
	}
	return h, nil
}

func parseOutputIDParam(req *Request) (types.OutputID, *Error) {
	var p nodeclient.IDParam
	if err := parseParams(req, &p); err != nil {
		return types.OutputID{}, err
	}
	id, err := types.ParseOutputID(p.ID)
	if err != nil {
		return types.OutputID{}, &Error{Code: CodeInvalidParams, Message: fmt.Sprintf("invalid output id: %v", err)}
	}
	return id, nil
}

func (s *Server) handleInfo(ctx context.Context) (interface{}, *Error) {
	info, err := s.backend.Info(ctx)
	if err != nil {
		return nil, backendError(err)
	}
	return info, nil
}

func (s *Server) handleOutputIDs(ctx context.Context, req *Request) (interface{}, *Error) {
	var q nodeclient.OutputQuery
	if err := parseParams(req, &q); err != nil {
		return nil, err
	}
	ids, err := s.backend.OutputIDs(ctx, q)
	if err != nil {
		return nil, backendError(err)
	}
	if ids == nil {
		ids = []types.OutputID{}
	}
	return ids, nil
}

func (s *Server) handleOutput(ctx context.Context, req *Request) (interface{}, *Error) {
	id, rpcErr := parseOutputIDParam(req)
	if rpcErr != nil {
		return nil, rpcErr
	}
	resp, err := s.backend.Output(ctx, id)
	if err != nil {
		return nil, backendError(err)
	}
	return resp, nil
}

func (s *Server) handleOutputMetadata(ctx context.Context, req *Request) (interface{}, *Error) {
	id, rpcErr := parseOutputIDParam(req)
	if rpcErr != nil {
		return nil, rpcErr
	}
	md, err := s.backend.OutputMetadata(ctx, id)
	if err != nil {
		return nil, backendError(err)
	}
	return md, nil
}

func (s *Server) handleBlockMetadata(ctx context.Context, req *Request) (interface{}, *Error) {
	h, rpcErr := parseHashParam(req)
	if rpcErr != nil {
		return nil, rpcErr
	}
	md, err := s.backend.BlockMetadata(ctx, types.BlockID(h))
	if err != nil {
		return nil, backendError(err)
	}
	return md, nil
}

func (s *Server) handleIncludedBlock(ctx context.Context, req *Request) (interface{}, *Error) {
	h, rpcErr := parseHashParam(req)
	if rpcErr != nil {
		return nil, rpcErr
	}
	b, err := s.backend.IncludedBlock(ctx, types.TransactionID(h))
	if err != nil {
		return nil, backendError(err)
	}
	return b, nil
}

func (s *Server) handleTips(ctx context.Context) (interface{}, *Error) {
	tips, err := s.backend.Tips(ctx)
	if err != nil {
		return nil, backendError(err)
	}
	return tips, nil
}

func (s *Server) handleSubmitBlock(ctx context.Context, req *Request) (interface{}, *Error) {
	var b block.Block
	if err := parseParams(req, &b); err != nil {
		return nil, err
	}
	id, err := s.backend.SubmitBlock(ctx, &b)
	if err != nil {
		return nil, &Error{Code: CodeInvalidParams, Message: fmt.Sprintf("block rejected: %v", err)}
	}
	s.logger.Debug().Stringer("block", id).Bool("payload", b.Payload != nil).Msg("Block submitted")
	return nodeclient.SubmitResult{BlockID: id}, nil
}

func (s *Server) handleFoundryOutputID(ctx context.Context, req *Request) (interface{}, *Error) {
	var p nodeclient.IDParam
	if err := parseParams(req, &p); err != nil {
		return nil, err
	}
	id, err := types.ParseFoundryID(p.ID)
	if err != nil {
		return nil, &Error{Code: CodeInvalidParams, Message: fmt.Sprintf("invalid foundry id: %v", err)}
	}
	out, err := s.backend.FoundryOutputID(ctx, id)
	if err != nil {
		return nil, backendError(err)
	}
	return out, nil
}

func (s *Server) handleAliasOutputID(ctx context.Context, req *Request) (interface{}, *Error) {
	h, rpcErr := parseHashParam(req)
	if rpcErr != nil {
		return nil, rpcErr
	}
	out, err := s.backend.AliasOutputID(ctx, types.AliasID(h))
	if err != nil {
		return nil, backendError(err)
	}
	return out, nil
}

func (s *Server) handleNftOutputID(ctx context.Context, req *Request) (interface{}, *Error) {
	h, rpcErr := parseHashParam(req)
	if rpcErr != nil {
		return nil, rpcErr
	}
	out, err := s.backend.NftOutputID(ctx, types.NftID(h))
	if err != nil {
		return nil, backendError(err)
	}
	return out, nil
}

func (s *Server) handleFaucet(ctx context.Context, req *Request) (interface{}, *Error) {
	var p FaucetParam
	if err := parseParams(req, &p); err != nil {
		return nil, err
	}
	info, err := s.backend.Info(ctx)
	if err != nil {
		return nil, backendError(err)
	}
	addr, err := types.ParseAddress(p.Address, info.Protocol.Bech32HRP)
	if err != nil {
		return nil, &Error{Code: CodeInvalidParams, Message: fmt.Sprintf("invalid address: %v", err)}
	}
	amount := p.Amount
	if amount == 0 {
		amount = s.faucetAmount
	}
	if floor := info.Protocol.RentStructure.MinReturnDeposit(addr); amount < floor {
		return nil, &Error{Code: CodeInvalidParams, Message: fmt.Sprintf("amount %d below minimum storage deposit %d", amount, floor)}
	}
	id := s.faucet.Fund(addr, amount)
	s.logger.Info().Str("address", p.Address).Uint64("amount", amount).Msg("Faucet funded address")
	return FaucetResult{OutputID: id, Amount: amount}, nil
}
