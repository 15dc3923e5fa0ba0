package rpc

import (
	"encoding/json"

	"github.com/Klingon-tech/tangle-wallet/internal/nodeclient"
	"github.com/Klingon-tech/tangle-wallet/pkg/types"
)

// JSON-RPC 2.0 error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
	CodeNotFound       = nodeclient.CodeNotFound
)

// MethodFaucet credits a devnet address.
const MethodFaucet = "faucet_request"

// Request is a JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
	ID      interface{}     `json:"id"`
}

// Response is a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string      `json:"jsonrpc"`
	Result  interface{} `json:"result,omitempty"`
	Error   *Error      `json:"error,omitempty"`
	ID      interface{} `json:"id"`
}

// Error is a JSON-RPC 2.0 error object.
type Error struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// ── Param types ─────────────────────────────────────────────────────────

// FaucetParam is used by faucet_request.
type FaucetParam struct {
	Address string `json:"address"` // bech32
	Amount  uint64 `json:"amount,omitempty"`
}

// ── Result types ────────────────────────────────────────────────────────

// FaucetResult is returned by faucet_request.
type FaucetResult struct {
	OutputID types.OutputID `json:"outputId"`
	Amount   uint64         `json:"amount"`
}
