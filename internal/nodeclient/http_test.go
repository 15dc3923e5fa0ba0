package nodeclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/Klingon-tech/tangle-wallet/pkg/block"
	"github.com/Klingon-tech/tangle-wallet/pkg/output"
	"github.com/Klingon-tech/tangle-wallet/pkg/types"
	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testEndpoint = "http://node.test/rpc"

// rpcResponder answers JSON-RPC calls with handler(method, params).
func rpcResponder(t *testing.T, handler func(method string, params json.RawMessage) (interface{}, *RPCError)) httpmock.Responder {
	t.Helper()
	return func(req *http.Request) (*http.Response, error) {
		var r struct {
			Method string          `json:"method"`
			Params json.RawMessage `json:"params"`
			ID     uint64          `json:"id"`
		}
		if err := json.NewDecoder(req.Body).Decode(&r); err != nil {
			return nil, err
		}
		result, rpcErr := handler(r.Method, r.Params)
		resp := map[string]interface{}{"jsonrpc": "2.0", "id": r.ID}
		if rpcErr != nil {
			resp["error"] = rpcErr
		} else {
			resp["result"] = result
		}
		return httpmock.NewJsonResponse(http.StatusOK, resp)
	}
}

func newMockClient(t *testing.T, handler func(string, json.RawMessage) (interface{}, *RPCError)) (*HTTPClient, *httpmock.MockTransport) {
	t.Helper()
	mt := httpmock.NewMockTransport()
	mt.RegisterResponder(http.MethodPost, testEndpoint, rpcResponder(t, handler))
	opts := DefaultOptions()
	opts.Transport = mt
	opts.RequestsPerSecond = 0
	return NewWithOptions(testEndpoint, opts), mt
}

func testAddr(b byte) types.Address {
	return types.Address{Kind: types.AddressPubKeyHash, ID: types.Hash{b}}
}

func TestHTTPClient_InfoCached(t *testing.T) {
	params := output.ProtocolParameters{NetworkName: "testnet", Bech32HRP: "rms", RentStructure: output.DefaultRentStructure}
	c, mt := newMockClient(t, func(method string, _ json.RawMessage) (interface{}, *RPCError) {
		require.Equal(t, MethodInfo, method)
		return NodeInfo{Name: "hornet", Healthy: true, Protocol: params}, nil
	})

	ctx := context.Background()
	info, err := c.Info(ctx)
	require.NoError(t, err)
	assert.Equal(t, "hornet", info.Name)
	assert.Equal(t, params, info.Protocol)

	_, err = c.Info(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, mt.GetTotalCallCount(), "second Info should hit the cache")
}

func TestHTTPClient_NotFound(t *testing.T) {
	c, _ := newMockClient(t, func(string, json.RawMessage) (interface{}, *RPCError) {
		return nil, &RPCError{Code: CodeNotFound, Message: "output not found"}
	})

	_, err := c.Output(context.Background(), types.OutputID{Index: 3})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))

	var rpcErr *RPCError
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, CodeNotFound, rpcErr.Code)
}

func TestHTTPClient_OtherErrorIsNotNotFound(t *testing.T) {
	c, _ := newMockClient(t, func(string, json.RawMessage) (interface{}, *RPCError) {
		return nil, &RPCError{Code: -32603, Message: "boom"}
	})

	_, err := c.Tips(context.Background())
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrNotFound))
}

func TestHTTPClient_Output(t *testing.T) {
	addr := testAddr(7)
	want := &output.BasicOutput{Amount: 1_000_000, UnlockConditions: output.UnlockConditions{Address: &addr}}
	id := types.OutputID{TransactionID: types.TransactionID{1}, Index: 2}

	c, _ := newMockClient(t, func(method string, params json.RawMessage) (interface{}, *RPCError) {
		require.Equal(t, MethodOutput, method)
		var p IDParam
		require.NoError(t, json.Unmarshal(params, &p))
		require.Equal(t, id.String(), p.ID)
		return OutputResponse{
			Output:   want,
			Metadata: OutputMetadata{TransactionID: id.TransactionID, OutputIndex: id.Index, MilestoneTimestamp: 1700},
		}, nil
	})

	got, err := c.Output(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, want, got.Output)
	assert.Equal(t, id, got.Metadata.OutputID())
	assert.Equal(t, uint32(1700), got.Metadata.MilestoneTimestamp)
}

func TestHTTPClient_OutputIDsSendsQuery(t *testing.T) {
	addr := testAddr(9)
	ids := []types.OutputID{{Index: 0}, {Index: 1}}
	c, _ := newMockClient(t, func(method string, params json.RawMessage) (interface{}, *RPCError) {
		require.Equal(t, MethodOutputIDs, method)
		var q OutputQuery
		require.NoError(t, json.Unmarshal(params, &q))
		assert.Equal(t, output.KindNft, q.Kind)
		assert.Equal(t, addr, q.Address)
		assert.Equal(t, RoleExpirationReturn, q.Role)
		return ids, nil
	})

	got, err := c.OutputIDs(context.Background(), OutputQuery{Kind: output.KindNft, Address: addr, Role: RoleExpirationReturn})
	require.NoError(t, err)
	assert.Equal(t, ids, got)
}

func TestHTTPClient_SubmitBlock(t *testing.T) {
	wantID := types.BlockID{0xaa}
	c, _ := newMockClient(t, func(method string, params json.RawMessage) (interface{}, *RPCError) {
		require.Equal(t, MethodSubmitBlock, method)
		var b block.Block
		require.NoError(t, json.Unmarshal(params, &b))
		assert.Len(t, b.Parents, 2)
		assert.Equal(t, uint64(42), b.Nonce)
		return SubmitResult{BlockID: wantID}, nil
	})

	b, err := block.New([]types.BlockID{{1}, {2}}, nil)
	require.NoError(t, err)
	b.Nonce = 42
	id, err := c.SubmitBlock(context.Background(), b)
	require.NoError(t, err)
	assert.Equal(t, wantID, id)
}

func TestHTTPClient_ConnectionFailure(t *testing.T) {
	mt := httpmock.NewMockTransport()
	mt.RegisterResponder(http.MethodPost, testEndpoint, httpmock.ConnectionFailure)
	c := NewWithOptions(testEndpoint, Options{Transport: mt})

	_, err := c.Tips(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "http request")
}

func TestHTTPClient_ContextCancelled(t *testing.T) {
	mt := httpmock.NewMockTransport()
	c := NewWithOptions(testEndpoint, Options{Transport: mt, RequestsPerSecond: 0.001, Burst: 1})

	// Drain the single burst token so the next call has to wait.
	mt.RegisterResponder(http.MethodPost, testEndpoint, rpcResponder(t, func(string, json.RawMessage) (interface{}, *RPCError) {
		return []types.BlockID{{1}}, nil
	}))
	_, err := c.Tips(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = c.Tips(ctx)
	require.Error(t, err)
	assert.Equal(t, 1, mt.GetTotalCallCount())
}

func TestOutputQuery_Matches(t *testing.T) {
	a, b := testAddr(1), testAddr(2)
	basic := &output.BasicOutput{
		Amount: 1,
		UnlockConditions: output.UnlockConditions{
			Address:              &a,
			StorageDepositReturn: &output.StorageDepositReturn{ReturnAddress: b, Amount: 1},
		},
	}

	assert.True(t, OutputQuery{Kind: output.KindBasic, Address: a, Role: RoleAddress}.Matches(basic))
	assert.False(t, OutputQuery{Kind: output.KindBasic, Address: b, Role: RoleAddress}.Matches(basic))
	assert.True(t, OutputQuery{Kind: output.KindBasic, Address: b, Role: RoleStorageDepositReturn}.Matches(basic))
	assert.False(t, OutputQuery{Kind: output.KindNft, Address: a, Role: RoleAddress}.Matches(basic))
	assert.False(t, OutputQuery{Kind: output.KindBasic, Address: a, Role: RoleGovernor}.Matches(basic))
}
