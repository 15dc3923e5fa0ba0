package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Klingon-tech/tangle-wallet/config"
	"github.com/Klingon-tech/tangle-wallet/internal/nodeclient"
	"github.com/Klingon-tech/tangle-wallet/internal/nodeclient/memledger"
	"github.com/Klingon-tech/tangle-wallet/pkg/block"
	"github.com/Klingon-tech/tangle-wallet/pkg/crypto"
	"github.com/Klingon-tech/tangle-wallet/pkg/output"
	"github.com/Klingon-tech/tangle-wallet/pkg/tx"
	"github.com/Klingon-tech/tangle-wallet/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testEnv holds a ledger served over HTTP and a client talking to it.
type testEnv struct {
	ledger *memledger.Ledger
	server *Server
	client *nodeclient.HTTPClient
	url    string
	params output.ProtocolParameters
}

func setupTestEnv(t *testing.T, opts ...memledger.Option) *testEnv {
	t.Helper()
	params := config.Devnet.Protocol()
	ledger := memledger.New(params, opts...)
	srv := New("127.0.0.1:0", ledger)
	srv.SetFaucet(ledger, 10_000_000)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return &testEnv{
		ledger: ledger,
		server: srv,
		client: nodeclient.New(ts.URL),
		url:    ts.URL,
		params: params,
	}
}

func rawCall(t *testing.T, url, body string) Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", bytes.NewBufferString(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	var r Response
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&r))
	return r
}

func TestServer_Info(t *testing.T) {
	env := setupTestEnv(t)
	info, err := env.client.Info(context.Background())
	require.NoError(t, err)
	assert.Equal(t, env.params, info.Protocol)
	assert.True(t, info.Healthy)
}

func TestServer_FaucetAndQuery(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	addr := key.Address()

	var res FaucetResult
	require.NoError(t, env.client.Call(ctx, MethodFaucet, FaucetParam{Address: addr.Bech32(env.params.Bech32HRP)}, &res))
	assert.Equal(t, uint64(10_000_000), res.Amount)

	ids, err := env.client.OutputIDs(ctx, nodeclient.OutputQuery{Kind: output.KindBasic, Address: addr})
	require.NoError(t, err)
	assert.Equal(t, []types.OutputID{res.OutputID}, ids)

	out, err := env.client.Output(ctx, res.OutputID)
	require.NoError(t, err)
	assert.Equal(t, uint64(10_000_000), out.Output.Deposit())
	owner, ok := output.OwnerAddress(out.Output)
	require.True(t, ok)
	assert.Equal(t, addr, owner)
}

func TestServer_FaucetRejectsDust(t *testing.T) {
	env := setupTestEnv(t)
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	err = env.client.Call(context.Background(), MethodFaucet,
		FaucetParam{Address: key.Address().Bech32(env.params.Bech32HRP), Amount: 1}, nil)
	var rpcErr *nodeclient.RPCError
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, CodeInvalidParams, rpcErr.Code)
}

func TestServer_SubmitAndInclude(t *testing.T) {
	env := setupTestEnv(t, memledger.WithAutoMilestone())
	ctx := context.Background()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	addr := key.Address()
	in := env.ledger.Fund(addr, 1_000_000)

	resp, err := env.client.Output(ctx, in)
	require.NoError(t, err)
	essence, err := tx.NewBuilder(env.params.NetworkID()).
		AddInput(in, resp.Output).
		AddOutput(&output.BasicOutput{Amount: 1_000_000, UnlockConditions: output.UnlockConditions{Address: &addr}}).
		Build()
	require.NoError(t, err)
	unlocks, err := tx.SignWithKeys(essence,
		[]tx.UnlockTarget{{OutputID: in, Output: resp.Output, Required: addr}},
		map[types.Address]*crypto.PrivateKey{addr: key})
	require.NoError(t, err)

	tips, err := env.client.Tips(ctx)
	require.NoError(t, err)
	blk, err := block.New(tips, &tx.Payload{Essence: *essence, Unlocks: unlocks})
	require.NoError(t, err)

	id, err := env.client.SubmitBlock(ctx, blk)
	require.NoError(t, err)
	assert.Equal(t, blk.ID(), id, "block survives the JSON round trip byte for byte")

	md, err := env.client.BlockMetadata(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, nodeclient.InclusionIncluded, md.LedgerInclusionState)

	included, err := env.client.IncludedBlock(ctx, blk.Payload.ID())
	require.NoError(t, err)
	assert.Equal(t, id, included.ID())

	spent, err := env.client.OutputMetadata(ctx, in)
	require.NoError(t, err)
	assert.True(t, spent.IsSpent)
}

func TestServer_NotFound(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	_, err := env.client.BlockMetadata(ctx, types.BlockID{9})
	assert.True(t, errors.Is(err, nodeclient.ErrNotFound))

	_, err = env.client.AliasOutputID(ctx, types.AliasID{1})
	assert.True(t, errors.Is(err, nodeclient.ErrNotFound))

	_, err = env.client.Output(ctx, types.OutputID{Index: 4})
	assert.True(t, errors.Is(err, nodeclient.ErrNotFound))
}

func TestServer_ProtocolErrors(t *testing.T) {
	env := setupTestEnv(t)

	tests := []struct {
		name string
		body string
		code int
	}{
		{"invalid json", `{`, CodeParseError},
		{"wrong version", `{"jsonrpc":"1.0","method":"tips","id":1}`, CodeInvalidRequest},
		{"unknown method", `{"jsonrpc":"2.0","method":"chain_getInfo","id":1}`, CodeMethodNotFound},
		{"missing params", `{"jsonrpc":"2.0","method":"output_get","id":1}`, CodeInvalidParams},
		{"bad output id", `{"jsonrpc":"2.0","method":"output_get","params":{"id":"zz"},"id":1}`, CodeInvalidParams},
		{"bad block", `{"jsonrpc":"2.0","method":"block_submit","params":{"parents":[]},"id":1}`, CodeInvalidParams},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := rawCall(t, env.url, tt.body)
			require.NotNil(t, r.Error)
			assert.Equal(t, tt.code, r.Error.Code)
		})
	}
}

func TestServer_OnlyPost(t *testing.T) {
	env := setupTestEnv(t)
	resp, err := http.Get(env.url)
	require.NoError(t, err)
	defer resp.Body.Close()
	var r Response
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&r))
	require.NotNil(t, r.Error)
	assert.Equal(t, CodeInvalidRequest, r.Error.Code)
}

func TestServer_FaucetDisabled(t *testing.T) {
	ledger := memledger.New(config.Devnet.Protocol())
	ts := httptest.NewServer(New("", ledger).Handler())
	defer ts.Close()

	r := rawCall(t, ts.URL, `{"jsonrpc":"2.0","method":"faucet_request","params":{"address":"x"},"id":1}`)
	require.NotNil(t, r.Error)
	assert.Equal(t, CodeMethodNotFound, r.Error.Code)
}

func TestServer_IPFilterAndCORS(t *testing.T) {
	ledger := memledger.New(config.Devnet.Protocol())
	srv := New("", ledger, config.RPCConfig{
		AllowedIPs:  []string{"10.0.0.0/8"},
		CORSOrigins: []string{"http://app.local"},
	})

	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString(`{"jsonrpc":"2.0","method":"tips","id":1}`))
	req.RemoteAddr = "192.168.1.5:4000"
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)

	req = httptest.NewRequest(http.MethodOptions, "/", nil)
	req.RemoteAddr = "10.1.2.3:4000"
	req.Header.Set("Origin", "http://app.local")
	w = httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "http://app.local", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestServer_StartStop(t *testing.T) {
	srv := New("127.0.0.1:0", memledger.New(config.Devnet.Protocol()))
	require.NoError(t, srv.Start())
	assert.NotEqual(t, "127.0.0.1:0", srv.Addr())

	tips, err := nodeclient.New("http://" + srv.Addr()).Tips(context.Background())
	require.NoError(t, err)
	assert.Len(t, tips, 1)
	require.NoError(t, srv.Stop())
}
