package nodeclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/Klingon-tech/tangle-wallet/internal/log"
	"github.com/Klingon-tech/tangle-wallet/pkg/block"
	"github.com/Klingon-tech/tangle-wallet/pkg/types"
	"github.com/jellydator/ttlcache/v3"
	"golang.org/x/time/rate"
)

// JSON-RPC method names served by the node API.
const (
	MethodInfo            = "node_info"
	MethodOutputIDs       = "outputs_ids"
	MethodOutput          = "output_get"
	MethodOutputMetadata  = "output_metadata"
	MethodBlockMetadata   = "block_metadata"
	MethodIncludedBlock   = "transaction_includedBlock"
	MethodTips            = "tips"
	MethodSubmitBlock     = "block_submit"
	MethodFoundryOutputID = "foundry_outputId"
	MethodAliasOutputID   = "alias_outputId"
	MethodNftOutputID     = "nft_outputId"
)

// CodeNotFound is the JSON-RPC error code for unknown ledger objects.
const CodeNotFound = -32000

// IDParam carries the hex or string id of a ledger object.
type IDParam struct {
	ID string `json:"id"`
}

// SubmitResult is returned by block_submit.
type SubmitResult struct {
	BlockID types.BlockID `json:"blockId"`
}

// request is a JSON-RPC 2.0 request.
type request struct {
	JSONRPC string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
	ID      uint64      `json:"id"`
}

// response is a JSON-RPC 2.0 response.
type response struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
	ID      uint64          `json:"id"`
}

// RPCError is returned when the node responds with an error.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Is makes not-found RPC errors match ErrNotFound.
func (e *RPCError) Is(target error) bool {
	return target == ErrNotFound && e.Code == CodeNotFound
}

// Options configure an HTTPClient.
type Options struct {
	Timeout time.Duration
	// RequestsPerSecond paces calls to the node. Zero disables pacing.
	RequestsPerSecond float64
	Burst             int
	// InfoTTL is how long node info is cached.
	InfoTTL time.Duration
	// Transport overrides the HTTP transport, e.g. in tests.
	Transport http.RoundTripper
}

// DefaultOptions returns the options used by New.
func DefaultOptions() Options {
	return Options{
		Timeout:           10 * time.Second,
		RequestsPerSecond: 50,
		Burst:             10,
		InfoTTL:           30 * time.Second,
	}
}

// HTTPClient is a JSON-RPC 2.0 client for the node API.
type HTTPClient struct {
	endpoint string
	http     *http.Client
	limiter  *rate.Limiter
	info     *ttlcache.Cache[string, *NodeInfo]
	nextID   atomic.Uint64
}

var _ Client = (*HTTPClient)(nil)

// New creates a client targeting the given endpoint URL with default options.
func New(endpoint string) *HTTPClient {
	return NewWithOptions(endpoint, DefaultOptions())
}

// NewWithOptions creates a client targeting the given endpoint URL.
func NewWithOptions(endpoint string, opts Options) *HTTPClient {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}
	if opts.Burst <= 0 {
		opts.Burst = 1
	}
	if opts.InfoTTL <= 0 {
		opts.InfoTTL = DefaultOptions().InfoTTL
	}
	hc := &http.Client{Timeout: opts.Timeout}
	if opts.Transport != nil {
		hc.Transport = opts.Transport
	}
	return &HTTPClient{
		endpoint: endpoint,
		http:     hc,
		limiter:  rate.NewLimiter(limit, opts.Burst),
		info:     ttlcache.New[string, *NodeInfo](ttlcache.WithTTL[string, *NodeInfo](opts.InfoTTL)),
	}
}

// Call invokes a JSON-RPC method and unmarshals the result into the provided pointer.
// If result is nil, the response result is discarded.
func (c *HTTPClient) Call(ctx context.Context, method string, params, result interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	body, err := json.Marshal(request{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      c.nextID.Add(1),
	})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	log.Client.Trace().Str("method", method).Dur("took", time.Since(start)).Int("status", resp.StatusCode).Msg("Node call")

	var rpcResp response
	if err := json.Unmarshal(data, &rpcResp); err != nil {
		return fmt.Errorf("decode response (status %d): %w", resp.StatusCode, err)
	}
	if rpcResp.Error != nil {
		return rpcResp.Error
	}
	if result != nil && rpcResp.Result != nil {
		if err := json.Unmarshal(rpcResp.Result, result); err != nil {
			return fmt.Errorf("decode result: %w", err)
		}
	}
	return nil
}

// Info returns node info, cached for the configured TTL.
func (c *HTTPClient) Info(ctx context.Context) (*NodeInfo, error) {
	if item := c.info.Get(MethodInfo); item != nil {
		return item.Value(), nil
	}
	var info NodeInfo
	if err := c.Call(ctx, MethodInfo, nil, &info); err != nil {
		return nil, err
	}
	c.info.Set(MethodInfo, &info, ttlcache.DefaultTTL)
	return &info, nil
}

// OutputIDs implements Client.
func (c *HTTPClient) OutputIDs(ctx context.Context, q OutputQuery) ([]types.OutputID, error) {
	var ids []types.OutputID
	if err := c.Call(ctx, MethodOutputIDs, q, &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

// Output implements Client.
func (c *HTTPClient) Output(ctx context.Context, id types.OutputID) (*OutputResponse, error) {
	var out OutputResponse
	if err := c.Call(ctx, MethodOutput, IDParam{ID: id.String()}, &out); err != nil {
		return nil, err
	}
	if out.Output == nil {
		return nil, fmt.Errorf("output %s: empty response", id)
	}
	return &out, nil
}

// OutputMetadata implements Client.
func (c *HTTPClient) OutputMetadata(ctx context.Context, id types.OutputID) (*OutputMetadata, error) {
	var md OutputMetadata
	if err := c.Call(ctx, MethodOutputMetadata, IDParam{ID: id.String()}, &md); err != nil {
		return nil, err
	}
	return &md, nil
}

// BlockMetadata implements Client.
func (c *HTTPClient) BlockMetadata(ctx context.Context, id types.BlockID) (*BlockMetadata, error) {
	var md BlockMetadata
	if err := c.Call(ctx, MethodBlockMetadata, IDParam{ID: id.String()}, &md); err != nil {
		return nil, err
	}
	return &md, nil
}

// IncludedBlock implements Client.
func (c *HTTPClient) IncludedBlock(ctx context.Context, id types.TransactionID) (*block.Block, error) {
	var b block.Block
	if err := c.Call(ctx, MethodIncludedBlock, IDParam{ID: id.String()}, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

// Tips implements Client.
func (c *HTTPClient) Tips(ctx context.Context) ([]types.BlockID, error) {
	var tips []types.BlockID
	if err := c.Call(ctx, MethodTips, nil, &tips); err != nil {
		return nil, err
	}
	return tips, nil
}

// SubmitBlock implements Client.
func (c *HTTPClient) SubmitBlock(ctx context.Context, b *block.Block) (types.BlockID, error) {
	var res SubmitResult
	if err := c.Call(ctx, MethodSubmitBlock, b, &res); err != nil {
		return types.BlockID{}, err
	}
	return res.BlockID, nil
}

// FoundryOutputID implements Client.
func (c *HTTPClient) FoundryOutputID(ctx context.Context, id types.FoundryID) (types.OutputID, error) {
	return c.chainOutputID(ctx, MethodFoundryOutputID, id.String())
}

// AliasOutputID implements Client.
func (c *HTTPClient) AliasOutputID(ctx context.Context, id types.AliasID) (types.OutputID, error) {
	return c.chainOutputID(ctx, MethodAliasOutputID, id.String())
}

// NftOutputID implements Client.
func (c *HTTPClient) NftOutputID(ctx context.Context, id types.NftID) (types.OutputID, error) {
	return c.chainOutputID(ctx, MethodNftOutputID, id.String())
}

func (c *HTTPClient) chainOutputID(ctx context.Context, method, id string) (types.OutputID, error) {
	var out types.OutputID
	if err := c.Call(ctx, method, IDParam{ID: id}, &out); err != nil {
		return types.OutputID{}, err
	}
	return out, nil
}
