// Package rpc implements the JSON-RPC 2.0 node API server. It exposes any
// nodeclient.Client backend, typically an in-memory ledger on a devnet.
package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"slices"
	"time"

	"github.com/Klingon-tech/tangle-wallet/config"
	klog "github.com/Klingon-tech/tangle-wallet/internal/log"
	"github.com/Klingon-tech/tangle-wallet/internal/nodeclient"
	"github.com/Klingon-tech/tangle-wallet/pkg/types"
	"github.com/rs/zerolog"
)

const (
	maxBodySize     = 1 << 20
	ioTimeout       = 30 * time.Second
	shutdownTimeout = 5 * time.Second
)

// Faucet credits addresses on development networks.
type Faucet interface {
	Fund(addr types.Address, amount uint64) types.OutputID
}

type handlerFunc func(ctx context.Context, req *Request) (interface{}, *Error)

// Server is the JSON-RPC 2.0 HTTP server.
type Server struct {
	addr    string
	backend nodeclient.Client
	methods map[string]handlerFunc
	logger  zerolog.Logger

	faucet       Faucet
	faucetAmount uint64

	allowedNets []*net.IPNet // empty allows every peer
	corsOrigins []string

	server *http.Server
	ln     net.Listener
}

// New creates a server for backend. An optional RPCConfig restricts peers
// and enables CORS.
func New(addr string, backend nodeclient.Client, rpcCfg ...config.RPCConfig) *Server {
	s := &Server{
		addr:    addr,
		backend: backend,
		logger:  klog.WithComponent("rpc"),
	}
	if len(rpcCfg) > 0 {
		s.allowedNets = parseAllowedIPs(rpcCfg[0].AllowedIPs)
		s.corsOrigins = rpcCfg[0].CORSOrigins
	}

	noParams := func(h func(context.Context) (interface{}, *Error)) handlerFunc {
		return func(ctx context.Context, _ *Request) (interface{}, *Error) { return h(ctx) }
	}
	s.methods = map[string]handlerFunc{
		nodeclient.MethodInfo:            noParams(s.handleInfo),
		nodeclient.MethodTips:            noParams(s.handleTips),
		nodeclient.MethodOutputIDs:       s.handleOutputIDs,
		nodeclient.MethodOutput:          s.handleOutput,
		nodeclient.MethodOutputMetadata:  s.handleOutputMetadata,
		nodeclient.MethodBlockMetadata:   s.handleBlockMetadata,
		nodeclient.MethodIncludedBlock:   s.handleIncludedBlock,
		nodeclient.MethodSubmitBlock:     s.handleSubmitBlock,
		nodeclient.MethodFoundryOutputID: s.handleFoundryOutputID,
		nodeclient.MethodAliasOutputID:   s.handleAliasOutputID,
		nodeclient.MethodNftOutputID:     s.handleNftOutputID,
	}

	s.server = &http.Server{
		Handler:      s.filter(http.HandlerFunc(s.serveRPC)),
		ReadTimeout:  ioTimeout,
		WriteTimeout: ioTimeout,
	}
	return s
}

// Handler returns the HTTP handler, e.g. for httptest servers.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// SetFaucet registers faucet_request. Requests without an amount receive
// defaultAmount. Call it before Start.
func (s *Server) SetFaucet(f Faucet, defaultAmount uint64) {
	s.faucet = f
	s.faucetAmount = defaultAmount
	s.methods[MethodFaucet] = s.handleFaucet
}

// Start binds the listener and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("rpc listen: %w", err)
	}
	s.ln = ln
	s.logger.Debug().Str("addr", ln.Addr().String()).Msg("RPC listener bound")

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("RPC server error")
		}
	}()
	return nil
}

// Addr returns the bound address, which differs from the configured one
// for port 0.
func (s *Server) Addr() string {
	if s.ln != nil {
		return s.ln.Addr().String()
	}
	return s.addr
}

// Stop shuts the server down, waiting briefly for running requests.
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return s.server.Shutdown(ctx)
}

// filter applies the peer allowlist and CORS before next.
func (s *Server) filter(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.peerAllowed(r.RemoteAddr) {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		s.setCORSHeaders(w, r)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) serveRPC(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, nil, CodeInvalidRequest, "only POST method is allowed")
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize+1))
	switch {
	case err != nil:
		writeError(w, nil, CodeParseError, "failed to read request body")
		return
	case len(body) > maxBodySize:
		writeError(w, nil, CodeInvalidRequest, "request body too large")
		return
	}

	var req Request
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, nil, CodeParseError, "invalid JSON")
		return
	}
	if req.JSONRPC != "2.0" {
		writeError(w, req.ID, CodeInvalidRequest, `jsonrpc must be "2.0"`)
		return
	}

	h, ok := s.methods[req.Method]
	if !ok {
		writeError(w, req.ID, CodeMethodNotFound, fmt.Sprintf("method %q not found", req.Method))
		return
	}
	result, rpcErr := h(r.Context(), &req)
	if rpcErr != nil {
		s.logger.Debug().Str("method", req.Method).Int("code", rpcErr.Code).Msg(rpcErr.Message)
		writeJSON(w, Response{JSONRPC: "2.0", Error: rpcErr, ID: req.ID})
		return
	}
	writeJSON(w, Response{JSONRPC: "2.0", Result: result, ID: req.ID})
}

func writeJSON(w http.ResponseWriter, resp Response) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func writeError(w http.ResponseWriter, id interface{}, code int, message string) {
	writeJSON(w, Response{JSONRPC: "2.0", Error: &Error{Code: code, Message: message}, ID: id})
}

// parseAllowedIPs accepts CIDRs and single addresses. Invalid entries are
// skipped.
func parseAllowedIPs(entries []string) []*net.IPNet {
	var nets []*net.IPNet
	for _, entry := range entries {
		if _, n, err := net.ParseCIDR(entry); err == nil {
			nets = append(nets, n)
			continue
		}
		ip := net.ParseIP(entry)
		if ip == nil {
			continue
		}
		bits := 8 * net.IPv6len
		if ip4 := ip.To4(); ip4 != nil {
			ip, bits = ip4, 8*net.IPv4len
		}
		nets = append(nets, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
	}
	return nets
}

func (s *Server) peerAllowed(remoteAddr string) bool {
	if len(s.allowedNets) == 0 {
		return true
	}
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return false
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	return slices.ContainsFunc(s.allowedNets, func(n *net.IPNet) bool { return n.Contains(ip) })
}

func (s *Server) setCORSHeaders(w http.ResponseWriter, r *http.Request) {
	origin := r.Header.Get("Origin")
	if origin == "" || len(s.corsOrigins) == 0 {
		return
	}
	switch {
	case slices.Contains(s.corsOrigins, "*"):
		w.Header().Set("Access-Control-Allow-Origin", "*")
	case slices.Contains(s.corsOrigins, origin):
		w.Header().Set("Access-Control-Allow-Origin", origin)
	default:
		return
	}
	w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
}

// parseParams decodes the request params into target.
func parseParams(req *Request, target interface{}) *Error {
	if len(req.Params) == 0 || bytes.Equal(req.Params, []byte("null")) {
		return &Error{Code: CodeInvalidParams, Message: "params required"}
	}
	if err := json.Unmarshal(req.Params, target); err != nil {
		return &Error{Code: CodeInvalidParams, Message: fmt.Sprintf("invalid params: %v", err)}
	}
	return nil
}
