package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"
)

// JSON-RPC method names served by NewRPCHandler.
const (
	MethodGetCapability      = "ledger_getCapability"
	MethodDevInspect         = "ledger_devInspect"
	MethodExecuteTransaction = "ledger_executeTransaction"
	MethodWaitForTransaction = "ledger_waitForTransaction"
)

// JSON-RPC error codes. Codes above -32100 carry ledger sentinels across the wire.
const (
	CodeParseError         = -32700
	CodeMethodNotFound     = -32601
	CodeInvalidParams      = -32602
	CodeInternal           = -32603
	CodeNotAuthorized      = -32003
	CodeNotFound           = -32004
	CodeTxNotFound         = -32005
	CodeConflict           = -32009
	CodeInsufficientFunds  = -32010
	CodeInvalidTransaction = -32011
	CodeAborted            = -32012
	CodeBlobOverrideUsed   = -32013
)

// codeErrors maps wire codes to sentinels, in the order the server tests them.
var codeErrors = []struct {
	code int
	err  error
}{
	{CodeNotFound, ErrCapabilityNotFound},
	{CodeTxNotFound, ErrTxNotFound},
	{CodeConflict, ErrConflict},
	{CodeInsufficientFunds, ErrInsufficientFunds},
	{CodeNotAuthorized, ErrNotAuthorized},
	{CodeBlobOverrideUsed, ErrBlobOverrideUsed},
	{CodeInvalidTransaction, ErrInvalidTransaction},
	{CodeAborted, ErrExecutionAborted},
}

// RPCConfig configures an RPCClient.
type RPCConfig struct {
	URL      string
	User     string
	Password string
	Timeout  time.Duration
}

// RPCClient is a JSON-RPC 2.0 client for a ledger node. It implements Service.
type RPCClient struct {
	url    string
	user   string
	pass   string
	client *http.Client
	nextID atomic.Int64
}

var _ Service = (*RPCClient)(nil)

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      int64         `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type executeResult struct {
	Digest string `json:"digest"`
}

// NewRPCClient creates a client for the node at cfg.URL. Basic auth is used
// when User is non-empty.
func NewRPCClient(cfg RPCConfig) *RPCClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &RPCClient{
		url:  cfg.URL,
		user: cfg.User,
		pass: cfg.Password,
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				IdleConnTimeout:     90 * time.Second,
				MaxIdleConnsPerHost: 10,
			},
		},
	}
}

// Call invokes a JSON-RPC method and decodes the result into result.
//
// Transport failures wrap ErrConnectionFailed and undecodable replies wrap
// ErrInvalidResponse. Server errors carrying a known code wrap the matching
// sentinel; gas-related messages wrap ErrInsufficientFunds.
func (c *RPCClient) Call(ctx context.Context, method string, params []interface{}, result interface{}) error {
	if params == nil {
		params = []interface{}{}
	}
	reqBody := rpcRequest{
		JSONRPC: "2.0",
		ID:      c.nextID.Add(1),
		Method:  method,
		Params:  params,
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("ledger: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("ledger: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.user != "" {
		req.SetBasicAuth(c.user, c.pass)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("%w: HTTP %d: %s", ErrConnectionFailed, resp.StatusCode, string(respBody))
	}

	var rpcResp rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return fmt.Errorf("%w: decode response: %w", ErrInvalidResponse, err)
	}
	if rpcResp.ID != reqBody.ID {
		return fmt.Errorf("%w: response ID mismatch: expected %d, got %d",
			ErrInvalidResponse, reqBody.ID, rpcResp.ID)
	}
	if rpcResp.Error != nil {
		return rpcResp.Error.asError()
	}

	if result != nil && rpcResp.Result != nil {
		if err := json.Unmarshal(rpcResp.Result, result); err != nil {
			return fmt.Errorf("%w: unmarshal result: %w", ErrInvalidResponse, err)
		}
	}
	return nil
}

func (e *rpcError) asError() error {
	for _, ce := range codeErrors {
		if ce.code == e.Code {
			return fmt.Errorf("%w: %s", ce.err, e.Message)
		}
	}
	return ClassifyExecutionError(fmt.Errorf("ledger: rpc error %d: %s", e.Code, e.Message))
}

// errorCode picks the wire code for err.
func errorCode(err error) int {
	for _, ce := range codeErrors {
		if errors.Is(err, ce.err) {
			return ce.code
		}
	}
	return CodeInternal
}

// GetCapability implements Service.
func (c *RPCClient) GetCapability(ctx context.Context, id string) (*Capability, error) {
	var out Capability
	if err := c.Call(ctx, MethodGetCapability, []interface{}{id}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DevInspect implements Service. Only the transaction kind is sent.
func (c *RPCClient) DevInspect(ctx context.Context, tx *Transaction, sender string) (*InspectResult, error) {
	kind, err := tx.EncodeKind()
	if err != nil {
		return nil, err
	}
	var out InspectResult
	if err := c.Call(ctx, MethodDevInspect, []interface{}{kind, sender}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ExecuteTransaction implements Service.
func (c *RPCClient) ExecuteTransaction(ctx context.Context, txBytes, signature []byte) (string, error) {
	var out executeResult
	if err := c.Call(ctx, MethodExecuteTransaction, []interface{}{txBytes, signature}, &out); err != nil {
		return "", err
	}
	if out.Digest == "" {
		return "", fmt.Errorf("%w: empty digest", ErrInvalidResponse)
	}
	return out.Digest, nil
}

// WaitForTransaction implements Service.
func (c *RPCClient) WaitForTransaction(ctx context.Context, digest string) (*TxEffects, error) {
	var out TxEffects
	if err := c.Call(ctx, MethodWaitForTransaction, []interface{}{digest}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
