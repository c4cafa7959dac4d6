// Package chain is the settlement engine's boundary to the external asset
// contract. The engine never trusts its own records for ownership or
// approval: it asks the contract through this package before and during
// every settlement.
package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tidwall/gjson"
)

// Config holds RPC client configuration.
type Config struct {
	RPCURL  string
	Timeout time.Duration
}

// Client is a minimal JSON-RPC client for the asset contract's node.
type Client struct {
	rpcURL     string
	httpClient *http.Client
}

// NewClient creates a client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.RPCURL == "" {
		return nil, fmt.Errorf("RPC URL required")
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	return &Client{
		rpcURL:     cfg.RPCURL,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
	ID      int           `json:"id"`
}

// Call makes an RPC call and returns the result subtree.
func (c *Client) Call(ctx context.Context, method string, params []interface{}) (gjson.Result, error) {
	req := rpcRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      1,
	}

	body, err := json.Marshal(req)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.rpcURL, bytes.NewReader(body))
	if err != nil {
		return gjson.Result{}, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("read response: %w", err)
	}

	if rpcErr := gjson.GetBytes(respBody, "error"); rpcErr.Exists() {
		return gjson.Result{}, fmt.Errorf("rpc %s: %s (code %d)",
			method, rpcErr.Get("message").String(), rpcErr.Get("code").Int())
	}

	return gjson.GetBytes(respBody, "result"), nil
}

// Param is one contract invocation parameter.
type Param struct {
	Type  string      `json:"type"`
	Value interface{} `json:"value"`
}

// InvokeResult is the outcome of an invokefunction call.
type InvokeResult struct {
	State     string
	Exception string
	Stack     []gjson.Result
}

// InvokeFunction invokes a contract method through the node.
func (c *Client) InvokeFunction(ctx context.Context, scriptHash, operation string, params []Param, signers []Signer) (InvokeResult, error) {
	args := []interface{}{scriptHash, operation, params}
	if len(signers) > 0 {
		args = append(args, signers)
	}

	result, err := c.Call(ctx, "invokefunction", args)
	if err != nil {
		return InvokeResult{}, err
	}

	return InvokeResult{
		State:     result.Get("state").String(),
		Exception: result.Get("exception").String(),
		Stack:     result.Get("stack").Array(),
	}, nil
}

// Signer scopes an invocation to an account.
type Signer struct {
	Account string `json:"account"`
	Scopes  string `json:"scopes"`
}
