package chain

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"math/big"

	"github.com/joeqian10/neo3-gogogo/helper"
	"github.com/tidwall/gjson"
)

// vmHalt is the VM state of a successful invocation.
const vmHalt = "HALT"

// NEP11Contract implements AssetContract against a non-divisible NEP-11
// token contract.
type NEP11Contract struct {
	client *Client
	hash   string // normalized 0x-prefixed script hash
	engine string // engine account address, used as transfer signer
}

var _ AssetContract = (*NEP11Contract)(nil)

// NEP11Registry resolves collection addresses to NEP-11 contract bindings.
type NEP11Registry struct {
	client *Client
	engine string
}

var _ Registry = (*NEP11Registry)(nil)

// NewNEP11Registry creates a registry issuing contracts that sign transfers
// as the engine account.
func NewNEP11Registry(client *Client, engineAccount string) *NEP11Registry {
	return &NEP11Registry{client: client, engine: engineAccount}
}

// Contract validates and normalizes the collection script hash and returns
// its binding. Malformed addresses are rejected here, before any settlement
// state can reference them.
func (r *NEP11Registry) Contract(collectionAddr string) (AssetContract, error) {
	u, err := helper.UInt160FromString(collectionAddr)
	if err != nil {
		return nil, fmt.Errorf("collection address %q: %w", collectionAddr, err)
	}
	return &NEP11Contract{
		client: r.client,
		hash:   u.String(),
		engine: r.engine,
	}, nil
}

func (c *NEP11Contract) OwnerOf(ctx context.Context, tokenID string) (string, error) {
	result, err := c.client.InvokeFunction(ctx, c.hash, "ownerOf", []Param{
		{Type: "String", Value: tokenID},
	}, nil)
	if err != nil {
		return "", err
	}
	if result.State != vmHalt || len(result.Stack) == 0 {
		return "", fmt.Errorf("ownerOf %s: %s", tokenID, result.Exception)
	}
	return parseHash160(result.Stack[0])
}

func (c *NEP11Contract) BalanceOf(ctx context.Context, owner string) (*big.Int, error) {
	result, err := c.client.InvokeFunction(ctx, c.hash, "balanceOf", []Param{
		{Type: "Hash160", Value: owner},
	}, nil)
	if err != nil {
		return nil, err
	}
	if result.State != vmHalt || len(result.Stack) == 0 {
		return nil, fmt.Errorf("balanceOf %s: %s", owner, result.Exception)
	}
	return parseInteger(result.Stack[0])
}

func (c *NEP11Contract) IsApprovedForAll(ctx context.Context, owner, operator string) (bool, error) {
	result, err := c.client.InvokeFunction(ctx, c.hash, "isApprovedForAll", []Param{
		{Type: "Hash160", Value: owner},
		{Type: "Hash160", Value: operator},
	}, nil)
	if err != nil {
		return false, err
	}
	if result.State != vmHalt || len(result.Stack) == 0 {
		return false, fmt.Errorf("isApprovedForAll %s/%s: %s", owner, operator, result.Exception)
	}
	return result.Stack[0].Get("value").Bool(), nil
}

func (c *NEP11Contract) Transfer(ctx context.Context, from, to, tokenID string) error {
	result, err := c.client.InvokeFunction(ctx, c.hash, "transfer", []Param{
		{Type: "Hash160", Value: to},
		{Type: "String", Value: tokenID},
		{Type: "Any", Value: nil},
	}, []Signer{{Account: from, Scopes: "CalledByEntry"}})
	if err != nil {
		return err
	}
	if result.State != vmHalt {
		return fmt.Errorf("transfer %s to %s: %s", tokenID, to, result.Exception)
	}
	if len(result.Stack) == 0 || !result.Stack[0].Get("value").Bool() {
		return fmt.Errorf("transfer %s to %s: contract returned false", tokenID, to)
	}
	return nil
}

func (c *NEP11Contract) Admin(ctx context.Context) (string, error) {
	result, err := c.client.InvokeFunction(ctx, c.hash, "admin", nil, nil)
	if err != nil {
		return "", err
	}
	if result.State != vmHalt || len(result.Stack) == 0 {
		return "", fmt.Errorf("admin: %s", result.Exception)
	}
	return parseHash160(result.Stack[0])
}

// parseHash160 reads a ByteString stack item holding a little-endian script
// hash and renders it 0x-prefixed big-endian.
func parseHash160(item gjson.Result) (string, error) {
	if t := item.Get("type").String(); t != "ByteString" && t != "Buffer" {
		return "", fmt.Errorf("unexpected stack item type %s", t)
	}
	raw, err := base64.StdEncoding.DecodeString(item.Get("value").String())
	if err != nil {
		return "", fmt.Errorf("decode hash: %w", err)
	}
	if len(raw) != 20 {
		return "", fmt.Errorf("hash is %d bytes, want 20", len(raw))
	}
	reversed := make([]byte, len(raw))
	for i, b := range raw {
		reversed[len(raw)-1-i] = b
	}
	return "0x" + hex.EncodeToString(reversed), nil
}

// parseInteger reads an Integer stack item.
func parseInteger(item gjson.Result) (*big.Int, error) {
	if t := item.Get("type").String(); t != "Integer" {
		return nil, fmt.Errorf("unexpected stack item type %s", t)
	}
	n, ok := new(big.Int).SetString(item.Get("value").String(), 10)
	if !ok {
		return nil, fmt.Errorf("malformed integer %q", item.Get("value").String())
	}
	return n, nil
}
