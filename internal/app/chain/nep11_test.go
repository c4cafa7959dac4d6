package chain

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

// contractHash is a valid UInt160 used across the RPC tests.
const contractHash = "0x1f4d1defa46faa5e7b9b8d3f79a06bd777128831"

func rpcServer(t *testing.T, handler func(method string, params []json.RawMessage) string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Method string            `json:"method"`
			Params []json.RawMessage `json:"params"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode rpc request: %v", err)
		}
		fmt.Fprintf(w, `{"jsonrpc":"2.0","id":1,"result":%s}`, handler(req.Method, req.Params))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestContract(t *testing.T, srv *httptest.Server) AssetContract {
	t.Helper()
	client, err := NewClient(Config{RPCURL: srv.URL})
	require.NoError(t, err)

	registry := NewNEP11Registry(client, "0x9f2b1c6e30a54e9dbb7a2f8f3c0d1e4a5b6c7d8e")
	contract, err := registry.Contract(contractHash)
	require.NoError(t, err)
	return contract
}

func TestOwnerOfParsesHash(t *testing.T) {
	// Little-endian 20-byte hash on the stack; client must render it
	// big-endian with the 0x prefix.
	le := make([]byte, 20)
	for i := range le {
		le[i] = byte(i)
	}
	encoded := base64.StdEncoding.EncodeToString(le)

	srv := rpcServer(t, func(method string, _ []json.RawMessage) string {
		require.Equal(t, "invokefunction", method)
		return fmt.Sprintf(`{"state":"HALT","stack":[{"type":"ByteString","value":"%s"}]}`, encoded)
	})

	owner, err := newTestContract(t, srv).OwnerOf(context.Background(), "token-1")
	require.NoError(t, err)
	require.Equal(t, "0x131211100f0e0d0c0b0a09080706050403020100", owner)
}

func TestBalanceOfParsesInteger(t *testing.T) {
	srv := rpcServer(t, func(_ string, _ []json.RawMessage) string {
		return `{"state":"HALT","stack":[{"type":"Integer","value":"12"}]}`
	})

	balance, err := newTestContract(t, srv).BalanceOf(context.Background(), "0xowner")
	require.NoError(t, err)
	require.EqualValues(t, 12, balance.Int64())
}

func TestTransferFaultState(t *testing.T) {
	srv := rpcServer(t, func(_ string, _ []json.RawMessage) string {
		return `{"state":"FAULT","exception":"item locked","stack":[]}`
	})

	err := newTestContract(t, srv).Transfer(context.Background(), "0xa", "0xb", "token-1")
	require.Error(t, err)
	require.Contains(t, err.Error(), "item locked")
}

func TestTransferContractReturnsFalse(t *testing.T) {
	srv := rpcServer(t, func(_ string, _ []json.RawMessage) string {
		return `{"state":"HALT","stack":[{"type":"Boolean","value":false}]}`
	})

	err := newTestContract(t, srv).Transfer(context.Background(), "0xa", "0xb", "token-1")
	require.Error(t, err)
}

func TestRPCErrorSurfaces(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"jsonrpc":"2.0","id":1,"error":{"code":-32601,"message":"method not found"}}`)
	}))
	t.Cleanup(srv.Close)

	client, err := NewClient(Config{RPCURL: srv.URL})
	require.NoError(t, err)

	_, err = client.Call(context.Background(), "invokefunction", nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "method not found")
}

func TestRegistryRejectsMalformedAddress(t *testing.T) {
	registry := NewNEP11Registry(&Client{}, "0xengine")
	_, err := registry.Contract("not-a-hash")
	require.Error(t, err)
}

func TestFakeContractTransfer(t *testing.T) {
	ctx := context.Background()
	f := NewFakeContract("0xadmin")
	f.Mint("t1", "alice")
	f.Approve("alice", "engine", true)

	ok, err := f.IsApprovedForAll(ctx, "alice", "engine")
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, f.Transfer(ctx, "alice", "bob", "t1"))
	owner, err := f.OwnerOf(ctx, "t1")
	require.NoError(t, err)
	require.Equal(t, "bob", owner)

	// Wrong holder must not move the item.
	require.Error(t, f.Transfer(ctx, "alice", "carol", "t1"))
}
