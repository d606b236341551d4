package chain

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"tidepool/native/common"
)

func rpcServer(t *testing.T, handler func(method string, params json.RawMessage) (interface{}, *jsonRPCErrorObj)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Method string          `json:"method"`
			Params json.RawMessage `json:"params"`
			ID     int64           `json:"id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		result, rpcErr := handler(req.Method, req.Params)
		resp := jsonRPCResponse{JSONRPC: "2.0", ID: req.ID, Error: rpcErr}
		if rpcErr == nil {
			raw, err := json.Marshal(result)
			if err != nil {
				t.Fatalf("marshal result: %v", err)
			}
			resp.Result = raw
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
}

func TestSubmitTxReturnsHash(t *testing.T) {
	server := rpcServer(t, func(method string, params json.RawMessage) (interface{}, *jsonRPCErrorObj) {
		if method != "chain_submitTx" {
			t.Fatalf("unexpected method %s", method)
		}
		return map[string]string{"txHash": "abc123"}, nil
	})
	defer server.Close()

	client := NewClient(server.URL, "")
	hash, err := client.SubmitTx(context.Background(), "84a500")
	if err != nil {
		t.Fatalf("submit tx: %v", err)
	}
	if hash != "abc123" {
		t.Fatalf("tx hash = %s, want abc123", hash)
	}
}

func TestSubmitTxWrapsRPCError(t *testing.T) {
	server := rpcServer(t, func(method string, params json.RawMessage) (interface{}, *jsonRPCErrorObj) {
		return nil, &jsonRPCErrorObj{Code: -32000, Message: "bad cbor"}
	})
	defer server.Close()

	client := NewClient(server.URL, "")
	if _, err := client.SubmitTx(context.Background(), "zz"); !common.IsChainInteraction(err) {
		t.Fatalf("expected ChainInteractionError, got %v", err)
	}
}

func TestUTxOByAsset(t *testing.T) {
	server := rpcServer(t, func(method string, params json.RawMessage) (interface{}, *jsonRPCErrorObj) {
		return []UTxO{{
			Ref:     common.UTxORef{TxHash: "tx1", OutputIndex: 0},
			Address: "addr_test1pool",
			Value:   map[string]string{"lovelace": "1000000"},
		}}, nil
	})
	defer server.Close()

	client := NewClient(server.URL, "")
	utxo, err := client.UTxOByAsset(context.Background(), "ff99.NFT")
	if err != nil {
		t.Fatalf("utxo by asset: %v", err)
	}
	if utxo.Ref.TxHash != "tx1" {
		t.Fatalf("utxo = %+v, want tx1#0", utxo.Ref)
	}
}

func TestUTxOByAssetNotFound(t *testing.T) {
	server := rpcServer(t, func(method string, params json.RawMessage) (interface{}, *jsonRPCErrorObj) {
		return []UTxO{}, nil
	})
	defer server.Close()

	client := NewClient(server.URL, "")
	if _, err := client.UTxOByAsset(context.Background(), "ff99.NFT"); !common.IsNotFound(err) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
}

func TestAuthTokenForwarded(t *testing.T) {
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewEncoder(w).Encode(jsonRPCResponse{JSONRPC: "2.0", ID: 1, Result: json.RawMessage(`{"slot":1,"blockHash":"h","height":1}`)})
	}))
	defer server.Close()

	client := NewClient(server.URL, "secret-token")
	if _, err := client.Tip(context.Background()); err != nil {
		t.Fatalf("tip: %v", err)
	}
	if gotAuth != "Bearer secret-token" {
		t.Fatalf("authorization = %q, want bearer token", gotAuth)
	}
}

func TestAwaitConfirmationPollsUntilConfirmed(t *testing.T) {
	calls := 0
	server := rpcServer(t, func(method string, params json.RawMessage) (interface{}, *jsonRPCErrorObj) {
		calls++
		return TxStatus{TxHash: "tx1", Confirmed: calls >= 3, Confirmations: uint64(calls)}, nil
	})
	defer server.Close()

	client := NewClient(server.URL, "")
	client.pollInterval = 5 * time.Millisecond

	status, err := client.AwaitConfirmation(context.Background(), "tx1", time.Second)
	if err != nil {
		t.Fatalf("await confirmation: %v", err)
	}
	if !status.Confirmed {
		t.Fatalf("status not confirmed: %+v", status)
	}
	if calls < 3 {
		t.Fatalf("expected at least 3 polls, got %d", calls)
	}
}

func TestAwaitConfirmationTimesOut(t *testing.T) {
	server := rpcServer(t, func(method string, params json.RawMessage) (interface{}, *jsonRPCErrorObj) {
		return TxStatus{TxHash: "tx1", Confirmed: false}, nil
	})
	defer server.Close()

	client := NewClient(server.URL, "")
	client.pollInterval = 5 * time.Millisecond

	if _, err := client.AwaitConfirmation(context.Background(), "tx1", 20*time.Millisecond); !common.IsChainInteraction(err) {
		t.Fatalf("expected ChainInteractionError on timeout, got %v", err)
	}
}
