package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"tidepool/native/common"
)

// Client implements Provider against the indexer's JSON-RPC endpoint.
type Client struct {
	baseURL   string
	authToken string
	http      *http.Client
	nextID    atomic.Int64

	// pollInterval controls the AwaitConfirmation loop. Tests shrink it.
	pollInterval time.Duration
}

// NewClient builds a Provider for the given indexer endpoint. The auth token
// is optional.
func NewClient(baseURL, authToken string) *Client {
	return &Client{
		baseURL:   baseURL,
		authToken: authToken,
		http: &http.Client{
			Timeout: 15 * time.Second,
		},
		pollInterval: 2 * time.Second,
	}
}

type jsonRPCRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params"`
	ID      int64       `json:"id"`
}

type jsonRPCResponse struct {
	JSONRPC string           `json:"jsonrpc"`
	ID      int64            `json:"id"`
	Result  json.RawMessage  `json:"result"`
	Error   *jsonRPCErrorObj `json:"error"`
}

type jsonRPCErrorObj struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (c *Client) UTxOsAt(ctx context.Context, address string) ([]UTxO, error) {
	var result []UTxO
	params := []interface{}{map[string]string{"address": address}}
	if err := c.call(ctx, "chain_utxosAt", params, &result); err != nil {
		return nil, common.WrapChain("utxosAt", err)
	}
	return result, nil
}

func (c *Client) UTxOByAsset(ctx context.Context, unit string) (*UTxO, error) {
	var result []UTxO
	params := []interface{}{map[string]string{"unit": unit}}
	if err := c.call(ctx, "chain_utxosByAsset", params, &result); err != nil {
		return nil, common.WrapChain("utxosByAsset", err)
	}
	if len(result) == 0 {
		return nil, common.NewNotFound("utxo", unit)
	}
	if len(result) > 1 {
		return nil, common.WrapChain("utxosByAsset", fmt.Errorf("asset %s present in %d outputs, expected 1", unit, len(result)))
	}
	utxo := result[0]
	return &utxo, nil
}

func (c *Client) SubmitTx(ctx context.Context, cborHex string) (string, error) {
	var result struct {
		TxHash string `json:"txHash"`
	}
	params := []interface{}{map[string]string{"cbor": cborHex}}
	if err := c.call(ctx, "chain_submitTx", params, &result); err != nil {
		return "", common.WrapChain("submitTx", err)
	}
	if result.TxHash == "" {
		return "", common.WrapChain("submitTx", errors.New("node returned empty tx hash"))
	}
	return result.TxHash, nil
}

func (c *Client) TxStatus(ctx context.Context, txHash string) (*TxStatus, error) {
	var result TxStatus
	params := []interface{}{map[string]string{"txHash": txHash}}
	if err := c.call(ctx, "chain_txStatus", params, &result); err != nil {
		return nil, common.WrapChain("txStatus", err)
	}
	return &result, nil
}

// AwaitConfirmation polls TxStatus until the transaction confirms. Transient
// poll errors are swallowed and retried; only timeout or cancellation surface.
func (c *Client) AwaitConfirmation(ctx context.Context, txHash string, timeout time.Duration) (*TxStatus, error) {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		status, err := c.TxStatus(ctx, txHash)
		if err == nil && status.Confirmed {
			return status, nil
		}
		if time.Now().After(deadline) {
			return nil, common.WrapChain("awaitConfirmation", fmt.Errorf("tx %s not confirmed within %s", txHash, timeout))
		}
		select {
		case <-ctx.Done():
			return nil, common.WrapChain("awaitConfirmation", ctx.Err())
		case <-ticker.C:
		}
	}
}

func (c *Client) Tip(ctx context.Context) (*Tip, error) {
	var result Tip
	if err := c.call(ctx, "chain_tip", []interface{}{}, &result); err != nil {
		return nil, common.WrapChain("tip", err)
	}
	return &result, nil
}

func (c *Client) call(ctx context.Context, method string, params interface{}, out interface{}) error {
	id := c.nextID.Add(1)
	buf, err := json.Marshal(jsonRPCRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      id,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(buf))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if strings.TrimSpace(c.authToken) != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("node rpc %s failed: status=%d body=%s", method, resp.StatusCode, string(body))
	}
	var rpcResp jsonRPCResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return err
	}
	if rpcResp.Error != nil {
		return fmt.Errorf("node rpc error %d: %s", rpcResp.Error.Code, rpcResp.Error.Message)
	}
	if out == nil {
		return nil
	}
	if len(rpcResp.Result) == 0 {
		return errors.New("node rpc returned empty result")
	}
	return json.Unmarshal(rpcResp.Result, out)
}

var _ Provider = (*Client)(nil)
