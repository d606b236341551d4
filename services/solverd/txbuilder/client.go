package txbuilder

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"time"

	"tidepool/native/common"
)

// Client implements Builder against the transaction builder service's HTTP
// API.
type Client struct {
	baseURL   string
	authToken string
	http      *http.Client
}

// NewClient builds a Builder for the given endpoint.
func NewClient(baseURL, authToken string) *Client {
	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		authToken: authToken,
		http: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type builtTxPayload struct {
	CBORHex         string `json:"cborHex"`
	TxHash          string `json:"txHash"`
	EstimatedFee    string `json:"estimatedFee"`
	PoolOutputIndex uint32 `json:"poolOutputIndex"`
}

type settlementLegPayload struct {
	IntentID    string `json:"intentId"`
	EscrowUTxO  string `json:"escrowUtxo"`
	InputAmount string `json:"inputAmount"`
	MinOutput   string `json:"minOutput"`
	Receiver    string `json:"receiver"`
}

func (c *Client) BuildSettlementTx(ctx context.Context, req SettlementRequest) (*BuiltTx, error) {
	legs := make([]settlementLegPayload, 0, len(req.Legs))
	for _, leg := range req.Legs {
		legs = append(legs, settlementLegPayload{
			IntentID:    leg.IntentID,
			EscrowUTxO:  leg.EscrowUTxO.String(),
			InputAmount: amountString(leg.InputAmount),
			MinOutput:   amountString(leg.MinOutput),
			Receiver:    leg.Receiver,
		})
	}
	payload := map[string]interface{}{
		"poolId":        req.PoolID,
		"poolUtxo":      req.PoolUTxO.String(),
		"direction":     req.Direction,
		"legs":          legs,
		"solverAddress": req.SolverAddress,
	}
	return c.build(ctx, "/v1/build/settlement", payload)
}

func (c *Client) BuildOrderExecutionTx(ctx context.Context, req OrderExecutionRequest) (*BuiltTx, error) {
	payload := map[string]interface{}{
		"orderId":       req.OrderID,
		"escrowUtxo":    req.EscrowUTxO.String(),
		"poolId":        req.PoolID,
		"poolUtxo":      req.PoolUTxO.String(),
		"inputAmount":   amountString(req.InputAmount),
		"minOutput":     amountString(req.MinOutput),
		"receiver":      req.Receiver,
		"solverAddress": req.SolverAddress,
	}
	return c.build(ctx, "/v1/build/order-execution", payload)
}

func (c *Client) BuildCancelTx(ctx context.Context, req EscrowSpendRequest) (*BuiltTx, error) {
	return c.build(ctx, "/v1/build/cancel", escrowSpendPayload(req))
}

func (c *Client) BuildReclaimTx(ctx context.Context, req EscrowSpendRequest) (*BuiltTx, error) {
	return c.build(ctx, "/v1/build/reclaim", escrowSpendPayload(req))
}

func (c *Client) BuildDepositTx(ctx context.Context, req LiquidityRequest) (*BuiltTx, error) {
	return c.build(ctx, "/v1/build/deposit", liquidityPayload(req))
}

func (c *Client) BuildWithdrawTx(ctx context.Context, req LiquidityRequest) (*BuiltTx, error) {
	return c.build(ctx, "/v1/build/withdraw", liquidityPayload(req))
}

func escrowSpendPayload(req EscrowSpendRequest) map[string]interface{} {
	return map[string]interface{}{
		"entityId":   req.EntityID,
		"escrowUtxo": req.EscrowUTxO.String(),
		"receiver":   req.Receiver,
	}
}

func liquidityPayload(req LiquidityRequest) map[string]interface{} {
	payload := map[string]interface{}{
		"poolId":   req.PoolID,
		"poolUtxo": req.PoolUTxO.String(),
		"owner":    req.Owner,
	}
	if req.AmountA != nil {
		payload["amountA"] = req.AmountA.String()
	}
	if req.AmountB != nil {
		payload["amountB"] = req.AmountB.String()
	}
	if req.LPTokens != nil {
		payload["lpTokens"] = req.LPTokens.String()
	}
	return payload
}

func (c *Client) build(ctx context.Context, path string, payload interface{}) (*BuiltTx, error) {
	buf, err := json.Marshal(payload)
	if err != nil {
		return nil, common.WrapChain("build tx", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(buf))
	if err != nil {
		return nil, common.WrapChain("build tx", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if strings.TrimSpace(c.authToken) != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, common.WrapChain("build tx", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, common.WrapChain("build tx", fmt.Errorf("builder %s: status=%d body=%s", path, resp.StatusCode, string(body)))
	}
	var out builtTxPayload
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, common.WrapChain("build tx", err)
	}
	if out.TxHash == "" || out.CBORHex == "" {
		return nil, common.WrapChain("build tx", errors.New("builder returned incomplete transaction"))
	}
	fee := big.NewInt(0)
	if out.EstimatedFee != "" {
		parsed, ok := new(big.Int).SetString(out.EstimatedFee, 10)
		if !ok {
			return nil, common.WrapChain("build tx", fmt.Errorf("builder returned bad fee %q", out.EstimatedFee))
		}
		fee = parsed
	}
	return &BuiltTx{
		CBORHex:         out.CBORHex,
		TxHash:          out.TxHash,
		EstimatedFee:    fee,
		PoolOutputIndex: out.PoolOutputIndex,
	}, nil
}

func amountString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

var _ Builder = (*Client)(nil)
