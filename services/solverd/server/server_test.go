package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"tidepool/native/amm"
	"tidepool/native/common"
	"tidepool/native/intent"
	"tidepool/native/order"
	"tidepool/services/solverd/settlement"
	"tidepool/services/solverd/storage"
	"tidepool/services/solverd/txbuilder"
)

var testSecret = []byte("server-test-secret")

func testNow() time.Time { return time.Unix(1_700_000_000, 0).UTC() }

type stubBuilder struct{}

func (stubBuilder) build(kind string) (*txbuilder.BuiltTx, error) {
	return &txbuilder.BuiltTx{
		CBORHex:      "84a400",
		TxHash:       kind + "-tx",
		EstimatedFee: big.NewInt(200_000),
	}, nil
}

func (b stubBuilder) BuildSettlementTx(context.Context, txbuilder.SettlementRequest) (*txbuilder.BuiltTx, error) {
	return b.build("settle")
}
func (b stubBuilder) BuildOrderExecutionTx(context.Context, txbuilder.OrderExecutionRequest) (*txbuilder.BuiltTx, error) {
	return b.build("execute")
}
func (b stubBuilder) BuildCancelTx(context.Context, txbuilder.EscrowSpendRequest) (*txbuilder.BuiltTx, error) {
	return b.build("cancel")
}
func (b stubBuilder) BuildReclaimTx(context.Context, txbuilder.EscrowSpendRequest) (*txbuilder.BuiltTx, error) {
	return b.build("reclaim")
}
func (b stubBuilder) BuildDepositTx(context.Context, txbuilder.LiquidityRequest) (*txbuilder.BuiltTx, error) {
	return b.build("deposit")
}
func (b stubBuilder) BuildWithdrawTx(context.Context, txbuilder.LiquidityRequest) (*txbuilder.BuiltTx, error) {
	return b.build("withdraw")
}

type serverHarness struct {
	store *storage.Store
	coord *settlement.Coordinator
	http  *httptest.Server
}

func newHarness(t *testing.T, quota common.Quota, limit RateLimit) *serverHarness {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, storage.AutoMigrate(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	store := storage.New(db)

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	coord := settlement.New(store, store, store, stubBuilder{}, nil, nil, log, settlement.Config{})
	coord.SetNowFunc(testNow)

	srv := New(Config{
		Store:        store,
		Coordinator:  coord,
		SolverSecret: testSecret,
		Quota:        quota,
		CreateLimit:  limit,
		Logger:       log,
		Now:          testNow,
	})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &serverHarness{store: store, coord: coord, http: ts}
}

func (h *serverHarness) postJSON(t *testing.T, path string, body any, token string) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost, h.http.URL+path, bytes.NewReader(raw))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, out any) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
}

func seedActivePool(t *testing.T, store *storage.Store) *amm.Pool {
	t.Helper()
	pool := &amm.Pool{
		ID:            "pool-1",
		Address:       "addr_test1pool",
		AssetA:        common.Lovelace(),
		AssetB:        common.Asset{PolicyID: "aa01", Name: "TOKEN"},
		NFTAsset:      common.Asset{PolicyID: "ff99", Name: "NFT1"},
		ReserveA:      big.NewInt(1_000_000_000),
		ReserveB:      big.NewInt(2_000_000_000),
		TotalLPTokens: big.NewInt(1_414_213_562),
		FeeNumerator:  30,
		Status:        amm.PoolStatusActive,
		UTxO:          common.UTxORef{TxHash: "pool-tx", OutputIndex: 0},
	}
	require.NoError(t, store.SavePool(context.Background(), pool))
	return pool
}

func seedActiveIntent(t *testing.T, store *storage.Store) *intent.Intent {
	t.Helper()
	it, err := intent.New(intent.Params{
		ID:          uuid.NewString(),
		Creator:     "addr_test1creator",
		InputAsset:  common.Lovelace(),
		InputAmount: big.NewInt(10_000_000),
		OutputAsset: common.Asset{PolicyID: "aa01", Name: "TOKEN"},
		MinOutput:   big.NewInt(1),
		Deadline:    testNow().Add(time.Hour),
	}, testNow())
	require.NoError(t, err)
	pending, err := it.MarkPending(common.UTxORef{TxHash: "escrow-" + it.ID})
	require.NoError(t, err)
	active, err := pending.MarkActive()
	require.NoError(t, err)
	require.NoError(t, store.SaveIntent(context.Background(), active))
	return active
}

func TestCreateAndGetIntent(t *testing.T) {
	h := newHarness(t, common.Quota{}, RateLimit{})

	resp := h.postJSON(t, "/v1/intents", map[string]any{
		"creator":     "addr_test1creator",
		"inputAsset":  "lovelace",
		"inputAmount": "5000000",
		"outputAsset": "aa01.TOKEN",
		"minOutput":   "9000000",
		"deadline":    testNow().Add(time.Hour),
	}, "")
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created intentView
	decodeBody(t, resp, &created)
	require.NotEmpty(t, created.ID)
	require.Equal(t, string(intent.StatusCreated), created.Status)
	require.Equal(t, "5000000", created.InputAmount)

	got, err := http.Get(h.http.URL + "/v1/intents/" + created.ID)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, got.StatusCode)
	var fetched intentView
	decodeBody(t, got, &fetched)
	require.Equal(t, created.ID, fetched.ID)
	require.Equal(t, "aa01.TOKEN", fetched.OutputAsset)
}

func TestCreateIntentRejectsBadAmount(t *testing.T) {
	h := newHarness(t, common.Quota{}, RateLimit{})
	resp := h.postJSON(t, "/v1/intents", map[string]any{
		"creator":     "addr_test1creator",
		"inputAsset":  "lovelace",
		"inputAmount": "not-a-number",
		"outputAsset": "aa01.TOKEN",
		"minOutput":   "1",
		"deadline":    testNow().Add(time.Hour),
	}, "")
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestIntentQuotaEnforced(t *testing.T) {
	h := newHarness(t, common.Quota{MaxOpenIntents: 1}, RateLimit{})
	payload := map[string]any{
		"creator":     "addr_test1creator",
		"inputAsset":  "lovelace",
		"inputAmount": "5000000",
		"outputAsset": "aa01.TOKEN",
		"minOutput":   "1",
		"deadline":    testNow().Add(time.Hour),
	}
	first := h.postJSON(t, "/v1/intents", payload, "")
	first.Body.Close()
	require.Equal(t, http.StatusCreated, first.StatusCode)

	second := h.postJSON(t, "/v1/intents", payload, "")
	second.Body.Close()
	require.Equal(t, http.StatusTooManyRequests, second.StatusCode)
}

func TestGetMissingIntentIs404(t *testing.T) {
	h := newHarness(t, common.Quota{}, RateLimit{})
	resp, err := http.Get(h.http.URL + "/v1/intents/" + uuid.NewString())
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCreationRateLimited(t *testing.T) {
	h := newHarness(t, common.Quota{}, RateLimit{RequestsPerMinute: 60, Burst: 1})
	payload := map[string]any{
		"creator":     "addr_test1creator",
		"inputAsset":  "lovelace",
		"inputAmount": "5000000",
		"outputAsset": "aa01.TOKEN",
		"minOutput":   "1",
		"deadline":    testNow().Add(time.Hour),
	}
	first := h.postJSON(t, "/v1/intents", payload, "")
	first.Body.Close()
	require.Equal(t, http.StatusCreated, first.StatusCode)

	second := h.postJSON(t, "/v1/intents", payload, "")
	second.Body.Close()
	require.Equal(t, http.StatusTooManyRequests, second.StatusCode)
}

func TestQuoteAgainstActivePool(t *testing.T) {
	h := newHarness(t, common.Quota{}, RateLimit{})
	seedActivePool(t, h.store)

	resp, err := http.Get(h.http.URL + "/v1/quote?from=lovelace&to=aa01.TOKEN&amount=1000000")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var quote struct {
		Output    string `json:"output"`
		MinOutput string `json:"minOutput"`
		PoolIDs   []string `json:"poolIds"`
	}
	decodeBody(t, resp, &quote)
	require.NotEmpty(t, quote.Output)
	require.Equal(t, []string{"pool-1"}, quote.PoolIDs)

	output, ok := new(big.Int).SetString(quote.Output, 10)
	require.True(t, ok)
	minOut, ok := new(big.Int).SetString(quote.MinOutput, 10)
	require.True(t, ok)
	require.True(t, minOut.Cmp(output) < 0, "slippage must reduce the minimum output")
}

func TestQuoteRejectsExcessiveSlippage(t *testing.T) {
	h := newHarness(t, common.Quota{}, RateLimit{})
	seedActivePool(t, h.store)

	resp, err := http.Get(h.http.URL + "/v1/quote?from=lovelace&to=aa01.TOKEN&amount=1000000&slippageBps=10001")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestQuoteWithoutPoolsIs422(t *testing.T) {
	h := newHarness(t, common.Quota{}, RateLimit{})
	resp, err := http.Get(h.http.URL + "/v1/quote?from=lovelace&to=aa01.TOKEN&amount=1000000")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestSolverEndpointsRequireToken(t *testing.T) {
	h := newHarness(t, common.Quota{}, RateLimit{})
	resp := h.postJSON(t, "/v1/solver/settle", map[string]any{}, "")
	resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	forged, err := IssueSolverToken([]byte("wrong-secret"), "addr_test1solver", time.Hour)
	require.NoError(t, err)
	resp = h.postJSON(t, "/v1/solver/settle", map[string]any{}, forged)
	resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestSettleAndConfirmThroughAPI(t *testing.T) {
	h := newHarness(t, common.Quota{}, RateLimit{})
	pool := seedActivePool(t, h.store)
	it := seedActiveIntent(t, h.store)

	token, err := IssueSolverToken(testSecret, "addr_test1solver", time.Hour)
	require.NoError(t, err)

	resp := h.postJSON(t, "/v1/solver/settle", map[string]any{
		"intentIds": []string{it.ID},
		"poolUtxo":  map[string]any{"txHash": pool.UTxO.TxHash, "outputIndex": pool.UTxO.OutputIndex},
	}, token)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var batch batchView
	decodeBody(t, resp, &batch)
	require.NotEmpty(t, batch.ID)
	require.Len(t, batch.Legs, 1)
	require.Equal(t, "settle-tx", batch.Tx.TxHash)

	stored, err := h.store.IntentByID(context.Background(), it.ID)
	require.NoError(t, err)
	require.Equal(t, intent.StatusActive, stored.Status, "building must not mutate stored state")

	resp = h.postJSON(t, "/v1/solver/confirm", map[string]any{
		"kind":   "settlement",
		"id":     batch.ID,
		"txHash": "settle-tx",
	}, token)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	stored, err = h.store.IntentByID(context.Background(), it.ID)
	require.NoError(t, err)
	require.Equal(t, intent.StatusFilled, stored.Status)
	require.Equal(t, "addr_test1solver", stored.SolverAddress)
}

func TestCancelCreatedIntentIsImmediate(t *testing.T) {
	h := newHarness(t, common.Quota{}, RateLimit{})

	create := h.postJSON(t, "/v1/intents", map[string]any{
		"creator":     "addr_test1creator",
		"inputAsset":  "lovelace",
		"inputAmount": "5000000",
		"outputAsset": "aa01.TOKEN",
		"minOutput":   "1",
		"deadline":    testNow().Add(time.Hour),
	}, "")
	var created intentView
	decodeBody(t, create, &created)

	resp := h.postJSON(t, "/v1/intents/"+created.ID+"/cancel", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var result struct {
		Status string       `json:"status"`
		Tx     *builtTxView `json:"tx"`
	}
	decodeBody(t, resp, &result)
	require.Equal(t, string(intent.StatusCancelled), result.Status)
	require.Nil(t, result.Tx, "no transaction needed before escrow exists")
}

func TestCancelActiveIntentIsTwoPhase(t *testing.T) {
	h := newHarness(t, common.Quota{}, RateLimit{})
	it := seedActiveIntent(t, h.store)

	resp := h.postJSON(t, "/v1/intents/"+it.ID+"/cancel", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var result struct {
		Status string       `json:"status"`
		Tx     *builtTxView `json:"tx"`
	}
	decodeBody(t, resp, &result)
	require.Equal(t, string(intent.StatusCancelling), result.Status)
	require.NotNil(t, result.Tx)
	require.Equal(t, "cancel-tx", result.Tx.TxHash)

	token, err := IssueSolverToken(testSecret, "addr_test1solver", time.Hour)
	require.NoError(t, err)
	confirm := h.postJSON(t, "/v1/solver/confirm", map[string]any{
		"kind": "intent_cancel",
		"id":   it.ID,
	}, token)
	confirm.Body.Close()
	require.Equal(t, http.StatusOK, confirm.StatusCode)

	stored, err := h.store.IntentByID(context.Background(), it.ID)
	require.NoError(t, err)
	require.Equal(t, intent.StatusCancelled, stored.Status)
}

func TestCreateOrderValidatesType(t *testing.T) {
	h := newHarness(t, common.Quota{}, RateLimit{})

	resp := h.postJSON(t, "/v1/orders", map[string]any{
		"creator":          "addr_test1creator",
		"type":             "LIMIT",
		"inputAsset":       "lovelace",
		"outputAsset":      "aa01.TOKEN",
		"inputAmount":      "10000000",
		"priceNumerator":   "2",
		"priceDenominator": "1",
		"deadline":         testNow().Add(time.Hour),
	}, "")
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created orderView
	decodeBody(t, resp, &created)
	require.Equal(t, string(order.TypeLimit), created.Type)
	require.Equal(t, "2", created.PriceNumerator)

	bad := h.postJSON(t, "/v1/orders", map[string]any{
		"creator":     "addr_test1creator",
		"type":        "DCA",
		"inputAsset":  "lovelace",
		"outputAsset": "aa01.TOKEN",
		"totalBudget": "1000",
		"deadline":    testNow().Add(time.Hour),
	}, "")
	bad.Body.Close()
	require.Equal(t, http.StatusBadRequest, bad.StatusCode)
}

func TestLiquidityQuote(t *testing.T) {
	h := newHarness(t, common.Quota{}, RateLimit{})
	seedActivePool(t, h.store)

	resp, err := http.Get(h.http.URL + "/v1/pools/pool-1/liquidity-quote?amountA=1000000&amountB=2000000")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var deposit map[string]string
	decodeBody(t, resp, &deposit)
	require.Equal(t, "1414213", deposit["lpTokens"], "min ratio of a balanced deposit")

	resp, err = http.Get(h.http.URL + "/v1/pools/pool-1/liquidity-quote?lpTokens=1414213")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var withdraw map[string]string
	decodeBody(t, resp, &withdraw)
	require.Equal(t, "999999", withdraw["amountA"])
	require.Equal(t, "1999999", withdraw["amountB"])
}

func TestHealthz(t *testing.T) {
	h := newHarness(t, common.Quota{}, RateLimit{})
	resp, err := http.Get(h.http.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}
