package server

import (
	"encoding/json"
	"math/big"
	"net/http"

	"tidepool/native/common"
	"tidepool/services/solverd/settlement"
)

type settleRequest struct {
	IntentIDs []string          `json:"intentIds"`
	Fills     map[string]string `json:"fills,omitempty"`
	PoolUTxO  utxoRefPayload    `json:"poolUtxo"`
}

// Settle builds a settlement batch for the authenticated solver. Nothing is
// persisted until the batch is confirmed.
func (s *Server) Settle(w http.ResponseWriter, r *http.Request) {
	solver, err := SolverFromContext(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}
	var req settleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, common.NewInvalidParameters("invalid payload"))
		return
	}
	var fills map[string]*big.Int
	if len(req.Fills) > 0 {
		fills = make(map[string]*big.Int, len(req.Fills))
		for id, raw := range req.Fills {
			amount, err := parseAmount("fills."+id, raw)
			if err != nil {
				s.writeError(w, err)
				return
			}
			fills[id] = amount
		}
	}
	batch, err := s.coord.SettleIntents(r.Context(), settlement.SettleParams{
		IntentIDs:     req.IntentIDs,
		Fills:         fills,
		PoolUTxO:      req.PoolUTxO.ref(),
		SolverAddress: solver,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, viewBatch(batch))
}

type executeOrderRequest struct {
	OrderID  string         `json:"orderId"`
	PoolUTxO utxoRefPayload `json:"poolUtxo"`
}

// ExecuteOrder builds an execution transaction for a triggered order.
func (s *Server) ExecuteOrder(w http.ResponseWriter, r *http.Request) {
	solver, err := SolverFromContext(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}
	var req executeOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, common.NewInvalidParameters("invalid payload"))
		return
	}
	exec, err := s.coord.ExecuteOrder(r.Context(), req.OrderID, req.PoolUTxO.ref(), solver)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, viewExecution(exec))
}

type confirmRequest struct {
	Kind   string `json:"kind"`
	ID     string `json:"id"`
	TxHash string `json:"txHash"`
}

// Confirm reports an on-chain confirmation back to the coordinator. Kind
// selects the flow: settlement, order, intent_cancel, order_cancel, reclaim,
// abandon_batch or abandon_execution.
func (s *Server) Confirm(w http.ResponseWriter, r *http.Request) {
	if _, err := SolverFromContext(r.Context()); err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}
	var req confirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, common.NewInvalidParameters("invalid payload"))
		return
	}

	var err error
	switch req.Kind {
	case "settlement":
		err = s.coord.ConfirmSettlement(r.Context(), req.ID, req.TxHash)
	case "order":
		err = s.coord.ConfirmOrderExecution(r.Context(), req.ID, req.TxHash)
	case "intent_cancel":
		err = s.coord.ConfirmIntentCancel(r.Context(), req.ID)
	case "order_cancel":
		err = s.coord.ConfirmOrderCancel(r.Context(), req.ID)
	case "reclaim":
		err = s.coord.ConfirmReclaim(r.Context(), req.ID, req.TxHash)
	case "abandon_batch":
		err = s.coord.AbandonBatch(req.ID)
	case "abandon_execution":
		err = s.coord.AbandonExecution(req.ID)
	default:
		err = common.NewInvalidParameters("unknown confirmation kind %q", req.Kind)
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "confirmed"})
}
