package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"tidepool/native/common"
	"tidepool/native/intent"
)

type createIntentRequest struct {
	Creator      string    `json:"creator"`
	InputAsset   string    `json:"inputAsset"`
	InputAmount  string    `json:"inputAmount"`
	OutputAsset  string    `json:"outputAsset"`
	MinOutput    string    `json:"minOutput"`
	PartialFill  bool      `json:"partialFill"`
	MaxFillCount int       `json:"maxFillCount"`
	Deadline     time.Time `json:"deadline"`
}

// CreateIntent validates the request, checks the creator quota and persists a
// new intent in CREATED.
func (s *Server) CreateIntent(w http.ResponseWriter, r *http.Request) {
	var req createIntentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, common.NewInvalidParameters("invalid payload"))
		return
	}
	inputAsset, err := common.ParseAsset(req.InputAsset)
	if err != nil {
		s.writeError(w, err)
		return
	}
	outputAsset, err := common.ParseAsset(req.OutputAsset)
	if err != nil {
		s.writeError(w, err)
		return
	}
	inputAmount, err := parseAmount("inputAmount", req.InputAmount)
	if err != nil {
		s.writeError(w, err)
		return
	}
	minOutput, err := parseAmount("minOutput", req.MinOutput)
	if err != nil {
		s.writeError(w, err)
		return
	}

	if err := s.checkQuota(r, req.Creator, 1, 0); err != nil {
		s.writeError(w, err)
		return
	}

	it, err := intent.New(intent.Params{
		ID:           uuid.NewString(),
		Creator:      req.Creator,
		InputAsset:   inputAsset,
		InputAmount:  inputAmount,
		OutputAsset:  outputAsset,
		MinOutput:    minOutput,
		PartialFill:  req.PartialFill,
		MaxFillCount: req.MaxFillCount,
		Deadline:     req.Deadline,
	}, s.now())
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.store.SaveIntent(r.Context(), it); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, viewIntent(it))
}

// GetIntent returns the stored intent.
func (s *Server) GetIntent(w http.ResponseWriter, r *http.Request) {
	it, err := s.store.IntentByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, viewIntent(it))
}

// CancelIntent starts cancellation. Intents still in CREATED cancel
// immediately; escrowed intents get a cancel transaction and move to
// CANCELLING until the solver confirms it.
func (s *Server) CancelIntent(w http.ResponseWriter, r *http.Request) {
	intentID := chi.URLParam(r, "id")
	tx, err := s.coord.RequestIntentCancel(r.Context(), intentID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	it, err := s.store.IntentByID(r.Context(), intentID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status": string(it.Status),
		"tx":     txView(tx),
	})
}

// checkQuota enforces the per-creator open-entity limits.
func (s *Server) checkQuota(r *http.Request, creator string, addIntents, addOrders uint32) error {
	if creator == "" {
		return common.NewInvalidParameters("creator is required")
	}
	if s.quota.MaxOpenIntents == 0 && s.quota.MaxOpenOrders == 0 {
		return nil
	}
	openIntents, err := s.store.CountOpenIntents(r.Context(), creator)
	if err != nil {
		return err
	}
	openOrders, err := s.store.CountOpenOrders(r.Context(), creator)
	if err != nil {
		return err
	}
	now := common.QuotaNow{OpenIntents: uint32(openIntents), OpenOrders: uint32(openOrders)}
	if _, err := common.CheckQuota(s.quota, now, addIntents, addOrders); err != nil {
		s.metrics.RecordThrottle(r.Method+" "+r.URL.Path, "quota")
		return err
	}
	return nil
}
