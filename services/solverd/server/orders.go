package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"tidepool/native/common"
	"tidepool/native/order"
)

type createOrderRequest struct {
	Creator     string `json:"creator"`
	Type        string `json:"type"`
	InputAsset  string `json:"inputAsset"`
	OutputAsset string `json:"outputAsset"`

	InputAmount      string `json:"inputAmount,omitempty"`
	PriceNumerator   string `json:"priceNumerator,omitempty"`
	PriceDenominator string `json:"priceDenominator,omitempty"`

	TotalBudget       string `json:"totalBudget,omitempty"`
	AmountPerInterval string `json:"amountPerInterval,omitempty"`
	IntervalSlots     int    `json:"intervalSlots,omitempty"`
	IntervalSeconds   int64  `json:"intervalSeconds,omitempty"`

	Deadline time.Time `json:"deadline"`
}

// CreateOrder validates the type-specific parameters, checks the creator
// quota and persists a new order in CREATED.
func (s *Server) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
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
	inputAmount, err := parseOptionalAmount("inputAmount", req.InputAmount)
	if err != nil {
		s.writeError(w, err)
		return
	}
	priceNum, err := parseOptionalAmount("priceNumerator", req.PriceNumerator)
	if err != nil {
		s.writeError(w, err)
		return
	}
	priceDen, err := parseOptionalAmount("priceDenominator", req.PriceDenominator)
	if err != nil {
		s.writeError(w, err)
		return
	}
	totalBudget, err := parseOptionalAmount("totalBudget", req.TotalBudget)
	if err != nil {
		s.writeError(w, err)
		return
	}
	perInterval, err := parseOptionalAmount("amountPerInterval", req.AmountPerInterval)
	if err != nil {
		s.writeError(w, err)
		return
	}

	if err := s.checkQuota(r, req.Creator, 0, 1); err != nil {
		s.writeError(w, err)
		return
	}

	o, err := order.New(order.Params{
		ID:                uuid.NewString(),
		Creator:           req.Creator,
		Type:              order.Type(req.Type),
		InputAsset:        inputAsset,
		OutputAsset:       outputAsset,
		InputAmount:       inputAmount,
		PriceNumerator:    priceNum,
		PriceDenominator:  priceDen,
		TotalBudget:       totalBudget,
		AmountPerInterval: perInterval,
		IntervalSlots:     req.IntervalSlots,
		IntervalDuration:  time.Duration(req.IntervalSeconds) * time.Second,
		Deadline:          req.Deadline,
	}, s.now())
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.store.SaveOrder(r.Context(), o); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, viewOrder(o))
}

// GetOrder returns the stored order.
func (s *Server) GetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := s.store.OrderByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, viewOrder(o))
}

// CancelOrder starts cancellation, mirroring the intent flow.
func (s *Server) CancelOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")
	tx, err := s.coord.RequestOrderCancel(r.Context(), orderID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	o, err := s.store.OrderByID(r.Context(), orderID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status": string(o.Status),
		"tx":     txView(tx),
	})
}
