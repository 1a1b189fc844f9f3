package handler

import (
	"net/http"

	"github.com/shiva/gaadisathi/internal/model"
	"github.com/shiva/gaadisathi/internal/service"
)

// FareRequest is the JSON body for POST /api/v1/fares/estimate.
type FareRequest struct {
	Pickup      model.Location `json:"pickup"`
	Destination model.Location `json:"destination"`
	RideType    model.RideType `json:"ride_type,omitempty"`
}

// PricingHandler handles fare estimation HTTP requests.
type PricingHandler struct {
	pricingSvc *service.PricingService
}

// NewPricingHandler creates a new pricing handler.
func NewPricingHandler(pricingSvc *service.PricingService) *PricingHandler {
	return &PricingHandler{pricingSvc: pricingSvc}
}

// EstimateFare handles POST /api/v1/fares/estimate
//
// Request body:
//
//	{
//	  "pickup":      {"latitude": 19.0760, "longitude": 72.8777},
//	  "destination": {"latitude": 19.1077, "longitude": 72.8317},
//	  "ride_type":   "cab"
//	}
//
// With ride_type the response is one FareEstimate; without it, an estimate
// per ride type, cheapest first.
func (h *PricingHandler) EstimateFare(w http.ResponseWriter, r *http.Request) {
	var req FareRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	if req.RideType == "" {
		estimates, err := h.pricingSvc.EstimateAllFares(req.Pickup, req.Destination)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"estimates": estimates})
		return
	}

	estimate, err := h.pricingSvc.EstimateFare(req.Pickup, req.Destination, req.RideType)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, estimate)
}
