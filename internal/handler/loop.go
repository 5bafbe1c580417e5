package handler

import (
	"net/http"

	"debtloop/internal/domain"
	"debtloop/internal/loop"
	"debtloop/pkg/logger"
	"debtloop/pkg/validator"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

// LoopHandler manages detection, proposal and response endpoints.
type LoopHandler struct {
	service   *loop.Service
	validator *validator.Validator
	logger    logger.Logger
}

func NewLoopHandler(service *loop.Service, val *validator.Validator, log logger.Logger) *LoopHandler {
	return &LoopHandler{
		service:   service,
		validator: val,
		logger:    log,
	}
}

func (h *LoopHandler) Detect(w http.ResponseWriter, r *http.Request) {
	var req loop.DetectRequest
	if r.ContentLength != 0 && !decodeJSON(w, r, &req) {
		return
	}
	if errs := h.validator.ValidateStructured(&req); errs != nil {
		respondValidation(w, errs)
		return
	}

	resp, err := h.service.Detect(r.Context(), req)
	if err != nil {
		h.fail(w, "Loop detection failed", err)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

func (h *LoopHandler) Propose(w http.ResponseWriter, r *http.Request) {
	var req loop.ProposeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if errs := h.validator.ValidateStructured(&req); errs != nil {
		respondValidation(w, errs)
		return
	}

	detail, err := h.service.Propose(r.Context(), &req)
	if err != nil {
		h.fail(w, "Failed to propose loop", err)
		return
	}
	respondJSON(w, http.StatusCreated, detail)
}

type respondRequest struct {
	CompanyID string `json:"company_id" validate:"required"`
	Action    string `json:"action" validate:"required,oneof=accept reject"`
}

func (h *LoopHandler) Respond(w http.ResponseWriter, r *http.Request) {
	loopID, ok := parseLoopID(w, r)
	if !ok {
		return
	}

	var req respondRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if errs := h.validator.ValidateStructured(&req); errs != nil {
		respondValidation(w, errs)
		return
	}

	detail, err := h.service.Respond(r.Context(), loopID, req.CompanyID, req.Action == "accept")
	if err != nil {
		h.fail(w, "Failed to record loop response", err)
		return
	}
	respondJSON(w, http.StatusOK, detail)
}

func (h *LoopHandler) GetLoop(w http.ResponseWriter, r *http.Request) {
	loopID, ok := parseLoopID(w, r)
	if !ok {
		return
	}

	detail, err := h.service.GetLoop(r.Context(), loopID)
	if err != nil {
		h.fail(w, "Failed to fetch loop", err)
		return
	}
	respondJSON(w, http.StatusOK, detail)
}

func (h *LoopHandler) ListLoops(w http.ResponseWriter, r *http.Request) {
	status := domain.LoopStatus(r.URL.Query().Get("status"))
	loops, err := h.service.ListLoops(r.Context(), status)
	if err != nil {
		h.fail(w, "Failed to list loops", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"loops": loops,
		"count": len(loops),
	})
}

func (h *LoopHandler) ActiveLoops(w http.ResponseWriter, r *http.Request) {
	loops, err := h.service.ActiveLoops(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.fail(w, "Failed to list active loops", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"loops": loops,
		"count": len(loops),
	})
}

func (h *LoopHandler) QuoteFee(w http.ResponseWriter, r *http.Request) {
	var req loop.FeeQuoteRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if errs := h.validator.ValidateStructured(&req); errs != nil {
		respondValidation(w, errs)
		return
	}
	respondJSON(w, http.StatusOK, h.service.QuoteFee(&req))
}

func (h *LoopHandler) fail(w http.ResponseWriter, msg string, err error) {
	if statusFor(err) == http.StatusInternalServerError {
		h.logger.Error(msg, map[string]interface{}{"error": err.Error()})
	}
	respondServiceError(w, err)
}

func parseLoopID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid loop ID")
		return uuid.Nil, false
	}
	return id, true
}
