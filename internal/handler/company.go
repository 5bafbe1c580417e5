package handler

import (
	"net/http"

	"debtloop/internal/domain"
	"debtloop/internal/registry"
	"debtloop/pkg/logger"
	"debtloop/pkg/validator"

	"github.com/gorilla/mux"
)

// CompanyHandler manages company and position endpoints.
type CompanyHandler struct {
	service   *registry.Service
	validator *validator.Validator
	logger    logger.Logger
}

func NewCompanyHandler(service *registry.Service, val *validator.Validator, log logger.Logger) *CompanyHandler {
	return &CompanyHandler{
		service:   service,
		validator: val,
		logger:    log,
	}
}

func (h *CompanyHandler) CreateCompany(w http.ResponseWriter, r *http.Request) {
	var req registry.CreateCompanyRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if errs := h.validator.ValidateStructured(&req); errs != nil {
		respondValidation(w, errs)
		return
	}

	company, err := h.service.CreateCompany(r.Context(), &req)
	if err != nil {
		h.logFailure("Failed to create company", err, nil)
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, company)
}

func (h *CompanyHandler) ListCompanies(w http.ResponseWriter, r *http.Request) {
	companies, err := h.service.ListCompanies(r.Context())
	if err != nil {
		h.logFailure("Failed to list companies", err, nil)
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"companies": companies,
		"count":     len(companies),
	})
}

func (h *CompanyHandler) GetCompany(w http.ResponseWriter, r *http.Request) {
	company, err := h.service.GetCompany(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, company)
}

func (h *CompanyHandler) CreatePosition(w http.ResponseWriter, r *http.Request) {
	ownerID := mux.Vars(r)["id"]

	var req registry.CreatePositionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if errs := h.validator.ValidateStructured(&req); errs != nil {
		respondValidation(w, errs)
		return
	}

	position, err := h.service.CreatePosition(r.Context(), ownerID, &req)
	if err != nil {
		h.logFailure("Failed to create position", err, map[string]interface{}{"owner": ownerID})
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, position)
}

func (h *CompanyHandler) ListPositions(w http.ResponseWriter, r *http.Request) {
	positions, err := h.service.ListPositions(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"positions": positions,
		"count":     len(positions),
	})
}

func (h *CompanyHandler) NetPosition(w http.ResponseWriter, r *http.Request) {
	currency := domain.Currency(r.URL.Query().Get("currency"))
	net, err := h.service.NetPosition(r.Context(), mux.Vars(r)["id"], currency)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, net)
}

func (h *CompanyHandler) logFailure(msg string, err error, fields map[string]interface{}) {
	if statusFor(err) != http.StatusInternalServerError {
		return
	}
	if fields == nil {
		fields = map[string]interface{}{}
	}
	fields["error"] = err.Error()
	h.logger.Error(msg, fields)
}
