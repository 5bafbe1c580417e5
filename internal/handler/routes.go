package handler

import (
	"net/http"

	"github.com/gorilla/mux"
)

// RegisterRoutes mounts the API on r. detectMW wraps only the detection
// route, which is the expensive one.
func RegisterRoutes(r *mux.Router, companies *CompanyHandler, loops *LoopHandler, system *SystemHandler, detectMW ...mux.MiddlewareFunc) {
	r.HandleFunc("/health", system.Health).Methods(http.MethodGet)
	r.HandleFunc("/ready", system.Ready).Methods(http.MethodGet)

	api := r.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/companies", companies.CreateCompany).Methods(http.MethodPost)
	api.HandleFunc("/companies", companies.ListCompanies).Methods(http.MethodGet)
	api.HandleFunc("/companies/{id}", companies.GetCompany).Methods(http.MethodGet)
	api.HandleFunc("/companies/{id}/positions", companies.CreatePosition).Methods(http.MethodPost)
	api.HandleFunc("/companies/{id}/positions", companies.ListPositions).Methods(http.MethodGet)
	api.HandleFunc("/companies/{id}/net-position", companies.NetPosition).Methods(http.MethodGet)
	api.HandleFunc("/companies/{id}/loops/active", loops.ActiveLoops).Methods(http.MethodGet)

	var detect http.Handler = http.HandlerFunc(loops.Detect)
	for i := len(detectMW) - 1; i >= 0; i-- {
		detect = detectMW[i](detect)
	}
	api.Handle("/loops/detect", detect).Methods(http.MethodPost)
	api.HandleFunc("/loops", loops.Propose).Methods(http.MethodPost)
	api.HandleFunc("/loops", loops.ListLoops).Methods(http.MethodGet)
	api.HandleFunc("/loops/{id}", loops.GetLoop).Methods(http.MethodGet)
	api.HandleFunc("/loops/{id}/respond", loops.Respond).Methods(http.MethodPost)

	api.HandleFunc("/fees/quote", loops.QuoteFee).Methods(http.MethodPost)
}
