package handler

import (
	"net/http"
)

func NewRouter(dbctx *DBContext) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /favicon.ico", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "Not Found", http.StatusNotFound)
	})

	mux.HandleFunc("GET /api/v1/health", HealthCheck)
	mux.HandleFunc("GET /api/v1/runs", dbctx.RunsHandler)
	mux.HandleFunc("GET /api/v1/evidence", dbctx.EvidenceHandler)
	mux.HandleFunc("GET /api/v1/validation", dbctx.ValidationHandler)
	mux.HandleFunc("GET /api/v1/homology", dbctx.HomologyHandler)

	return mux
}
