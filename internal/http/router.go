package http

import (
	"net/http"

	"github.com/gorilla/mux"
)

func NewRouter(h *Handler) http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/health", h.Health).Methods(http.MethodGet)
	r.HandleFunc("/ask", h.Ask).Methods(http.MethodPost)
	r.HandleFunc("/documents", h.LoadDocument).Methods(http.MethodPost)
	r.HandleFunc("/documents", h.ListDocuments).Methods(http.MethodGet)
	r.HandleFunc("/model", h.Model).Methods(http.MethodGet)
	r.HandleFunc("/model", h.SwitchModel).Methods(http.MethodPut)
	r.HandleFunc("/history", h.History).Methods(http.MethodGet)

	return r
}

// CORSMiddleware libera o front local (localhost:3000).
func CORSMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")

		if origin == "http://localhost:3000" || origin == "http://127.0.0.1:3000" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Vary", "Origin")
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
