package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

func NewRouter(handler *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(cors)

	r.Get("/api/requests", handler.Requests)
	r.Post("/api/sync", handler.Sync)
	r.Post("/api/approve", handler.Approve)
	r.Post("/api/reject", handler.Reject)
	r.Get("/api/debug", handler.Debug)

	r.Get("/", handler.Index)
	r.Get("/manifest.json", handler.Manifest)

	return r
}

// cors keeps the panel page working when it is served from a different
// origin than the API.
func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
