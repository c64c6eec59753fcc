package api

import (
	_ "embed"
	"net/http"
)

//go:embed static/mobile.html
var mobilePage []byte

// Index serves the embedded operator page. The page is a thin client: it
// polls /api/requests and calls the approve/reject endpoints.
func (h *Handler) Index(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	_, _ = w.Write(mobilePage)
}

// Manifest serves the PWA manifest so the page installs to a phone home
// screen.
func (h *Handler) Manifest(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":             "License Approval Panel",
		"short_name":       "Licenses",
		"description":      "Approve or reject device activation requests",
		"start_url":        "/",
		"display":          "standalone",
		"theme_color":      "#C1272D",
		"background_color": "#ffffff",
		"icons": []map[string]any{
			{
				"src":   "data:image/svg+xml,%3Csvg xmlns='http://www.w3.org/2000/svg' viewBox='0 0 100 100'%3E%3Ccircle cx='50' cy='50' r='40' fill='%23C1272D'/%3E%3Ctext x='50' y='62' text-anchor='middle' fill='white' font-size='36'%3EL%3C/text%3E%3C/svg%3E",
				"sizes": "192x192",
				"type":  "image/svg+xml",
			},
		},
	})
}
