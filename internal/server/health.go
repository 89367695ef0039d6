package server

import (
	"net/http"

	"github.com/goccy/go-json"
)

type healthResponse struct {
	Status      string `json:"status"`
	Users       int    `json:"users"`
	Connections int    `json:"connections"`
}

func (a *App) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:      "ok",
		Users:       a.registry.Users(),
		Connections: a.registry.Connections(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
