package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"parkwatch/internal/entities"
	perrors "parkwatch/internal/errors"
	"parkwatch/internal/service"
)

// AvailabilityService answers one-shot parking queries.
type AvailabilityService interface {
	Availability(ctx context.Context, query string) (*entities.AvailabilityResponse, error)
}

// MonitorStarter starts and looks up monitors.
type MonitorStarter interface {
	Start(ctx context.Context, req entities.MonitorRequest) (*service.Monitor, error)
	Get(id string) (entities.MonitorView, error)
}

type UserParkingHandler struct {
	Parking  AvailabilityService
	Monitors MonitorStarter
}

func NewUserParkingHandler(parking AvailabilityService, monitors MonitorStarter) *UserParkingHandler {
	return &UserParkingHandler{Parking: parking, Monitors: monitors}
}

// GetParking handles GET /api/parking?q=.
func (h *UserParkingHandler) GetParking(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	resp, err := h.Parking.Availability(r.Context(), query)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// CreateMonitor handles POST /api/monitors. The baseline is taken before
// responding; polling continues after the response is sent.
func (h *UserParkingHandler) CreateMonitor(w http.ResponseWriter, r *http.Request) {
	var req CreateMonitorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, perrors.New(perrors.InvalidRequest, "Invalid request body"))
		return
	}
	m, err := h.Monitors.Start(r.Context(), entities.MonitorRequest{
		Query:       req.Query,
		Recipient:   req.Recipient,
		MaxDuration: time.Duration(req.DurationSeconds) * time.Second,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, m.View())
}

// GetMonitor handles GET /api/monitors/{id}.
func (h *UserParkingHandler) GetMonitor(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	view, err := h.Monitors.Get(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}
