package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"parkwatch/internal/entities"
	"parkwatch/internal/service"
)

type AdminHandler struct {
	Service *service.AdminService
}

func NewAdminHandler(svc *service.AdminService) *AdminHandler {
	return &AdminHandler{Service: svc}
}

func (h *AdminHandler) ListMonitors(w http.ResponseWriter, r *http.Request) {
	state := entities.MonitorState(r.URL.Query().Get("state"))
	writeJSON(w, http.StatusOK, h.Service.ListMonitors(state))
}

func (h *AdminHandler) CancelMonitor(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	view, err := h.Service.CancelMonitor(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *AdminHandler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Service.Status())
}
