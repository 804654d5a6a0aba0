package api

import (
	"encoding/json"
	"net/http"

	perrors "parkwatch/internal/errors"
	"parkwatch/internal/service"
)

type AdminAuthHandler struct {
	service service.AdminAuthService
}

func NewAdminAuthHandler(svc service.AdminAuthService) *AdminAuthHandler {
	return &AdminAuthHandler{service: svc}
}

func (h *AdminAuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, perrors.ErrBadRequest("Invalid request body"))
		return
	}

	token, err := h.service.Login(req.Username, req.Password)
	if err != nil {
		writeError(w, perrors.ErrUnauthorized("Invalid credentials"))
		return
	}

	writeJSON(w, http.StatusOK, LoginResponse{Token: token})
}
