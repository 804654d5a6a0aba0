package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"parkwatch/internal/auth"
)

// AdminRoutes holds the operator handlers. A nil AdminRoutes leaves the
// /admin tree unregistered.
type AdminRoutes struct {
	Auth      *AdminAuthHandler
	Admin     *AdminHandler
	JWTSecret []byte
}

func NewRouter(user *UserParkingHandler, admin *AdminRoutes, version string) *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, HealthResponse{Status: "ok", Version: version})
	}).Methods("GET")

	// Public endpoints
	r.HandleFunc("/api/parking", user.GetParking).Methods("GET")
	r.HandleFunc("/api/monitors", user.CreateMonitor).Methods("POST")
	r.HandleFunc("/api/monitors/{id}", user.GetMonitor).Methods("GET")

	if admin == nil {
		return r
	}
	r.HandleFunc("/admin/login", admin.Auth.Login).Methods("POST")

	// Admin endpoints (protected)
	protected := r.PathPrefix("/admin").Subrouter()
	protected.Use(auth.AdminAuthMiddleware(admin.JWTSecret))
	protected.HandleFunc("/monitors", admin.Admin.ListMonitors).Methods("GET")
	protected.HandleFunc("/monitors/{id}", admin.Admin.CancelMonitor).Methods("DELETE")
	protected.HandleFunc("/status", admin.Admin.Status).Methods("GET")
	return r
}
