package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"github.com/ukydev/busflow/internal/app"
	"github.com/ukydev/busflow/internal/auth"
	"github.com/ukydev/busflow/internal/middleware"
	"github.com/ukydev/busflow/internal/models"
	"github.com/ukydev/busflow/internal/tracking"
)

// Deps are the collaborators of the HTTP API.
type Deps struct {
	App    *app.App
	Push   *tracking.PushSource
	Tokens *auth.Service
	// PositionRateLimit caps position uploads per driver and minute; 0 disables it.
	PositionRateLimit int
	Log               logrus.FieldLogger
}

// NewRouter builds the API routes.
func NewRouter(d Deps) *mux.Router {
	if d.Log == nil {
		d.Log = logrus.StandardLogger()
	}
	authMW := middleware.NewAuthMiddleware(d.Tokens, d.App.Sessions)
	rateMW := middleware.NewRateLimitMiddleware()

	sh := NewSessionHandler(d.App.Sessions, d.Tokens, d.Log)
	ah := NewAdminHandler(d.App.Store, d.Log)
	dh := NewDriverHandler(d.App, d.Push, d.Log)
	vh := NewViewHandler(d.App, d.Log)

	r := mux.NewRouter()
	r.HandleFunc("/health", Health).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.Use(authMW.Authenticate)
	api.HandleFunc("/session/login", sh.Login).Methods(http.MethodPost)
	api.HandleFunc("/session/logout", sh.Logout).Methods(http.MethodPost)
	api.HandleFunc("/session", sh.Current).Methods(http.MethodGet)
	api.HandleFunc("/view", vh.View).Methods(http.MethodGet)
	api.HandleFunc("/map", vh.Map).Methods(http.MethodGet)
	api.HandleFunc("/map.geojson", vh.MapGeoJSON).Methods(http.MethodGet)
	api.HandleFunc("/selection/{id}", vh.Select).Methods(http.MethodPut)
	api.HandleFunc("/selection", vh.ClearSelection).Methods(http.MethodDelete)
	api.HandleFunc("/contact/{driverID}", vh.Contact).Methods(http.MethodGet)
	api.HandleFunc("/feed/vehicle-positions", vh.VehiclePositions).Methods(http.MethodGet)
	api.Handle("/stream", NewStreamHandler(d.App, d.Log)).Methods(http.MethodGet)

	admin := api.PathPrefix("/admin").Subrouter()
	admin.Use(authMW.RequireRole(models.RoleAdmin))
	admin.HandleFunc("/buses", ah.CreateBus).Methods(http.MethodPost)
	admin.HandleFunc("/buses/{id}", ah.UpdateBus).Methods(http.MethodPut)
	admin.HandleFunc("/buses/{id}", ah.DeleteBus).Methods(http.MethodDelete)
	admin.HandleFunc("/drivers", ah.CreateDriver).Methods(http.MethodPost)

	driver := api.PathPrefix("/driver").Subrouter()
	driver.Use(authMW.RequireRole(models.RoleDriver))
	driver.HandleFunc("/shift/start", dh.StartShift).Methods(http.MethodPost)
	driver.HandleFunc("/shift/stop", dh.StopShift).Methods(http.MethodPost)
	driver.HandleFunc("/shift", dh.Shift).Methods(http.MethodGet)
	limit := rateMW.RateLimit(d.PositionRateLimit, time.Minute)
	driver.Handle("/position", limit(http.HandlerFunc(dh.Position))).Methods(http.MethodPost)
	driver.Handle("/position/error", limit(http.HandlerFunc(dh.PositionError))).Methods(http.MethodPost)

	return r
}

// Health reports liveness
func Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
