package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"github.com/ukydev/busflow/internal/app"
	"github.com/ukydev/busflow/internal/contact"
	"github.com/ukydev/busflow/internal/feed"
	"github.com/ukydev/busflow/internal/views"
)

// ViewHandler serves the read side: projections, map and feeds
type ViewHandler struct {
	app *app.App
	now func() time.Time
	log logrus.FieldLogger
}

// NewViewHandler creates a new view handler
func NewViewHandler(a *app.App, log logrus.FieldLogger) *ViewHandler {
	return &ViewHandler{app: a, now: time.Now, log: log}
}

// View returns the session's projection
func (h *ViewHandler) View(w http.ResponseWriter, r *http.Request) {
	v, err := h.app.View()
	if err != nil {
		viewError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// Map returns the markers visible to the session
func (h *ViewHandler) Map(w http.ResponseWriter, r *http.Request) {
	markers, err := h.app.Markers()
	if err != nil {
		viewError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, markers)
}

// MapGeoJSON returns the same markers as a GeoJSON FeatureCollection
func (h *ViewHandler) MapGeoJSON(w http.ResponseWriter, r *http.Request) {
	markers, err := h.app.Markers()
	if err != nil {
		viewError(w, err)
		return
	}
	b, err := views.MarkersGeoJSON(markers).MarshalJSON()
	if err != nil {
		http.Error(w, "Failed to encode GeoJSON", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/geo+json")
	w.WriteHeader(http.StatusOK)
	w.Write(b)
}

// Select highlights a bus
func (h *ViewHandler) Select(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, ok := h.app.Store.Snapshot().Bus(id); !ok {
		http.Error(w, "Bus not found", http.StatusNotFound)
		return
	}
	h.app.Selection.Select(id)
	w.WriteHeader(http.StatusNoContent)
}

// ClearSelection removes the highlight
func (h *ViewHandler) ClearSelection(w http.ResponseWriter, r *http.Request) {
	h.app.Selection.Clear()
	w.WriteHeader(http.StatusNoContent)
}

// Contact returns the call and chat links of a driver
func (h *ViewHandler) Contact(w http.ResponseWriter, r *http.Request) {
	d, ok := h.app.Store.Snapshot().Driver(mux.Vars(r)["driverID"])
	if !ok {
		http.Error(w, "Driver not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, contact.For(d))
}

// VehiclePositions serves the GTFS-Realtime feed
func (h *ViewHandler) VehiclePositions(w http.ResponseWriter, r *http.Request) {
	b, err := feed.Marshal(h.app.Store.Snapshot(), h.now())
	if err != nil {
		h.log.WithError(err).Error("Failed to encode vehicle positions feed")
		http.Error(w, "Failed to encode feed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", feed.ContentType)
	w.WriteHeader(http.StatusOK)
	w.Write(b)
}

func viewError(w http.ResponseWriter, err error) {
	if errors.Is(err, views.ErrNoSession) {
		http.Error(w, "No active session", http.StatusUnauthorized)
		return
	}
	http.Error(w, err.Error(), http.StatusBadRequest)
}
