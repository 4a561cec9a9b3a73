package handlers

import (
	"errors"
	"net/http"

	"github.com/sirupsen/logrus"
	"github.com/ukydev/busflow/internal/app"
	"github.com/ukydev/busflow/internal/middleware"
	"github.com/ukydev/busflow/internal/tracking"
)

// DriverHandler drives the shift of the logged-in driver
type DriverHandler struct {
	app  *app.App
	push *tracking.PushSource
	log  logrus.FieldLogger
}

// NewDriverHandler creates a new driver handler
func NewDriverHandler(a *app.App, push *tracking.PushSource, log logrus.FieldLogger) *DriverHandler {
	return &DriverHandler{app: a, push: push, log: log}
}

// StartShift begins tracking the device
func (h *DriverHandler) StartShift(w http.ResponseWriter, r *http.Request) {
	err := h.app.StartShift()
	var perr *tracking.PositionError
	switch {
	case errors.Is(err, tracking.ErrNoAssignedBus):
		http.Error(w, "No bus assigned, request a bus assignment from the manager", http.StatusConflict)
		return
	case errors.Is(err, app.ErrNotDriver):
		http.Error(w, err.Error(), http.StatusForbidden)
		return
	case errors.As(err, &perr):
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": perr.UserMessage(), "code": string(perr.Code)})
		return
	case err != nil:
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	h.Shift(w, r)
}

// StopShift ends tracking
func (h *DriverHandler) StopShift(w http.ResponseWriter, r *http.Request) {
	if err := h.app.StopShift(); err != nil {
		http.Error(w, err.Error(), http.StatusForbidden)
		return
	}
	h.Shift(w, r)
}

// Shift reports tracking state and the last location error
func (h *DriverHandler) Shift(w http.ResponseWriter, r *http.Request) {
	st, err := h.app.Shift()
	if err != nil {
		http.Error(w, err.Error(), http.StatusForbidden)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// Position accepts one sample from the driver's device
func (h *DriverHandler) Position(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.GetUserFromContext(r.Context())
	if !ok {
		http.Error(w, "User context not found", http.StatusUnauthorized)
		return
	}
	var sample tracking.Sample
	if !decodeJSON(w, r, &sample) {
		return
	}
	pos := sample.Position()
	if !pos.Valid() {
		http.Error(w, "Latitude or longitude out of range", http.StatusBadRequest)
		return
	}
	if !h.push.Push(claims.UserID, pos) {
		http.Error(w, "Shift not started", http.StatusConflict)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// PositionError accepts a device-side geolocation failure. It ends the shift.
func (h *DriverHandler) PositionError(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.GetUserFromContext(r.Context())
	if !ok {
		http.Error(w, "User context not found", http.StatusUnauthorized)
		return
	}
	var report tracking.FaultReport
	if !decodeJSON(w, r, &report) {
		return
	}
	perr := tracking.NewPositionError(report)
	if !h.push.Fail(claims.UserID, perr) {
		http.Error(w, "Shift not started", http.StatusConflict)
		return
	}
	h.log.WithFields(logrus.Fields{"driver_id": claims.UserID, "code": perr.Code}).Info("Device reported location error")
	h.Shift(w, r)
}
