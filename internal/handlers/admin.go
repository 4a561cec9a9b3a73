package handlers

import (
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"github.com/ukydev/busflow/internal/fleet"
	"github.com/ukydev/busflow/internal/models"
)

// AdminHandler exposes the fleet mutations behind the admin forms
type AdminHandler struct {
	store    *fleet.Store
	validate *validator.Validate
	now      func() time.Time
	log      logrus.FieldLogger
}

// NewAdminHandler creates a new admin handler
func NewAdminHandler(store *fleet.Store, log logrus.FieldLogger) *AdminHandler {
	return &AdminHandler{
		store:    store,
		validate: models.NewValidator(),
		now:      time.Now,
		log:      log,
	}
}

// CreateBus registers a parked bus
func (h *AdminHandler) CreateBus(w http.ResponseWriter, r *http.Request) {
	var form models.BusForm
	if !decodeJSON(w, r, &form) || !validateForm(w, h.validate, form) {
		return
	}
	if !h.driverExists(w, form.DriverID) {
		return
	}

	bus := models.NewBus(form, h.now())
	h.store.AddBus(bus)
	h.log.WithFields(logrus.Fields{"bus_id": bus.ID, "plate": bus.PlateNumber, "driver_id": bus.DriverID}).Info("Bus added")

	bus, _ = h.store.Snapshot().Bus(bus.ID)
	writeJSON(w, http.StatusCreated, bus)
}

// UpdateBus applies the edit form to an existing bus
func (h *AdminHandler) UpdateBus(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var form models.BusEditForm
	if !decodeJSON(w, r, &form) || !validateForm(w, h.validate, form) {
		return
	}
	if !h.driverExists(w, form.DriverID) {
		return
	}

	current, ok := h.store.Snapshot().Bus(id)
	if !ok || !h.store.UpdateBus(current.ApplyEdit(form)) {
		http.Error(w, "Bus not found", http.StatusNotFound)
		return
	}
	h.log.WithFields(logrus.Fields{"bus_id": id, "status": form.Status, "driver_id": form.DriverID}).Info("Bus updated")

	bus, _ := h.store.Snapshot().Bus(id)
	writeJSON(w, http.StatusOK, bus)
}

// DeleteBus removes a bus. The caller confirms with ?confirm=true.
func (h *AdminHandler) DeleteBus(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, ok := h.store.Snapshot().Bus(id); !ok {
		http.Error(w, "Bus not found", http.StatusNotFound)
		return
	}

	confirmed := r.URL.Query().Get("confirm") == "true"
	if !h.store.DeleteBus(id, func(models.Bus) bool { return confirmed }) {
		if !confirmed {
			http.Error(w, "Deletion must be confirmed with confirm=true", http.StatusPreconditionRequired)
			return
		}
		http.Error(w, "Bus not found", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CreateDriver registers an active driver without a bus
func (h *AdminHandler) CreateDriver(w http.ResponseWriter, r *http.Request) {
	var form models.DriverForm
	if !decodeJSON(w, r, &form) || !validateForm(w, h.validate, form) {
		return
	}

	driver := models.NewDriver(form)
	h.store.AddDriver(driver)
	h.log.WithFields(logrus.Fields{"driver_id": driver.ID, "email": driver.Email}).Info("Driver added")

	writeJSON(w, http.StatusCreated, driver)
}

// driverExists rejects assignments to drivers the fleet does not know.
func (h *AdminHandler) driverExists(w http.ResponseWriter, driverID string) bool {
	if driverID == "" {
		return true
	}
	if _, ok := h.store.Snapshot().Driver(driverID); !ok {
		http.Error(w, "Unknown driver "+driverID, http.StatusBadRequest)
		return false
	}
	return true
}
