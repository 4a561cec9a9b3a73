package models

// BusForm is the admin "add bus" form.
type BusForm struct {
	PlateNumber string `json:"plate_number" validate:"required"`
	Model       string `json:"model" validate:"required"`
	DriverID    string `json:"driver_id"`
}

// BusEditForm is the admin "edit bus" form.
type BusEditForm struct {
	PlateNumber string    `json:"plate_number" validate:"required"`
	Model       string    `json:"model" validate:"required"`
	Status      BusStatus `json:"status" validate:"required,busstatus"`
	DriverID    string    `json:"driver_id"`
}

// DriverForm is the admin "add driver" form.
type DriverForm struct {
	Name  string `json:"name" validate:"required"`
	Phone string `json:"phone" validate:"required"`
	Email string `json:"email" validate:"required,email"`
}
