package tracking

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"
)

// Position is one sample from a device's position stream.
type Position struct {
	Latitude  float64
	Longitude float64
	Speed     *float64 // m/s, nil when the device does not report it
	Timestamp time.Time
}

// Valid reports whether the coordinates are finite and in range.
func (p Position) Valid() bool {
	if math.IsNaN(p.Latitude) || math.IsNaN(p.Longitude) {
		return false
	}
	return p.Latitude >= -90 && p.Latitude <= 90 && p.Longitude >= -180 && p.Longitude <= 180
}

// Sample is the wire form of a Position, as sent by devices over HTTP or MQTT.
type Sample struct {
	Latitude  float64  `json:"latitude"`
	Longitude float64  `json:"longitude"`
	Speed     *float64 `json:"speed,omitempty"`
	Timestamp int64    `json:"timestamp,omitempty"` // unix milliseconds
}

// Position converts the wire sample.
func (s Sample) Position() Position {
	p := Position{Latitude: s.Latitude, Longitude: s.Longitude, Speed: s.Speed}
	if s.Timestamp > 0 {
		p.Timestamp = time.UnixMilli(s.Timestamp)
	}
	return p
}

// FaultReport is the wire form of a device-side geolocation error.
type FaultReport struct {
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}

// ErrorCode classifies a geolocation failure.
type ErrorCode string

const (
	CodePermissionDenied    ErrorCode = "permission_denied"
	CodePositionUnavailable ErrorCode = "position_unavailable"
	CodeTimeout             ErrorCode = "timeout"
	CodeUnknown             ErrorCode = "unknown"
)

// ParseErrorCode maps a reported code onto the known set; anything else is
// CodeUnknown.
func ParseErrorCode(s string) ErrorCode {
	switch c := ErrorCode(strings.ToLower(strings.TrimSpace(s))); c {
	case CodePermissionDenied, CodePositionUnavailable, CodeTimeout:
		return c
	default:
		return CodeUnknown
	}
}

// PositionError is a fatal geolocation failure. It ends tracking.
type PositionError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message,omitempty"`
}

func (e *PositionError) Error() string {
	if e.Message == "" {
		return "geolocation: " + string(e.Code)
	}
	return "geolocation: " + string(e.Code) + ": " + e.Message
}

// UserMessage is the text shown to the driver.
func (e *PositionError) UserMessage() string {
	var cause string
	switch e.Code {
	case CodePermissionDenied:
		cause = "permission denied."
	case CodePositionUnavailable:
		cause = "position unavailable."
	case CodeTimeout:
		cause = "the request timed out."
	default:
		cause = "unknown error."
	}
	return "Location error: " + cause + " Please check the location settings on your device."
}

// Report converts the error to its wire form.
func (e *PositionError) Report() FaultReport {
	return FaultReport{Code: string(e.Code), Message: e.Message}
}

// NewPositionError builds a PositionError from a wire report.
func NewPositionError(r FaultReport) *PositionError {
	return &PositionError{Code: ParseErrorCode(r.Code), Message: r.Message}
}

// Classify turns any error into a PositionError.
func Classify(err error) *PositionError {
	var perr *PositionError
	if errors.As(err, &perr) {
		return perr
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &PositionError{Code: CodeTimeout, Message: err.Error()}
	}
	return &PositionError{Code: CodeUnknown, Message: err.Error()}
}

// WatchOptions are the sampling constraints requested from a source.
type WatchOptions struct {
	HighAccuracy bool
	MaximumAge   time.Duration // 0: cached fixes are not acceptable
	Timeout      time.Duration // bound on the wait for each sample
}

// DefaultWatchOptions requests high-accuracy, uncached fixes with a 15s bound.
func DefaultWatchOptions() WatchOptions {
	return WatchOptions{HighAccuracy: true, MaximumAge: 0, Timeout: 15 * time.Second}
}

// Handler receives samples and faults from a Source.
type Handler struct {
	OnPosition func(Position)
	OnError    func(*PositionError)
}

// Subscription is a live position stream. Cancel is idempotent.
type Subscription interface {
	Cancel()
}

// Source delivers a driver's device positions.
type Source interface {
	Watch(ctx context.Context, driverID string, opts WatchOptions, h Handler) (Subscription, error)
}
