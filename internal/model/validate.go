package model

import (
	"math"
	"strings"
)

// ValidationError holds a list of field-level validation errors.
type ValidationError struct {
	Errors []FieldError
}

// FieldError represents a single validation failure on a named field.
type FieldError struct {
	Field   string
	Message string
}

// Error formats the validation error as a semicolon-separated list of field messages.
func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Errors))
	for i, fe := range e.Errors {
		parts[i] = fe.Field + ": " + fe.Message
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) add(field, msg string) {
	e.Errors = append(e.Errors, FieldError{Field: field, Message: msg})
}

func (e *ValidationError) err() error {
	if len(e.Errors) == 0 {
		return nil
	}
	return e
}

// ValidateLocation checks a session location report.
func ValidateLocation(l *Location) error {
	var ve ValidationError
	if strings.TrimSpace(l.UserID) == "" {
		ve.add("userId", "is required")
	}
	checkCoordinates(&ve, "lat", "lng", l.Lat, l.Lng)
	return ve.err()
}

// ValidateEmployeeLocation checks an employee position report.
func ValidateEmployeeLocation(l *EmployeeLocation) error {
	var ve ValidationError
	if strings.TrimSpace(l.EmployeeID) == "" {
		ve.add("employeeId", "is required")
	}
	checkCoordinates(&ve, "latitude", "longitude", l.Latitude, l.Longitude)
	return ve.err()
}

// ValidateCoordinates checks a bare latitude/longitude pair.
func ValidateCoordinates(lat, lng float64) error {
	var ve ValidationError
	checkCoordinates(&ve, "lat", "lng", lat, lng)
	return ve.err()
}

func checkCoordinates(ve *ValidationError, latField, lngField string, lat, lng float64) {
	if math.IsNaN(lat) || lat < -90 || lat > 90 {
		ve.add(latField, "must be between -90 and 90")
	}
	if math.IsNaN(lng) || lng < -180 || lng > 180 {
		ve.add(lngField, "must be between -180 and 180")
	}
}
