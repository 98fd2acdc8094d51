// Package booking handles consultation requests: validation, persistence in
// Postgres and a best-effort notification to the booking edge function.
package booking

import (
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"
)

// DateOptions is how many days the booking form offers.
const DateOptions = 14

var ErrInvalidRequest = errors.New("invalid booking request")

// Request is one consultation booking.
type Request struct {
	Name          string     `json:"name"`
	Phone         string     `json:"phone"`
	Email         string     `json:"email"`
	PreferredDate *time.Time `json:"preferred_date"`
	IsFlexible    bool       `json:"is_flexible"`
}

// FieldError names the field that failed validation.
type FieldError struct {
	Field  string
	Reason string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("booking: %s %s", e.Field, e.Reason)
}

func (e *FieldError) Unwrap() error { return ErrInvalidRequest }

// Normalize trims surrounding whitespace from the text fields.
func (r *Request) Normalize() {
	r.Name = strings.TrimSpace(r.Name)
	r.Phone = strings.TrimSpace(r.Phone)
	r.Email = strings.TrimSpace(r.Email)
}

func (r *Request) Validate() error {
	switch {
	case r.Name == "":
		return &FieldError{Field: "name", Reason: "is required"}
	case r.Phone == "":
		return &FieldError{Field: "phone", Reason: "is required"}
	case r.Email == "":
		return &FieldError{Field: "email", Reason: "is required"}
	}
	addr, err := mail.ParseAddress(r.Email)
	if err != nil || addr.Address != r.Email {
		return &FieldError{Field: "email", Reason: "is not a valid address"}
	}
	return nil
}

// UpcomingDates returns n consecutive days starting the day after now, at
// the same wall-clock time.
func UpcomingDates(now time.Time, n int) []time.Time {
	if n <= 0 {
		return nil
	}
	dates := make([]time.Time, n)
	for i := range dates {
		dates[i] = now.AddDate(0, 0, i+1)
	}
	return dates
}
