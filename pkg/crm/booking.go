// Package crm is the in-memory booking store the voice agent operates on.
package crm

import (
	"fmt"
	"strings"
)

// Status is the lifecycle state of a booking.
type Status string

const (
	StatusConfirmed Status = "confirmed"
	StatusCheckedIn Status = "checked_in"
	StatusCompleted Status = "completed"
	StatusCanceled  Status = "canceled"
	StatusPending   Status = "pending"
)

// Statuses lists every valid status.
var Statuses = []Status{StatusConfirmed, StatusCheckedIn, StatusCompleted, StatusCanceled, StatusPending}

// ParseStatus matches s case-insensitively against the known statuses.
func ParseStatus(s string) (Status, error) {
	for _, st := range Statuses {
		if strings.EqualFold(s, string(st)) {
			return st, nil
		}
	}
	return "", fmt.Errorf("%w: unknown status %q", ErrInvalidBooking, s)
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusConfirmed, StatusCheckedIn, StatusCompleted, StatusCanceled, StatusPending:
		return true
	}
	return false
}

// Note is a free-text annotation on a booking.
type Note struct {
	Text string `json:"text"`
	By   string `json:"by"`
	Date string `json:"date"`
}

// Booking is a flight reservation keyed by PNR.
type Booking struct {
	PNR           string `json:"pnr"`
	PassengerName string `json:"passenger_name"`
	Email         string `json:"email"`
	PhoneNumber   string `json:"phone_number"`
	FlightNumber  string `json:"flight_number"`
	Origin        string `json:"origin"`
	Destination   string `json:"destination"`
	FlightDate    string `json:"flight_date"`
	Status        Status `json:"status"`
	Notes         []Note `json:"notes"`
}

// Clone returns a deep copy of b.
func (b Booking) Clone() Booking {
	c := b
	if b.Notes != nil {
		c.Notes = make([]Note, len(b.Notes))
		copy(c.Notes, b.Notes)
	}
	return c
}

// Validate checks the fields the store relies on.
func (b Booking) Validate() error {
	if strings.TrimSpace(b.PNR) == "" {
		return fmt.Errorf("%w: pnr is required", ErrInvalidBooking)
	}
	if b.Status != "" && !b.Status.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidBooking, b.Status)
	}
	return nil
}

// Patch is a partial update. Nil fields are left unchanged. PNR is accepted so
// callers can pass a full record, but it is never applied.
type Patch struct {
	PNR           *string `json:"pnr,omitempty"`
	PassengerName *string `json:"passenger_name,omitempty"`
	Email         *string `json:"email,omitempty"`
	PhoneNumber   *string `json:"phone_number,omitempty"`
	FlightNumber  *string `json:"flight_number,omitempty"`
	Origin        *string `json:"origin,omitempty"`
	Destination   *string `json:"destination,omitempty"`
	FlightDate    *string `json:"flight_date,omitempty"`
	Status        *Status `json:"status,omitempty"`
	Notes         *[]Note `json:"notes,omitempty"`
}

// Empty reports whether the patch changes nothing.
func (p Patch) Empty() bool {
	return p.PassengerName == nil && p.Email == nil && p.PhoneNumber == nil &&
		p.FlightNumber == nil && p.Origin == nil && p.Destination == nil &&
		p.FlightDate == nil && p.Status == nil && p.Notes == nil
}

func (p Patch) apply(b *Booking) {
	set := func(dst *string, src *string) {
		if src != nil {
			*dst = *src
		}
	}
	set(&b.PassengerName, p.PassengerName)
	set(&b.Email, p.Email)
	set(&b.PhoneNumber, p.PhoneNumber)
	set(&b.FlightNumber, p.FlightNumber)
	set(&b.Origin, p.Origin)
	set(&b.Destination, p.Destination)
	set(&b.FlightDate, p.FlightDate)
	if p.Status != nil {
		b.Status = *p.Status
	}
	if p.Notes != nil {
		b.Notes = append([]Note{}, (*p.Notes)...)
	}
}

// Ptr returns a pointer to v, for building patches.
func Ptr[T any](v T) *T {
	return &v
}
