package tools

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/teslashibe/voiceops/pkg/crm"
)

// Search limits.
const (
	DefaultLimit = 10
	MaxLimit     = 100
)

// Args is implemented by every tool's argument struct.
type Args interface {
	Validate() error
}

// decodeArgs converts the model's loosely typed argument map into dst.
func decodeArgs(args map[string]any, dst Args) error {
	if args == nil {
		args = map[string]any{}
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	return dst.Validate()
}

func required(fields ...[2]string) error {
	var missing []string
	for _, f := range fields {
		if strings.TrimSpace(f[1]) == "" {
			missing = append(missing, f[0])
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required argument(s): %s", strings.Join(missing, ", "))
	}
	return nil
}

// PNRArgs is the argument shape of crm_get_booking_by_pnr and crm_delete_booking.
type PNRArgs struct {
	PNR string `json:"pnr"`
}

func (a *PNRArgs) Validate() error {
	return required([2]string{"pnr", a.PNR})
}

// SearchArgs filters for crm_search_bookings. Every provided filter must match.
type SearchArgs struct {
	PassengerName string `json:"passenger_name"`
	Email         string `json:"email"`
	PhoneNumber   string `json:"phone_number"`
	Origin        string `json:"origin"`
	Destination   string `json:"destination"`
	FlightNumber  string `json:"flight_number"`
	Status        string `json:"status"`
	DateFrom      string `json:"date_from"`
	DateTo        string `json:"date_to"`
	Limit         *int   `json:"limit"`
}

func (a *SearchArgs) Validate() error {
	if a.Status != "" {
		if _, err := crm.ParseStatus(a.Status); err != nil {
			return err
		}
	}
	return nil
}

// CreateArgs is the argument shape of crm_create_booking.
type CreateArgs struct {
	PNR           string `json:"pnr"`
	PassengerName string `json:"passenger_name"`
	Email         string `json:"email"`
	PhoneNumber   string `json:"phone_number"`
	FlightNumber  string `json:"flight_number"`
	Origin        string `json:"origin"`
	Destination   string `json:"destination"`
	FlightDate    string `json:"flight_date"`
	Status        string `json:"status"`
}

func (a *CreateArgs) Validate() error {
	if err := required(
		[2]string{"pnr", a.PNR},
		[2]string{"passenger_name", a.PassengerName},
		[2]string{"flight_number", a.FlightNumber},
		[2]string{"origin", a.Origin},
		[2]string{"destination", a.Destination},
		[2]string{"flight_date", a.FlightDate},
	); err != nil {
		return err
	}
	if a.Status != "" {
		if _, err := crm.ParseStatus(a.Status); err != nil {
			return err
		}
	}
	return nil
}

// Booking builds the record to insert. Status defaults to confirmed.
func (a *CreateArgs) Booking() crm.Booking {
	status := crm.StatusConfirmed
	if a.Status != "" {
		status, _ = crm.ParseStatus(a.Status)
	}
	return crm.Booking{
		PNR:           strings.TrimSpace(a.PNR),
		PassengerName: a.PassengerName,
		Email:         a.Email,
		PhoneNumber:   a.PhoneNumber,
		FlightNumber:  a.FlightNumber,
		Origin:        a.Origin,
		Destination:   a.Destination,
		FlightDate:    a.FlightDate,
		Status:        status,
		Notes:         []crm.Note{},
	}
}

// UpdateArgs is the argument shape of crm_update_booking.
type UpdateArgs struct {
	PNR     string    `json:"pnr"`
	Updates crm.Patch `json:"updates"`
}

func (a *UpdateArgs) Validate() error {
	if err := required([2]string{"pnr", a.PNR}); err != nil {
		return err
	}
	if a.Updates.Empty() {
		return fmt.Errorf("no fields to update")
	}
	if a.Updates.Status != nil {
		st, err := crm.ParseStatus(string(*a.Updates.Status))
		if err != nil {
			return err
		}
		a.Updates.Status = &st
	}
	return nil
}

// StatusArgs is the argument shape of crm_update_booking_status.
type StatusArgs struct {
	PNR    string `json:"pnr"`
	Status string `json:"status"`
}

func (a *StatusArgs) Validate() error {
	if err := required([2]string{"pnr", a.PNR}, [2]string{"status", a.Status}); err != nil {
		return err
	}
	_, err := crm.ParseStatus(a.Status)
	return err
}

// NoteArgs is the argument shape of crm_add_booking_note.
type NoteArgs struct {
	PNR  string `json:"pnr"`
	Text string `json:"text"`
	By   string `json:"by"`
}

func (a *NoteArgs) Validate() error {
	if err := required([2]string{"pnr", a.PNR}, [2]string{"text", a.Text}); err != nil {
		return err
	}
	if a.By == "" {
		a.By = "agent"
	}
	return nil
}

// ListArgs is the argument shape of crm_list_recent_bookings.
type ListArgs struct {
	Limit *int `json:"limit"`
}

func (a *ListArgs) Validate() error { return nil }

// clampLimit applies the default and the hard cap.
func clampLimit(limit *int) int {
	if limit == nil || *limit <= 0 {
		return DefaultLimit
	}
	if *limit > MaxLimit {
		return MaxLimit
	}
	return *limit
}
