package tools

// Schema describes one tool to the voice model.
type Schema struct {
	// Name is the unique identifier for the tool (e.g., "crm_search_bookings").
	Name string `json:"name"`

	// Description explains what the tool does, helping the model decide when to use it.
	Description string `json:"description"`

	// Parameters is the JSON schema object for the tool's arguments.
	Parameters map[string]any `json:"parameters"`
}

func str(desc string) map[string]any {
	return map[string]any{"type": "string", "description": desc}
}

func object(props map[string]any, required ...string) map[string]any {
	o := map[string]any{"type": "object", "properties": props}
	if len(required) > 0 {
		o["required"] = required
	}
	return o
}

var statusEnum = map[string]any{
	"type":        "string",
	"description": "Booking status",
	"enum":        []string{"confirmed", "checked_in", "completed", "canceled", "pending"},
}

var limitParam = map[string]any{
	"type":        "integer",
	"description": "Maximum number of results (default 10, max 100)",
}

func bookingFields() map[string]any {
	return map[string]any{
		"passenger_name": str("Full passenger name"),
		"email":          str("Contact email"),
		"phone_number":   str("Contact phone number in any format"),
		"flight_number":  str("Flight number, e.g. TK1981"),
		"origin":         str("Origin airport code or city"),
		"destination":    str("Destination airport code or city"),
		"flight_date":    str("Flight date, ISO-8601 (YYYY-MM-DD or full timestamp)"),
		"status":         statusEnum,
	}
}

// schemas lists every tool in registration order.
func schemas() []Schema {
	create := bookingFields()
	create["pnr"] = str("Booking reference (PNR), must be unique")

	search := bookingFields()
	search["date_from"] = str("Earliest flight date, inclusive (YYYY-MM-DD)")
	search["date_to"] = str("Latest flight date, inclusive (YYYY-MM-DD)")
	search["limit"] = limitParam

	return []Schema{
		{
			Name:        ToolGetByPNR,
			Description: "Look up a single booking by its PNR. Returns null data if no booking exists.",
			Parameters:  object(map[string]any{"pnr": str("Booking reference (PNR)")}, "pnr"),
		},
		{
			Name:        ToolSearch,
			Description: "Search bookings. All provided filters must match. Text filters are case-insensitive substrings; phone numbers are compared by digits and must match whole or by a trailing run of at least 7 digits. Results are sorted by flight date, newest first.",
			Parameters:  object(search),
		},
		{
			Name:        ToolCreate,
			Description: "Create a new booking. Fails if the PNR already exists. Status defaults to confirmed.",
			Parameters:  object(create, "pnr", "passenger_name", "flight_number", "origin", "destination", "flight_date"),
		},
		{
			Name:        ToolUpdate,
			Description: "Update fields of an existing booking. The PNR itself cannot be changed.",
			Parameters: object(map[string]any{
				"pnr":     str("Booking reference (PNR)"),
				"updates": object(bookingFields()),
			}, "pnr", "updates"),
		},
		{
			Name:        ToolDelete,
			Description: "Delete a booking. Deleting a booking that does not exist is not an error.",
			Parameters:  object(map[string]any{"pnr": str("Booking reference (PNR)")}, "pnr"),
		},
		{
			Name:        ToolUpdateStatus,
			Description: "Change the status of a booking.",
			Parameters: object(map[string]any{
				"pnr":    str("Booking reference (PNR)"),
				"status": statusEnum,
			}, "pnr", "status"),
		},
		{
			Name:        ToolAddNote,
			Description: "Append a note to a booking.",
			Parameters: object(map[string]any{
				"pnr":  str("Booking reference (PNR)"),
				"text": str("Note text"),
				"by":   str("Author of the note, defaults to agent"),
			}, "pnr", "text"),
		},
		{
			Name:        ToolListRecent,
			Description: "List the most recent bookings by flight date.",
			Parameters:  object(map[string]any{"limit": limitParam}),
		},
	}
}
