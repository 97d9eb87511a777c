package crm

// DefaultSeed returns the demo bookings the console starts with.
func DefaultSeed() []Booking {
	return []Booking{
		{
			PNR:           "TK100001",
			PassengerName: "Ayse Demir",
			Email:         "ayse.demir@example.com",
			PhoneNumber:   "+90 532 555 0101",
			FlightNumber:  "TK1981",
			Origin:        "IST",
			Destination:   "LHR",
			FlightDate:    "2025-03-14T09:45:00Z",
			Status:        StatusConfirmed,
			Notes: []Note{
				{Text: "Requested aisle seat", By: "agent", Date: "2025-02-20T10:12:00Z"},
			},
		},
		{
			PNR:           "TK100002",
			PassengerName: "John Carter",
			Email:         "john.carter@example.com",
			PhoneNumber:   "(415) 555-0132",
			FlightNumber:  "TK80",
			Origin:        "SFO",
			Destination:   "IST",
			FlightDate:    "2025-03-02T22:10:00Z",
			Status:        StatusCheckedIn,
		},
		{
			PNR:           "TK100003",
			PassengerName: "Mehmet Yilmaz",
			Email:         "m.yilmaz@example.com",
			PhoneNumber:   "+90 533 555 0177",
			FlightNumber:  "TK2120",
			Origin:        "IST",
			Destination:   "ADB",
			FlightDate:    "2025-01-28T07:30:00Z",
			Status:        StatusCompleted,
		},
		{
			PNR:           "TK100004",
			PassengerName: "Sophie Laurent",
			Email:         "sophie.laurent@example.com",
			PhoneNumber:   "+33 6 55 55 01 44",
			FlightNumber:  "TK1822",
			Origin:        "CDG",
			Destination:   "IST",
			FlightDate:    "2025-04-05T13:00:00Z",
			Status:        StatusPending,
			Notes: []Note{
				{Text: "Awaiting payment confirmation", By: "system", Date: "2025-03-01T08:00:00Z"},
			},
		},
		{
			PNR:           "TK100005",
			PassengerName: "Daniel Okafor",
			Email:         "d.okafor@example.com",
			PhoneNumber:   "+234 803 555 0199",
			FlightNumber:  "TK624",
			Origin:        "LOS",
			Destination:   "IST",
			FlightDate:    "2025-02-11T23:55:00Z",
			Status:        StatusCanceled,
		},
	}
}
