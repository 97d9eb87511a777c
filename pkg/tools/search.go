package tools

import (
	"strings"
	"unicode"

	"github.com/teslashibe/voiceops/pkg/crm"
)

// Search returns the bookings matching every filter in args, most recent
// flight first, truncated to the clamped limit.
func Search(bookings []crm.Booking, args SearchArgs) []crm.Booking {
	out := make([]crm.Booking, 0, len(bookings))
	for _, b := range bookings {
		if args.matches(b) {
			out = append(out, b)
		}
	}
	crm.SortByFlightDateDesc(out)

	if limit := clampLimit(args.Limit); len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (a SearchArgs) matches(b crm.Booking) bool {
	if !containsFold(b.PassengerName, a.PassengerName) ||
		!containsFold(b.Email, a.Email) ||
		!containsFold(b.Origin, a.Origin) ||
		!containsFold(b.Destination, a.Destination) {
		return false
	}
	if a.FlightNumber != "" && !strings.EqualFold(strings.TrimSpace(b.FlightNumber), strings.TrimSpace(a.FlightNumber)) {
		return false
	}
	if a.Status != "" && !strings.EqualFold(string(b.Status), strings.TrimSpace(a.Status)) {
		return false
	}
	if !phoneMatches(b.PhoneNumber, a.PhoneNumber) {
		return false
	}

	date := datePart(b.FlightDate)
	if from := datePart(a.DateFrom); from != "" && date < from {
		return false
	}
	if to := datePart(a.DateTo); to != "" && date > to {
		return false
	}
	return true
}

// containsFold reports whether needle is empty or a case-insensitive
// substring of s.
func containsFold(s, needle string) bool {
	needle = strings.TrimSpace(needle)
	if needle == "" {
		return true
	}
	return strings.Contains(strings.ToLower(s), strings.ToLower(needle))
}

// minPhoneDigits is the shortest number accepted as a suffix match, enough
// for a local subscriber number without area or country code.
const minPhoneDigits = 7

// phoneMatches compares phone numbers by digits only. The digit strings must
// be equal, or the shorter one (at least minPhoneDigits long) must end the
// longer one so a number without its country code still matches.
func phoneMatches(stored, query string) bool {
	q := digits(query)
	if q == "" {
		return true
	}
	d := digits(stored)
	if d == q {
		return true
	}
	short, long := q, d
	if len(short) > len(long) {
		short, long = long, short
	}
	return len(short) >= minPhoneDigits && strings.HasSuffix(long, short)
}

func digits(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsDigit(r) {
			return r
		}
		return -1
	}, s)
}

// datePart returns the YYYY-MM-DD prefix of an ISO-8601 date or timestamp.
func datePart(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > 10 {
		return s[:10]
	}
	return s
}
