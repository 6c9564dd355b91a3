package calendar

import (
	"context"
	"time"
)

// Slot is one bookable interview window.
type Slot struct {
	Date     string // YYYY-MM-DD
	Time     string // HH:MM
	Capacity int
	Booked   int
}

// Free reports remaining capacity.
func (s Slot) Free() int {
	return s.Capacity - s.Booked
}

// CandidateExport is the row appended for the recruiting team once an
// interview is booked.
type CandidateExport struct {
	FullName       string
	Phone          string
	VacancyTitle   string
	InterviewDate  string
	InterviewTime  string
	ConversationID string
	ExportedAt     time.Time
}

// Calendar manages interview slots and the booked-candidate roster.
type Calendar interface {
	// ListAvailableSlots returns slots with free capacity between from and
	// from+days, soonest first.
	ListAvailableSlots(ctx context.Context, from time.Time, days int) ([]Slot, error)

	// BookSlot takes one seat in the slot. Returns false without error when
	// the slot is full or unknown.
	BookSlot(ctx context.Context, date, timeOfDay string) (bool, error)

	// ReleaseSlot returns one seat, used when a candidate reschedules or
	// declines after booking.
	ReleaseSlot(ctx context.Context, date, timeOfDay string) error

	// AppendCandidate adds a booked candidate to the roster sheet.
	AppendCandidate(ctx context.Context, export CandidateExport) error
}
