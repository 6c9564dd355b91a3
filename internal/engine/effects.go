package engine

import "hirepilot/internal/models"

// Effect is one side effect the decision core requests. The core never
// touches the outside world itself; the runner executes effects in order.
type Effect interface {
	isEffect()
}

// SendReply delivers one outbound message to the candidate. At most one per
// invocation.
type SendReply struct {
	Text string
}

// Requeue schedules another engine invocation for this conversation.
type Requeue struct {
	Task models.Task
}

// BookSlot takes a seat in the interview calendar.
type BookSlot struct {
	Date string
	Time string
}

// ReleaseSlot frees a previously booked seat (reschedule or decline).
type ReleaseSlot struct {
	Date string
	Time string
}

// Alert notifies the operators channel.
type Alert struct {
	Severity string
	Title    string
	Body     string
}

// RecordEvent appends a funnel analytics event.
type RecordEvent struct {
	Event  string
	Detail string
}

// ExportCandidate appends the candidate to the booked roster and schedules
// interview reminders and followups.
type ExportCandidate struct{}

func (SendReply) isEffect()       {}
func (Requeue) isEffect()         {}
func (BookSlot) isEffect()        {}
func (ReleaseSlot) isEffect()     {}
func (Alert) isEffect()           {}
func (RecordEvent) isEffect()     {}
func (ExportCandidate) isEffect() {}
