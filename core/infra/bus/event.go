package bus

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	// SubjectSubmissionCreated triggers validation of a new or resubmitted submission.
	SubjectSubmissionCreated = "registry.submission.created"
	// SubjectSubmissionUpdated carries status changes for stream subscribers.
	SubjectSubmissionUpdated = "registry.submission.updated"

	// QueueValidator is the queue group shared by validator replicas.
	QueueValidator = "registry-validator"
)

// Event is the JSON payload carried on registry subjects.
type Event struct {
	ID           string    `json:"id"`
	SubmissionID string    `json:"submission_id"`
	Status       string    `json:"status,omitempty"`
	Message      string    `json:"message,omitempty"`
	Actor        string    `json:"actor,omitempty"`
	OccurredAt   time.Time `json:"occurred_at"`
}

var errMissingSubmission = errors.New("event missing submission id")

// NewEvent stamps an event for a submission with a fresh id.
func NewEvent(submissionID, status, message, actor string) *Event {
	return &Event{
		ID:           uuid.NewString(),
		SubmissionID: submissionID,
		Status:       status,
		Message:      message,
		Actor:        actor,
		OccurredAt:   time.Now().UTC(),
	}
}

// Encode marshals the event, filling id and timestamp when absent.
func (e *Event) Encode() ([]byte, error) {
	if e == nil {
		return nil, errNilEvent
	}
	if strings.TrimSpace(e.SubmissionID) == "" {
		return nil, errMissingSubmission
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}
	return json.Marshal(e)
}

// DecodeEvent parses an event payload.
func DecodeEvent(data []byte) (*Event, error) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, err
	}
	if strings.TrimSpace(ev.SubmissionID) == "" {
		return nil, errMissingSubmission
	}
	return &ev, nil
}
