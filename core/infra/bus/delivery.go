package bus

import (
	"time"

	"github.com/sapientcoffee/gemini-cli-extensions-catalog/core/infra/logging"
)

type ackAction int

const (
	actAck ackAction = iota
	actNak
	actTerm
)

func (a ackAction) String() string {
	switch a {
	case actNak:
		return "nak"
	case actTerm:
		return "term"
	default:
		return "ack"
	}
}

// settle runs handler for one delivery and decides how it is acknowledged.
// attempt is 1 on first delivery; maxDeliver <= 0 means unbounded.
func settle(subject string, data []byte, attempt, maxDeliver int, handler func(*Event) error) (ackAction, time.Duration) {
	ev, err := DecodeEvent(data)
	if err != nil {
		logging.Error("bus", "dropping undecodable event", "subject", subject, "error", err)
		return actTerm, 0
	}
	err = handler(ev)
	if err == nil {
		return actAck, 0
	}
	delay, retry := RetryDelay(err)
	if !retry {
		logging.Error("bus", "handler failed", "subject", subject, "submission_id", ev.SubmissionID, "error", err)
		return actAck, 0
	}
	if maxDeliver > 0 && attempt >= maxDeliver {
		logging.Error("bus", "redelivery budget exhausted", "subject", subject,
			"submission_id", ev.SubmissionID, "attempts", attempt, "error", err)
		return actTerm, 0
	}
	logging.Info("bus", "redelivery requested", "subject", subject,
		"submission_id", ev.SubmissionID, "attempt", attempt, "delay", delay)
	return actNak, delay
}
