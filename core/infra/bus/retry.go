package bus

import (
	"errors"
	"fmt"
	"time"
)

// redeliverError asks a durable subscription to hand the event back later.
type redeliverError struct {
	err   error
	delay time.Duration
}

func (e *redeliverError) Error() string {
	return fmt.Sprintf("redeliver in %s: %v", e.delay, e.err)
}

func (e *redeliverError) Unwrap() error { return e.err }

// RetryAfter marks err as transient. Durable subscriptions redeliver the event
// after delay; plain subscriptions only log it.
func RetryAfter(err error, delay time.Duration) error {
	if err == nil {
		err = errors.New("redelivery requested")
	}
	return &redeliverError{err: err, delay: max(delay, 0)}
}

// RetryDelay reports whether err asked for redelivery, and after how long.
func RetryDelay(err error) (time.Duration, bool) {
	var re *redeliverError
	if errors.As(err, &re) {
		return re.delay, true
	}
	return 0, false
}
