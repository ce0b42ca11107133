// Package delivery holds the redelivery rules shared by the durable buses.
//
// A failed delivery is requeued by publishing the same payload again with the
// attempt counter incremented, then acknowledging the original. Once the
// counter reaches the maximum, or the handler reports a permanent failure,
// the payload goes to the dead-letter topic instead. A message is therefore
// always either handled, requeued or parked; it is never dropped.
package delivery

import (
	"errors"
	"strconv"
)

const (
	// AttemptHeader carries the 1-based delivery attempt of a message.
	AttemptHeader = "x-delivery-attempt"
	// ReasonHeader carries the last handler error of a dead-lettered message.
	ReasonHeader = "x-dead-letter-reason"

	DefaultMaxDeliveries = 5
)

// DeadLetterTopic names the topic that parks messages of topic.
func DeadLetterTopic(topic string) string { return topic + ".dead-letter" }

type Decision int

const (
	Ack Decision = iota
	Requeue
	DeadLetter
)

func (d Decision) String() string {
	switch d {
	case Ack:
		return "ack"
	case Requeue:
		return "requeue"
	case DeadLetter:
		return "dead-letter"
	default:
		return "unknown"
	}
}

// Decide tells what to do with a delivery that ended with err on the given attempt.
func Decide(err error, attempt, maxDeliveries int) Decision {
	if err == nil {
		return Ack
	}
	if maxDeliveries < 1 {
		maxDeliveries = DefaultMaxDeliveries
	}
	if IsPermanent(err) || attempt >= maxDeliveries {
		return DeadLetter
	}
	return Requeue
}

// ParseAttempt reads an attempt header value. Missing or bad values count as the first attempt.
func ParseAttempt(v string) int {
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		return 1
	}
	return n
}

func FormatAttempt(n int) string { return strconv.Itoa(n) }

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as one that redelivery cannot fix.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}
