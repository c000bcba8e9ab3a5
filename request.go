package hive

import (
	"context"
	"fmt"
	"time"
)

// RetryPolicy shapes the re-send schedule of a request/response
// round-trip: each attempt waits for a response for an exponentially
// growing window before re-sending.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Multiplier  float64
	MaxDelay    time.Duration
}

// DefaultRetryPolicy matches the runtime defaults: 3 attempts starting
// at 100 ms, doubling, capped at 10 s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   100 * time.Millisecond,
		Multiplier:  2,
		MaxDelay:    10 * time.Second,
	}
}

// delay returns the response window for attempt i (0-indexed).
func (p RetryPolicy) delay(i int) time.Duration {
	d := p.BaseDelay
	for n := 0; n < i; n++ {
		d = time.Duration(float64(d) * p.Multiplier)
		if p.MaxDelay > 0 && d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// Request sends a REQUEST from one agent to another and blocks until a
// RESPONSE with the matching conversation id lands in the sender's
// mailbox. The request is re-sent per the policy; exhausted attempts
// return ErrTimeout. Intended for passive agents — an agent with a
// running loop would race this for its own mailbox.
func Request(ctx context.Context, reg *Registry, from, to string, payload any, policy RetryPolicy) (Message, error) {
	if policy.MaxAttempts <= 0 {
		policy = DefaultRetryPolicy()
	}
	mb := reg.Mailbox(from)
	if mb == nil {
		return Message{}, fmt.Errorf("%w: agent %s", ErrNotFound, from)
	}

	conversation := NewID()
	matches := func(m Message) bool {
		return m.Kind == KindResponse && m.Conversation == conversation
	}

	for i := 0; i < policy.MaxAttempts; i++ {
		req, err := NewMessage(from, to, KindRequest, payload)
		if err != nil {
			return Message{}, err
		}
		req.Conversation = conversation
		if err := reg.Route(req); err != nil {
			return Message{}, err
		}

		window := policy.delay(i)
		deadline := time.Now().Add(window)
		for {
			if err := ctx.Err(); err != nil {
				return Message{}, err
			}
			remaining := time.Until(deadline)
			if remaining <= 0 {
				break
			}
			// Bounded slices keep the wait responsive to ctx cancellation.
			slice := remaining
			if slice > loopWakeInterval {
				slice = loopWakeInterval
			}
			if resp, ok := mb.TakeWhere(slice, matches); ok {
				return resp, nil
			}
		}
	}
	return Message{}, fmt.Errorf("%w: no response from %s after %d attempts", ErrTimeout, to, policy.MaxAttempts)
}

// Respond answers a REQUEST, copying its conversation id onto a RESPONSE
// back to the requester.
func Respond(reg *Registry, req Message, from string, payload any) error {
	resp, err := NewMessage(from, req.From, KindResponse, payload)
	if err != nil {
		return err
	}
	resp.Conversation = req.Conversation
	return reg.Route(resp)
}
