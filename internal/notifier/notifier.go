// Package notifier delivers trade and alert messages to external sinks
// (Telegram, email). Delivery is fire-and-forget with bounded retry:
// a dead sink is logged, never allowed to block trading.
package notifier

import (
	"time"

	"sensextrader/internal/logs"
)

// Notifier sends one message. Subject is used where the medium has one
// (email); Telegram folds it into the message body.
type Notifier interface {
	Send(subject, body string) error
}

// Noop discards everything. Used when no sink is configured.
type Noop struct{}

func (Noop) Send(string, string) error { return nil }

// Multi fans out to several sinks, returning the last error after trying
// all of them.
type Multi []Notifier

func (m Multi) Send(subject, body string) error {
	var last error
	for _, n := range m {
		if err := n.Send(subject, body); err != nil {
			last = err
		}
	}
	return last
}

// Retrying wraps a sink with bounded retries and a fixed delay.
type Retrying struct {
	Sink    Notifier
	Retries int
	Delay   time.Duration
}

func (r Retrying) Send(subject, body string) error {
	attempts := r.Retries
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for i := 0; i < attempts; i++ {
		if err = r.Sink.Send(subject, body); err == nil {
			return nil
		}
		if i < attempts-1 {
			time.Sleep(r.Delay)
		}
	}
	return err
}

// Notify is the fire-and-forget entry point the engine uses: failures are
// logged and swallowed.
func Notify(n Notifier, subject, body string) {
	if n == nil {
		return
	}
	if err := n.Send(subject, body); err != nil {
		logs.Warnf("notification %q failed: %v", subject, err)
	}
}
