package chat

import (
	"sync/atomic"
)

// Sink is the live outbound channel of a logged-in client. Implementations
// must serialize concurrent writers.
type Sink interface {
	DistributeMessage(sender, body string) error
}

// MessageDistributor drains one account's mailbox to its session sink. One
// distributor runs per logged-in account; it is started on login and ceased
// on logout, account deletion or disconnect.
type MessageDistributor struct {
	state    *State
	username string
	mailbox  *Mailbox
	sink     Sink

	running atomic.Bool
	done    chan struct{}
}

func newMessageDistributor(state *State, username string, mailbox *Mailbox, sink Sink) *MessageDistributor {
	d := &MessageDistributor{
		state:    state,
		username: username,
		mailbox:  mailbox,
		sink:     sink,

		done: make(chan struct{}),
	}

	d.running.Store(true)

	return d
}

func (d *MessageDistributor) start() {
	go d.run()
}

// Cease signals the drain loop to stop. The loop observes the signal on its
// next wakeup and requeues any message it was mid-handling.
func (d *MessageDistributor) Cease() {
	if !d.running.CompareAndSwap(true, false) {
		return
	}

	d.mailbox.Interrupt()
}

// Done is closed once the drain loop has terminated.
func (d *MessageDistributor) Done() <-chan struct{} {
	return d.done
}

func (d *MessageDistributor) run() {
	defer close(d.done)

	defer func() {
		if value := recover(); value != nil {
			msg := RecoverValueString(value)
			trace := StackTrace(10)
			d.state.Log.Error("panic: %s\n%s", msg, trace)
		}
	}()

	for d.running.Load() {
		msg, ok := d.mailbox.Take()
		if !ok {
			// Interrupted with no message; the loop condition re-checks
			// the running flag.
			continue
		}

		// "Stop the loop" and "message became available" can race. Always
		// prefer requeuing over dropping or misdelivering: first re-check the
		// running flag, then the login state.
		if !d.running.Load() {
			d.state.putBack(d.username, msg)
			return
		}

		if !d.state.IsLoggedIn(d.username) {
			d.state.Log.Info("user %q is not logged in, stopping its "+
				"message distributor", d.username)
			d.state.putBack(d.username, msg)
			return
		}

		if err := d.sink.DistributeMessage(msg.Sender, msg.Body); err != nil {
			d.state.Log.Error("cannot deliver message to %q: %v",
				d.username, err)
			d.state.putBack(d.username, msg)
			return
		}

		d.state.Log.Debug(1, "delivered message to %q from %q",
			d.username, msg.Sender)
	}
}
