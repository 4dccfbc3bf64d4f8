package chat

import (
	"errors"
	"testing"
	"time"
)

func TestDistributorDeliversInOrder(t *testing.T) {
	state := newTestState(t)

	if err := state.CreateAccount("alice"); err != nil {
		t.Fatalf("cannot create account: %v", err)
	}

	sink := &captureSink{}

	sess, err := state.LogIn("alice", sink)
	if err != nil {
		t.Fatalf("cannot log in: %v", err)
	}

	if err := state.CreateAccount("bob"); err != nil {
		t.Fatalf("cannot create account: %v", err)
	}

	bobSess, err := state.LogIn("bob", &captureSink{})
	if err != nil {
		t.Fatalf("cannot log in: %v", err)
	}

	for _, body := range []string{"m1", "m2", "m3"} {
		if err := state.SendMessage(bobSess, "alice", body); err != nil {
			t.Fatalf("cannot send message: %v", err)
		}
	}

	waitFor(t, time.Second, "message delivery", func() bool {
		return len(sink.Messages()) == 3
	})

	for i, body := range []string{"m1", "m2", "m3"} {
		msg := sink.Messages()[i]
		if msg.Sender != "bob" || msg.Body != body {
			t.Errorf("message %d: expected bob/%q, got %q/%q",
				i, body, msg.Sender, msg.Body)
		}
	}

	state.LogOut(sess)
}

func TestDistributorStopsWhenLoggedOut(t *testing.T) {
	state := newTestState(t)

	if err := state.CreateAccount("alice"); err != nil {
		t.Fatalf("cannot create account: %v", err)
	}

	// Drive a distributor by hand against an account with no live session:
	// it must requeue the first message it dequeues instead of delivering
	// it.
	sink := &captureSink{}
	mailbox := NewMailbox()

	mailbox.Put(PendingMessage{Recipient: "alice", Sender: "bob", Body: "m1"})

	d := newMessageDistributor(state, "alice", mailbox, sink)
	d.start()

	select {
	case <-d.Done():
	case <-time.After(time.Second):
		t.Fatalf("distributor did not stop")
	}

	if n := len(sink.Messages()); n != 0 {
		t.Errorf("expected no delivered message, got %d", n)
	}

	// The message went back to the account's real mailbox via the state.
	state.mu.RLock()
	a := state.accounts["alice"]
	state.mu.RUnlock()

	if n := a.mailbox.Len(); n != 1 {
		t.Errorf("expected 1 requeued message, got %d", n)
	}
}

func TestDistributorCeaseWhileBlocked(t *testing.T) {
	state := newTestState(t)

	if err := state.CreateAccount("alice"); err != nil {
		t.Fatalf("cannot create account: %v", err)
	}

	sess, err := state.LogIn("alice", &captureSink{})
	if err != nil {
		t.Fatalf("cannot log in: %v", err)
	}

	state.mu.RLock()
	d := state.accounts["alice"].distributor
	state.mu.RUnlock()

	// The distributor is blocked on its empty mailbox; logging out must
	// wake it up and terminate it.
	if err := state.LogOut(sess); err != nil {
		t.Fatalf("cannot log out: %v", err)
	}

	select {
	case <-d.Done():
	case <-time.After(time.Second):
		t.Fatalf("distributor did not stop")
	}
}

type failingSink struct {
	err error
}

func (sk *failingSink) DistributeMessage(sender, body string) error {
	return sk.err
}

func TestDistributorRequeuesOnSinkError(t *testing.T) {
	state := newTestState(t)

	if err := state.CreateAccount("alice"); err != nil {
		t.Fatalf("cannot create account: %v", err)
	}

	sink := &failingSink{err: errors.New("connection lost")}

	if _, err := state.LogIn("alice", sink); err != nil {
		t.Fatalf("cannot log in: %v", err)
	}

	state.mu.RLock()
	a := state.accounts["alice"]
	d := a.distributor
	state.mu.RUnlock()

	a.mailbox.Put(PendingMessage{Recipient: "alice", Sender: "bob", Body: "m1"})

	select {
	case <-d.Done():
	case <-time.After(time.Second):
		t.Fatalf("distributor did not stop")
	}

	if n := a.mailbox.Len(); n != 1 {
		t.Errorf("expected 1 requeued message, got %d", n)
	}
}
