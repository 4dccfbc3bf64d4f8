package chat

import (
	"testing"
	"time"
)

func TestMailboxFIFO(t *testing.T) {
	m := NewMailbox()

	m.Put(PendingMessage{Body: "m1"})
	m.Put(PendingMessage{Body: "m2"})
	m.Put(PendingMessage{Body: "m3"})

	for _, body := range []string{"m1", "m2", "m3"} {
		msg, ok := m.Take()
		if !ok {
			t.Fatalf("unexpected interruption")
		}
		if msg.Body != body {
			t.Errorf("expected %q, got %q", body, msg.Body)
		}
	}
}

func TestMailboxPutFrontPreservesOrder(t *testing.T) {
	m := NewMailbox()

	m.Put(PendingMessage{Body: "m1"})
	m.Put(PendingMessage{Body: "m2"})
	m.Put(PendingMessage{Body: "m3"})

	// Dequeue m1 without delivering it, then requeue it: it must come out
	// before m2 and m3
	msg, _ := m.Take()
	m.PutFront(msg)

	for _, body := range []string{"m1", "m2", "m3"} {
		msg, ok := m.Take()
		if !ok {
			t.Fatalf("unexpected interruption")
		}
		if msg.Body != body {
			t.Errorf("expected %q, got %q", body, msg.Body)
		}
	}
}

func TestMailboxTakeBlocks(t *testing.T) {
	m := NewMailbox()

	resultChan := make(chan PendingMessage, 1)

	go func() {
		msg, _ := m.Take()
		resultChan <- msg
	}()

	select {
	case <-resultChan:
		t.Fatalf("take returned on an empty mailbox")
	case <-time.After(50 * time.Millisecond):
	}

	m.Put(PendingMessage{Body: "m1"})

	select {
	case msg := <-resultChan:
		if msg.Body != "m1" {
			t.Errorf("expected %q, got %q", "m1", msg.Body)
		}
	case <-time.After(time.Second):
		t.Fatalf("take did not return after a put")
	}
}

func TestMailboxInterrupt(t *testing.T) {
	m := NewMailbox()

	okChan := make(chan bool, 1)

	go func() {
		_, ok := m.Take()
		okChan <- ok
	}()

	time.Sleep(50 * time.Millisecond)
	m.Interrupt()

	select {
	case ok := <-okChan:
		if ok {
			t.Errorf("interrupted take must not return a message")
		}
	case <-time.After(time.Second):
		t.Fatalf("take did not return after an interrupt")
	}

	// The interruption is consumed; a later take must see messages again
	m.Put(PendingMessage{Body: "m1"})

	msg, ok := m.Take()
	if !ok || msg.Body != "m1" {
		t.Errorf("expected %q after interruption, got ok=%v msg=%q",
			"m1", ok, msg.Body)
	}
}
