package chat

import (
	"sync"
)

// PendingMessage is a message waiting in its recipient's mailbox until the
// recipient is reachable.
type PendingMessage struct {
	Recipient string
	Sender    string
	Body      string
}

// Mailbox is an unbounded FIFO queue of pending messages. Take blocks
// cooperatively until a message is available or the mailbox is interrupted.
type Mailbox struct {
	mu   sync.Mutex
	cond *sync.Cond

	messages    []PendingMessage
	interrupted bool
}

func NewMailbox() *Mailbox {
	m := &Mailbox{}
	m.cond = sync.NewCond(&m.mu)

	return m
}

func (m *Mailbox) Put(msg PendingMessage) {
	m.mu.Lock()
	m.messages = append(m.messages, msg)
	m.mu.Unlock()

	m.cond.Signal()
}

// PutFront returns a message taken but not delivered to the front of the
// queue, preserving its order relative to the other undelivered messages.
func (m *Mailbox) PutFront(msg PendingMessage) {
	m.mu.Lock()
	m.messages = append([]PendingMessage{msg}, m.messages...)
	m.mu.Unlock()

	m.cond.Signal()
}

// Take removes and returns the oldest message, blocking while the mailbox is
// empty. It returns false if it was woken by Interrupt instead of a message.
func (m *Mailbox) Take() (PendingMessage, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for len(m.messages) == 0 && !m.interrupted {
		m.cond.Wait()
	}

	if m.interrupted {
		m.interrupted = false
		return PendingMessage{}, false
	}

	msg := m.messages[0]
	m.messages = m.messages[1:]

	return msg, true
}

// Interrupt wakes one pending or future Take, which then returns no message.
func (m *Mailbox) Interrupt() {
	m.mu.Lock()
	m.interrupted = true
	m.mu.Unlock()

	m.cond.Broadcast()
}

func (m *Mailbox) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.messages)
}
