package chat

import (
	"errors"
	"regexp"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Business errors returned to clients as statuses. They are never fatal and
// never logged as failures.
var (
	ErrAccountExists  = errors.New("account already exists")
	ErrUnknownAccount = errors.New("unknown account")
	ErrNotLoggedIn    = errors.New("not logged in")
)

// account tracks one existing account. The distributor and session fields
// are nil while the account is logged out.
type account struct {
	mailbox     *Mailbox
	distributor *MessageDistributor
	session     *Session
}

// Session is the live binding of a logged-in account to a client sink. An
// account has at most one session at a time; a new login evicts the previous
// one.
type Session struct {
	Id       uuid.UUID
	Username string

	sink Sink
	done chan struct{}
}

// Done is closed when the session ends, whether by logout, eviction or
// account deletion.
func (sess *Session) Done() <-chan struct{} {
	return sess.done
}

// State holds the account registry and the login state machine of one
// replica. It is driven by inbound client operations and, on followers, by
// operations relayed from the leader.
type State struct {
	Log Logger

	logStore *LogStore

	mu       sync.RWMutex
	accounts map[string]*account
	sessions map[uuid.UUID]*Session
}

func NewState(logStore *LogStore, logger Logger) *State {
	return &State{
		Log: logger,

		logStore: logStore,

		accounts: make(map[string]*account),
		sessions: make(map[uuid.UUID]*Session),
	}
}

// Open recovers the durable state of the replica: it compacts both logs,
// then loads the live accounts and replays the pending messages into their
// mailboxes.
func (s *State) Open() error {
	if err := s.logStore.Open(); err != nil {
		return err
	}

	live := s.logStore.CompactAccounts()
	s.logStore.CompactMessages(live)

	s.mu.Lock()
	defer s.mu.Unlock()

	for username := range live {
		s.accounts[username] = &account{mailbox: NewMailbox()}
	}

	nbMessages := 0

	for _, record := range s.logStore.ReadAll(LogMessages) {
		if len(record) != 3 {
			continue
		}

		msg := PendingMessage{
			Recipient: record[0],
			Sender:    record[1],
			Body:      record[2],
		}

		a, found := s.accounts[msg.Recipient]
		if !found {
			continue
		}

		a.mailbox.Put(msg)
		nbMessages++
	}

	s.Log.Info("loaded %d accounts and %d pending messages",
		len(live), nbMessages)

	return nil
}

func (s *State) CreateAccount(username string) error {
	s.mu.Lock()

	if _, found := s.accounts[username]; found {
		s.mu.Unlock()
		return ErrAccountExists
	}

	s.accounts[username] = &account{mailbox: NewMailbox()}
	s.mu.Unlock()

	s.logStore.Append(LogAccounts, []string{username})

	s.Log.Info("created account %q", username)

	return nil
}

// LogIn binds the account to sink and starts its message distributor. A
// previous session for the same account is ceased and evicted first.
func (s *State) LogIn(username string, sink Sink) (*Session, error) {
	s.mu.Lock()

	a, found := s.accounts[username]
	if !found {
		s.mu.Unlock()
		return nil, ErrUnknownAccount
	}

	if a.session != nil {
		s.Log.Info("evicting previous session of %q", username)
		s.endSessionLocked(a)
	}

	sess := &Session{
		Id:       uuid.New(),
		Username: username,

		sink: sink,
		done: make(chan struct{}),
	}

	d := newMessageDistributor(s, username, a.mailbox, sink)

	a.session = sess
	a.distributor = d
	s.sessions[sess.Id] = sess

	s.mu.Unlock()

	d.start()

	s.Log.Info("logged in %q", username)

	return sess, nil
}

// LogOut ends the session if it is still the current session of its
// account.
func (s *State) LogOut(sess *Session) error {
	if sess == nil {
		return ErrNotLoggedIn
	}

	s.mu.Lock()

	a, found := s.accounts[sess.Username]
	if !found || a.session == nil || a.session.Id != sess.Id {
		s.mu.Unlock()
		return ErrNotLoggedIn
	}

	s.endSessionLocked(a)
	s.mu.Unlock()

	s.Log.Info("logged out %q", sess.Username)

	return nil
}

// Disconnect performs the same teardown as LogOut but silently: a terminal
// disconnect is not an error even if the session was already gone.
func (s *State) Disconnect(sess *Session) {
	if err := s.LogOut(sess); err != nil {
		s.Log.Debug(1, "disconnect without live session: %v", err)
	}
}

// endSessionLocked ceases the account's distributor and unbinds its session.
// The caller must hold s.mu.
func (s *State) endSessionLocked(a *account) {
	a.distributor.Cease()
	delete(s.sessions, a.session.Id)
	close(a.session.done)

	a.distributor = nil
	a.session = nil
}

// SendMessage enqueues a message for the recipient. Delivery is asynchronous
// whether or not the recipient is currently logged in.
func (s *State) SendMessage(sess *Session, recipient, body string) error {
	if !s.sessionCurrent(sess) {
		return ErrNotLoggedIn
	}

	msg := PendingMessage{
		Recipient: recipient,
		Sender:    sess.Username,
		Body:      body,
	}

	if err := s.enqueue(msg); err != nil {
		return err
	}

	s.Log.Info("queued message from %q to %q", msg.Sender, msg.Recipient)

	return nil
}

func (s *State) enqueue(msg PendingMessage) error {
	s.mu.RLock()
	a, found := s.accounts[msg.Recipient]
	s.mu.RUnlock()

	if !found {
		return ErrUnknownAccount
	}

	a.mailbox.Put(msg)
	s.logStore.Append(LogMessages,
		[]string{msg.Recipient, msg.Sender, msg.Body})

	return nil
}

// putBack returns a message taken but not delivered to the front of its
// recipient's mailbox, and re-appends it to the durable log so it survives a
// crash even though it was briefly dequeued.
func (s *State) putBack(username string, msg PendingMessage) {
	s.mu.RLock()
	a, found := s.accounts[username]
	s.mu.RUnlock()

	if !found {
		// The account was deleted with the message in flight; its mailbox is
		// gone and the message with it.
		return
	}

	a.mailbox.PutFront(msg)
	s.logStore.Append(LogMessages,
		[]string{msg.Recipient, msg.Sender, msg.Body})
}

// ListAccounts returns the usernames matching a shell-style wildcard
// pattern, where '*' matches any run of characters. The pattern is fully
// anchored.
func (s *State) ListAccounts(sess *Session, pattern string) ([]string, error) {
	if !s.sessionCurrent(sess) {
		return nil, ErrNotLoggedIn
	}

	re := compilePattern(pattern)

	s.mu.RLock()
	defer s.mu.RUnlock()

	usernames := make([]string, 0, len(s.accounts))

	for username := range s.accounts {
		if re.MatchString(username) {
			usernames = append(usernames, username)
		}
	}

	return usernames, nil
}

func compilePattern(pattern string) *regexp.Regexp {
	parts := strings.Split(pattern, "*")

	for i, part := range parts {
		parts[i] = regexp.QuoteMeta(part)
	}

	return regexp.MustCompile("^" + strings.Join(parts, ".*") + "$")
}

// DeleteAccount removes the account, tears down any live session and
// discards its mailbox.
func (s *State) DeleteAccount(username string) error {
	s.mu.Lock()

	a, found := s.accounts[username]
	if !found {
		s.mu.Unlock()
		return ErrUnknownAccount
	}

	if a.session != nil {
		s.endSessionLocked(a)
	}

	delete(s.accounts, username)
	s.mu.Unlock()

	// One more toggle record flips the username to deleted.
	s.logStore.Append(LogAccounts, []string{username})

	s.Log.Info("deleted account %q", username)

	return nil
}

// ApplyOp applies an operation relayed by the leader. Session checks do not
// apply: the leader already validated the operation against its own state,
// and this replica may simply be stale.
func (s *State) ApplyOp(op Op) error {
	switch opv := op.(type) {
	case *OpCreateAccount:
		if err := s.CreateAccount(opv.Username); err != nil {
			return err
		}

	case *OpDeleteAccount:
		if err := s.DeleteAccount(opv.Username); err != nil {
			return err
		}

	case *OpSendMessage:
		msg := PendingMessage{
			Recipient: opv.Recipient,
			Sender:    opv.Sender,
			Body:      opv.Body,
		}

		if err := s.enqueue(msg); err != nil {
			return err
		}

	default:
		Panicf("unexpected operation %v", op)
	}

	return nil
}

func (s *State) AccountExists(username string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, found := s.accounts[username]
	return found
}

func (s *State) IsLoggedIn(username string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, found := s.accounts[username]
	return found && a.session != nil
}

func (s *State) SessionById(id uuid.UUID) (*Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, found := s.sessions[id]
	return sess, found
}

func (s *State) sessionCurrent(sess *Session) bool {
	if sess == nil {
		return false
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	a, found := s.accounts[sess.Username]
	return found && a.session != nil && a.session.Id == sess.Id
}
