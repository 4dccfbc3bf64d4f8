package chat

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"
)

const sessionIdHeader = "X-Chat-Session-Id"

// StreamEvent is one newline-delimited JSON event pushed on a session
// stream. The first event of a stream carries the session id; subsequent
// events carry distributed messages.
type StreamEvent struct {
	Type      string `json:"type"`
	SessionId string `json:"sessionId,omitempty"`
	Sender    string `json:"sender,omitempty"`
	Body      string `json:"body,omitempty"`
}

func (s *Server) hCreateAccount(w http.ResponseWriter, req *http.Request) {
	var data struct {
		Username string `json:"username"`
	}

	if !s.readJSONBody(w, req, &data) {
		return
	}

	if data.Username == "" {
		s.replyError(w, 400, "missing or empty username")
		return
	}

	if err := s.State.CreateAccount(data.Username); err != nil {
		s.replyBusinessError(w, err)
		return
	}

	s.MaybeRelay(&OpCreateAccount{Username: data.Username})

	s.replyEmpty(w, 204)
}

func (s *Server) hDeleteAccount(w http.ResponseWriter, req *http.Request) {
	username := strings.TrimPrefix(req.URL.Path, "/accounts/")
	if username == "" {
		s.replyError(w, 400, "missing or empty username")
		return
	}

	if err := s.State.DeleteAccount(username); err != nil {
		s.replyBusinessError(w, err)
		return
	}

	s.MaybeRelay(&OpDeleteAccount{Username: username})

	s.replyEmpty(w, 204)
}

func (s *Server) hListAccounts(w http.ResponseWriter, req *http.Request) {
	sess, found := s.requestSession(req)
	if !found {
		s.replyText(w, 401, "missing or unknown session")
		return
	}

	pattern := req.URL.Query().Get("pattern")
	if pattern == "" {
		pattern = "*"
	}

	usernames, err := s.State.ListAccounts(sess, pattern)
	if err != nil {
		s.replyBusinessError(w, err)
		return
	}

	s.replyJSON(w, 200, usernames)
}

func (s *Server) hSendMessage(w http.ResponseWriter, req *http.Request) {
	sess, found := s.requestSession(req)
	if !found {
		s.replyText(w, 401, "missing or unknown session")
		return
	}

	var data struct {
		Recipient string `json:"recipient"`
		Body      string `json:"body"`
	}

	if !s.readJSONBody(w, req, &data) {
		return
	}

	if data.Recipient == "" {
		s.replyError(w, 400, "missing or empty recipient")
		return
	}

	if err := s.State.SendMessage(sess, data.Recipient, data.Body); err != nil {
		s.replyBusinessError(w, err)
		return
	}

	s.MaybeRelay(&OpSendMessage{
		Recipient: data.Recipient,
		Sender:    sess.Username,
		Body:      data.Body,
	})

	s.replyEmpty(w, 204)
}

// hOpenSession logs the user in and streams events until the session ends
// or the client disconnects. Disconnecting triggers the same teardown as an
// explicit logout.
func (s *Server) hOpenSession(w http.ResponseWriter, req *http.Request) {
	username := req.URL.Query().Get("username")
	if username == "" {
		s.replyError(w, 400, "missing or empty username")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.replyError(w, 500, "response writer is not streamable")
		return
	}

	sink := newStreamSink(w, flusher)
	defer sink.close()

	sess, err := s.State.LogIn(username, sink)
	if err != nil {
		s.replyBusinessError(w, err)
		return
	}

	w.Header().Set(sessionIdHeader, sess.Id.String())
	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(200)

	sink.send(StreamEvent{
		Type:      "session",
		SessionId: sess.Id.String(),
	})

	select {
	case <-req.Context().Done():
		s.State.Disconnect(sess)
	case <-sess.Done():
	}
}

func (s *Server) hCloseSession(w http.ResponseWriter, req *http.Request) {
	sess, found := s.requestSession(req)
	if !found {
		s.replyText(w, 401, "missing or unknown session")
		return
	}

	if err := s.State.LogOut(sess); err != nil {
		s.replyBusinessError(w, err)
		return
	}

	s.replyEmpty(w, 204)
}

func (s *Server) requestSession(req *http.Request) (*Session, bool) {
	id, err := uuid.Parse(req.Header.Get(sessionIdHeader))
	if err != nil {
		return nil, false
	}

	return s.State.SessionById(id)
}

func (s *Server) readJSONBody(w http.ResponseWriter, req *http.Request, dest interface{}) bool {
	data, err := io.ReadAll(req.Body)
	if err != nil {
		s.replyError(w, 500, "cannot read request body: %v", err)
		return false
	}

	if err := json.Unmarshal(data, dest); err != nil {
		s.replyError(w, 400, "invalid request body: %v", err)
		return false
	}

	return true
}

// replyBusinessError maps a business error to a status code. Business errors
// are part of normal operation and are not logged as failures.
func (s *Server) replyBusinessError(w http.ResponseWriter, err error) {
	var status int

	switch {
	case errors.Is(err, ErrAccountExists):
		status = 409
	case errors.Is(err, ErrUnknownAccount):
		status = 404
	case errors.Is(err, ErrNotLoggedIn):
		status = 401
	default:
		s.replyError(w, 500, "%v", err)
		return
	}

	s.replyText(w, status, "%v", err)
}

// streamSink delivers events to one session stream. Writes are serialized
// with a mutex so that concurrent distributors and responses never
// interleave partial events; writes after close fail so that nothing touches
// the connection once its handler has returned.
type streamSink struct {
	mu      sync.Mutex
	w       io.Writer
	flusher http.Flusher
	closed  bool
}

func newStreamSink(w io.Writer, flusher http.Flusher) *streamSink {
	return &streamSink{
		w:       w,
		flusher: flusher,
	}
}

func (sk *streamSink) DistributeMessage(sender, body string) error {
	return sk.send(StreamEvent{
		Type:   "distributeMessage",
		Sender: sender,
		Body:   body,
	})
}

func (sk *streamSink) send(event StreamEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	data = append(data, '\n')

	sk.mu.Lock()
	defer sk.mu.Unlock()

	if sk.closed {
		return errors.New("stream closed")
	}

	if _, err := sk.w.Write(data); err != nil {
		return err
	}

	sk.flusher.Flush()

	return nil
}

func (sk *streamSink) close() {
	sk.mu.Lock()
	sk.closed = true
	sk.mu.Unlock()
}
