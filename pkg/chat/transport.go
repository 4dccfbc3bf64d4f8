package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const sourceIdHeader = "X-Chat-Source-Id"

func newHTTPClient() *http.Client {
	transport := http.Transport{
		Proxy: http.ProxyFromEnvironment,

		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 10 * time.Second,
		}).DialContext,

		MaxIdleConns: 30,

		IdleConnTimeout:       60 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	client := http.Client{
		Timeout:   10 * time.Second,
		Transport: &transport,
	}

	return &client
}

// newProbeClient returns the client used for liveness probes. Probes are
// synchronous and must never block past their timeout.
func newProbeClient(timeout time.Duration) *http.Client {
	transport := http.Transport{
		DialContext: (&net.Dialer{
			Timeout: timeout,
		}).DialContext,
	}

	client := http.Client{
		Timeout:   timeout,
		Transport: &transport,
	}

	return &client
}

func (s *Server) startHTTPServer() error {
	address := s.Self.HostPort()

	listener, err := net.Listen("tcp", address)
	if err != nil {
		return fmt.Errorf("cannot listen on %s: %w", address, err)
	}

	s.Log.Info("listening on %s", address)

	s.httpServer = &http.Server{
		Addr:              address,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
		Handler:           s,
	}

	go func() {
		defer func() {
			if value := recover(); value != nil {
				msg := RecoverValueString(value)
				trace := StackTrace(10)
				s.Log.Error("panic: %s\n%s", msg, trace)
			}
		}()

		if err := s.httpServer.Serve(listener); err != http.ErrServerClosed {
			s.errorChan <- fmt.Errorf("server error: %w", err)
			return
		}
	}()

	return nil
}

func (s *Server) stopHTTPServer() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	s.httpServer.Shutdown(ctx)
}

func (s *Server) sendMsg(recipient Replica, msg RPCMsg) error {
	s.Log.Debug(2, "sending %v to %v", msg, recipient)

	// Encode the message
	msgData, err := EncodeRPCMsg(msg)
	if err != nil {
		return fmt.Errorf("cannot encode message: %w", err)
	}

	// Create the HTTP request
	uri := url.URL{
		Scheme: "http",
		Host:   recipient.HostPort(),
		Path:   "/rpc",
	}

	req, err := http.NewRequest("POST", uri.String(), bytes.NewReader(msgData))
	if err != nil {
		return fmt.Errorf("cannot create http request: %w", err)
	}

	req.Header.Set(sourceIdHeader, strconv.Itoa(int(s.Id)))

	// Send the request asynchronously to avoid blocking the caller
	go s.sendMsgRequest(recipient, msg, req)

	return nil
}

func (s *Server) sendMsgRequest(recipient Replica, msg RPCMsg, req *http.Request) {
	defer func() {
		if value := recover(); value != nil {
			msg := RecoverValueString(value)
			trace := StackTrace(10)
			s.Log.Error("cannot send request: panic: %s\n%s", msg, trace)
		}
	}()

	// Send the request and wait for the response
	res, err := s.httpClient.Do(req)
	if err != nil {
		s.Log.Error("cannot send %v to %v: %v", msg, recipient, err)
		return
	}
	defer res.Body.Close()

	// Check the response status
	if res.StatusCode != 204 {
		var errMsg string

		body, err := io.ReadAll(res.Body)
		if err == nil {
			errMsg = string(body)

			if idx := strings.IndexAny(errMsg, "\r\n"); idx > 0 {
				errMsg = errMsg[:idx]
			}

			if errMsg != "" {
				errMsg = ": " + errMsg
			}
		} else {
			s.Log.Error("cannot read response from %v: %v", recipient, err)
		}

		s.Log.Error("http request to %v failed with status %d%s",
			recipient, res.StatusCode, errMsg)
	}
}

func (s *Server) broadcastMsg(msg RPCMsg) {
	for _, peer := range s.Cfg.Replicas.Peers(s.Id) {
		if err := s.sendMsg(peer, msg); err != nil {
			s.Log.Error("cannot send %v to %v: %v", msg, peer, err)
		}
	}
}

// probe sends a synchronous ping with a bounded timeout. Any failure,
// whatever its nature, counts as "not alive".
func (s *Server) probe(replica Replica) bool {
	msgData, err := EncodeRPCMsg(&RPCPing{})
	if err != nil {
		s.Log.Error("cannot encode ping: %v", err)
		return false
	}

	uri := url.URL{
		Scheme: "http",
		Host:   replica.HostPort(),
		Path:   "/rpc",
	}

	req, err := http.NewRequest("POST", uri.String(), bytes.NewReader(msgData))
	if err != nil {
		s.Log.Error("cannot create http request: %v", err)
		return false
	}

	req.Header.Set(sourceIdHeader, strconv.Itoa(int(s.Id)))

	res, err := s.probeClient.Do(req)
	if err != nil {
		s.Log.Debug(2, "%v is not alive: %v", replica, err)
		return false
	}
	defer res.Body.Close()

	return res.StatusCode == 204
}

func (s *Server) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	switch {
	case req.URL.Path == "/rpc" && req.Method == "POST":
		s.hRPC(w, req)

	case req.URL.Path == "/accounts" && req.Method == "POST":
		s.hCreateAccount(w, req)

	case req.URL.Path == "/accounts" && req.Method == "GET":
		s.hListAccounts(w, req)

	case strings.HasPrefix(req.URL.Path, "/accounts/") &&
		req.Method == "DELETE":
		s.hDeleteAccount(w, req)

	case req.URL.Path == "/session" && req.Method == "GET":
		s.hOpenSession(w, req)

	case req.URL.Path == "/session" && req.Method == "DELETE":
		s.hCloseSession(w, req)

	case req.URL.Path == "/messages" && req.Method == "POST":
		s.hSendMessage(w, req)

	default:
		s.replyError(w, 404, "unknown route %s %s", req.Method, req.URL.Path)
	}
}

func (s *Server) hRPC(w http.ResponseWriter, req *http.Request) {
	// Obtain the identifier of the sender of the message
	sourceIdValue := req.Header.Get(sourceIdHeader)
	sourceId, err := strconv.Atoi(sourceIdValue)
	if err != nil {
		s.replyError(w, 400, "missing or invalid %s header field",
			sourceIdHeader)
		return
	}

	// Read and decode the message
	data, err := io.ReadAll(req.Body)
	if err != nil {
		s.replyError(w, 500, "cannot read request body: %v", err)
		return
	}

	msg, err := DecodeRPCMsg(data)
	if err != nil {
		s.replyError(w, 400, "invalid message: %v", err)
		return
	}

	// Send the response
	s.replyEmpty(w, 204)

	// Pings carry no state change; the response itself is the liveness
	// signal, so they are not forwarded to the main goroutine.
	if _, ping := msg.(*RPCPing); ping {
		return
	}

	incomingMsg := IncomingRPCMsg{
		SourceId: ReplicaId(sourceId),
		Msg:      msg,
	}

	// Send the message to the main goroutine unless the server is being
	// stopped.
	select {
	case <-s.stopChan:
		return
	default:
	}

	s.rpcChan <- incomingMsg
}

func (s *Server) replyEmpty(w http.ResponseWriter, status int) {
	w.WriteHeader(status)
}

func (s *Server) replyText(w http.ResponseWriter, status int, format string, args ...interface{}) {
	w.WriteHeader(status)
	fmt.Fprintf(w, format, args...)
}

func (s *Server) replyError(w http.ResponseWriter, status int, format string, args ...interface{}) {
	s.Log.Error(format, args...)
	s.replyText(w, status, format, args...)
}

func (s *Server) replyJSON(w http.ResponseWriter, status int, value interface{}) {
	data, err := json.Marshal(value)
	if err != nil {
		s.replyError(w, 500, "cannot encode response: %v", err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(data)
}
