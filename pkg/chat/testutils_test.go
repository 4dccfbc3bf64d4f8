package chat

import (
	"net"
	"sync"
	"testing"
	"time"
)

// discardLogger drops everything; test goroutines can outlive the test that
// started them, so logging through testing.T is not safe here.
type discardLogger struct{}

func (l discardLogger) Debug(int, string, ...interface{}) {}
func (l discardLogger) Info(string, ...interface{})       {}
func (l discardLogger) Error(string, ...interface{})      {}

func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(timeout)

	for time.Now().Before(deadline) {
		if cond() {
			return
		}

		time.Sleep(10 * time.Millisecond)
	}

	t.Fatalf("%s not reached after %v", what, timeout)
}

func testReplicaSet(t *testing.T, n int) ReplicaSet {
	t.Helper()

	set := make(ReplicaSet, n)

	for i := 0; i < n; i++ {
		listener, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			t.Fatalf("cannot listen: %v", err)
		}

		port := listener.Addr().(*net.TCPAddr).Port
		listener.Close()

		set[i] = Replica{Id: ReplicaId(i), Address: "127.0.0.1", Port: port}
	}

	return set
}

func startTestServer(t *testing.T, set ReplicaSet, id ReplicaId) (*Server, func()) {
	t.Helper()

	cfg := ServerCfg{
		Id:       id,
		Replicas: set,

		DataDirectory: t.TempDir(),

		Logger: discardLogger{},

		TickInterval: 25 * time.Millisecond,
		ProbeTimeout: 100 * time.Millisecond,
	}

	server, err := NewServer(cfg)
	if err != nil {
		t.Fatalf("cannot create server: %v", err)
	}

	errorChan := make(chan error, 1)

	if err := server.Start(errorChan); err != nil {
		t.Fatalf("cannot start server: %v", err)
	}

	var once sync.Once
	stop := func() {
		once.Do(server.Stop)
	}

	t.Cleanup(stop)

	return server, stop
}

func newTestState(t *testing.T) *State {
	t.Helper()

	return newTestStateAt(t, t.TempDir())
}

func newTestStateAt(t *testing.T, dir string) *State {
	t.Helper()

	state := NewState(NewLogStore(dir, discardLogger{}), discardLogger{})

	if err := state.Open(); err != nil {
		t.Fatalf("cannot open state: %v", err)
	}

	return state
}

// captureSink records distributed messages for inspection.
type captureSink struct {
	mu       sync.Mutex
	messages []PendingMessage
}

func (sk *captureSink) DistributeMessage(sender, body string) error {
	sk.mu.Lock()
	defer sk.mu.Unlock()

	sk.messages = append(sk.messages, PendingMessage{Sender: sender, Body: body})

	return nil
}

func (sk *captureSink) Messages() []PendingMessage {
	sk.mu.Lock()
	defer sk.mu.Unlock()

	messages := make([]PendingMessage, len(sk.messages))
	copy(messages, sk.messages)

	return messages
}
