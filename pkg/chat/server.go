package chat

import (
	"fmt"
	"net/http"
	"path"
	"strconv"
	"sync"
	"time"
)

type ServerCfg struct {
	Id       ReplicaId
	Replicas ReplicaSet

	DataDirectory string

	Logger Logger

	TickInterval time.Duration
	ProbeTimeout time.Duration
}

type Server struct {
	Cfg ServerCfg
	Log Logger

	Id   ReplicaId
	Self Replica

	State *State

	logStore *LogStore

	leaderMu      sync.RWMutex
	currentLeader *Replica

	relayMu    sync.Mutex
	relayGroup *RelayGroup

	tickTicker *time.Ticker

	httpServer  *http.Server
	httpClient  *http.Client
	probeClient *http.Client

	rpcChan chan IncomingRPCMsg

	errorChan chan<- error
	stopChan  chan struct{}
	wg        sync.WaitGroup
}

func NewServer(cfg ServerCfg) (*Server, error) {
	if len(cfg.Replicas) == 0 {
		return nil, fmt.Errorf("missing or empty replica table")
	}

	seen := make(map[ReplicaId]struct{})
	for _, replica := range cfg.Replicas {
		if _, found := seen[replica.Id]; found {
			return nil, fmt.Errorf("duplicate replica id %d", replica.Id)
		}
		seen[replica.Id] = struct{}{}
	}

	self, err := cfg.Replicas.ById(cfg.Id)
	if err != nil {
		return nil, err
	}

	if cfg.DataDirectory == "" {
		return nil, fmt.Errorf("missing or empty data directory")
	}

	if cfg.Logger == nil {
		return nil, fmt.Errorf("missing logger")
	}

	if cfg.TickInterval == 0 {
		cfg.TickInterval = time.Second
	}

	if cfg.ProbeTimeout == 0 {
		cfg.ProbeTimeout = 500 * time.Millisecond
	}

	dataDirectory := path.Join(cfg.DataDirectory,
		strconv.Itoa(int(cfg.Id)))

	logStore := NewLogStore(dataDirectory, cfg.Logger)
	state := NewState(logStore, cfg.Logger)

	s := &Server{
		Cfg: cfg,
		Log: cfg.Logger,

		Id:   cfg.Id,
		Self: self,

		State: state,

		logStore: logStore,

		rpcChan: make(chan IncomingRPCMsg),

		stopChan: make(chan struct{}),
	}

	return s, nil
}

func (s *Server) Start(errorChan chan<- error) error {
	s.Log.Debug(1, "starting")

	s.errorChan = errorChan

	// Durable state
	if err := s.State.Open(); err != nil {
		return fmt.Errorf("cannot open state: %w", err)
	}

	// Transport
	if err := s.startHTTPServer(); err != nil {
		return fmt.Errorf("cannot start http server: %w", err)
	}

	s.httpClient = newHTTPClient()
	s.probeClient = newProbeClient(s.Cfg.ProbeTimeout)

	// Election tick
	s.tickTicker = time.NewTicker(s.Cfg.TickInterval)

	// Main
	s.wg.Add(1)
	go s.main()

	s.Log.Debug(1, "started")

	return nil
}

func (s *Server) Stop() {
	s.Log.Debug(1, "stopping")

	close(s.stopChan)
	s.wg.Wait()

	s.Log.Debug(1, "stopped")
}

func (s *Server) main() {
	defer s.wg.Done()

	defer func() {
		if value := recover(); value != nil {
			msg := RecoverValueString(value)
			trace := StackTrace(10)
			s.Log.Error("panic: %s\n%s", msg, trace)

			s.errorChan <- fmt.Errorf("panic: %s", msg)
			s.shutdown()
		}
	}()

	for {
		select {
		case <-s.stopChan:
			s.shutdown()
			return

		case <-s.tickTicker.C:
			s.onTick()

		case incomingMsg := <-s.rpcChan:
			s.onRPCMsg(incomingMsg.SourceId, incomingMsg.Msg)
		}
	}
}

func (s *Server) shutdown() {
	s.Log.Debug(1, "shutting down")

	s.stopHTTPServer()

	s.endRelays()
	s.tickTicker.Stop()

	close(s.rpcChan)
}

// Status derives the replica status from the current-leader reference; it is
// never stored directly.
func (s *Server) Status() ReplicaStatus {
	if s.IsLeader() {
		return ReplicaStatusLeader
	}

	return ReplicaStatusFollower
}

func (s *Server) IsLeader() bool {
	leader := s.Leader()
	return leader != nil && leader.Id == s.Id
}

func (s *Server) Leader() *Replica {
	s.leaderMu.RLock()
	defer s.leaderMu.RUnlock()

	return s.currentLeader
}

func (s *Server) setLeader(leader Replica) {
	s.leaderMu.Lock()
	changed := s.currentLeader == nil || s.currentLeader.Id != leader.Id
	s.currentLeader = &leader
	s.leaderMu.Unlock()

	if changed {
		s.Log.Info("leader is now %v", leader)
	}

	if leader.Id != s.Id {
		s.endRelays()
	}
}

func (s *Server) onTick() {
	if s.IsLeader() {
		return
	}

	// Not leading; a relay group from a past tenure must not outlive it.
	s.endRelays()

	leader := s.Leader()

	if leader == nil || !s.probe(*leader) {
		s.runElection()
	}
}

// runElection probes every more senior replica in descending id order; the
// first one alive is the leader. That replica already considers itself
// leader, or will discover it on its own tick, so no announcement is needed.
// If no senior replica is alive, this replica takes over and declares
// victory to every peer.
func (s *Server) runElection() {
	s.Log.Debug(1, "running election")

	for _, senior := range s.Cfg.Replicas.MoreSenior(s.Id) {
		if s.probe(senior) {
			s.setLeader(senior)
			return
		}
	}

	s.setLeader(s.Self)
	s.declareVictory()
}

func (s *Server) declareVictory() {
	s.Log.Info("declaring victory")

	s.broadcastMsg(&RPCDeclareVictory{LeaderId: s.Id})
}

func (s *Server) onRPCMsg(sourceId ReplicaId, msg RPCMsg) {
	s.Log.Debug(2, "received %v from replica-%d", msg, sourceId)

	switch msgv := msg.(type) {
	case *RPCDeclareVictory:
		s.onDeclareVictory(msgv)
	case *RPCRelayOp:
		s.onRelayOp(msgv)
	default:
		s.Log.Error("unexpected message %v from replica-%d", msg, sourceId)
	}
}

func (s *Server) onDeclareVictory(msg *RPCDeclareVictory) {
	// The declarer is trusted unconditionally, whatever its id.
	leader, err := s.Cfg.Replicas.ById(msg.LeaderId)
	if err != nil {
		// A victory declaration from a replica absent from the table means
		// the processes disagree on the configuration.
		Panicf("victory declaration from unknown replica %d", msg.LeaderId)
	}

	s.setLeader(leader)
}

func (s *Server) onRelayOp(msg *RPCRelayOp) {
	op, err := DecodeOp(msg.Data)
	if err != nil {
		s.Log.Error("cannot decode relayed operation: %v", err)
		return
	}

	if err := s.State.ApplyOp(op); err != nil {
		// This replica may have missed earlier operations; being stale is
		// tolerated.
		s.Log.Error("cannot apply relayed operation %v: %v", op, err)
	}
}

// MaybeRelay mirrors an accepted operation to all peers if this replica
// currently believes itself leader. The relay group is built lazily on the
// first operation after winning and discarded as soon as leadership is
// observed lost.
func (s *Server) MaybeRelay(op Op) {
	if !s.IsLeader() {
		s.endRelays()
		return
	}

	s.relayMu.Lock()
	if s.relayGroup == nil {
		s.relayGroup = NewRelayGroup(s, s.Cfg.Replicas.Peers(s.Id))
	}
	group := s.relayGroup
	s.relayMu.Unlock()

	group.Relay(op)
}

func (s *Server) endRelays() {
	s.relayMu.Lock()
	group := s.relayGroup
	s.relayGroup = nil
	s.relayMu.Unlock()

	if group != nil {
		group.End()
	}
}
