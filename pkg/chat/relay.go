package chat

import (
	"sync/atomic"
)

// Relay is a leader-owned one-way channel forwarding accepted operations to
// one follower. Forwarding is fire-and-forget: failures are logged and
// ignored, and a stale follower resynchronizes from its own durable logs
// once it eventually leads.
type Relay struct {
	server *Server
	target Replica

	ended atomic.Bool
}

func NewRelay(server *Server, target Replica) *Relay {
	return &Relay{
		server: server,
		target: target,
	}
}

func (r *Relay) Relay(op Op) {
	if r.ended.Load() {
		return
	}

	data, err := EncodeOp(op)
	if err != nil {
		r.server.Log.Error("cannot encode operation %v: %v", op, err)
		return
	}

	if err := r.server.sendMsg(r.target, &RPCRelayOp{Data: data}); err != nil {
		r.server.Log.Error("cannot relay operation to %v: %v", r.target, err)
	}
}

// End closes the relay; subsequent Relay calls are no-ops.
func (r *Relay) End() {
	r.ended.Store(true)
}

// RelayGroup holds one relay per follower. The leader creates a group the
// first time it needs to relay and discards it when it stops leading; a
// re-elected leader builds a fresh one.
type RelayGroup struct {
	relays []*Relay
}

func NewRelayGroup(server *Server, targets []Replica) *RelayGroup {
	relays := make([]*Relay, len(targets))

	for i, target := range targets {
		relays[i] = NewRelay(server, target)
	}

	return &RelayGroup{relays: relays}
}

func (g *RelayGroup) Relay(op Op) {
	for _, relay := range g.relays {
		relay.Relay(op)
	}
}

func (g *RelayGroup) End() {
	for _, relay := range g.relays {
		relay.End()
	}
}
