package chat

import (
	"encoding/json"
	"fmt"
)

type RPCMsg interface {
	GetType() string

	fmt.Stringer
}

type IncomingRPCMsg struct {
	SourceId ReplicaId
	Msg      RPCMsg
}

// RPCPing is a liveness probe. Receiving it has no side effect; a successful
// response is the only signal.
type RPCPing struct{}

func (msg *RPCPing) GetType() string {
	return "ping"
}

func (msg *RPCPing) String() string {
	return "Ping{}"
}

// RPCDeclareVictory announces that the sender won an election. The declarer
// is trusted unconditionally: only a replica that found no senior replica
// alive declares victory.
type RPCDeclareVictory struct {
	LeaderId ReplicaId `json:"leaderId"`
}

func (msg *RPCDeclareVictory) GetType() string {
	return "declareVictory"
}

func (msg *RPCDeclareVictory) String() string {
	return fmt.Sprintf("DeclareVictory{leaderId: %d}", msg.LeaderId)
}

// RPCRelayOp mirrors a client operation accepted by the leader to a
// follower. Data is an encoded operation (see EncodeOp).
type RPCRelayOp struct {
	Data []byte `json:"data"`
}

func (msg *RPCRelayOp) GetType() string {
	return "relayOperation"
}

func (msg *RPCRelayOp) String() string {
	return fmt.Sprintf("RelayOp{%d bytes}", len(msg.Data))
}

func EncodeRPCMsg(msg RPCMsg) ([]byte, error) {
	value := struct {
		Type  string `json:"type"`
		Value RPCMsg `json:"value"`
	}{
		Type:  msg.GetType(),
		Value: msg,
	}

	return json.Marshal(value)
}

func DecodeRPCMsg(data []byte) (RPCMsg, error) {
	var value struct {
		Type  string          `json:"type"`
		Value json.RawMessage `json:"value"`
	}

	if err := json.Unmarshal(data, &value); err != nil {
		return nil, err
	}

	var msg RPCMsg

	switch value.Type {
	case "ping":
		msg = &RPCPing{}

	case "declareVictory":
		msg = &RPCDeclareVictory{}

	case "relayOperation":
		msg = &RPCRelayOp{}

	default:
		return nil, fmt.Errorf("unknown message type %q", value.Type)
	}

	if err := json.Unmarshal(value.Value, &msg); err != nil {
		return nil, err
	}

	return msg, nil
}
