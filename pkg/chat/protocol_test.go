package chat

import (
	"testing"
)

func TestEncodeDecodeRPCMsg(t *testing.T) {
	msgs := []RPCMsg{
		&RPCPing{},
		&RPCDeclareVictory{LeaderId: 2},
		&RPCRelayOp{Data: []byte("createAccount\x1falice")},
	}

	for _, msg := range msgs {
		data, err := EncodeRPCMsg(msg)
		if err != nil {
			t.Fatalf("cannot encode %v: %v", msg, err)
		}

		decoded, err := DecodeRPCMsg(data)
		if err != nil {
			t.Fatalf("cannot decode %v: %v", msg, err)
		}

		if decoded.String() != msg.String() {
			t.Errorf("expected %v, got %v", msg, decoded)
		}
	}
}

func TestDecodeRPCMsgUnknownType(t *testing.T) {
	data := []byte(`{"type": "requestVote", "value": {}}`)

	if _, err := DecodeRPCMsg(data); err == nil {
		t.Errorf("expected an error for an unknown message type")
	}
}
