package chat

import (
	"bytes"
	"fmt"
)

const (
	UnitSeparator byte = 0x1f
)

// Op is a state-changing client operation. Operations accepted by the leader
// are encoded, relayed to every follower and applied there identically.
type Op interface {
	Name() string
	Encode(*bytes.Buffer)
	Decode([]byte) error

	fmt.Stringer
}

func EncodeOp(op Op) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteString(op.Name())
	buf.WriteByte(UnitSeparator)
	op.Encode(&buf)

	return buf.Bytes(), nil
}

func DecodeOp(data []byte) (Op, error) {
	sep := bytes.IndexByte(data, UnitSeparator)
	if sep == -1 {
		return nil, fmt.Errorf("invalid data")
	}

	var op Op

	name := string(data[:sep])
	switch name {
	case "createAccount":
		op = &OpCreateAccount{}
	case "deleteAccount":
		op = &OpDeleteAccount{}
	case "sendMessage":
		op = &OpSendMessage{}
	default:
		return nil, fmt.Errorf("unknown op %q", name)
	}

	if err := op.Decode(data[sep+1:]); err != nil {
		return nil, err
	}

	return op, nil
}

type OpCreateAccount struct {
	Username string `json:"username"`
}

func (op *OpCreateAccount) Name() string {
	return "createAccount"
}

func (op *OpCreateAccount) Encode(buf *bytes.Buffer) {
	buf.WriteString(op.Username)
}

func (op *OpCreateAccount) Decode(data []byte) error {
	op.Username = string(data)
	return nil
}

func (op *OpCreateAccount) String() string {
	return fmt.Sprintf("CreateAccount{username: %q}", op.Username)
}

type OpDeleteAccount struct {
	Username string `json:"username"`
}

func (op *OpDeleteAccount) Name() string {
	return "deleteAccount"
}

func (op *OpDeleteAccount) Encode(buf *bytes.Buffer) {
	buf.WriteString(op.Username)
}

func (op *OpDeleteAccount) Decode(data []byte) error {
	op.Username = string(data)
	return nil
}

func (op *OpDeleteAccount) String() string {
	return fmt.Sprintf("DeleteAccount{username: %q}", op.Username)
}

type OpSendMessage struct {
	Recipient string `json:"recipient"`
	Sender    string `json:"sender"`
	Body      string `json:"body"`
}

func (op *OpSendMessage) Name() string {
	return "sendMessage"
}

func (op *OpSendMessage) Encode(buf *bytes.Buffer) {
	buf.WriteString(op.Recipient)
	buf.WriteByte(UnitSeparator)
	buf.WriteString(op.Sender)
	buf.WriteByte(UnitSeparator)
	buf.WriteString(op.Body)
}

func (op *OpSendMessage) Decode(data []byte) error {
	sep := bytes.IndexByte(data, UnitSeparator)
	if sep == -1 {
		return fmt.Errorf("invalid data")
	}

	op.Recipient = string(data[:sep])
	data = data[sep+1:]

	sep = bytes.IndexByte(data, UnitSeparator)
	if sep == -1 {
		return fmt.Errorf("invalid data")
	}

	op.Sender = string(data[:sep])
	op.Body = string(data[sep+1:])

	return nil
}

func (op *OpSendMessage) String() string {
	return fmt.Sprintf("SendMessage{recipient: %q, sender: %q}",
		op.Recipient, op.Sender)
}
