package chat

import (
	"reflect"
	"testing"
)

func TestEncodeRecord(t *testing.T) {
	tests := []struct {
		fields  []string
		encoded string
	}{
		{[]string{"alice"}, "alice\n"},
		{[]string{"bob", "alice", "hi"}, "bob\talice\thi\n"},
		{[]string{"a\tb"}, "a\\tb\n"},
		{[]string{"a\nb"}, "a\\nb\n"},
		{[]string{"", ""}, "\t\n"},
	}

	for _, test := range tests {
		encoded := string(EncodeRecord(test.fields))

		if encoded != test.encoded {
			t.Errorf("fields %q: expected %q, got %q",
				test.fields, test.encoded, encoded)
		}
	}
}

func TestDecodeRecordRoundTrip(t *testing.T) {
	tests := [][]string{
		{"alice"},
		{"bob", "alice", "hi"},
		{"with\ttab", "with\nnewline", "plain"},
		{"", "x", ""},
		{"trailing\t"},
	}

	for _, fields := range tests {
		encoded := EncodeRecord(fields)

		// The trailing record separator is stripped by the line reader
		// before decoding.
		line := string(encoded[:len(encoded)-1])

		decoded := DecodeRecord(line)

		if !reflect.DeepEqual(decoded, fields) {
			t.Errorf("fields %q: decoded as %q", fields, decoded)
		}
	}
}

func TestDecodeRecordEscapes(t *testing.T) {
	fields := DecodeRecord("a\\tb\tc\\nd")

	expected := []string{"a\tb", "c\nd"}

	if !reflect.DeepEqual(fields, expected) {
		t.Errorf("expected %q, got %q", expected, fields)
	}
}
