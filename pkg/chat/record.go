package chat

import (
	"bytes"
)

// Durable log records are lines of tab-separated fields. Separator bytes
// occurring inside a field are rewritten as the escape byte followed by a
// mnemonic letter so that a record always remains a single valid text line.
const (
	fieldSeparator        byte = '\t'
	fieldSeparatorLetter  byte = 't'
	recordSeparator       byte = '\n'
	recordSeparatorLetter byte = 'n'
	escapeByte            byte = '\\'
)

func EncodeRecord(fields []string) []byte {
	var buf bytes.Buffer

	for i, field := range fields {
		if i > 0 {
			buf.WriteByte(fieldSeparator)
		}

		escapeField(&buf, field)
	}

	buf.WriteByte(recordSeparator)

	return buf.Bytes()
}

func escapeField(buf *bytes.Buffer, field string) {
	for i := 0; i < len(field); i++ {
		switch field[i] {
		case fieldSeparator:
			buf.WriteByte(escapeByte)
			buf.WriteByte(fieldSeparatorLetter)

		case recordSeparator:
			buf.WriteByte(escapeByte)
			buf.WriteByte(recordSeparatorLetter)

		default:
			buf.WriteByte(field[i])
		}
	}
}

// DecodeRecord decodes a single line previously produced by EncodeRecord,
// without its trailing record separator.
func DecodeRecord(line string) []string {
	var fields []string
	var buf bytes.Buffer

	for i := 0; i < len(line); i++ {
		c := line[i]

		switch {
		case c == escapeByte && i+1 < len(line) &&
			line[i+1] == fieldSeparatorLetter:
			buf.WriteByte(fieldSeparator)
			i++

		case c == escapeByte && i+1 < len(line) &&
			line[i+1] == recordSeparatorLetter:
			buf.WriteByte(recordSeparator)
			i++

		case c == fieldSeparator:
			fields = append(fields, buf.String())
			buf.Reset()

		default:
			buf.WriteByte(c)
		}
	}

	return append(fields, buf.String())
}
