// Package protocol implements the line-oriented wire format used between
// the coordinator's auction tasks and bidder clients:
//
//	<type> <k1>=<v1> <k2>=<v2> ... <kN>=<vN>\n
//
// Tokens are separated by runs of ASCII whitespace. Values containing
// spaces are encoded with underscores at the send boundary; this is a
// deliberate lossy transform (whitespace <-> underscore), not reversible
// for values that legitimately contain underscores.
package protocol

import (
	"strings"
)

// Message is a single decoded line: a type and its key/value arguments.
type Message struct {
	Type string
	Args map[string]string
}

// New returns a Message with a fresh, empty argument map.
func New(msgType string) Message {
	return Message{Type: msgType, Args: make(map[string]string)}
}

// With returns a copy of m with key=value set, for chained construction.
func (m Message) With(key, value string) Message {
	out := Message{Type: m.Type, Args: make(map[string]string, len(m.Args)+1)}
	for k, v := range m.Args {
		out.Args[k] = v
	}
	out.Args[key] = value
	return out
}

// Encode renders m as a single wire line, without the trailing newline.
// Keys are emitted in the order given by keyOrder for determinism in
// tests and logs; any Args keys not present in keyOrder are appended
// afterward in unspecified order.
func Encode(m Message, keyOrder ...string) string {
	var b strings.Builder
	b.WriteString(m.Type)

	written := make(map[string]bool, len(m.Args))
	for _, k := range keyOrder {
		v, ok := m.Args[k]
		if !ok {
			continue
		}
		b.WriteByte(' ')
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(encodeValue(v))
		written[k] = true
	}
	for k, v := range m.Args {
		if written[k] {
			continue
		}
		b.WriteByte(' ')
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(encodeValue(v))
	}
	return b.String()
}

// Decode parses a single wire line into a Message. The first whitespace-
// separated token is the type; remaining tokens are split on the first
// '=' into key/value pairs. Tokens with no '=', or with an empty key, are
// silently dropped rather than failing the whole line.
func Decode(line string) (Message, bool) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return Message{}, false
	}

	m := New(fields[0])
	for _, tok := range fields[1:] {
		idx := strings.IndexByte(tok, '=')
		if idx <= 0 {
			continue // no '=' or empty key: malformed, dropped
		}
		key := tok[:idx]
		value := decodeValue(tok[idx+1:])
		m.Args[key] = value
	}
	return m, true
}

// encodeValue replaces spaces with underscores so the value survives the
// whitespace-delimited wire format as a single token.
func encodeValue(v string) string {
	return strings.ReplaceAll(v, " ", "_")
}

// decodeValue is encodeValue's inverse for the underscore<->space pair;
// it is lossy for values that legitimately contain an underscore.
func decodeValue(v string) string {
	return strings.ReplaceAll(v, "_", " ")
}
