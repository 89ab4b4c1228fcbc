package ami

import (
	"bufio"
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// field is one key/value pair in wire order. Keys compare case-insensitively
// on lookup but keep their original case on serialization.
type field struct {
	key   string
	value string
}

// Message is an ordered sequence of AMI header fields plus the time it was
// constructed. The zero value is an empty message with no fields.
type Message struct {
	fields  []field
	created time.Time
}

// NewMessage builds a Message from the given action name, auto-assigning a
// fresh ActionID. Additional key/value pairs may be supplied as a flat list
// (k1, v1, k2, v2, ...); an odd-length list panics, matching a programmer
// error rather than a runtime one.
func NewMessage(action string, kv ...string) *Message {
	if len(kv)%2 != 0 {
		panic("ami: NewMessage requires an even number of key/value arguments")
	}
	m := &Message{created: time.Now()}
	m.Set("Action", action)
	for i := 0; i+1 < len(kv); i += 2 {
		m.Set(kv[i], kv[i+1])
	}
	if m.Get("ActionID") == "" {
		m.Set("ActionID", uuid.NewString())
	}
	return m
}

// Created returns the time this Message was constructed in memory. It is
// not part of the wire format.
func (m *Message) Created() time.Time { return m.created }

// Get returns the value of the first field whose key matches name
// case-insensitively, or "" if absent.
func (m *Message) Get(name string) string {
	for _, f := range m.fields {
		if strings.EqualFold(f.key, name) {
			return f.value
		}
	}
	return ""
}

// Has reports whether a field with the given key (case-insensitive) exists.
func (m *Message) Has(name string) bool {
	for _, f := range m.fields {
		if strings.EqualFold(f.key, name) {
			return true
		}
	}
	return false
}

// Set replaces the value of the first field matching name (case-insensitive)
// or appends a new field if none matches.
func (m *Message) Set(name, value string) {
	for i := range m.fields {
		if strings.EqualFold(m.fields[i].key, name) {
			m.fields[i].value = value
			return
		}
	}
	m.fields = append(m.fields, field{key: name, value: value})
}

// FirstKey returns the key of the first field in wire order, or "" if the
// message has no fields. Used by the correlation rule in §4.6: a message is
// a response only when its first field's key is "Response".
func (m *Message) FirstKey() string {
	if len(m.fields) == 0 {
		return ""
	}
	return m.fields[0].key
}

// ActionID returns the ActionID field, or "" if absent.
func (m *Message) ActionID() string { return m.Get("ActionID") }

// Action returns the Action field, or "" if absent.
func (m *Message) Action() string { return m.Get("Action") }

// KV returns every field except Action and ActionID as a flat (key, value,
// key, value, ...) slice in wire order, suitable for passing back into
// NewMessage to rebuild an equivalent action under a fresh ActionID.
func (m *Message) KV() []string {
	kv := make([]string, 0, len(m.fields)*2)
	for _, f := range m.fields {
		if strings.EqualFold(f.key, "Action") || strings.EqualFold(f.key, "ActionID") {
			continue
		}
		kv = append(kv, f.key, f.value)
	}
	return kv
}

// IsResponse reports whether the first field's key is "Response"
// (case-insensitive).
func (m *Message) IsResponse() bool { return strings.EqualFold(m.FirstKey(), "Response") }

// IsEvent reports whether the first field's key is "Event" (case-insensitive).
func (m *Message) IsEvent() bool { return strings.EqualFold(m.FirstKey(), "Event") }

// ToBytes serializes the message as "key: value\r\n" lines followed by a
// terminating \r\n. No normalization of values is performed.
func (m *Message) ToBytes() []byte {
	var buf bytes.Buffer
	for _, f := range m.fields {
		buf.WriteString(f.key)
		buf.WriteString(": ")
		buf.WriteString(f.value)
		buf.WriteString("\r\n")
	}
	buf.WriteString("\r\n")
	return buf.Bytes()
}

// Malformed is returned by FromBytes when the payload does not parse as a
// well-formed message.
type Malformed struct {
	Reason string
}

func (e *Malformed) Error() string { return "ami: malformed message: " + e.Reason }

// FromBytes parses a payload consisting of header lines (each
// "key: value\r\n" or "key:value\r\n") followed by a single blank line
// ("\r\n"). It fails with *Malformed if the payload is unterminated or
// contains a line without a colon.
func FromBytes(payload []byte) (*Message, error) {
	m := &Message{created: time.Now()}

	scanner := bufio.NewScanner(bytes.NewReader(payload))
	scanner.Buffer(make([]byte, 0, 4096), 1<<20)
	terminated := false
	lineNo := 0

	for scanner.Scan() {
		lineNo++
		line := strings.TrimRight(scanner.Text(), "\r")
		if line == "" {
			terminated = true
			break
		}
		idx := strings.IndexByte(line, ':')
		if idx < 0 {
			return nil, &Malformed{Reason: fmt.Sprintf("malformed field on line %d", lineNo)}
		}
		key := line[:idx]
		value := line[idx+1:]
		value = strings.TrimPrefix(value, " ")
		m.fields = append(m.fields, field{key: key, value: value})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if !terminated {
		return nil, &Malformed{Reason: "unterminated message"}
	}
	return m, nil
}
