package types

import (
	"bytes"
	"encoding/json"
	"sort"
)

// Event represents a typed event emitted during state transitions. Attribute
// keys are kept in emission order so indexers observe a stable layout.
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
	Keys       []string          `json:"-"`
}

// NewEvent returns an empty event of the supplied type.
func NewEvent(eventType string) *Event {
	return &Event{Type: eventType, Attributes: map[string]string{}}
}

// With appends an attribute. Re-setting an existing key keeps its original
// position.
func (e *Event) With(key, value string) *Event {
	if e.Attributes == nil {
		e.Attributes = map[string]string{}
	}
	if _, ok := e.Attributes[key]; !ok {
		e.Keys = append(e.Keys, key)
	}
	e.Attributes[key] = value
	return e
}

// MarshalJSON encodes the attributes as an object whose members follow the
// emission order.
func (e Event) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(`{"type":`)
	typ, err := json.Marshal(e.Type)
	if err != nil {
		return nil, err
	}
	buf.Write(typ)
	buf.WriteString(`,"attributes":{`)
	keys := e.Keys
	if len(keys) != len(e.Attributes) {
		keys = orderedKeys(e)
	}
	for i, key := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(key)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(e.Attributes[key])
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteString("}}")
	return buf.Bytes(), nil
}

func orderedKeys(e Event) []string {
	seen := make(map[string]struct{}, len(e.Attributes))
	keys := make([]string, 0, len(e.Attributes))
	for _, key := range e.Keys {
		if _, ok := e.Attributes[key]; !ok {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		keys = append(keys, key)
	}
	rest := make([]string, 0)
	for key := range e.Attributes {
		if _, ok := seen[key]; !ok {
			rest = append(rest, key)
		}
	}
	sort.Strings(rest)
	return append(keys, rest...)
}
