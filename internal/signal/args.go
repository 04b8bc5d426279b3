package signal

import (
	"encoding/json"
	"fmt"
)

// Args are the positional arguments of one inbound event.
type Args []json.RawMessage

func (a Args) Len() int { return len(a) }

// Decode unmarshals argument i into v.
func (a Args) Decode(i int, v any) error {
	if i < 0 || i >= len(a) {
		return fmt.Errorf("argument %d missing (have %d)", i, len(a))
	}
	return json.Unmarshal(a[i], v)
}

// String returns argument i as a string, or "" if absent or not a string.
func (a Args) String(i int) string {
	var s string
	if err := a.Decode(i, &s); err != nil {
		return ""
	}
	return s
}

// Strings returns argument i as a string list, or nil.
func (a Args) Strings(i int) []string {
	var ss []string
	if err := a.Decode(i, &ss); err != nil {
		return nil
	}
	return ss
}

// Map returns argument i as an object, or nil.
func (a Args) Map(i int) map[string]any {
	var m map[string]any
	if err := a.Decode(i, &m); err != nil {
		return nil
	}
	return m
}
