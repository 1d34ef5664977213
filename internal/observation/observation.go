// Package observation defines the entry schema agents submit and the closed
// set of projection states an entry may classify into.
package observation

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// State is one of the seven recognized projection classifications. No other
// value is ever accepted or persisted.
type State string

const (
	StateS1 State = "S1"
	StateS2 State = "S2"
	StateS3 State = "S3"
	StateS4 State = "S4"
	StateS5 State = "S5"
	StateS6 State = "S6"
	StateS7 State = "S7"
)

var recognizedStates = map[State]struct{}{
	StateS1: {}, StateS2: {}, StateS3: {}, StateS4: {},
	StateS5: {}, StateS6: {}, StateS7: {},
}

// SchemaError reports an entry that failed validation. The index identifies
// the offending entry within a submitted batch.
type SchemaError struct {
	Index  int
	Reason string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("entry %d: %s", e.Index, e.Reason)
}

// Projection is the classified payload of one observation. State carries the
// classification; Fields preserves any additional keys the agent submitted.
type Projection struct {
	State  State
	Fields map[string]json.RawMessage
}

// Entry is one validated observation. Fields preserves keys other than
// "projection" untouched.
type Entry struct {
	Projection Projection
	Fields     map[string]json.RawMessage
}

// Parse validates a raw JSON value as an entry. The value must be an object
// carrying a "projection" key whose value is itself an object classified into
// one of S1..S7. index is only used to label failures within a batch.
func Parse(raw json.RawMessage, index int) (Entry, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(raw, &top); err != nil || top == nil {
		return Entry{}, &SchemaError{Index: index, Reason: "entry must be a JSON object"}
	}
	projRaw, ok := top["projection"]
	if !ok {
		return Entry{}, &SchemaError{Index: index, Reason: "entry missing object 'projection'"}
	}
	var proj map[string]json.RawMessage
	if err := json.Unmarshal(projRaw, &proj); err != nil || proj == nil {
		return Entry{}, &SchemaError{Index: index, Reason: "'projection' must be a JSON object"}
	}
	stateRaw, ok := proj["state"]
	if !ok {
		return Entry{}, &SchemaError{Index: index, Reason: "projection missing 'state'"}
	}
	var state string
	if err := json.Unmarshal(stateRaw, &state); err != nil {
		return Entry{}, &SchemaError{Index: index, Reason: "projection 'state' must be a string"}
	}
	if _, ok := recognizedStates[State(state)]; !ok {
		return Entry{}, &SchemaError{Index: index, Reason: fmt.Sprintf("unrecognized projection state %q", state)}
	}
	delete(proj, "state")
	delete(top, "projection")
	return Entry{
		Projection: Projection{State: State(state), Fields: proj},
		Fields:     top,
	}, nil
}

// ParseBatch validates every raw entry, failing on the first invalid one so
// callers can reject the whole batch before any side effect.
func ParseBatch(raws []json.RawMessage) ([]Entry, error) {
	entries := make([]Entry, 0, len(raws))
	for i, raw := range raws {
		entry, err := Parse(raw, i)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// MarshalJSON encodes the projection with its state tag restored.
func (p Projection) MarshalJSON() ([]byte, error) {
	flat := make(map[string]json.RawMessage, len(p.Fields)+1)
	for k, v := range p.Fields {
		flat[k] = v
	}
	stateJSON, err := json.Marshal(string(p.State))
	if err != nil {
		return nil, err
	}
	flat["state"] = stateJSON
	return json.Marshal(flat)
}

// UnmarshalJSON decodes and re-validates a projection object.
func (p *Projection) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	stateRaw, ok := fields["state"]
	if !ok {
		return fmt.Errorf("projection missing 'state'")
	}
	var state string
	if err := json.Unmarshal(stateRaw, &state); err != nil {
		return fmt.Errorf("projection 'state' must be a string")
	}
	if _, ok := recognizedStates[State(state)]; !ok {
		return fmt.Errorf("unrecognized projection state %q", state)
	}
	delete(fields, "state")
	p.State = State(state)
	p.Fields = fields
	return nil
}

// MarshalJSON encodes the entry with its projection restored.
func (e Entry) MarshalJSON() ([]byte, error) {
	flat := make(map[string]json.RawMessage, len(e.Fields)+1)
	for k, v := range e.Fields {
		flat[k] = v
	}
	projJSON, err := json.Marshal(e.Projection)
	if err != nil {
		return nil, err
	}
	flat["projection"] = projJSON
	return json.Marshal(flat)
}

// UnmarshalJSON decodes a persisted log line back into an entry.
func (e *Entry) UnmarshalJSON(data []byte) error {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(data, &top); err != nil {
		return err
	}
	projRaw, ok := top["projection"]
	if !ok {
		return fmt.Errorf("entry missing 'projection'")
	}
	var proj Projection
	if err := json.Unmarshal(projRaw, &proj); err != nil {
		return err
	}
	delete(top, "projection")
	e.Projection = proj
	e.Fields = top
	return nil
}

// EncodeLine renders the entry as one canonical log line: compact JSON with
// object keys sorted (encoding/json sorts map keys), newline terminated.
func (e Entry) EncodeLine() ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(e); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
