package serial

import (
	"encoding/json"
	"fmt"
	"strconv"

	"bioreactor-controller/internal/model"
)

// Field is one optional packet value. Present reports whether the key was in
// the packet at all; Value is nil when the device sent null.
type Field[T int | float64] struct {
	Present bool
	Value   *T
}

// Set builds a present field holding v.
func Set[T int | float64](v T) Field[T] {
	return Field[T]{Present: true, Value: &v}
}

// Packet is one inbound line from the device.
type Packet struct {
	T1        Field[float64]
	T2        Field[float64]
	L1        Field[int]
	L2        Field[int]
	Actuators map[model.Actuator]int
}

// DecodeError reports a line that was not a JSON object.
type DecodeError struct {
	Line string
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("malformed packet %q: %v", e.Line, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// DecodePacket parses a device line. Unknown keys are ignored, and so are known
// keys carrying values of the wrong type.
func DecodePacket(line []byte) (*Packet, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(line, &raw); err != nil {
		return nil, &DecodeError{Line: string(line), Err: err}
	}

	p := &Packet{Actuators: make(map[model.Actuator]int)}
	p.T1 = decodeField[float64](raw, "t1")
	p.T2 = decodeField[float64](raw, "t2")
	p.L1 = decodeField[int](raw, "l1")
	p.L2 = decodeField[int](raw, "l2")

	for _, a := range model.Actuators {
		v, ok := raw[string(a)]
		if !ok {
			continue
		}
		if state, ok := parseSwitch(v); ok {
			p.Actuators[a] = state
		}
	}
	return p, nil
}

func decodeField[T int | float64](raw map[string]json.RawMessage, key string) Field[T] {
	v, ok := raw[key]
	if !ok {
		return Field[T]{}
	}
	if string(v) == "null" {
		return Field[T]{Present: true}
	}
	var n json.Number
	if err := json.Unmarshal(v, &n); err != nil {
		return Field[T]{}
	}
	f, err := strconv.ParseFloat(n.String(), 64)
	if err != nil {
		return Field[T]{}
	}
	return Set(T(f))
}

// parseSwitch accepts 0/1 numbers and JSON booleans. null means absent.
func parseSwitch(v json.RawMessage) (int, bool) {
	if string(v) == "null" {
		return 0, false
	}
	var b bool
	if err := json.Unmarshal(v, &b); err == nil {
		if b {
			return 1, true
		}
		return 0, true
	}
	var f float64
	if err := json.Unmarshal(v, &f); err != nil {
		return 0, false
	}
	if f != 0 {
		return 1, true
	}
	return 0, true
}
