package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// StorageType identifies the raw payload a ParameterValue carries.
type StorageType string

const (
	StorageString    StorageType = "STRING"
	StorageInteger   StorageType = "INTEGER"
	StorageDouble    StorageType = "DOUBLE"
	StorageReference StorageType = "REFERENCE"
)

// DefaultDoubleTolerance is the absolute tolerance applied when comparing
// DOUBLE payloads. Raw values are stored in internal units, so a single
// tolerance works regardless of the display unit system.
const DefaultDoubleTolerance = 0.001

// InvalidReferenceID marks a reference that points at nothing. Hosts use -1
// or 0 interchangeably for "no element"; both normalize to unset here.
const InvalidReferenceID int64 = -1

// ParameterValue is a typed, comparable snapshot of one parameter. Equality
// is always computed from the raw payload, never from Display: display text
// varies by locale and unit settings and must not drive change detection.
type ParameterValue struct {
	Type      StorageType
	Text      string
	Integer   *int64
	Double    *float64
	Reference *int64
	Display   string
	TypeLevel bool
}

// NewStringValue builds a STRING value from the raw (unformatted) text.
func NewStringValue(raw, display string) ParameterValue {
	return ParameterValue{Type: StorageString, Text: raw, Display: display}
}

// NewIntegerValue builds a set INTEGER value.
func NewIntegerValue(raw int64, display string) ParameterValue {
	v := raw
	return ParameterValue{Type: StorageInteger, Integer: &v, Display: display}
}

// NewUnsetIntegerValue builds an INTEGER value with no payload.
func NewUnsetIntegerValue() ParameterValue {
	return ParameterValue{Type: StorageInteger}
}

// NewDoubleValue builds a set DOUBLE value from the raw internal-unit number.
func NewDoubleValue(raw float64, display string) ParameterValue {
	v := raw
	return ParameterValue{Type: StorageDouble, Double: &v, Display: display}
}

// NewUnsetDoubleValue builds a DOUBLE value with no payload.
func NewUnsetDoubleValue() ParameterValue {
	return ParameterValue{Type: StorageDouble}
}

// NewReferenceValue builds a REFERENCE value from a numeric element id.
// Ids <= 0 are treated as "no value" during comparison.
func NewReferenceValue(id int64, display string) ParameterValue {
	v := id
	return ParameterValue{Type: StorageReference, Reference: &v, Display: display}
}

// NewNamedReferenceValue builds a REFERENCE value that only carries a display
// label. Legacy records persisted references this way; comparison falls back
// to the label and restore re-resolves the target by name.
func NewNamedReferenceValue(name string) ParameterValue {
	return ParameterValue{Type: StorageReference, Display: name}
}

// NewUnsetReferenceValue builds a REFERENCE value pointing at nothing.
func NewUnsetReferenceValue() ParameterValue {
	return ParameterValue{Type: StorageReference}
}

// WithTypeLevel returns a copy flagged as a type/catalog-level value.
// Type-level values are compared but never auto-restored.
func (v ParameterValue) WithTypeLevel() ParameterValue {
	v.TypeLevel = true
	return v
}

// IsUnset reports whether the value carries no payload for its tag.
func (v ParameterValue) IsUnset() bool {
	switch v.Type {
	case StorageString:
		return v.Text == ""
	case StorageInteger:
		return v.Integer == nil
	case StorageDouble:
		return v.Double == nil
	case StorageReference:
		_, ok := v.resolvedReference()
		return !ok && v.Display == ""
	default:
		return true
	}
}

// resolvedReference returns the numeric reference id when it is resolvable.
func (v ParameterValue) resolvedReference() (int64, bool) {
	if v.Reference == nil || *v.Reference <= 0 {
		return 0, false
	}
	return *v.Reference, true
}

// RawString renders the raw payload for reports and exports. Unlike Display
// it is locale-independent; unset values render as the empty string.
func (v ParameterValue) RawString() string {
	switch v.Type {
	case StorageString:
		return v.Text
	case StorageInteger:
		if v.Integer == nil {
			return ""
		}
		return strconv.FormatInt(*v.Integer, 10)
	case StorageDouble:
		if v.Double == nil {
			return ""
		}
		return strconv.FormatFloat(*v.Double, 'f', -1, 64)
	case StorageReference:
		if id, ok := v.resolvedReference(); ok {
			return strconv.FormatInt(id, 10)
		}
		return v.Display
	default:
		return ""
	}
}

// ValuesEqual compares two values with the default double tolerance.
func ValuesEqual(a, b ParameterValue) bool {
	return ValuesEqualTolerance(a, b, DefaultDoubleTolerance)
}

// ValuesEqualTolerance compares two values from their raw payloads.
// A storage-tag mismatch is never equal. Unset payloads are equal only to
// other unset payloads. Reference values normalize the host's "no value"
// sentinels and fall back to the display label when either side lacks a
// resolvable numeric id.
func ValuesEqualTolerance(a, b ParameterValue, tolerance float64) bool {
	if a.Type != b.Type {
		return false
	}

	switch a.Type {
	case StorageString:
		return a.Text == b.Text

	case StorageInteger:
		if a.Integer == nil || b.Integer == nil {
			return a.Integer == nil && b.Integer == nil
		}
		return *a.Integer == *b.Integer

	case StorageDouble:
		if a.Double == nil || b.Double == nil {
			return a.Double == nil && b.Double == nil
		}
		return math.Abs(*a.Double-*b.Double) <= tolerance

	case StorageReference:
		aID, aResolved := a.resolvedReference()
		bID, bResolved := b.resolvedReference()
		if aResolved && bResolved {
			return aID == bID
		}
		aUnset := a.IsUnset()
		bUnset := b.IsUnset()
		if aUnset || bUnset {
			return aUnset == bUnset
		}
		// Legacy records stored only a label; compare what we have.
		return a.Display == b.Display

	default:
		return false
	}
}

// parameterValueJSON is the persisted shape of a ParameterValue.
type parameterValueJSON struct {
	Type      StorageType `json:"type"`
	Value     any         `json:"value"`
	Display   string      `json:"display,omitempty"`
	TypeLevel bool        `json:"typeLevel,omitempty"`
}

// MarshalJSON writes the canonical record shape: tag, raw payload, display.
func (v ParameterValue) MarshalJSON() ([]byte, error) {
	wire := parameterValueJSON{Type: v.Type, Display: v.Display, TypeLevel: v.TypeLevel}
	switch v.Type {
	case StorageString:
		wire.Value = v.Text
	case StorageInteger:
		if v.Integer != nil {
			wire.Value = *v.Integer
		}
	case StorageDouble:
		if v.Double != nil {
			wire.Value = *v.Double
		}
	case StorageReference:
		if v.Reference != nil {
			wire.Value = *v.Reference
		}
	}
	return json.Marshal(wire)
}

// UnmarshalJSON reconstructs a ParameterValue from a persisted record.
// Historical payloads are loosely typed: integers may arrive as 64-bit or
// floating-point numbers, references may be bare display labels, and very old
// records are naked scalars with no tag at all. All of those decode without
// error; the reconstruction is best-effort and never derives a raw payload
// from formatted display text.
func (v *ParameterValue) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var wire struct {
		Type      StorageType `json:"type"`
		Value     any         `json:"value"`
		Display   string      `json:"display"`
		TypeLevel bool        `json:"typeLevel"`
	}
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		if err := dec.Decode(&wire); err != nil {
			return fmt.Errorf("decode parameter value: %w", err)
		}
		if wire.Type != "" {
			*v = decodeTagged(wire.Type, wire.Value, wire.Display, wire.TypeLevel)
			return nil
		}
		// Object without a tag: infer from the payload alone.
		*v = decodeScalar(wire.Value)
		v.Display = wire.Display
		v.TypeLevel = wire.TypeLevel
		return nil
	}

	// Naked scalar from a legacy record.
	var scalar any
	if err := dec.Decode(&scalar); err != nil {
		return fmt.Errorf("decode parameter value: %w", err)
	}
	*v = decodeScalar(scalar)
	return nil
}

func decodeTagged(tag StorageType, value any, display string, typeLevel bool) ParameterValue {
	out := ParameterValue{Type: tag, Display: display, TypeLevel: typeLevel}
	switch tag {
	case StorageString:
		out.Text = stringPayload(value)

	case StorageInteger:
		if n, ok := integerPayload(value); ok {
			out.Integer = &n
		}

	case StorageDouble:
		if f, ok := doublePayload(value); ok {
			out.Double = &f
		}

	case StorageReference:
		if n, ok := integerPayload(value); ok {
			out.Reference = &n
			return out
		}
		// Legacy reference persisted as its display label.
		if s, ok := value.(string); ok && s != "" && out.Display == "" {
			out.Display = s
		}

	default:
		// Unknown tag: keep it, payload stays unset and comparison treats
		// mismatched tags as unequal rather than guessing.
	}
	return out
}

func decodeScalar(value any) ParameterValue {
	switch typed := value.(type) {
	case string:
		return ParameterValue{Type: StorageString, Text: typed, Display: typed}
	case json.Number:
		if n, err := strconv.ParseInt(typed.String(), 10, 64); err == nil {
			return ParameterValue{Type: StorageInteger, Integer: &n, Display: typed.String()}
		}
		if f, err := strconv.ParseFloat(typed.String(), 64); err == nil {
			return ParameterValue{Type: StorageDouble, Double: &f, Display: typed.String()}
		}
		return ParameterValue{Type: StorageString, Text: typed.String(), Display: typed.String()}
	case bool:
		n := int64(0)
		if typed {
			n = 1
		}
		return ParameterValue{Type: StorageInteger, Integer: &n}
	case nil:
		return ParameterValue{Type: StorageString}
	default:
		text := fmt.Sprintf("%v", typed)
		return ParameterValue{Type: StorageString, Text: text, Display: text}
	}
}

func stringPayload(value any) string {
	switch typed := value.(type) {
	case string:
		return typed
	case json.Number:
		return typed.String()
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", typed)
	}
}

// integerPayload widens historical numeric shapes into an int64. Records
// written by older clients carry integers as 64-bit or floating-point
// numbers; both must still compare correctly against live 32-bit values.
func integerPayload(value any) (int64, bool) {
	switch typed := value.(type) {
	case json.Number:
		if n, err := strconv.ParseInt(typed.String(), 10, 64); err == nil {
			return n, true
		}
		if f, err := strconv.ParseFloat(typed.String(), 64); err == nil && f == math.Trunc(f) {
			return int64(f), true
		}
		return 0, false
	case float64:
		if typed == math.Trunc(typed) {
			return int64(typed), true
		}
		return 0, false
	case int64:
		return typed, true
	case int:
		return int64(typed), true
	case string:
		trimmed := strings.TrimSpace(typed)
		if trimmed == "" {
			return 0, false
		}
		if n, err := strconv.ParseInt(trimmed, 10, 64); err == nil {
			return n, true
		}
		return 0, false
	default:
		return 0, false
	}
}

func doublePayload(value any) (float64, bool) {
	switch typed := value.(type) {
	case json.Number:
		if f, err := strconv.ParseFloat(typed.String(), 64); err == nil {
			return f, true
		}
		return 0, false
	case float64:
		return typed, true
	case int64:
		return float64(typed), true
	case int:
		return float64(typed), true
	case string:
		trimmed := strings.TrimSpace(typed)
		if trimmed == "" {
			return 0, false
		}
		if f, err := strconv.ParseFloat(trimmed, 64); err == nil {
			return f, true
		}
		return 0, false
	default:
		return 0, false
	}
}

// ParametersToJSON serializes a parameter map for JSONB storage.
func ParametersToJSON(params map[string]ParameterValue) (json.RawMessage, error) {
	if params == nil {
		params = map[string]ParameterValue{}
	}
	return json.Marshal(params)
}

// ParametersFromJSON reconstructs a parameter map from JSONB data.
func ParametersFromJSON(data json.RawMessage) (map[string]ParameterValue, error) {
	if len(data) == 0 {
		return map[string]ParameterValue{}, nil
	}
	var params map[string]ParameterValue
	if err := json.Unmarshal(data, &params); err != nil {
		return nil, err
	}
	if params == nil {
		params = map[string]ParameterValue{}
	}
	return params, nil
}
