// Package cbor wraps the external CBOR codec (github.com/fxamacker/cbor)
// and provides a small tagged-union tree type for pattern-matching
// CORECONF/YANG documents without schema knowledge.
package cbor

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// ValueKind tags the dynamic type carried by a Value.
type ValueKind int

const (
	KindNull ValueKind = iota
	KindBool
	KindInt
	KindFloat
	KindText
	KindBytes
	KindList
	KindMap
)

// Value is a tagged-union tree representing an arbitrary decoded CBOR
// document: Null, Bool, Int, Float, Text, Bytes, List, or Map.
type Value struct {
	Kind  ValueKind
	Bool  bool
	Int   int64
	Float float64
	Text  string
	Bytes []byte
	List  []Value
	Map   map[string]Value
}

func Null() Value               { return Value{Kind: KindNull} }
func Bool(b bool) Value         { return Value{Kind: KindBool, Bool: b} }
func Int64(n int64) Value       { return Value{Kind: KindInt, Int: n} }
func Float64(f float64) Value   { return Value{Kind: KindFloat, Float: f} }
func Text(s string) Value       { return Value{Kind: KindText, Text: s} }
func Bytes(b []byte) Value      { return Value{Kind: KindBytes, Bytes: b} }
func List(v ...Value) Value     { return Value{Kind: KindList, List: v} }
func Map(m map[string]Value) Value { return Value{Kind: KindMap, Map: m} }

// AsMap returns the underlying map and whether v is a KindMap.
func (v Value) AsMap() (map[string]Value, bool) {
	if v.Kind != KindMap {
		return nil, false
	}
	return v.Map, true
}

// AsList returns the underlying slice and whether v is a KindList.
func (v Value) AsList() ([]Value, bool) {
	if v.Kind != KindList {
		return nil, false
	}
	return v.List, true
}

// AsText returns the underlying string and whether v is a KindText.
func (v Value) AsText() (string, bool) {
	if v.Kind != KindText {
		return "", false
	}
	return v.Text, true
}

// Lookup returns the child stored under key when v is a map. It looks
// one level deep only and does not split key on dots; nested values are
// reached by chaining calls, e.g.
// v.Lookup("ietf-system:system-state") then .Lookup("platform").
func (v Value) Lookup(key string) (Value, bool) {
	m, ok := v.AsMap()
	if !ok {
		return Value{}, false
	}
	child, ok := m[key]
	return child, ok
}

// Encode serializes value via the external CBOR library.
func Encode(value Value) ([]byte, error) {
	native := toNative(value)
	return cbor.Marshal(native)
}

// Decode parses data via the external CBOR library into a Value tree.
// If the library cannot decode data at all, the error is returned; a
// non-map/non-list/non-scalar shape is represented as best-effort text
// via fmt.Sprintf rather than failing.
func Decode(data []byte) (Value, error) {
	var native interface{}
	if err := cbor.Unmarshal(data, &native); err != nil {
		return Value{}, err
	}
	return fromNative(native), nil
}

func toNative(v Value) interface{} {
	switch v.Kind {
	case KindNull:
		return nil
	case KindBool:
		return v.Bool
	case KindInt:
		return v.Int
	case KindFloat:
		return v.Float
	case KindText:
		return v.Text
	case KindBytes:
		return v.Bytes
	case KindList:
		out := make([]interface{}, len(v.List))
		for i, item := range v.List {
			out[i] = toNative(item)
		}
		return out
	case KindMap:
		out := make(map[string]interface{}, len(v.Map))
		for k, item := range v.Map {
			out[k] = toNative(item)
		}
		return out
	default:
		return nil
	}
}

func fromNative(n interface{}) Value {
	switch t := n.(type) {
	case nil:
		return Null()
	case bool:
		return Bool(t)
	case int64:
		return Int64(t)
	case uint64:
		return Int64(int64(t))
	case float64:
		return Float64(t)
	case string:
		return Text(t)
	case []byte:
		return Bytes(t)
	case []interface{}:
		items := make([]Value, len(t))
		for i, item := range t {
			items[i] = fromNative(item)
		}
		return Value{Kind: KindList, List: items}
	case map[interface{}]interface{}:
		m := make(map[string]Value, len(t))
		for k, item := range t {
			m[stringifyKey(k)] = fromNative(item)
		}
		return Value{Kind: KindMap, Map: m}
	case map[string]interface{}:
		m := make(map[string]Value, len(t))
		for k, item := range t {
			m[k] = fromNative(item)
		}
		return Value{Kind: KindMap, Map: m}
	default:
		return Text(fmt.Sprintf("%v", t))
	}
}

func stringifyKey(k interface{}) string {
	switch t := k.(type) {
	case string:
		return t
	default:
		return fmt.Sprintf("%v", t)
	}
}
