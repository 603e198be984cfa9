package request

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Object is a JSON-compatible mapping that remembers the order in which keys
// were written. Values are nil, bool, string, numbers, []any, or *Object.
type Object struct {
	keys   []string
	values map[string]any
}

// NewObject returns an empty object.
func NewObject() *Object {
	return &Object{values: make(map[string]any)}
}

// Set stores v under key, keeping the key's original position on overwrite.
func (o *Object) Set(key string, v any) *Object {
	if _, ok := o.values[key]; !ok {
		o.keys = append(o.keys, key)
	}
	o.values[key] = v
	return o
}

// Keys returns the keys in insertion order.
func (o *Object) Keys() []string {
	return append([]string(nil), o.keys...)
}

// Len returns the number of keys.
func (o *Object) Len() int { return len(o.keys) }

// Get returns the raw value stored under key.
func (o *Object) Get(key string) (any, bool) {
	v, ok := o.values[key]
	return v, ok
}

// Has reports whether key is present, even with a null value.
func (o *Object) Has(key string) bool {
	_, ok := o.values[key]
	return ok
}

// Present reports whether key is present with a non-null value.
func (o *Object) Present(key string) bool {
	v, ok := o.values[key]
	return ok && v != nil
}

// Int returns the integer stored under key. ok is false when the key is
// absent or null.
func (o *Object) Int(key string) (n int, ok bool, err error) {
	v, found := o.values[key]
	if !found || v == nil {
		return 0, false, nil
	}
	n, err = toInt(v)
	if err != nil {
		return 0, false, fmt.Errorf("column %s: %w", key, err)
	}
	return n, true, nil
}

// IntPtr is Int returning nil for absent or null values.
func (o *Object) IntPtr(key string) (*int, error) {
	n, ok, err := o.Int(key)
	if err != nil || !ok {
		return nil, err
	}
	return &n, nil
}

// String returns the value under key rendered as a string.
func (o *Object) String(key string) (string, bool) {
	v, found := o.values[key]
	if !found || v == nil {
		return "", false
	}
	if s, isString := v.(string); isString {
		return s, true
	}
	return fmt.Sprint(v), true
}

// IntList returns the integer list stored under key.
func (o *Object) IntList(key string) ([]int, error) {
	v, found := o.values[key]
	if !found || v == nil {
		return nil, nil
	}
	items, isList := v.([]any)
	if !isList {
		return nil, fmt.Errorf("column %s: expected a list, got %T", key, v)
	}
	out := make([]int, 0, len(items))
	for _, item := range items {
		n, err := toInt(item)
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", key, err)
		}
		out = append(out, n)
	}
	return out, nil
}

// Truthy reports whether the value under key is set to a true-like value.
func (o *Object) Truthy(key string) bool {
	switch v := o.values[key].(type) {
	case bool:
		return v
	case string:
		b, err := strconv.ParseBool(v)
		return err == nil && b
	case nil:
		return false
	default:
		n, err := toInt(v)
		return err == nil && n != 0
	}
}

// MarshalJSON writes keys in insertion order.
func (o *Object) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range o.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(o.values[k])
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func toInt(v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case uint64:
		return int(n), nil
	case float64:
		if n != math.Trunc(n) {
			return 0, fmt.Errorf("expected integer, got %v", n)
		}
		return int(n), nil
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			f, ferr := n.Float64()
			if ferr != nil || f != math.Trunc(f) {
				return 0, fmt.Errorf("expected integer, got %s", n)
			}
			return int(f), nil
		}
		return int(i), nil
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(n))
		if err != nil {
			return 0, fmt.Errorf("expected integer, got %q", n)
		}
		return i, nil
	default:
		return 0, fmt.Errorf("expected integer, got %T", v)
	}
}

// ErrEmptyDocument is returned when a request document has no content.
var ErrEmptyDocument = errors.New("request: empty document")

// Parse decodes a JSON or YAML request document. Input whose first
// non-space byte is '{' is read as JSON.
func Parse(data []byte) (*Object, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, ErrEmptyDocument
	}
	if trimmed[0] == '{' {
		return ParseJSON(bytes.NewReader(trimmed))
	}
	return ParseYAML(bytes.NewReader(trimmed))
}

// ParseJSON decodes a JSON request document preserving key order.
func ParseJSON(r io.Reader) (*Object, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	v, err := decodeJSONValue(dec)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrEmptyDocument
		}
		return nil, fmt.Errorf("request: decode json: %w", err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("request: trailing data after json document")
	}
	obj, ok := v.(*Object)
	if !ok {
		return nil, fmt.Errorf("request: top level must be an object, got %T", v)
	}
	return obj, nil
}

func decodeJSONValue(dec *json.Decoder) (any, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	delim, isDelim := tok.(json.Delim)
	if !isDelim {
		return tok, nil
	}
	switch delim {
	case '{':
		obj := NewObject()
		for dec.More() {
			keyTok, err := dec.Token()
			if err != nil {
				return nil, err
			}
			key, _ := keyTok.(string)
			v, err := decodeJSONValue(dec)
			if err != nil {
				return nil, err
			}
			obj.Set(key, v)
		}
		if _, err := dec.Token(); err != nil {
			return nil, err
		}
		return obj, nil
	case '[':
		list := make([]any, 0)
		for dec.More() {
			v, err := decodeJSONValue(dec)
			if err != nil {
				return nil, err
			}
			list = append(list, v)
		}
		if _, err := dec.Token(); err != nil {
			return nil, err
		}
		return list, nil
	default:
		return nil, fmt.Errorf("unexpected delimiter %q", delim)
	}
}

// ParseYAML decodes a YAML request document preserving key order.
func ParseYAML(r io.Reader) (*Object, error) {
	var node yaml.Node
	if err := yaml.NewDecoder(r).Decode(&node); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrEmptyDocument
		}
		return nil, fmt.Errorf("request: decode yaml: %w", err)
	}
	v, err := fromYAML(&node)
	if err != nil {
		return nil, err
	}
	obj, ok := v.(*Object)
	if !ok {
		return nil, fmt.Errorf("request: top level must be a mapping, got %T", v)
	}
	return obj, nil
}

func fromYAML(n *yaml.Node) (any, error) {
	switch n.Kind {
	case yaml.DocumentNode:
		if len(n.Content) == 0 {
			return nil, ErrEmptyDocument
		}
		return fromYAML(n.Content[0])
	case yaml.MappingNode:
		obj := NewObject()
		for i := 0; i+1 < len(n.Content); i += 2 {
			v, err := fromYAML(n.Content[i+1])
			if err != nil {
				return nil, err
			}
			obj.Set(n.Content[i].Value, v)
		}
		return obj, nil
	case yaml.SequenceNode:
		list := make([]any, 0, len(n.Content))
		for _, item := range n.Content {
			v, err := fromYAML(item)
			if err != nil {
				return nil, err
			}
			list = append(list, v)
		}
		return list, nil
	case yaml.AliasNode:
		return fromYAML(n.Alias)
	case yaml.ScalarNode:
		var v any
		if err := n.Decode(&v); err != nil {
			return nil, fmt.Errorf("request: line %d: %w", n.Line, err)
		}
		return v, nil
	default:
		return nil, fmt.Errorf("request: unsupported yaml node kind %v", n.Kind)
	}
}

// FromMap converts nested Go maps into an Object. Maps carry no key order, so
// plain columns come first and nested tables follow in dependency order.
func FromMap(m map[string]any) *Object {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.SliceStable(keys, func(i, j int) bool {
		ri, rj := tableRank(keys[i]), tableRank(keys[j])
		if ri != rj {
			return ri < rj
		}
		return keys[i] < keys[j]
	})
	obj := NewObject()
	for _, k := range keys {
		obj.Set(k, fromGo(m[k]))
	}
	return obj
}

func fromGo(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return FromMap(t)
	case []map[string]any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = FromMap(item)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = fromGo(item)
		}
		return out
	case []int:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = item
		}
		return out
	default:
		return v
	}
}
