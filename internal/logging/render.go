package logging

import (
	"encoding"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strings"
)

const (
	circularMarker  = "[Circular]"
	truncatedMarker = "[Truncated]"
	maxRenderDepth  = 64
	// maxRenderNodes bounds the work for graphs that share references heavily.
	maxRenderNodes = 10000
)

var (
	jsonMarshalerType = reflect.TypeOf((*json.Marshaler)(nil)).Elem()
	textMarshalerType = reflect.TypeOf((*encoding.TextMarshaler)(nil)).Elem()
	rawMessageType    = reflect.TypeOf(json.RawMessage(nil))
)

// RenderJSON renders v as indented JSON. Unlike json.MarshalIndent it never
// fails: cycles become "[Circular]", unsupported kinds are described by type,
// and anything else that goes wrong falls back to a fmt rendering.
func RenderJSON(v interface{}) (out string) {
	defer func() {
		if r := recover(); r != nil {
			out = fmt.Sprintf("%T (unrenderable: %v)", v, r)
		}
	}()

	r := &renderer{seen: map[visit]struct{}{}}
	tree := r.walk(reflect.ValueOf(v), 0)

	b, err := json.MarshalIndent(tree, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", tree)
	}
	return string(b)
}

type visit struct {
	ptr uintptr
	typ reflect.Type
	n   int
}

type renderer struct {
	seen  map[visit]struct{}
	nodes int
}

// enter records a reference on the current path. The returned func removes it
// again so that shared but acyclic references still render in full.
func (r *renderer) enter(v reflect.Value, n int) (func(), bool) {
	key := visit{ptr: v.Pointer(), typ: v.Type(), n: n}
	if _, ok := r.seen[key]; ok {
		return nil, false
	}
	r.seen[key] = struct{}{}
	return func() { delete(r.seen, key) }, true
}

func (r *renderer) walk(v reflect.Value, depth int) interface{} {
	if !v.IsValid() {
		return nil
	}
	if depth > maxRenderDepth {
		return "[MaxDepth]"
	}
	r.nodes++
	if r.nodes > maxRenderNodes {
		return truncatedMarker
	}

	if v.Type() == rawMessageType {
		return rawBytes(v.Bytes())
	}

	if m, ok := marshaled(v); ok {
		return m
	}

	switch v.Kind() {
	case reflect.Interface:
		if v.IsNil() {
			return nil
		}
		return r.walk(v.Elem(), depth+1)

	case reflect.Pointer:
		if v.IsNil() {
			return nil
		}
		leave, ok := r.enter(v, 0)
		if !ok {
			return circularMarker
		}
		defer leave()
		return r.walk(v.Elem(), depth+1)

	case reflect.Map:
		if v.IsNil() {
			return nil
		}
		leave, ok := r.enter(v, 0)
		if !ok {
			return circularMarker
		}
		defer leave()
		out := make(map[string]interface{}, v.Len())
		iter := v.MapRange()
		for iter.Next() {
			out[mapKey(iter.Key())] = r.walk(iter.Value(), depth+1)
		}
		return out

	case reflect.Slice:
		if v.IsNil() {
			return nil
		}
		if v.Type().Elem().Kind() == reflect.Uint8 {
			return rawBytes(v.Bytes())
		}
		leave, ok := r.enter(v, v.Len())
		if !ok {
			return circularMarker
		}
		defer leave()
		return r.list(v, depth)

	case reflect.Array:
		return r.list(v, depth)

	case reflect.Struct:
		return r.object(v, depth)

	case reflect.Float32, reflect.Float64:
		f := v.Float()
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Sprint(f)
		}
		return f

	case reflect.Bool:
		return v.Bool()
	case reflect.String:
		return v.String()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return v.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return v.Uint()
	}

	return fmt.Sprintf("[Unsupported %s]", v.Type())
}

// rawBytes embeds JSON bytes as-is and anything else as text.
func rawBytes(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	if json.Valid(b) {
		return json.RawMessage(b)
	}
	return string(b)
}

func (r *renderer) list(v reflect.Value, depth int) []interface{} {
	out := make([]interface{}, v.Len())
	for i := range out {
		out[i] = r.walk(v.Index(i), depth+1)
	}
	return out
}

func (r *renderer) object(v reflect.Value, depth int) map[string]interface{} {
	t := v.Type()
	out := make(map[string]interface{}, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}
		name, omitEmpty, skip := jsonFieldName(field)
		if skip {
			continue
		}
		fv := v.Field(i)
		if field.Anonymous && field.Tag.Get("json") == "" && indirectKind(fv) == reflect.Struct {
			if fv.Kind() == reflect.Pointer && fv.IsNil() {
				continue
			}
			if nested, ok := r.walk(fv, depth+1).(map[string]interface{}); ok {
				for k, val := range nested {
					if _, exists := out[k]; !exists {
						out[k] = val
					}
				}
			}
			continue
		}
		if omitEmpty && fv.IsZero() {
			continue
		}
		out[name] = r.walk(fv, depth+1)
	}
	return out
}

// marshaled honours json.Marshaler and encoding.TextMarshaler on non-nil values.
func marshaled(v reflect.Value) (interface{}, bool) {
	if (v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface) && v.IsNil() {
		return nil, false
	}
	if !v.CanInterface() {
		return nil, false
	}
	if v.Type().Implements(jsonMarshalerType) {
		b, err := v.Interface().(json.Marshaler).MarshalJSON()
		if err != nil || !json.Valid(b) {
			return fmt.Sprintf("[%s: marshal failed]", v.Type()), true
		}
		return json.RawMessage(b), true
	}
	if v.Type().Implements(textMarshalerType) {
		b, err := v.Interface().(encoding.TextMarshaler).MarshalText()
		if err != nil {
			return fmt.Sprintf("[%s: marshal failed]", v.Type()), true
		}
		return string(b), true
	}
	return nil, false
}

func jsonFieldName(f reflect.StructField) (name string, omitEmpty, skip bool) {
	tag := f.Tag.Get("json")
	if tag == "-" {
		return "", false, true
	}
	parts := strings.Split(tag, ",")
	name = parts[0]
	if name == "" {
		name = f.Name
	}
	for _, opt := range parts[1:] {
		if opt == "omitempty" {
			omitEmpty = true
		}
	}
	return name, omitEmpty, false
}

func mapKey(k reflect.Value) string {
	if k.Kind() == reflect.String {
		return k.String()
	}
	if k.CanInterface() && k.Type().Implements(textMarshalerType) {
		if b, err := k.Interface().(encoding.TextMarshaler).MarshalText(); err == nil {
			return string(b)
		}
	}
	return fmt.Sprint(k)
}

func indirectKind(v reflect.Value) reflect.Kind {
	if v.Kind() == reflect.Pointer {
		return v.Type().Elem().Kind()
	}
	return v.Kind()
}
