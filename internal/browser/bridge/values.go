// File: internal/browser/bridge/values.go
package bridge

import (
	"math"
	"strconv"
	"strings"

	"github.com/chromedp/cdproto/runtime"
)

type valueKind int

const (
	kindPrimitive valueKind = iota
	kindObject
	kindArray
)

// classify sorts a remote value into primitive, nested object or nested
// array. null is an object in JavaScript but decodes as a primitive.
func classify(obj *runtime.RemoteObject) valueKind {
	if obj == nil || obj.Type != runtime.TypeObject || obj.Subtype == runtime.SubtypeNull {
		return kindPrimitive
	}
	if obj.ObjectID == "" {
		return kindPrimitive
	}
	if obj.Subtype == runtime.SubtypeArray {
		return kindArray
	}
	return kindObject
}

func isObject(obj *runtime.RemoteObject) bool {
	return obj != nil && obj.Type == runtime.TypeObject && obj.Subtype != runtime.SubtypeNull && obj.ObjectID != ""
}

func primitive(obj *runtime.RemoteObject) (any, error) {
	if obj == nil || obj.Type == runtime.TypeUndefined || obj.Subtype == runtime.SubtypeNull {
		return nil, nil
	}
	if obj.UnserializableValue != "" {
		// NaN, Infinity, -0 and bigint literals. Only -0 survives: JSON has
		// no encoding for the others.
		f, err := strconv.ParseFloat(string(obj.UnserializableValue), 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, nil
		}
		return f, nil
	}
	raw := []byte(obj.Value)
	if len(raw) == 0 {
		return nil, nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// Bool reads a boolean script result. Anything else is false.
func Bool(obj *runtime.RemoteObject) bool {
	if obj == nil || obj.Type != runtime.TypeBoolean {
		return false
	}
	v, err := primitive(obj)
	if err != nil {
		return false
	}
	b, _ := v.(bool)
	return b
}

// String reads a string script result. Anything else is "".
func String(obj *runtime.RemoteObject) string {
	if obj == nil || obj.Type != runtime.TypeString {
		return ""
	}
	v, err := primitive(obj)
	if err != nil {
		return ""
	}
	s, _ := v.(string)
	return s
}

// IsElement reports whether a script result is an object handle, as opposed
// to the `false` the in-page helpers return when nothing was found.
func IsElement(obj *runtime.RemoteObject) bool {
	return isObject(obj)
}

func lower(s string) string { return strings.ToLower(s) }
