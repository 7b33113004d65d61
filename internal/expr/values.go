package expr

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/petrijr/apiflow/pkg/api"
	"github.com/spf13/cast"
)

// Member returns v's field, key or element named key. Lists accept numeric
// keys (negative ones count from the end). "length" is a pseudo-field of
// strings, lists and maps that do not bind it themselves.
func Member(v any, key string) (any, bool) {
	switch t := v.(type) {
	case map[string]any:
		if out, ok := t[key]; ok {
			return out, true
		}
		if key == "length" {
			return len(t), true
		}
		return nil, false
	case map[string]string:
		if out, ok := t[key]; ok {
			return out, true
		}
		if key == "length" {
			return len(t), true
		}
		return nil, false
	case []any:
		return elem(len(t), key, func(i int) any { return t[i] })
	case string:
		if key == "length" {
			return utf8.RuneCountInString(t), true
		}
		return nil, false
	case nil:
		return nil, false
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		return elem(rv.Len(), key, func(i int) any { return rv.Index(i).Interface() })
	case reflect.Map:
		if rv.Type().Key().Kind() == reflect.String {
			mv := rv.MapIndex(reflect.ValueOf(key).Convert(rv.Type().Key()))
			if mv.IsValid() {
				return mv.Interface(), true
			}
		}
		if key == "length" {
			return rv.Len(), true
		}
	case reflect.Pointer:
		if !rv.IsNil() {
			return Member(rv.Elem().Interface(), key)
		}
	}
	return nil, false
}

func elem(n int, key string, at func(int) any) (any, bool) {
	if key == "length" {
		return n, true
	}
	i, err := strconv.Atoi(key)
	if err != nil {
		return nil, false
	}
	if i < 0 {
		i += n
	}
	if i < 0 || i >= n {
		return nil, false
	}
	return at(i), true
}

// Traverse follows a dotted path ("items.0.id") from v.
func Traverse(v any, path string) (any, bool) {
	if path == "" {
		return v, true
	}
	for _, key := range strings.Split(path, ".") {
		next, ok := Member(v, key)
		if !ok {
			return nil, false
		}
		v = next
	}
	return v, true
}

// Truthy reports the boolean meaning of a value. Strings are false when
// empty or spelled "false", "0", "no", "null" or "none".
func Truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "", "false", "0", "no", "null", "none":
			return false
		}
		return true
	}
	if IsNumber(v) {
		return cast.ToFloat64(v) != 0
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array, reflect.Map:
		return rv.Len() > 0
	case reflect.Pointer:
		return !rv.IsNil()
	}
	return true
}

// IsNumber reports whether v has a numeric Go type.
func IsNumber(v any) bool {
	switch v.(type) {
	case int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64, json.Number:
		return true
	}
	return false
}

// IsInteger reports whether v has an integer Go type.
func IsInteger(v any) bool {
	switch v.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return true
	}
	return false
}

// Equal compares loosely: numbers by value regardless of type, and strings
// against numbers or booleans by parsing the string.
func Equal(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	an, bn := IsNumber(a), IsNumber(b)
	switch {
	case an && bn:
		return cast.ToFloat64(a) == cast.ToFloat64(b)
	case an || bn:
		s, ok := a.(string)
		if !ok {
			s, ok = b.(string)
		}
		if !ok {
			return false
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return false
		}
		if an {
			return cast.ToFloat64(a) == f
		}
		return cast.ToFloat64(b) == f
	}

	ab, aIsBool := a.(bool)
	bb, bIsBool := b.(bool)
	if aIsBool || bIsBool {
		if aIsBool && bIsBool {
			return ab == bb
		}
		if s, ok := a.(string); ok {
			v, err := strconv.ParseBool(strings.TrimSpace(s))
			return err == nil && v == bb
		}
		if s, ok := b.(string); ok {
			v, err := strconv.ParseBool(strings.TrimSpace(s))
			return err == nil && v == ab
		}
		return false
	}

	if as, ok := a.(string); ok {
		bs, ok := b.(string)
		return ok && as == bs
	}

	ra, rb := reflect.ValueOf(a), reflect.ValueOf(b)
	switch {
	case isList(ra) && isList(rb):
		if ra.Len() != rb.Len() {
			return false
		}
		for i := 0; i < ra.Len(); i++ {
			if !Equal(ra.Index(i).Interface(), rb.Index(i).Interface()) {
				return false
			}
		}
		return true
	case ra.Kind() == reflect.Map && rb.Kind() == reflect.Map:
		if ra.Len() != rb.Len() {
			return false
		}
		iter := ra.MapRange()
		for iter.Next() {
			bv := rb.MapIndex(iter.Key())
			if !bv.IsValid() || !Equal(iter.Value().Interface(), bv.Interface()) {
				return false
			}
		}
		return true
	}
	return reflect.DeepEqual(a, b)
}

func isList(v reflect.Value) bool {
	return v.Kind() == reflect.Slice || v.Kind() == reflect.Array
}

// Compare applies an ordering operator. Numbers (and numeric strings
// compared with numbers) order by value, strings lexically, times
// chronologically.
func Compare(op string, a, b any) (bool, error) {
	var c int
	switch {
	case IsNumber(a) || IsNumber(b):
		x, err1 := cast.ToFloat64E(a)
		y, err2 := cast.ToFloat64E(b)
		if err1 != nil || err2 != nil {
			return false, compareError(op, a, b)
		}
		switch {
		case x < y:
			c = -1
		case x > y:
			c = 1
		}
	default:
		as, aok := a.(string)
		bs, bok := b.(string)
		if aok && bok {
			c = strings.Compare(as, bs)
			break
		}
		at, aok := a.(time.Time)
		bt, bok := b.(time.Time)
		if aok && bok {
			c = at.Compare(bt)
			break
		}
		return false, compareError(op, a, b)
	}
	switch op {
	case "<":
		return c < 0, nil
	case "<=":
		return c <= 0, nil
	case ">":
		return c > 0, nil
	case ">=":
		return c >= 0, nil
	}
	return false, &api.EvaluationError{Kind: api.MalformedExpression, Message: "unknown operator " + op}
}

func compareError(op string, a, b any) error {
	return &api.EvaluationError{Kind: api.TypeError, Message: fmt.Sprintf("cannot compare %T %s %T", a, op, b)}
}

// Stringify renders a value for interpolation into text. nil renders as the
// empty string and collections as JSON.
func Stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		return string(t)
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case time.Time:
		return t.Format(time.RFC3339)
	case time.Duration:
		return t.String()
	case fmt.Stringer:
		return t.String()
	}
	if IsInteger(v) {
		return cast.ToString(v)
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Map, reflect.Slice, reflect.Array, reflect.Struct, reflect.Pointer:
		if b, err := json.Marshal(v); err == nil {
			return string(b)
		}
	}
	return fmt.Sprint(v)
}

// Len returns the length of a string, list or map.
func Len(v any) (int, bool) {
	switch t := v.(type) {
	case string:
		return utf8.RuneCountInString(t), true
	case nil:
		return 0, false
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array, reflect.Map:
		return rv.Len(), true
	}
	return 0, false
}
