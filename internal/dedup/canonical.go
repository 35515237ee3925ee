package dedup

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"
)

const keyDomain = "dedup/v1"

// Values that JSON cannot tell apart from a plain string or list are wrapped
// in a single-field object named by one of these tags. Structs carry their
// Go type under typeField. Map keys and field names never start with "_"
// after escapeKey, so tags cannot collide with data.
const (
	typeField     = "__type__"
	bytesTag      = "__bytes__"
	datetimeTag   = "__datetime__"
	decimalTag    = "__decimal__"
	setTag        = "__set__"
	keyEscapeMark = "~"
)

var (
	timeType      = reflect.TypeOf(time.Time{})
	bigIntType    = reflect.TypeOf(big.Int{})
	bigRatType    = reflect.TypeOf(big.Rat{})
	bigFloatType  = reflect.TypeOf(big.Float{})
	numberType    = reflect.TypeOf(json.Number(""))
	emptyStruct   = reflect.TypeOf(struct{}{})
	rawMessageTyp = reflect.TypeOf(json.RawMessage(nil))
)

// Key derives the registry key for op called with args. Equal arguments
// produce equal keys regardless of map iteration order or Unicode
// normalization form.
func Key(op string, args ...any) (string, error) {
	payload, err := Canonical(args)
	if err != nil {
		return "", fmt.Errorf("canonicalize %s arguments: %w", op, err)
	}
	h := sha256.New()
	h.Write([]byte(keyDomain))
	h.Write([]byte{0})
	h.Write([]byte(op))
	h.Write([]byte{0})
	h.Write(payload)
	return op + ":" + hex.EncodeToString(h.Sum(nil)), nil
}

// Canonical renders v as deterministic JSON.
func Canonical(v any) ([]byte, error) {
	tree, err := canonicalValue(reflect.ValueOf(v))
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(tree); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// canonicalValue lowers v into nil, bool, string, json.Number, []any or
// map[string]any. encoding/json sorts map[string]any keys on output.
func canonicalValue(v reflect.Value) (any, error) {
	if !v.IsValid() {
		return nil, nil
	}

	switch v.Type() {
	case timeType:
		return tagged(datetimeTag, v.Interface().(time.Time).UTC().Format(time.RFC3339Nano)), nil
	case bigIntType:
		n := v.Interface().(big.Int)
		return tagged(decimalTag, n.String()), nil
	case bigRatType:
		r := v.Interface().(big.Rat)
		return tagged(decimalTag, r.RatString()), nil
	case bigFloatType:
		f := v.Interface().(big.Float)
		return tagged(decimalTag, f.Text('g', -1)), nil
	case numberType:
		return tagged(decimalTag, v.String()), nil
	case rawMessageTyp:
		var decoded any
		if err := json.Unmarshal(v.Bytes(), &decoded); err != nil {
			return nil, fmt.Errorf("raw json: %w", err)
		}
		return canonicalValue(reflect.ValueOf(decoded))
	}

	switch v.Kind() {
	case reflect.Pointer, reflect.Interface:
		if v.IsNil() {
			return nil, nil
		}
		return canonicalValue(v.Elem())
	case reflect.Bool:
		return v.Bool(), nil
	case reflect.String:
		return norm.NFC.String(v.String()), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return json.Number(strconv.FormatInt(v.Int(), 10)), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return json.Number(strconv.FormatUint(v.Uint(), 10)), nil
	case reflect.Float32, reflect.Float64:
		f := v.Float()
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, fmt.Errorf("non-finite float %v", f)
		}
		return json.Number(strconv.FormatFloat(f, 'g', -1, 64)), nil
	case reflect.Slice:
		if v.Type().Elem().Kind() == reflect.Uint8 {
			if v.IsNil() {
				return nil, nil
			}
			return tagged(bytesTag, hex.EncodeToString(v.Bytes())), nil
		}
		if v.IsNil() {
			return nil, nil
		}
		return canonicalList(v)
	case reflect.Array:
		return canonicalList(v)
	case reflect.Map:
		if v.IsNil() {
			return nil, nil
		}
		if v.Type().Elem() == emptyStruct {
			return canonicalSet(v)
		}
		return canonicalMap(v)
	case reflect.Struct:
		return canonicalStruct(v)
	default:
		return nil, fmt.Errorf("unsupported type %s", v.Type())
	}
}

func canonicalList(v reflect.Value) (any, error) {
	out := make([]any, v.Len())
	for i := range v.Len() {
		elem, err := canonicalValue(v.Index(i))
		if err != nil {
			return nil, fmt.Errorf("[%d]: %w", i, err)
		}
		out[i] = elem
	}
	return out, nil
}

func tagged(tag string, value any) map[string]any {
	return map[string]any{tag: value}
}

// escapeKey prefixes keys that could be mistaken for a tag. The mapping is
// injective: only escaped keys start with the mark.
func escapeKey(k string) string {
	if strings.HasPrefix(k, "_") || strings.HasPrefix(k, keyEscapeMark) {
		return keyEscapeMark + k
	}
	return k
}

// canonicalSet renders a map[K]struct{} as its members sorted by encoding.
func canonicalSet(v reflect.Value) (any, error) {
	type member struct {
		enc   string
		value any
	}
	members := make([]member, 0, v.Len())
	iter := v.MapRange()
	for iter.Next() {
		value, err := canonicalValue(iter.Key())
		if err != nil {
			return nil, fmt.Errorf("set member: %w", err)
		}
		enc, err := json.Marshal(value)
		if err != nil {
			return nil, err
		}
		members = append(members, member{enc: string(enc), value: value})
	}
	sort.Slice(members, func(i, j int) bool { return members[i].enc < members[j].enc })
	out := make([]any, len(members))
	for i, m := range members {
		out[i] = m.value
	}
	return tagged(setTag, out), nil
}

func canonicalMap(v reflect.Value) (any, error) {
	out := make(map[string]any, v.Len())
	iter := v.MapRange()
	for iter.Next() {
		key, err := mapKey(iter.Key())
		if err != nil {
			return nil, err
		}
		value, err := canonicalValue(iter.Value())
		if err != nil {
			return nil, fmt.Errorf("[%q]: %w", key, err)
		}
		if _, dup := out[key]; dup {
			return nil, fmt.Errorf("map keys collide after normalization: %q", key)
		}
		out[key] = value
	}
	return out, nil
}

func mapKey(k reflect.Value) (string, error) {
	if k.Kind() == reflect.String {
		return escapeKey(norm.NFC.String(k.String())), nil
	}
	value, err := canonicalValue(k)
	if err != nil {
		return "", fmt.Errorf("map key: %w", err)
	}
	enc, err := json.Marshal(value)
	if err != nil {
		return "", err
	}
	return string(enc), nil
}

func canonicalStruct(v reflect.Value) (any, error) {
	t := v.Type()
	out := map[string]any{typeField: t.String()}
	for i := range t.NumField() {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}
		name := field.Name
		if tag, ok := field.Tag.Lookup("json"); ok {
			tagName, _, _ := strings.Cut(tag, ",")
			if tagName == "-" {
				continue
			}
			if tagName != "" {
				name = tagName
			}
		}
		value, err := canonicalValue(v.Field(i))
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", t.Name(), field.Name, err)
		}
		out[escapeKey(name)] = value
	}
	return out, nil
}
