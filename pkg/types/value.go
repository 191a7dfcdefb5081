package types

import (
	"fmt"
	"math"
	"strconv"
)

// Kind identifies which scalar a Value holds.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindFloat
	KindText
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindText:
		return "text"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Value is a scalar index value. Exactly one of the payload fields is
// meaningful, selected by Kind. There is no composite kind: structured
// values are coerced to text when the Value is built.
type Value struct {
	Kind  Kind
	Bool  bool
	Int   int64
	Float float64
	Text  string
}

// Null is the null Value.
var Null = Value{Kind: KindNull}

// BoolValue returns a boolean Value.
func BoolValue(b bool) Value { return Value{Kind: KindBool, Bool: b} }

// IntValue returns an integer Value.
func IntValue(i int64) Value { return Value{Kind: KindInt, Int: i} }

// FloatValue returns a float Value.
func FloatValue(f float64) Value { return Value{Kind: KindFloat, Float: f} }

// TextValue returns a text Value.
func TextValue(s string) Value { return Value{Kind: KindText, Text: s} }

// ValueOf converts a native Go value into a Value. Unrecognized non-null
// values are coerced to their fmt.Sprint representation.
func ValueOf(v interface{}) Value {
	switch x := v.(type) {
	case nil:
		return Null
	case Value:
		return x
	case bool:
		return BoolValue(x)
	case int:
		return IntValue(int64(x))
	case int8:
		return IntValue(int64(x))
	case int16:
		return IntValue(int64(x))
	case int32:
		return IntValue(int64(x))
	case int64:
		return IntValue(x)
	case uint8:
		return IntValue(int64(x))
	case uint16:
		return IntValue(int64(x))
	case uint32:
		return IntValue(int64(x))
	case uint:
		if uint64(x) > math.MaxInt64 {
			return TextValue(strconv.FormatUint(uint64(x), 10))
		}
		return IntValue(int64(x))
	case uint64:
		if x > math.MaxInt64 {
			return TextValue(strconv.FormatUint(x, 10))
		}
		return IntValue(int64(x))
	case float32:
		return FloatValue(float64(x))
	case float64:
		// JSON numbers decode as float64; keep integral ones as integers
		// so that equality against an int subject behaves.
		if x == math.Trunc(x) && math.Abs(x) < 1<<53 {
			return IntValue(int64(x))
		}
		return FloatValue(x)
	case string:
		return TextValue(x)
	case fmt.Stringer:
		return TextValue(x.String())
	default:
		return TextValue(fmt.Sprint(x))
	}
}

// IsNull reports whether v is the null Value.
func (v Value) IsNull() bool { return v.Kind == KindNull }

// Native returns the value in the form the SQL driver binds.
// Booleans are stored as 0/1 integers.
func (v Value) Native() interface{} {
	switch v.Kind {
	case KindBool:
		if v.Bool {
			return int64(1)
		}
		return int64(0)
	case KindInt:
		return v.Int
	case KindFloat:
		return v.Float
	case KindText:
		return v.Text
	default:
		return nil
	}
}

// String renders the value for logs and CLI output.
func (v Value) String() string {
	switch v.Kind {
	case KindBool:
		return strconv.FormatBool(v.Bool)
	case KindInt:
		return strconv.FormatInt(v.Int, 10)
	case KindFloat:
		return strconv.FormatFloat(v.Float, 'g', -1, 64)
	case KindText:
		return v.Text
	default:
		return "null"
	}
}

// IndexEntry is one (name, value) fact derived from a document by its schema.
type IndexEntry struct {
	Name  string
	Value Value
}

// NewIndexEntry builds an IndexEntry from a native value.
func NewIndexEntry(name string, v interface{}) IndexEntry {
	return IndexEntry{Name: name, Value: ValueOf(v)}
}
