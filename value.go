package mssql

import (
	"fmt"
	"time"

	"github.com/golang-sql/civil"
	"github.com/shopspring/decimal"

	"github.com/ha1tch/gotds/internal/wire"
)

// Kind discriminates the payload carried by a Value.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindFloat
	KindDecimal
	KindString
	KindBytes
	KindGUID
	KindDate
	KindTime
	KindDateTime
	KindDateTime2
	KindDateTimeOffset
	KindVariant
)

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
	case KindDecimal:
		return "decimal"
	case KindString:
		return "string"
	case KindBytes:
		return "bytes"
	case KindGUID:
		return "guid"
	case KindDate:
		return "date"
	case KindTime:
		return "time"
	case KindDateTime:
		return "datetime"
	case KindDateTime2:
		return "datetime2"
	case KindDateTimeOffset:
		return "datetimeoffset"
	case KindVariant:
		return "variant"
	default:
		return "unknown"
	}
}

// Value is the tagged union every column/parameter/return value is
// exposed as, carrying just enough of the original TYPE_INFO (scale,
// precision) to round-trip back through the codec as an RPC parameter.
type Value struct {
	kind      Kind
	v         interface{}
	scale     uint8
	precision uint8
}

// Kind reports which payload this Value carries.
func (val Value) Kind() Kind { return val.kind }

// IsNull reports whether this Value is SQL NULL.
func (val Value) IsNull() bool { return val.kind == KindNull }

func NullValue() Value { return Value{kind: KindNull} }

func BoolValue(b bool) Value { return Value{kind: KindBool, v: b} }

func IntValue(i int64) Value { return Value{kind: KindInt, v: i} }

func FloatValue(f float64) Value { return Value{kind: KindFloat, v: f} }

func DecimalValue(d decimal.Decimal) Value {
	precision, scale := decimalPrecisionScale(d)
	return Value{kind: KindDecimal, v: d, precision: precision, scale: scale}
}

func StringValue(s string) Value { return Value{kind: KindString, v: s} }

func BytesValue(b []byte) Value { return Value{kind: KindBytes, v: b} }

// GUIDValue takes the canonical dashed "xxxxxxxx-xxxx-xxxx-xxxx-..."
// display form, matching what the wire codec itself decodes/encodes
// a GUID as.
func GUIDValue(guid string) Value { return Value{kind: KindGUID, v: guid} }

func DateValue(d civil.Date) Value { return Value{kind: KindDate, v: d} }

func TimeValue(t civil.Time, scale uint8) Value { return Value{kind: KindTime, v: t, scale: scale} }

func DateTimeValue(t time.Time) Value { return Value{kind: KindDateTime, v: t} }

func DateTime2Value(dt civil.DateTime, scale uint8) Value {
	return Value{kind: KindDateTime2, v: dt, scale: scale}
}

// DateTimeOffsetValue carries a fixed-offset time.Time; the offset is
// the server-reported minutes-from-UTC, not the local machine's zone.
func DateTimeOffsetValue(t time.Time, scale uint8) Value {
	return Value{kind: KindDateTimeOffset, v: t, scale: scale}
}

func VariantValue(v wire.Variant) Value { return Value{kind: KindVariant, v: v} }

// Bool returns the bool payload, or ok=false if this Value is not KindBool.
func (val Value) Bool() (bool, bool) { b, ok := val.v.(bool); return b, ok }

// Int returns the int64 payload, or ok=false if this Value is not KindInt.
func (val Value) Int() (int64, bool) { i, ok := val.v.(int64); return i, ok }

// Float returns the float64 payload, or ok=false if this Value is not KindFloat.
func (val Value) Float() (float64, bool) { f, ok := val.v.(float64); return f, ok }

// Decimal returns the decimal.Decimal payload, or ok=false otherwise.
func (val Value) Decimal() (decimal.Decimal, bool) { d, ok := val.v.(decimal.Decimal); return d, ok }

// String returns the string payload; for any other payload it returns
// the payload's fmt "%v" rendering.
func (val Value) String() string {
	if s, ok := val.v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", val.v)
}

// Bytes returns the []byte payload, or nil if this Value is not KindBytes.
func (val Value) Bytes() ([]byte, bool) { b, ok := val.v.([]byte); return b, ok }

// GUID returns the GUID's canonical dashed string form, or ok=false otherwise.
func (val Value) GUID() (string, bool) {
	if val.kind != KindGUID {
		return "", false
	}
	g, ok := val.v.(string)
	return g, ok
}

// Date returns the civil.Date payload, or ok=false otherwise.
func (val Value) Date() (civil.Date, bool) { d, ok := val.v.(civil.Date); return d, ok }

// CivilTime returns the civil.Time payload, or ok=false otherwise.
func (val Value) CivilTime() (civil.Time, bool) { t, ok := val.v.(civil.Time); return t, ok }

// DateTime returns the time.Time payload for a KindDateTime value.
func (val Value) DateTime() (time.Time, bool) { t, ok := val.v.(time.Time); return t, ok }

// DateTime2 returns the civil.DateTime payload, or ok=false otherwise.
func (val Value) DateTime2() (civil.DateTime, bool) { dt, ok := val.v.(civil.DateTime); return dt, ok }

// DateTimeOffset returns the fixed-offset time.Time payload, or
// ok=false otherwise.
func (val Value) DateTimeOffset() (time.Time, bool) {
	if val.kind != KindDateTimeOffset {
		return time.Time{}, false
	}
	t, ok := val.v.(time.Time)
	return t, ok
}

// Variant returns the underlying wire.Variant payload, or ok=false otherwise.
func (val Value) Variant() (wire.Variant, bool) { vv, ok := val.v.(wire.Variant); return vv, ok }

// fromWire converts a raw decoded value (as produced by the token
// stream parser, always a native Go type or a wire.DateTime2/
// wire.DateTimeOffset/wire.Variant) plus its column TypeMetadata into
// a Value.
func fromWire(raw interface{}, meta wire.TypeMetadata) Value {
	if raw == nil {
		return NullValue()
	}
	switch v := raw.(type) {
	case bool:
		return BoolValue(v)
	case int64:
		return IntValue(v)
	case float64:
		return FloatValue(v)
	case decimal.Decimal:
		return Value{kind: KindDecimal, v: v, precision: meta.Precision, scale: meta.Scale}
	case string:
		if meta.Type == wire.TypeGUID {
			return GUIDValue(v)
		}
		return StringValue(v)
	case []byte:
		return BytesValue(v)
	case civil.Date:
		return DateValue(v)
	case civil.Time:
		return TimeValue(v, meta.Scale)
	case time.Time:
		if meta.Type == wire.TypeDateTimeOffsetN {
			return DateTimeOffsetValue(v, meta.Scale)
		}
		return DateTimeValue(v)
	case wire.DateTime2:
		return DateTime2Value(civil.DateTime{Date: v.Date, Time: v.Time}, meta.Scale)
	case wire.DateTimeOffset:
		return DateTimeOffsetValue(dateTimeOffsetToTime(v), meta.Scale)
	case wire.Variant:
		return VariantValue(v)
	default:
		return Value{kind: KindVariant, v: raw}
	}
}

// dateTimeOffsetToTime combines a wire.DateTimeOffset's date, time, and
// UTC-minute offset into a single fixed-offset time.Time.
func dateTimeOffsetToTime(o wire.DateTimeOffset) time.Time {
	loc := time.FixedZone(fmt.Sprintf("UTC%+d:%02d", o.OffsetMin/60, abs(o.OffsetMin%60)), o.OffsetMin*60)
	return time.Date(o.Date.Year, o.Date.Month, o.Date.Day,
		o.Time.Hour, o.Time.Minute, o.Time.Second, o.Time.Nanosecond, loc)
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

// timeToDateTimeOffset is the inverse of dateTimeOffsetToTime: it reads
// t's wall-clock date/time in its own location (not converted to UTC)
// plus that location's offset, the shape DATETIMEOFFSET(n) is encoded
// as on the wire.
func timeToDateTimeOffset(t time.Time) wire.DateTimeOffset {
	_, offsetSec := t.Zone()
	return wire.DateTimeOffset{
		Date:      civil.DateOf(t),
		Time:      civil.TimeOf(t),
		OffsetMin: offsetSec / 60,
	}
}

// toWireParam converts a Value into the TYPE_INFO and raw payload an
// RPC parameter is encoded with. NULL values still need a concrete
// nullable TypeMetadata so the server has something to size; the
// nullable *N form of the closest matching type is used.
//
// KindVariant is not accepted as an RPC parameter: TypeSSVariant has no
// writer (sql_variant is only ever read off the wire in this module's
// scope, never sent as a parameter), so calling with one returns a
// descriptive error rather than silently corrupting the request.
func toWireParam(val Value) (wire.TypeMetadata, interface{}, error) {
	switch val.kind {
	case KindNull:
		return wire.TypeMetadata{Type: wire.TypeIntN, Length: 4}, nil, nil
	case KindBool:
		b, _ := val.Bool()
		return wire.TypeMetadata{Type: wire.TypeBitN, Length: 1}, b, nil
	case KindInt:
		i, _ := val.Int()
		return wire.TypeMetadata{Type: wire.TypeIntN, Length: 8}, i, nil
	case KindFloat:
		f, _ := val.Float()
		return wire.TypeMetadata{Type: wire.TypeFloatN, Length: 8}, f, nil
	case KindDecimal:
		d, _ := val.Decimal()
		precision, scale := val.precision, val.scale
		if precision == 0 {
			precision, scale = decimalPrecisionScale(d)
		}
		return wire.TypeMetadata{Type: wire.TypeDecimalN, Length: 17, Precision: precision, Scale: scale}, d, nil
	case KindString:
		return wire.TypeMetadata{Type: wire.TypeNVarChar, Length: 0xFFFF}, val.String(), nil
	case KindBytes:
		b, _ := val.Bytes()
		return wire.TypeMetadata{Type: wire.TypeBigVarBin, Length: 0xFFFF}, b, nil
	case KindGUID:
		g, _ := val.GUID()
		return wire.TypeMetadata{Type: wire.TypeGUID, Length: 16}, g, nil
	case KindDateTime:
		t, _ := val.DateTime()
		return wire.TypeMetadata{Type: wire.TypeDateTimeN, Length: 8}, t, nil
	case KindDate:
		d, _ := val.Date()
		return wire.TypeMetadata{Type: wire.TypeDateN}, d, nil
	case KindTime:
		t, _ := val.CivilTime()
		scale := val.scale
		return wire.TypeMetadata{Type: wire.TypeTimeN, Scale: scale}, t, nil
	case KindDateTime2:
		dt, _ := val.DateTime2()
		scale := val.scale
		return wire.TypeMetadata{Type: wire.TypeDateTime2N, Scale: scale},
			wire.DateTime2{Date: dt.Date, Time: dt.Time}, nil
	case KindDateTimeOffset:
		t, _ := val.DateTimeOffset()
		scale := val.scale
		return wire.TypeMetadata{Type: wire.TypeDateTimeOffsetN, Scale: scale},
			timeToDateTimeOffset(t), nil
	default:
		return wire.TypeMetadata{}, nil, fmt.Errorf("mssql: %s parameters are not supported by the RPC codec", val.kind)
	}
}

// decimalPrecisionScale derives a DECIMAL(p,s) shape from a
// decimal.Decimal's own exponent/coefficient, used when a caller builds
// a parameter value directly rather than receiving one off the wire.
func decimalPrecisionScale(d decimal.Decimal) (precision, scale uint8) {
	digits := d.Coefficient().String()
	if digits[0] == '-' {
		digits = digits[1:]
	}
	exp := d.Exponent()
	if exp >= 0 {
		return uint8(len(digits) + int(exp)), 0
	}
	scale = uint8(-exp)
	precision = uint8(len(digits))
	if precision < scale {
		precision = scale
	}
	return precision, scale
}
