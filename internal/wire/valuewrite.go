package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/golang-sql/civil"
	"github.com/shopspring/decimal"
)

// writeTypeInfo writes the TYPE_INFO portion for a parameter or return
// value, the builder-side counterpart of TokenStreamReader.readTypeInfo.
func writeTypeInfo(buf *bytes.Buffer, m TypeMetadata) {
	buf.WriteByte(byte(m.Type))

	switch m.Type {
	case TypeNull, TypeInt1, TypeBit, TypeInt2, TypeInt4, TypeInt8,
		TypeFloat4, TypeFloat8, TypeMoney, TypeMoney4, TypeDateTime, TypeDateTime4:
		// fixed length, nothing more

	case TypeIntN, TypeBitN, TypeFloatN, TypeMoneyN, TypeDateTimeN:
		buf.WriteByte(byte(m.Length))

	case TypeDateN:
		// nothing more

	case TypeTimeN, TypeDateTime2N, TypeDateTimeOffsetN:
		buf.WriteByte(m.Scale)

	case TypeDecimalN, TypeNumericN, TypeDecimal, TypeNumeric:
		buf.WriteByte(byte(m.Length))
		buf.WriteByte(m.Precision)
		buf.WriteByte(m.Scale)

	case TypeGUID:
		buf.WriteByte(byte(m.Length))

	case TypeChar, TypeVarChar, TypeBinary, TypeVarBinary:
		buf.WriteByte(byte(m.Length))
		if m.Type == TypeChar || m.Type == TypeVarChar {
			writeCollation(buf, m.Collation)
		}

	case TypeBigVarChar, TypeBigChar, TypeBigVarBin, TypeBigBinary:
		binary.Write(buf, binary.LittleEndian, uint16(m.Length))
		if m.Type == TypeBigVarChar || m.Type == TypeBigChar {
			writeCollation(buf, m.Collation)
		}

	case TypeNVarChar, TypeNChar:
		binary.Write(buf, binary.LittleEndian, uint16(m.Length))
		writeCollation(buf, m.Collation)

	case TypeXML:
		buf.WriteByte(0) // no inline schema

	case TypeText, TypeNText, TypeImage:
		binary.Write(buf, binary.LittleEndian, m.Length)
		if m.Type != TypeImage {
			writeCollation(buf, m.Collation)
		}
		buf.WriteByte(0) // table name part count

	default:
		// TypeSSVariant and anything else unsupported as a parameter
		// type is written with a zero-length tail; callers constructing
		// RPC params never pass these through this path.
	}
}

func writeCollation(buf *bytes.Buffer, coll []byte) {
	if len(coll) == 5 {
		buf.Write(coll)
	} else {
		buf.Write(DefaultCollation)
	}
}

// writeValue writes val according to m, handling NULL and PLP framing.
// This is the builder-side counterpart of readValueWith.
func writeValue(buf *bytes.Buffer, val interface{}, m TypeMetadata) error {
	if val == nil {
		return writeNullValue(buf, m)
	}

	switch m.Type {
	case TypeInt1:
		v, ok := toInt64(val)
		if !ok {
			return fmt.Errorf("wire: cannot convert %T to TINYINT", val)
		}
		buf.WriteByte(byte(v))
	case TypeBit:
		v, ok := toBool(val)
		if !ok {
			return fmt.Errorf("wire: cannot convert %T to BIT", val)
		}
		if v {
			buf.WriteByte(1)
		} else {
			buf.WriteByte(0)
		}
	case TypeInt2:
		v, ok := toInt64(val)
		if !ok {
			return fmt.Errorf("wire: cannot convert %T to SMALLINT", val)
		}
		binary.Write(buf, binary.LittleEndian, int16(v))
	case TypeInt4:
		v, ok := toInt64(val)
		if !ok {
			return fmt.Errorf("wire: cannot convert %T to INT", val)
		}
		binary.Write(buf, binary.LittleEndian, int32(v))
	case TypeInt8:
		v, ok := toInt64(val)
		if !ok {
			return fmt.Errorf("wire: cannot convert %T to BIGINT", val)
		}
		binary.Write(buf, binary.LittleEndian, v)
	case TypeFloat4:
		v, ok := toFloat64(val)
		if !ok {
			return fmt.Errorf("wire: cannot convert %T to REAL", val)
		}
		binary.Write(buf, binary.LittleEndian, math.Float32bits(float32(v)))
	case TypeFloat8:
		v, ok := toFloat64(val)
		if !ok {
			return fmt.Errorf("wire: cannot convert %T to FLOAT", val)
		}
		binary.Write(buf, binary.LittleEndian, math.Float64bits(v))
	case TypeMoney, TypeMoney4:
		d, ok := toDecimal(val)
		if !ok {
			return fmt.Errorf("wire: cannot convert %T to MONEY", val)
		}
		ticks := decimalToMoneyTicks(d)
		if m.Type == TypeMoney4 {
			binary.Write(buf, binary.LittleEndian, int32(ticks))
		} else {
			binary.Write(buf, binary.LittleEndian, int32(ticks>>32))
			binary.Write(buf, binary.LittleEndian, uint32(ticks))
		}

	case TypeIntN:
		v, ok := toInt64(val)
		if !ok {
			return fmt.Errorf("wire: cannot convert %T to INTN", val)
		}
		buf.WriteByte(byte(m.Length))
		switch m.Length {
		case 1:
			buf.WriteByte(byte(v))
		case 2:
			binary.Write(buf, binary.LittleEndian, int16(v))
		case 4:
			binary.Write(buf, binary.LittleEndian, int32(v))
		case 8:
			binary.Write(buf, binary.LittleEndian, v)
		}

	case TypeBitN:
		v, ok := toBool(val)
		if !ok {
			return fmt.Errorf("wire: cannot convert %T to BITN", val)
		}
		buf.WriteByte(1)
		if v {
			buf.WriteByte(1)
		} else {
			buf.WriteByte(0)
		}

	case TypeFloatN:
		v, ok := toFloat64(val)
		if !ok {
			return fmt.Errorf("wire: cannot convert %T to FLOATN", val)
		}
		buf.WriteByte(byte(m.Length))
		if m.Length == 4 {
			binary.Write(buf, binary.LittleEndian, math.Float32bits(float32(v)))
		} else {
			binary.Write(buf, binary.LittleEndian, math.Float64bits(v))
		}

	case TypeMoneyN:
		d, ok := toDecimal(val)
		if !ok {
			return fmt.Errorf("wire: cannot convert %T to MONEYN", val)
		}
		ticks := decimalToMoneyTicks(d)
		buf.WriteByte(byte(m.Length))
		if m.Length == 4 {
			binary.Write(buf, binary.LittleEndian, int32(ticks))
		} else {
			binary.Write(buf, binary.LittleEndian, int32(ticks>>32))
			binary.Write(buf, binary.LittleEndian, uint32(ticks))
		}

	case TypeDateTimeN, TypeDateTime:
		tv, ok := toTime(val)
		if !ok {
			return fmt.Errorf("wire: cannot convert %T to DATETIME", val)
		}
		days, ticks := encodeDateTime(tv)
		if m.Type == TypeDateTimeN {
			buf.WriteByte(byte(m.Length))
		}
		binary.Write(buf, binary.LittleEndian, days)
		binary.Write(buf, binary.LittleEndian, ticks)

	case TypeGUID:
		s, ok := val.(string)
		if !ok {
			return fmt.Errorf("wire: cannot convert %T to UNIQUEIDENTIFIER", val)
		}
		buf.WriteByte(16)
		buf.Write(encodeGUID(s))

	case TypeDecimalN, TypeNumericN, TypeDecimal, TypeNumeric:
		d, ok := toDecimal(val)
		if !ok {
			return fmt.Errorf("wire: cannot convert %T to DECIMAL", val)
		}
		enc := encodeDecimal(d, m.Precision, m.Scale)
		buf.WriteByte(byte(len(enc)))
		buf.Write(enc)

	case TypeNVarChar, TypeNChar:
		s := toString(val)
		if m.Length == 0xFFFF {
			writePLP(buf, stringToUCS2(s))
			return nil
		}
		data := stringToUCS2(s)
		binary.Write(buf, binary.LittleEndian, uint16(len(data)))
		buf.Write(data)

	case TypeBigVarChar, TypeBigChar:
		s := toString(val)
		if m.Length == 0xFFFF {
			writePLP(buf, []byte(s))
			return nil
		}
		data := []byte(s)
		binary.Write(buf, binary.LittleEndian, uint16(len(data)))
		buf.Write(data)

	case TypeBigVarBin, TypeBigBinary:
		data, ok := toBytes(val)
		if !ok {
			return fmt.Errorf("wire: cannot convert %T to VARBINARY", val)
		}
		if m.Length == 0xFFFF {
			writePLP(buf, data)
			return nil
		}
		binary.Write(buf, binary.LittleEndian, uint16(len(data)))
		buf.Write(data)

	case TypeChar, TypeVarChar:
		s := toString(val)
		data := []byte(s)
		buf.WriteByte(byte(len(data)))
		buf.Write(data)

	case TypeBinary, TypeVarBinary:
		data, ok := toBytes(val)
		if !ok {
			return fmt.Errorf("wire: cannot convert %T to BINARY", val)
		}
		buf.WriteByte(byte(len(data)))
		buf.Write(data)

	case TypeXML:
		s := toString(val)
		writePLP(buf, stringToUCS2(s))

	case TypeDateN:
		d, ok := val.(civil.Date)
		if !ok {
			return fmt.Errorf("wire: cannot convert %T to DATE", val)
		}
		buf.WriteByte(3)
		writeUintLE(buf, uint64(encodeDate3(d)), 3)

	case TypeTimeN:
		t, ok := val.(civil.Time)
		if !ok {
			return fmt.Errorf("wire: cannot convert %T to TIME", val)
		}
		n := timeWidth(m.Scale)
		buf.WriteByte(byte(n))
		writeUintLE(buf, encodeTimeTicks(t, m.Scale), n)

	case TypeDateTime2N:
		dt, ok := val.(DateTime2)
		if !ok {
			return fmt.Errorf("wire: cannot convert %T to DATETIME2", val)
		}
		n := timeWidth(m.Scale)
		buf.WriteByte(byte(n + 3))
		writeUintLE(buf, encodeTimeTicks(dt.Time, m.Scale), n)
		writeUintLE(buf, uint64(encodeDate3(dt.Date)), 3)

	case TypeDateTimeOffsetN:
		dto, ok := val.(DateTimeOffset)
		if !ok {
			return fmt.Errorf("wire: cannot convert %T to DATETIMEOFFSET", val)
		}
		n := timeWidth(m.Scale)
		buf.WriteByte(byte(n + 3 + 2))
		writeUintLE(buf, encodeTimeTicks(dto.Time, m.Scale), n)
		writeUintLE(buf, uint64(encodeDate3(dto.Date)), 3)
		binary.Write(buf, binary.LittleEndian, int16(dto.OffsetMin))

	default:
		return fmt.Errorf("wire: writeValue: unsupported type %s", m.Type)
	}
	return nil
}

// writeUintLE writes the low n bytes of v in little-endian order, the
// builder-side counterpart of reader.uintLE.
func writeUintLE(buf *bytes.Buffer, v uint64, n int) {
	for i := 0; i < n; i++ {
		buf.WriteByte(byte(v))
		v >>= 8
	}
}

func writeNullValue(buf *bytes.Buffer, m TypeMetadata) error {
	switch m.Type {
	case TypeIntN, TypeBitN, TypeFloatN, TypeMoneyN, TypeDateTimeN, TypeGUID,
		TypeDecimalN, TypeNumericN, TypeDateN, TypeTimeN, TypeDateTime2N, TypeDateTimeOffsetN:
		buf.WriteByte(0)
	case TypeNVarChar, TypeNChar, TypeBigVarChar, TypeBigChar, TypeBigVarBin, TypeBigBinary:
		if m.Length == 0xFFFF {
			writePLP(buf, nil)
		} else {
			binary.Write(buf, binary.LittleEndian, uint16(0xFFFF))
		}
	case TypeChar, TypeVarChar, TypeBinary, TypeVarBinary:
		buf.WriteByte(0)
	case TypeXML, TypeUDT:
		writePLP(buf, nil)
	default:
		buf.WriteByte(0)
	}
	return nil
}

// Conversion helpers, grounded on the teacher's toInt64/toFloat64/
// toBool family (pkg/tds/types.go).
func toInt64(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint:
		return int64(n), true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		return int64(n), true
	case bool:
		if n {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}

func toFloat64(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		i, ok := toInt64(v)
		return float64(i), ok
	}
}

func toBool(v interface{}) (bool, bool) {
	switch n := v.(type) {
	case bool:
		return n, true
	default:
		i, ok := toInt64(v)
		return i != 0, ok
	}
}

func toString(v interface{}) string {
	switch s := v.(type) {
	case string:
		return s
	case fmt.Stringer:
		return s.String()
	default:
		return fmt.Sprint(v)
	}
}

func toBytes(v interface{}) ([]byte, bool) {
	b, ok := v.([]byte)
	return b, ok
}

func toTime(v interface{}) (time.Time, bool) {
	t, ok := v.(time.Time)
	return t, ok
}

func toDecimal(v interface{}) (decimal.Decimal, bool) {
	switch d := v.(type) {
	case decimal.Decimal:
		return d, true
	case string:
		dec, err := decimal.NewFromString(d)
		return dec, err == nil
	case float64:
		return decimal.NewFromFloat(d), true
	case int64:
		return decimal.NewFromInt(d), true
	default:
		return decimal.Decimal{}, false
	}
}
