package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/golang-sql/civil"
)

// PLP (Partially Length-Prefixed) sentinels, used by every MAX type
// (VARCHAR(MAX), NVARCHAR(MAX), VARBINARY(MAX), XML, UDT) in place of a
// fixed 2- or 4-byte length.
const (
	plpNullLen      uint64 = 0xFFFFFFFFFFFFFFFF
	plpUnknownLen   uint64 = 0xFFFFFFFFFFFFFFFE
	plpTerminator   uint32 = 0x00000000
)

// readPLP reads a full PLP value (total length + chunk stream) and
// returns the concatenated bytes, or nil for SQL NULL.
func (r *reader) readPLP() ([]byte, error) {
	totalLen, err := r.uint64()
	if err != nil {
		return nil, err
	}
	if totalLen == plpNullLen {
		return nil, nil
	}

	var out bytes.Buffer
	if totalLen != plpUnknownLen && totalLen > 0 {
		out.Grow(int(totalLen))
	}
	for {
		chunkLen, err := r.uint32()
		if err != nil {
			return nil, err
		}
		if chunkLen == plpTerminator {
			break
		}
		chunk, err := r.bytes(int(chunkLen))
		if err != nil {
			return nil, err
		}
		out.Write(chunk)
	}
	return out.Bytes(), nil
}

// writePLP encodes data as a single-chunk PLP value. nil encodes as
// SQL NULL.
func writePLP(w *bytes.Buffer, data []byte) {
	if data == nil {
		binary.Write(w, binary.LittleEndian, plpNullLen)
		return
	}
	binary.Write(w, binary.LittleEndian, uint64(len(data)))
	if len(data) > 0 {
		binary.Write(w, binary.LittleEndian, uint32(len(data)))
		w.Write(data)
	}
	binary.Write(w, binary.LittleEndian, plpTerminator)
}

// readValue decodes a single column/parameter value according to its
// TypeMetadata, inverting the teacher's writeValue (tds/token.go)
// type-by-type and adding the MAX/PLP and date/time/decimal/GUID/
// variant paths the teacher's server side never needed to produce.
func (t *TokenStreamReader) readValue(m TypeMetadata) (interface{}, error) {
	return readValueWith(t.r, m, t.collation)
}

func readValueWith(r *reader, m TypeMetadata, collation []byte) (interface{}, error) {
	switch m.Type {
	case TypeNull:
		return nil, nil

	case TypeInt1:
		v, err := r.byte()
		return int64(v), err
	case TypeBit:
		v, err := r.byte()
		return v != 0, err
	case TypeInt2:
		v, err := r.int16()
		return int64(v), err
	case TypeInt4:
		v, err := r.int32()
		return int64(v), err
	case TypeInt8:
		v, err := r.int64()
		return v, err
	case TypeFloat4:
		b, err := r.bytes(4)
		if err != nil {
			return nil, err
		}
		return float64(float32FromBits(binary.LittleEndian.Uint32(b))), nil
	case TypeFloat8:
		b, err := r.bytes(8)
		if err != nil {
			return nil, err
		}
		return float64FromBits(binary.LittleEndian.Uint64(b)), nil
	case TypeMoney:
		return readMoney(r, 8)
	case TypeMoney4:
		return readMoney(r, 4)
	case TypeDateTime:
		b, err := r.bytes(8)
		if err != nil {
			return nil, err
		}
		days := int32(binary.LittleEndian.Uint32(b[0:4]))
		ticks := binary.LittleEndian.Uint32(b[4:8])
		return decodeDateTime(days, ticks), nil
	case TypeDateTime4:
		b, err := r.bytes(4)
		if err != nil {
			return nil, err
		}
		days := binary.LittleEndian.Uint16(b[0:2])
		mins := binary.LittleEndian.Uint16(b[2:4])
		return decodeSmallDateTime(days, mins), nil

	case TypeIntN, TypeBitN, TypeFloatN, TypeMoneyN, TypeDateTimeN,
		TypeGUID, TypeDecimalN, TypeNumericN, TypeDecimal, TypeNumeric:
		return readNLengthValue(r, m)

	case TypeDateN:
		return readByteLengthDate(r)
	case TypeTimeN:
		return readByteLengthTime(r, m)
	case TypeDateTime2N:
		return readByteLengthDateTime2(r, m)
	case TypeDateTimeOffsetN:
		return readByteLengthDateTimeOffset(r, m)

	case TypeChar, TypeVarChar, TypeBinary, TypeVarBinary:
		n, err := r.byte()
		if err != nil {
			return nil, err
		}
		if n == 0xFF {
			return nil, nil
		}
		data, err := r.bytes(int(n))
		if err != nil {
			return nil, err
		}
		if m.Type == TypeChar || m.Type == TypeVarChar {
			coll := m.Collation
			if len(coll) != 5 {
				coll = collation
			}
			return decodeMBCS(data, coll), nil
		}
		return append([]byte(nil), data...), nil

	case TypeBigChar, TypeBigVarChar, TypeBigBinary, TypeBigVarBin:
		if m.Length == 0xFFFF {
			data, err := r.readPLP()
			if err != nil {
				return nil, err
			}
			if data == nil {
				return nil, nil
			}
			if m.Type == TypeBigChar || m.Type == TypeBigVarChar {
				coll := m.Collation
				if len(coll) != 5 {
					coll = collation
				}
				return decodeMBCS(data, coll), nil
			}
			return data, nil
		}
		n, err := r.uint16()
		if err != nil {
			return nil, err
		}
		if n == 0xFFFF {
			return nil, nil
		}
		data, err := r.bytes(int(n))
		if err != nil {
			return nil, err
		}
		if m.Type == TypeBigChar || m.Type == TypeBigVarChar {
			coll := m.Collation
			if len(coll) != 5 {
				coll = collation
			}
			return decodeMBCS(data, coll), nil
		}
		return append([]byte(nil), data...), nil

	case TypeNChar, TypeNVarChar:
		if m.Length == 0xFFFF {
			data, err := r.readPLP()
			if err != nil {
				return nil, err
			}
			if data == nil {
				return nil, nil
			}
			return ucs2ToString(data), nil
		}
		n, err := r.uint16()
		if err != nil {
			return nil, err
		}
		if n == 0xFFFF {
			return nil, nil
		}
		data, err := r.bytes(int(n))
		if err != nil {
			return nil, err
		}
		return ucs2ToString(data), nil

	case TypeXML, TypeUDT:
		data, err := r.readPLP()
		if err != nil {
			return nil, err
		}
		if m.Type == TypeXML && data != nil {
			return ucs2ToString(data), nil
		}
		return data, nil

	case TypeText, TypeNText, TypeImage:
		textPtrLen, err := r.byte()
		if err != nil {
			return nil, err
		}
		if textPtrLen == 0 {
			return nil, nil
		}
		if _, err := r.bytes(int(textPtrLen)); err != nil {
			return nil, err
		}
		if _, err := r.bytes(8); err != nil { // timestamp
			return nil, err
		}
		n, err := r.uint32()
		if err != nil {
			return nil, err
		}
		data, err := r.bytes(int(n))
		if err != nil {
			return nil, err
		}
		switch m.Type {
		case TypeText:
			coll := m.Collation
			if len(coll) != 5 {
				coll = collation
			}
			return decodeMBCS(data, coll), nil
		case TypeNText:
			return ucs2ToString(data), nil
		default:
			return append([]byte(nil), data...), nil
		}

	case TypeSSVariant:
		n, err := r.uint32()
		if err != nil {
			return nil, err
		}
		v, err := readSQLVariant(r, int(n))
		if err != nil || v == nil {
			return nil, err
		}
		return *v, nil

	default:
		return nil, fmt.Errorf("wire: readValue: unsupported type %s", m.Type)
	}
}

// readNLengthValue handles every *N type plus legacy fixed-precision
// DECIMAL/NUMERIC: a 1-byte length prefix (0 meaning NULL) followed by
// a payload whose shape depends on the declared type.
func readNLengthValue(r *reader, m TypeMetadata) (interface{}, error) {
	n, err := r.byte()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	switch m.Type {
	case TypeIntN:
		v, err := r.uintLE(int(n))
		if err != nil {
			return nil, err
		}
		return signExtend(v, int(n)), nil
	case TypeBitN:
		b, err := r.byte()
		return b != 0, err
	case TypeFloatN:
		b, err := r.bytes(int(n))
		if err != nil {
			return nil, err
		}
		if n == 4 {
			return float64(float32FromBits(binary.LittleEndian.Uint32(b))), nil
		}
		return float64FromBits(binary.LittleEndian.Uint64(b)), nil
	case TypeMoneyN:
		return readMoney(r, int(n))
	case TypeDateTimeN:
		if n == 4 {
			b, err := r.bytes(4)
			if err != nil {
				return nil, err
			}
			return decodeSmallDateTime(binary.LittleEndian.Uint16(b[0:2]), binary.LittleEndian.Uint16(b[2:4])), nil
		}
		b, err := r.bytes(8)
		if err != nil {
			return nil, err
		}
		return decodeDateTime(int32(binary.LittleEndian.Uint32(b[0:4])), binary.LittleEndian.Uint32(b[4:8])), nil
	case TypeGUID:
		b, err := r.bytes(16)
		if err != nil {
			return nil, err
		}
		return decodeGUID(b)
	case TypeDecimalN, TypeNumericN, TypeDecimal, TypeNumeric:
		b, err := r.bytes(int(n))
		if err != nil {
			return nil, err
		}
		return decodeDecimal(b, m.Scale)
	default:
		return nil, fmt.Errorf("wire: readNLengthValue: unexpected type %s", m.Type)
	}
}

func signExtend(v uint64, width int) int64 {
	switch width {
	case 1:
		return int64(v)
	case 2:
		return int64(int16(v))
	case 4:
		return int64(int32(v))
	default:
		return int64(v)
	}
}

func readMoney(r *reader, width int) (interface{}, error) {
	if width == 4 {
		b, err := r.bytes(4)
		if err != nil {
			return nil, err
		}
		v := int32(binary.LittleEndian.Uint32(b))
		return moneyToDecimal(int64(v)), nil
	}
	b, err := r.bytes(8)
	if err != nil {
		return nil, err
	}
	high := int32(binary.LittleEndian.Uint32(b[0:4]))
	low := binary.LittleEndian.Uint32(b[4:8])
	v := int64(high)<<32 | int64(low)
	return moneyToDecimal(v), nil
}

func readByteLengthDate(r *reader) (interface{}, error) {
	n, err := r.byte()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	days, err := r.uintLE(3)
	if err != nil {
		return nil, err
	}
	return decodeDate3(uint32(days)), nil
}

func readByteLengthTime(r *reader, m TypeMetadata) (interface{}, error) {
	n, err := r.byte()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	ticks, err := r.uintLE(int(n))
	if err != nil {
		return nil, err
	}
	return decodeTimeTicks(ticks, m.Scale), nil
}

func readByteLengthDateTime2(r *reader, m TypeMetadata) (interface{}, error) {
	n, err := r.byte()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	timeWidthN := timeWidth(m.Scale)
	ticks, err := r.uintLE(timeWidthN)
	if err != nil {
		return nil, err
	}
	days, err := r.uintLE(int(n) - timeWidthN)
	if err != nil {
		return nil, err
	}
	return DateTime2{Date: decodeDate3(uint32(days)), Time: decodeTimeTicks(ticks, m.Scale)}, nil
}

func readByteLengthDateTimeOffset(r *reader, m TypeMetadata) (interface{}, error) {
	n, err := r.byte()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	timeWidthN := timeWidth(m.Scale)
	ticks, err := r.uintLE(timeWidthN)
	if err != nil {
		return nil, err
	}
	days, err := r.uintLE(int(n) - timeWidthN - 2)
	if err != nil {
		return nil, err
	}
	offsetMinRaw, err := r.int16()
	if err != nil {
		return nil, err
	}
	return DateTimeOffset{
		Date:      decodeDate3(uint32(days)),
		Time:      decodeTimeTicks(ticks, m.Scale),
		OffsetMin: int(offsetMinRaw),
	}, nil
}

// DateTime2 and DateTimeOffset are the decoded carriers for
// DATETIME2(n)/DATETIMEOFFSET(n) column values; the root package's
// Value constructors convert these into civil.DateTime and a
// fixed-offset time.Time respectively.
type DateTime2 struct {
	Date civil.Date
	Time civil.Time
}

type DateTimeOffset struct {
	Date      civil.Date
	Time      civil.Time
	OffsetMin int
}

func float32FromBits(b uint32) float32 {
	return math.Float32frombits(b)
}

func float64FromBits(b uint64) float64 {
	return math.Float64frombits(b)
}
