package wire

import "fmt"

// Variant carries a decoded sql_variant value together with the base
// type it was tagged with on the wire, since callers often need to
// know the original SQL type even once the Go value has been
// extracted.
type Variant struct {
	BaseType SQLType
	Value    interface{}
	// Heuristic is set when a text base type arrived without its 7-byte
	// collation+max-length property block (the value is then decoded
	// without a collation), or when the base type is not one this
	// decoder recognises and Value holds the raw value bytes.
	Heuristic bool
}

// readSQLVariant decodes a SQL_VARIANT payload of the given total
// length. Layout: 1-byte base type, 1-byte prop_len (byte count of the
// type-specific property block that follows), prop_len bytes of
// properties (precision/scale/collation/max-length depending on base
// type), then the value itself filling the remainder of the declared
// total length.
func readSQLVariant(r *reader, totalLen int) (*Variant, error) {
	if totalLen == 0 {
		return nil, nil
	}
	baseTypeByte, err := r.byte()
	if err != nil {
		return nil, err
	}
	baseType := SQLType(baseTypeByte)

	propLen, err := r.byte()
	if err != nil {
		return nil, err
	}
	props, err := r.bytes(int(propLen))
	if err != nil {
		return nil, err
	}

	valueLen := totalLen - 2 - int(propLen)
	if valueLen < 0 {
		return nil, fmt.Errorf("wire: sql_variant value length underflow")
	}

	v := &Variant{BaseType: baseType}

	switch baseType {
	case TypeInt1, TypeBit, TypeInt2, TypeInt4, TypeInt8, TypeFloat4, TypeFloat8,
		TypeMoney, TypeMoney4, TypeDateTime, TypeDateTime4:
		val, err := readValueWith(r, TypeMetadata{Type: baseType}, nil)
		if err != nil {
			return nil, err
		}
		v.Value = val

	case TypeGUID:
		data, err := r.bytes(valueLen)
		if err != nil {
			return nil, err
		}
		v.Value, err = decodeGUID(data)
		if err != nil {
			return nil, err
		}

	case TypeDecimalN, TypeNumericN:
		if len(props) < 2 {
			return nil, fmt.Errorf("wire: sql_variant decimal properties truncated")
		}
		precision, scale := props[0], props[1]
		data, err := r.bytes(valueLen)
		if err != nil {
			return nil, err
		}
		dec, err := decodeDecimal(data, scale)
		if err != nil {
			return nil, err
		}
		_ = precision
		v.Value = dec

	case TypeTimeN, TypeDateTime2N, TypeDateTimeOffsetN:
		var scale uint8
		if len(props) >= 1 {
			scale = props[0]
		}
		data, err := r.bytes(valueLen)
		if err != nil {
			return nil, err
		}
		v.Value, err = decodeVariantTemporal(baseType, data, scale)
		if err != nil {
			return nil, err
		}

	case TypeDateN:
		data, err := r.bytes(valueLen)
		if err != nil {
			return nil, err
		}
		if len(data) != 3 {
			return nil, fmt.Errorf("wire: sql_variant date payload must be 3 bytes")
		}
		days := uint32(data[0]) | uint32(data[1])<<8 | uint32(data[2])<<16
		v.Value = decodeDate3(days)

	case TypeBigVarBin, TypeBigBinary:
		data, err := r.bytes(valueLen)
		if err != nil {
			return nil, err
		}
		v.Value = append([]byte(nil), data...)

	case TypeBigVarChar, TypeBigChar, TypeNVarChar, TypeNChar:
		var collation []byte
		if len(props) >= 7 {
			collation = props[0:5]
		}
		// §9 open question: if the property block didn't carry an
		// inner length (it doesn't for sql_variant text — the value
		// length is implied by totalLen instead), the remaining
		// payload bytes ARE the value. We always take this path for
		// sql_variant text since the wire format never carries a
		// second, redundant length prefix inside the value region.
		data, err := r.bytes(valueLen)
		if err != nil {
			return nil, err
		}
		v.Heuristic = collation == nil
		switch baseType {
		case TypeNVarChar, TypeNChar:
			v.Value = ucs2ToString(data)
		default:
			v.Value = decodeMBCS(data, collation)
		}

	default:
		data, err := r.bytes(valueLen)
		if err != nil {
			return nil, err
		}
		v.Value = data
		v.Heuristic = true
	}

	return v, nil
}

func decodeVariantTemporal(baseType SQLType, data []byte, scale uint8) (interface{}, error) {
	tw := timeWidth(scale)
	switch baseType {
	case TypeTimeN:
		if len(data) != tw {
			return nil, fmt.Errorf("wire: sql_variant time payload length mismatch")
		}
		var ticks uint64
		for i := tw - 1; i >= 0; i-- {
			ticks = ticks<<8 | uint64(data[i])
		}
		return decodeTimeTicks(ticks, scale), nil
	case TypeDateTime2N:
		if len(data) != tw+3 {
			return nil, fmt.Errorf("wire: sql_variant datetime2 payload length mismatch")
		}
		var ticks uint64
		for i := tw - 1; i >= 0; i-- {
			ticks = ticks<<8 | uint64(data[i])
		}
		days := uint32(data[tw]) | uint32(data[tw+1])<<8 | uint32(data[tw+2])<<16
		return DateTime2{Date: decodeDate3(days), Time: decodeTimeTicks(ticks, scale)}, nil
	case TypeDateTimeOffsetN:
		if len(data) != tw+5 {
			return nil, fmt.Errorf("wire: sql_variant datetimeoffset payload length mismatch")
		}
		var ticks uint64
		for i := tw - 1; i >= 0; i-- {
			ticks = ticks<<8 | uint64(data[i])
		}
		days := uint32(data[tw]) | uint32(data[tw+1])<<8 | uint32(data[tw+2])<<16
		offsetMin := int16(uint16(data[tw+3]) | uint16(data[tw+4])<<8)
		return DateTimeOffset{Date: decodeDate3(days), Time: decodeTimeTicks(ticks, scale), OffsetMin: int(offsetMin)}, nil
	default:
		return nil, fmt.Errorf("wire: unsupported sql_variant temporal base type %s", baseType)
	}
}
