package wire

import "fmt"

// SQLType identifies a TDS wire data type.
type SQLType uint8

const (
	TypeNull  SQLType = 0x1F // 31
	TypeInt1  SQLType = 0x30 // 48  - tinyint
	TypeBit   SQLType = 0x32 // 50
	TypeInt2  SQLType = 0x34 // 52  - smallint
	TypeInt4  SQLType = 0x38 // 56  - int
	TypeDateTime4 SQLType = 0x3A // 58 - smalldatetime
	TypeFloat4 SQLType = 0x3B // 59 - real
	TypeMoney SQLType = 0x3C // 60
	TypeDateTime SQLType = 0x3D // 61
	TypeFloat8 SQLType = 0x3E // 62 - float
	TypeMoney4 SQLType = 0x7A // 122 - smallmoney
	TypeInt8  SQLType = 0x7F // 127 - bigint

	// Variable length types
	TypeGUID            SQLType = 0x24 // 36
	TypeIntN            SQLType = 0x26 // 38
	TypeDecimal         SQLType = 0x37 // 55 legacy
	TypeNumeric         SQLType = 0x3F // 63 legacy
	TypeBitN            SQLType = 0x68 // 104
	TypeDecimalN        SQLType = 0x6A // 106
	TypeNumericN        SQLType = 0x6C // 108
	TypeFloatN          SQLType = 0x6D // 109
	TypeMoneyN          SQLType = 0x6E // 110
	TypeDateTimeN       SQLType = 0x6F // 111
	TypeDateN           SQLType = 0x28 // 40
	TypeTimeN           SQLType = 0x29 // 41
	TypeDateTime2N      SQLType = 0x2A // 42
	TypeDateTimeOffsetN SQLType = 0x2B // 43

	// String types (legacy, 1-byte length)
	TypeChar      SQLType = 0x2F // 47
	TypeVarChar   SQLType = 0x27 // 39
	TypeBinary    SQLType = 0x2D // 45
	TypeVarBinary SQLType = 0x25 // 37

	// Large types (2-byte length)
	TypeBigVarBin  SQLType = 0xA5 // 165
	TypeBigVarChar SQLType = 0xA7 // 167
	TypeBigBinary  SQLType = 0xAD // 173
	TypeBigChar    SQLType = 0xAF // 175
	TypeNVarChar   SQLType = 0xE7 // 231
	TypeNChar      SQLType = 0xEF // 239
	TypeXML        SQLType = 0xF1 // 241
	TypeUDT        SQLType = 0xF0 // 240

	// MAX / LOB types
	TypeText      SQLType = 0x23 // 35
	TypeImage     SQLType = 0x22 // 34
	TypeNText     SQLType = 0x63 // 99
	TypeSSVariant SQLType = 0x62 // 98
)

func (t SQLType) String() string {
	switch t {
	case TypeNull:
		return "NULL"
	case TypeInt1:
		return "TINYINT"
	case TypeBit, TypeBitN:
		return "BIT"
	case TypeInt2:
		return "SMALLINT"
	case TypeInt4:
		return "INT"
	case TypeInt8:
		return "BIGINT"
	case TypeIntN:
		return "INTN"
	case TypeFloat4:
		return "REAL"
	case TypeFloat8:
		return "FLOAT"
	case TypeFloatN:
		return "FLOATN"
	case TypeDateTime:
		return "DATETIME"
	case TypeDateTime4:
		return "SMALLDATETIME"
	case TypeDateTimeN:
		return "DATETIMEN"
	case TypeMoney:
		return "MONEY"
	case TypeMoney4:
		return "SMALLMONEY"
	case TypeMoneyN:
		return "MONEYN"
	case TypeGUID:
		return "UNIQUEIDENTIFIER"
	case TypeDateN:
		return "DATE"
	case TypeTimeN:
		return "TIME"
	case TypeDateTime2N:
		return "DATETIME2"
	case TypeDateTimeOffsetN:
		return "DATETIMEOFFSET"
	case TypeDecimal, TypeDecimalN:
		return "DECIMAL"
	case TypeNumeric, TypeNumericN:
		return "NUMERIC"
	case TypeChar, TypeBigChar:
		return "CHAR"
	case TypeVarChar, TypeBigVarChar:
		return "VARCHAR"
	case TypeBinary, TypeBigBinary:
		return "BINARY"
	case TypeVarBinary, TypeBigVarBin:
		return "VARBINARY"
	case TypeNVarChar:
		return "NVARCHAR"
	case TypeNChar:
		return "NCHAR"
	case TypeText:
		return "TEXT"
	case TypeNText:
		return "NTEXT"
	case TypeImage:
		return "IMAGE"
	case TypeXML:
		return "XML"
	case TypeUDT:
		return "UDT"
	case TypeSSVariant:
		return "SQL_VARIANT"
	default:
		return fmt.Sprintf("UNKNOWN(0x%02X)", uint8(t))
	}
}

// isMaxType reports whether t's TYPE_INFO uses the PLP 0xFFFF "MAX"
// length marker instead of a fixed 2-byte length.
func isMaxType(t SQLType, length int) bool {
	switch t {
	case TypeBigVarChar, TypeBigVarBin, TypeNVarChar:
		return length == 0xFFFF
	case TypeXML, TypeUDT:
		return true
	default:
		return false
	}
}

// TypeMetadata describes the TYPE_INFO of a single column or parameter,
// as carried on the wire in COLMETADATA / RPC parameter definitions.
type TypeMetadata struct {
	Type      SQLType
	Length    uint32 // declared max length in bytes; 0xFFFF for MAX types
	Precision uint8  // DECIMAL/NUMERIC
	Scale     uint8  // DECIMAL/NUMERIC/TIME/DATETIME2/DATETIMEOFFSET
	Collation []byte // 5 bytes, CHAR/VARCHAR/NCHAR/NVARCHAR/TEXT/NTEXT only
	UDTInfo   *UDTInfo
}

// UDTInfo carries the CLR UDT descriptor attached to TYPE_UDT columns.
type UDTInfo struct {
	DBName     string
	SchemaName string
	TypeName   string
	AssemblyQualifiedName string
}

// IsMax reports whether this column/parameter is a MAX-length (PLP) type
// or one of the legacy TEXT/NTEXT/IMAGE large-object types.
func (m TypeMetadata) IsMax() bool {
	return isMaxType(m.Type, int(m.Length)) || m.Type == TypeText || m.Type == TypeNText || m.Type == TypeImage
}

// IsNullable reports whether the SQLType's wire form carries its own
// length-based NULL marker (the *N family, VARCHAR/BINARY family, and
// all MAX/LOB types all do; the plain fixed-length types never do since
// the server instead widens them to the *N form to express NULL).
func (m TypeMetadata) IsNullable() bool {
	switch m.Type {
	case TypeNull, TypeIntN, TypeBitN, TypeFloatN, TypeMoneyN, TypeDateTimeN,
		TypeDateN, TypeTimeN, TypeDateTime2N, TypeDateTimeOffsetN,
		TypeDecimalN, TypeNumericN, TypeGUID,
		TypeChar, TypeVarChar, TypeBinary, TypeVarBinary,
		TypeBigChar, TypeBigVarChar, TypeBigBinary, TypeBigVarBin,
		TypeNChar, TypeNVarChar, TypeText, TypeNText, TypeImage,
		TypeXML, TypeUDT, TypeSSVariant:
		return true
	default:
		return false
	}
}

// ColumnFlags, as carried on COLMETADATA.
const (
	ColFlagNullable        uint16 = 0x0001
	ColFlagCaseSen         uint16 = 0x0002
	ColFlagUpdateable      uint16 = 0x0008
	ColFlagIdentity        uint16 = 0x0010
	ColFlagComputed        uint16 = 0x0020
	ColFlagFixedLenCLR     uint16 = 0x0100
	ColFlagSparseColumn    uint16 = 0x0400
	ColFlagEncrypted       uint16 = 0x0800
	ColFlagHidden          uint16 = 0x2000
	ColFlagKey             uint16 = 0x4000
	ColFlagNullableUnknown uint16 = 0x8000
)

// Column represents one column of a COLMETADATA token.
type Column struct {
	Name     string
	UserType uint32
	Flags    uint16
	Type     TypeMetadata
	TableName []string // not populated: the TEXT/NTEXT/IMAGE table-name parts are read and discarded
}

// Nullable reports whether ColFlagNullable is set.
func (c Column) Nullable() bool { return c.Flags&ColFlagNullable != 0 }

// RPC parameter status bits (§4, Login7/RPC builders).
const (
	ParamStatusByRefOutput uint8 = 0x01
	ParamStatusDefault     uint8 = 0x02
)

// Param is a single RPC parameter, used both when building an RPC
// request and when decoding a RETURNVALUE token.
type Param struct {
	Name   string // includes leading "@" when named; empty for positional
	Status uint8
	Type   TypeMetadata
	Value  interface{}
}
