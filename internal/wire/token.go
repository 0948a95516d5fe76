package wire

import (
	"encoding/binary"
	"fmt"
)

// TokenType identifies a token in a TDS response stream.
type TokenType uint8

const (
	TokenReturnStatus  TokenType = 0x79 // 121
	TokenColMetadata   TokenType = 0x81 // 129
	TokenTabName       TokenType = 0xA4 // 164
	TokenColInfo       TokenType = 0xA5 // 165
	TokenOrder         TokenType = 0xA9 // 169
	TokenError         TokenType = 0xAA // 170
	TokenInfo          TokenType = 0xAB // 171
	TokenReturnValue   TokenType = 0xAC // 172
	TokenLoginAck      TokenType = 0xAD // 173
	TokenFeatureExtAck TokenType = 0xAE // 174
	TokenRow           TokenType = 0xD1 // 209
	TokenNBCRow        TokenType = 0xD2 // 210
	TokenEnvChange     TokenType = 0xE3 // 227
	TokenSSPI          TokenType = 0xED // 237
	TokenFedAuthInfo   TokenType = 0xEE // 238
	TokenDone          TokenType = 0xFD // 253
	TokenDoneProc      TokenType = 0xFE // 254
	TokenDoneInProc    TokenType = 0xFF // 255
)

func (t TokenType) String() string {
	switch t {
	case TokenReturnStatus:
		return "RETURNSTATUS"
	case TokenColMetadata:
		return "COLMETADATA"
	case TokenTabName:
		return "TABNAME"
	case TokenColInfo:
		return "COLINFO"
	case TokenOrder:
		return "ORDER"
	case TokenError:
		return "ERROR"
	case TokenInfo:
		return "INFO"
	case TokenReturnValue:
		return "RETURNVALUE"
	case TokenLoginAck:
		return "LOGINACK"
	case TokenFeatureExtAck:
		return "FEATUREEXTACK"
	case TokenRow:
		return "ROW"
	case TokenNBCRow:
		return "NBCROW"
	case TokenEnvChange:
		return "ENVCHANGE"
	case TokenSSPI:
		return "SSPI"
	case TokenFedAuthInfo:
		return "FEDAUTHINFO"
	case TokenDone:
		return "DONE"
	case TokenDoneProc:
		return "DONEPROC"
	case TokenDoneInProc:
		return "DONEINPROC"
	default:
		return fmt.Sprintf("UNKNOWN(0x%02X)", uint8(t))
	}
}

// DONE status flags.
const (
	DoneFinal    uint16 = 0x0000
	DoneMore     uint16 = 0x0001
	DoneError    uint16 = 0x0002
	DoneInxact   uint16 = 0x0004
	DoneCount    uint16 = 0x0010
	DoneAttn     uint16 = 0x0020
	DoneSrvError uint16 = 0x0100
)

// ENVCHANGE types.
const (
	EnvDatabase            uint8 = 1
	EnvLanguage            uint8 = 2
	EnvCharset             uint8 = 3
	EnvPacketSize          uint8 = 4
	EnvSortID              uint8 = 5
	EnvSortFlags           uint8 = 6
	EnvSQLCollation        uint8 = 7
	EnvBeginTran           uint8 = 8
	EnvCommitTran          uint8 = 9
	EnvRollbackTran        uint8 = 10
	EnvEnlistDTC           uint8 = 11
	EnvDefectTran          uint8 = 12
	EnvMirrorPartner       uint8 = 13
	EnvPromoteTran         uint8 = 15
	EnvTranMgrAddr         uint8 = 16
	EnvTranEnded           uint8 = 17
	EnvResetConnAck        uint8 = 18
	EnvStartedInstanceName uint8 = 19
	EnvRouting             uint8 = 20
)

// LoginAckInterface is the TDS interface type reported in LOGINACK.
type LoginAckInterface uint8

const (
	LoginAckSQL70   LoginAckInterface = 0x70
	LoginAckSQL2000 LoginAckInterface = 0x71
	LoginAckSQL2005 LoginAckInterface = 0x72
	LoginAckSQL2008 LoginAckInterface = 0x73
	LoginAckSQL2012 LoginAckInterface = 0x74
)

// Token is the interface implemented by every decoded token. Callers
// type-switch on the concrete type, following the same "decode one
// token at a time and dispatch" pattern the teacher's TokenWriter uses
// in reverse (one Write* method per token kind).
type Token interface {
	TokenType() TokenType
}

type ColMetadataToken struct {
	Columns []Column
}

func (ColMetadataToken) TokenType() TokenType { return TokenColMetadata }

type RowToken struct {
	Values []interface{}
}

func (RowToken) TokenType() TokenType { return TokenRow }

type DoneToken struct {
	Kind     TokenType // TokenDone, TokenDoneProc, or TokenDoneInProc
	Status   uint16
	CurCmd   uint16
	RowCount uint64
}

func (t DoneToken) TokenType() TokenType { return t.Kind }

func (t DoneToken) More() bool     { return t.Status&DoneMore != 0 }
func (t DoneToken) HasError() bool { return t.Status&DoneError != 0 }
func (t DoneToken) HasCount() bool { return t.Status&DoneCount != 0 }

type EnvChangeToken struct {
	Type     uint8
	NewValue string
	OldValue string
	// Raw carries the undecoded bytes for types like EnvSQLCollation,
	// EnvRouting and the transaction begin/commit/rollback changes,
	// whose payload isn't a plain UCS-2 string pair.
	NewRaw []byte
	OldRaw []byte
}

func (EnvChangeToken) TokenType() TokenType { return TokenEnvChange }

// ServerMessageToken unifies ERROR and INFO (§3 ServerMessage in
// SPEC_FULL.md); Kind distinguishes which token produced it.
type ServerMessageToken struct {
	Kind       TokenType // TokenError or TokenInfo
	Number     int32
	State      uint8
	Severity   uint8
	Message    string
	ServerName string
	ProcName   string
	LineNumber int32
}

func (t ServerMessageToken) TokenType() TokenType { return t.Kind }

type ReturnStatusToken struct {
	Value int32
}

func (ReturnStatusToken) TokenType() TokenType { return TokenReturnStatus }

type ReturnValueToken struct {
	Ordinal  uint16
	Name     string
	Status   uint8
	UserType uint32
	Column   Column
	Value    interface{}
}

func (ReturnValueToken) TokenType() TokenType { return TokenReturnValue }

type OrderToken struct {
	ColumnOrdinals []uint16
}

func (OrderToken) TokenType() TokenType { return TokenOrder }

type LoginAckToken struct {
	Interface  LoginAckInterface
	TDSVersion uint32
	ProgName   string
	ProgVersion uint32
}

func (LoginAckToken) TokenType() TokenType { return TokenLoginAck }

type FeatureExtAckToken struct {
	Features map[uint8][]byte
}

func (FeatureExtAckToken) TokenType() TokenType { return TokenFeatureExtAck }

type TabNameToken struct {
	Tables [][]string
}

func (TabNameToken) TokenType() TokenType { return TokenTabName }

type ColInfoToken struct {
	// one entry per column: table ordinal, column name flags
	Entries []ColInfoEntry
}

func (ColInfoToken) TokenType() TokenType { return TokenColInfo }

type ColInfoEntry struct {
	ColumnNum uint8
	TableNum  uint8
	Status    uint8
}

type SSPIToken struct {
	Data []byte
}

func (SSPIToken) TokenType() TokenType { return TokenSSPI }

type FedAuthInfoToken struct {
	STSURL      string
	SPN         string
}

func (FedAuthInfoToken) TokenType() TokenType { return TokenFedAuthInfo }

// TokenStreamReader decodes one token at a time from a fully
// reassembled logical TDS response message. The framer is responsible
// for stitching packets into this contiguous buffer (§4.2); this
// reader only ever sees complete messages, matching how the teacher's
// TokenWriter always writes a complete buffer before WritePacket splits
// it back up for transmission.
type TokenStreamReader struct {
	r          *reader
	collation  []byte // most recently seen SQL collation, for text decode
	prevColMeta []Column
}

// NewTokenStreamReader creates a reader over a complete token stream.
func NewTokenStreamReader(data []byte) *TokenStreamReader {
	return &TokenStreamReader{r: newReader(data)}
}

// Next decodes and returns the next token. When the stream is
// exhausted it returns a nil token and a nil error, not io.EOF.
func (t *TokenStreamReader) Next() (Token, error) {
	if t.r.remaining() == 0 {
		return nil, nil
	}
	tt, err := t.r.byte()
	if err != nil {
		return nil, err
	}
	switch TokenType(tt) {
	case TokenColMetadata:
		return t.readColMetadata()
	case TokenRow:
		return t.readRow()
	case TokenNBCRow:
		return t.readNBCRow()
	case TokenDone, TokenDoneProc, TokenDoneInProc:
		return t.readDone(TokenType(tt))
	case TokenEnvChange:
		return t.readEnvChange()
	case TokenError, TokenInfo:
		return t.readServerMessage(TokenType(tt))
	case TokenReturnStatus:
		return t.readReturnStatus()
	case TokenReturnValue:
		return t.readReturnValue()
	case TokenOrder:
		return t.readOrder()
	case TokenLoginAck:
		return t.readLoginAck()
	case TokenFeatureExtAck:
		return t.readFeatureExtAck()
	case TokenTabName:
		return t.readTabName()
	case TokenColInfo:
		return t.readColInfo()
	case TokenSSPI:
		return t.readSSPI()
	case TokenFedAuthInfo:
		return t.readFedAuthInfo()
	default:
		return nil, fmt.Errorf("wire: unknown token type 0x%02X", tt)
	}
}

func (t *TokenStreamReader) readColMetadata() (Token, error) {
	count, err := t.r.uint16()
	if err != nil {
		return nil, err
	}
	if count == 0xFFFF {
		// NoMetaData sentinel: no columns follow.
		return ColMetadataToken{}, nil
	}
	cols := make([]Column, count)
	for i := range cols {
		c, err := t.readColumn()
		if err != nil {
			return nil, fmt.Errorf("wire: column %d: %w", i, err)
		}
		cols[i] = c
	}
	t.prevColMeta = cols
	return ColMetadataToken{Columns: cols}, nil
}

func (t *TokenStreamReader) readColumn() (Column, error) {
	userType, err := t.r.uint32()
	if err != nil {
		return Column{}, err
	}
	flags, err := t.r.uint16()
	if err != nil {
		return Column{}, err
	}
	meta, err := t.readTypeInfo()
	if err != nil {
		return Column{}, err
	}
	if len(meta.Collation) == 5 {
		t.collation = meta.Collation
	}
	name, err := t.r.bVarChar()
	if err != nil {
		return Column{}, err
	}
	return Column{Name: name, UserType: userType, Flags: flags, Type: meta}, nil
}

// readTypeInfo decodes TYPE_INFO, inverting the teacher's writeTypeInfo
// (tds/token.go) type-by-type.
func (t *TokenStreamReader) readTypeInfo() (TypeMetadata, error) {
	typByte, err := t.r.byte()
	if err != nil {
		return TypeMetadata{}, err
	}
	typ := SQLType(typByte)
	m := TypeMetadata{Type: typ}

	switch typ {
	case TypeNull, TypeInt1, TypeBit, TypeInt2, TypeInt4, TypeInt8,
		TypeFloat4, TypeFloat8, TypeMoney, TypeMoney4,
		TypeDateTime, TypeDateTime4:
		// fixed length, no TYPE_INFO tail

	case TypeIntN, TypeBitN, TypeFloatN, TypeMoneyN, TypeDateTimeN:
		b, err := t.r.byte()
		if err != nil {
			return m, err
		}
		m.Length = uint32(b)

	case TypeDateN:
		// no tail

	case TypeTimeN, TypeDateTime2N, TypeDateTimeOffsetN:
		scale, err := t.r.byte()
		if err != nil {
			return m, err
		}
		m.Scale = scale
		m.Length = uint32(timeWidth(scale))

	case TypeDecimalN, TypeNumericN, TypeDecimal, TypeNumeric:
		ln, err := t.r.byte()
		if err != nil {
			return m, err
		}
		prec, err := t.r.byte()
		if err != nil {
			return m, err
		}
		scale, err := t.r.byte()
		if err != nil {
			return m, err
		}
		m.Length = uint32(ln)
		m.Precision = prec
		m.Scale = scale

	case TypeGUID:
		b, err := t.r.byte()
		if err != nil {
			return m, err
		}
		m.Length = uint32(b)

	case TypeChar, TypeVarChar, TypeBinary, TypeVarBinary:
		b, err := t.r.byte()
		if err != nil {
			return m, err
		}
		m.Length = uint32(b)
		if typ == TypeChar || typ == TypeVarChar {
			coll, err := t.r.bytes(5)
			if err != nil {
				return m, err
			}
			m.Collation = append([]byte(nil), coll...)
		}

	case TypeBigVarChar, TypeBigChar, TypeBigVarBin, TypeBigBinary:
		ln, err := t.r.uint16()
		if err != nil {
			return m, err
		}
		m.Length = uint32(ln)
		if typ == TypeBigVarChar || typ == TypeBigChar {
			coll, err := t.r.bytes(5)
			if err != nil {
				return m, err
			}
			m.Collation = append([]byte(nil), coll...)
		}

	case TypeNVarChar, TypeNChar:
		ln, err := t.r.uint16()
		if err != nil {
			return m, err
		}
		m.Length = uint32(ln)
		coll, err := t.r.bytes(5)
		if err != nil {
			return m, err
		}
		m.Collation = append([]byte(nil), coll...)

	case TypeText, TypeNText, TypeImage:
		ln, err := t.r.uint32()
		if err != nil {
			return m, err
		}
		m.Length = ln
		if typ != TypeImage {
			coll, err := t.r.bytes(5)
			if err != nil {
				return m, err
			}
			m.Collation = append([]byte(nil), coll...)
		}
		numParts, err := t.r.byte()
		if err != nil {
			return m, err
		}
		for i := 0; i < int(numParts); i++ {
			if _, err := t.r.usVarChar(); err != nil {
				return m, err
			}
		}

	case TypeXML:
		schemaPresent, err := t.r.byte()
		if err != nil {
			return m, err
		}
		if schemaPresent != 0 {
			if _, err := t.r.bVarChar(); err != nil {
				return m, err
			}
			if _, err := t.r.bVarChar(); err != nil {
				return m, err
			}
			if _, err := t.r.usVarChar(); err != nil {
				return m, err
			}
		}

	case TypeUDT:
		ln, err := t.r.uint16()
		if err != nil {
			return m, err
		}
		m.Length = uint32(ln)
		dbName, err := t.r.bVarChar()
		if err != nil {
			return m, err
		}
		schemaName, err := t.r.bVarChar()
		if err != nil {
			return m, err
		}
		typeName, err := t.r.bVarChar()
		if err != nil {
			return m, err
		}
		aqn, err := t.r.usVarChar()
		if err != nil {
			return m, err
		}
		m.UDTInfo = &UDTInfo{DBName: dbName, SchemaName: schemaName, TypeName: typeName, AssemblyQualifiedName: aqn}

	case TypeSSVariant:
		ln, err := t.r.uint32()
		if err != nil {
			return m, err
		}
		m.Length = ln

	default:
		return m, fmt.Errorf("wire: unsupported SQLType 0x%02X in TYPE_INFO", typByte)
	}

	return m, nil
}

func (t *TokenStreamReader) readRow() (Token, error) {
	if t.prevColMeta == nil {
		return nil, fmt.Errorf("wire: ROW token before COLMETADATA")
	}
	values := make([]interface{}, len(t.prevColMeta))
	for i, col := range t.prevColMeta {
		v, err := t.readValue(col.Type)
		if err != nil {
			return nil, fmt.Errorf("wire: column %d (%s): %w", i, col.Name, err)
		}
		values[i] = v
	}
	return RowToken{Values: values}, nil
}

func (t *TokenStreamReader) readNBCRow() (Token, error) {
	if t.prevColMeta == nil {
		return nil, fmt.Errorf("wire: NBCROW token before COLMETADATA")
	}
	n := len(t.prevColMeta)
	bitmapLen := (n + 7) / 8
	bitmap, err := t.r.bytes(bitmapLen)
	if err != nil {
		return nil, err
	}
	isNull := func(i int) bool {
		return bitmap[i/8]&(1<<uint(i%8)) != 0
	}
	values := make([]interface{}, n)
	for i, col := range t.prevColMeta {
		if isNull(i) {
			values[i] = nil
			continue
		}
		v, err := t.readValue(col.Type)
		if err != nil {
			return nil, fmt.Errorf("wire: column %d (%s): %w", i, col.Name, err)
		}
		values[i] = v
	}
	return RowToken{Values: values}, nil
}

func (t *TokenStreamReader) readDone(kind TokenType) (Token, error) {
	status, err := t.r.uint16()
	if err != nil {
		return nil, err
	}
	curCmd, err := t.r.uint16()
	if err != nil {
		return nil, err
	}
	rowCount, err := t.r.uint64()
	if err != nil {
		return nil, err
	}
	return DoneToken{Kind: kind, Status: status, CurCmd: curCmd, RowCount: rowCount}, nil
}

func (t *TokenStreamReader) readEnvChange() (Token, error) {
	length, err := t.r.uint16()
	if err != nil {
		return nil, err
	}
	body, err := t.r.bytes(int(length))
	if err != nil {
		return nil, err
	}
	br := newReader(body)
	envType, err := br.byte()
	if err != nil {
		return nil, err
	}

	tok := EnvChangeToken{Type: envType}
	switch envType {
	case EnvSQLCollation, EnvRouting, EnvBeginTran, EnvCommitTran, EnvRollbackTran:
		newRaw, err := br.bVarByte()
		if err != nil {
			return nil, err
		}
		oldRaw, err := br.bVarByte()
		if err != nil {
			return nil, err
		}
		tok.NewRaw = newRaw
		tok.OldRaw = oldRaw
		if envType == EnvSQLCollation && len(newRaw) == 5 {
			t.collation = newRaw
		}
	default:
		newVal, err := br.bVarChar()
		if err != nil {
			return nil, err
		}
		oldVal, err := br.bVarChar()
		if err != nil {
			return nil, err
		}
		tok.NewValue = newVal
		tok.OldValue = oldVal
	}
	return tok, nil
}

func (t *TokenStreamReader) readServerMessage(kind TokenType) (Token, error) {
	_, err := t.r.uint16() // token length, unused: fields are self-describing
	if err != nil {
		return nil, err
	}
	number, err := t.r.int32()
	if err != nil {
		return nil, err
	}
	state, err := t.r.byte()
	if err != nil {
		return nil, err
	}
	severity, err := t.r.byte()
	if err != nil {
		return nil, err
	}
	message, err := t.r.usVarChar()
	if err != nil {
		return nil, err
	}
	serverName, err := t.r.bVarChar()
	if err != nil {
		return nil, err
	}
	procName, err := t.r.bVarChar()
	if err != nil {
		return nil, err
	}
	lineNumber, err := t.r.int32()
	if err != nil {
		return nil, err
	}
	return ServerMessageToken{
		Kind: kind, Number: number, State: state, Severity: severity,
		Message: message, ServerName: serverName, ProcName: procName, LineNumber: lineNumber,
	}, nil
}

func (t *TokenStreamReader) readReturnStatus() (Token, error) {
	v, err := t.r.int32()
	if err != nil {
		return nil, err
	}
	return ReturnStatusToken{Value: v}, nil
}

func (t *TokenStreamReader) readReturnValue() (Token, error) {
	_, err := t.r.uint16() // length
	if err != nil {
		return nil, err
	}
	ordinal, err := t.r.uint16()
	if err != nil {
		return nil, err
	}
	name, err := t.r.bVarChar()
	if err != nil {
		return nil, err
	}
	status, err := t.r.byte()
	if err != nil {
		return nil, err
	}
	userType, err := t.r.uint32()
	if err != nil {
		return nil, err
	}
	flags, err := t.r.uint16()
	if err != nil {
		return nil, err
	}
	meta, err := t.readTypeInfo()
	if err != nil {
		return nil, err
	}
	val, err := t.readValue(meta)
	if err != nil {
		return nil, err
	}
	return ReturnValueToken{
		Ordinal: ordinal, Name: name, Status: status, UserType: userType,
		Column: Column{Name: name, UserType: userType, Flags: flags, Type: meta},
		Value:  val,
	}, nil
}

func (t *TokenStreamReader) readOrder() (Token, error) {
	length, err := t.r.uint16()
	if err != nil {
		return nil, err
	}
	n := int(length) / 2
	ords := make([]uint16, n)
	for i := range ords {
		v, err := t.r.uint16()
		if err != nil {
			return nil, err
		}
		ords[i] = v
	}
	return OrderToken{ColumnOrdinals: ords}, nil
}

func (t *TokenStreamReader) readLoginAck() (Token, error) {
	_, err := t.r.uint16() // length
	if err != nil {
		return nil, err
	}
	ifaceByte, err := t.r.byte()
	if err != nil {
		return nil, err
	}
	verBytes, err := t.r.bytes(4)
	if err != nil {
		return nil, err
	}
	progName, err := t.r.bVarChar()
	if err != nil {
		return nil, err
	}
	progVerBytes, err := t.r.bytes(4)
	if err != nil {
		return nil, err
	}
	return LoginAckToken{
		Interface:   LoginAckInterface(ifaceByte),
		TDSVersion:  binary.BigEndian.Uint32(verBytes),
		ProgName:    progName,
		ProgVersion: binary.BigEndian.Uint32(progVerBytes),
	}, nil
}

func (t *TokenStreamReader) readFeatureExtAck() (Token, error) {
	features := make(map[uint8][]byte)
	for {
		id, err := t.r.byte()
		if err != nil {
			return nil, err
		}
		if id == 0xFF {
			break
		}
		length, err := t.r.uint32()
		if err != nil {
			return nil, err
		}
		data, err := t.r.bytes(int(length))
		if err != nil {
			return nil, err
		}
		features[id] = append([]byte(nil), data...)
	}
	return FeatureExtAckToken{Features: features}, nil
}

func (t *TokenStreamReader) readTabName() (Token, error) {
	length, err := t.r.uint16()
	if err != nil {
		return nil, err
	}
	body, err := t.r.bytes(int(length))
	if err != nil {
		return nil, err
	}
	br := newReader(body)
	var tables [][]string
	for br.remaining() > 0 {
		numParts, err := br.byte()
		if err != nil {
			return nil, err
		}
		parts := make([]string, numParts)
		for i := range parts {
			s, err := br.usVarChar()
			if err != nil {
				return nil, err
			}
			parts[i] = s
		}
		tables = append(tables, parts)
	}
	return TabNameToken{Tables: tables}, nil
}

func (t *TokenStreamReader) readColInfo() (Token, error) {
	length, err := t.r.uint16()
	if err != nil {
		return nil, err
	}
	body, err := t.r.bytes(int(length))
	if err != nil {
		return nil, err
	}
	br := newReader(body)
	var entries []ColInfoEntry
	for br.remaining() >= 3 {
		colNum, _ := br.byte()
		tableNum, _ := br.byte()
		status, _ := br.byte()
		entries = append(entries, ColInfoEntry{ColumnNum: colNum, TableNum: tableNum, Status: status})
	}
	return ColInfoToken{Entries: entries}, nil
}

func (t *TokenStreamReader) readSSPI() (Token, error) {
	length, err := t.r.uint16()
	if err != nil {
		return nil, err
	}
	data, err := t.r.bytes(int(length))
	if err != nil {
		return nil, err
	}
	return SSPIToken{Data: append([]byte(nil), data...)}, nil
}

func (t *TokenStreamReader) readFedAuthInfo() (Token, error) {
	length, err := t.r.uint32()
	if err != nil {
		return nil, err
	}
	body, err := t.r.bytes(int(length))
	if err != nil {
		return nil, err
	}
	br := newReader(body)
	count, err := br.uint32()
	if err != nil {
		return nil, err
	}
	type optHdr struct {
		id     uint8
		size   uint32
		offset uint32
	}
	hdrs := make([]optHdr, count)
	for i := range hdrs {
		id, err := br.byte()
		if err != nil {
			return nil, err
		}
		size, err := br.uint32()
		if err != nil {
			return nil, err
		}
		offset, err := br.uint32()
		if err != nil {
			return nil, err
		}
		hdrs[i] = optHdr{id, size, offset}
	}
	tok := FedAuthInfoToken{}
	for _, h := range hdrs {
		start := int(h.offset)
		end := start + int(h.size)
		if start < 0 || end > len(body) {
			continue
		}
		s := ucs2ToString(body[start:end])
		switch h.id {
		case 0x01:
			tok.STSURL = s
		case 0x02:
			tok.SPN = s
		}
	}
	return tok, nil
}
