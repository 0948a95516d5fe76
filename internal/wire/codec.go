package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"math/big"
	"strings"
	"time"
	"unicode/utf16"

	"github.com/golang-sql/civil"
	"github.com/shopspring/decimal"
	"golang.org/x/text/encoding/charmap"
)

// reader wraps a byte slice with a cursor, the pattern the teacher's
// parse functions use throughout pkg/tds and tds (rpcReader in
// tds/rpc.go), generalised here into a single shared helper used by
// every token/value decoder in this package.
type reader struct {
	data []byte
	pos  int
}

func newReader(b []byte) *reader { return &reader{data: b} }

func (r *reader) remaining() int { return len(r.data) - r.pos }

func (r *reader) need(n int) error {
	if r.remaining() < n {
		return fmt.Errorf("wire: truncated stream: need %d bytes, have %d", n, r.remaining())
	}
	return nil
}

func (r *reader) byte() (byte, error) {
	if err := r.need(1); err != nil {
		return 0, err
	}
	b := r.data[r.pos]
	r.pos++
	return b, nil
}

func (r *reader) bytes(n int) ([]byte, error) {
	if err := r.need(n); err != nil {
		return nil, err
	}
	b := r.data[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

func (r *reader) uint16() (uint16, error) {
	b, err := r.bytes(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

func (r *reader) int16() (int16, error) {
	v, err := r.uint16()
	return int16(v), err
}

func (r *reader) uint32() (uint32, error) {
	b, err := r.bytes(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (r *reader) int32() (int32, error) {
	v, err := r.uint32()
	return int32(v), err
}

func (r *reader) uint64() (uint64, error) {
	b, err := r.bytes(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

func (r *reader) int64() (int64, error) {
	v, err := r.uint64()
	return int64(v), err
}

// uintLE reads an n-byte (1..8) little-endian unsigned integer. This is
// the "N-byte-little-endian unsigned integer reader" spec.md calls out
// explicitly, used throughout date/time decoding below.
func (r *reader) uintLE(n int) (uint64, error) {
	b, err := r.bytes(n)
	if err != nil {
		return 0, err
	}
	var v uint64
	for i := n - 1; i >= 0; i-- {
		v = (v << 8) | uint64(b[i])
	}
	return v, nil
}

// bVarChar reads a B_VARCHAR: 1-byte character count, UCS-2 LE payload.
func (r *reader) bVarChar() (string, error) {
	n, err := r.byte()
	if err != nil {
		return "", err
	}
	return r.ucs2String(int(n))
}

// usVarChar reads a US_VARCHAR: 2-byte character count, UCS-2 LE payload.
func (r *reader) usVarChar() (string, error) {
	n, err := r.uint16()
	if err != nil {
		return "", err
	}
	return r.ucs2String(int(n))
}

// bVarByte reads a B_VARBYTE: 1-byte length, raw bytes.
func (r *reader) bVarByte() ([]byte, error) {
	n, err := r.byte()
	if err != nil {
		return nil, err
	}
	return r.bytes(int(n))
}

// usVarByte reads a US_VARBYTE: 2-byte length, raw bytes.
func (r *reader) usVarByte() ([]byte, error) {
	n, err := r.uint16()
	if err != nil {
		return nil, err
	}
	return r.bytes(int(n))
}

func (r *reader) ucs2String(chars int) (string, error) {
	b, err := r.bytes(chars * 2)
	if err != nil {
		return "", err
	}
	return ucs2ToString(b), nil
}

// ucs2ToString converts UCS-2 (UTF-16LE) bytes to a Go string without
// panicking on malformed input: an odd trailing byte is dropped, and
// unpaired surrogates are replaced with U+FFFD by utf16.Decode.
func ucs2ToString(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	if len(b)%2 != 0 {
		b = b[:len(b)-1]
	}
	u16 := make([]uint16, len(b)/2)
	for i := range u16 {
		u16[i] = binary.LittleEndian.Uint16(b[i*2:])
	}
	return string(utf16.Decode(u16))
}

// stringToUCS2 converts a Go string to UCS-2 (UTF-16LE) bytes.
func stringToUCS2(s string) []byte {
	u16 := utf16.Encode([]rune(s))
	b := make([]byte, len(u16)*2)
	for i, v := range u16 {
		binary.LittleEndian.PutUint16(b[i*2:], v)
	}
	return b
}

// writeBVarChar writes a B_VARCHAR (1-byte char count + UCS-2 LE).
func writeBVarChar(w *bytes.Buffer, s string) {
	data := stringToUCS2(s)
	w.WriteByte(byte(len(data) / 2))
	w.Write(data)
}

// writeUSVarChar writes a US_VARCHAR (2-byte char count + UCS-2 LE).
func writeUSVarChar(w *bytes.Buffer, s string) {
	data := stringToUCS2(s)
	binary.Write(w, binary.LittleEndian, uint16(len([]rune(s))))
	w.Write(data)
}

// DefaultCollation is Latin1_General_CI_AS, the common SQL Server default.
var DefaultCollation = []byte{0x09, 0x04, 0xD0, 0x00, 0x34}

// decodeMBCS decodes CHAR/VARCHAR bytes. Any collation descriptor of at
// least 5 bytes selects Windows-1252; the descriptor's contents are not
// inspected, so collations of other code pages are also decoded as
// CP1252. Only a missing (shorter) collation falls back to the
// heuristic decoder (see DecodeTextHeuristic).
func decodeMBCS(b []byte, collation []byte) string {
	if len(collation) >= 5 {
		dec := charmap.Windows1252.NewDecoder()
		out, err := dec.Bytes(b)
		if err == nil {
			return string(out)
		}
	}
	return DecodeTextHeuristic(b)
}

// DecodeTextHeuristic implements the fallback described in spec.md §9:
// when collation-driven decoding isn't available, try UTF-8, then
// CP1252, then UTF-16LE with a possible 1- or 2-byte prefix already
// stripped. This is diagnostic-only: callers should prefer
// collation-driven decoding whenever collation bytes are present.
func DecodeTextHeuristic(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	if s := string(b); isValidUTF8Text(s) {
		return s
	}
	if dec, err := charmap.Windows1252.NewDecoder().Bytes(b); err == nil {
		return string(dec)
	}
	if len(b)%2 == 0 {
		return ucs2ToString(b)
	}
	return ucs2ToString(b[:len(b)-1])
}

func isValidUTF8Text(s string) bool {
	for _, r := range s {
		if r == 0xFFFD {
			return false
		}
	}
	return true
}

// moneyToDecimal converts a raw MONEY/SMALLMONEY tick count (ticks of
// 1/10000) into a decimal.Decimal.
func moneyToDecimal(ticks int64) decimal.Decimal {
	return decimal.New(ticks, -4)
}

// decimalToMoneyTicks converts a decimal back into MONEY ticks.
func decimalToMoneyTicks(d decimal.Decimal) int64 {
	return d.Shift(4).Truncate(0).IntPart()
}

// GUID encode/decode. SQL Server's UNIQUEIDENTIFIER stores the first
// three components little-endian (RFC 4122 "Microsoft" variant byte
// order) and the last two big-endian.
func decodeGUID(b []byte) (string, error) {
	if len(b) != 16 {
		return "", fmt.Errorf("wire: GUID must be 16 bytes, got %d", len(b))
	}
	var sw [16]byte
	copy(sw[:], b)
	sw[0], sw[3] = sw[3], sw[0]
	sw[1], sw[2] = sw[2], sw[1]
	sw[4], sw[5] = sw[5], sw[4]
	sw[6], sw[7] = sw[7], sw[6]
	return fmt.Sprintf("%02x%02x%02x%02x-%02x%02x-%02x%02x-%02x%02x-%02x%02x%02x%02x%02x%02x",
		sw[0], sw[1], sw[2], sw[3], sw[4], sw[5], sw[6], sw[7],
		b[8], b[9], b[10], b[11], b[12], b[13], b[14], b[15]), nil
}

func encodeGUID(s string) []byte {
	s = strings.ReplaceAll(s, "-", "")
	out := make([]byte, 16)
	if len(s) != 32 {
		return out
	}
	for i := 0; i < 16; i++ {
		var v int
		fmt.Sscanf(s[i*2:i*2+2], "%02x", &v)
		out[i] = byte(v)
	}
	out[0], out[3] = out[3], out[0]
	out[1], out[2] = out[2], out[1]
	out[4], out[5] = out[5], out[4]
	out[6], out[7] = out[7], out[6]
	return out
}

// decodeDecimal parses the sign-byte + little-endian-magnitude DECIMAL/
// NUMERIC wire encoding into a decimal.Decimal, using precision/scale
// from the column's TypeMetadata.
func decodeDecimal(b []byte, scale uint8) (decimal.Decimal, error) {
	if len(b) < 1 {
		return decimal.Zero, fmt.Errorf("wire: empty decimal payload")
	}
	sign := b[0]
	mag := b[1:]

	// Magnitude is little-endian; reverse it into a big-endian byte
	// slice so math/big.Int.SetBytes can consume it directly.
	be := make([]byte, len(mag))
	for i, v := range mag {
		be[len(mag)-1-i] = v
	}

	coeff := new(big.Int).SetBytes(be)

	d := decimal.NewFromBigInt(coeff, -int32(scale))
	if sign == 0 {
		d = d.Neg()
	}
	return d, nil
}

func encodeDecimal(d decimal.Decimal, precision, scale uint8) []byte {
	scaled := d.Shift(int32(scale)).Truncate(0)
	coeff := new(big.Int).Set(scaled.Coefficient())
	neg := coeff.Sign() < 0
	if neg {
		coeff.Abs(coeff)
	}

	byteLen := decimalByteWidth(precision)
	be := coeff.Bytes()
	mag := make([]byte, byteLen)
	for i := range be {
		// be is big-endian, most-significant first; mag is little-endian.
		mag[i] = be[len(be)-1-i]
	}

	out := make([]byte, 1+byteLen)
	if neg {
		out[0] = 0
	} else {
		out[0] = 1
	}
	copy(out[1:], mag)
	return out
}

// decimalByteWidth returns the magnitude width (4/8/12/16) for a given
// precision, per the DECIMAL/NUMERIC TYPE_INFO table in spec.md §6.
func decimalByteWidth(precision uint8) int {
	switch {
	case precision <= 9:
		return 4
	case precision <= 19:
		return 8
	case precision <= 28:
		return 12
	default:
		return 16
	}
}

// time encodings (spec.md §6)

var sqlBaseDate = time.Date(1900, 1, 1, 0, 0, 0, 0, time.UTC)

func decodeSmallDateTime(days uint16, minutes uint16) time.Time {
	return sqlBaseDate.AddDate(0, 0, int(days)).Add(time.Duration(minutes) * time.Minute)
}

func encodeSmallDateTime(t time.Time) (days uint16, minutes uint16) {
	d := int(t.Sub(sqlBaseDate).Hours() / 24)
	midnight := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	m := int(t.Sub(midnight).Minutes())
	return uint16(d), uint16(m)
}

func decodeDateTime(days int32, ticks uint32) time.Time {
	// ticks are counts of 1/300s since midnight.
	ns := (int64(ticks) * 10 / 3) * int64(time.Millisecond) / 10 * 10
	_ = ns
	ms := int64(ticks) * 1000 / 300
	return sqlBaseDate.AddDate(0, 0, int(days)).Add(time.Duration(ms) * time.Millisecond)
}

func encodeDateTime(t time.Time) (days int32, ticks uint32) {
	days = int32(t.Sub(sqlBaseDate).Hours() / 24)
	midnight := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	ticks = uint32(t.Sub(midnight).Milliseconds() * 3 / 10)
	return
}

// timeWidth returns the byte width of a TIME(n)/DATETIME2(n)/
// DATETIMEOFFSET(n) tick field for a given scale, per spec.md §6.
func timeWidth(scale uint8) int {
	switch {
	case scale <= 2:
		return 3
	case scale <= 4:
		return 4
	default:
		return 5
	}
}

var sqlBaseDateOrdinal = civil.DateOf(time.Date(1, 1, 1, 0, 0, 0, 0, time.UTC))

func decodeDate3(days uint32) civil.Date {
	return sqlBaseDateOrdinal.AddDays(int(days))
}

func encodeDate3(d civil.Date) uint32 {
	return uint32(d.DaysSince(sqlBaseDateOrdinal))
}

// decodeTimeTicks converts raw ticks (10^-scale second units since
// midnight) into a civil.Time.
func decodeTimeTicks(ticks uint64, scale uint8) civil.Time {
	ns := ticksToNanos(ticks, scale)
	d := time.Duration(ns)
	h := int(d / time.Hour)
	d -= time.Duration(h) * time.Hour
	m := int(d / time.Minute)
	d -= time.Duration(m) * time.Minute
	s := int(d / time.Second)
	d -= time.Duration(s) * time.Second
	return civil.Time{Hour: h, Minute: m, Second: s, Nanosecond: int(d)}
}

func encodeTimeTicks(t civil.Time, scale uint8) uint64 {
	ns := int64(t.Hour)*int64(time.Hour) + int64(t.Minute)*int64(time.Minute) +
		int64(t.Second)*int64(time.Second) + int64(t.Nanosecond)
	return nanosToTicks(ns, scale)
}

func ticksToNanos(ticks uint64, scale uint8) int64 {
	// ticks are in units of 10^(-scale) seconds.
	div := int64(math.Pow10(int(scale)))
	return int64(ticks) * int64(time.Second) / div
}

func nanosToTicks(ns int64, scale uint8) uint64 {
	div := int64(math.Pow10(int(scale)))
	return uint64(ns * div / int64(time.Second))
}

