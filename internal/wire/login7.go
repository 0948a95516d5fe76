package wire

import (
	"bytes"
	"encoding/binary"
)

// Login7 option flags, grounded on the teacher's pkg/tds/login.go.
const (
	FlagByteOrder uint8 = 0x01
	FlagChar      uint8 = 0x02
	FlagFloat     uint8 = 0x0C
	FlagDumpLoad  uint8 = 0x10
	FlagUseDB     uint8 = 0x20
	FlagDatabase  uint8 = 0x40
	FlagSetLang   uint8 = 0x80

	FlagLanguage      uint8 = 0x01
	FlagODBC          uint8 = 0x02
	FlagTransBoundary uint8 = 0x04
	FlagCacheConnect  uint8 = 0x08
	FlagIntSecurity   uint8 = 0x80

	FlagChangePassword   uint8 = 0x01
	FlagBinaryXML        uint8 = 0x02
	FlagUserInstance     uint8 = 0x04
	FlagUnknownCollation uint8 = 0x08
	FlagExtension        uint8 = 0x10

	FlagReadOnlyIntent uint8 = 0x20
)

// Login7HeaderSize is the fixed size of the LOGIN7 header.
const Login7HeaderSize = 94

// Login7Request carries the fields the client supplies to build a
// LOGIN7 packet. The wire layout (fixed header followed by a data
// region addressed by offset/length pairs) is identical to the one the
// teacher's ParseLogin7 decodes; this is the matching encoder.
type Login7Request struct {
	TDSVersion    uint32
	PacketSize    uint32
	ClientProgVer uint32
	ClientPID     uint32
	ConnectionID  uint32
	ClientTimeZone int32
	ClientLCID    uint32

	HostName   string
	UserName   string
	Password   string
	AppName    string
	ServerName string
	CtlIntName string
	Language   string
	Database   string
	AtchDBFile string

	ReadOnlyIntent bool
	UseUTF8        bool

	FeatureExt []byte // pre-encoded feature extension block, terminator included
}

// Encode builds the complete LOGIN7 message body (length-prefixed,
// ready to hand to the packet framer).
func (l Login7Request) Encode() []byte {
	type strField struct {
		data []byte
		mangle bool
	}

	strs := []strField{
		{stringToUCS2(l.HostName), false},
		{stringToUCS2(l.UserName), false},
		{manglePassword(stringToUCS2(l.Password)), false},
		{stringToUCS2(l.AppName), false},
		{stringToUCS2(l.ServerName), false},
		{nil, false}, // extension placeholder, filled below if present
		{stringToUCS2(l.CtlIntName), false},
		{stringToUCS2(l.Language), false},
		{stringToUCS2(l.Database), false},
	}

	var extension []byte
	if len(l.FeatureExt) > 0 {
		extension = make([]byte, 4)
		// populated once the absolute offset is known, below.
	}
	strs[5].data = extension

	const clientIDLen = 6
	const sspiOffsetPlaceholder = 0

	header := Login7Header{
		TDSVersion:     l.TDSVersion,
		PacketSize:     l.PacketSize,
		ClientProgVer:  l.ClientProgVer,
		ClientPID:      l.ClientPID,
		ConnectionID:   l.ConnectionID,
		OptionFlags1:   FlagUseDB | FlagSetLang,
		OptionFlags2:   FlagODBC,
		TypeFlags:      0,
		OptionFlags3:   0,
		ClientTimeZone: l.ClientTimeZone,
		ClientLCID:     l.ClientLCID,
	}
	if l.ReadOnlyIntent {
		header.TypeFlags |= FlagReadOnlyIntent
	}
	if len(l.FeatureExt) > 0 {
		header.OptionFlags3 |= FlagExtension
	}

	dataOffset := uint16(Login7HeaderSize)
	offsets := make([]uint16, len(strs))
	for i, s := range strs {
		offsets[i] = dataOffset
		dataOffset += uint16(len(s.data))
	}

	var featureExtOffset uint32
	if len(l.FeatureExt) > 0 {
		featureExtOffset = uint32(dataOffset)
	}

	var buf bytes.Buffer
	buf.Grow(int(dataOffset) + len(l.FeatureExt))

	binary.Write(&buf, binary.LittleEndian, uint32(0)) // length, patched below
	binary.Write(&buf, binary.LittleEndian, header.TDSVersion)
	binary.Write(&buf, binary.LittleEndian, header.PacketSize)
	binary.Write(&buf, binary.LittleEndian, header.ClientProgVer)
	binary.Write(&buf, binary.LittleEndian, header.ClientPID)
	binary.Write(&buf, binary.LittleEndian, header.ConnectionID)
	buf.WriteByte(header.OptionFlags1)
	buf.WriteByte(header.OptionFlags2)
	buf.WriteByte(header.TypeFlags)
	buf.WriteByte(header.OptionFlags3)
	binary.Write(&buf, binary.LittleEndian, header.ClientTimeZone)
	binary.Write(&buf, binary.LittleEndian, header.ClientLCID)

	writeOffLen := func(off uint16, charLen int) {
		binary.Write(&buf, binary.LittleEndian, off)
		binary.Write(&buf, binary.LittleEndian, uint16(charLen))
	}

	writeOffLen(offsets[0], len([]rune(l.HostName)))
	writeOffLen(offsets[1], len([]rune(l.UserName)))
	writeOffLen(offsets[2], len([]rune(l.Password)))
	writeOffLen(offsets[3], len([]rune(l.AppName)))
	writeOffLen(offsets[4], len([]rune(l.ServerName)))
	if len(l.FeatureExt) > 0 {
		writeOffLen(offsets[5], 4) // extension offset field holds a DWORD pointer
	} else {
		writeOffLen(0, 0)
	}
	writeOffLen(offsets[6], len([]rune(l.CtlIntName)))
	writeOffLen(offsets[7], len([]rune(l.Language)))
	writeOffLen(offsets[8], len([]rune(l.Database)))

	var clientID [clientIDLen]byte
	buf.Write(clientID[:])

	writeOffLen(sspiOffsetPlaceholder, 0) // SSPI
	writeOffLen(0, 0)                     // AtchDBFile
	writeOffLen(0, 0)                     // ChangePassword
	binary.Write(&buf, binary.LittleEndian, uint32(0)) // SSPILongLength

	for i, s := range strs {
		if i == 5 {
			if len(l.FeatureExt) > 0 {
				var fe [4]byte
				binary.LittleEndian.PutUint32(fe[:], featureExtOffset)
				buf.Write(fe[:])
			}
			continue
		}
		buf.Write(s.data)
	}

	if len(l.FeatureExt) > 0 {
		buf.Write(l.FeatureExt)
	}

	out := buf.Bytes()
	binary.LittleEndian.PutUint32(out[0:4], uint32(len(out)))
	return out
}

// Login7Header mirrors the 36 bytes of fixed fields at the start of the
// 94-byte LOGIN7 header, which the teacher's ParseLogin7 decodes field
// by field; the offset/length table that completes the header is
// written directly by Encode.
type Login7Header struct {
	Length         uint32
	TDSVersion     uint32
	PacketSize     uint32
	ClientProgVer  uint32
	ClientPID      uint32
	ConnectionID   uint32
	OptionFlags1   uint8
	OptionFlags2   uint8
	TypeFlags      uint8
	OptionFlags3   uint8
	ClientTimeZone int32
	ClientLCID     uint32
}

// manglePassword applies the TDS password obfuscation: nibble-swap then
// XOR with 0xA5. This is the exact inverse of the teacher's
// readMangledPassword (pkg/tds/login.go), which XORs then nibble-swaps
// to recover plaintext; composing the two round-trips cleanly.
func manglePassword(b []byte) []byte {
	out := make([]byte, len(b))
	for i, c := range b {
		swapped := (c >> 4) | (c << 4)
		out[i] = swapped ^ 0xA5
	}
	return out
}

// unmanglePassword reverses manglePassword; present for completeness
// and for tests that need to assert on a round trip.
func unmanglePassword(b []byte) []byte {
	out := make([]byte, len(b))
	for i, c := range b {
		x := c ^ 0xA5
		out[i] = (x >> 4) | (x << 4)
	}
	return out
}
