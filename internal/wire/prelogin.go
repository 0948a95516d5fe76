package wire

import (
	"encoding/binary"
	"fmt"
)

// TDS protocol versions, grounded on the teacher's pkg/tds/prelogin.go.
const (
	VerTDS70     uint32 = 0x70000000
	VerTDS71     uint32 = 0x71000000
	VerTDS71Rev1 uint32 = 0x71000001
	VerTDS72     uint32 = 0x72090002
	VerTDS73A    uint32 = 0x730A0003
	VerTDS73B    uint32 = 0x730B0003
	VerTDS74     uint32 = 0x74000004
	VerTDS80     uint32 = 0x08000000 // strict encryption (TDS 8.0)
)

func VersionString(ver uint32) string {
	switch ver {
	case VerTDS70:
		return "7.0"
	case VerTDS71:
		return "7.1"
	case VerTDS71Rev1:
		return "7.1 Rev 1"
	case VerTDS72:
		return "7.2"
	case VerTDS73A:
		return "7.3A"
	case VerTDS73B:
		return "7.3B"
	case VerTDS74:
		return "7.4"
	case VerTDS80:
		return "8.0"
	default:
		return fmt.Sprintf("unknown (0x%08X)", ver)
	}
}

// Prelogin option tokens.
const (
	PreloginVersion    uint8 = 0x00
	PreloginEncryption uint8 = 0x01
	PreloginInstOpt    uint8 = 0x02
	PreloginThreadID   uint8 = 0x03
	PreloginMARS       uint8 = 0x04
	PreloginTraceID    uint8 = 0x05
	PreloginFedAuth    uint8 = 0x06
	PreloginNonceOpt   uint8 = 0x07
	PreloginTerminator uint8 = 0xFF
)

// Encryption options for prelogin.
const (
	EncryptOff    uint8 = 0x00
	EncryptOn     uint8 = 0x01
	EncryptNotSup uint8 = 0x02
	EncryptReq    uint8 = 0x03
	EncryptStrict uint8 = 0x04
)

type preloginOption struct {
	Token  uint8
	Offset uint16
	Length uint16
}

// PreloginRequest is the client-sent PRELOGIN message. The server's
// teacher-side ParsePrelogin decodes exactly this shape from the wire;
// here the client builds it instead.
type PreloginRequest struct {
	Version    [6]byte
	Encryption uint8
	Instance   string
	ThreadID   uint32
	MARS       uint8
}

// Encode serialises the request using the option-table-then-payload
// layout common to both directions of PRELOGIN.
func (p PreloginRequest) Encode() []byte {
	instance := append([]byte(p.Instance), 0)

	type field struct {
		token uint8
		data  []byte
	}
	threadID := make([]byte, 4)
	binary.BigEndian.PutUint32(threadID, p.ThreadID)

	fields := []field{
		{PreloginVersion, p.Version[:]},
		{PreloginEncryption, []byte{p.Encryption}},
		{PreloginInstOpt, instance},
		{PreloginThreadID, threadID},
		{PreloginMARS, []byte{p.MARS}},
	}

	headerSize := len(fields)*5 + 1
	buf := make([]byte, headerSize)
	pos := headerSize
	offsets := make([]uint16, len(fields))
	for i, f := range fields {
		offsets[i] = uint16(pos)
		pos += len(f.data)
	}

	out := make([]byte, pos)
	hp := 0
	for i, f := range fields {
		out[hp] = f.token
		binary.BigEndian.PutUint16(out[hp+1:hp+3], offsets[i])
		binary.BigEndian.PutUint16(out[hp+3:hp+5], uint16(len(f.data)))
		hp += 5
	}
	out[hp] = PreloginTerminator

	for i, f := range fields {
		copy(out[offsets[i]:], f.data)
	}
	return out
}

// ServerVersion is the 6-byte version structure embedded in the
// server's PRELOGIN response.
type ServerVersion struct {
	Major    uint8
	Minor    uint8
	Build    uint16
	SubBuild uint16
}

// PreloginResponse is the server's reply, parsed by the client.
type PreloginResponse struct {
	Version    ServerVersion
	Encryption uint8
	Instance   string
	ThreadID   uint32
	MARS       uint8
	FedAuth    uint8
	HasFedAuth bool
}

// ParsePreloginResponse decodes a server PRELOGIN response. This is the
// inverse of the teacher's PreloginResponse.Encode (pkg/tds/prelogin.go):
// the option table / payload layout is identical in both directions, so
// the client side simply walks the same table the teacher writes.
func ParsePreloginResponse(data []byte) (*PreloginResponse, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("wire: empty prelogin response")
	}

	options := make(map[uint8]preloginOption)
	offset := 0
	for {
		if offset >= len(data) {
			return nil, fmt.Errorf("wire: prelogin response truncated reading options")
		}
		token := data[offset]
		if token == PreloginTerminator {
			break
		}
		if offset+5 > len(data) {
			return nil, fmt.Errorf("wire: prelogin option header truncated")
		}
		options[token] = preloginOption{
			Token:  token,
			Offset: binary.BigEndian.Uint16(data[offset+1 : offset+3]),
			Length: binary.BigEndian.Uint16(data[offset+3 : offset+5]),
		}
		offset += 5
	}

	resp := &PreloginResponse{}
	for token, opt := range options {
		start := int(opt.Offset)
		end := start + int(opt.Length)
		if end > len(data) || start < 0 {
			return nil, fmt.Errorf("wire: prelogin option %d data out of bounds", token)
		}
		value := data[start:end]

		switch token {
		case PreloginVersion:
			if len(value) >= 6 {
				resp.Version = ServerVersion{
					Major:    value[0],
					Minor:    value[1],
					Build:    binary.BigEndian.Uint16(value[2:4]),
					SubBuild: binary.BigEndian.Uint16(value[4:6]),
				}
			}
		case PreloginEncryption:
			if len(value) >= 1 {
				resp.Encryption = value[0]
			}
		case PreloginInstOpt:
			for i, b := range value {
				if b == 0 {
					resp.Instance = string(value[:i])
					break
				}
			}
		case PreloginThreadID:
			if len(value) >= 4 {
				resp.ThreadID = binary.BigEndian.Uint32(value)
			}
		case PreloginMARS:
			if len(value) >= 1 {
				resp.MARS = value[0]
			}
		case PreloginFedAuth:
			resp.HasFedAuth = true
			if len(value) >= 1 {
				resp.FedAuth = value[0]
			}
		}
	}

	return resp, nil
}
