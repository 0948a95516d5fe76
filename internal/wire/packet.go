// Package wire implements the TDS (Tabular Data Stream) wire protocol
// as seen from the client: message builders for outbound requests and a
// token-stream parser for inbound responses.
//
// The framing and token formats are identical in both directions; this
// package plays the client's half of the exchange that a SQL Server
// speaks from the listening side.
package wire

import (
	"encoding/binary"
	"fmt"
	"io"
)

// PacketType identifies the type of TDS packet.
type PacketType uint8

const (
	// PacketSQLBatch carries ad-hoc SQL text.
	PacketSQLBatch PacketType = 1

	// PacketRPCRequest invokes a stored procedure.
	PacketRPCRequest PacketType = 3

	// PacketReply is sent by the server in response to a request.
	PacketReply PacketType = 4

	// PacketAttention cancels a running request.
	PacketAttention PacketType = 6

	// PacketBulkLoad carries bulk insert data. Not built by this client core.
	PacketBulkLoad PacketType = 7

	// PacketFedAuthToken carries a federated-auth token.
	PacketFedAuthToken PacketType = 8

	// PacketTransMgrReq carries a Transaction Manager request.
	PacketTransMgrReq PacketType = 14

	// PacketLogin7 carries a TDS 7.x login.
	PacketLogin7 PacketType = 16

	// PacketSSPIMessage carries SSPI/Windows auth data.
	PacketSSPIMessage PacketType = 17

	// PacketPrelogin negotiates connection parameters.
	PacketPrelogin PacketType = 18
)

func (p PacketType) String() string {
	switch p {
	case PacketSQLBatch:
		return "SQL_BATCH"
	case PacketRPCRequest:
		return "RPC_REQUEST"
	case PacketReply:
		return "REPLY"
	case PacketAttention:
		return "ATTENTION"
	case PacketBulkLoad:
		return "BULK_LOAD"
	case PacketFedAuthToken:
		return "FEDAUTH_TOKEN"
	case PacketTransMgrReq:
		return "TRANS_MGR_REQ"
	case PacketLogin7:
		return "LOGIN7"
	case PacketSSPIMessage:
		return "SSPI_MESSAGE"
	case PacketPrelogin:
		return "PRELOGIN"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint8(p))
	}
}

// PacketStatus indicates the status bits of a TDS packet.
type PacketStatus uint8

const (
	// StatusNormal means more packets follow.
	StatusNormal PacketStatus = 0x00

	// StatusEOM marks the last packet of a logical message.
	StatusEOM PacketStatus = 0x01

	// StatusIgnore marks a packet that must be dropped (used during TLS negotiation).
	StatusIgnore PacketStatus = 0x02

	// StatusResetConnection asks the server to reset session state.
	StatusResetConnection PacketStatus = 0x08

	// StatusResetConnectionSkipTran resets session state but preserves the transaction.
	StatusResetConnectionSkipTran PacketStatus = 0x10
)

// HeaderSize is the size of a TDS packet header in bytes.
const HeaderSize = 8

// DefaultPacketSize is the packet size used until negotiated otherwise.
const DefaultPacketSize = 4096

// MaxPacketSize is the largest packet size the protocol allows.
const MaxPacketSize = 32767

// MinPacketSize is the smallest packet size the protocol allows.
const MinPacketSize = 512

// Header represents a TDS packet header.
type Header struct {
	Type     PacketType
	Status   PacketStatus
	Length   uint16 // total packet length including header
	SPID     uint16
	PacketID uint8
	Window   uint8
}

// ReadHeader reads a TDS packet header from r.
func ReadHeader(r io.Reader) (Header, error) {
	var buf [HeaderSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return Header{}, err
	}
	return Header{
		Type:     PacketType(buf[0]),
		Status:   PacketStatus(buf[1]),
		Length:   binary.BigEndian.Uint16(buf[2:4]),
		SPID:     binary.BigEndian.Uint16(buf[4:6]),
		PacketID: buf[6],
		Window:   buf[7],
	}, nil
}

// Write writes the header to w.
func (h Header) Write(w io.Writer) error {
	var buf [HeaderSize]byte
	buf[0] = byte(h.Type)
	buf[1] = byte(h.Status)
	binary.BigEndian.PutUint16(buf[2:4], h.Length)
	binary.BigEndian.PutUint16(buf[4:6], h.SPID)
	buf[6] = h.PacketID
	buf[7] = h.Window
	_, err := w.Write(buf[:])
	return err
}

// PayloadLength returns the payload length declared by the header.
func (h Header) PayloadLength() int {
	if h.Length <= HeaderSize {
		return 0
	}
	return int(h.Length) - HeaderSize
}

// IsLastPacket reports whether the EOM status bit is set.
func (h Header) IsLastPacket() bool {
	return h.Status&StatusEOM != 0
}

// IsIgnore reports whether the Ignore status bit is set.
func (h Header) IsIgnore() bool {
	return h.Status&StatusIgnore != 0
}

// ValidatePacketSize checks that size is within the protocol's bounds.
func ValidatePacketSize(size int) error {
	if size < MinPacketSize || size > MaxPacketSize {
		return fmt.Errorf("wire: packet size %d out of range [%d, %d]", size, MinPacketSize, MaxPacketSize)
	}
	return nil
}
