// Package framer splits outbound client requests into TDS packets at
// the negotiated packet size and reassembles inbound packets back into
// complete logical messages.
//
// The split/reassemble logic here is a direct client-side mirror of
// the teacher's tds.Conn.WritePacket/ReadPacketWithStatus (tds/conn.go):
// the teacher reads requests and writes responses; this package writes
// requests and reads responses, over the same wire framing.
package framer

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/ha1tch/gotds/internal/wire"
)

// Framer owns the buffered reader/writer over a connection's transport
// and the packet sequence counter, matching the teacher's Conn fields
// exactly (minus the server-only SPID/clientHost bookkeeping).
type Framer struct {
	netConn    net.Conn
	reader     *bufio.Reader
	writer     *bufio.Writer
	packetSize int
	packetSeq  uint8
	readSeq    uint8

	readTimeout  time.Duration
	writeTimeout time.Duration
}

// New wraps a transport connection. packetSize starts at
// wire.DefaultPacketSize and is updated via SetPacketSize once the
// server reports a negotiated size (connio applies ENVCHANGE(PacketSize)
// this way).
func New(netConn net.Conn) *Framer {
	return &Framer{
		netConn:    netConn,
		reader:     bufio.NewReaderSize(netConn, wire.MaxPacketSize),
		writer:     bufio.NewWriterSize(netConn, wire.MaxPacketSize),
		packetSize: wire.DefaultPacketSize,
		packetSeq:  1,
		readSeq:    1,
	}
}

// SetPacketSize updates the packet size used for subsequent writes.
func (f *Framer) SetPacketSize(size int) error {
	if err := wire.ValidatePacketSize(size); err != nil {
		return err
	}
	f.packetSize = size
	return nil
}

// PacketSize returns the currently negotiated packet size.
func (f *Framer) PacketSize() int { return f.packetSize }

// SetReadTimeout and SetWriteTimeout configure per-operation deadlines
// applied to each packet read/write, the same pattern as the teacher's
// WithReadTimeout/WithWriteTimeout connection options.
func (f *Framer) SetReadTimeout(d time.Duration)  { f.readTimeout = d }
func (f *Framer) SetWriteTimeout(d time.Duration) { f.writeTimeout = d }

// ResetPacketSequence resets the packet ID counter, used after a
// connection reset (§4.5 ENVCHANGE handling never triggers this for a
// client, but RESETCONNECTION request status bits can).
func (f *Framer) ResetPacketSequence() {
	f.packetSeq = 1
	f.readSeq = 1
}

// WriteMessage splits data into one or more TDS packets of type pktType
// and writes them, setting StatusEOM on the final packet. This mirrors
// the teacher's Conn.WritePacket.
func (f *Framer) WriteMessage(pktType wire.PacketType, data []byte) error {
	if f.writeTimeout > 0 {
		f.netConn.SetWriteDeadline(time.Now().Add(f.writeTimeout))
	}

	maxPayload := f.packetSize - wire.HeaderSize
	remaining := data

	for {
		isLast := len(remaining) <= maxPayload
		var chunk []byte
		if isLast {
			chunk = remaining
		} else {
			chunk = remaining[:maxPayload]
			remaining = remaining[maxPayload:]
		}

		status := wire.StatusNormal
		if isLast {
			status = wire.StatusEOM
		}

		hdr := wire.Header{
			Type:     pktType,
			Status:   status,
			Length:   uint16(wire.HeaderSize + len(chunk)),
			PacketID: f.packetSeq,
		}

		if err := hdr.Write(f.writer); err != nil {
			return fmt.Errorf("framer: writing packet header: %w", err)
		}
		if _, err := f.writer.Write(chunk); err != nil {
			return fmt.Errorf("framer: writing packet payload: %w", err)
		}

		f.packetSeq++
		if f.packetSeq == 0 {
			f.packetSeq = 1
		}

		if isLast {
			break
		}
	}

	return f.writer.Flush()
}

// ReadMessage reads one or more packets until StatusEOM and returns the
// concatenated payload together with the packet type of the first
// packet (subsequent packets of a logical message always share it).
func (f *Framer) ReadMessage() (wire.PacketType, []byte, error) {
	if f.readTimeout > 0 {
		f.netConn.SetReadDeadline(time.Now().Add(f.readTimeout))
	}

	hdr, err := wire.ReadHeader(f.reader)
	if err != nil {
		return 0, nil, fmt.Errorf("framer: reading packet header: %w", err)
	}
	if int(hdr.Length) < wire.HeaderSize {
		return 0, nil, fmt.Errorf("framer: invalid packet length %d", hdr.Length)
	}
	if int(hdr.Length) > f.packetSize && f.packetSize > 0 {
		return 0, nil, fmt.Errorf("framer: packet too large: %d > %d", hdr.Length, f.packetSize)
	}
	if err := f.checkPacketID(hdr); err != nil {
		return 0, nil, err
	}

	msgType := hdr.Type
	var data []byte
	if n := hdr.PayloadLength(); n > 0 {
		payload := make([]byte, n)
		if _, err := io.ReadFull(f.reader, payload); err != nil {
			return 0, nil, fmt.Errorf("framer: reading packet payload: %w", err)
		}
		if !hdr.IsIgnore() {
			data = payload
		}
	}

	for !hdr.IsLastPacket() {
		if f.readTimeout > 0 {
			f.netConn.SetReadDeadline(time.Now().Add(f.readTimeout))
		}
		hdr, err = wire.ReadHeader(f.reader)
		if err != nil {
			return 0, nil, fmt.Errorf("framer: reading continuation header: %w", err)
		}
		if err := f.checkPacketID(hdr); err != nil {
			return 0, nil, err
		}
		if n := hdr.PayloadLength(); n > 0 {
			chunk := make([]byte, n)
			if _, err := io.ReadFull(f.reader, chunk); err != nil {
				return 0, nil, fmt.Errorf("framer: reading continuation payload: %w", err)
			}
			if !hdr.IsIgnore() {
				data = append(data, chunk...)
			}
		}
	}

	return msgType, data, nil
}

// checkPacketID validates hdr's PacketID against the expected sequence
// and advances it, wrapping 0 -> 1 the same way WriteMessage does.
// A mismatch is a fatal protocol error (spec.md's packet framer §4.2).
func (f *Framer) checkPacketID(hdr wire.Header) error {
	if hdr.PacketID != f.readSeq {
		return fmt.Errorf("framer: packet id mismatch: got %d, want %d", hdr.PacketID, f.readSeq)
	}
	f.readSeq++
	if f.readSeq == 0 {
		f.readSeq = 1
	}
	return nil
}

// Close closes the underlying transport.
func (f *Framer) Close() error {
	return f.netConn.Close()
}
