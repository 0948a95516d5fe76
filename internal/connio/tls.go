package connio

import (
	"context"
	"crypto/tls"
	"net"
	"time"

	"github.com/ha1tch/gotds/internal/framer"
	"github.com/ha1tch/gotds/internal/wire"
)

// upgradeToTLS tunnels a TLS handshake through PRELOGIN packets (the
// wrapped mode the teacher's UpgradeToTLS auto-detects on the server
// side); a client always speaks the wrapped form during handshake, then
// switches to raw TLS records on the same socket afterward.
func (c *Conn) upgradeToTLS() error {
	hc := &handshakeConn{fr: c.fr, raw: c.netRaw}
	tlsConf := &tls.Config{
		ServerName:         c.cfg.Host,
		InsecureSkipVerify: c.cfg.TrustServerCert,
	}
	tlsConn := tls.Client(hc, tlsConf)
	if err := tlsConn.HandshakeContext(context.Background()); err != nil {
		return err
	}
	c.fr = framer.New(tlsConn)
	c.fr.SetPacketSize(c.packetSize)
	c.fr.SetReadTimeout(c.cfg.ReadTimeout)
	c.fr.SetWriteTimeout(c.cfg.WriteTimeout)
	return nil
}

// handshakeConn implements net.Conn over PRELOGIN-wrapped TLS records
// for the duration of the handshake, grounded on the teacher's
// tlsHandshakeConn (tds/tls.go) with the read/write roles inverted: the
// client always wraps, it never auto-detects raw-vs-wrapped mode, since
// only the server needs to accommodate multiple client behaviors.
type handshakeConn struct {
	fr      *framer.Framer
	raw     net.Conn
	readBuf []byte
	readPos int
}

func (h *handshakeConn) Read(b []byte) (int, error) {
	if h.readPos < len(h.readBuf) {
		n := copy(b, h.readBuf[h.readPos:])
		h.readPos += n
		return n, nil
	}
	_, data, err := h.fr.ReadMessage()
	if err != nil {
		return 0, err
	}
	h.readBuf = data
	h.readPos = 0
	n := copy(b, h.readBuf)
	h.readPos = n
	return n, nil
}

func (h *handshakeConn) Write(b []byte) (int, error) {
	if err := h.fr.WriteMessage(wire.PacketPrelogin, b); err != nil {
		return 0, err
	}
	return len(b), nil
}

func (h *handshakeConn) Close() error                      { return nil }
func (h *handshakeConn) LocalAddr() net.Addr                { return h.raw.LocalAddr() }
func (h *handshakeConn) RemoteAddr() net.Addr                { return h.raw.RemoteAddr() }
func (h *handshakeConn) SetDeadline(t time.Time) error       { return h.raw.SetDeadline(t) }
func (h *handshakeConn) SetReadDeadline(t time.Time) error   { return h.raw.SetReadDeadline(t) }
func (h *handshakeConn) SetWriteDeadline(t time.Time) error  { return h.raw.SetWriteDeadline(t) }
