package connio

import (
	"bytes"
	"context"
	"encoding/binary"
	"net"
	"strconv"
	"testing"
	"time"
	"unicode/utf16"

	"github.com/ha1tch/gotds/internal/framer"
	"github.com/ha1tch/gotds/internal/wire"
)

// fakeServer accepts exactly one connection and drives the client side
// of the Prelogin/Login7 handshake, then lets a test hand it per-request
// response bytes. Modelled on the teacher's own practice of testing its
// TDS layer against a live socket (protocol/tds/client_test.go) with
// client and server roles swapped: here the fake plays server, and the
// real Conn under test plays client.
type fakeServer struct {
	t  *testing.T
	ln net.Listener
	fr *framer.Framer
}

func newFakeServer(t *testing.T) (*fakeServer, string) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	return &fakeServer{t: t, ln: ln}, ln.Addr().String()
}

func (s *fakeServer) acceptAndLogin(respondLoginOK bool) {
	s.t.Helper()
	conn, err := s.ln.Accept()
	if err != nil {
		s.t.Errorf("accept: %v", err)
		return
	}
	s.fr = framer.New(conn)

	// PRELOGIN round trip.
	if _, _, err := s.fr.ReadMessage(); err != nil {
		s.t.Errorf("reading prelogin: %v", err)
		return
	}
	preResp := wire.PreloginRequest{
		Version:    [6]byte{12, 0, 0, 0, 0, 0},
		Encryption: wire.EncryptNotSup,
		ThreadID:   0,
		MARS:       0,
	}.Encode()
	if err := s.fr.WriteMessage(wire.PacketReply, preResp); err != nil {
		s.t.Errorf("writing prelogin response: %v", err)
		return
	}

	// LOGIN7 round trip.
	if _, _, err := s.fr.ReadMessage(); err != nil {
		s.t.Errorf("reading login7: %v", err)
		return
	}
	if respondLoginOK {
		if err := s.fr.WriteMessage(wire.PacketReply, loginAckAndDone()); err != nil {
			s.t.Errorf("writing login response: %v", err)
		}
	} else {
		if err := s.fr.WriteMessage(wire.PacketReply, loginRejected()); err != nil {
			s.t.Errorf("writing login rejection: %v", err)
		}
	}
}

// loginAckAndDone hand-builds a LOGINACK token followed by a final DONE
// token, the minimal response the handshake's drainLoginResponse needs
// to succeed.
func loginAckAndDone() []byte {
	var buf bytes.Buffer

	progName := "gotds-fake-server"
	body := new(bytes.Buffer)
	body.WriteByte(1) // interface: SQL_SRV_DEFAULT
	verBytes := make([]byte, 4)
	binary.BigEndian.PutUint32(verBytes, wire.VerTDS74)
	body.Write(verBytes)
	writeBVarCharForTest(body, progName)
	progVerBytes := make([]byte, 4)
	binary.BigEndian.PutUint32(progVerBytes, 0x0C000000)
	body.Write(progVerBytes)

	buf.WriteByte(byte(wire.TokenLoginAck))
	binary.Write(&buf, binary.LittleEndian, uint16(body.Len()))
	buf.Write(body.Bytes())

	// Final DONE: status 0 (no MORE, no ERROR), curCmd 0, rowCount 0.
	buf.WriteByte(byte(wire.TokenDone))
	binary.Write(&buf, binary.LittleEndian, wire.DoneFinal)
	binary.Write(&buf, binary.LittleEndian, uint16(0))
	binary.Write(&buf, binary.LittleEndian, uint64(0))

	return buf.Bytes()
}

// loginRejected hand-builds an ERROR token followed by a final DONE
// carrying the DoneError bit, the shape a failed login produces.
func loginRejected() []byte {
	var buf bytes.Buffer

	buf.WriteByte(byte(wire.TokenError))
	body := new(bytes.Buffer)
	binary.Write(body, binary.LittleEndian, int32(18456)) // login failed
	body.WriteByte(1)                                     // state
	body.WriteByte(14)                                    // severity >= 11
	writeUSVarCharForTest(body, "Login failed for user.")
	writeBVarCharForTest(body, "fakeserver")
	writeBVarCharForTest(body, "")
	binary.Write(body, binary.LittleEndian, int32(1))
	buf.Write(lenPrefixed(body.Bytes()))

	buf.WriteByte(byte(wire.TokenDone))
	binary.Write(&buf, binary.LittleEndian, wire.DoneError)
	binary.Write(&buf, binary.LittleEndian, uint16(0))
	binary.Write(&buf, binary.LittleEndian, uint64(0))

	return buf.Bytes()
}

func lenPrefixed(body []byte) []byte {
	out := make([]byte, 2+len(body))
	binary.LittleEndian.PutUint16(out, uint16(len(body)))
	copy(out[2:], body)
	return out
}

func writeBVarCharForTest(buf *bytes.Buffer, s string) {
	u16 := utf16.Encode([]rune(s))
	buf.WriteByte(byte(len(u16)))
	for _, v := range u16 {
		binary.Write(buf, binary.LittleEndian, v)
	}
}

func writeUSVarCharForTest(buf *bytes.Buffer, s string) {
	u16 := utf16.Encode([]rune(s))
	binary.Write(buf, binary.LittleEndian, uint16(len(u16)))
	for _, v := range u16 {
		binary.Write(buf, binary.LittleEndian, v)
	}
}

func dialAddr(t *testing.T, addr string) Config {
	t.Helper()
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatalf("split addr: %v", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("parse port: %v", err)
	}
	return Config{
		Host:         host,
		Port:         port,
		Database:     "master",
		User:         "tester",
		Password:     "secret",
		AppName:      "gotds-test",
		Encrypt:      wire.EncryptOff,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	}
}

func TestDialSucceedsOnLoginAck(t *testing.T) {
	srv, addr := newFakeServer(t)
	defer srv.ln.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		srv.acceptAndLogin(true)
	}()

	cfg := dialAddr(t, addr)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	conn, err := Dial(ctx, cfg)
	<-done
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	if conn.State() != StateReady {
		t.Fatalf("state = %v, want Ready", conn.State())
	}
	if conn.Database() != "master" {
		t.Fatalf("database = %q, want master", conn.Database())
	}
}

func TestDialFailsOnLoginRejected(t *testing.T) {
	srv, addr := newFakeServer(t)
	defer srv.ln.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		srv.acceptAndLogin(false)
	}()

	cfg := dialAddr(t, addr)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := Dial(ctx, cfg)
	<-done
	if err == nil {
		t.Fatal("Dial: expected error on rejected login, got nil")
	}
}
