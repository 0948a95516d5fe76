package mssql

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

// fakeServer plays the server side of one TDS session: Prelogin/Login7
// handshake, then one hand-built response per SQLBatch/RPC request it
// receives. Built the same way as internal/connio's fake server, one
// level up: this one also answers a query with a real COLMETADATA/ROW
// response so Client.Execute can be driven end to end, the way
// spec.md §8 frames client-level testing ("an in-process fake server
// drives the real client under test").
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

func (s *fakeServer) handshake() error {
	conn, err := s.ln.Accept()
	if err != nil {
		return err
	}
	s.fr = framer.New(conn)

	if _, _, err := s.fr.ReadMessage(); err != nil {
		return err
	}
	preResp := wire.PreloginRequest{
		Version:    [6]byte{12, 0, 0, 0, 0, 0},
		Encryption: wire.EncryptNotSup,
	}.Encode()
	if err := s.fr.WriteMessage(wire.PacketReply, preResp); err != nil {
		return err
	}

	if _, _, err := s.fr.ReadMessage(); err != nil {
		return err
	}
	return s.fr.WriteMessage(wire.PacketReply, loginAckAndDone())
}

// serveOneQuery reads one SQL_BATCH/RPC_REQUEST and, whatever its text,
// replies with a single-column, single-row result set: column "n",
// value 42.
func (s *fakeServer) serveOneQuery() error {
	if _, _, err := s.fr.ReadMessage(); err != nil {
		return err
	}
	return s.fr.WriteMessage(wire.PacketReply, intResultSetAndDone("n", 42))
}

func loginAckAndDone() []byte {
	var buf bytes.Buffer

	body := new(bytes.Buffer)
	body.WriteByte(1)
	verBytes := make([]byte, 4)
	binary.BigEndian.PutUint32(verBytes, wire.VerTDS74)
	body.Write(verBytes)
	writeBVarCharForTest(body, "gotds-fake-server")
	progVerBytes := make([]byte, 4)
	binary.BigEndian.PutUint32(progVerBytes, 0x0C000000)
	body.Write(progVerBytes)

	buf.WriteByte(byte(wire.TokenLoginAck))
	binary.Write(&buf, binary.LittleEndian, uint16(body.Len()))
	buf.Write(body.Bytes())

	buf.WriteByte(byte(wire.TokenDone))
	binary.Write(&buf, binary.LittleEndian, wire.DoneFinal)
	binary.Write(&buf, binary.LittleEndian, uint16(0))
	binary.Write(&buf, binary.LittleEndian, uint64(0))

	return buf.Bytes()
}

// intResultSetAndDone hand-builds COLMETADATA (one INTN column) + ROW
// (one non-NULL 4-byte value) + a final DONE carrying a row count.
func intResultSetAndDone(colName string, value int32) []byte {
	var buf bytes.Buffer

	binary.Write(&buf, binary.LittleEndian, uint16(1)) // 1 column
	binary.Write(&buf, binary.LittleEndian, uint32(0)) // userType
	binary.Write(&buf, binary.LittleEndian, uint16(0)) // flags
	buf.WriteByte(byte(wire.TypeIntN))
	buf.WriteByte(4) // max length
	writeBVarCharForTest(&buf, colName)

	buf.WriteByte(byte(wire.TokenRow))
	buf.WriteByte(4)
	binary.Write(&buf, binary.LittleEndian, uint32(value))

	buf.WriteByte(byte(wire.TokenDone))
	binary.Write(&buf, binary.LittleEndian, wire.DoneCount)
	binary.Write(&buf, binary.LittleEndian, uint16(0))
	binary.Write(&buf, binary.LittleEndian, uint64(1))

	full := make([]byte, 0, buf.Len()+1)
	full = append(full, byte(wire.TokenColMetadata))
	full = append(full, buf.Bytes()...)
	return full
}

func writeBVarCharForTest(buf *bytes.Buffer, s string) {
	u16 := utf16.Encode([]rune(s))
	buf.WriteByte(byte(len(u16)))
	for _, v := range u16 {
		binary.Write(buf, binary.LittleEndian, v)
	}
}

func TestClientExecuteEndToEnd(t *testing.T) {
	srv, addr := newFakeServer(t)
	defer srv.ln.Close()

	done := make(chan error, 1)
	go func() {
		if err := srv.handshake(); err != nil {
			done <- err
			return
		}
		done <- srv.serveOneQuery()
	}()

	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatalf("split addr: %v", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("parse port: %v", err)
	}

	cfg := DefaultConfig()
	cfg.Host = host
	cfg.Port = port
	cfg.Database = "master"
	cfg.User = "tester"
	cfg.Password = "secret"
	cfg.Encrypt = EncryptOff
	cfg.DialTimeout = 2 * time.Second
	cfg.ReadTimeout = 2 * time.Second
	cfg.WriteTimeout = 2 * time.Second
	cfg.Pool.Max = 1

	client := NewClient(cfg)
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	rows, err := client.Query(ctx, "SELECT 1 AS n")
	if srvErr := <-done; srvErr != nil {
		t.Fatalf("fake server: %v", srvErr)
	}
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("len(rows) = %d, want 1", len(rows))
	}
	n, ok := rows[0][0].Int()
	if !ok || n != 42 {
		t.Fatalf("rows[0][0] = %v, %v; want 42, true", n, ok)
	}
}
