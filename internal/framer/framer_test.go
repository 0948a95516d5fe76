package framer

import (
	"bytes"
	"net"
	"testing"

	"github.com/ha1tch/gotds/internal/wire"
)

func TestWriteMessageSplitsAtPacketSize(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	f := New(client)
	if err := f.SetPacketSize(wire.MinPacketSize); err != nil {
		t.Fatalf("SetPacketSize: %v", err)
	}

	body := bytes.Repeat([]byte{0x42}, wire.MinPacketSize*3+17)

	errc := make(chan error, 1)
	go func() {
		errc <- f.WriteMessage(wire.PacketSQLBatch, body)
	}()

	serverFramer := New(server)
	gotType, gotData, err := serverFramer.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if err := <-errc; err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}

	if gotType != wire.PacketSQLBatch {
		t.Errorf("type = %v, want SQL_BATCH", gotType)
	}
	if !bytes.Equal(gotData, body) {
		t.Errorf("reassembled body mismatch: got %d bytes, want %d", len(gotData), len(body))
	}
}

func TestWriteMessageSinglePacket(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	f := New(client)
	body := []byte("SELECT 1")

	errc := make(chan error, 1)
	go func() { errc <- f.WriteMessage(wire.PacketSQLBatch, body) }()

	serverFramer := New(server)
	_, gotData, err := serverFramer.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if err := <-errc; err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}
	if !bytes.Equal(gotData, body) {
		t.Errorf("got %q, want %q", gotData, body)
	}
}
