// Package connio owns one physical connection's lifecycle: dialing,
// the Prelogin/TLS/Login7 handshake, per-connection session state kept
// current by ENVCHANGE tokens, and the request/response state machine
// that serialises requests over that connection.
//
// This is the client-side mirror of the teacher's tds.Conn
// (tds/conn.go): the teacher accepts a socket and authenticates an
// incoming login; this package dials a socket and performs the login
// itself.
package connio

import (
	"context"
	"fmt"
	"math/rand"
	"net"
	"os"
	"strings"
	"time"

	"github.com/ha1tch/gotds/internal/assembler"
	"github.com/ha1tch/gotds/internal/framer"
	"github.com/ha1tch/gotds/internal/wire"
)

// State is a connection's place in the request lifecycle (§4.5).
type State int

const (
	StateConnecting State = iota
	StateAuthenticating
	StateReady
	StateInRequest
	StateSendingAttention
	StateDraining
	StateBrokenClosed
	StateGracefulClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "Connecting"
	case StateAuthenticating:
		return "Authenticating"
	case StateReady:
		return "Ready"
	case StateInRequest:
		return "InRequest"
	case StateSendingAttention:
		return "SendingAttention"
	case StateDraining:
		return "Draining"
	case StateBrokenClosed:
		return "BrokenClosed"
	case StateGracefulClosed:
		return "GracefulClosed"
	default:
		return "Unknown"
	}
}

// Config carries everything needed to dial and authenticate a
// connection. Loading these values from files/env is an explicit
// external-collaborator concern; this struct only holds already-resolved
// values.
type Config struct {
	Host     string
	Port     int
	Database string
	User     string
	Password string
	AppName  string

	Encrypt        uint8 // wire.EncryptOff/On/Req/Strict
	TrustServerCert bool
	PacketSize     int

	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Conn is one authenticated, physical connection to a SQL Server
// instance. Exclusively owned by at most one caller's lease at a time,
// matching the Connection entity's ownership invariant.
type Conn struct {
	cfg    Config
	fr     *framer.Framer
	netRaw net.Conn

	state State

	database   string
	packetSize int
	collation  []byte
	txDescriptor [8]byte
	tdsVersion uint32
}

// Dial opens a TCP connection and runs the full handshake: Prelogin,
// optional TLS upgrade, Login7. Returns a Conn in StateReady on success.
func Dial(ctx context.Context, cfg Config) (*Conn, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	d := net.Dialer{Timeout: cfg.DialTimeout}
	netConn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("connio: dial %s: %w", addr, err)
	}

	c := &Conn{
		cfg:        cfg,
		netRaw:     netConn,
		fr:         framer.New(netConn),
		state:      StateConnecting,
		database:   cfg.Database,
		packetSize: wire.DefaultPacketSize,
	}
	if cfg.PacketSize > 0 {
		c.packetSize = cfg.PacketSize
	}
	c.fr.SetReadTimeout(cfg.ReadTimeout)
	c.fr.SetWriteTimeout(cfg.WriteTimeout)

	if err := c.handshake(); err != nil {
		netConn.Close()
		return nil, err
	}

	c.state = StateReady
	return c, nil
}

func (c *Conn) handshake() error {
	c.state = StateConnecting

	preq := wire.PreloginRequest{
		Version:    [6]byte{0, 1, 0, 0, 0, 0},
		Encryption: c.cfg.Encrypt,
		ThreadID:   uint32(os.Getpid()),
		MARS:       0,
	}
	if err := c.fr.WriteMessage(wire.PacketPrelogin, preq.Encode()); err != nil {
		return fmt.Errorf("connio: sending prelogin: %w", err)
	}
	_, respData, err := c.fr.ReadMessage()
	if err != nil {
		return fmt.Errorf("connio: reading prelogin response: %w", err)
	}
	resp, err := wire.ParsePreloginResponse(respData)
	if err != nil {
		return fmt.Errorf("connio: parsing prelogin response: %w", err)
	}

	if resp.Encryption != wire.EncryptOff && resp.Encryption != wire.EncryptNotSup {
		if err := c.upgradeToTLS(); err != nil {
			return fmt.Errorf("connio: TLS upgrade: %w", err)
		}
	}

	c.state = StateAuthenticating
	login := wire.Login7Request{
		TDSVersion:    wire.VerTDS74,
		PacketSize:    uint32(c.packetSize),
		ClientProgVer: 0x07000000,
		ClientPID:     uint32(os.Getpid()),
		ConnectionID:  newConnectionID(),
		ClientLCID:    0x00000409, // en-US
		HostName:      hostnameOrUnknown(),
		UserName:      c.cfg.User,
		Password:      c.cfg.Password,
		AppName:       nonEmpty(c.cfg.AppName, "gotds"),
		ServerName:    c.cfg.Host,
		CtlIntName:    "gotds",
		Language:      "",
		Database:      c.cfg.Database,
	}
	if err := c.fr.WriteMessage(wire.PacketLogin7, login.Encode()); err != nil {
		return fmt.Errorf("connio: sending login7: %w", err)
	}

	return c.drainLoginResponse()
}

// drainLoginResponse reads the LOGINACK/ENVCHANGE/DONE token stream the
// server sends in reply to LOGIN7, applying ENVCHANGE tokens to
// connection state and failing on a hard ERROR.
func (c *Conn) drainLoginResponse() error {
	_, data, err := c.fr.ReadMessage()
	if err != nil {
		return fmt.Errorf("connio: reading login response: %w", err)
	}
	tr := wire.NewTokenStreamReader(data)
	asm := assembler.New()
	for {
		tok, err := tr.Next()
		if err != nil {
			return fmt.Errorf("connio: parsing login response: %w", err)
		}
		if tok == nil {
			break
		}
		if la, ok := tok.(wire.LoginAckToken); ok {
			c.tdsVersion = la.TDSVersion
		}
		final, err := asm.Feed(tok)
		if err != nil {
			return err
		}
		if final {
			break
		}
	}
	res := asm.Result()
	c.applyEnvChanges(res.EnvChanges)
	if res.Err != nil {
		return fmt.Errorf("connio: login rejected: %w", res.Err)
	}
	return nil
}

// applyEnvChanges updates per-connection state from ENVCHANGE tokens,
// per §4.5's "ENVCHANGE(DatabaseChanged)/ENVCHANGE(PacketSize) update
// connection state before the next request" rule. The assembler itself
// only records these tokens; applying them is connio's job.
func (c *Conn) applyEnvChanges(changes []wire.EnvChangeToken) {
	for _, ec := range changes {
		switch ec.Type {
		case wire.EnvDatabase:
			c.database = ec.NewValue
		case wire.EnvPacketSize:
			var size int
			fmt.Sscanf(ec.NewValue, "%d", &size)
			if size > 0 {
				c.packetSize = size
				c.fr.SetPacketSize(size)
			}
		case wire.EnvSQLCollation:
			if len(ec.NewRaw) > 0 {
				c.collation = ec.NewRaw
			}
		case wire.EnvBeginTran:
			copy(c.txDescriptor[:], ec.NewRaw)
		case wire.EnvCommitTran, wire.EnvRollbackTran:
			c.txDescriptor = [8]byte{}
		}
	}
}

// Database returns the currently active database, kept current by
// ENVCHANGE(DatabaseChanged).
func (c *Conn) Database() string { return c.database }

// Collation returns the connection's current SQL collation bytes.
func (c *Conn) Collation() []byte { return c.collation }

// TxDescriptor returns the current MARS transaction descriptor, zero
// when no transaction is open.
func (c *Conn) TxDescriptor() [8]byte { return c.txDescriptor }

// State returns the connection's current lifecycle state.
func (c *Conn) State() State { return c.state }

// TDSVersion returns the protocol version the server reported in
// LOGINACK.
func (c *Conn) TDSVersion() uint32 { return c.tdsVersion }

// PacketSize returns the currently negotiated packet size.
func (c *Conn) PacketSize() int { return c.packetSize }

// Close terminates the connection gracefully.
func (c *Conn) Close() error {
	c.state = StateGracefulClosed
	return c.fr.Close()
}

func hostnameOrUnknown() string {
	h, err := os.Hostname()
	if err != nil || h == "" {
		return "unknown"
	}
	return h
}

func nonEmpty(s, fallback string) string {
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	return s
}

// newConnectionID generates a pseudo-random connection id for LOGIN7,
// matching the teacher's own ConnectionID field use (not an auth
// secret, purely a diagnostic correlation id).
func newConnectionID() uint32 {
	return rand.Uint32()
}
