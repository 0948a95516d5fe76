package mssql

import (
	"crypto/tls"
	"time"

	"github.com/ha1tch/gotds/internal/wire"
	"github.com/ha1tch/gotds/pool"
)

// EncryptMode mirrors the wire-level Prelogin encryption negotiation
// values, exported here so callers configuring a Client never need to
// import the internal wire package.
type EncryptMode uint8

const (
	EncryptOff    EncryptMode = EncryptMode(wire.EncryptOff)
	EncryptOn     EncryptMode = EncryptMode(wire.EncryptOn)
	EncryptNotSup EncryptMode = EncryptMode(wire.EncryptNotSup)
	EncryptReq    EncryptMode = EncryptMode(wire.EncryptReq)
	EncryptStrict EncryptMode = EncryptMode(wire.EncryptStrict)
)

// RetryConfig configures the retry wrapper of spec.md §4.8.
type RetryConfig struct {
	MaxAttempts int
	Backoff     pool.Backoff
}

// PoolConfig configures the connection pool of spec.md §4.8.
type PoolConfig struct {
	Max             int
	MinIdle         int
	IdleTimeout     time.Duration
	ValidationQuery string
}

// Config is a plain, already-resolved configuration struct: no env,
// flag, or file parsing lives here (an explicit non-goal) — a caller
// builds one by hand or via a collaborator package.
type Config struct {
	Host     string
	Port     int
	Database string
	User     string
	Password string
	AppName  string

	TLSConfig *tls.Config
	Encrypt   EncryptMode

	PacketSize int

	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	Retry RetryConfig
	Pool  PoolConfig

	Logger *Logger
}

// DefaultConfig returns a Config with conservative, documented
// defaults: port 1433, TLS required but server-cert trust left to the
// caller, a pool of 10 connections, and a NopLogger.
func DefaultConfig() Config {
	return Config{
		Port:       1433,
		Encrypt:    EncryptReq,
		PacketSize: wire.DefaultPacketSize,

		DialTimeout:  15 * time.Second,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,

		Retry: RetryConfig{MaxAttempts: 1},
		Pool: PoolConfig{
			Max:         10,
			MinIdle:     0,
			IdleTimeout: 5 * time.Minute,
		},

		Logger: NopLogger(),
	}
}
