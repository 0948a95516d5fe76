package mssql

import (
	"context"
	"errors"
	"fmt"

	"github.com/ha1tch/gotds/internal/assembler"
	"github.com/ha1tch/gotds/internal/connio"
	"github.com/ha1tch/gotds/internal/wire"
	"github.com/ha1tch/gotds/pool"
)

// ServerMessage is one INFO/ERROR diagnostic attached to an
// ExecutionResult, carried straight through from the assembler.
type ServerMessage = assembler.ServerMessage

// Row is one result-set row, already converted to Value.
type Row []Value

// ResultSet is one COLMETADATA/ROW* group of a response.
type ResultSet struct {
	Columns      []wire.Column
	Rows         []Row
	RowsAffected uint64
	Warnings     []ServerMessage
}

// ReturnValue is an RPC OUTPUT parameter or function return value,
// already converted to Value.
type ReturnValue struct {
	Name  string
	Value Value
}

// ExecutionResult is the fully materialised outcome of one execute/call.
type ExecutionResult struct {
	ResultSets   []ResultSet
	ReturnValues []ReturnValue
	ReturnStatus *int32
	RowsAffected uint64
	Messages     []ServerMessage
	Cancelled    bool
}

func fromAssemblerResult(res assembler.ExecutionResult) ExecutionResult {
	out := ExecutionResult{
		ReturnStatus: res.ReturnStatus,
		RowsAffected: res.RowsAffected,
		Messages:     res.Messages,
		Cancelled:    res.Cancelled,
	}
	for _, rs := range res.ResultSets {
		out.ResultSets = append(out.ResultSets, fromAssemblerResultSet(rs))
	}
	for _, rv := range res.ReturnValues {
		out.ReturnValues = append(out.ReturnValues, ReturnValue{
			Name:  rv.Name,
			Value: fromWire(rv.Value, rv.Column.Type),
		})
	}
	return out
}

func fromAssemblerResultSet(rs assembler.ResultSet) ResultSet {
	out := ResultSet{Columns: rs.Columns, RowsAffected: rs.RowsAffected, Warnings: rs.Warnings}
	for _, rawRow := range rs.Rows {
		row := make(Row, len(rawRow))
		for i, raw := range rawRow {
			var meta wire.TypeMetadata
			if i < len(rs.Columns) {
				meta = rs.Columns[i].Type
			}
			row[i] = fromWire(raw, meta)
		}
		out.Rows = append(out.Rows, row)
	}
	return out
}

// ParamDirection distinguishes IN/OUT/INOUT RPC parameters per
// spec.md §4.7.
type ParamDirection int

const (
	ParamIn ParamDirection = iota
	ParamOut
	ParamInOut
)

// Param is one RPC parameter passed to Call. OUT/INOUT parameters must
// carry a zero-typed placeholder Value so the server has TYPE_INFO to
// size its result, per spec.md §4.7.
type Param struct {
	Name      string
	Direction ParamDirection
	Value     Value
}

// Client is a pooled, authenticated TDS client. Safe for concurrent
// use; each call leases and releases its own connection.
type Client struct {
	cfg  Config
	pool *pool.Pool
	log  *Logger
}

// NewClient creates a Client and its connection pool. The pool dials
// lazily; no network I/O happens until the first Borrow.
func NewClient(cfg Config) *Client {
	if cfg.Logger == nil {
		cfg.Logger = NopLogger()
	}
	c := &Client{cfg: cfg, log: cfg.Logger}
	c.pool = pool.New(pool.Config{
		Max:         cfg.Pool.Max,
		MinIdle:     cfg.Pool.MinIdle,
		IdleTimeout: cfg.Pool.IdleTimeout,
		Dial:        c.dial,
		Validate:    c.validate,
	})
	return c
}

func (c *Client) dial(ctx context.Context) (*connio.Conn, error) {
	conn, err := connio.Dial(ctx, connio.Config{
		Host:            c.cfg.Host,
		Port:            c.cfg.Port,
		Database:        c.cfg.Database,
		User:            c.cfg.User,
		Password:        c.cfg.Password,
		AppName:         c.cfg.AppName,
		Encrypt:         uint8(c.cfg.Encrypt),
		TrustServerCert: c.cfg.TLSConfig != nil && c.cfg.TLSConfig.InsecureSkipVerify,
		PacketSize:      c.cfg.PacketSize,
		DialTimeout:     c.cfg.DialTimeout,
		ReadTimeout:     c.cfg.ReadTimeout,
		WriteTimeout:    c.cfg.WriteTimeout,
	})
	if err != nil {
		c.log.Connection().Error("dial failed", err, "host", c.cfg.Host, "port", c.cfg.Port)
		return nil, err
	}
	c.log.Connection().Debug("connected", "host", c.cfg.Host, "database", conn.Database())
	return conn, nil
}

func (c *Client) validate(ctx context.Context, conn *connio.Conn) error {
	if c.cfg.Pool.ValidationQuery == "" {
		return nil
	}
	res, err := conn.Execute(ctx, wire.PacketSQLBatch, wire.SQLBatchRequest(conn.TxDescriptor(), c.cfg.Pool.ValidationQuery))
	if err != nil {
		return err
	}
	return res.Err
}

// Close shuts down the pool: refuses new borrows and closes every
// live and idle connection.
func (c *Client) Close() error {
	c.pool.Shutdown()
	return nil
}

// Conn is an exclusively leased connection, handed to a WithConnection
// closure. All of Conn's methods run over this one physical connection.
type Conn struct {
	raw *connio.Conn
	log *Logger
}

// WithConnection leases an exclusive connection for the duration of fn,
// guaranteeing release on every exit path: normal return, error, or
// ctx cancellation.
func WithConnection[T any](ctx context.Context, c *Client, fn func(ctx context.Context, conn *Conn) (T, error)) (T, error) {
	var zero T
	raw, err := c.pool.Borrow(ctx)
	if err != nil {
		return zero, err
	}
	healthy := true
	defer func() { c.pool.Release(raw, healthy) }()

	result, err := fn(ctx, &Conn{raw: raw, log: c.log})
	if raw.State() != connio.StateReady {
		healthy = false
	}
	return result, err
}

// Query runs sql and returns its first result set's rows. If the batch
// produces more than one result set, the rest are discarded (a warning
// is logged via Execution()) -- Query itself only ever returns the
// first. Callers that need every result set should call Execute
// directly.
func (c *Client) Query(ctx context.Context, sql string) ([]Row, error) {
	res, err := c.Execute(ctx, sql)
	if err != nil {
		return nil, err
	}
	if len(res.ResultSets) == 0 {
		return nil, nil
	}
	if len(res.ResultSets) > 1 {
		c.log.Execution().Warn("Query discarding extra result sets",
			"resultSets", len(res.ResultSets))
	}
	return res.ResultSets[0].Rows, nil
}

// Execute runs sql as a single SQL_BATCH request and returns its full
// ExecutionResult. When cfg.Retry.MaxAttempts > 1, transient
// connection failures (per pool.IsRetryable) are retried against a
// freshly borrowed connection, per spec.md §4.8.
func (c *Client) Execute(ctx context.Context, sql string) (ExecutionResult, error) {
	if c.cfg.Retry.MaxAttempts > 1 {
		return pool.Retry(ctx, c.pool, c.retryConfig(), func(ctx context.Context, raw *connio.Conn) (ExecutionResult, error) {
			return (&Conn{raw: raw, log: c.log}).Execute(ctx, sql)
		})
	}
	return WithConnection(ctx, c, func(ctx context.Context, conn *Conn) (ExecutionResult, error) {
		return conn.Execute(ctx, sql)
	})
}

func (c *Client) retryConfig() pool.RetryConfig {
	return pool.RetryConfig{MaxAttempts: c.cfg.Retry.MaxAttempts, Backoff: c.cfg.Retry.Backoff}
}

// ExecuteScript splits text at GO boundaries (see SplitScript) and runs
// each batch sequentially on the same leased connection.
func (c *Client) ExecuteScript(ctx context.Context, text string) ([]ExecutionResult, error) {
	return WithConnection(ctx, c, func(ctx context.Context, conn *Conn) ([]ExecutionResult, error) {
		return conn.ExecuteScript(ctx, text)
	})
}

// Call issues an RPC to procedure with params, retried the same way
// Execute is when cfg.Retry.MaxAttempts > 1.
func (c *Client) Call(ctx context.Context, procedure string, params []Param) (ExecutionResult, error) {
	if c.cfg.Retry.MaxAttempts > 1 {
		return pool.Retry(ctx, c.pool, c.retryConfig(), func(ctx context.Context, raw *connio.Conn) (ExecutionResult, error) {
			return (&Conn{raw: raw, log: c.log}).Call(ctx, procedure, params)
		})
	}
	return WithConnection(ctx, c, func(ctx context.Context, conn *Conn) (ExecutionResult, error) {
		return conn.Call(ctx, procedure, params)
	})
}

// ChangeDatabase issues a USE [name] batch on a fresh connection and
// waits for ENVCHANGE(DatabaseChanged).
func (c *Client) ChangeDatabase(ctx context.Context, name string) error {
	_, err := WithConnection(ctx, c, func(ctx context.Context, conn *Conn) (struct{}, error) {
		return struct{}{}, conn.ChangeDatabase(ctx, name)
	})
	return err
}

// Execute runs sql over this leased connection.
func (conn *Conn) Execute(ctx context.Context, sql string) (ExecutionResult, error) {
	body := wire.SQLBatchRequest(conn.raw.TxDescriptor(), sql)
	res, err := conn.raw.Execute(ctx, wire.PacketSQLBatch, body)
	return resolveExecResult(res, err)
}

// ExecuteScript splits text at GO boundaries and runs each batch in
// turn over this leased connection, stopping at the first batch whose
// ExecutionResult carries a hard error.
func (conn *Conn) ExecuteScript(ctx context.Context, text string) ([]ExecutionResult, error) {
	batches := SplitScript(text)
	results := make([]ExecutionResult, 0, len(batches))
	for _, batch := range batches {
		res, err := conn.Execute(ctx, batch)
		results = append(results, res)
		if err != nil {
			return results, err
		}
	}
	return results, nil
}

// Call issues an RPC to procedure over this leased connection.
func (conn *Conn) Call(ctx context.Context, procedure string, params []Param) (ExecutionResult, error) {
	wireParams := make([]wire.Param, len(params))
	for i, p := range params {
		meta, wv, err := toWireParam(p.Value)
		if err != nil {
			return ExecutionResult{}, fmt.Errorf("mssql: parameter %q: %w", p.Name, err)
		}
		var status uint8
		if p.Direction == ParamOut || p.Direction == ParamInOut {
			status = wire.ParamStatusByRefOutput
		}
		wireParams[i] = wire.Param{Name: p.Name, Status: status, Type: meta, Value: wv}
	}

	req := wire.RPCRequest{ProcName: procedure, Params: wireParams}
	body, err := req.Encode(conn.raw.TxDescriptor())
	if err != nil {
		return ExecutionResult{}, fmt.Errorf("mssql: encoding RPC request: %w", err)
	}

	res, err := conn.raw.Execute(ctx, wire.PacketRPCRequest, body)
	return resolveExecResult(res, err)
}

// resolveExecResult translates connio.Conn.Execute's (result, error)
// pair into the client-facing shape: a cancellation still carries its
// (partial) result alongside ErrCancelled, while a connection-level
// failure (write/read error, no usable token stream) carries no result.
func resolveExecResult(res assembler.ExecutionResult, err error) (ExecutionResult, error) {
	switch {
	case errors.Is(err, connio.ErrCancelled):
		return fromAssemblerResult(res), ErrCancelled
	case err != nil && !errors.Is(err, res.Err):
		return ExecutionResult{}, err
	default:
		return fromAssemblerResult(res), res.Err
	}
}

// ChangeDatabase issues a USE [name] batch and waits for
// ENVCHANGE(DatabaseChanged); it does not return until the server has
// acknowledged the switch.
func (conn *Conn) ChangeDatabase(ctx context.Context, name string) error {
	res, err := conn.Execute(ctx, fmt.Sprintf("USE [%s]", name))
	if err != nil {
		return err
	}
	if conn.raw.Database() != name {
		return fmt.Errorf("mssql: server did not confirm database change to %q", name)
	}
	_ = res
	return nil
}

// Database returns the database currently active on this connection.
func (conn *Conn) Database() string { return conn.raw.Database() }
