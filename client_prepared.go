package mssql

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/ha1tch/gotds/internal/connio"
	"github.com/ha1tch/gotds/internal/wire"
)

// Prepared is a cached statement handle obtained via sp_prepare, pinned
// to the single connection it was prepared on -- a TDS prepare handle
// is only valid for the session that created it, so Prepared leases one
// connection for its entire lifetime instead of borrowing fresh ones
// per call, unlike Client.Execute/Call. Grounded on the handle-lifetime
// semantics of the teacher's tds/prepared.go (PreparedStatementCache /
// HandlePool), adapted from an in-process cache keyed by int32 handles
// into the real sp_prepare/sp_execute/sp_unprepare RPC trio.
type Prepared struct {
	mu      sync.Mutex
	raw     *connio.Conn
	release func(healthy bool)

	handle int32
	params []Param // original IN/INOUT param shapes, in positional order
	closed bool
}

// Prepare parses sql on a dedicated leased connection via sp_prepare and
// returns a handle for repeated Execute calls. Parameter placeholders in
// sql must be named "@p1", "@p2", ... in order; params with an empty
// Name are assigned that name automatically.
func (c *Client) Prepare(ctx context.Context, sql string, params []Param) (*Prepared, error) {
	raw, err := c.pool.Borrow(ctx)
	if err != nil {
		return nil, err
	}
	conn := &Conn{raw: raw, log: c.log}

	named := assignPositionalNames(params)

	handle, err := conn.prepare(ctx, sql, named)
	if err != nil {
		c.pool.Release(raw, raw.State() == connio.StateReady)
		return nil, err
	}

	p := &Prepared{
		raw:    raw,
		handle: handle,
		params: named,
	}
	p.release = func(healthy bool) { c.pool.Release(raw, healthy) }
	return p, nil
}

func assignPositionalNames(params []Param) []Param {
	named := make([]Param, len(params))
	copy(named, params)
	for i, p := range named {
		if p.Name == "" {
			named[i].Name = fmt.Sprintf("p%d", i+1)
		}
	}
	return named
}

// prepare issues the sp_prepare RPC: @handle is an OUT int parameter the
// server fills in; @params declares the shape of the statement's own
// parameters; @stmt is the SQL text itself.
func (conn *Conn) prepare(ctx context.Context, sql string, params []Param) (int32, error) {
	paramDefs, err := paramDefString(params)
	if err != nil {
		return 0, err
	}

	wireParams := []wire.Param{
		{
			Name:   "handle",
			Status: wire.ParamStatusByRefOutput,
			Type:   wire.TypeMetadata{Type: wire.TypeIntN, Length: 4},
			Value:  int64(0),
		},
		{
			Name:  "params",
			Type:  wire.TypeMetadata{Type: wire.TypeNVarChar, Length: 0xFFFF},
			Value: paramDefs,
		},
		{
			Name:  "stmt",
			Type:  wire.TypeMetadata{Type: wire.TypeNVarChar, Length: 0xFFFF},
			Value: sql,
		},
	}

	req := wire.RPCRequest{ProcID: wire.ProcIDPrepare, Params: wireParams}
	body, err := req.Encode(conn.raw.TxDescriptor())
	if err != nil {
		return 0, fmt.Errorf("mssql: encoding sp_prepare request: %w", err)
	}

	res, err := conn.raw.Execute(ctx, wire.PacketRPCRequest, body)
	result, err := resolveExecResult(res, err)
	if err != nil {
		return 0, err
	}

	for _, rv := range result.ReturnValues {
		if strings.EqualFold(rv.Name, "@handle") || strings.EqualFold(rv.Name, "handle") {
			if h, ok := rv.Value.Int(); ok {
				return int32(h), nil
			}
		}
	}
	return 0, fmt.Errorf("mssql: sp_prepare did not return a statement handle")
}

// paramDefString renders params as a T-SQL parameter declaration list,
// e.g. "@p1 bigint,@p2 nvarchar(4000)", the shape sp_prepare/sp_executesql
// expect for their @params argument.
func paramDefString(params []Param) (string, error) {
	defs := make([]string, len(params))
	for i, p := range params {
		name := p.Name
		if name == "" || name[0] != '@' {
			name = "@" + name
		}
		typ, err := sqlTypeName(p.Value)
		if err != nil {
			return "", fmt.Errorf("mssql: parameter %q: %w", p.Name, err)
		}
		defs[i] = name + " " + typ
	}
	return strings.Join(defs, ","), nil
}

// sqlTypeName picks a T-SQL type name wide enough to carry val, used
// only to build the @params declaration string -- the actual wire
// encoding of each value is still driven by toWireParam.
func sqlTypeName(val Value) (string, error) {
	switch val.Kind() {
	case KindNull, KindInt:
		return "bigint", nil
	case KindBool:
		return "bit", nil
	case KindFloat:
		return "float", nil
	case KindDecimal:
		d, _ := val.Decimal()
		precision, scale := val.precision, val.scale
		if precision == 0 {
			precision, scale = decimalPrecisionScale(d)
		}
		return fmt.Sprintf("decimal(%d,%d)", precision, scale), nil
	case KindString:
		return "nvarchar(4000)", nil
	case KindBytes:
		return "varbinary(max)", nil
	case KindGUID:
		return "uniqueidentifier", nil
	case KindDateTime:
		return "datetime", nil
	case KindDate:
		return "date", nil
	case KindTime:
		return fmt.Sprintf("time(%d)", val.scale), nil
	case KindDateTime2:
		return fmt.Sprintf("datetime2(%d)", val.scale), nil
	case KindDateTimeOffset:
		return fmt.Sprintf("datetimeoffset(%d)", val.scale), nil
	default:
		return "", fmt.Errorf("%s parameters cannot be prepared", val.Kind())
	}
}

// Execute runs the prepared statement via sp_execute, passing params
// positionally matched to the shapes given to Prepare.
func (p *Prepared) Execute(ctx context.Context, params []Param) (ExecutionResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ExecutionResult{}, fmt.Errorf("mssql: prepared statement already closed")
	}

	wireParams := make([]wire.Param, 0, len(params)+1)
	wireParams = append(wireParams, wire.Param{
		Name:  "handle",
		Type:  wire.TypeMetadata{Type: wire.TypeIntN, Length: 4},
		Value: int64(p.handle),
	})
	for i, pr := range params {
		name := pr.Name
		if name == "" {
			if i < len(p.params) {
				name = p.params[i].Name
			} else {
				name = fmt.Sprintf("p%d", i+1)
			}
		}
		meta, wv, err := toWireParam(pr.Value)
		if err != nil {
			return ExecutionResult{}, fmt.Errorf("mssql: parameter %q: %w", name, err)
		}
		var status uint8
		if pr.Direction == ParamOut || pr.Direction == ParamInOut {
			status = wire.ParamStatusByRefOutput
		}
		wireParams = append(wireParams, wire.Param{Name: name, Status: status, Type: meta, Value: wv})
	}

	req := wire.RPCRequest{ProcID: wire.ProcIDExecute, Params: wireParams}
	body, err := req.Encode(p.raw.TxDescriptor())
	if err != nil {
		return ExecutionResult{}, fmt.Errorf("mssql: encoding sp_execute request: %w", err)
	}

	res, err := p.raw.Execute(ctx, wire.PacketRPCRequest, body)
	return resolveExecResult(res, err)
}

// Close releases the statement handle via sp_unprepare and returns the
// pinned connection to the pool. Safe to call more than once.
func (p *Prepared) Close(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true

	wireParams := []wire.Param{{
		Name:  "handle",
		Type:  wire.TypeMetadata{Type: wire.TypeIntN, Length: 4},
		Value: int64(p.handle),
	}}
	req := wire.RPCRequest{ProcID: wire.ProcIDUnprepare, Params: wireParams}
	body, encErr := req.Encode(p.raw.TxDescriptor())

	var execErr error
	if encErr == nil {
		res, err := p.raw.Execute(ctx, wire.PacketRPCRequest, body)
		_, execErr = resolveExecResult(res, err)
	} else {
		execErr = encErr
	}

	p.release(p.raw.State() == connio.StateReady)
	return execErr
}
