// Package assembler groups a decoded TDS token stream into the
// caller-facing ExecutionResult/ResultSet shapes, mirroring how the
// teacher's TokenWriter produces the same token stream in reverse
// (tds/token.go) -- this is the receiving half of that exchange.
package assembler

import (
	"github.com/ha1tch/gotds/internal/wire"
)

// Column describes one result-set column, carried straight through from
// the wire layer.
type Column = wire.Column

// ServerMessage unifies ERROR and INFO tokens into one diagnostic
// record, per the ENVCHANGE/ERROR propagation policy.
type ServerMessage struct {
	Number     int32
	State      uint8
	Severity   uint8
	Message    string
	ServerName string
	ProcName   string
	LineNumber int32
	IsError    bool // severity >= 11
}

func messageFrom(t wire.ServerMessageToken) ServerMessage {
	return ServerMessage{
		Number:     t.Number,
		State:      t.State,
		Severity:   t.Severity,
		Message:    t.Message,
		ServerName: t.ServerName,
		ProcName:   t.ProcName,
		LineNumber: t.LineNumber,
		IsError:    t.Kind == wire.TokenError && t.Severity >= 11,
	}
}

// ResultSet is one COLMETADATA/ROW* group terminated by a DONE whose
// COUNT bit is set (or by the opening of the next result set).
type ResultSet struct {
	Columns      []Column
	Rows         [][]interface{}
	RowsAffected uint64
	HasCount     bool
	Warnings     []ServerMessage
}

// ReturnValue is an RPC OUTPUT parameter or function return value.
type ReturnValue struct {
	Name   string
	Status uint8
	Column Column // carries the TYPE_INFO (precision/scale/type) for Value
	Value  interface{}
}

// ExecutionResult is the fully materialised outcome of one request
// (SQLBatch or RPC), built by draining every token the request's
// response produced.
type ExecutionResult struct {
	ResultSets   []ResultSet
	ReturnValues []ReturnValue
	ReturnStatus *int32
	RowsAffected uint64

	Messages []ServerMessage // every INFO/ERROR seen, in arrival order
	Err      error           // first hard error (severity >= 11), if any

	// EnvChanges carries every ENVCHANGE token observed so the caller
	// (connio) can update per-connection state (§4.5); the assembler
	// itself never applies these, only records them.
	EnvChanges []wire.EnvChangeToken

	Cancelled bool // set when a DONE carried the ATTN ack status
}

// Assembler accumulates tokens for a single request/response cycle. It
// is not safe for concurrent use; one Assembler serves one outstanding
// request, matching the "serialise one outstanding request at a time"
// invariant of the request state machine.
type Assembler struct {
	result      ExecutionResult
	current     *ResultSet
	pendingWarn []ServerMessage
	firstErr    *ServerMessage
	done        bool
}

// New returns an Assembler ready to consume a fresh request's tokens.
func New() *Assembler {
	return &Assembler{}
}

// Feed processes one decoded token. It returns true once a final
// DONE/DONEPROC (status bit MORE not set) has been observed, at which
// point Result can be called to obtain the completed ExecutionResult.
// DONEINPROC closes the current result set but never ends the request:
// it marks the end of an individual statement inside a stored
// procedure, with RETURNVALUE/RETURNSTATUS/the final DONEPROC still to
// come.
func (a *Assembler) Feed(tok wire.Token) (final bool, err error) {
	if a.done {
		return true, nil
	}

	switch t := tok.(type) {
	case wire.ColMetadataToken:
		a.openResultSet(t.Columns)

	case wire.RowToken:
		if a.current == nil {
			a.openResultSet(nil)
		}
		a.current.Rows = append(a.current.Rows, t.Values)

	case wire.DoneToken:
		if t.HasCount() {
			a.closeResultSet(t.RowCount)
			a.result.RowsAffected += t.RowCount
		} else if a.current != nil {
			a.closeResultSet(0)
		}
		if t.Status&wire.DoneAttn != 0 {
			a.result.Cancelled = true
		}
		if (t.Kind == wire.TokenDone || t.Kind == wire.TokenDoneProc) && !t.More() {
			a.done = true
			return true, nil
		}

	case wire.ServerMessageToken:
		msg := messageFrom(t)
		a.result.Messages = append(a.result.Messages, msg)
		if msg.IsError {
			if a.firstErr == nil {
				m := msg
				a.firstErr = &m
			}
		} else if a.current != nil {
			a.current.Warnings = append(a.current.Warnings, msg)
		} else {
			a.pendingWarn = append(a.pendingWarn, msg)
		}

	case wire.ReturnValueToken:
		a.result.ReturnValues = append(a.result.ReturnValues, ReturnValue{
			Name:   t.Name,
			Status: t.Status,
			Column: t.Column,
			Value:  t.Value,
		})

	case wire.ReturnStatusToken:
		v := t.Value
		a.result.ReturnStatus = &v

	case wire.EnvChangeToken:
		a.result.EnvChanges = append(a.result.EnvChanges, t)

	case wire.OrderToken, wire.LoginAckToken, wire.FeatureExtAckToken,
		wire.TabNameToken, wire.ColInfoToken, wire.SSPIToken, wire.FedAuthInfoToken:
		// Not part of ExecutionResult shape; connio/client consult these
		// directly during handshake, not via the assembler.

	default:
		return false, nil
	}

	return false, nil
}

func (a *Assembler) openResultSet(cols []Column) {
	rs := ResultSet{Columns: cols, Warnings: a.pendingWarn}
	a.pendingWarn = nil
	a.result.ResultSets = append(a.result.ResultSets, rs)
	a.current = &a.result.ResultSets[len(a.result.ResultSets)-1]
}

func (a *Assembler) closeResultSet(rowCount uint64) {
	if a.current == nil {
		return
	}
	a.current.RowsAffected = rowCount
	a.current.HasCount = true
	a.current = nil
}

// Result returns the completed ExecutionResult. Call only after Feed
// has returned final == true. The first hard error observed, if any, is
// surfaced via Err; callers that want partial results alongside the
// error can still inspect ResultSets/Messages.
func (a *Assembler) Result() ExecutionResult {
	res := a.result
	if a.firstErr != nil {
		res.Err = &serverError{*a.firstErr}
	}
	return res
}

// serverError adapts a ServerMessage to the error interface so hard
// TDS errors can flow through normal Go error handling.
type serverError struct {
	ServerMessage
}

func (e *serverError) Error() string {
	return e.Message
}
