package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// System stored procedure IDs, grounded on the teacher's tds/rpc.go
// (used there to classify incoming RPC requests; reused verbatim here
// since the IDs are identical in both directions).
const (
	ProcIDCursor          uint16 = 1
	ProcIDCursorOpen      uint16 = 2
	ProcIDCursorPrepare   uint16 = 3
	ProcIDCursorExecute   uint16 = 4
	ProcIDCursorPrepExec  uint16 = 5
	ProcIDCursorUnprepare uint16 = 6
	ProcIDCursorFetch     uint16 = 7
	ProcIDCursorOption    uint16 = 8
	ProcIDCursorClose     uint16 = 9
	ProcIDExecuteSQL      uint16 = 10
	ProcIDPrepare         uint16 = 11
	ProcIDExecute         uint16 = 12
	ProcIDPrepExec        uint16 = 13
	ProcIDPrepExecRPC     uint16 = 14
	ProcIDUnprepare       uint16 = 15
)

func ProcIDName(id uint16) string {
	switch id {
	case ProcIDCursor:
		return "sp_cursor"
	case ProcIDCursorOpen:
		return "sp_cursoropen"
	case ProcIDCursorPrepare:
		return "sp_cursorprepare"
	case ProcIDCursorExecute:
		return "sp_cursorexecute"
	case ProcIDCursorPrepExec:
		return "sp_cursorprepexec"
	case ProcIDCursorUnprepare:
		return "sp_cursorunprepare"
	case ProcIDCursorFetch:
		return "sp_cursorfetch"
	case ProcIDCursorOption:
		return "sp_cursoroption"
	case ProcIDCursorClose:
		return "sp_cursorclose"
	case ProcIDExecuteSQL:
		return "sp_executesql"
	case ProcIDPrepare:
		return "sp_prepare"
	case ProcIDExecute:
		return "sp_execute"
	case ProcIDPrepExec:
		return "sp_prepexec"
	case ProcIDPrepExecRPC:
		return "sp_prepexecrpc"
	case ProcIDUnprepare:
		return "sp_unprepare"
	default:
		return fmt.Sprintf("sp_unknown_%d", id)
	}
}

// RPC option flags.
const (
	RPCOptionWithRecomp  uint16 = 0x0001
	RPCOptionNoMetaData  uint16 = 0x0002
	RPCOptionReuseCursor uint16 = 0x0004
)

// RPCRequest is the client-built equivalent of the teacher's
// RPCRequest/RPCParam (tds/rpc.go), used here to encode an outbound
// RPC_REQUEST instead of decoding an inbound one.
type RPCRequest struct {
	ProcID   uint16 // 0 means ProcName carries a name, not a system proc ID
	ProcName string
	Options  uint16
	Params   []Param
}

// Encode builds the RPC_REQUEST message body: ALL_HEADERS, procedure
// name or ID, option flags, then each parameter in turn.
func (req RPCRequest) Encode(txDescriptor [8]byte) ([]byte, error) {
	var buf bytes.Buffer
	buf.Write(allHeadersTxDescriptor(txDescriptor, 1))

	if req.ProcID != 0 {
		binary.Write(&buf, binary.LittleEndian, uint16(0xFFFF))
		binary.Write(&buf, binary.LittleEndian, req.ProcID)
	} else {
		writeUSVarChar(&buf, req.ProcName)
	}

	binary.Write(&buf, binary.LittleEndian, req.Options)

	for i, p := range req.Params {
		name := p.Name
		if name != "" && name[0] != '@' {
			name = "@" + name
		}
		buf.WriteByte(byte(len([]rune(name))))
		buf.Write(stringToUCS2(name))
		buf.WriteByte(p.Status)
		writeTypeInfo(&buf, p.Type)
		if err := writeValue(&buf, p.Value, p.Type); err != nil {
			return nil, fmt.Errorf("wire: encoding parameter %d (%s): %w", i, p.Name, err)
		}
	}

	return buf.Bytes(), nil
}
