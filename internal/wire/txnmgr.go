package wire

import (
	"bytes"
	"encoding/binary"
)

// Transaction Manager request types (TM_BEGIN_XACT, TM_COMMIT_XACT, ...),
// carried in the payload of a PacketTransMgrReq message. The teacher's
// own TM handling works SQL-text-first (classifying BEGIN/COMMIT/
// ROLLBACK statements via its tsqlparser front end) since it plays the
// server role and never has to emit this binary request itself; a
// client instead builds the wire message directly, so this builder
// follows the TDS wire layout rather than any teacher source file.
type TMRequestType uint16

const (
	TMBeginXact       TMRequestType = 5
	TMCommitXact      TMRequestType = 7
	TMRollbackXact    TMRequestType = 8
	TMSaveXact        TMRequestType = 9
)

// Isolation levels used in TM_BEGIN_XACT.
type IsolationLevel uint8

const (
	IsolationReadUncommitted IsolationLevel = 1
	IsolationReadCommitted   IsolationLevel = 2
	IsolationRepeatableRead  IsolationLevel = 3
	IsolationSerializable    IsolationLevel = 4
	IsolationSnapshot        IsolationLevel = 5
)

// allHeadersTxDescriptor builds the ALL_HEADERS block every TDS 7.2+
// request carries: total length, a single MARS transaction descriptor
// header (type 2) with the current transaction descriptor and outstanding
// request count.
func allHeadersTxDescriptor(txDescriptor [8]byte, outstandingRequests uint32) []byte {
	const headerType = 2
	const headerBodyLen = 8 + 4 // descriptor + outstanding count
	const headerLen = 4 + 2 + headerBodyLen
	totalLen := 4 + headerLen

	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, uint32(totalLen))
	binary.Write(&buf, binary.LittleEndian, uint32(headerLen))
	binary.Write(&buf, binary.LittleEndian, uint16(headerType))
	buf.Write(txDescriptor[:])
	binary.Write(&buf, binary.LittleEndian, outstandingRequests)
	return buf.Bytes()
}

// TMBeginRequest builds a TM_BEGIN_XACT request body.
func TMBeginRequest(txDescriptor [8]byte, isolation IsolationLevel, name string) []byte {
	var buf bytes.Buffer
	buf.Write(allHeadersTxDescriptor(txDescriptor, 1))
	binary.Write(&buf, binary.LittleEndian, uint16(TMBeginXact))
	buf.WriteByte(byte(isolation))
	writeBVarChar(&buf, name)
	return buf.Bytes()
}

// TMCommitRequest builds a TM_COMMIT_XACT request body.
func TMCommitRequest(txDescriptor [8]byte, name string, flags uint8) []byte {
	var buf bytes.Buffer
	buf.Write(allHeadersTxDescriptor(txDescriptor, 1))
	binary.Write(&buf, binary.LittleEndian, uint16(TMCommitXact))
	writeBVarChar(&buf, name)
	buf.WriteByte(flags)
	return buf.Bytes()
}

// TMRollbackRequest builds a TM_ROLLBACK_XACT request body. An empty
// name rolls back the whole transaction; a non-empty name rolls back to
// that savepoint.
func TMRollbackRequest(txDescriptor [8]byte, name string, flags uint8) []byte {
	var buf bytes.Buffer
	buf.Write(allHeadersTxDescriptor(txDescriptor, 1))
	binary.Write(&buf, binary.LittleEndian, uint16(TMRollbackXact))
	writeBVarChar(&buf, name)
	buf.WriteByte(flags)
	return buf.Bytes()
}

// TMSaveRequest builds a TM_SAVE_XACT request body.
func TMSaveRequest(txDescriptor [8]byte, name string) []byte {
	var buf bytes.Buffer
	buf.Write(allHeadersTxDescriptor(txDescriptor, 1))
	binary.Write(&buf, binary.LittleEndian, uint16(TMSaveXact))
	writeBVarChar(&buf, name)
	return buf.Bytes()
}
