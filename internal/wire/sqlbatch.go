package wire

import (
	"bytes"
)

// SQLBatchRequest builds an SQL_BATCH request body: ALL_HEADERS
// (carrying the transaction descriptor) followed by the UCS-2 SQL
// text, per spec.md §6's wire-format table.
func SQLBatchRequest(txDescriptor [8]byte, sql string) []byte {
	var buf bytes.Buffer
	buf.Write(allHeadersTxDescriptor(txDescriptor, 1))
	buf.Write(stringToUCS2(sql))
	return buf.Bytes()
}

// AttentionRequest builds an ATTENTION message body. ATTENTION carries
// no payload of its own on the wire (the packet type alone signals it);
// this returns an empty slice so callers can treat every request
// builder uniformly.
func AttentionRequest() []byte {
	return nil
}
