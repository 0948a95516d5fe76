package wire

// BuildAttention returns the framing parameters for an ATTENTION
// message: a single packet carrying no payload, type PacketAttention,
// status EOM. Cancellation in TDS is signalled purely by packet type;
// the connection layer (connio) is responsible for sending it and then
// draining the server's ATTENTION ACK (a DONE token with DoneAttn set).
func BuildAttention() (PacketType, []byte) {
	return PacketAttention, nil
}
