// Package transport is a reference integration showing how a transport
// wires rsfec's feed_source/pack_control/receive into a real
// net.PacketConn session: an smux-multiplexed stream layered directly
// over UDP, the same layering the teacher's safeudp.go uses, with rsfec
// doing loss recovery underneath and an optional rsfec/crypto cipher
// protecting the wire bytes. ARQ/congestion control stay out of scope
// (spec.md §1): this package does not retransmit, it only demonstrates
// the filter's contract against a live socket.
package transport

import "encoding/binary"

// dataHeaderSize is the plain (non-FEC) framing every outbound data
// datagram carries so the peer can recover seq/timestamp without a
// reliable byte-stream transport underneath: 4 bytes seq, 4 bytes
// timestamp, big-endian. It carries no marker of its own: rsfec.IsParityPacket
// tells it apart from a parity header only while the sequence number's upper
// 16 bits differ from 0x8008.
const dataHeaderSize = 8

func putDataHeader(buf []byte, seq int32, timestamp uint32) {
	binary.BigEndian.PutUint32(buf[0:4], uint32(seq))
	binary.BigEndian.PutUint32(buf[4:8], timestamp)
}

func parseDataHeader(buf []byte) (seq int32, timestamp uint32) {
	seq = int32(binary.BigEndian.Uint32(buf[0:4]))
	timestamp = binary.BigEndian.Uint32(buf[4:8])
	return
}
