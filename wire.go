package rsfec

import "encoding/binary"

// Wire framing for parity packets (spec.md §4.5 / §6). Exactly 8 header
// bytes followed by L payload bytes, all big-endian:
//
//	offset 0..3 : 0x80080000 | reserved   (control marker | FEC subtype)
//	offset 4..7 : (blockID<<16) | (parityIndex<<8) | k
//	offset 8..  : L bytes of parity shard
const (
	HeaderSize = 8

	controlMarker = 0x80080000
	controlMask   = 0xffff0000
)

// WriteHeader stamps a parity-packet header into buf[:8]. buf must have
// length >= HeaderSize. blockID is truncated to its low 16 bits per the
// spec's chosen block-identifier width (see spec.md §9 open questions).
func WriteHeader(buf []byte, blockID int32, parityIndex int, k int) {
	binary.BigEndian.PutUint32(buf[0:4], controlMarker)
	word := (uint32(blockID)&0xffff)<<16 | (uint32(parityIndex)&0xff)<<8 | uint32(k)&0xff
	binary.BigEndian.PutUint32(buf[4:8], word)
}

// ParityHeader is a parsed parity-packet header.
type ParityHeader struct {
	BlockID     uint16
	ParityIndex byte
	K           byte
}

// IsParityPacket reports whether buf carries a FEC parity header: marked
// as a control packet AND its subtype bits match the FEC pattern. Any
// other control packet is left untouched by this filter (passed through
// to the rest of the transport's control-packet handling).
func IsParityPacket(buf []byte) bool {
	if len(buf) < HeaderSize {
		return false
	}
	word := binary.BigEndian.Uint32(buf[0:4])
	return word&controlMask == controlMarker&controlMask
}

// ParseHeader parses the 8-byte parity header. Callers must have already
// confirmed IsParityPacket.
func ParseHeader(buf []byte) ParityHeader {
	word := binary.BigEndian.Uint32(buf[4:8])
	return ParityHeader{
		BlockID:     uint16(word >> 16),
		ParityIndex: byte(word >> 8),
		K:           byte(word),
	}
}
