package transport

import (
	"net"

	"golang.org/x/net/ipv4"
)

// batchConn is the batched syscall surface used when the underlying
// socket supports it, adapted from the teacher's batchconn.go unchanged
// in shape (the teacher's UDPSession.xconn field against KCP segments;
// here it batches an rsfec data datagram together with the parity
// datagrams PackControl produced for the same Write call).
type batchConn interface {
	WriteBatch(ms []ipv4.Message, flags int) (int, error)
	ReadBatch(ms []ipv4.Message, flags int) (int, error)
}

// newBatchConn wraps pc in an *ipv4.PacketConn when pc is a *net.UDPConn,
// matching the teacher's assumption that batch I/O is only available over
// a real UDP socket (not an arbitrary net.PacketConn, e.g. in tests).
func newBatchConn(pc net.PacketConn) batchConn {
	if udp, ok := pc.(*net.UDPConn); ok {
		return ipv4.NewPacketConn(udp)
	}
	return nil
}

// tx sends one data datagram plus zero or more parity datagrams, batched
// via xconn.WriteBatch when available, falling back to sequential
// WriteTo -- the same two-path choice as the teacher's tx.go tx().
func tx(pc net.PacketConn, xconn batchConn, remote net.Addr, datagrams [][]byte) error {
	if xconn == nil || len(datagrams) == 1 {
		return defaultTx(pc, remote, datagrams)
	}
	msgs := make([]ipv4.Message, len(datagrams))
	for i, d := range datagrams {
		msgs[i] = ipv4.Message{Buffers: [][]byte{d}, Addr: remote}
	}
	if _, err := xconn.WriteBatch(msgs, 0); err != nil {
		return defaultTx(pc, remote, datagrams)
	}
	return nil
}

func defaultTx(pc net.PacketConn, remote net.Addr, datagrams [][]byte) error {
	for _, d := range datagrams {
		if _, err := pc.WriteTo(d, remote); err != nil {
			return err
		}
	}
	return nil
}
