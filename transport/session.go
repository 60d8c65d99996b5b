package transport

import (
	"net"

	"github.com/xtaci/smux"

	"rsfec"
	"rsfec/config"
	"rsfec/crypto"
)

// Config mirrors the teacher's safeudp.go Config struct, generalized from
// raw FECData/FECParity fields to the parsed rsfec/config.Config and an
// optional pluggable cipher.
type Config struct {
	RS         config.Config
	PlainChunk int // plaintext bytes per outbound source shard before encryption/padding
	Crypt      crypto.BlockCrypt
}

func (c Config) wireLen() int {
	n := c.PlainChunk
	if c.Crypt != nil {
		n += 48 // conservative AEAD nonce+tag headroom shared by both cipher implementations
	}
	return n
}

// Conn wraps an smux.Stream the same way the teacher's Conn does,
// layered over a filteredConn instead of a bare UDP socket.
type Conn struct {
	stream *smux.Stream
	sess   *smux.Session
	fc     *filteredConn
}

func (c *Conn) Read(b []byte) (int, error)  { return c.stream.Read(b) }
func (c *Conn) Write(b []byte) (int, error) { return c.stream.Write(b) }
func (c *Conn) Close() error {
	c.stream.Close()
	return c.sess.Close()
}
func (c *Conn) LocalAddr() net.Addr  { return c.fc.LocalAddr() }
func (c *Conn) RemoteAddr() net.Addr { return c.fc.RemoteAddr() }

// Dial opens a client session: a UDP socket, an rsfec filter around it,
// and an smux stream on top, mirroring safeudp.go's Dial.
func Dial(addr string, cfg Config) (*Conn, error) {
	raddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, err
	}
	pc, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return nil, err
	}

	fc, err := buildFilteredConn(pc, raddr, cfg)
	if err != nil {
		pc.Close()
		return nil, err
	}

	session, err := smux.Client(fc, nil)
	if err != nil {
		fc.Close()
		return nil, err
	}
	stream, err := session.OpenStream()
	if err != nil {
		session.Close()
		return nil, err
	}

	return &Conn{stream: stream, sess: session, fc: fc}, nil
}

// Listener accepts one peer per underlying UDP socket, matching the
// teacher's Listener: safeudp-family transports are point-to-point per
// connected socket, not a demultiplexing server over one shared socket.
type Listener struct {
	pc  *net.UDPConn
	cfg Config
}

// Listen binds addr and returns a Listener; each Accept blocks for the
// first peer datagram and then serves exactly that session, matching
// safeudp.go's listener.go.
func Listen(addr string, cfg Config) (*Listener, error) {
	laddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, err
	}
	pc, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, err
	}
	return &Listener{pc: pc, cfg: cfg}, nil
}

func (l *Listener) Accept() (net.Conn, error) {
	buf := make([]byte, 2048)
	n, remote, err := l.pc.ReadFrom(buf)
	if err != nil {
		return nil, err
	}

	fc, err := buildFilteredConn(l.pc, remote, l.cfg)
	if err != nil {
		return nil, err
	}
	// The datagram that identified the peer still needs to reach the
	// filter; replay it through the same classify/receive path Read uses.
	fc.replay(buf[:n])

	session, err := smux.Server(fc, nil)
	if err != nil {
		return nil, err
	}
	stream, err := session.AcceptStream()
	if err != nil {
		session.Close()
		return nil, err
	}
	return &Conn{stream: stream, sess: session, fc: fc}, nil
}

func (l *Listener) Close() error { return l.pc.Close() }
func (l *Listener) Addr() net.Addr { return l.pc.LocalAddr() }

func buildFilteredConn(pc net.PacketConn, remote net.Addr, cfg Config) (*filteredConn, error) {
	queue := rsfec.NewProvidedQueue(0)
	filter, err := rsfec.New(cfg.RS, cfg.wireLen(), queue, nil)
	if err != nil {
		return nil, err
	}
	return newFilteredConn(pc, remote, filter, queue, cfg.Crypt, cfg.PlainChunk, cfg.wireLen()), nil
}
