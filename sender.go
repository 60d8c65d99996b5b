package rsfec

import (
	"sync"
	"time"
)

// BlockAssembler is the send-side block state (spec.md §3, §4.3). It
// operates one block ("current group") at a time: FeedSource buffers
// source packets into shards, and once k have arrived, computes the m
// parity shards column-wise over the codec. PackControl then lets the
// transport pull parity packets out one at a time.
type BlockAssembler struct {
	mu sync.Mutex

	codec *Codec
	l     int // negotiated shard length

	baseSeq    int32
	timestamp  uint32
	data       [][]byte
	collected  int
	parity     [][]byte
	nextParity int

	// optional send-side flush deadline (spec.md §6 "timeout" key, 0 disables)
	timeout    time.Duration
	timer      *flushTimer
	generation uint64
}

// NewBlockAssembler builds a sender for the given codec and shard length.
// timeout is the optional block-flush deadline; zero disables it.
func NewBlockAssembler(codec *Codec, shardLen int, timeout time.Duration) *BlockAssembler {
	a := &BlockAssembler{codec: codec, l: shardLen, timeout: timeout}
	a.allocate()
	if timeout > 0 {
		a.timer = newFlushTimer()
	}
	return a
}

// Close releases the assembler's flush timer, if any. Any incomplete
// block is silently discarded without emitting parity, per spec.md §4.3.
func (a *BlockAssembler) Close() {
	if a.timer != nil {
		a.timer.Close()
	}
}

func (a *BlockAssembler) allocate() {
	a.data = make([][]byte, a.codec.K())
	for i := range a.data {
		a.data[i] = make([]byte, a.l)
	}
	a.parity = make([][]byte, a.codec.M())
	for i := range a.parity {
		a.parity[i] = make([]byte, a.l)
	}
}

func (a *BlockAssembler) reset() {
	a.collected = 0
	a.nextParity = 0
	a.generation++
}

// FeedSource buffers one outgoing source packet (spec.md §4.3). Shorter
// payloads are zero-padded to the shard length; a payload longer than the
// negotiated shard length is truncated to it (the transport is expected
// never to exceed L, but truncating keeps FeedSource infallible rather
// than returning an error for a transport bug it cannot otherwise act on).
func (a *BlockAssembler) FeedSource(pkt SourcePacket) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.collected == 0 {
		a.baseSeq = pkt.Seq
		a.timestamp = pkt.Timestamp
		if a.timer != nil {
			gen := a.generation
			a.timer.Schedule(time.Now().Add(a.timeout), gen, func(g uint64) { a.onFlushDeadline(g) })
		}
	}

	padShard(a.data[a.collected], pkt.Payload)
	a.collected++

	if a.collected == a.codec.K() {
		a.encodeLocked()
	}
}

// onFlushDeadline force-completes a stalled block: positions never fed this
// round are zeroed (data buffers are reused across blocks and may still
// hold a previous block's payload bytes), collected is rounded up to k, and
// parity is computed over the resulting (partially synthetic) block. It
// no-ops if the block already completed or reset since the deadline was
// scheduled.
func (a *BlockAssembler) onFlushDeadline(generation uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if generation != a.generation || a.collected == 0 || a.collected == a.codec.K() {
		return
	}
	for i := a.collected; i < a.codec.K(); i++ {
		clear(a.data[i])
	}
	a.collected = a.codec.K()
	a.encodeLocked()
}

func (a *BlockAssembler) encodeLocked() {
	// Encode never fails for a correctly constructed codec and
	// equal-length shards, both guaranteed by allocate(); an error here
	// would indicate a programmer error, not a runtime condition to
	// recover from.
	if err := a.codec.Encode(a.data, a.parity); err != nil {
		panic(err)
	}
	a.nextParity = 0
}

// PackControl supplies the next parity packet, if one is ready. It
// returns false when there is nothing to send: either the block hasn't
// reached k source shards yet, or every parity shard for the current
// block has already been emitted (in which case the block resets to
// accept a new group of source packets). PackControl never transmits; it
// only hands the transport the bytes to send next time it polls.
func (a *BlockAssembler) PackControl(out *ControlPacket) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.collected < a.codec.K() || a.nextParity == a.codec.M() {
		if a.nextParity == a.codec.M() && a.collected == a.codec.K() {
			a.reset()
		}
		return false
	}

	need := HeaderSize + a.l
	if cap(out.Buffer) < need {
		out.Buffer = make([]byte, need)
	}
	out.Buffer = out.Buffer[:need]
	WriteHeader(out.Buffer, a.baseSeq, a.nextParity, a.codec.K())
	copy(out.Buffer[HeaderSize:], a.parity[a.nextParity])
	out.Length = need

	a.nextParity++
	return true
}
