package rsfec

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"rsfec/stats"
)

// Default receive-side bounds (spec.md §3): MAX_GROUPS entries, 5s TTL.
// MAX_AGE (the packet-distance window referenced in spec.md §4.4 step 3)
// is derived as MaxGroups*n, wide enough to hold every tracked block's
// span without ever needing to shrink the window below what MaxGroups
// already bounds -- this is the spec.md §9 open question about MAX_AGE's
// exact value, resolved here rather than left as a separate knob.
const (
	DefaultMaxGroups = 64
	DefaultTTL       = 5 * time.Second
)

// InboundPacket is what the transport hands to Receive, matching spec.md
// §6's single receive(pkt) entry point: exactly one of Source or Control
// is set. Source carries a transport-parsed source data packet; Control
// carries the raw bytes of a control packet for wire-framing
// classification (spec.md §4.5).
type InboundPacket struct {
	Source  *SourcePacket
	Control []byte
}

type rcvBlock struct {
	base       int32
	haveData   []bool
	haveParity []bool
	data       [][]byte
	parity     [][]byte
	haveCount  int
	timestamp  uint32
	createdAt  time.Time
	done       bool
}

// BlockTracker is the receive-side block assembler and decoder (spec.md
// §3, §4.4). One instance tracks every in-flight block for one connection
// endpoint; its map is protected by a single mutex per spec.md §5.
type BlockTracker struct {
	mu sync.Mutex

	codec *Codec
	l     int

	maxGroups int
	ttl       time.Duration
	maxAge    int32

	rcvBase int32
	rcvInit bool
	blocks  map[int32]*rcvBlock

	queue *ProvidedQueue
	stats *stats.Stats
	log   *logrus.Logger
}

// NewBlockTracker builds a receiver for the given codec and shard length.
// queue receives rebuilt packets; st accumulates instrumentation; log may
// be nil, in which case logrus.StandardLogger() is used.
func NewBlockTracker(codec *Codec, shardLen int, queue *ProvidedQueue, st *stats.Stats, log *logrus.Logger) *BlockTracker {
	if log == nil {
		log = logrus.StandardLogger()
	}
	n := int32(codec.N())
	return &BlockTracker{
		codec:     codec,
		l:         shardLen,
		maxGroups: DefaultMaxGroups,
		ttl:       DefaultTTL,
		maxAge:    n * DefaultMaxGroups,
		blocks:    make(map[int32]*rcvBlock),
		queue:     queue,
		stats:     st,
		log:       log,
	}
}

// SetBounds overrides the default MAX_GROUPS/TTL bounds.
func (t *BlockTracker) SetBounds(maxGroups int, ttl time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.maxGroups = maxGroups
	t.ttl = ttl
	t.maxAge = int32(t.codec.N()) * int32(maxGroups)
}

// Receive processes one inbound packet and reports whether the transport
// should still deliver it to the application (spec.md §4.4 step 7): true
// for every source data packet, false for anything FEC consumed (parity,
// malformed headers, out-of-window parity).
func (t *BlockTracker) Receive(in InboundPacket) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if in.Control != nil {
		return t.receiveControl(in.Control)
	}
	return t.receiveSource(in.Source)
}

func (t *BlockTracker) receiveControl(buf []byte) bool {
	if !IsParityPacket(buf) {
		return true // some other control packet; not this filter's business
	}
	if len(buf) < HeaderSize {
		atomic.AddUint64(&t.stats.PacketsMalformedHeader, 1)
		return false
	}
	hdr := ParseHeader(buf)
	if int(hdr.K) != t.codec.K() {
		atomic.AddUint64(&t.stats.PacketsMalformedHeader, 1)
		return false
	}

	now := time.Now()
	refSeq := t.referenceSeq(int32(hdr.BlockID))
	base := t.resolveParityBase(hdr.BlockID, refSeq)

	t.gc(refSeq, now)

	if t.rcvInit && seqLess(base, t.rcvBase) {
		atomic.AddUint64(&t.stats.PacketsOutOfWindow, 1)
		return false
	}

	blk := t.getOrCreate(base, now)
	defer t.enforceMaxGroups()
	if blk.done {
		return false
	}

	idx := t.codec.K() + int(hdr.ParityIndex)
	if int(hdr.ParityIndex) >= t.codec.M() {
		atomic.AddUint64(&t.stats.PacketsMalformedHeader, 1)
		return false
	}
	if !blk.haveParity[idx-t.codec.K()] {
		blk.haveParity[idx-t.codec.K()] = true
		shard := make([]byte, t.l)
		copy(shard, buf[HeaderSize:])
		blk.parity[idx-t.codec.K()] = shard
		blk.haveCount++
		atomic.AddUint64(&t.stats.ParityReceived, 1)
	}

	t.tryDecode(blk)
	return false
}

func (t *BlockTracker) receiveSource(pkt *SourcePacket) bool {
	now := time.Now()
	if !t.rcvInit {
		t.rcvBase = pkt.Seq
		t.rcvInit = true
	}
	if seqLess(pkt.Seq, t.rcvBase) {
		atomic.AddUint64(&t.stats.PacketsOutOfWindow, 1)
		return true
	}

	t.gc(pkt.Seq, now)

	// Only source packets carry sequence numbers, so a block spans k of them.
	k := int32(t.codec.K())
	base := blockBase(pkt.Seq, t.rcvBase, k)
	idx := int(blockIndex(pkt.Seq, base, k))

	blk := t.getOrCreate(base, now)
	defer t.enforceMaxGroups()
	if !blk.done && idx < t.codec.K() && !blk.haveData[idx] {
		blk.haveData[idx] = true
		shard := make([]byte, t.l)
		padShard(shard, pkt.Payload)
		blk.data[idx] = shard
		if blk.haveCount == 0 {
			blk.timestamp = pkt.Timestamp
		}
		blk.haveCount++
		t.tryDecode(blk)
	}
	return true
}

// referenceSeq picks a sequence value to drive GC/windowing decisions for
// a parity packet, whose 16-bit block id alone cannot anchor a GC sweep.
// It reconstructs the most plausible full sequence near rcvBase.
func (t *BlockTracker) referenceSeq(blockID16 int32) int32 {
	if !t.rcvInit {
		return blockID16
	}
	return t.resolveParityBase(uint16(blockID16), t.rcvBase)
}

// resolveParityBase maps a 16-bit block id back to the full-width base
// nearest to ref, resolving the wraparound ambiguity described in
// spec.md §9 (16-bit block ids suffice because TTL/window eviction keeps
// the live window far smaller than 2^16).
func (t *BlockTracker) resolveParityBase(blockID16 uint16, ref int32) int32 {
	low := int32(blockID16)
	high := ref &^ 0xffff
	candidates := [3]int32{high | low, (high - 0x10000) | low, (high + 0x10000) | low}
	best := candidates[0]
	bestDist := abs32(seqDiff(best, ref))
	for _, c := range candidates[1:] {
		if d := abs32(seqDiff(c, ref)); d < bestDist {
			best, bestDist = c, d
		}
	}
	return best
}

func abs32(v int32) int32 {
	if v < 0 {
		return -v
	}
	return v
}

func (t *BlockTracker) getOrCreate(base int32, now time.Time) *rcvBlock {
	blk, ok := t.blocks[base]
	if !ok {
		blk = &rcvBlock{
			base:       base,
			haveData:   make([]bool, t.codec.K()),
			haveParity: make([]bool, t.codec.M()),
			data:       make([][]byte, t.codec.K()),
			parity:     make([][]byte, t.codec.M()),
			createdAt:  now,
		}
		t.blocks[base] = blk
	}
	return blk
}

// tryDecode runs the erasure decoder once have_count>=k and at least one
// source shard is missing, per spec.md §4.4 step 6.
func (t *BlockTracker) tryDecode(blk *rcvBlock) {
	if blk.done || blk.haveCount < t.codec.K() {
		return
	}

	missingData := false
	for _, have := range blk.haveData {
		if !have {
			missingData = true
			break
		}
	}
	if !missingData {
		atomic.AddUint64(&t.stats.BlocksComplete, 1)
		t.finish(blk)
		return
	}

	n := t.codec.N()
	k := t.codec.K()
	erased := make([]int, 0, t.codec.M())
	codeword := make([][]byte, n)
	for i := 0; i < k; i++ {
		if blk.haveData[i] {
			codeword[i] = blk.data[i]
		} else {
			erased = append(erased, i)
		}
	}
	for j := 0; j < t.codec.M(); j++ {
		if blk.haveParity[j] {
			codeword[k+j] = blk.parity[j]
		} else {
			erased = append(erased, k+j)
		}
	}

	if len(erased) > t.codec.M() {
		atomic.AddUint64(&t.stats.UnrecoverableLoss, 1)
		return
	}

	if err := t.codec.Decode(codeword, erased); err != nil {
		atomic.AddUint64(&t.stats.DecodeErrors, 1)
		t.log.WithFields(logrus.Fields{"base": blk.base, "erasures": len(erased)}).
			Warn("rsfec: erasure decode failed despite erasures <= parity shards")
		return
	}

	recovered := 0
	for i := 0; i < k; i++ {
		if !blk.haveData[i] {
			blk.data[i] = codeword[i]
			blk.haveData[i] = true
			t.queue.Push(RebuiltPacket{
				Seq:       blk.base + int32(i),
				Timestamp: blk.timestamp,
				Payload:   codeword[i],
			})
			recovered++
		}
	}
	atomic.AddUint64(&t.stats.ShardsRecovered, uint64(recovered))
	t.finish(blk)
}

// finish marks a fully-resolved block done, per the done-flag invariant in
// spec.md §4.4. The block stays in the table until TTL, window or
// MAX_GROUPS eviction removes it, so the flag keeps duplicate shards from
// re-triggering decode in the meantime.
func (t *BlockTracker) finish(blk *rcvBlock) {
	blk.done = true
}

// gc evicts blocks past TTL or outside the tracked window, and advances
// rcvBase, per spec.md §4.4 step 3. It runs opportunistically on every
// Receive call; there is no background timer (spec.md §5).
func (t *BlockTracker) gc(currentSeq int32, now time.Time) {
	for base, blk := range t.blocks {
		if now.Sub(blk.createdAt) > t.ttl {
			delete(t.blocks, base)
			atomic.AddUint64(&t.stats.BlocksEvictedTTL, 1)
		}
	}

	threshold := currentSeq - t.maxAge
	for base, blk := range t.blocks {
		if seqLess(blk.base, threshold) {
			delete(t.blocks, base)
			atomic.AddUint64(&t.stats.BlocksEvictedWindow, 1)
		}
	}
	if t.rcvInit && seqLess(t.rcvBase, threshold) {
		// advance by whole blocks so rcvBase stays a block origin
		t.rcvBase = blockBase(threshold, t.rcvBase, int32(t.codec.K()))
	}

	t.enforceMaxGroups()
}

// enforceMaxGroups evicts the oldest-base blocks until the table is back
// within MAX_GROUPS. Called both from gc (pre-insertion) and, via defer,
// right after a new block is inserted -- insertion is the only place the
// table can grow past the bound, so trimming must happen on both sides of
// it to uphold spec.md §8 property 7 (never exceed MAX_GROUPS) at every
// observable point, not just between Receive calls.
func (t *BlockTracker) enforceMaxGroups() {
	for len(t.blocks) > t.maxGroups {
		var oldestBase int32
		first := true
		for base := range t.blocks {
			if first || seqLess(base, oldestBase) {
				oldestBase = base
				first = false
			}
		}
		delete(t.blocks, oldestBase)
		atomic.AddUint64(&t.stats.BlocksEvictedWindow, 1)
	}
	atomic.StoreUint64(&t.stats.ActiveBlocks, uint64(len(t.blocks)))

	var oldest int32
	first := true
	for base := range t.blocks {
		if first || seqLess(base, oldest) {
			oldest, first = base, false
		}
	}
	atomic.StoreUint64(&t.stats.OldestTrackedBase, uint64(uint32(oldest)))
}
