// Package stats holds the atomic instrumentation counters for the rsfec
// filter, adapted from the teacher's package-wide Snmp struct
// (safe-udp/snmp.go): one flat struct of uint64 counters, all accessed via
// sync/atomic, with a Copy/Reset pair for safe snapshotting by monitoring
// code.
package stats

import (
	"fmt"
	"sync/atomic"
)

// Stats holds the Forward Error Correction counters for one Filter
// instance. Unlike the teacher's single process-wide DefaultSnmp, rsfec
// gives every Filter its own Stats so multiple connections never share
// counters.
type Stats struct {
	// BlocksComplete counts receive-side blocks where every source shard
	// arrived directly, so no RS decode was needed.
	BlocksComplete uint64
	// ShardsRecovered counts source shards rebuilt by the RS decoder.
	ShardsRecovered uint64
	// DecodeErrors counts DecodeFailure events (spec.md §7): an erasure
	// decode attempted with e<=m that still failed.
	DecodeErrors uint64
	// ParityReceived counts parity shards accepted into a block.
	ParityReceived uint64
	// ActiveBlocks is the current size of the receive-side block table.
	ActiveBlocks uint64
	// OldestTrackedBase is the lowest base sequence still tracked, stored
	// as its uint32 bit pattern; zero while the table is empty.
	OldestTrackedBase uint64
	// BlocksEvictedTTL counts blocks removed because they exceeded TTL.
	BlocksEvictedTTL uint64
	// BlocksEvictedWindow counts blocks removed because a newer block
	// arrived outside the tracked window (spec.md §4.4 step 3).
	BlocksEvictedWindow uint64
	// PacketsOutOfWindow counts packets rejected as OutOfWindow (spec.md §7).
	PacketsOutOfWindow uint64
	// PacketsMalformedHeader counts packets dropped as MalformedParityHeader.
	PacketsMalformedHeader uint64
	// UnrecoverableLoss counts blocks that reached have_count>=k but had
	// more than m erasures, so decode was not attempted.
	UnrecoverableLoss uint64
}

// New returns a zeroed Stats.
func New() *Stats { return &Stats{} }

func (s *Stats) Header() []string {
	return []string{
		"BlocksComplete",
		"ShardsRecovered",
		"DecodeErrors",
		"ParityReceived",
		"ActiveBlocks",
		"OldestTrackedBase",
		"BlocksEvictedTTL",
		"BlocksEvictedWindow",
		"PacketsOutOfWindow",
		"PacketsMalformedHeader",
		"UnrecoverableLoss",
	}
}

// ToSlice renders a thread-safe snapshot as strings, in Header() order.
func (s *Stats) ToSlice() []string {
	c := s.Copy()
	return []string{
		fmt.Sprint(c.BlocksComplete),
		fmt.Sprint(c.ShardsRecovered),
		fmt.Sprint(c.DecodeErrors),
		fmt.Sprint(c.ParityReceived),
		fmt.Sprint(c.ActiveBlocks),
		fmt.Sprint(c.OldestTrackedBase),
		fmt.Sprint(c.BlocksEvictedTTL),
		fmt.Sprint(c.BlocksEvictedWindow),
		fmt.Sprint(c.PacketsOutOfWindow),
		fmt.Sprint(c.PacketsMalformedHeader),
		fmt.Sprint(c.UnrecoverableLoss),
	}
}

// Copy returns a thread-safe snapshot of all counters.
func (s *Stats) Copy() *Stats {
	d := New()
	d.BlocksComplete = atomic.LoadUint64(&s.BlocksComplete)
	d.ShardsRecovered = atomic.LoadUint64(&s.ShardsRecovered)
	d.DecodeErrors = atomic.LoadUint64(&s.DecodeErrors)
	d.ParityReceived = atomic.LoadUint64(&s.ParityReceived)
	d.ActiveBlocks = atomic.LoadUint64(&s.ActiveBlocks)
	d.OldestTrackedBase = atomic.LoadUint64(&s.OldestTrackedBase)
	d.BlocksEvictedTTL = atomic.LoadUint64(&s.BlocksEvictedTTL)
	d.BlocksEvictedWindow = atomic.LoadUint64(&s.BlocksEvictedWindow)
	d.PacketsOutOfWindow = atomic.LoadUint64(&s.PacketsOutOfWindow)
	d.PacketsMalformedHeader = atomic.LoadUint64(&s.PacketsMalformedHeader)
	d.UnrecoverableLoss = atomic.LoadUint64(&s.UnrecoverableLoss)
	return d
}

// Reset atomically zeroes every counter.
func (s *Stats) Reset() {
	atomic.StoreUint64(&s.BlocksComplete, 0)
	atomic.StoreUint64(&s.ShardsRecovered, 0)
	atomic.StoreUint64(&s.DecodeErrors, 0)
	atomic.StoreUint64(&s.ParityReceived, 0)
	atomic.StoreUint64(&s.ActiveBlocks, 0)
	atomic.StoreUint64(&s.OldestTrackedBase, 0)
	atomic.StoreUint64(&s.BlocksEvictedTTL, 0)
	atomic.StoreUint64(&s.BlocksEvictedWindow, 0)
	atomic.StoreUint64(&s.PacketsOutOfWindow, 0)
	atomic.StoreUint64(&s.PacketsMalformedHeader, 0)
	atomic.StoreUint64(&s.UnrecoverableLoss, 0)
}
