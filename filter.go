package rsfec

import (
	"github.com/sirupsen/logrus"

	"rsfec/config"
	"rsfec/stats"
)

// ArqLevel is the retransmission policy a Filter declares to its owning
// transport (spec.md §4.6, §6).
type ArqLevel int

const (
	// AtMostOnRequest tells the transport to suppress automatic
	// retransmission of a sequence until the application asks for it,
	// giving FEC a chance to rebuild the loss first.
	AtMostOnRequest ArqLevel = iota
)

// Filter is the small capability interface spec.md §9 calls for ("model
// this as a tagged variant or a small capability interface"): the
// transport drives FEC entirely through these five methods, and could
// swap in a different filter implementation behind the same interface.
type Filter interface {
	FeedSource(pkt SourcePacket)
	PackControl(out *ControlPacket) bool
	Receive(in InboundPacket) bool
	ArqLevel() ArqLevel
	ExtraSize() int
}

// RSFilter is the Reed-Solomon implementation of Filter (spec.md §4.6):
// one BlockAssembler for the send side, one BlockTracker for the receive
// side, sharing a single Codec and Stats instance.
type RSFilter struct {
	codec     *Codec
	assembler *BlockAssembler
	tracker   *BlockTracker
	stats     *stats.Stats
}

// New parses cfg (spec.md §6), builds the GF tables and RS codec, and
// allocates both block states. It fails with a *ConfigError if k/m are
// out of range or their sum exceeds 255 (scenario S6). shardLen is the
// negotiated maximum source payload length L; queue receives rebuilt
// packets; log may be nil.
func New(cfg config.Config, shardLen int, queue *ProvidedQueue, log *logrus.Logger) (*RSFilter, error) {
	if cfg.K <= 0 || cfg.K > 255 {
		return nil, newConfigError("k must be in 1..255, got %d", cfg.K)
	}
	if cfg.M <= 0 || cfg.M > 255 {
		return nil, newConfigError("m must be in 1..255, got %d", cfg.M)
	}
	if cfg.K+cfg.M > 255 {
		return nil, newConfigError("k+m must not exceed 255, got %d", cfg.K+cfg.M)
	}
	if shardLen <= 0 {
		return nil, newConfigError("shard length must be positive, got %d", shardLen)
	}

	codec, err := NewCodec(cfg.K, cfg.M)
	if err != nil {
		return nil, newConfigError("%s", err)
	}

	st := stats.New()
	f := &RSFilter{
		codec:     codec,
		assembler: NewBlockAssembler(codec, shardLen, cfg.Timeout),
		tracker:   NewBlockTracker(codec, shardLen, queue, st, log),
		stats:     st,
	}
	return f, nil
}

// Close releases the filter's send-side flush timer, if any.
func (f *RSFilter) Close() {
	f.assembler.Close()
}

// FeedSource buffers one outgoing source packet (spec.md §4.3).
func (f *RSFilter) FeedSource(pkt SourcePacket) {
	f.assembler.FeedSource(pkt)
}

// PackControl supplies the next ready parity packet, if any (spec.md §4.3).
func (f *RSFilter) PackControl(out *ControlPacket) bool {
	return f.assembler.PackControl(out)
}

// Receive processes one inbound packet (spec.md §4.4).
func (f *RSFilter) Receive(in InboundPacket) bool {
	return f.tracker.Receive(in)
}

// ArqLevel reports AtMostOnRequest, per spec.md §4.6.
func (f *RSFilter) ArqLevel() ArqLevel { return AtMostOnRequest }

// ExtraSize reports the bytes the transport must reserve in control
// packets for the FEC header (spec.md §4.6): always HeaderSize.
func (f *RSFilter) ExtraSize() int { return HeaderSize }

// Stats returns the filter's instrumentation counters.
func (f *RSFilter) Stats() *stats.Stats { return f.stats }

var _ Filter = (*RSFilter)(nil)
