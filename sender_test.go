package rsfec

import (
	"bytes"
	"testing"
	"time"
)

func TestBlockAssemblerEmitsParityAfterK(t *testing.T) {
	codec, err := NewCodec(3, 2)
	if err != nil {
		t.Fatal(err)
	}
	a := NewBlockAssembler(codec, 8, 0)
	defer a.Close()

	var ctrl ControlPacket
	if a.PackControl(&ctrl) {
		t.Fatal("PackControl should have nothing before k source packets arrive")
	}

	for i := 0; i < 3; i++ {
		a.FeedSource(SourcePacket{Seq: int32(10 + i), Timestamp: 1, Payload: []byte{byte(i + 1)}})
	}

	got := 0
	for a.PackControl(&ctrl) {
		if ctrl.Length != HeaderSize+8 {
			t.Fatalf("parity packet length = %d, want %d", ctrl.Length, HeaderSize+8)
		}
		if !IsParityPacket(ctrl.Buffer[:ctrl.Length]) {
			t.Fatal("packed control buffer should be recognized as parity")
		}
		hdr := ParseHeader(ctrl.Buffer[:ctrl.Length])
		if int(hdr.ParityIndex) != got {
			t.Errorf("ParityIndex = %d, want %d", hdr.ParityIndex, got)
		}
		if int(hdr.K) != 3 {
			t.Errorf("K in header = %d, want 3", hdr.K)
		}
		got++
	}
	if got != 2 {
		t.Fatalf("expected 2 parity packets, got %d", got)
	}

	// Block should have reset, ready to accept a fresh group.
	if a.PackControl(&ctrl) {
		t.Fatal("PackControl should have nothing right after a block resets")
	}
}

func TestBlockAssemblerFlushTimeout(t *testing.T) {
	codec, err := NewCodec(4, 1)
	if err != nil {
		t.Fatal(err)
	}
	a := NewBlockAssembler(codec, 4, 30*time.Millisecond)
	defer a.Close()

	a.FeedSource(SourcePacket{Seq: 0, Timestamp: 1, Payload: []byte{9, 9, 9, 9}})

	deadline := time.Now().Add(2 * time.Second)
	var ctrl ControlPacket
	for time.Now().Before(deadline) {
		if a.PackControl(&ctrl) {
			return // flush happened: success
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("block never flushed after timeout elapsed")
}

// TestBlockAssemblerFlushTimeoutZeroesStaleData guards against a reused
// a.data buffer leaking a previous block's payload bytes into the
// zero-padded remainder of a block that times out instead of filling.
func TestBlockAssemblerFlushTimeoutZeroesStaleData(t *testing.T) {
	codec, err := NewCodec(2, 1)
	if err != nil {
		t.Fatal(err)
	}
	a := NewBlockAssembler(codec, 4, 30*time.Millisecond)
	defer a.Close()

	// Fill and drain a full block so both data slots hold nonzero bytes.
	a.FeedSource(SourcePacket{Seq: 0, Timestamp: 1, Payload: []byte{1, 1, 1, 1}})
	a.FeedSource(SourcePacket{Seq: 1, Timestamp: 1, Payload: []byte{2, 2, 2, 2}})
	var ctrl ControlPacket
	for a.PackControl(&ctrl) {
	}

	// Second block only ever fills slot 0; slot 1 must end up zeroed, not
	// left over from the previous block, once the flush deadline fires.
	a.FeedSource(SourcePacket{Seq: 2, Timestamp: 1, Payload: []byte{9, 9, 9, 9}})

	deadline := time.Now().Add(2 * time.Second)
	flushed := false
	for time.Now().Before(deadline) {
		if a.PackControl(&ctrl) {
			flushed = true
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if !flushed {
		t.Fatal("block never flushed after timeout elapsed")
	}
	if !bytes.Equal(a.data[1], []byte{0, 0, 0, 0}) {
		t.Errorf("stale data leaked into zero-padded remainder: a.data[1] = %v, want all zero", a.data[1])
	}
}

func TestBlockAssemblerPadsShortPayload(t *testing.T) {
	codec, err := NewCodec(2, 1)
	if err != nil {
		t.Fatal(err)
	}
	a := NewBlockAssembler(codec, 4, 0)
	defer a.Close()

	a.FeedSource(SourcePacket{Seq: 0, Timestamp: 1, Payload: []byte{1}})
	if !bytes.Equal(a.data[0], []byte{1, 0, 0, 0}) {
		t.Errorf("shard not zero-padded: %v", a.data[0])
	}
}
