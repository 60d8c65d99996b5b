package rsfec

import (
	"bytes"
	"testing"

	"rsfec/config"
)

func newTestFilter(t *testing.T, k, m, l int) (*RSFilter, *ProvidedQueue) {
	t.Helper()
	q := NewProvidedQueue(0)
	f, err := New(config.Config{K: k, M: m}, l, q, nil)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	t.Cleanup(f.Close)
	return f, q
}

// drainParity pulls every ready parity ControlPacket off f, returning
// copies of the raw bytes in emission order.
func drainParity(f *RSFilter) [][]byte {
	var out [][]byte
	var ctrl ControlPacket
	for f.PackControl(&ctrl) {
		out = append(out, append([]byte(nil), ctrl.Buffer[:ctrl.Length]...))
	}
	return out
}

func sourcePayload(k, l int, isn int32, idx int) []byte {
	return bytes.Repeat([]byte{byte(idx + 1)}, l)
}

// TestScenarioS1SingleLossRecovery is spec.md §8 scenario S1.
func TestScenarioS1SingleLossRecovery(t *testing.T) {
	const k, m, l = 4, 2, 1316
	const isn = int32(1000)

	sender, _ := newTestFilter(t, k, m, l)
	for i := 0; i < k; i++ {
		sender.FeedSource(SourcePacket{Seq: isn + int32(i), Timestamp: 42, Payload: sourcePayload(k, l, isn, i)})
	}
	parity := drainParity(sender)
	if len(parity) != m {
		t.Fatalf("sender produced %d parity packets, want %d", len(parity), m)
	}

	receiver, queue := newTestFilter(t, k, m, l)
	for _, idx := range []int{0, 1, 3} {
		pt := receiver.Receive(InboundPacket{Source: &SourcePacket{
			Seq: isn + int32(idx), Timestamp: 42, Payload: sourcePayload(k, l, isn, idx),
		}})
		if !pt {
			t.Errorf("source packet %d should pass through", idx)
		}
	}
	for _, p := range parity {
		if receiver.Receive(InboundPacket{Control: p}) {
			t.Error("parity packet must not pass through")
		}
	}

	pkt, ok := queue.Pop()
	if !ok {
		t.Fatal("expected exactly one rebuilt packet")
	}
	if pkt.Seq != isn+2 {
		t.Errorf("rebuilt Seq = %d, want %d", pkt.Seq, isn+2)
	}
	if len(pkt.Payload) != l {
		t.Errorf("rebuilt payload length = %d, want %d", len(pkt.Payload), l)
	}
	want := bytes.Repeat([]byte{0x03}, l)
	if !bytes.Equal(pkt.Payload, want) {
		t.Error("rebuilt payload does not match expected 0x03 fill")
	}
	if _, ok := queue.Pop(); ok {
		t.Error("expected exactly one rebuilt packet total")
	}
}

// TestScenarioS2DoubleLossRecovery is spec.md §8 scenario S2.
func TestScenarioS2DoubleLossRecovery(t *testing.T) {
	const k, m, l = 4, 2, 64
	const isn = int32(0)

	sender, _ := newTestFilter(t, k, m, l)
	for i := 0; i < k; i++ {
		sender.FeedSource(SourcePacket{Seq: isn + int32(i), Timestamp: 7, Payload: sourcePayload(k, l, isn, i)})
	}
	parity := drainParity(sender)

	receiver, queue := newTestFilter(t, k, m, l)
	for _, idx := range []int{0, 2} {
		receiver.Receive(InboundPacket{Source: &SourcePacket{Seq: isn + int32(idx), Timestamp: 7, Payload: sourcePayload(k, l, isn, idx)}})
	}
	for _, p := range parity {
		receiver.Receive(InboundPacket{Control: p})
	}

	seen := map[int32][]byte{}
	for {
		pkt, ok := queue.Pop()
		if !ok {
			break
		}
		seen[pkt.Seq] = pkt.Payload
	}
	if len(seen) != 2 {
		t.Fatalf("expected 2 rebuilt packets, got %d", len(seen))
	}
	for _, idx := range []int32{1, 3} {
		payload, ok := seen[isn+idx]
		if !ok {
			t.Fatalf("missing rebuilt packet for seq %d", isn+idx)
		}
		if !bytes.Equal(payload, sourcePayload(k, l, isn, int(idx))) {
			t.Errorf("rebuilt payload mismatch at seq %d", isn+idx)
		}
	}
}

// TestScenarioS3UnorderedDoubleLoss is spec.md §8 scenario S3: same loss
// pattern as S2, but parity arrives before some surviving data.
func TestScenarioS3UnorderedDoubleLoss(t *testing.T) {
	const k, m, l = 4, 2, 64
	const isn = int32(0)

	sender, _ := newTestFilter(t, k, m, l)
	for i := 0; i < k; i++ {
		sender.FeedSource(SourcePacket{Seq: isn + int32(i), Timestamp: 7, Payload: sourcePayload(k, l, isn, i)})
	}
	parity := drainParity(sender)

	receiver, queue := newTestFilter(t, k, m, l)
	receiver.Receive(InboundPacket{Source: &SourcePacket{Seq: isn + 0, Timestamp: 7, Payload: sourcePayload(k, l, isn, 0)}})
	receiver.Receive(InboundPacket{Control: parity[0]})
	receiver.Receive(InboundPacket{Control: parity[1]})
	receiver.Receive(InboundPacket{Source: &SourcePacket{Seq: isn + 2, Timestamp: 7, Payload: sourcePayload(k, l, isn, 2)}})

	seen := map[int32]bool{}
	for {
		pkt, ok := queue.Pop()
		if !ok {
			break
		}
		seen[pkt.Seq] = true
	}
	if len(seen) != 2 || !seen[isn+1] || !seen[isn+3] {
		t.Fatalf("expected rebuilt packets at seq %d and %d, got %v", isn+1, isn+3, seen)
	}
}

// TestScenarioS4OverCapacity is spec.md §8 scenario S4.
func TestScenarioS4OverCapacity(t *testing.T) {
	const k, m, l = 4, 2, 32
	const isn = int32(0)

	sender, _ := newTestFilter(t, k, m, l)
	for i := 0; i < k; i++ {
		sender.FeedSource(SourcePacket{Seq: isn + int32(i), Timestamp: 1, Payload: sourcePayload(k, l, isn, i)})
	}
	parity := drainParity(sender)

	receiver, queue := newTestFilter(t, k, m, l)
	receiver.Receive(InboundPacket{Source: &SourcePacket{Seq: isn + 3, Timestamp: 1, Payload: sourcePayload(k, l, isn, 3)}})
	for _, p := range parity {
		receiver.Receive(InboundPacket{Control: p})
	}

	if _, ok := queue.Pop(); ok {
		t.Error("expected zero rebuilt packets when 3 of 4 source shards are missing with only 2 parity")
	}
}

// TestScenarioS5TwoInterleavedBlocks is spec.md §8 scenario S5.
func TestScenarioS5TwoInterleavedBlocks(t *testing.T) {
	const k, m, l = 4, 2, 32
	const isn = int32(0)
	const n = k + m

	sender, _ := newTestFilter(t, k, m, l)
	var parity [][]byte
	for i := 0; i < 2*k; i++ {
		sender.FeedSource(SourcePacket{Seq: isn + int32(i), Timestamp: 1, Payload: sourcePayload(k, l, isn, i%k)})
		parity = append(parity, drainParity(sender)...)
	}
	if len(parity) != 2*m {
		t.Fatalf("expected %d parity packets across two blocks, got %d", 2*m, len(parity))
	}

	receiver, queue := newTestFilter(t, k, m, l)
	drop := map[int]bool{1: true, 5: true}
	var order []InboundPacket
	for i := 0; i < 2*k; i++ {
		if drop[i] {
			continue
		}
		order = append(order, InboundPacket{Source: &SourcePacket{Seq: isn + int32(i), Timestamp: 1, Payload: sourcePayload(k, l, isn, i%k)}})
	}
	for _, p := range parity {
		order = append(order, InboundPacket{Control: p})
	}
	// shuffle deterministically: interleave source and control entries
	shuffled := make([]InboundPacket, 0, len(order))
	for i, j := 0, len(order)-1; i <= j; i, j = i+1, j-1 {
		shuffled = append(shuffled, order[i])
		if i != j {
			shuffled = append(shuffled, order[j])
		}
	}
	for _, in := range shuffled {
		receiver.Receive(in)
	}

	_ = n
	seen := map[int32]bool{}
	for {
		pkt, ok := queue.Pop()
		if !ok {
			break
		}
		seen[pkt.Seq] = true
	}
	if len(seen) != 2 || !seen[isn+1] || !seen[isn+5] {
		t.Fatalf("expected rebuilt packets at seq %d and %d, got %v", isn+1, isn+5, seen)
	}
}

func TestFilterDeclaresArqAndExtraSize(t *testing.T) {
	f, _ := newTestFilter(t, 4, 2, 64)
	if f.ArqLevel() != AtMostOnRequest {
		t.Errorf("ArqLevel() = %v, want AtMostOnRequest", f.ArqLevel())
	}
	if f.ExtraSize() != HeaderSize {
		t.Errorf("ExtraSize() = %d, want %d", f.ExtraSize(), HeaderSize)
	}
}

// TestScenarioS6ConfigRejection is spec.md §8 scenario S6.
func TestScenarioS6ConfigRejection(t *testing.T) {
	_, err := New(config.Config{K: 200, M: 100}, 64, NewProvidedQueue(0), nil)
	if err == nil {
		t.Fatal("expected ConfigError for k+m > 255")
	}
	if _, ok := err.(*ConfigError); !ok {
		t.Fatalf("expected *ConfigError, got %T: %v", err, err)
	}
}
