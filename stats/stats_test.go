package stats

import "testing"

func TestStatsCopyIsIndependentSnapshot(t *testing.T) {
	s := New()
	s.BlocksComplete = 3
	s.ShardsRecovered = 7

	snap := s.Copy()
	s.BlocksComplete = 99

	if snap.BlocksComplete != 3 {
		t.Errorf("snapshot mutated by later writes: got %d, want 3", snap.BlocksComplete)
	}
	if snap.ShardsRecovered != 7 {
		t.Errorf("ShardsRecovered = %d, want 7", snap.ShardsRecovered)
	}
}

func TestStatsReset(t *testing.T) {
	s := New()
	s.BlocksComplete = 1
	s.DecodeErrors = 2
	s.UnrecoverableLoss = 3

	s.Reset()

	snap := s.Copy()
	if snap.BlocksComplete != 0 || snap.DecodeErrors != 0 || snap.UnrecoverableLoss != 0 {
		t.Errorf("Reset left nonzero counters: %+v", snap)
	}
}

func TestStatsHeaderAndToSliceAgree(t *testing.T) {
	s := New()
	if len(s.Header()) != len(s.ToSlice()) {
		t.Fatalf("Header() has %d columns, ToSlice() has %d", len(s.Header()), len(s.ToSlice()))
	}
}
