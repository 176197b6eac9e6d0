package bitvec

import "testing"

func TestBitVectorSetClearTest(t *testing.T) {
	v := New(8)
	if v.Test(3) {
		t.Fatalf("expected bit 3 clear initially")
	}

	v.Set(3)
	if !v.Test(3) {
		t.Fatalf("expected bit 3 set after Set")
	}

	v.Clear(3)
	if v.Test(3) {
		t.Fatalf("expected bit 3 clear after Clear")
	}
}

func TestBitVectorAllOnes(t *testing.T) {
	v := New(4)
	for i := uint(0); i < 3; i++ {
		v.Set(i)
	}
	if v.AllOnes(4) {
		t.Fatalf("expected AllOnes false with one bit still clear")
	}

	v.Set(3)
	if !v.AllOnes(4) {
		t.Fatalf("expected AllOnes true once every bit is set")
	}
}

func TestSelectRandomClearInExcludesBothVectors(t *testing.T) {
	has := New(5)
	inRequest := New(5)

	has.Set(0)
	has.Set(1)
	inRequest.Set(2)
	inRequest.Set(3)

	for i := 0; i < 50; i++ {
		got := SelectRandomClearIn(has, inRequest, 5)
		if got != 4 {
			t.Fatalf("expected the only eligible index to be 4, got %d", got)
		}
	}
}

func TestSelectRandomClearInReturnsMinusOneWhenNoneEligible(t *testing.T) {
	has := New(3)
	inRequest := New(3)

	has.Set(0)
	inRequest.Set(1)
	inRequest.Set(2)

	if got := SelectRandomClearIn(has, inRequest, 3); got != -1 {
		t.Fatalf("expected -1 when no index is eligible, got %d", got)
	}
}

func TestSelectRandomClearInCoversAllEligibleIndices(t *testing.T) {
	has := New(10)
	inRequest := New(10)

	seen := make(map[int]bool)
	for i := 0; i < 500; i++ {
		got := SelectRandomClearIn(has, inRequest, 10)
		if got < 0 {
			t.Fatalf("expected an eligible index, got %d", got)
		}
		seen[got] = true
	}

	if len(seen) != 10 {
		t.Fatalf("expected all 10 indices to eventually be selected, saw %d distinct", len(seen))
	}
}
